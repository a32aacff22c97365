package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
	"github.com/roleplay-ai/voicecall/internal/resilience"
	"github.com/roleplay-ai/voicecall/internal/trace"
)

// MessageRequest is one user chat message.
type MessageRequest struct {
	ConversationID string
	UserID         string
	Message        string
}

// Stream is an open chat response body.
type Stream struct {
	io.ReadCloser
	ContentType string
	RequestID   string
}

// EventStream reports whether the body is line-framed events rather than a
// single JSON envelope.
func (s *Stream) EventStream() bool {
	return !strings.HasPrefix(s.ContentType, "application/json")
}

// Message is one stored conversation message.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversationId"`
	SenderType     string `json:"senderType"`
	ContentType    string `json:"contentType"`
	TextContent    string `json:"textContent"`
	AudioURL       string `json:"audioUrl,omitempty"`
	AudioDuration  int    `json:"audioDuration,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

// OpenMessageStream posts a chat message and returns the response body for
// the caller to decode. The caller must close it; no timeout is applied
// beyond ctx since replies stream for as long as the model talks.
func (c *Client) OpenMessageStream(ctx context.Context, mr MessageRequest) (*Stream, error) {
	if mr.ConversationID == "" || strings.TrimSpace(mr.Message) == "" {
		return nil, apperrors.New(apperrors.InvalidArgument, "conversation id and message are required")
	}

	s, err := resilience.ExecuteWithResult(ctx, c.streams, func(ctx context.Context) (*Stream, error) {
		payload, err := json.Marshal(map[string]string{"message": mr.Message})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.Internal, "encode message")
		}
		target := c.endpoint("/api/conversations/"+url.PathEscape(mr.ConversationID)+"/messages",
			url.Values{"userId": {mr.UserID}})
		req, err := c.newRequest(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		return &Stream{
			ReadCloser:  resp.Body,
			ContentType: resp.Header.Get("Content-Type"),
			RequestID:   req.Header.Get(RequestIDHeader),
		}, nil
	})
	if err != nil {
		return nil, guard(err, c.streams)
	}
	trace.Logger(ctx).Debug("message stream opened", "request_id", s.RequestID, "content_type", s.ContentType)
	return s, nil
}

// FetchHistory returns the stored messages of a conversation, oldest first.
func (c *Client) FetchHistory(ctx context.Context, conversationID, userID string) ([]Message, error) {
	msgs, err := resilience.ExecuteWithResult(ctx, c.reads, func(ctx context.Context) ([]Message, error) {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()

		target := c.endpoint("/api/conversations/"+url.PathEscape(conversationID)+"/messages",
			url.Values{"userId": {userID}})
		req, err := c.newRequest(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		env, err := readEnvelope(resp)
		if err != nil {
			return nil, err
		}

		var out []Message
		if data := env.Get("data"); data.Exists() && data.Type != gjson.Null {
			if err := json.Unmarshal([]byte(data.Raw), &out); err != nil {
				return nil, apperrors.Wrap(err, apperrors.MalformedPayload, "decode history")
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, guard(err, c.reads)
	}
	return msgs, nil
}
