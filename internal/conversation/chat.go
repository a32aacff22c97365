// Package conversation runs text chat turns against the roleplay backend and
// keeps the conversation history the UI renders.
package conversation

import (
	"context"
	"io"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"

	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
	"github.com/roleplay-ai/voicecall/internal/stream"
	"github.com/roleplay-ai/voicecall/internal/trace"
	"github.com/roleplay-ai/voicecall/internal/transport"
)

const maxEnvelopeBytes = 1 << 20

// Backend is the part of the transport client a chat needs.
type Backend interface {
	OpenMessageStream(ctx context.Context, req transport.MessageRequest) (*transport.Stream, error)
	FetchHistory(ctx context.Context, conversationID, userID string) ([]transport.Message, error)
}

// Reply is the assembled answer to one chat message.
type Reply struct {
	RequestID string `json:"requestId,omitempty"`
	Text      string `json:"text"`
	Deltas    int    `json:"deltas"`
}

// Chat sends messages for one conversation, one turn at a time.
type Chat struct {
	backend        Backend
	conversationID string
	userID         string
	fields         []string
	history        *History

	busy atomic.Bool
}

// NewChat creates a chat. fields selects the delta text in structured
// payloads; nil uses stream.DefaultFields.
func NewChat(backend Backend, conversationID, userID string, fields []string, history *History) *Chat {
	if history == nil {
		history = NewHistory(0, 0)
	}
	return &Chat{
		backend:        backend,
		conversationID: conversationID,
		userID:         userID,
		fields:         fields,
		history:        history,
	}
}

// History returns the conversation history.
func (c *Chat) History() *History { return c.history }

// Sync reloads the history from the backend.
func (c *Chat) Sync(ctx context.Context) error {
	msgs, err := c.backend.FetchHistory(ctx, c.conversationID, c.userID)
	if err != nil {
		return err
	}
	c.history.Seed(msgs)
	trace.Logger(ctx).Debug("history synced", "conversation_id", c.conversationID, "messages", len(msgs))
	return nil
}

// Send posts message and calls fn with each delta as it arrives. The
// assembled reply is returned and recorded in the history, also when the
// stream ends early with an error. Only one turn runs at a time.
func (c *Chat) Send(ctx context.Context, message string, fn func(stream.Delta)) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, apperrors.New(apperrors.InvalidArgument, "message is empty")
	}
	if !c.busy.CompareAndSwap(false, true) {
		return Reply{}, apperrors.New(apperrors.InvalidArgument, "a reply is still streaming")
	}
	defer c.busy.Store(false)

	ctx, span := trace.StartSpan(ctx, "conversation.send")
	defer span.End()
	log := trace.Logger(ctx)

	s, err := c.backend.OpenMessageStream(ctx, transport.MessageRequest{
		ConversationID: c.conversationID,
		UserID:         c.userID,
		Message:        message,
	})
	if err != nil {
		span.SetAttr("error", err.Error())
		return Reply{}, err
	}
	c.history.Add(Entry{Sender: SenderUser, Text: message})

	reply := Reply{RequestID: s.RequestID}
	var text strings.Builder
	collect := func(d stream.Delta) error {
		text.WriteString(d.Text)
		reply.Deltas++
		if fn != nil {
			fn(d)
		}
		return nil
	}

	if s.EventStream() {
		err = stream.Consume(ctx, s, stream.NewDecoder(c.fields...), collect)
	} else {
		err = readEnvelope(s, collect)
	}
	reply.Text = text.String()
	span.SetAttr("deltas", reply.Deltas)

	if reply.Text != "" {
		c.history.Add(Entry{Sender: SenderAI, Text: reply.Text})
	}
	if err != nil {
		span.SetAttr("error", err.Error())
		log.Warn("reply stream ended early", "error", err, "received", len(reply.Text))
		return reply, err
	}
	return reply, nil
}

// Busy reports whether a turn is streaming.
func (c *Chat) Busy() bool { return c.busy.Load() }

// readEnvelope handles a backend that answers with the whole reply in a
// {code,message,data} envelope instead of an event stream. A body that is
// not JSON is taken as the reply text.
func readEnvelope(body io.ReadCloser, fn func(stream.Delta) error) error {
	defer body.Close()
	raw, err := io.ReadAll(io.LimitReader(body, maxEnvelopeBytes))
	if err != nil {
		return apperrors.Wrap(err, apperrors.TransportFailure, "read reply")
	}
	if !gjson.ValidBytes(raw) {
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return nil
		}
		return fn(stream.Delta{Text: text, Payload: stream.RawText(text)})
	}
	env := gjson.ParseBytes(raw)
	if code := env.Get("code"); code.Exists() && code.Int() != 0 {
		return apperrors.New(apperrors.TransportFailure, env.Get("message").String()).
			WithMetadata("code", code.Raw)
	}
	text := env.Get("data").String()
	if text == "" {
		return nil
	}
	return fn(stream.Delta{Text: text, Payload: stream.RawText(text)})
}
