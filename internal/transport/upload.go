package transport

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"

	"github.com/roleplay-ai/voicecall/internal/call"
	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
	"github.com/roleplay-ai/voicecall/internal/resilience"
	"github.com/roleplay-ai/voicecall/internal/trace"
)

// InputTypeAudio tags voice uploads.
const InputTypeAudio = "audio"

// UploadMeta identifies an utterance to the backend.
type UploadMeta struct {
	ConversationID string
	UserID         string
	InputType      string
}

// PlaybackRef is the backend's answer to an utterance.
type PlaybackRef struct {
	URL      string // reply audio
	UserText string // transcription of the utterance
	AIText   string
}

// UploadUtterance posts a WAV utterance and returns where the spoken reply
// can be fetched. A reply without an audio URL is a TransportFailure.
func (c *Client) UploadUtterance(ctx context.Context, wav []byte, meta UploadMeta) (PlaybackRef, error) {
	ctx, span := trace.StartSpan(ctx, "transport.upload")
	defer span.End()
	span.SetAttr("bytes", len(wav))

	ref, err := resilience.ExecuteWithResult(ctx, c.uploads, func(ctx context.Context) (PlaybackRef, error) {
		return c.upload(ctx, wav, meta)
	})
	if err != nil {
		span.SetAttr("error", err.Error())
		return PlaybackRef{}, guard(err, c.uploads)
	}
	trace.Logger(ctx).Debug("utterance uploaded", "reply", ref.URL, "transcript", ref.UserText)
	return ref, nil
}

func (c *Client) upload(ctx context.Context, wav []byte, meta UploadMeta) (PlaybackRef, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if meta.InputType == "" {
		meta.InputType = InputTypeAudio
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return PlaybackRef{}, apperrors.Wrap(err, apperrors.Internal, "build upload form")
	}
	if _, err := part.Write(wav); err != nil {
		return PlaybackRef{}, apperrors.Wrap(err, apperrors.Internal, "build upload form")
	}
	fields := [][2]string{
		{"userId", meta.UserID},
		{"inputType", meta.InputType},
		{"conversationId", meta.ConversationID},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return PlaybackRef{}, apperrors.Wrap(err, apperrors.Internal, "build upload form")
		}
	}
	if err := mw.Close(); err != nil {
		return PlaybackRef{}, apperrors.Wrap(err, apperrors.Internal, "build upload form")
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(c.uploadPath, nil), &body)
	if err != nil {
		return PlaybackRef{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return PlaybackRef{}, err
	}
	env, err := readEnvelope(resp)
	if err != nil {
		return PlaybackRef{}, err
	}

	data := env.Get("data")
	ref := PlaybackRef{
		URL:      data.Get("aiAudioUrl").String(),
		UserText: data.Get("userText").String(),
		AIText:   data.Get("aiText").String(),
	}
	if ref.URL == "" {
		return PlaybackRef{}, apperrors.New(apperrors.TransportFailure, "reply has no audio url")
	}
	return ref, nil
}

// CallUploader adapts the client to a call session.
func (c *Client) CallUploader() call.Uploader {
	return call.UploaderFunc(func(ctx context.Context, u call.Utterance, meta call.Meta) (string, error) {
		ref, err := c.UploadUtterance(ctx, u.Audio, UploadMeta{
			ConversationID: meta.ConversationID,
			UserID:         meta.UserID,
			InputType:      InputTypeAudio,
		})
		if err != nil {
			return "", err
		}
		return ref.URL, nil
	})
}
