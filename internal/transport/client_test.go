package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roleplay-ai/voicecall/internal/call"
	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
	"github.com/roleplay-ai/voicecall/internal/resilience"
	"github.com/roleplay-ai/voicecall/internal/trace"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:     srv.URL + "/",
		AccessToken: "tok-123",
		UploadPath:  "/api/audio/chat",
		Timeout:     time.Second,
		HTTPClient:  &http.Client{Transport: &trace.Transport{Base: srv.Client().Transport}},
	})
}

func TestUploadUtterance(t *testing.T) {
	wav := []byte("RIFF....WAVEfmt ")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/audio/chat" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(AccessTokenHeader); got != "tok-123" {
			t.Errorf("access token = %q", got)
		}
		if r.Header.Get(RequestIDHeader) == "" || r.Header.Get(trace.TraceIDKey) == "" {
			t.Error("missing request or trace id")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		for field, want := range map[string]string{"userId": "7", "inputType": "audio", "conversationId": "42"} {
			if got := r.FormValue(field); got != want {
				t.Errorf("%s = %q, want %q", field, got, want)
			}
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		got, _ := io.ReadAll(f)
		if hdr.Filename != "utterance.wav" || string(got) != string(wav) {
			t.Errorf("file %q = %q", hdr.Filename, got)
		}
		io.WriteString(w, `{"code":0,"message":"ok","data":{"userText":"hi","aiText":"hello","aiAudioUrl":"https://cdn/r.mp3"}}`)
	})

	ref, err := c.UploadUtterance(context.Background(), wav, UploadMeta{ConversationID: "42", UserID: "7"})
	if err != nil {
		t.Fatalf("UploadUtterance: %v", err)
	}
	want := PlaybackRef{URL: "https://cdn/r.mp3", UserText: "hi", AIText: "hello"}
	if ref != want {
		t.Errorf("ref = %+v, want %+v", ref, want)
	}
}

func TestUploadFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   apperrors.Code
	}{
		{"null url", 200, `{"code":0,"message":"ok","data":{"aiAudioUrl":null}}`, apperrors.TransportFailure},
		{"null data", 200, `{"code":0,"message":"ok","data":null}`, apperrors.TransportFailure},
		{"envelope failure", 200, `{"code":500,"message":"tts failed","data":null}`, apperrors.TransportFailure},
		{"server error", 502, `bad gateway`, apperrors.TransportFailure},
		{"not json", 200, `<html>`, apperrors.TransportFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := c.UploadUtterance(context.Background(), []byte("x"), UploadMeta{ConversationID: "1", UserID: "1"})
			if !apperrors.IsCode(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUploadCancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.UploadUtterance(ctx, []byte("x"), UploadMeta{ConversationID: "1"})
	if !apperrors.IsCode(err, apperrors.Cancelled) {
		t.Errorf("err = %v, want Cancelled", err)
	}
	if c.uploads.State() != resilience.Closed {
		t.Error("cancellation counted against the breaker")
	}
}

func TestUploadBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < resilience.DefaultThreshold; i++ {
		_, _ = c.UploadUtterance(context.Background(), []byte("x"), UploadMeta{})
	}
	_, err := c.UploadUtterance(context.Background(), []byte("x"), UploadMeta{})
	if !errors.Is(err, resilience.ErrOpen) || !apperrors.IsCode(err, apperrors.TransportFailure) {
		t.Errorf("err = %v, want open breaker as TransportFailure", err)
	}
	if got := hits.Load(); got != resilience.DefaultThreshold {
		t.Errorf("backend hit %d times, want %d", got, resilience.DefaultThreshold)
	}
}

func TestCallUploader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("conversationId") != "c9" {
			t.Errorf("conversationId = %q", r.FormValue("conversationId"))
		}
		io.WriteString(w, `{"code":0,"data":{"aiAudioUrl":"https://cdn/9.mp3"}}`)
	})

	uri, err := c.CallUploader().UploadUtterance(context.Background(),
		call.Utterance{ID: "u", Audio: []byte("RIFF")}, call.Meta{ConversationID: "c9", UserID: "u9"})
	if err != nil || uri != "https://cdn/9.mp3" {
		t.Errorf("uri=%q err=%v", uri, err)
	}
}

func TestOpenMessageStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/42/messages" || r.URL.Query().Get("userId") != "7" {
			t.Errorf("request = %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["message"] != "hello" {
			t.Errorf("body = %v, %v", body, err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: hi\n\ndata: [DONE]\n")
	})

	s, err := c.OpenMessageStream(context.Background(), MessageRequest{ConversationID: "42", UserID: "7", Message: "hello"})
	if err != nil {
		t.Fatalf("OpenMessageStream: %v", err)
	}
	defer s.Close()

	if !s.EventStream() {
		t.Error("EventStream() = false for text/event-stream")
	}
	data, _ := io.ReadAll(s)
	if !strings.HasPrefix(string(data), "data: hi") {
		t.Errorf("body = %q", data)
	}
}

func TestOpenMessageStreamValidation(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})
	_, err := c.OpenMessageStream(context.Background(), MessageRequest{ConversationID: "1", Message: "   "})
	if !apperrors.IsCode(err, apperrors.InvalidArgument) {
		t.Errorf("err = %v, want InvalidArgument", err)
	}
}

func TestFetchHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/conversations/42/messages" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"code":0,"message":"ok","data":[
			{"id":1,"conversationId":42,"senderType":"user","contentType":"text","textContent":"hi","createdAt":"2025-09-22T16:05:00"},
			{"id":2,"conversationId":42,"senderType":"ai","contentType":"audio","textContent":"hello","audioUrl":"https://cdn/2.mp3","audioDuration":3,"createdAt":"2025-09-22T16:05:03"}
		]}`)
	})

	msgs, err := c.FetchHistory(context.Background(), "42", "7")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(msgs) != 2 || msgs[1].SenderType != "ai" || msgs[1].AudioURL != "https://cdn/2.mp3" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestFetchHistoryMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":0,"data":{"not":"a list"}}`)
	})
	_, err := c.FetchHistory(context.Background(), "42", "7")
	if !apperrors.IsCode(err, apperrors.MalformedPayload) {
		t.Errorf("err = %v, want MalformedPayload", err)
	}
}
