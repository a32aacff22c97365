// Package transport talks to the roleplay backend: utterance upload, the
// chat message stream and conversation history.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
	"github.com/roleplay-ai/voicecall/internal/resilience"
	"github.com/roleplay-ai/voicecall/internal/trace"
)

const (
	// AccessTokenHeader carries the session token issued by the auth collaborator.
	AccessTokenHeader = "accessToken"
	RequestIDHeader   = "X-Request-ID"

	// successCode is the envelope code for a successful call.
	successCode = 0

	maxEnvelopeBytes = 4 << 20
)

// Config for the backend client.
type Config struct {
	BaseURL     string
	AccessToken string
	UploadPath  string
	Timeout     time.Duration // applies to upload and history, not streams
	HTTPClient  *http.Client
}

// Client calls the roleplay backend. Each operation class has its own
// circuit breaker so a dead upload path does not block text chat.
type Client struct {
	base       string
	token      string
	uploadPath string
	timeout    time.Duration
	http       *http.Client

	uploads *resilience.Breaker
	streams *resilience.Breaker
	reads   *resilience.Breaker
}

// New creates a client. A nil HTTPClient gets a tracing transport.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: &trace.Transport{}}
	}
	path := cfg.UploadPath
	if path == "" {
		path = "/api/audio/chat"
	}
	return &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.AccessToken,
		uploadPath: path,
		timeout:    cfg.Timeout,
		http:       hc,
		uploads:    resilience.New(resilience.DefaultConfig()),
		streams:    resilience.New(resilience.StreamConfig()),
		reads:      resilience.New(resilience.Config{Name: "history"}),
	}
}

// Breakers exposes the breakers for status reporting.
func (c *Client) Breakers() []*resilience.Breaker {
	return []*resilience.Breaker{c.uploads, c.streams, c.reads}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.InvalidArgument, "build request")
	}
	if c.token != "" {
		req.Header.Set(AccessTokenHeader, c.token)
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	return req, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// do sends req and returns the response when the status is 2xx.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); errors.Is(ctxErr, context.Canceled) {
			return nil, apperrors.Wrap(err, apperrors.Cancelled, "request cancelled")
		}
		return nil, apperrors.Wrap(err, apperrors.TransportFailure, "send request").
			WithMetadata("url", req.URL.Path)
	}
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, apperrors.New(apperrors.TransportFailure, fmt.Sprintf("backend returned %s", resp.Status)).
			WithMetadata("url", req.URL.Path).
			WithMetadata("status", fmt.Sprint(resp.StatusCode)).
			WithMetadata("body", strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

// readEnvelope reads a {code,message,data} body and returns it once the code
// reports success.
func readEnvelope(resp *http.Response) (gjson.Result, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return gjson.Result{}, apperrors.Wrap(err, apperrors.TransportFailure, "read response")
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, apperrors.New(apperrors.TransportFailure, "response is not JSON")
	}
	env := gjson.ParseBytes(body)
	if code := env.Get("code"); code.Exists() && code.Int() != successCode {
		return gjson.Result{}, apperrors.New(apperrors.TransportFailure, env.Get("message").String()).
			WithMetadata("code", code.Raw)
	}
	return env, nil
}

// guard maps a refused call to TransportFailure.
func guard(err error, b *resilience.Breaker) error {
	if errors.Is(err, resilience.ErrOpen) {
		return apperrors.Wrap(err, apperrors.TransportFailure, "backend unavailable").
			WithMetadata("breaker", b.Name())
	}
	return err
}
