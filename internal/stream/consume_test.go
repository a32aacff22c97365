package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
)

// chunkedBody returns chunks one Read at a time, then blocks until closed
// if hang is set.
type chunkedBody struct {
	chunks []string
	hang   bool
	err    error

	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

func newChunkedBody(chunks ...string) *chunkedBody {
	return &chunkedBody{chunks: chunks, closed: make(chan struct{})}
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	if len(b.chunks) > 0 {
		n := copy(p, b.chunks[0])
		b.chunks = b.chunks[1:]
		b.mu.Unlock()
		return n, nil
	}
	b.mu.Unlock()

	if b.err != nil {
		return 0, b.err
	}
	if b.hang {
		<-b.closed
		return 0, errors.New("read on closed body")
	}
	return 0, io.EOF
}

func (b *chunkedBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func (b *chunkedBody) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

func collect(ctx context.Context, body io.ReadCloser) ([]string, error) {
	var out []string
	err := Consume(ctx, body, NewDecoder(), func(d Delta) error {
		out = append(out, d.Text)
		return nil
	})
	return out, err
}

func TestConsume(t *testing.T) {
	body := newChunkedBody("data: {\"content\":\"Hel", "lo\"}\ndata: , ", "there\ndata: [DONE]\ndata: ignored\n")
	got, err := collect(context.Background(), body)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if strings.Join(got, "") != "Hello, there" {
		t.Errorf("assembled %q", strings.Join(got, ""))
	}
	if !body.isClosed() {
		t.Error("body not closed")
	}
}

func TestConsumeEOFTail(t *testing.T) {
	got, err := collect(context.Background(), newChunkedBody("data: a\n", "data: b"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("got %q", got)
	}
}

func TestConsumeReadError(t *testing.T) {
	body := newChunkedBody("data: a\n")
	body.err = errors.New("connection reset by peer")

	got, err := collect(context.Background(), body)
	if !apperrors.IsCode(err, apperrors.TransportFailure) {
		t.Errorf("err = %v, want TransportFailure", err)
	}
	if len(got) != 1 {
		t.Errorf("deltas before failure = %q", got)
	}
}

func TestConsumeCancelReleasesBody(t *testing.T) {
	body := newChunkedBody("data: a\n")
	body.hang = true

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := collect(ctx, body)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !apperrors.IsCode(err, apperrors.Cancelled) {
			t.Errorf("err = %v, want Cancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
	if !body.isClosed() {
		t.Error("body not closed on cancel")
	}
}

func TestConsumeCallbackError(t *testing.T) {
	stop := errors.New("stop")
	body := newChunkedBody("data: a\ndata: b\n")
	calls := 0
	err := Consume(context.Background(), body, NewDecoder(), func(Delta) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}
