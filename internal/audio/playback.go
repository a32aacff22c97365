package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
	"github.com/roleplay-ai/voicecall/internal/trace"
)

// maxAudioBytes bounds a downloaded reply.
const maxAudioBytes = 32 << 20

// PlaybackID identifies one Play call. IDs increase monotonically so a
// completion for an interrupted reply can be told apart from the current one.
type PlaybackID uint64

// PlaybackEnd is delivered when playback reaches its natural end or fails.
// Interrupted playback produces no PlaybackEnd.
type PlaybackEnd struct {
	ID  PlaybackID
	Err error
}

// Player owns the single playback handle of a call.
type Player struct {
	backend Backend
	client  *http.Client
	frames  int

	mu      sync.Mutex
	lastID  PlaybackID
	current PlaybackID
	cancel  context.CancelFunc
	ended   chan PlaybackEnd
	wg      sync.WaitGroup
}

// NewPlayer creates a player writing frames-sized buffers to backend.
func NewPlayer(backend Backend, client *http.Client, frames int) *Player {
	if client == nil {
		client = &http.Client{Transport: &trace.Transport{}}
	}
	return &Player{
		backend: backend,
		client:  client,
		frames:  frames,
		ended:   make(chan PlaybackEnd, 1),
	}
}

// Ended delivers completion signals.
func (p *Player) Ended() <-chan PlaybackEnd { return p.ended }

// Play interrupts anything playing and starts uri in the background.
func (p *Player) Play(ctx context.Context, uri string) PlaybackID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.lastID++
	id := p.lastID
	p.current = id

	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		err := p.play(pctx, id, uri)
		if pctx.Err() != nil {
			return
		}
		p.mu.Lock()
		if p.current == id {
			p.current = 0
		}
		p.mu.Unlock()
		select {
		case p.ended <- PlaybackEnd{ID: id, Err: err}:
		case <-pctx.Done():
		}
	}()
	return id
}

// Current returns the ID of the playback in progress, or 0.
func (p *Player) Current() PlaybackID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stop interrupts playback without a completion signal.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.current = 0
}

// Close stops playback and waits for the playback goroutine to exit.
func (p *Player) Close() {
	p.Stop()
	p.wg.Wait()
}

func (p *Player) play(ctx context.Context, id PlaybackID, uri string) error {
	ctx, span := trace.StartSpan(ctx, "audio.play")
	defer span.End()
	span.SetAttr("playback_id", uint64(id))
	log := trace.Logger(ctx)

	data, err := p.fetch(ctx, uri)
	if err != nil {
		return err
	}
	pcm, err := Decode(data)
	if err != nil {
		return err
	}
	span.SetAttr("duration", pcm.Duration().String())

	out, err := p.backend.OpenOutput(pcm.SampleRate, pcm.Channels, p.frames)
	if err != nil {
		return apperrors.Wrap(err, apperrors.PlaybackFailure, "open output device")
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Debug("close output stream", "error", err)
		}
	}()

	step := p.frames * pcm.Channels
	for off := 0; off < len(pcm.Samples); off += step {
		if ctx.Err() != nil {
			log.Debug("playback interrupted", "played", off/pcm.Channels)
			return ctx.Err()
		}
		end := min(off+step, len(pcm.Samples))
		if err := out.Write(pcm.Samples[off:end]); err != nil {
			return apperrors.Wrap(err, apperrors.PlaybackFailure, "write output device")
		}
	}
	log.Debug("playback finished")
	return nil
}

func (p *Player) fetch(ctx context.Context, uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return nil, apperrors.New(apperrors.PlaybackFailure, "unsupported audio uri").WithMetadata("uri", uri)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.PlaybackFailure, "build audio request")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TransportFailure, "fetch audio").WithMetadata("uri", uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, apperrors.New(apperrors.PlaybackFailure, fmt.Sprintf("fetch audio: %s", resp.Status)).
			WithMetadata("uri", uri)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TransportFailure, "read audio").WithMetadata("uri", uri)
	}
	return data, nil
}
