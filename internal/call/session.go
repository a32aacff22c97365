package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
	"github.com/roleplay-ai/voicecall/internal/syncx"
	"github.com/roleplay-ai/voicecall/internal/trace"
)

// DefaultPollInterval is roughly one display frame.
const DefaultPollInterval = 16 * time.Millisecond

const eventBuffer = 64

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("call session closed")

// Uploader sends an utterance and returns the URI of the reply audio.
type Uploader interface {
	UploadUtterance(ctx context.Context, u Utterance, meta Meta) (string, error)
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, u Utterance, meta Meta) (string, error)

func (f UploaderFunc) UploadUtterance(ctx context.Context, u Utterance, meta Meta) (string, error) {
	return f(ctx, u, meta)
}

// EventType names a session notification.
type EventType string

const (
	EventState     EventType = "state"
	EventError     EventType = "error"
	EventUtterance EventType = "utterance"
)

// Event is published to the UI collaborator.
type Event struct {
	Type        EventType     `json:"type"`
	State       State         `json:"state"`
	From        State         `json:"from"`
	Reason      string        `json:"reason,omitempty"`
	Code        string        `json:"code,omitempty"`
	Error       string        `json:"error,omitempty"`
	UtteranceID string        `json:"utteranceId,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	At          time.Time     `json:"at"`
}

// Snapshot is the externally visible session state.
type Snapshot struct {
	State          State  `json:"state"`
	HasSpoken      bool   `json:"hasSpoken"`
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Error          string `json:"error,omitempty"`
	Utterances     int    `json:"utterances"`
	Closed         bool   `json:"closed"`
}

// Options configure a session.
type Options struct {
	Thresholds   Thresholds
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

type uploadResult struct {
	seq uint64
	uri string
	err error
}

type restartRequest struct {
	ctx   context.Context
	reply chan error
}

// Session owns one pipeline, one controller and at most one upload. All
// controller calls happen on the control loop goroutine.
type Session struct {
	meta     Meta
	pipe     Pipeline
	ctrl     *Controller
	uploader Uploader
	opts     Options
	log      *slog.Logger
	now      func() time.Time

	snapshot *syncx.Cell[Snapshot]
	events   chan Event
	results  chan uploadResult
	restarts chan restartRequest

	// io is cancelled first on Close; uploads and restarts derive from it.
	ioCtx    context.Context
	ioCancel context.CancelFunc
	stop     chan struct{}
	loopDone chan struct{}
	uploads  sync.WaitGroup

	// loop-owned
	uploadSeq    uint64
	uploadCancel context.CancelFunc
	utterances   int

	lifecycle sync.Mutex
	started   atomic.Bool
	closed    bool
	closeOnce sync.Once
}

// NewSession creates an unstarted session.
func NewSession(meta Meta, pipe Pipeline, uploader Uploader, opts Options) *Session {
	opts = opts.withDefaults()
	ioCtx, ioCancel := context.WithCancel(context.Background())
	s := &Session{
		meta:     meta,
		pipe:     pipe,
		ctrl:     NewController(pipe, opts.Thresholds),
		uploader: uploader,
		opts:     opts,
		log:      slog.Default(),
		now:      time.Now,
		snapshot: syncx.NewCell(Snapshot{ConversationID: meta.ConversationID, UserID: meta.UserID}),
		events:   make(chan Event, eventBuffer),
		results:  make(chan uploadResult, 1),
		restarts: make(chan restartRequest),
		ioCtx:    ioCtx,
		ioCancel: ioCancel,
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	s.ctrl.OnTransition(s.onTransition)
	return s
}

// Meta returns the conversation identifiers.
func (s *Session) Meta() Meta { return s.meta }

// Events delivers notifications until the session is closed.
func (s *Session) Events() <-chan Event { return s.events }

// Snapshot returns the current externally visible state.
func (s *Session) Snapshot() Snapshot { return s.snapshot.Get() }

// State returns the controller state as last published by the loop.
func (s *Session) State() State { return s.snapshot.Get().State }

// Start opens the pipeline and runs the control loop. If the device cannot
// be opened the session enters ERROR and waits for Restart; the error is
// also returned.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, _ = trace.EnsureContext(ctx)
	s.log = trace.Logger(ctx).With("conversation_id", s.meta.ConversationID)
	s.ctrl.log = s.log

	err := s.pipe.Open(ctx)
	if err != nil {
		s.ctrl.Fail(err, s.now())
	}
	s.publish()
	go s.run()

	s.log.Info("call session started", "state", s.ctrl.State())
	return err
}

func (s *Session) run() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Polling stops in ERROR so a torn-down pipeline is never sampled.
		tick := ticker.C
		if s.ctrl.State() == Error {
			tick = nil
		}

		select {
		case <-s.stop:
			return
		case <-tick:
			s.step()
		case res := <-s.results:
			s.handleUpload(res)
		case end := <-s.pipe.PlaybackEnded():
			s.ctrl.PlaybackEnded(end, s.now())
			if s.ctrl.State() == Error {
				s.cancelUpload()
			}
		case err := <-s.pipe.Faults():
			s.fail(err)
		case req := <-s.restarts:
			req.reply <- s.restart(req.ctx)
		}
		s.publish()
	}
}

func (s *Session) step() {
	u, err := s.ctrl.Step(s.pipe.SampleEnergy())
	if err != nil || u == nil {
		return
	}
	s.beginUpload(*u)
}

func (s *Session) beginUpload(u Utterance) {
	s.cancelUpload()
	s.uploadSeq++
	seq := s.uploadSeq
	s.utterances++

	ctx, cancel := context.WithCancel(s.ioCtx)
	s.uploadCancel = cancel

	s.emit(Event{Type: EventUtterance, State: s.ctrl.State(), UtteranceID: u.ID, Duration: u.Duration, At: s.now()})

	s.uploads.Add(1)
	go func() {
		defer s.uploads.Done()
		defer cancel()

		ctx, span := trace.StartSpan(ctx, "call.upload")
		defer span.End()
		span.SetAttr("utterance_id", u.ID)
		span.SetAttr("bytes", len(u.Audio))

		uri, err := s.uploader.UploadUtterance(ctx, u, s.meta)
		if err != nil {
			span.SetAttr("error", err.Error())
		}
		select {
		case s.results <- uploadResult{seq: seq, uri: uri, err: err}:
		case <-s.ioCtx.Done():
		}
	}()
}

// cancelUpload aborts the in-flight upload; its late result is ignored.
func (s *Session) cancelUpload() {
	if s.uploadCancel != nil {
		s.uploadCancel()
		s.uploadCancel = nil
		s.uploadSeq++
	}
}

func (s *Session) handleUpload(res uploadResult) {
	if res.seq != s.uploadSeq {
		s.log.Debug("dropping stale upload result", "seq", res.seq, "current", s.uploadSeq)
		return
	}
	s.uploadCancel = nil

	now := s.now()
	switch {
	case res.err != nil:
		var appErr *apperrors.AppError
		if !errors.As(res.err, &appErr) {
			res.err = apperrors.Wrap(res.err, apperrors.TransportFailure, "upload utterance")
		}
		s.ctrl.UploadFailed(res.err, now)
	case res.uri == "":
		s.ctrl.UploadFailed(apperrors.New(apperrors.TransportFailure, "reply has no audio"), now)
	default:
		s.ctrl.UploadSucceeded(res.uri, now)
	}
}

// fail aborts the in-flight upload and moves the controller to ERROR.
func (s *Session) fail(err error) {
	s.cancelUpload()
	s.ctrl.Fail(err, s.now())
}

// restart opens the pipeline once; retrying is up to the caller.
func (s *Session) restart(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ioCtx, cancel)
	defer stop()

	s.cancelUpload()
	s.ctrl.Stop()
	if err := s.pipe.Close(); err != nil {
		s.log.Warn("release audio devices for restart", "error", err)
	}
	select {
	case <-s.pipe.Faults():
	default:
	}

	if err := s.pipe.Open(ctx); err != nil {
		s.ctrl.Fail(err, s.now())
		return err
	}
	s.ctrl.Reset(s.now())
	return nil
}

// Restart re-opens the pipeline and returns to IDLE. It is the only way out
// of ERROR.
func (s *Session) Restart(ctx context.Context) error {
	if !s.started.Load() {
		return apperrors.New(apperrors.InvalidArgument, "call session not started")
	}
	req := restartRequest{ctx: ctx, reply: make(chan error, 1)}
	select {
	case s.restarts <- req:
	case <-s.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hangup ends the call. It shares Close's teardown.
func (s *Session) Hangup() error {
	return s.Close()
}

// Close cancels any upload, stops the control loop, then releases the
// devices. It is idempotent and safe from any state.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.lifecycle.Lock()
		s.closed = true
		started := s.started.Load()
		s.lifecycle.Unlock()

		s.ioCancel()
		close(s.stop)
		if started {
			<-s.loopDone
		}
		s.uploads.Wait()

		s.ctrl.Stop()
		if err := s.pipe.Close(); err != nil {
			s.log.Warn("release audio devices", "error", err)
		}

		s.snapshot.Write(func(sn *Snapshot) { sn.Closed = true })
		close(s.events)
		s.log.Info("call session closed")
	})
	return nil
}

func (s *Session) onTransition(tr Transition) {
	if tr.From != tr.To {
		s.emit(Event{Type: EventState, State: tr.To, From: tr.From, Reason: tr.Reason, At: tr.At})
	}
	if tr.Err != nil {
		s.emit(Event{
			Type:  EventError,
			State: tr.To,
			From:  tr.From,
			Code:  apperrors.CodeOf(tr.Err).String(),
			Error: tr.Err.Error(),
			At:    tr.At,
		})
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event buffer full, dropping event", "type", ev.Type)
	}
}

func (s *Session) publish() {
	next := Snapshot{
		State:          s.ctrl.State(),
		HasSpoken:      s.ctrl.HasSpoken(),
		ConversationID: s.meta.ConversationID,
		UserID:         s.meta.UserID,
		Utterances:     s.utterances,
	}
	if err := s.ctrl.Err(); err != nil {
		next.Error = err.Error()
	}
	if s.snapshot.Get() != next {
		s.snapshot.Set(next)
	}
}
