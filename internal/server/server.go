// Package server is the local HTTP and WebSocket bridge the UI talks to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/roleplay-ai/voicecall/internal/call"
	"github.com/roleplay-ai/voicecall/internal/conversation"
	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
	"github.com/roleplay-ai/voicecall/internal/resilience"
	"github.com/roleplay-ai/voicecall/internal/stream"
	"github.com/roleplay-ai/voicecall/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type ChatMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

type StartMessage struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

type ChunkMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type DoneMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type HistoryMessage struct {
	Type  string             `json:"type"`
	Entry conversation.Entry `json:"entry"`
}

// Call is the call session surface the bridge drives.
type Call interface {
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	Hangup() error
	Snapshot() call.Snapshot
	Events() <-chan call.Event
}

// Chatter runs text chat turns.
type Chatter interface {
	Send(ctx context.Context, message string, fn func(stream.Delta)) (conversation.Reply, error)
	Sync(ctx context.Context) error
	History() *conversation.History
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.now != nil {
		now = r.now()
	}
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// client is one WebSocket connection. All writes go through send so frames
// reach the UI in the order they were produced.
type client struct {
	conn    *websocket.Conn
	limiter *rateLimiter
	send    chan any
}

func (c *client) enqueue(msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				trace.Logger(ctx).Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	newCall func() Call
	chat    Chatter

	mu      sync.RWMutex
	clients map[*client]struct{}

	callMu       sync.Mutex
	call         Call
	restartRetry resilience.RetryConfig

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a server. newCall builds a fresh session for every call the
// UI starts; chat may be nil when text chat is disabled.
func New(newCall func() Call, chat Chatter) *Server {
	s := &Server{
		newCall: newCall,
		chat:    chat,
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
	if chat != nil {
		s.wg.Add(1)
		go s.broadcastHistory(chat.History())
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/call", s.handleCallStatus)
	mux.HandleFunc("POST /api/call/start", s.handleCallStart)
	mux.HandleFunc("POST /api/call/hangup", s.handleCallHangup)
	mux.HandleFunc("POST /api/call/restart", s.handleCallRestart)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Close hangs up the active call and stops the broadcasters.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.callMu.Lock()
		if s.call != nil {
			err = s.call.Hangup()
		}
		s.callMu.Unlock()
		s.wg.Wait()
	})
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{conn: conn, limiter: &rateLimiter{}, send: make(chan any, SendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()
	go func() {
		c.writeLoop(ctx)
		cancel()
	}()

	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	c.enqueue(s.callSnapshot())

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !c.limiter.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.enqueue(ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "chat":
			var chat ChatMessage
			if err := json.Unmarshal(msg, &chat); err != nil {
				continue
			}
			// Extract trace_id from message or create new trace context
			cctx := ctx
			if chat.TraceID != "" {
				cctx = trace.WithContext(ctx, trace.NewChild(trace.Context{TraceID: chat.TraceID}))
			} else {
				cctx, _ = trace.EnsureContext(ctx)
			}
			go s.handleChat(cctx, c, chat.Message)
		case "hangup":
			if err := s.hangup(); err != nil {
				c.enqueue(errorMessage(err))
			}
		case "restart":
			if err := s.restart(ctx); err != nil {
				c.enqueue(errorMessage(err))
			}
		default:
			log.Debug("unknown command", "type", base.Type)
		}
	}
}

func (s *Server) handleChat(ctx context.Context, c *client, message string) {
	ctx, span := trace.StartSpan(ctx, "handle_chat")
	defer span.End()

	log := trace.Logger(ctx)
	if s.chat == nil {
		c.enqueue(ErrorMessage{Type: "error", Code: apperrors.InvalidArgument.String(), Message: "text chat is disabled"})
		return
	}
	log.Info("chat message", "length", len(message))

	c.enqueue(StartMessage{Type: "start", Role: "assistant"})
	reply, err := s.chat.Send(ctx, message, func(d stream.Delta) {
		if !c.enqueue(ChunkMessage{Type: "chunk", Content: d.Text}) {
			log.Warn("send buffer full, dropping chunk")
		}
	})

	done := DoneMessage{Type: "done", Text: reply.Text}
	if err != nil {
		span.SetAttr("error", err.Error())
		log.Error("chat error", "error", err)
		done.Error = err.Error()
	}
	c.enqueue(done)
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if !c.enqueue(msg) {
			slog.Warn("send buffer full, dropping frame")
		}
	}
}

// forward relays one session's events until the session closes.
func (s *Server) forward(c Call) {
	defer s.wg.Done()
	for ev := range c.Events() {
		s.broadcast(ev)
	}
}

func (s *Server) broadcastHistory(h *conversation.History) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case e := <-h.Events():
			s.broadcast(HistoryMessage{Type: "message", Entry: e})
		}
	}
}

func (s *Server) callSnapshot() call.Snapshot {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	if s.call == nil {
		return call.Snapshot{State: call.Idle, Closed: true}
	}
	return s.call.Snapshot()
}

// start begins a call, replacing a finished one. Starting while a call is
// live is a no-op.
func (s *Server) start(ctx context.Context) (call.Snapshot, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	select {
	case <-s.done:
		return call.Snapshot{}, apperrors.New(apperrors.InvalidArgument, "server is shutting down")
	default:
	}

	if s.call != nil && !s.call.Snapshot().Closed {
		return s.call.Snapshot(), nil
	}
	c := s.newCall()
	s.call = c
	s.wg.Add(1)
	go s.forward(c)

	err := c.Start(ctx)
	return c.Snapshot(), err
}

func (s *Server) hangup() error {
	s.callMu.Lock()
	c := s.call
	s.callMu.Unlock()
	if c == nil {
		return nil
	}
	return c.Hangup()
}

// WithRestartRetry sets how often a UI restart re-attempts to open the
// audio devices. Each failed attempt reaches the UI as its own error event.
// The zero value tries once.
func (s *Server) WithRestartRetry(cfg resilience.RetryConfig) *Server {
	s.restartRetry = cfg
	return s
}

func (s *Server) restart(ctx context.Context) error {
	s.callMu.Lock()
	c := s.call
	s.callMu.Unlock()
	if c == nil {
		return apperrors.New(apperrors.InvalidArgument, "no active call")
	}
	err := resilience.Retry(ctx, s.restartRetry, func() error { return c.Restart(ctx) })
	if errors.Is(err, call.ErrClosed) {
		return apperrors.Wrap(err, apperrors.InvalidArgument, "call has ended")
	}
	return err
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.callSnapshot())
}

func (s *Server) handleCallStart(w http.ResponseWriter, r *http.Request) {
	snap, err := s.start(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCallHangup(w http.ResponseWriter, r *http.Request) {
	if err := s.hangup(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.callSnapshot())
}

func (s *Server) handleCallRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.restart(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.callSnapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeJSON(w, http.StatusOK, []conversation.Entry{})
		return
	}
	limit := HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, apperrors.New(apperrors.InvalidArgument, "limit must be a positive integer"))
			return
		}
		limit = min(n, HistoryLimitMax)
	}
	if r.URL.Query().Get("sync") == "true" {
		if err := s.chat.Sync(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.chat.History().Recent(limit))
}

func errorMessage(err error) ErrorMessage {
	msg := ErrorMessage{Type: "error", Message: err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg.Code = appErr.Code.String()
		msg.Message = appErr.Message
	}
	return msg
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
	}
	writeJSON(w, status, errorMessage(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
