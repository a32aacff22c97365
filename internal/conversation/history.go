package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/roleplay-ai/voicecall/internal/transport"
)

// Sender types used by the backend.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// createdAtLayout matches the backend's local date-time strings, with or
// without fractional seconds.
const createdAtLayout = "2006-01-02T15:04:05.999999999"

// Entry is one message of the conversation.
type Entry struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	AudioURL  string    `json:"audioUrl,omitempty"`
}

// History keeps the most recent messages of one conversation and publishes
// additions on a buffered channel.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	events  chan Entry
}

// NewHistory creates a history holding at most maxEntries messages.
func NewHistory(maxEntries, eventBuffer int) *History {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	return &History{
		entries: make([]Entry, 0, maxEntries),
		maxSize: maxEntries,
		events:  make(chan Entry, eventBuffer),
	}
}

// Add appends an entry, stamping it when Timestamp is zero.
func (h *History) Add(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.entries = append(h.entries, e)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
	h.mu.Unlock()

	h.emit(e)
}

// Seed replaces the contents with messages fetched from the backend.
// Seeded entries are not published.
func (h *History) Seed(msgs []transport.Message) {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, FromMessage(m))
	}
	if len(entries) > h.maxSize {
		entries = entries[len(entries)-h.maxSize:]
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = entries
}

// FromMessage converts a stored backend message.
func FromMessage(m transport.Message) Entry {
	ts, _ := time.ParseInLocation(createdAtLayout, m.CreatedAt, time.Local)
	return Entry{
		ID:        m.ID,
		Timestamp: ts,
		Sender:    m.SenderType,
		Text:      m.TextContent,
		AudioURL:  m.AudioURL,
	}
}

// Recent returns up to n of the newest entries, oldest first. n <= 0 returns all.
func (h *History) Recent(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.entries
	if n > 0 && len(src) > n {
		src = src[len(src)-n:]
	}
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Transcript renders the last n entries as "SENDER: text" lines.
func (h *History) Transcript(n int) string {
	entries := h.Recent(n)
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		lines = append(lines, strings.ToUpper(e.Sender)+": "+e.Text)
	}
	return strings.Join(lines, "\n")
}

// Events delivers entries as they are added.
func (h *History) Events() <-chan Entry { return h.events }

func (h *History) emit(e Entry) {
	select {
	case h.events <- e:
	default:
	}
}
