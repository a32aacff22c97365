package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/roleplay-ai/voicecall/internal/transport"
)

func TestHistoryAdd(t *testing.T) {
	h := NewHistory(30, 10)
	h.Add(Entry{Sender: SenderUser, Text: "Hello"})

	entries := h.Recent(0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Text != "Hello" || entries[0].Timestamp.IsZero() {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestHistoryMaxSize(t *testing.T) {
	h := NewHistory(5, 10)
	for i := 0; i < 10; i++ {
		h.Add(Entry{Sender: SenderUser, Text: string(rune('a' + i))})
	}

	entries := h.Recent(0)
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	if entries[0].Text != "f" || entries[4].Text != "j" {
		t.Errorf("kept %q..%q, want f..j", entries[0].Text, entries[4].Text)
	}
}

func TestHistoryRecent(t *testing.T) {
	h := NewHistory(10, 10)
	for _, s := range []string{"one", "two", "three"} {
		h.Add(Entry{Sender: SenderAI, Text: s})
	}

	got := h.Recent(2)
	if len(got) != 2 || got[0].Text != "two" || got[1].Text != "three" {
		t.Errorf("Recent(2) = %+v", got)
	}
	got[0].Text = "mutated"
	if h.Recent(2)[0].Text != "two" {
		t.Error("Recent should return a copy")
	}
}

func TestHistorySeed(t *testing.T) {
	h := NewHistory(2, 10)
	h.Add(Entry{Sender: SenderUser, Text: "local"})
	<-h.Events()

	h.Seed([]transport.Message{
		{ID: 1, SenderType: SenderUser, TextContent: "a", CreatedAt: "2025-09-22T16:05:00"},
		{ID: 2, SenderType: SenderAI, TextContent: "b", CreatedAt: "2025-09-22T16:05:01"},
		{ID: 3, SenderType: SenderUser, TextContent: "c", CreatedAt: "bogus"},
	})

	entries := h.Recent(0)
	if len(entries) != 2 || entries[0].ID != 2 || entries[1].ID != 3 {
		t.Fatalf("entries = %+v", entries)
	}
	want := time.Date(2025, 9, 22, 16, 5, 1, 0, time.Local)
	if !entries[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", entries[0].Timestamp, want)
	}
	if !entries[1].Timestamp.IsZero() {
		t.Error("unparseable createdAt should give zero time")
	}

	select {
	case e := <-h.Events():
		t.Errorf("seed published %+v", e)
	default:
	}
}

func TestHistoryTranscript(t *testing.T) {
	h := NewHistory(10, 10)
	h.Add(Entry{Sender: SenderUser, Text: "Hi"})
	h.Add(Entry{Sender: SenderAI, AudioURL: "https://cdn/1.mp3"})
	h.Add(Entry{Sender: SenderAI, Text: "Greetings"})

	got := h.Transcript(0)
	if got != "USER: Hi\nAI: Greetings" {
		t.Errorf("Transcript = %q", got)
	}
	if strings.Contains(h.Transcript(1), "Hi") {
		t.Error("Transcript(1) should only include the newest entry")
	}
}

func TestHistoryEventsNonBlocking(t *testing.T) {
	h := NewHistory(30, 1)
	h.Add(Entry{Text: "1"})

	done := make(chan struct{})
	go func() {
		h.Add(Entry{Text: "2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Add blocked on a full event buffer")
	}
	if e := <-h.Events(); e.Text != "1" {
		t.Errorf("event = %q, want 1", e.Text)
	}
}
