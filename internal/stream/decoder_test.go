package stream

import (
	"reflect"
	"strings"
	"testing"
)

func texts(ds []Delta) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Text)
	}
	return out
}

func feedAll(d *Decoder, chunks ...string) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, texts(d.Feed([]byte(c)))...)
	}
	return out
}

func TestFeedBoundaryInsensitive(t *testing.T) {
	split := feedAll(NewDecoder(), "data: AB", "C\ndata: D\n")
	whole := feedAll(NewDecoder(), "data: ABC\ndata: D\n")

	want := []string{"ABC", "D"}
	if !reflect.DeepEqual(split, want) {
		t.Errorf("split feed = %q, want %q", split, want)
	}
	if !reflect.DeepEqual(whole, want) {
		t.Errorf("whole feed = %q, want %q", whole, want)
	}
}

func TestFeedEveryByteBoundary(t *testing.T) {
	input := "data: {\"content\":\"Hel\"}\r\n: keep-alive\n\ndata: lo\nevent: x\ndata: {\"text\":\" world\"}\n"
	want := feedAll(NewDecoder(), input)

	for i := 0; i <= len(input); i++ {
		got := feedAll(NewDecoder(), input[:i], input[i:])
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: %q, want %q", i, got, want)
		}
	}

	bytewise := NewDecoder()
	var got []string
	for i := range input {
		got = append(got, texts(bytewise.Feed([]byte{input[i]}))...)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("byte-by-byte = %q, want %q", got, want)
	}
	if strings.Join(want, "") != "Hello world" {
		t.Errorf("assembled = %q", strings.Join(want, ""))
	}
}

func TestFeedRetainsTail(t *testing.T) {
	d := NewDecoder()
	if got := d.Feed([]byte("data: partial")); len(got) != 0 {
		t.Fatalf("incomplete line emitted: %q", texts(got))
	}
	if d.Pending() != len("data: partial") {
		t.Errorf("Pending() = %d", d.Pending())
	}
	got := texts(d.Feed([]byte(" line\n")))
	if !reflect.DeepEqual(got, []string{"partial line"}) {
		t.Errorf("got %q", got)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after resolution", d.Pending())
	}
}

func TestDoneSentinel(t *testing.T) {
	d := NewDecoder()
	got := feedAll(d, "data: a\ndata: [DONE]\ndata: b\n")
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("got %q, want [a]", got)
	}
	if !d.Done() {
		t.Fatal("decoder not done after sentinel")
	}
	if more := d.Feed([]byte("data: c\n")); len(more) != 0 {
		t.Errorf("deltas after [DONE]: %q", texts(more))
	}
	if more := d.Finish(); len(more) != 0 {
		t.Errorf("Finish after [DONE]: %q", texts(more))
	}
}

func TestDoneOnly(t *testing.T) {
	d := NewDecoder()
	if got := d.Feed([]byte("data: [DONE]\n")); len(got) != 0 {
		t.Errorf("got %q", texts(got))
	}
	if got := d.Feed([]byte("data: late\n")); len(got) != 0 || !d.Done() {
		t.Errorf("decoder resumed after [DONE]: %q", texts(got))
	}
}

func TestNonJSONPayload(t *testing.T) {
	d := NewDecoder()
	got := d.Feed([]byte("data: hello\n"))
	if len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("got %q, want [hello]", texts(got))
	}
	if _, ok := got[0].Payload.(RawText); !ok {
		t.Errorf("payload = %T, want RawText", got[0].Payload)
	}
}

func TestMalformedJSONDegradesToText(t *testing.T) {
	got := feedAll(NewDecoder(), "data: {\"content\": \"unterminated\n")
	if !reflect.DeepEqual(got, []string{"{\"content\": \"unterminated"}) {
		t.Errorf("got %q", got)
	}
}

func TestFinishResolvesTail(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("data: first\ndata: last"))
	got := texts(d.Finish())
	if !reflect.DeepEqual(got, []string{"last"}) {
		t.Errorf("Finish() = %q, want [last]", got)
	}
	if !d.Done() {
		t.Error("decoder not done after Finish")
	}
}

func TestIgnoredLines(t *testing.T) {
	got := feedAll(NewDecoder(),
		": comment\n",
		"event: message\n",
		"id: 7\n",
		"data:\n",
		"data:    \n",
		"data: {\"type\":\"ping\"}\n",
		"\n",
	)
	if len(got) != 0 {
		t.Errorf("got %q, want nothing", got)
	}
}

func TestCustomFields(t *testing.T) {
	d := NewDecoder("message.body")
	got := feedAll(d, "data: {\"content\":\"skip\",\"message\":{\"body\":\"hi\"}}\n")
	if !reflect.DeepEqual(got, []string{"hi"}) {
		t.Errorf("got %q", got)
	}
}
