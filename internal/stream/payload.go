package stream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultFields is the ordered list of JSON paths probed for delta text.
var DefaultFields = []string{"content", "text", "delta", "choices.0.delta.content", "data"}

// Payload is the interpretation of one data line: either Structured or
// RawText. Parsing never fails; malformed JSON degrades to RawText.
type Payload interface {
	// Text returns the delta text carried by the payload, possibly empty.
	Text() string
	payload()
}

// Structured is a JSON payload. Field is the path the text came from, or
// empty when the object carried none of the accepted fields.
type Structured struct {
	Field string
	Value string
}

// RawText is a payload that is not a JSON object, used verbatim.
type RawText string

func (s Structured) Text() string { return s.Value }
func (r RawText) Text() string    { return string(r) }

func (Structured) payload() {}
func (RawText) payload()    {}

// Parse interprets payload against fields in order.
func Parse(payload string, fields []string) Payload {
	if !strings.HasPrefix(payload, "{") || !gjson.Valid(payload) {
		return RawText(payload)
	}
	for _, f := range fields {
		r := gjson.Get(payload, f)
		if r.Exists() && r.Type == gjson.String {
			return Structured{Field: f, Value: r.Str}
		}
	}
	return Structured{}
}
