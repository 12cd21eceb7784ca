package feed

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned for binary frames that are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("feed: binary frame is not valid UTF-8")

// envelope extracts event objects from one decoded JSON value. ok is false
// when the envelope does not apply.
type envelope func(v any) (events []map[string]any, ok bool)

// envelopes are tried in order; the first that applies wins.
var envelopes = []envelope{
	dataEnvelope,
	objectEnvelope,
	arrayEnvelope,
}

// dataEnvelope unwraps {"data": {...}} when the nested object looks like an
// event.
func dataEnvelope(v any) ([]map[string]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	data, ok := obj["data"].(map[string]any)
	if !ok {
		return nil, false
	}
	_, hasProduct := data["productType"]
	_, hasTime := data["time"]
	if !hasProduct && !hasTime {
		return nil, false
	}
	return []map[string]any{data}, true
}

func objectEnvelope(v any) ([]map[string]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return []map[string]any{obj}, true
}

func arrayEnvelope(v any) ([]map[string]any, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	var events []map[string]any
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			events = append(events, obj)
		}
	}
	return events, true
}

// ExtractEvents returns the event objects carried by a decoded JSON value.
func ExtractEvents(v any) []map[string]any {
	for _, env := range envelopes {
		if events, ok := env(v); ok {
			return events
		}
	}
	return nil
}

// Fragment is a piece of a frame that could not be parsed as JSON.
type Fragment struct {
	Text string
	Err  error
}

// DecodeFrame splits a frame into JSON values and extracts their events.
// Newline-delimited frames are split unless the frame is a JSON array.
// Fragments that fail to parse are returned separately so the caller can
// log them; they never abort the rest of the frame.
func DecodeFrame(frame []byte, binary bool) (events []map[string]any, bad []Fragment, err error) {
	if binary && !utf8.Valid(frame) {
		return nil, nil, ErrInvalidUTF8
	}

	msg := strings.TrimSpace(string(frame))
	if msg == "" {
		return nil, nil, nil
	}

	chunks := []string{msg}
	if strings.Contains(msg, "\n") && !strings.HasPrefix(msg, "[") {
		chunks = chunks[:0]
		for _, line := range strings.Split(msg, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				chunks = append(chunks, line)
			}
		}
	}

	for _, chunk := range chunks {
		v, err := parseJSON(chunk)
		if err != nil {
			bad = append(bad, Fragment{Text: chunk, Err: err})
			continue
		}
		events = append(events, ExtractEvents(v)...)
	}
	return events, bad, nil
}

// parseJSON decodes exactly one JSON value, keeping numbers as
// json.Number so millisecond timestamps survive unchanged.
func parseJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// truncate shortens s for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	b := []byte(s[:n])
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b) + "..."
}
