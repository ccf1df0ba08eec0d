package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Message is one inbound command: a flat field-value mapping decoded from
// JSON.
type Message map[string]any

var ErrNotInt = errors.New("not an integer")

// Str returns the field as a trimmed string.
func (m Message) Str(key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	}
	return fmt.Sprint(v), true
}

// Int returns the field as an integer. present is false when the field is
// absent or null; err is set when it is present but not an integer.
func (m Message) Int(key string) (v int, present bool, err error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch t := raw.(type) {
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, true, fmt.Errorf("%w: %v", ErrNotInt, t)
		}
		return int(t), true, nil
	case int:
		return t, true, nil
	case json.Number:
		n, err := strconv.Atoi(t.String())
		if err != nil {
			return 0, true, fmt.Errorf("%w: %q", ErrNotInt, t)
		}
		return n, true, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, true, fmt.Errorf("%w: %q", ErrNotInt, t)
		}
		return n, true, nil
	}
	return 0, true, fmt.Errorf("%w: %v", ErrNotInt, raw)
}

// Response is one outbound message. Pos addresses a seat; empty means every
// member of the lobby. Frame, when set, is sent as a binary message right
// after the JSON body.
type Response struct {
	Code  Code
	Msg   string
	Pos   string
	Data  map[string]any
	Frame []byte
}

func (r Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Data)+3)
	for k, v := range r.Data {
		out[k] = v
	}
	out["response_code"] = int(r.Code)
	if r.Msg != "" {
		out["response_msg"] = r.Msg
	}
	if r.Pos != "" {
		out["pos"] = r.Pos
	}
	return json.Marshal(out)
}

// Sink delivers responses to connections.
type Sink interface {
	Send(r Response)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r Response)

func (f SinkFunc) Send(r Response) { f(r) }
