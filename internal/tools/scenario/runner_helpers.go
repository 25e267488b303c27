package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/dizzy/internal/dispatch/codec"
)

func (r *Runner) failf(format string, args ...any) error {
	return r.assertions.Failf(format, args...)
}

func (r *Runner) assertf(format string, args ...any) error {
	return r.assertions.Assertf(format, args...)
}

type eventExpectation struct {
	eventType string
	fields    map[string]any
}

// parseEventExpectation accepts a type name or a table holding a type field
// and payload fields.
func parseEventExpectation(value any) (eventExpectation, error) {
	switch v := value.(type) {
	case string:
		return eventExpectation{eventType: v}, nil
	case map[string]any:
		eventType := requiredString(v, "type")
		if eventType == "" {
			return eventExpectation{}, fmt.Errorf("event expectation requires a type")
		}
		fields := make(map[string]any, len(v)-1)
		for key, field := range v {
			if key != "type" {
				fields[key] = field
			}
		}
		return eventExpectation{eventType: eventType, fields: fields}, nil
	default:
		return eventExpectation{}, fmt.Errorf("unsupported event expectation %T", value)
	}
}

// mismatchedField compares want against got by JSON value and returns the
// first differing key in sorted order.
func mismatchedField(want, got map[string]any) (string, bool) {
	keys := make([]string, 0, len(want))
	for key := range want {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !sameJSON(want[key], got[key]) {
			return key, false
		}
	}
	return "", true
}

func sameJSON(a, b any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toObject(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw)
}

func eventTypes(events []codec.Envelope) []string {
	out := make([]string, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Type)
	}
	return out
}

func requiredString(args map[string]any, key string) string {
	value, ok := args[key]
	if !ok {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

// readList reads a list argument. Lua gives an empty table as a map.
func readList(args map[string]any, key string) []any {
	switch value := args[key].(type) {
	case []any:
		return value
	default:
		return nil
	}
}
