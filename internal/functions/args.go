package functions

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

// ConversationIDArg is the argument through which the model echoes the
// conversation id it was given in the prompt.
const ConversationIDArg = "conversationId"

// Args are the decoded arguments of a call. The model is loose about types,
// so numbers may arrive as strings and the other way around.
type Args map[string]any

// String returns the argument as trimmed text, or "" when absent.
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Int returns the argument as an integer. ok is false when it is absent or
// not a whole number.
func (a Args) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return n, err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

// Lines decodes an array of {productCode, quantity} objects. ok is false when
// the argument is absent, empty or has an entry without a code or a valid
// quantity.
func (a Args) Lines(key string) ([]model.OrderLine, bool) {
	raw := a[key]
	// some models send the array JSON-encoded
	if s, isString := raw.(string); isString {
		var decoded []any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, false
		}
		raw = decoded
	}
	items, isList := raw.([]any)
	if !isList || len(items) == 0 {
		return nil, false
	}

	lines := make([]model.OrderLine, 0, len(items))
	for _, item := range items {
		m, isMap := item.(map[string]any)
		if !isMap {
			return nil, false
		}
		entry := Args(m)
		code := entry.String("productCode")
		qty, qtyOK := entry.Int("quantity")
		if code == "" || !qtyOK {
			return nil, false
		}
		lines = append(lines, model.OrderLine{ProductCode: code, Quantity: qty})
	}
	return lines, true
}

// Sanitized returns a copy without the conversation id, for audit storage.
func (a Args) Sanitized() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		if k == ConversationIDArg {
			continue
		}
		out[k] = v
	}
	return out
}

// JSON renders the arguments for the persisted function message.
func (a Args) JSON() string {
	b, err := json.Marshal(map[string]any(a))
	if err != nil {
		return "{}"
	}
	return string(b)
}
