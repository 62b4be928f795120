package functions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

func TestArgs_String(t *testing.T) {
	a := Args{
		"text":   "  hola  ",
		"float":  float64(12),
		"frac":   1.5,
		"number": json.Number("42"),
		"bool":   true,
		"list":   []any{"a"},
	}

	assert.Equal(t, "hola", a.String("text"))
	assert.Equal(t, "12", a.String("float"))
	assert.Equal(t, "1.5", a.String("frac"))
	assert.Equal(t, "42", a.String("number"))
	assert.Equal(t, "true", a.String("bool"))
	assert.Equal(t, `["a"]`, a.String("list"))
	assert.Equal(t, "", a.String("missing"))
}

func TestArgs_Int(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
		ok    bool
	}{
		{"float", float64(3), 3, true},
		{"fraction", 2.5, 0, false},
		{"numeric string", " 7 ", 7, true},
		{"text", "siete", 0, false},
		{"json number", json.Number("9"), 9, true},
		{"missing", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Args{"q": tt.value}.Int("q")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArgs_Lines(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		a := Args{"products": []any{
			map[string]any{"productCode": "A1", "quantity": float64(2)},
			map[string]any{"productCode": "B2", "quantity": "3"},
		}}
		lines, ok := a.Lines("products")
		require.True(t, ok)
		assert.Equal(t, []model.OrderLine{{ProductCode: "A1", Quantity: 2}, {ProductCode: "B2", Quantity: 3}}, lines)
	})

	t.Run("json encoded string", func(t *testing.T) {
		a := Args{"products": `[{"productCode":"A1","quantity":1}]`}
		lines, ok := a.Lines("products")
		require.True(t, ok)
		assert.Equal(t, []model.OrderLine{{ProductCode: "A1", Quantity: 1}}, lines)
	})

	t.Run("rejects incomplete entries", func(t *testing.T) {
		for _, v := range []any{
			nil,
			[]any{},
			"not json",
			[]any{map[string]any{"productCode": "A1"}},
			[]any{map[string]any{"quantity": float64(1)}},
			[]any{"A1"},
		} {
			_, ok := Args{"products": v}.Lines("products")
			assert.False(t, ok, "%v", v)
		}
	})
}

func TestArgs_Sanitized(t *testing.T) {
	a := Args{ConversationIDArg: "c1", "name": "Ana"}

	got := a.Sanitized()

	assert.Equal(t, map[string]any{"name": "Ana"}, got)
	assert.Contains(t, a, ConversationIDArg, "original args are not modified")
}
