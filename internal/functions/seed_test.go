package functions

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

func TestLoadCatalog(t *testing.T) {
	src := `
functions:
  - name: getDateOfNow
    description: Fecha y hora actual
  - name: getProductByCode
    description: "  Busca un producto por código  "
    parameters:
      type: object
      properties:
        code:
          type: string
      required: [code]
  - name: notifyHuman
    parameters: '{"type":"object","properties":{}}'
`
	fns, err := LoadCatalog(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, fns, 3)

	assert.Equal(t, `{"type":"object","properties":{}}`, fns[0].Parameters)
	assert.Equal(t, "Busca un producto por código", fns[1].Description)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(fns[1].Parameters), &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"code"}, schema["required"])
	assert.NotContains(t, fns[1].Parameters, "\n")
}

func TestLoadCatalog_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "functions: []",
		"missing name": "functions:\n  - description: x",
		"duplicate":    "functions:\n  - name: a\n  - name: a",
		"bad json":     "functions:\n  - name: a\n    parameters: '{not json'",
		"non-object":   "functions:\n  - name: a\n    parameters:\n      type: array",
		"invalid yaml": "functions: [",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestBundledCatalogMatchesRegistry(t *testing.T) {
	f, err := os.Open("../../functions.yaml")
	require.NoError(t, err)
	defer f.Close()

	fns, err := LoadCatalog(f)
	require.NoError(t, err)

	registry := NewDefaultRegistry(Deps{}, logger.NewNop())
	names := make([]string, 0, len(fns))
	for _, fn := range fns {
		names = append(names, fn.Name)
		assert.NotEmpty(t, fn.Description, fn.Name)
	}
	assert.ElementsMatch(t, registry.Names(), names)
}
