package functions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

// CatalogFile is the YAML form of the function catalog.
type CatalogFile struct {
	Functions []CatalogEntry `yaml:"functions"`
}

// CatalogEntry describes one function. Parameters is a JSON Schema object
// written either as YAML or as a JSON string.
type CatalogEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Parameters  any    `yaml:"parameters"`
}

// LoadCatalog reads a function catalog and returns the Function rows it
// defines, with Parameters normalized to compact JSON.
func LoadCatalog(r io.Reader) ([]model.Function, error) {
	var file CatalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Functions) == 0 {
		return nil, errors.New("catalog defines no functions")
	}

	seen := make(map[string]bool, len(file.Functions))
	out := make([]model.Function, 0, len(file.Functions))
	for i, e := range file.Functions {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("function %d: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("function %s: defined twice", name)
		}
		seen[name] = true

		params, err := schemaJSON(e.Parameters)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", name, err)
		}
		out = append(out, model.Function{
			Name:        name,
			Description: strings.TrimSpace(e.Description),
			Parameters:  params,
		})
	}
	return out, nil
}

func schemaJSON(v any) (string, error) {
	var raw []byte
	switch p := v.(type) {
	case nil:
		return `{"type":"object","properties":{}}`, nil
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("parameters: %w", err)
		}
		raw = b
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	if t, ok := obj["type"]; ok && t != "object" {
		return "", fmt.Errorf("parameters type must be object, got %v", t)
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
