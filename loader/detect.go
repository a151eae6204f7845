// Package loader reads and writes flow definition files in JSON and YAML.
package loader

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the serialization format of a flow file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat determines how to parse a flow file:
//  1. A .yaml/.yml extension means YAML, anything else means JSON.
//  2. The parsed document must carry "nodes" and "edges" keys to count
//     as a flow definition.
func DetectFormat(data []byte, filePath string) (Format, error) {
	format := FormatJSON
	if isYAML(filePath) {
		format = FormatYAML
	}

	var raw map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing JSON: %w", err)
		}
	}

	if !hasKey(raw, "nodes") || !hasKey(raw, "edges") {
		return "", fmt.Errorf("not a flow definition: missing nodes/edges")
	}
	return format, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// hasKey checks if a key exists in a map.
func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// yamlToJSON converts YAML bytes to JSON bytes through a generic map, so
// one typed decode path serves both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}
