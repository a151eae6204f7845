package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/waveline-labs/chatflow/flow"
)

// LoadFlow reads a flow definition file, auto-detecting JSON or YAML,
// and returns the normalized flow. Graph validation is left to the
// caller so warnings-only flows still load.
func LoadFlow(path string) (*flow.Flow, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return LoadFlowBytes(data, path)
}

// LoadFlowBytes parses flow definition bytes; the path supplies the
// format hint.
func LoadFlowBytes(data []byte, path string) (*flow.Flow, error) {
	format, err := DetectFormat(data, path)
	if err != nil {
		return nil, err
	}

	jsonData := data
	if format == FormatYAML {
		jsonData, err = yamlToJSON(data)
		if err != nil {
			return nil, err
		}
	}

	var f flow.Flow
	if err := json.Unmarshal(jsonData, &f); err != nil {
		return nil, fmt.Errorf("parsing flow definition: %w", err)
	}
	f.Normalize()

	for _, n := range f.Nodes {
		if !n.Type.IsValid() {
			return nil, fmt.Errorf("parsing flow definition: node %q has unknown type %q", n.ID, n.Type)
		}
	}
	return &f, nil
}

// SaveFlow writes a flow as indented JSON, the canonical export format.
func SaveFlow(path string, f *flow.Flow) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding flow: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing file %s: %w", path, err)
	}
	return nil
}
