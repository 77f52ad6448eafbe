// Package measurefile reads measure documents from JSON or YAML files.
package measurefile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// Read decodes a file holding one measure or a list of measures. Files
// ending in .yaml or .yml are YAML; everything else is JSON. YAML uses the
// same field names as the JSON form.
func Read(path string) ([]*domain.Measure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read measures: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("decode measures from %s: %w", path, err)
		}
	}
	measures, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode measures from %s: %w", path, err)
	}
	return measures, nil
}

// ReadAll reads every file and concatenates the measures in order.
func ReadAll(paths ...string) ([]*domain.Measure, error) {
	var out []*domain.Measure
	for _, p := range paths {
		ms, err := Read(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	return out, nil
}

// Decode parses JSON holding one measure or an array of measures.
func Decode(data []byte) ([]*domain.Measure, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	if data[0] == '[' {
		var many []*domain.Measure
		if err := json.Unmarshal(data, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one domain.Measure
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []*domain.Measure{&one}, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
