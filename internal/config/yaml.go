package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// configToJSON routes both supported formats through one strict JSON
// decoder. Files with a .yaml/.yml extension are decoded and re-marshaled;
// everything else is assumed to already be JSON.
func configToJSON(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("parse yaml: %w", err)
	}

	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("convert yaml: %w", err)
	}
	return out, "yaml", nil
}

// stringifyKeys rewrites every map in the decoded document to use string
// keys; YAML permits non-string keys, json.Marshal does not.
func stringifyKeys(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, item := range node {
			node[k] = stringifyKeys(item)
		}
		return node
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, item := range node {
			out[fmt.Sprint(k)] = stringifyKeys(item)
		}
		return out
	case []any:
		for i, item := range node {
			node[i] = stringifyKeys(item)
		}
		return node
	}
	return v
}
