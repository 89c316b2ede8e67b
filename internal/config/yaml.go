package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// documentJSON returns the bytes decodeDocument expects. A .yaml or .yml file is
// re-encoded as JSON; anything else is passed through.
func documentJSON(path string, data []byte) ([]byte, error) {
	if !isYAMLPath(path) {
		return data, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("parse yaml: empty document")
	}
	v, err := yamlValue(doc.Content[0])
	if err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return json.Marshal(v)
}

func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	case yaml.MappingNode:
		return yamlMapping(n)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := yamlValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported node", n.Line)
}

// yamlMapping flattens a mapping into string keys. Keys pulled in through a "<<"
// merge never override keys written on the mapping itself.
func yamlMapping(n *yaml.Node) (map[string]any, error) {
	out := make(map[string]any, len(n.Content)/2)
	merged := map[string]any{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping keys must be scalars", key.Line)
		}
		if key.ShortTag() == "!!merge" {
			if err := mergeInto(merged, val); err != nil {
				return nil, err
			}
			continue
		}
		v, err := yamlValue(val)
		if err != nil {
			return nil, err
		}
		out[key.Value] = v
	}
	for k, v := range merged {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out, nil
}

func mergeInto(dst map[string]any, src *yaml.Node) error {
	if src.Kind == yaml.AliasNode {
		src = src.Alias
	}
	switch src.Kind {
	case yaml.MappingNode:
		m, err := yamlMapping(src)
		if err != nil {
			return err
		}
		for k, v := range m {
			if _, ok := dst[k]; !ok {
				dst[k] = v
			}
		}
		return nil
	case yaml.SequenceNode:
		for _, item := range src.Content {
			if err := mergeInto(dst, item); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("line %d: merge value must be a mapping", src.Line)
}
