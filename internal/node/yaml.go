package node

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlParser handles YAML text. It only claims a payload when the hint
// names it or when the text decodes to a mapping or sequence — any plain
// string is valid YAML, so a scalar result falls through to later parsers.
type yamlParser struct{}

func (p *yamlParser) Name() string  { return "yaml" }
func (p *yamlParser) Priority() int { return 11 }

func (p *yamlParser) CanParse(payload any, hint string) bool {
	s, ok := payload.(string)
	if !ok {
		return false
	}
	if hint == "yaml" || hint == "yml" {
		return true
	}
	if !strings.Contains(s, ":") {
		return false
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return false
	}
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func (p *yamlParser) Parse(payload any) ([]Node, error) {
	s, ok := payload.(string)
	if !ok {
		return nil, fmt.Errorf("yaml parser requires text input")
	}
	var value any
	if err := yaml.Unmarshal([]byte(s), &value); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	var nodes []Node
	walkStructured(normalizeYAML(value), "", &nodes)
	return nodes, nil
}

func (p *yamlParser) Reconstruct(nodes []Node) (string, error) {
	out, err := yaml.Marshal(foldNodes(nodes))
	if err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	return string(out), nil
}

// normalizeYAML coerces yaml.v3's decoded values into the same shapes the
// JSON decoder produces, so downstream walking sees one representation.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
