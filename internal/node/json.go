package node

import (
	"encoding/json"
	"fmt"
	"strings"
)

// jsonParser handles decoded structured payloads and JSON text.
// Decomposition rules:
//   - an object whose values are all primitives becomes one object node
//   - a mixed object recurses per key, primitives becoming primitive nodes
//   - an array of objects expands to one node per element at path[i]
//   - an array of primitives becomes a single array node
type jsonParser struct{}

func (p *jsonParser) Name() string  { return "json" }
func (p *jsonParser) Priority() int { return 10 }

func (p *jsonParser) CanParse(payload any, hint string) bool {
	switch payload.(type) {
	case map[string]any, []any, float64, bool, int, int64:
		// Already-decoded structured data is always ours.
		return true
	case string:
		if hint == "json" {
			return true
		}
		s := strings.TrimSpace(payload.(string))
		if s == "" {
			return false
		}
		if s[0] != '{' && s[0] != '[' {
			return false
		}
		return json.Valid([]byte(s))
	}
	return false
}

func (p *jsonParser) Parse(payload any) ([]Node, error) {
	value := payload
	if s, ok := payload.(string); ok {
		if err := json.Unmarshal([]byte(s), &value); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}
	var nodes []Node
	walkStructured(value, "", &nodes)
	return nodes, nil
}

func (p *jsonParser) Reconstruct(nodes []Node) (string, error) {
	out, err := json.MarshalIndent(foldNodes(nodes), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(out), nil
}

// walkStructured decomposes a decoded value into nodes, depth-first with
// keys in sorted order so repeated parses yield identical node lists.
func walkStructured(v any, path string, out *[]Node) {
	switch t := v.(type) {
	case map[string]any:
		if isFlat(t) {
			*out = append(*out, Node{Path: path, Content: t, NodeType: TypeObject})
			return
		}
		for _, k := range sortedKeys(t) {
			walkStructured(t[k], childPath(path, k), out)
		}
	case []any:
		if allObjects(t) {
			for i, elem := range t {
				walkStructured(elem, fmt.Sprintf("%s[%d]", path, i), out)
			}
			return
		}
		*out = append(*out, Node{Path: path, Content: t, NodeType: TypeArray})
	default:
		*out = append(*out, Node{Path: path, Content: t, NodeType: TypePrimitive})
	}
}

// isFlat reports whether every value in the map is a primitive, i.e. the
// map is record-shaped and should be kept whole.
func isFlat(m map[string]any) bool {
	for _, v := range m {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

func allObjects(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, v := range list {
		if _, ok := v.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func childPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// foldNodes rebuilds a map of path → content. Single root nodes collapse
// to their content directly.
func foldNodes(nodes []Node) any {
	if len(nodes) == 1 && nodes[0].Path == "" {
		return nodes[0].Content
	}
	folded := make(map[string]any, len(nodes))
	for _, n := range nodes {
		folded[n.Path] = n.Content
	}
	return folded
}
