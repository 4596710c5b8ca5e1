// Package node decomposes published payloads into semantic nodes — the
// atomic units of matching. A chain of format parsers (JSON, YAML, CSV,
// Markdown, plain text) is tried in priority order; plain text is the
// terminal fallback and always succeeds.
package node

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Type enumerates the semantic shapes a node can take.
type Type string

const (
	TypeObject    Type = "object"
	TypeArray     Type = "array"
	TypePrimitive Type = "primitive"
	TypeParagraph Type = "paragraph"
	TypeHeading   Type = "heading"
	TypeListItem  Type = "list_item"
	TypeCodeBlock Type = "code_block"
	TypeRow       Type = "row"
)

// Node is one addressable semantic unit within a payload.
type Node struct {
	// Path locates the node within the originating payload,
	// e.g. "people[0].name" or "columns".
	Path string
	// Content is the value at Path: a primitive, map, slice, or text block.
	Content any
	// NodeType classifies Content.
	NodeType Type
	// Metadata carries free-form tags, including the originating format.
	Metadata map[string]string
}

// Key returns the node's index key under the given data key:
// dataKey + "." + path, or just dataKey for a root node.
func (n Node) Key(dataKey string) string {
	if n.Path == "" {
		return dataKey
	}
	return dataKey + "." + n.Path
}

var indexSuffix = regexp.MustCompile(`\[\d+\]`)

// EmbeddingText builds the canonical projection used for both vector
// embedding and lexical indexing: de-indexed path words followed by a
// structured rendering of the content.
func (n Node) EmbeddingText() string {
	pathWords := strings.ReplaceAll(indexSuffix.ReplaceAllString(n.Path, ""), ".", " ")

	var body string
	switch c := n.Content.(type) {
	case map[string]any:
		pairs := make([]string, 0, len(c))
		for _, k := range sortedKeys(c) {
			pairs = append(pairs, fmt.Sprintf("%s: %s", k, renderValue(c[k])))
		}
		body = strings.Join(pairs, " | ")
	case []any:
		parts := make([]string, 0, len(c))
		for _, v := range c {
			parts = append(parts, renderValue(v))
		}
		body = strings.Join(parts, ", ")
	case string:
		body = c
	default:
		body = renderValue(c)
	}

	if pathWords == "" {
		return body
	}
	if body == "" {
		return pathWords
	}
	return pathWords + " " + body
}

func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return fmt.Sprintf("%t", t)
	case float64:
		// JSON numbers decode as float64; render integers without decimals.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case map[string]any:
		pairs := make([]string, 0, len(t))
		for _, k := range sortedKeys(t) {
			pairs = append(pairs, fmt.Sprintf("%s: %s", k, renderValue(t[k])))
		}
		return strings.Join(pairs, " | ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, renderValue(e))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
