package node

import (
	"fmt"
	"strings"
)

// textParser is the terminal fallback: it accepts anything and splits
// text into paragraph nodes on blank lines.
type textParser struct{}

func (p *textParser) Name() string  { return "text" }
func (p *textParser) Priority() int { return 100 }

func (p *textParser) CanParse(payload any, hint string) bool { return true }

func (p *textParser) Parse(payload any) ([]Node, error) {
	s, ok := payload.(string)
	if !ok {
		s = fmt.Sprintf("%v", payload)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty text payload")
	}

	var nodes []Node
	for _, para := range strings.Split(s, "\n\n") {
		para = strings.TrimSpace(strings.ReplaceAll(para, "\n", " "))
		if para == "" {
			continue
		}
		nodes = append(nodes, Node{
			Path:     fmt.Sprintf("paragraphs[%d]", len(nodes)),
			Content:  para,
			NodeType: TypeParagraph,
		})
	}
	return nodes, nil
}

func (p *textParser) Reconstruct(nodes []Node) (string, error) {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, fmt.Sprintf("%v", n.Content))
	}
	return strings.Join(parts, "\n\n"), nil
}
