package node

import (
	"fmt"
	"strings"
)

// markdownParser splits a document into heading, paragraph, code block,
// and list item nodes, preserving document order.
type markdownParser struct{}

func (p *markdownParser) Name() string  { return "markdown" }
func (p *markdownParser) Priority() int { return 20 }

func (p *markdownParser) CanParse(payload any, hint string) bool {
	s, ok := payload.(string)
	if !ok {
		return false
	}
	if hint == "markdown" || hint == "md" {
		return true
	}
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "# ") ||
		strings.Contains(s, "\n# ") ||
		strings.Contains(s, "\n## ") ||
		strings.Contains(s, "```")
}

func (p *markdownParser) Parse(payload any) ([]Node, error) {
	s, ok := payload.(string)
	if !ok {
		return nil, fmt.Errorf("markdown parser requires text input")
	}

	var nodes []Node
	emit := func(content string, t Type, meta map[string]string) {
		nodes = append(nodes, Node{
			Path:     fmt.Sprintf("blocks[%d]", len(nodes)),
			Content:  content,
			NodeType: t,
			Metadata: meta,
		})
	}

	lines := strings.Split(s, "\n")
	var para []string
	flushPara := func() {
		if len(para) > 0 {
			emit(strings.Join(para, " "), TypeParagraph, nil)
			para = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "```"):
			flushPara()
			var code []string
			for i++; i < len(lines); i++ {
				if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
					break
				}
				code = append(code, lines[i])
			}
			// The info string may carry extra attributes after the
			// language token (```go filename=x); only the first token
			// names the language.
			info := strings.Fields(strings.TrimPrefix(trimmed, "```"))
			meta := map[string]string{}
			if len(info) > 0 {
				meta["language"] = info[0]
			}
			emit(strings.Join(code, "\n"), TypeCodeBlock, meta)

		case strings.HasPrefix(trimmed, "#"):
			flushPara()
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			text := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			emit(text, TypeHeading, map[string]string{"level": fmt.Sprintf("%d", level)})

		case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "+ "):
			flushPara()
			emit(strings.TrimSpace(trimmed[2:]), TypeListItem, nil)

		case trimmed == "":
			flushPara()

		default:
			para = append(para, trimmed)
		}
	}
	flushPara()

	if len(nodes) == 0 {
		return nil, fmt.Errorf("markdown document produced no blocks")
	}
	return nodes, nil
}

func (p *markdownParser) Reconstruct(nodes []Node) (string, error) {
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteString("\n\n")
		}
		text := fmt.Sprintf("%v", n.Content)
		switch n.NodeType {
		case TypeHeading:
			level := 1
			if l, ok := n.Metadata["level"]; ok {
				fmt.Sscanf(l, "%d", &level)
			}
			b.WriteString(strings.Repeat("#", level) + " " + text)
		case TypeCodeBlock:
			b.WriteString("```" + n.Metadata["language"] + "\n" + text + "\n```")
		case TypeListItem:
			b.WriteString("- " + text)
		default:
			b.WriteString(text)
		}
	}
	return b.String(), nil
}
