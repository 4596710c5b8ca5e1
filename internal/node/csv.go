package node

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// csvParser turns a CSV document into one row node per data row, with the
// header row's column names as object keys.
type csvParser struct{}

func (p *csvParser) Name() string  { return "csv" }
func (p *csvParser) Priority() int { return 15 }

func (p *csvParser) CanParse(payload any, hint string) bool {
	s, ok := payload.(string)
	if !ok {
		return false
	}
	if hint == "csv" {
		return true
	}
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) < 2 {
		return false
	}
	commas := strings.Count(lines[0], ",")
	return commas >= 1 && strings.Count(lines[1], ",") == commas
}

func (p *csvParser) Parse(payload any) ([]Node, error) {
	s, ok := payload.(string)
	if !ok {
		return nil, fmt.Errorf("csv parser requires text input")
	}
	records, err := csv.NewReader(strings.NewReader(s)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv needs a header row and at least one data row")
	}

	header := records[0]
	nodes := make([]Node, 0, len(records)-1)
	for i, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for j, col := range header {
			if j < len(rec) {
				row[col] = rec[j]
			}
		}
		nodes = append(nodes, Node{
			Path:     fmt.Sprintf("rows[%d]", i),
			Content:  row,
			NodeType: TypeRow,
		})
	}
	return nodes, nil
}

func (p *csvParser) Reconstruct(nodes []Node) (string, error) {
	if len(nodes) == 0 {
		return "", nil
	}
	first, ok := nodes[0].Content.(map[string]any)
	if !ok {
		return "", fmt.Errorf("csv reconstruction requires row nodes")
	}
	header := sortedKeys(first)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", err
	}
	for _, n := range nodes {
		row, ok := n.Content.(map[string]any)
		if !ok {
			continue
		}
		rec := make([]string, len(header))
		for i, col := range header {
			rec[i] = fmt.Sprintf("%v", row[col])
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
