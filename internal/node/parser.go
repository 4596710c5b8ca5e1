package node

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/contex-io/contex/pkg/models"
)

// Parser is one format handler in the chain. Parsers are pure: the same
// payload yields the identical node list, and malformed input returns an
// error instead of panicking so the chain can fall through.
type Parser interface {
	// Name is the canonical format name ("json", "csv", ...).
	Name() string
	// Priority orders the chain; lower runs first.
	Priority() int
	// CanParse reports whether this parser should handle the payload,
	// either because the hint names it or because sniffing accepts.
	CanParse(payload any, hint string) bool
	// Parse decomposes the payload into nodes.
	Parse(payload any) ([]Node, error)
	// Reconstruct folds nodes back into a textual rendering of the
	// format. Not required to be a bit-exact inverse of Parse.
	Reconstruct(nodes []Node) (string, error)
}

// Result is the outcome of running the chain.
type Result struct {
	Nodes  []Node
	Format string
}

// Chain tries parsers in priority order. Plain text is always present
// as the terminal fallback.
type Chain struct {
	parsers []Parser
}

// NewChain builds the default chain: JSON, YAML, CSV, Markdown, plain text.
func NewChain() *Chain {
	c := &Chain{}
	for _, p := range []Parser{
		&jsonParser{},
		&yamlParser{},
		&csvParser{},
		&markdownParser{},
		&textParser{},
	} {
		c.Register(p)
	}
	return c
}

// Register adds a parser and keeps the chain sorted by priority.
func (c *Chain) Register(p Parser) {
	c.parsers = append(c.parsers, p)
	sort.SliceStable(c.parsers, func(i, j int) bool {
		return c.parsers[i].Priority() < c.parsers[j].Priority()
	})
}

// Parse runs the chain. The first parser whose CanParse accepts handles
// the payload; a parse failure falls through to the next parser.
func (c *Chain) Parse(payload any, hint string) (*Result, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", models.ErrParse)
	}
	if s, ok := payload.(string); ok && s == "" {
		return nil, fmt.Errorf("%w: empty payload", models.ErrParse)
	}

	for _, p := range c.parsers {
		if !p.CanParse(payload, hint) {
			continue
		}
		nodes, err := p.Parse(payload)
		if err != nil {
			log.Debug().Str("parser", p.Name()).Err(err).Msg("Parser rejected payload, falling through")
			continue
		}
		for i := range nodes {
			if nodes[i].Metadata == nil {
				nodes[i].Metadata = map[string]string{}
			}
			nodes[i].Metadata["data_format"] = p.Name()
		}
		return &Result{Nodes: nodes, Format: p.Name()}, nil
	}
	return nil, fmt.Errorf("%w: no parser accepted payload", models.ErrParse)
}

// Reconstruct renders nodes in the named format using the matching parser.
func (c *Chain) Reconstruct(nodes []Node, format string) (string, error) {
	for _, p := range c.parsers {
		if p.Name() == format {
			return p.Reconstruct(nodes)
		}
	}
	return "", fmt.Errorf("%w: unknown format %q", models.ErrParse, format)
}
