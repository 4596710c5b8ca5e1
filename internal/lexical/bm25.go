// Package lexical provides the optional BM25 side of hybrid retrieval:
// an in-process inverted index over node embedding text. Only result
// ranks are exposed; the matcher fuses them with vector ranks by RRF.
package lexical

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// BM25 free parameters. Standard Okapi values.
const (
	k1 = 1.2
	b  = 0.75
)

// MemoryIndex is a per-project BM25 inverted index. Documents are keyed
// by node_key and replaced wholesale on re-index.
type MemoryIndex struct {
	mu       sync.RWMutex
	projects map[string]*projectIndex
}

type projectIndex struct {
	docs     map[string]*document // node_key → document
	df       map[string]int       // term → number of docs containing it
	totalLen int
}

type document struct {
	tf     map[string]int
	length int
}

// NewMemoryIndex creates an empty lexical index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{projects: make(map[string]*projectIndex)}
}

// Index adds or replaces the document for nodeKey.
func (ix *MemoryIndex) Index(ctx context.Context, project, nodeKey, text string) error {
	terms := analyze(text)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	p := ix.projects[project]
	if p == nil {
		p = &projectIndex{docs: make(map[string]*document), df: make(map[string]int)}
		ix.projects[project] = p
	}

	p.remove(nodeKey)

	doc := &document{tf: make(map[string]int, len(terms)), length: len(terms)}
	for _, t := range terms {
		doc.tf[t]++
	}
	for t := range doc.tf {
		p.df[t]++
	}
	p.docs[nodeKey] = doc
	p.totalLen += doc.length
	return nil
}

// Search returns node_keys in BM25 order, best first, up to size.
// Ties break by node_key ascending so results are deterministic.
func (ix *MemoryIndex) Search(ctx context.Context, project, query string, size int) ([]string, error) {
	terms := analyze(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	p := ix.projects[project]
	if p == nil || len(p.docs) == 0 || len(terms) == 0 {
		return nil, nil
	}

	n := float64(len(p.docs))
	avgLen := float64(p.totalLen) / n

	scores := make(map[string]float64)
	for _, term := range terms {
		df := p.df[term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		for key, doc := range p.docs {
			tf := doc.tf[term]
			if tf == 0 {
				continue
			}
			norm := float64(tf) * (k1 + 1) /
				(float64(tf) + k1*(1-b+b*float64(doc.length)/avgLen))
			scores[key] += idf * norm
		}
	}

	type hit struct {
		key   string
		score float64
	}
	hits := make([]hit, 0, len(scores))
	for key, score := range scores {
		hits = append(hits, hit{key, score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].key < hits[j].key
	})

	if size > 0 && len(hits) > size {
		hits = hits[:size]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.key
	}
	return out, nil
}

// RemovePrefix drops documents belonging to the data_key: the key
// itself and anything under "dataKey.".
func (ix *MemoryIndex) RemovePrefix(ctx context.Context, project, dataKey string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	p := ix.projects[project]
	if p == nil {
		return nil
	}
	for key := range p.docs {
		if key == dataKey || strings.HasPrefix(key, dataKey+".") {
			p.remove(key)
		}
	}
	return nil
}

// Clear drops all documents for the project.
func (ix *MemoryIndex) Clear(ctx context.Context, project string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.projects, project)
	return nil
}

// remove deletes one document and unwinds its df contributions.
// Caller holds the write lock.
func (p *projectIndex) remove(nodeKey string) {
	doc, ok := p.docs[nodeKey]
	if !ok {
		return
	}
	for t := range doc.tf {
		p.df[t]--
		if p.df[t] <= 0 {
			delete(p.df, t)
		}
	}
	p.totalLen -= doc.length
	delete(p.docs, nodeKey)
}

func analyze(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
