// Package lexical ranks courses by saturating term-frequency relevance (BM25).
package lexical

import (
	"math"

	"github.com/kailas-cloud/coursedex/internal/domain/course"
)

// Default BM25 parameters.
const (
	DefaultK1          = 1.5 // term-frequency saturation
	DefaultB           = 0.75
	DefaultTitleWeight = 3
)

// Options tune index construction.
type Options struct {
	K1          float64
	B           float64
	TitleWeight int
}

func (o Options) withDefaults() Options {
	if o.K1 <= 0 {
		o.K1 = DefaultK1
	}
	if o.B <= 0 {
		o.B = DefaultB
	}
	if o.TitleWeight < 1 {
		o.TitleWeight = DefaultTitleWeight
	}
	return o
}

type docStats struct {
	termFreq map[string]int
	length   int
}

// Index is a keyword-frequency ranking structure over the catalog. Immutable
// after Build; safe for unsynchronized concurrent reads.
type Index struct {
	opts      Options
	docs      map[string]docStats // keyed by course ID
	idf       map[string]float64
	avgDocLen float64
}

// Build tokenizes every course's searchable text and computes document
// frequencies and inverse document frequencies over the corpus.
func Build(courses []*course.Course, opts Options) *Index {
	opts = opts.withDefaults()

	ix := &Index{
		opts: opts,
		docs: make(map[string]docStats, len(courses)),
		idf:  make(map[string]float64),
	}

	docFreq := make(map[string]int)
	totalLen := 0

	for _, c := range courses {
		tokens := Tokenize(c.SearchText(opts.TitleWeight))

		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			docFreq[term]++
		}

		ix.docs[c.ID()] = docStats{termFreq: tf, length: len(tokens)}
		totalLen += len(tokens)
	}

	n := float64(len(courses))
	if n > 0 {
		ix.avgDocLen = float64(totalLen) / n
	}
	for term, df := range docFreq {
		ix.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1)
	}

	return ix
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.docs) }

// Score computes the BM25 score of a course against pre-tokenized query
// terms. Terms absent from the corpus contribute zero; a query with no corpus
// overlap scores 0 for every course.
func (ix *Index) Score(queryTokens []string, courseID string) float64 {
	doc, ok := ix.docs[courseID]
	if !ok || doc.length == 0 || ix.avgDocLen == 0 {
		return 0
	}

	lenNorm := ix.opts.K1 * (1 - ix.opts.B + ix.opts.B*float64(doc.length)/ix.avgDocLen)

	score := 0.0
	for _, term := range queryTokens {
		tf := float64(doc.termFreq[term])
		if tf == 0 {
			continue
		}
		idf, ok := ix.idf[term]
		if !ok {
			continue
		}
		score += idf * (tf * (ix.opts.K1 + 1)) / (tf + lenNorm)
	}
	return score
}
