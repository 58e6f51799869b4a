package recommend

import (
	"sort"

	"github.com/kailas-cloud/coursedex/internal/domain/course"
	"github.com/kailas-cloud/coursedex/internal/domain/rec"
)

// Default blend weights.
const (
	DefaultLexicalWeight  = 0.3
	DefaultSemanticWeight = 0.7
)

// Weights configure the lexical/semantic blend.
type Weights struct {
	Lexical  float64
	Semantic float64
}

func (w Weights) withDefaults() Weights {
	if w.Lexical == 0 && w.Semantic == 0 {
		return Weights{Lexical: DefaultLexicalWeight, Semantic: DefaultSemanticWeight}
	}
	return w
}

// combine normalizes raw scores across the candidate subset, blends them, and
// returns the candidates ranked and truncated to topK.
//
// Lexical scores are min-max scaled to [0,1]; when max equals min every
// normalized score is 0 (no divide by zero, no fake signal). Cosine
// similarity is rescaled linearly from [-1,1] to [0,1] via (sim+1)/2 —
// chosen over clamping because it preserves order over the whole range.
func combine(
	candidates []*course.Course,
	lexRaw, semRaw []float64,
	weights Weights,
	topK int,
) []rec.Recommendation {
	weights = weights.withDefaults()

	lexNorm := minMaxNormalize(lexRaw)

	out := make([]rec.Recommendation, len(candidates))
	for i, c := range candidates {
		semNorm := (semRaw[i] + 1) / 2
		combined := weights.Lexical*lexNorm[i] + weights.Semantic*semNorm
		out[i] = rec.NewRecommendation(c, combined, lexRaw[i], semRaw[i])
	}

	// Deterministic order: combined desc, then raw semantic desc, then ID asc.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CombinedScore() != out[j].CombinedScore() {
			return out[i].CombinedScore() > out[j].CombinedScore()
		}
		if out[i].SemanticScore() != out[j].SemanticScore() {
			return out[i].SemanticScore() > out[j].SemanticScore()
		}
		return out[i].Course().ID() < out[j].Course().ID()
	})

	if topK < len(out) {
		out = out[:topK]
	}
	return out
}

// minMaxNormalize scales values to [0,1]. All-equal inputs map to all zeros.
func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	minV, maxV := values[0], values[0]
	for _, v := range values[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	if maxV == minV {
		return out
	}

	spread := maxV - minV
	for i, v := range values {
		out[i] = (v - minV) / spread
	}
	return out
}
