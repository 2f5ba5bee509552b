package facecode

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// CosineSimilarity scores two vectors after scaling every element by 1/255.
// It never fails: nil or mismatched inputs, non-finite elements and
// zero-norm vectors all score 0. For vectors with non-negative elements the
// result lies in [0, 1].
func CosineSimilarity(a, b []float64) float64 {
	if a == nil || b == nil || len(a) != len(b) {
		return 0
	}

	na, ok := normalize(a)
	if !ok {
		return 0
	}
	nb, ok := normalize(b)
	if !ok {
		return 0
	}

	normA := floats.Dot(na, na)
	normB := floats.Dot(nb, nb)
	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := floats.Dot(na, nb) / math.Sqrt(normA*normB)
	// rounding can push the self-score a hair past 1
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity
}

// Similarity scores the feature vectors of two face codes.
func Similarity(a, b FaceCode) float64 {
	return CosineSimilarity(a.Vector(), b.Vector())
}

func normalize(v []float64) ([]float64, bool) {
	out := make([]float64, len(v))
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		out[i] = x / FeatureModulus
	}
	return out, true
}
