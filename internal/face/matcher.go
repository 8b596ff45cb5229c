package face

import (
	"fmt"
	"math"
)

// Candidate is one enrolled identity and its embedding.
type Candidate struct {
	Identity string
	Vector   []float32
}

// Match is the matcher's verdict for a probe.
type Match struct {
	Identity   string
	Similarity float64
	OK         bool
}

// Matcher compares probe embeddings against enrolled candidates.
//
// Similarity is raw cosine clamped to [0, 1]: negatively correlated vectors
// score zero rather than below it, so the threshold lives on the same
// percentage-like scale the verdict messages report.
type Matcher struct {
	Threshold float64
}

// NewMatcher creates a matcher with the given accept threshold.
func NewMatcher(threshold float64) *Matcher {
	return &Matcher{Threshold: threshold}
}

// Similarity computes the clamped cosine similarity of two vectors. Vectors
// of differing or zero length are a hard error, not a zero score; a
// zero-magnitude vector scores zero.
func Similarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp against floating point drift, then floor at zero.
	if cos > 1 {
		cos = 1
	}
	if cos < 0 {
		cos = 0
	}
	return cos, nil
}

// FindBestMatch scores the probe against every candidate and returns the
// highest-scoring one. Ties keep the first-seen candidate. OK reports
// whether the best similarity reached the threshold; an empty candidate set
// is ErrNoEnrollments so callers can tell "nobody enrolled" from "no match".
func (m *Matcher) FindBestMatch(probe []float32, candidates []Candidate) (Match, error) {
	if len(candidates) == 0 {
		return Match{}, ErrNoEnrollments
	}

	best := Match{Similarity: -1}
	for _, cand := range candidates {
		sim, err := Similarity(probe, cand.Vector)
		if err != nil {
			return Match{}, err
		}
		if sim > best.Similarity {
			best.Identity = cand.Identity
			best.Similarity = sim
		}
	}
	best.OK = best.Similarity >= m.Threshold
	return best, nil
}
