package catalog

import (
	"regexp"
	"strings"
)

// SimilarityScorer decides whether two normalized article names denote the
// same product. Token-set Jaccard with a hard gate on dose signatures:
// "ANALGIN 250MG" never matches "ANALGIN 500MG" no matter the overlap.
type SimilarityScorer struct {
	Threshold float64
	dose      *regexp.Regexp
}

func NewSimilarityScorer() *SimilarityScorer {
	return &SimilarityScorer{
		Threshold: 0.8,
		dose:      regexp.MustCompile(`\d+(?:[.,]\d+)?\s?(?:MG|MCG|G|ML|L|IU|%)`),
	}
}

// Score returns the token-set Jaccard similarity of two normalized names,
// or 0 when their dose signatures are incompatible. Identical strings
// score 1 regardless of token count.
func (s *SimilarityScorer) Score(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if !s.dosesCompatible(a, b) {
		return 0
	}

	aTokens := tokenSet(a)
	bTokens := tokenSet(b)
	if len(aTokens) < 2 || len(bTokens) < 2 {
		return 0
	}
	inter := 0
	for tok := range aTokens {
		if _, ok := bTokens[tok]; ok {
			inter++
		}
	}
	union := len(aTokens) + len(bTokens) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Match reports whether the score clears the threshold.
func (s *SimilarityScorer) Match(a, b string) bool {
	return s.Score(a, b) >= s.Threshold
}

// dosesCompatible fails only when both names carry a dose signature and
// the signatures differ. A name without a dose never blocks a match.
func (s *SimilarityScorer) dosesCompatible(a, b string) bool {
	da := s.doseSignature(a)
	db := s.doseSignature(b)
	if da == "" || db == "" {
		return true
	}
	return da == db
}

func (s *SimilarityScorer) doseSignature(name string) string {
	parts := s.dose.FindAllString(name, -1)
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, " ", ""), ",", ".")
	}
	return strings.Join(parts, "|")
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		out[tok] = struct{}{}
	}
	return out
}
