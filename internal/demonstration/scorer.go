package demonstration

import (
	"strings"
	"unicode"
)

type QueryContext struct {
	Question       string
	QuestionTokens []string
}

type Scorer interface {
	Score(qc QueryContext, ex Example) (float64, error)
}

type ScorerFunc func(qc QueryContext, ex Example) (float64, error)

func (f ScorerFunc) Score(qc QueryContext, ex Example) (float64, error) {
	return f(qc, ex)
}

type JaccardScorer struct{}

func (JaccardScorer) Score(qc QueryContext, ex Example) (float64, error) {
	if qc.QuestionTokens == nil {
		return 0, &InvalidInputError{Field: "question_tokens"}
	}
	return jaccard(newTokenSet(qc.QuestionTokens), newTokenSet(ex.QuestionTokens)), nil
}

type tokenSet map[string]struct{}

func newTokenSet(tokens []string) tokenSet {
	set := make(tokenSet, len(tokens))
	for _, token := range tokens {
		normalized, ok := normalizeToken(token)
		if !ok {
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}

func normalizeToken(token string) (string, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	for _, r := range token {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return token, true
		}
	}
	return "", false
}

func jaccard(a, b tokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for token := range small {
		if _, ok := large[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
