package demonstration

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

type Tokenizer interface {
	Tokenize(text string) []string
}

type WordTokenizer struct {
	tokenizer analysis.Tokenizer
	filter    analysis.TokenFilter
}

func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{
		tokenizer: unicode.NewUnicodeTokenizer(),
		filter:    lowercase.NewLowerCaseFilter(),
	}
}

func (t *WordTokenizer) Tokenize(text string) []string {
	stream := t.filter.Filter(t.tokenizer.Tokenize([]byte(text)))
	tokens := make([]string, 0, len(stream))
	for _, token := range stream {
		tokens = append(tokens, string(token.Term))
	}
	return tokens
}
