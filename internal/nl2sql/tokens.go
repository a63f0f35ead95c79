package nl2sql

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Prompt prices in USD per 1k tokens.
var promptPricePer1K = map[string]float64{
	"gpt-4":         0.03,
	"gpt-3.5-turbo": 0.0005,
}

var loadCodec = sync.OnceValues(func() (tokenizer.Codec, error) {
	return tokenizer.ForModel(tokenizer.GPT4o)
})

func CountTokens(text string) (int, error) {
	codec, err := loadCodec()
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func estimateTokens(text string) int {
	count, err := CountTokens(text)
	if err != nil {
		return len(strings.Fields(text))
	}
	return count
}

func EstimateCost(model string, promptTokens int) float64 {
	if promptTokens <= 0 {
		return 0
	}
	model = strings.ToLower(strings.TrimSpace(model))
	price, ok := promptPricePer1K[model]
	if !ok {
		best := ""
		for family, familyPrice := range promptPricePer1K {
			if strings.HasPrefix(model, family+"-") && len(family) > len(best) {
				best, price = family, familyPrice
			}
		}
		if best == "" {
			return 0
		}
	}
	return float64(promptTokens) / 1000 * price
}
