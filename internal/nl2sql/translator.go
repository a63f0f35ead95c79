package nl2sql

import "context"

type Request struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type Result struct {
	Text             string  `json:"text"`
	SQL              string  `json:"sql"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
