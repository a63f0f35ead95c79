package demonstration

import "strings"

const DefaultDemonstrationTemplate = "### Answer the following question: {question}\n{sql_query}"

type Pair struct {
	Question string `json:"question"`
	Query    string `json:"query"`
}

func PairsFromExamples(examples []Example) []Pair {
	pairs := make([]Pair, len(examples))
	for i, ex := range examples {
		pairs[i] = Pair{Question: ex.Question, Query: ex.Query}
	}
	return pairs
}

func Render(pairs []Pair, template string) string {
	if len(pairs) == 0 {
		return ""
	}
	blocks := make([]string, len(pairs))
	for i, pair := range pairs {
		replacer := strings.NewReplacer("{question}", pair.Question, "{sql_query}", pair.Query)
		blocks[i] = replacer.Replace(template)
	}
	return strings.Join(blocks, "\n\n")
}
