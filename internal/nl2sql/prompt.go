package nl2sql

import (
	"fmt"
	"slices"
	"strings"
)

const (
	PromptOption1 = "option_1"
	PromptOption2 = "option_2"
	PromptOption3 = "option_3"
)

var DefaultRulesGroups = []int{1, 3, 4}

type promptTemplate struct {
	preamble     string
	schemaHeader string
	demoHeader   string
	question     string
}

var promptTemplates = map[string]promptTemplate{
	PromptOption1: {
		preamble:     "/* Complete the SQLite query only and with no explanation. */",
		schemaHeader: "/* Given the following database schema: */",
		demoHeader:   "/* Some example questions and corresponding SQL queries are provided: */",
		question:     "/* Answer the following question: %s */",
	},
	PromptOption2: {
		preamble:     "### Complete sqlite SQL query only and with no explanation",
		schemaHeader: "### SQLite SQL tables, with their properties:",
		demoHeader:   "### Here are some examples:",
		question:     "### Answer the following question: %s",
	},
	PromptOption3: {
		preamble:     "You are a SQLite expert. Write one SQL query that answers the question. Return only SQL.",
		schemaHeader: "Database schema:",
		demoHeader:   "Examples:",
		question:     "Question: %s",
	},
}

func PromptOptions() []string {
	options := make([]string, 0, len(promptTemplates))
	for name := range promptTemplates {
		options = append(options, name)
	}
	slices.Sort(options)
	return options
}

func BuildPrompt(option, question, schemaText, demonstrations string) (string, error) {
	option = strings.TrimSpace(option)
	if option == "" {
		option = PromptOption1
	}
	tmpl, ok := promptTemplates[option]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q (known: %s)", option, strings.Join(PromptOptions(), ", "))
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}

	sections := []string{tmpl.preamble}
	if schemaText = strings.TrimSpace(schemaText); schemaText != "" {
		sections = append(sections, tmpl.schemaHeader+"\n"+schemaText)
	}
	if demonstrations = strings.TrimSpace(demonstrations); demonstrations != "" {
		sections = append(sections, tmpl.demoHeader+"\n"+demonstrations)
	}
	sections = append(sections, fmt.Sprintf(tmpl.question, question)+"\nSELECT")
	return strings.Join(sections, "\n\n"), nil
}

var correctionRules = map[int][]string{
	1: {
		"Use only the tables and columns listed in the schema.",
		"Join tables on their primary and foreign keys and qualify ambiguous columns.",
	},
	2: {
		"Select only the columns the question asks for, in the order it asks for them.",
	},
	3: {
		"Use GROUP BY whenever an aggregate is combined with non-aggregated columns.",
		"Use DISTINCT only when the question asks for unique values.",
	},
	4: {
		"Match string literals to the values stored in the database, including case.",
		"Use ORDER BY with LIMIT for superlatives such as highest or youngest.",
	},
	5: {
		"Prefer JOIN or IN over correlated subqueries when both are correct.",
		"Use EXCEPT, INTERSECT and UNION only when the question combines sets.",
	},
}

func RulesGroups() []int {
	groups := make([]int, 0, len(correctionRules))
	for group := range correctionRules {
		groups = append(groups, group)
	}
	slices.Sort(groups)
	return groups
}

func BuildCorrectionPrompt(question, sql, schemaText string, rulesGroups []int) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", fmt.Errorf("sql is required")
	}
	if len(rulesGroups) == 0 {
		rulesGroups = DefaultRulesGroups
	}
	groups := slices.Clone(rulesGroups)
	slices.Sort(groups)
	groups = slices.Compact(groups)

	var b strings.Builder
	b.WriteString("#### For the given question, use the provided schema to fix the given SQLite query for any issues.\n")
	b.WriteString("#### If there are no issues, return the query unchanged.\n")
	b.WriteString("#### Use the following instructions for fixing the query:\n")
	number := 0
	for _, group := range groups {
		rules, ok := correctionRules[group]
		if !ok {
			return "", fmt.Errorf("unknown rules group %d (known: %v)", group, RulesGroups())
		}
		for _, rule := range rules {
			number++
			fmt.Fprintf(&b, "%d) %s\n", number, rule)
		}
	}
	if schemaText = strings.TrimSpace(schemaText); schemaText != "" {
		b.WriteString("\n### Schema:\n")
		b.WriteString(schemaText)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n### Question: %s\n", question)
	b.WriteString("### SQLite query:\n")
	b.WriteString(sql)
	b.WriteString("\n### Fixed SQLite query:\nSELECT")
	return b.String(), nil
}
