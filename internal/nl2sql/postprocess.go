package nl2sql

import "strings"

func PostprocessSQL(text string) string {
	sql := strings.Join(strings.Fields(stripLineComments(stripMarkdownSQL(text))), " ")
	if cut, _, found := strings.Cut(sql, "/*"); found {
		sql = strings.TrimSpace(cut)
	}
	if !hasSelectPrefix(sql) {
		sql = "SELECT " + sql
	}
	return sql + "\n"
}

func stripLineComments(text string) string {
	var b strings.Builder
	inString := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\'':
			inString = !inString
		case !inString && c == '-' && i+1 < len(text) && text[i+1] == '-':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end - 1
			continue
		case c == '\n':
			inString = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func hasSelectPrefix(sql string) bool {
	return len(sql) >= len("SELECT") && strings.EqualFold(sql[:len("SELECT")], "SELECT")
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
