package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/agentsql/agentsql/internal/demonstration"
)

const maxWikiSQLLine = 4 << 20

var (
	wikiAggOps  = []string{"", "MAX", "MIN", "COUNT", "SUM", "AVG"}
	wikiCondOps = []string{"=", ">", "<", "OP"}

	wikiNumberPattern = regexp.MustCompile(`[-+]?\d*\.\d+|\d+`)
	wikiSelectPattern = regexp.MustCompile(`(?is)^\s*SELECT\s+(?:(MAX|MIN|COUNT|SUM|AVG)\s*\(\s*(.+?)\s*\)|(.+?))\s+(?:AS\s+\w+\s+)?FROM\s+\S+(?:\s+WHERE\s+(.+?))?\s*;?\s*$`)
	wikiAndPattern    = regexp.MustCompile(`(?i)\s+AND\s+`)
	wikiCondPattern   = regexp.MustCompile(`(?s)^(.+?)\s*([=<>])\s*(.+)$`)
)

type WikiTable struct {
	ID     string   `json:"id"`
	Header []string `json:"header"`
	Types  []string `json:"types"`
}

// WikiCondition is encoded as [column, operator, value].
type WikiCondition struct {
	Column   int
	Operator int
	Value    any
}

func (c *WikiCondition) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode condition: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("condition has %d elements, want 3", len(raw))
	}
	if err := json.Unmarshal(raw[0], &c.Column); err != nil {
		return fmt.Errorf("decode condition column: %w", err)
	}
	if err := json.Unmarshal(raw[1], &c.Operator); err != nil {
		return fmt.Errorf("decode condition operator: %w", err)
	}
	if err := json.Unmarshal(raw[2], &c.Value); err != nil {
		return fmt.Errorf("decode condition value: %w", err)
	}
	return nil
}

func (c WikiCondition) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.Column, c.Operator, c.Value})
}

type WikiQuery struct {
	Select     int             `json:"sel"`
	Aggregate  int             `json:"agg"`
	Conditions []WikiCondition `json:"conds"`
}

type wikiRecord struct {
	TableID  string    `json:"table_id"`
	Question string    `json:"question"`
	SQL      WikiQuery `json:"sql"`
}

func WikiTableName(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "table") {
		return id
	}
	return "table_" + strings.ReplaceAll(id, "-", "_")
}

func (q WikiQuery) SQL(table WikiTable) (string, error) {
	selectExpr, err := wikiColumn(table, q.Select)
	if err != nil {
		return "", err
	}
	if q.Aggregate < 0 || q.Aggregate >= len(wikiAggOps) {
		return "", fmt.Errorf("invalid aggregate index %d", q.Aggregate)
	}
	if agg := wikiAggOps[q.Aggregate]; agg != "" {
		selectExpr = agg + "(" + selectExpr + ")"
	}

	where := make([]string, 0, len(q.Conditions))
	for _, cond := range q.Conditions {
		column, err := wikiColumn(table, cond.Column)
		if err != nil {
			return "", err
		}
		if cond.Operator < 0 || cond.Operator >= len(wikiCondOps) {
			return "", fmt.Errorf("invalid condition operator %d", cond.Operator)
		}
		columnType := ""
		if cond.Column < len(table.Types) {
			columnType = table.Types[cond.Column]
		}
		value, err := wikiLiteral(cond.Value, columnType)
		if err != nil {
			return "", err
		}
		where = append(where, column+" "+wikiCondOps[cond.Operator]+" "+value)
	}

	sql := fmt.Sprintf("SELECT %s AS result FROM %s", selectExpr, WikiTableName(table.ID))
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql, nil
}

func ParseWikiQuery(sql string, headers []string) (WikiQuery, error) {
	match := wikiSelectPattern.FindStringSubmatch(sql)
	if match == nil {
		return WikiQuery{}, fmt.Errorf("unsupported query: %q", sql)
	}

	var q WikiQuery
	column := match[3]
	if match[1] != "" {
		q.Aggregate = indexFold(wikiAggOps, match[1])
		column = match[2]
	}
	selected, err := headerIndex(headers, column)
	if err != nil {
		return WikiQuery{}, err
	}
	q.Select = selected

	if strings.TrimSpace(match[4]) == "" {
		return q, nil
	}
	for _, part := range wikiAndPattern.Split(match[4], -1) {
		condMatch := wikiCondPattern.FindStringSubmatch(strings.TrimSpace(part))
		if condMatch == nil {
			return WikiQuery{}, fmt.Errorf("unsupported condition: %q", part)
		}
		col, err := headerIndex(headers, condMatch[1])
		if err != nil {
			return WikiQuery{}, err
		}
		value, err := parseWikiValue(condMatch[3])
		if err != nil {
			return WikiQuery{}, err
		}
		q.Conditions = append(q.Conditions, WikiCondition{
			Column:   col,
			Operator: indexFold(wikiCondOps, condMatch[2]),
			Value:    value,
		})
	}
	return q, nil
}

func WikiSchemaStatement(table WikiTable) string {
	columns := make([]string, len(table.Header))
	for i, name := range table.Header {
		columnType := "text"
		if i < len(table.Types) && table.Types[i] != "" {
			columnType = table.Types[i]
		}
		columns[i] = quoteIdentifier(name) + " " + columnType
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", WikiTableName(table.ID), strings.Join(columns, ", "))
}

func (l *Loader) loadWikiSQL(ctx context.Context, split string) ([]demonstration.Example, error) {
	tables, err := l.readWikiTables(ctx, split)
	if err != nil {
		return nil, err
	}

	var examples []demonstration.Example
	err = l.readJSONLines(ctx, split+".jsonl", func(line int, data []byte) error {
		var rec wikiRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		table, ok := tables[WikiTableName(rec.TableID)]
		if !ok {
			return fmt.Errorf("line %d: unknown table %q", line, rec.TableID)
		}
		sql, err := rec.SQL.SQL(table)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		examples = append(examples, demonstration.Example{
			Idx:            len(examples),
			DBID:           WikiTableName(rec.TableID),
			Question:       rec.Question,
			QuestionTokens: l.tokenizer.Tokenize(rec.Question),
			Query:          sql,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s split: %w", split, err)
	}
	return examples, nil
}

func (l *Loader) LoadWikiSQLSchemas(ctx context.Context, splits ...string) (map[string][]string, error) {
	statements := map[string][]string{}
	found := false
	for _, split := range splits {
		if !validSplit(split) {
			return nil, fmt.Errorf("unknown split %q", split)
		}
		tables, err := l.readWikiTables(ctx, split)
		if errors.Is(err, ErrFileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = true
		for name, table := range tables {
			statements[name] = []string{WikiSchemaStatement(table)}
		}
	}
	if !found {
		return nil, fmt.Errorf("load wikisql schemas: %w", ErrFileNotFound)
	}
	return statements, nil
}

func (l *Loader) readWikiTables(ctx context.Context, split string) (map[string]WikiTable, error) {
	tables := map[string]WikiTable{}
	err := l.readJSONLines(ctx, split+".tables.jsonl", func(line int, data []byte) error {
		var table WikiTable
		if err := json.Unmarshal(data, &table); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if strings.TrimSpace(table.ID) == "" {
			return fmt.Errorf("line %d: table id is required", line)
		}
		tables[WikiTableName(table.ID)] = table
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s tables: %w", split, err)
	}
	return tables, nil
}

func (l *Loader) readJSONLines(ctx context.Context, name string, fn func(line int, data []byte) error) error {
	reader, err := l.source.Open(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxWikiSQLLine)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if err := fn(line, data); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return nil
}

func wikiColumn(table WikiTable, index int) (string, error) {
	if index < 0 || index >= len(table.Header) {
		return "", fmt.Errorf("column index %d out of range for table %s", index, table.ID)
	}
	return quoteIdentifier(table.Header[index]), nil
}

func wikiLiteral(value any, columnType string) (string, error) {
	switch typed := value.(type) {
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	case string:
		if columnType == "real" {
			if number, ok := parseWikiNumber(typed); ok {
				return strconv.FormatFloat(number, 'f', -1, 64), nil
			}
		}
		return "'" + strings.ReplaceAll(strings.ToLower(typed), "'", "''") + "'", nil
	default:
		return "", fmt.Errorf("unsupported condition value %#v", value)
	}
}

func parseWikiNumber(value string) (float64, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if number, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return number, true
	}
	found := wikiNumberPattern.FindString(value)
	if found == "" {
		return 0, false
	}
	number, err := strconv.ParseFloat(found, 64)
	return number, err == nil
}

func parseWikiValue(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"), nil
	}
	number, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("unsupported condition value %q", raw)
	}
	return number, nil
}

func headerIndex(headers []string, column string) (int, error) {
	column = unquoteIdentifier(strings.TrimSpace(column))
	for i, header := range headers {
		if header == column {
			return i, nil
		}
	}
	for i, header := range headers {
		if strings.EqualFold(header, column) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown column %q", column)
}

func indexFold(values []string, value string) int {
	for i, candidate := range values {
		if strings.EqualFold(candidate, value) {
			return i
		}
	}
	return 0
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func unquoteIdentifier(name string) string {
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return strings.ReplaceAll(name[1:len(name)-1], `""`, `"`)
	}
	return name
}
