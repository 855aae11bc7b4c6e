package store

import (
	"fmt"
	"strings"
	"time"
)

// WhereBuilder assembles a parameterized WHERE clause. Conditions are ANDed
// in the order they are added; placeholders are numbered from $1.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder returns an empty builder.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

func (wb *WhereBuilder) arg(v any) string {
	wb.args = append(wb.args, v)
	p := fmt.Sprintf("$%d", wb.argIndex)
	wb.argIndex++
	return p
}

// AddEqualFold adds a case-insensitive equality. Empty values are skipped.
func (wb *WhereBuilder) AddEqualFold(column, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions, "lower("+column+") = lower("+wb.arg(value)+")")
}

// AddValue adds "column = value" for a typed value, such as a pgtype.UUID.
func (wb *WhereBuilder) AddValue(column string, value any) {
	wb.conditions = append(wb.conditions, column+" = "+wb.arg(value))
}

// AddDateRange adds inclusive bounds. Nil bounds are skipped.
func (wb *WhereBuilder) AddDateRange(column string, from, to *time.Time) {
	if from != nil {
		wb.conditions = append(wb.conditions, column+" >= "+wb.arg(ToPgDate(from)))
	}
	if to != nil {
		wb.conditions = append(wb.conditions, column+" <= "+wb.arg(ToPgDate(to)))
	}
}

// AddSearch adds a case-insensitive substring match across columns, sharing
// one placeholder. LIKE wildcards in query are matched literally.
func (wb *WhereBuilder) AddSearch(query string, columns []string) {
	if query == "" || len(columns) == 0 {
		return
	}
	p := wb.arg("%" + escapeLike(query) + "%")
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = quoteIdentifier(c) + " ILIKE " + p
	}
	wb.conditions = append(wb.conditions, "("+strings.Join(parts, " OR ")+")")
}

// NextArgIndex returns the number of the next placeholder, for LIMIT and
// OFFSET appended after the clause.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// Build returns the clause, with a leading " WHERE", and its arguments. With
// no conditions it returns "" and nil.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// quoteIdentifier quotes a SQL identifier, doubling embedded quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
