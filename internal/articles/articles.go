// Package articles maps a recovered news table onto Article values.
//
// Column lookup is case-insensitive and accepts the Spanish names used by the
// search frontend (titulo, texto_noticia, fecha_subida, medio, pais) as well as
// the English export names.
package articles

import (
	"errors"
	"strings"
	"time"

	"github.com/JonMunkholm/sophia/internal/recovery"
)

// ErrNotArticleTable is returned when a table has neither a title nor a text
// column.
var ErrNotArticleTable = errors.New("table has no title or text column")

// Article is one news item.
type Article struct {
	ID          int64      `json:"id,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	Line        int        `json:"line"`
	Date        *time.Time `json:"date,omitempty"`
	Country     string     `json:"country,omitempty"`
	MediaOutlet string     `json:"media_outlet,omitempty"`
	Title       string     `json:"title,omitempty"`
	Text        string     `json:"text,omitempty"`
	URL         string     `json:"url,omitempty"`
}

// FailedRow is a record that could not become an Article.
type FailedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Batch is the result of mapping one table.
type Batch struct {
	Articles []Article
	Failed   []FailedRow

	// BadDates counts articles kept without a date because the value could
	// not be parsed.
	BadDates int
}

// Field identifies an article attribute.
type Field string

const (
	FieldDate        Field = "date"
	FieldCountry     Field = "country"
	FieldMediaOutlet Field = "media_outlet"
	FieldTitle       Field = "title"
	FieldText        Field = "text"
	FieldURL         Field = "url"
)

// Fields lists the article attributes in export order.
var Fields = []Field{FieldDate, FieldCountry, FieldMediaOutlet, FieldText, FieldTitle, FieldURL}

var aliases = map[Field][]string{
	FieldDate:        {"date", "fecha", "fecha_subida", "published_at"},
	FieldCountry:     {"country", "pais", "país", "medio.pais"},
	FieldMediaOutlet: {"media_outlet", "medio", "outlet", "medio.nombre"},
	FieldTitle:       {"title", "titulo", "título", "headline"},
	FieldText:        {"text", "texto", "texto_noticia", "body"},
	FieldURL:         {"url", "link"},
}

// Columns resolves each field to a column position, or -1 when absent.
type Columns map[Field]int

// ResolveColumns matches table column names against the known aliases,
// ignoring case and any quotes left around a name. When a name occurs twice
// the last occurrence wins, as it does for CleanTable.Value.
func ResolveColumns(columns []string) Columns {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[strings.Trim(strings.ToLower(strings.TrimSpace(c)), `"`)] = i
	}

	resolved := make(Columns, len(aliases))
	for field, names := range aliases {
		resolved[field] = -1
		for _, n := range names {
			if i, ok := index[n]; ok {
				resolved[field] = i
				break
			}
		}
	}
	return resolved
}

func (c Columns) has(f Field) bool { return c[f] >= 0 }

func (c Columns) get(f Field, values []string) string {
	i := c[f]
	if i < 0 || i >= len(values) {
		return ""
	}
	return strings.TrimSpace(values[i])
}

// FromTable maps every record of t to an Article. Records with neither a title
// nor a text are returned as FailedRow. Missing optional columns are left
// empty.
func FromTable(t recovery.CleanTable) (*Batch, error) {
	cols := ResolveColumns(t.Columns)
	if !cols.has(FieldTitle) && !cols.has(FieldText) {
		return nil, ErrNotArticleTable
	}

	batch := &Batch{Articles: make([]Article, 0, len(t.Records))}
	for _, rec := range t.Records {
		a := Article{
			Line:        rec.Line,
			Country:     cols.get(FieldCountry, rec.Values),
			MediaOutlet: cols.get(FieldMediaOutlet, rec.Values),
			Title:       cols.get(FieldTitle, rec.Values),
			Text:        cols.get(FieldText, rec.Values),
			URL:         cols.get(FieldURL, rec.Values),
		}

		if a.Title == "" && a.Text == "" {
			batch.Failed = append(batch.Failed, FailedRow{Line: rec.Line, Reason: "missing title and text"})
			continue
		}

		if raw := cols.get(FieldDate, rec.Values); raw != "" {
			if d, ok := ParseDate(raw); ok {
				a.Date = &d
			} else {
				batch.BadDates++
			}
		}

		batch.Articles = append(batch.Articles, a)
	}

	return batch, nil
}

// Values returns the article attributes in Fields order, for tabular export.
func (a Article) Values() []string {
	date := ""
	if a.Date != nil {
		date = a.Date.Format("2006-01-02")
	}
	return []string{date, a.Country, a.MediaOutlet, a.Text, a.Title, a.URL}
}
