package articles

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/sophia/internal/recovery"
)

func table(columns []string, rows ...[]string) recovery.CleanTable {
	t := recovery.CleanTable{Columns: columns}
	for i, r := range rows {
		t.Records = append(t.Records, recovery.Record{Line: i + 2, Values: r})
	}
	return t
}

// ----------------------------------------------------------------------------
// FromTable Tests
// ----------------------------------------------------------------------------

func TestFromTable(t *testing.T) {
	tbl := table(
		[]string{"date", "country", "media_outlet", "text", "title", "url"},
		[]string{"2023-01-05", "Chile", "El Mercurio", "Lluvias", "Temporal", "http://a.cl/1"},
		[]string{"", "Peru", "El Comercio", "", "", ""},
		[]string{"someday", "Chile", " La Tercera ", "Cuerpo", "", ""},
	)

	batch, err := FromTable(tbl)
	require.NoError(t, err)

	require.Len(t, batch.Articles, 2)
	first := batch.Articles[0]
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "Chile", first.Country)
	assert.Equal(t, "Temporal", first.Title)
	require.NotNil(t, first.Date)
	assert.Equal(t, time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), *first.Date)

	second := batch.Articles[1]
	assert.Equal(t, "La Tercera", second.MediaOutlet)
	assert.Nil(t, second.Date)
	assert.Equal(t, 1, batch.BadDates)

	require.Len(t, batch.Failed, 1)
	assert.Equal(t, FailedRow{Line: 3, Reason: "missing title and text"}, batch.Failed[0])
}

func TestFromTable_SpanishColumns(t *testing.T) {
	tbl := table(
		[]string{"Titulo", "texto_noticia", "fecha_subida", "medio", "pais"},
		[]string{"Sismo", "Alerta", "07/01/2023", "BioBio", "Chile"},
	)

	batch, err := FromTable(tbl)
	require.NoError(t, err)
	require.Len(t, batch.Articles, 1)

	a := batch.Articles[0]
	assert.Equal(t, "Sismo", a.Title)
	assert.Equal(t, "Alerta", a.Text)
	assert.Equal(t, "BioBio", a.MediaOutlet)
	require.NotNil(t, a.Date)
	assert.Equal(t, time.January, a.Date.Month())
	assert.Equal(t, 7, a.Date.Day())
}

func TestFromTable_QuotedExportHeader(t *testing.T) {
	p, err := recovery.New(recovery.DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	input := "date,country,\"\"media_outlet\"\",text,title,url;\n" +
		"2023-01-05,Chile,El Mercurio,Lluvia,Temporal,http://a.cl/1;\n"
	res, err := p.RecoverReader(context.Background(), strings.NewReader(input), "dataset.csv")
	require.NoError(t, err)
	require.Equal(t, `media_outlet"`, res.Table.Columns[2])

	batch, err := FromTable(res.Table)
	require.NoError(t, err)
	require.Len(t, batch.Articles, 1)
	assert.Equal(t, "El Mercurio", batch.Articles[0].MediaOutlet)

	cols := ResolveColumns([]string{`"Titulo"`, `"media_outlet"`})
	assert.Equal(t, 0, cols[FieldTitle])
	assert.Equal(t, 1, cols[FieldMediaOutlet])
}

func TestFromTable_NotArticles(t *testing.T) {
	_, err := FromTable(table([]string{"a", "b"}, []string{"1", "2"}))
	assert.ErrorIs(t, err, ErrNotArticleTable)
}

func TestFromTable_DuplicateColumnLastWins(t *testing.T) {
	tbl := table([]string{"title", "title"}, []string{"first", "second"})
	batch, err := FromTable(tbl)
	require.NoError(t, err)
	assert.Equal(t, "second", batch.Articles[0].Title)
}

func TestArticle_Values(t *testing.T) {
	d := time.Date(2023, 3, 9, 0, 0, 0, 0, time.UTC)
	a := Article{Date: &d, Country: "Chile", MediaOutlet: "X", Title: "T", Text: "B", URL: "u"}
	assert.Equal(t, []string{"2023-03-09", "Chile", "X", "B", "T", "u"}, a.Values())
	assert.Len(t, Fields, len(a.Values()))
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	restore := now
	now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = restore })

	tests := []struct {
		input string
		want  time.Time
		ok    bool
	}{
		{"2023-01-05", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"2023-01-05 14:30:00", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"2023-01-05T14:30:00Z", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"05/01/2023", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"5.1.2023", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"Jan 5, 2023", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"05/01/23", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"05/01/68", time.Date(1968, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"  2023-01-05  ", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"yesterday", time.Time{}, false},
		{"31/02/2023", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseDate(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
		if tt.ok {
			assert.True(t, tt.want.Equal(got), "ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
