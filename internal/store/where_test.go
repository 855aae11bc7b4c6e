package store

import (
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ============================================================================
// WhereBuilder Tests
// ============================================================================

func TestNewWhereBuilder(t *testing.T) {
	wb := NewWhereBuilder()

	if wb.argIndex != 1 {
		t.Errorf("expected argIndex to be 1, got %d", wb.argIndex)
	}
	if len(wb.conditions) != 0 || len(wb.args) != 0 {
		t.Errorf("expected empty builder, got %d conditions, %d args", len(wb.conditions), len(wb.args))
	}
}

func TestWhereBuilder_Build_Empty(t *testing.T) {
	whereClause, args := NewWhereBuilder().Build()

	if whereClause != "" {
		t.Errorf("expected empty string for no conditions, got %q", whereClause)
	}
	if args != nil {
		t.Errorf("expected nil args for no conditions, got %v", args)
	}
}

func TestWhereBuilder_Add_MultipleConditions(t *testing.T) {
	wb := NewWhereBuilder()
	wb.AddValue("status", "succeeded")
	wb.AddEqualFold("country", "")
	wb.AddValue("file_name", "dataset.csv")

	whereClause, args := wb.Build()

	expectedClause := " WHERE status = $1 AND file_name = $2"
	if whereClause != expectedClause {
		t.Errorf("expected %q, got %q", expectedClause, whereClause)
	}
	if len(args) != 2 || args[0] != "succeeded" || args[1] != "dataset.csv" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestWhereBuilder_AddEqualFold(t *testing.T) {
	wb := NewWhereBuilder()
	wb.AddEqualFold("country", "chile")
	wb.AddEqualFold("media_outlet", "")

	whereClause, args := wb.Build()

	expectedClause := " WHERE lower(country) = lower($1)"
	if whereClause != expectedClause {
		t.Errorf("expected %q, got %q", expectedClause, whereClause)
	}
	if len(args) != 1 {
		t.Fatalf("expected 1 arg, got %d", len(args))
	}
}

func TestWhereBuilder_AddDateRange(t *testing.T) {
	from := time.Date(2023, 1, 1, 15, 0, 0, 0, time.UTC)
	to := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		from, to   *time.Time
		wantClause string
		wantArgs   int
	}{
		{"both bounds", &from, &to, " WHERE published_on >= $1 AND published_on <= $2", 2},
		{"from only", &from, nil, " WHERE published_on >= $1", 1},
		{"to only", nil, &to, " WHERE published_on <= $1", 1},
		{"none", nil, nil, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := NewWhereBuilder()
			wb.AddDateRange("published_on", tt.from, tt.to)
			gotClause, gotArgs := wb.Build()

			if gotClause != tt.wantClause {
				t.Errorf("clause = %q, want %q", gotClause, tt.wantClause)
			}
			if len(gotArgs) != tt.wantArgs {
				t.Errorf("args count = %d, want %d", len(gotArgs), tt.wantArgs)
			}
		})
	}
}

func TestWhereBuilder_AddDateRange_TruncatesToDay(t *testing.T) {
	from := time.Date(2023, 5, 6, 23, 59, 0, 0, time.UTC)
	wb := NewWhereBuilder()
	wb.AddDateRange("published_on", &from, nil)

	_, args := wb.Build()
	d, ok := args[0].(pgtype.Date)
	if !ok {
		t.Fatalf("arg type = %T, want pgtype.Date", args[0])
	}
	if !d.Valid || d.Time.Hour() != 0 || d.Time.Day() != 6 {
		t.Errorf("date arg = %+v, want 2023-05-06 midnight", d)
	}
}

func TestWhereBuilder_AddSearch(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		columns    []string
		wantClause string
		wantArg    string
	}{
		{
			name:       "empty query skipped",
			query:      "",
			columns:    []string{"title"},
			wantClause: "",
		},
		{
			name:       "no columns skipped",
			query:      "sismo",
			columns:    nil,
			wantClause: "",
		},
		{
			name:       "single column",
			query:      "sismo",
			columns:    []string{"title"},
			wantClause: ` WHERE ("title" ILIKE $1)`,
			wantArg:    "%sismo%",
		},
		{
			name:       "columns share one placeholder",
			query:      "lluvia",
			columns:    []string{"title", "body", "media_outlet"},
			wantClause: ` WHERE ("title" ILIKE $1 OR "body" ILIKE $1 OR "media_outlet" ILIKE $1)`,
			wantArg:    "%lluvia%",
		},
		{
			name:       "wildcards escaped",
			query:      `50%_off\`,
			columns:    []string{"title"},
			wantClause: ` WHERE ("title" ILIKE $1)`,
			wantArg:    `%50\%\_off\\%`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := NewWhereBuilder()
			wb.AddSearch(tt.query, tt.columns)
			gotClause, gotArgs := wb.Build()

			if gotClause != tt.wantClause {
				t.Errorf("clause = %q, want %q", gotClause, tt.wantClause)
			}
			if tt.wantArg == "" {
				if len(gotArgs) != 0 {
					t.Errorf("expected no args, got %v", gotArgs)
				}
				return
			}
			if len(gotArgs) != 1 || gotArgs[0] != tt.wantArg {
				t.Errorf("args = %v, want [%q]", gotArgs, tt.wantArg)
			}
		})
	}
}

func TestWhereBuilder_NextArgIndex(t *testing.T) {
	wb := NewWhereBuilder()
	if wb.NextArgIndex() != 1 {
		t.Errorf("expected initial NextArgIndex to be 1, got %d", wb.NextArgIndex())
	}

	wb.AddSearch("x", []string{"title", "body"})
	if wb.NextArgIndex() != 2 {
		t.Errorf("expected NextArgIndex after search to be 2, got %d", wb.NextArgIndex())
	}

	from, to := time.Now(), time.Now()
	wb.AddDateRange("published_on", &from, &to)
	if wb.NextArgIndex() != 4 {
		t.Errorf("expected NextArgIndex after date range to be 4, got %d", wb.NextArgIndex())
	}
}

// ============================================================================
// Integration Tests - Combined WhereBuilder Operations
// ============================================================================

func TestWhereBuilder_ArticleSearch(t *testing.T) {
	from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	wb := NewWhereBuilder()
	wb.AddSearch("elecciones", searchColumns)
	wb.AddEqualFold("country", "Chile")
	wb.AddValue("run_id", ToPgUUID("6f1c1c3e-5b1e-4d55-9f57-1b2f3c4d5e6f"))
	wb.AddDateRange("published_on", &from, nil)

	whereClause, args := wb.Build()

	for _, cond := range []string{`"title" ILIKE $1`, `"body" ILIKE $1`, "lower(country) = lower($2)", "run_id = $3", "published_on >= $4"} {
		if !strings.Contains(whereClause, cond) {
			t.Errorf("expected whereClause to contain %q, got %q", cond, whereClause)
		}
	}
	if len(args) != 4 {
		t.Errorf("expected 4 args, got %d: %v", len(args), args)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := map[string]string{
		"title":        `"title"`,
		`we"ird`:       `"we""ird"`,
		"media outlet": `"media outlet"`,
	}
	for in, want := range tests {
		if got := quoteIdentifier(in); got != want {
			t.Errorf("quoteIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}
