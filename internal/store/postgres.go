package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sophia/internal/articles"
)

// schema creates the tables on first start. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS recovery_runs (
	id                UUID PRIMARY KEY,
	file_name         TEXT NOT NULL,
	status            TEXT NOT NULL,
	stage             TEXT NOT NULL,
	encoding          TEXT NOT NULL DEFAULT '',
	output_encoding   TEXT NOT NULL DEFAULT '',
	outer_delimiter   TEXT NOT NULL DEFAULT '',
	inner_delimiter   TEXT NOT NULL DEFAULT '',
	input_bytes       BIGINT NOT NULL DEFAULT 0,
	outer_lines       INTEGER NOT NULL DEFAULT 0,
	non_blank_lines   INTEGER NOT NULL DEFAULT 0,
	inner_lines       INTEGER NOT NULL DEFAULT 0,
	accepted          INTEGER NOT NULL DEFAULT 0,
	dropped           INTEGER NOT NULL DEFAULT 0,
	columns           TEXT[] NOT NULL DEFAULT '{}',
	duplicate_columns TEXT[] NOT NULL DEFAULT '{}',
	skips             JSONB NOT NULL DEFAULT '[]',
	articles_loaded   BIGINT NOT NULL DEFAULT 0,
	articles_failed   INTEGER NOT NULL DEFAULT 0,
	output_path       TEXT NOT NULL DEFAULT '',
	error             TEXT NOT NULL DEFAULT '',
	error_code        TEXT NOT NULL DEFAULT '',
	duration_ms       BIGINT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS recovery_runs_created_at_idx ON recovery_runs (created_at DESC);

CREATE TABLE IF NOT EXISTS articles (
	id           BIGSERIAL PRIMARY KEY,
	run_id       UUID NOT NULL REFERENCES recovery_runs (id) ON DELETE CASCADE,
	line         INTEGER NOT NULL,
	published_on DATE,
	country      TEXT,
	media_outlet TEXT,
	title        TEXT,
	body         TEXT,
	url          TEXT
);

CREATE INDEX IF NOT EXISTS articles_published_on_idx ON articles (published_on DESC);
CREATE INDEX IF NOT EXISTS articles_country_idx ON articles (lower(country));
CREATE INDEX IF NOT EXISTS articles_media_outlet_idx ON articles (lower(media_outlet));
CREATE INDEX IF NOT EXISTS articles_run_id_idx ON articles (run_id);
`

const runColumns = `id, file_name, status, stage, encoding, output_encoding, outer_delimiter, inner_delimiter,
	input_bytes, outer_lines, non_blank_lines, inner_lines, accepted, dropped,
	columns, duplicate_columns, skips, articles_loaded, articles_failed,
	output_path, error, error_code, duration_ms, created_at`

const articleColumns = `id, run_id, line, published_on, country, media_outlet, title, body, url`

// articleCopyColumns is the COPY column list for LoadArticles.
var articleCopyColumns = []string{"run_id", "line", "published_on", "country", "media_outlet", "title", "body", "url"}

// searchColumns are matched by SearchParams.Query.
var searchColumns = []string{"title", "body", "media_outlet"}

// Postgres stores runs and articles in PostgreSQL.
type Postgres struct {
	pool      *pgxpool.Pool
	batchSize int
}

// NewPostgres wraps a pool. Articles are copied in batches of batchSize rows.
func NewPostgres(pool *pgxpool.Pool, batchSize int) *Postgres {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Postgres{pool: pool, batchSize: batchSize}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateRun inserts a run.
func (p *Postgres) CreateRun(ctx context.Context, run *Run) error {
	skips, err := json.Marshal(run.Skips)
	if err != nil {
		return fmt.Errorf("encode skips: %w", err)
	}
	if run.Skips == nil {
		skips = []byte("[]")
	}

	_, err = p.pool.Exec(ctx, `INSERT INTO recovery_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		ToPgUUID(run.ID), run.FileName, string(run.Status), run.Stage,
		run.Encoding, run.OutputEncoding, run.OuterDelimiter, run.InnerDelimiter,
		run.InputBytes, run.OuterLines, run.NonBlankLines, run.InnerLines, run.Accepted, run.Dropped,
		nonNil(run.Columns), nonNil(run.DuplicateColumns), skips,
		run.ArticlesLoaded, run.ArticlesFailed,
		run.OutputPath, run.Error, run.ErrorCode,
		run.Duration.Milliseconds(), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun writes the outcome fields of a run created with CreateRun.
func (p *Postgres) FinishRun(ctx context.Context, run *Run) error {
	tag, err := p.pool.Exec(ctx, `UPDATE recovery_runs
		SET status = $2, stage = $3, articles_loaded = $4, articles_failed = $5,
		    output_path = $6, error = $7, error_code = $8, duration_ms = $9
		WHERE id = $1`,
		ToPgUUID(run.ID), string(run.Status), run.Stage, run.ArticlesLoaded, run.ArticlesFailed,
		run.OutputPath, run.Error, run.ErrorCode, run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun returns the run with the given ID, or ErrNotFound.
func (p *Postgres) GetRun(ctx context.Context, id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	row := p.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM recovery_runs WHERE id = $1`, ToPgUUID(id))
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	rows, err := p.pool.Query(ctx, `SELECT `+runColumns+` FROM recovery_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var (
		run        Run
		id         pgtype.UUID
		status     string
		skips      []byte
		durationMS int64
	)
	err := row.Scan(
		&id, &run.FileName, &status, &run.Stage,
		&run.Encoding, &run.OutputEncoding, &run.OuterDelimiter, &run.InnerDelimiter,
		&run.InputBytes, &run.OuterLines, &run.NonBlankLines, &run.InnerLines, &run.Accepted, &run.Dropped,
		&run.Columns, &run.DuplicateColumns, &skips,
		&run.ArticlesLoaded, &run.ArticlesFailed,
		&run.OutputPath, &run.Error, &run.ErrorCode,
		&durationMS, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(skips) > 0 {
		if err := json.Unmarshal(skips, &run.Skips); err != nil {
			return nil, fmt.Errorf("decode skips: %w", err)
		}
	}
	run.ID = PgUUIDToString(id)
	run.Status = RunStatus(status)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}

// LoadArticles bulk-inserts articles with the COPY protocol in a single
// transaction. Either every article is loaded or none is.
func (p *Postgres) LoadArticles(ctx context.Context, runID string, batch []articles.Article) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	rid := ToPgUUID(runID)
	if !rid.Valid {
		return 0, fmt.Errorf("load articles: invalid run id %q", runID)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("load articles: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for start := 0; start < len(batch); start += p.batchSize {
		end := min(start+p.batchSize, len(batch))

		rows := make([][]any, 0, end-start)
		for _, a := range batch[start:end] {
			rows = append(rows, []any{
				rid,
				a.Line,
				ToPgDate(a.Date),
				ToPgText(a.Country),
				ToPgText(a.MediaOutlet),
				ToPgText(a.Title),
				ToPgText(a.Text),
				ToPgText(a.URL),
			})
		}

		n, err := tx.CopyFrom(ctx, pgx.Identifier{"articles"}, articleCopyColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, fmt.Errorf("load articles: copy rows %d-%d: %w", start, end, err)
		}
		total += n
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("load articles: commit: %w", err)
	}
	return total, nil
}

// SearchArticles returns one page of matching articles and the total count.
func (p *Postgres) SearchArticles(ctx context.Context, params SearchParams) (*SearchResult, error) {
	params = params.Normalize()

	wb := NewWhereBuilder()
	wb.AddSearch(params.Query, searchColumns)
	wb.AddEqualFold("country", params.Country)
	wb.AddEqualFold("media_outlet", params.MediaOutlet)
	if params.RunID != "" {
		wb.AddValue("run_id", ToPgUUID(params.RunID))
	}
	wb.AddDateRange("published_on", params.DateFrom, params.DateTo)

	whereClause, args := wb.Build()

	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM articles"+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}

	query := `SELECT ` + articleColumns + ` FROM articles` + whereClause +
		fmt.Sprintf(" ORDER BY %s %s NULLS LAST, id ASC LIMIT $%d OFFSET $%d",
			sortColumns[params.Sort], params.Order, wb.NextArgIndex(), wb.NextArgIndex()+1)
	args = append(args, params.Limit, params.Offset())

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	defer rows.Close()

	items := make([]articles.Article, 0, params.Limit)
	for rows.Next() {
		var (
			a                                     articles.Article
			runID                                 pgtype.UUID
			date                                  pgtype.Date
			country, outlet, title, body, linkURL pgtype.Text
		)
		if err := rows.Scan(&a.ID, &runID, &a.Line, &date, &country, &outlet, &title, &body, &linkURL); err != nil {
			return nil, fmt.Errorf("search articles: %w", err)
		}
		a.RunID = PgUUIDToString(runID)
		a.Date = FromPgDate(date)
		a.Country = FromPgText(country)
		a.MediaOutlet = FromPgText(outlet)
		a.Title = FromPgText(title)
		a.Text = FromPgText(body)
		a.URL = FromPgText(linkURL)
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}

	return newSearchResult(items, total, params), nil
}

// Stats summarizes the articles table.
func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	var (
		s              Stats
		oldest, newest pgtype.Date
	)
	err := p.pool.QueryRow(ctx, `SELECT
			COUNT(*),
			COUNT(DISTINCT lower(country)),
			COUNT(DISTINCT lower(media_outlet)),
			MIN(published_on),
			MAX(published_on),
			(SELECT COUNT(*) FROM recovery_runs)
		FROM articles`).Scan(&s.Articles, &s.Countries, &s.Outlets, &oldest, &newest, &s.Runs)
	if err != nil {
		return nil, fmt.Errorf("article stats: %w", err)
	}
	s.Oldest = FromPgDate(oldest)
	s.Newest = FromPgDate(newest)
	return &s, nil
}

// Facets returns the most frequent countries and media outlets.
func (p *Postgres) Facets(ctx context.Context) (*Facets, error) {
	countries, err := p.topValues(ctx, "country", MaxFacetCountries)
	if err != nil {
		return nil, err
	}
	outlets, err := p.topValues(ctx, "media_outlet", MaxFacetOutlets)
	if err != nil {
		return nil, err
	}
	return &Facets{Countries: countries, MediaOutlets: outlets}, nil
}

func (p *Postgres) topValues(ctx context.Context, column string, limit int) ([]string, error) {
	col := quoteIdentifier(column)
	rows, err := p.pool.Query(ctx, `SELECT `+col+` FROM articles
		WHERE `+col+` IS NOT NULL AND `+col+` <> ''
		GROUP BY `+col+`
		ORDER BY COUNT(*) DESC, `+col+`
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s values: %w", column, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan %s values: %w", column, err)
	}
	return nonNil(values), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
