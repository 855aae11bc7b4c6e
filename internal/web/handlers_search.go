package web

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/sophia/internal/articles"
	"github.com/JonMunkholm/sophia/internal/export"
	"github.com/JonMunkholm/sophia/internal/logging"
	"github.com/JonMunkholm/sophia/internal/recovery"
	"github.com/JonMunkholm/sophia/internal/store"
)

// dataResponse wraps successful API payloads.
type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// Pagination describes one page of search results.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// SearchResponse is the body of GET /api/search.
type SearchResponse struct {
	Success    bool               `json:"success"`
	Data       []articles.Article `json:"data"`
	Pagination Pagination         `json:"pagination"`
	Filters    map[string]string  `json:"filters"`
}

// searchParams maps query parameters to their names in the Spanish search
// frontend, which are accepted as aliases.
var searchParams = []struct {
	name  string
	alias string
}{
	{"q", ""},
	{"country", "pais"},
	{"media_outlet", "medio"},
	{"run_id", ""},
	{"date_from", "fechaInicio"},
	{"date_to", "fechaFin"},
	{"sort", "ordenar"},
	{"order", "orden"},
}

// sortAliases maps frontend sort names to search sort keys.
var sortAliases = map[string]string{
	"fecha_subida": "date",
	"fecha":        "date",
	"titulo":       "title",
	"pais":         "country",
	"medio":        "media_outlet",
}

const dateParamLayout = "2006-01-02"

// handleSearch returns one page of articles. Dates are YYYY-MM-DD and both
// bounds are inclusive.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params, raw, err := parseSearchParams(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	res, err := s.service.SearchArticles(r.Context(), params)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Success: true,
		Data:    res.Articles,
		Pagination: Pagination{
			Total:      res.Total,
			Page:       res.Page,
			Limit:      res.Limit,
			TotalPages: res.TotalPages,
		},
		Filters: raw,
	})
}

// maxExportRows caps the articles written by handleSearchExport.
const maxExportRows = 10000

// handleSearchExport writes every article matching the search filters, up to
// maxExportRows, as a workbook. Paging parameters are ignored.
func (s *Server) handleSearchExport(w http.ResponseWriter, r *http.Request) {
	params, _, err := parseSearchParams(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	params.Limit = store.MaxPageSize

	var rows [][]string
	for params.Page = 1; len(rows) < maxExportRows; params.Page++ {
		res, err := s.service.SearchArticles(r.Context(), params)
		if err != nil {
			respondError(w, r, err)
			return
		}
		for _, a := range res.Articles {
			rows = append(rows, a.Values())
		}
		if params.Page >= res.TotalPages {
			break
		}
	}
	if len(rows) > maxExportRows {
		rows = rows[:maxExportRows]
	}

	columns := make([]string, len(articles.Fields))
	for i, f := range articles.Fields {
		columns[i] = string(f)
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, "articles", columns, rows); err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="articles.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		logging.FromContext(r.Context()).Error("write xlsx", "error", err)
	}
}

// parseSearchParams reads the search filters from the query string. raw holds
// the non-empty filters under their English names.
func parseSearchParams(r *http.Request) (store.SearchParams, map[string]string, error) {
	raw := make(map[string]string)
	for _, p := range searchParams {
		if v := queryValue(r, p.name, p.alias); v != "" {
			raw[p.name] = v
		}
	}

	params := store.SearchParams{
		Query:       raw["q"],
		Country:     raw["country"],
		MediaOutlet: raw["media_outlet"],
		RunID:       raw["run_id"],
		Sort:        raw["sort"],
		Order:       strings.ToLower(raw["order"]),
		Page:        parseIntParam(r, "page", 1, "pagina"),
		Limit:       parseIntParam(r, "limit", store.DefaultPageSize, "limite"),
	}
	if alias, ok := sortAliases[params.Sort]; ok {
		params.Sort = alias
	}

	var err error
	if params.DateFrom, err = parseDateParam(raw["date_from"]); err != nil {
		return params, raw, errors.New("date_from must be YYYY-MM-DD")
	}
	if params.DateTo, err = parseDateParam(raw["date_to"]); err != nil {
		return params, raw, errors.New("date_to must be YYYY-MM-DD")
	}
	return params, raw, nil
}

// handleFilters lists the values the search can be filtered on, with the
// corpus size and date range.
func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	facets, err := s.service.Facets(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: map[string]any{
		"total_news":    stats.Articles,
		"countries":     facets.Countries,
		"media_outlets": facets.MediaOutlets,
		"date_range": map[string]*string{
			"min": formatDate(stats.Oldest),
			"max": formatDate(stats.Newest),
		},
	}})
}

// handleStats returns corpus counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: stats})
}

// handleInfo describes the article columns and the accepted recovery options.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	opts := s.service.Defaults()

	columns := make([]string, len(articles.Fields))
	for i, f := range articles.Fields {
		columns[i] = string(f)
	}

	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: map[string]any{
		"columns":       columns,
		"encodings":     recovery.SupportedEncodings(),
		"sort_keys":     []string{"date", "title", "country", "media_outlet"},
		"max_file_size": s.cfg.Upload.MaxFileSize,
		"defaults": map[string]string{
			"outer":           delimiterLabel(opts.OuterDelimiter),
			"inner":           delimiterLabel(opts.InnerDelimiter),
			"encoding":        opts.Encoding,
			"output_encoding": opts.OutputEncoding,
		},
	}})
}

// handleHealth reports liveness and recovery slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"system":     "sophia",
		"recoveries": s.service.LimiterStatus(),
	})
}

// queryValue returns the first non-empty value among name and its alias.
func queryValue(r *http.Request, name, alias string) string {
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get(name)); v != "" {
		return v
	}
	if alias != "" {
		return strings.TrimSpace(q.Get(alias))
	}
	return ""
}

// parseIntParam parses a positive integer query parameter with a default
// value. aliases are tried when name is absent.
func parseIntParam(r *http.Request, name string, defaultVal int, aliases ...string) int {
	val := r.URL.Query().Get(name)
	for _, a := range aliases {
		if val != "" {
			break
		}
		val = r.URL.Query().Get(a)
	}
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func parseDateParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateParamLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateParamLayout)
	return &s
}

func delimiterLabel(r rune) string {
	switch r {
	case recovery.NoOuterFraming:
		return "none"
	case '\t':
		return `\t`
	}
	return string(r)
}
