package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sophia/internal/config"
	"github.com/JonMunkholm/sophia/internal/core"
	"github.com/JonMunkholm/sophia/internal/recovery"
	"github.com/JonMunkholm/sophia/internal/store"
)

func damagedExport(t *testing.T) []byte {
	t.Helper()
	lines := []string{
		`date,country,media_outlet,text,title,url;;;`,
		`2023-01-05,Chile,El Mercurio,"Lluvias, viento y frío",Temporal,http://a.cl/1;;;`,
		`2023-01-06,Peru,El Comercio,"Texto truncado;;`,
		`2023-01-07,Chile,La Tercera,Elecciones,"Segunda vuelta",http://b.cl/2;x;y`,
		`2023-01-09,Argentina,Clarín,Economía,Inflación,http://d.ar/4`,
	}
	out, err := recovery.MustCodec("latin1").Encode([]byte(strings.Join(lines, "\r\n") + "\r\n"))
	require.NoError(t, err)
	return out
}

func newTestServer(t *testing.T, env map[string]string) *Server {
	t.Helper()
	vars := map[string]string{
		"UPLOAD_OUTPUT_DIR":  t.TempDir(),
		"RATE_LIMIT_ENABLED": "false",
	}
	for k, v := range env {
		vars[k] = v
	}
	cfg, err := config.LoadFrom(func(key string) string { return vars[key] })
	require.NoError(t, err)

	svc, err := core.NewService(cfg, store.NewMemory(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	s := NewServer(cfg, svc)
	t.Cleanup(func() {
		for _, rl := range s.limiters {
			rl.stop()
		}
	})
	return s
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, name string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/recover", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type recoverBody struct {
	Success bool `json:"success"`
	Data    struct {
		Run struct {
			ID             string `json:"id"`
			Status         string `json:"status"`
			Accepted       int    `json:"accepted"`
			Dropped        int    `json:"dropped"`
			ArticlesLoaded int64  `json:"articles_loaded"`
		} `json:"run"`
		Summary string `json:"summary"`
	} `json:"data"`
}

func recoverFixture(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, uploadRequest(t, "dataset.csv", damagedExport(t), nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body recoverBody
	decode(t, rec, &body)
	require.True(t, body.Success)
	return body.Data.Run.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string             `json:"status"`
		System     string             `json:"system"`
		Recoveries core.LimiterStatus `json:"recoveries"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "sophia", body.System)
	assert.Equal(t, 4, body.Recoveries.MaxConcurrent)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestRecover_Success(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, uploadRequest(t, "dataset.csv", damagedExport(t), nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body recoverBody
	decode(t, rec, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "succeeded", body.Data.Run.Status)
	assert.Equal(t, 3, body.Data.Run.Accepted)
	assert.Equal(t, 1, body.Data.Run.Dropped)
	assert.EqualValues(t, 3, body.Data.Run.ArticlesLoaded)
	assert.Contains(t, body.Data.Summary, "dataset.csv")
}

func TestRecover_Errors(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantCode   string
		wantRunID  bool
	}{
		{
			name: "no file",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", nil, map[string]string{"outer": ";"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE004",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/recover", strings.NewReader("x"))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE004",
		},
		{
			name: "bad delimiter",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "x.csv", []byte("a,b\n"), map[string]string{"outer": "ab"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "REC001",
		},
		{
			name: "nothing recovered",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "blank.csv", []byte("\n;;\n"), nil)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "FILE005",
			wantRunID:  true,
		},
		{
			name: "strict encoding",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "x.csv", []byte("title\n\xff\n"), map[string]string{"outer": "none", "encoding": "utf-8"})
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "FILE003",
			wantRunID:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)

			rec := do(t, s, tt.req(t))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			var body ErrorResponse
			decode(t, rec, &body)
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Message)
			assert.Equal(t, tt.wantRunID, body.RunID != "")
		})
	}
}

func TestRecover_TooLarge(t *testing.T) {
	s := newTestServer(t, map[string]string{"UPLOAD_MAX_FILE_SIZE": "16"})

	rec := do(t, s, uploadRequest(t, "dataset.csv", damagedExport(t), nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "FILE001", body.Code)
}

func TestRuns(t *testing.T) {
	s := newTestServer(t, nil)
	id := recoverFixture(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []store.Run `json:"data"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Data, 1)
	assert.Equal(t, id, list.Data[0].ID)
	assert.Empty(t, list.Data[0].OutputPath)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/runs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var one struct {
		Data store.Run `json:"data"`
	}
	decode(t, rec, &one)
	assert.Equal(t, "dataset.csv", one.Data.FileName)
	require.Len(t, one.Data.Skips, 1)
	assert.Equal(t, 3, one.Data.Skips[0].SourceLine)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/runs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errBody ErrorResponse
	decode(t, rec, &errBody)
	assert.Equal(t, "REC002", errBody.Code)
}

func TestRunOutput(t *testing.T) {
	s := newTestServer(t, nil)
	id := recoverFixture(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/runs/"+id+"/output", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="dataset_clean.csv"`, rec.Header().Get("Content-Disposition"))

	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\r\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "date,country,media_outlet,text,title,url", strings.TrimSuffix(lines[0], "\r"))
	assert.Contains(t, lines[1], `"Lluvias, viento y frío"`)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/runs/"+id+"/output.xlsx", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="dataset_clean.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestRunOutput_FailedRun(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, uploadRequest(t, "blank.csv", []byte("\n"), nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body ErrorResponse
	decode(t, rec, &body)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/runs/"+body.RunID+"/output", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, "REC003", body.Code)
}

func TestSearch(t *testing.T) {
	s := newTestServer(t, nil)
	recoverFixture(t, s)

	tests := []struct {
		name       string
		query      string
		wantTitles []string
		wantTotal  int64
	}{
		{"newest first", "", []string{"Inflación", "Segunda vuelta", "Temporal"}, 3},
		{"text query", "?q=lluvias", []string{"Temporal"}, 1},
		{"country", "?country=CHILE", []string{"Segunda vuelta", "Temporal"}, 2},
		{"spanish aliases", "?pais=chile&ordenar=fecha_subida&orden=asc", []string{"Temporal", "Segunda vuelta"}, 2},
		{"date range", "?date_from=2023-01-06&date_to=2023-01-07", []string{"Segunda vuelta"}, 1},
		{"paging", "?page=2&limit=2", []string{"Temporal"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/search"+tt.query, nil))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var body SearchResponse
			decode(t, rec, &body)
			assert.True(t, body.Success)

			titles := make([]string, len(body.Data))
			for i, a := range body.Data {
				titles[i] = a.Title
			}
			assert.Equal(t, tt.wantTitles, titles)
			assert.Equal(t, tt.wantTotal, body.Pagination.Total)
		})
	}
}

func TestSearch_FiltersEcho(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/search?q=x&medio=Clar%C3%ADn&limit=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body SearchResponse
	decode(t, rec, &body)
	assert.Equal(t, map[string]string{"q": "x", "media_outlet": "Clarín"}, body.Filters)
	assert.Equal(t, store.MaxPageSize, body.Pagination.Limit)
	assert.Equal(t, 1, body.Pagination.Page)
	assert.NotNil(t, body.Data)
}

func TestSearchExport(t *testing.T) {
	s := newTestServer(t, nil)
	recoverFixture(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/search/export.xlsx?pais=Chile&page=9", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="articles.xlsx"`, rec.Header().Get("Content-Disposition"))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("articles")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"date", "country", "media_outlet", "text", "title", "url"}, rows[0])
	assert.Equal(t, []string{"2023-01-07", "Chile", "La Tercera", "Elecciones", "Segunda vuelta", "http://b.cl/2"}, rows[1])
}

func TestSearch_BadDate(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/search?date_from=05/01/2023", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFiltersStatsInfo(t *testing.T) {
	s := newTestServer(t, nil)
	recoverFixture(t, s)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/filters", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var filters struct {
		Data struct {
			TotalNews    int64    `json:"total_news"`
			Countries    []string `json:"countries"`
			MediaOutlets []string `json:"media_outlets"`
			DateRange    struct {
				Min string `json:"min"`
				Max string `json:"max"`
			} `json:"date_range"`
		} `json:"data"`
	}
	decode(t, rec, &filters)
	assert.EqualValues(t, 3, filters.Data.TotalNews)
	assert.Equal(t, []string{"Chile", "Argentina"}, filters.Data.Countries)
	assert.Len(t, filters.Data.MediaOutlets, 3)
	assert.Equal(t, "2023-01-05", filters.Data.DateRange.Min)
	assert.Equal(t, "2023-01-09", filters.Data.DateRange.Max)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Data store.Stats `json:"data"`
	}
	decode(t, rec, &stats)
	assert.EqualValues(t, 3, stats.Data.Articles)
	assert.EqualValues(t, 1, stats.Data.Runs)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Data struct {
			Columns  []string          `json:"columns"`
			Defaults map[string]string `json:"defaults"`
		} `json:"data"`
	}
	decode(t, rec, &info)
	assert.Equal(t, []string{"date", "country", "media_outlet", "text", "title", "url"}, info.Data.Columns)
	assert.Equal(t, ";", info.Data.Defaults["outer"])
	assert.Equal(t, "latin1", info.Data.Defaults["encoding"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"RATE_LIMIT_ENABLED":             "true",
		"RATE_LIMIT_REQUESTS_PER_MINUTE": "2",
	})

	for i := 0; i < 2; i++ {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "RATE001", body.Code)

	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.RemoteAddr = "203.0.113.9:4000"
	assert.Equal(t, http.StatusOK, do(t, s, other).Code)
}

func TestAPIKey(t *testing.T) {
	s := newTestServer(t, map[string]string{
		"REQUIRE_API_KEY": "true",
		"API_KEYS":        "secret",
	})

	assert.Equal(t, http.StatusOK, do(t, s, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, s, httptest.NewRequest(http.MethodGet, "/api/stats", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, do(t, s, req).Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := do(t, s, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = do(t, s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExtendDeadlines_OutlivesWriteTimeout(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, extendDeadlines(w, 5*time.Second))
		time.Sleep(300 * time.Millisecond)
		_, _ = io.WriteString(w, "recovered")
	}))
	srv.Config.ReadTimeout = 100 * time.Millisecond
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "recovered", string(body))
}

func TestCleanFileName(t *testing.T) {
	assert.Equal(t, "dataset_clean.csv", cleanFileName("dataset.csv", ".csv"))
	assert.Equal(t, "a_b_clean.xlsx", cleanFileName(`a"b.txt`, ".xlsx"))
	assert.Equal(t, "dataset_clean.csv", cleanFileName("", ".csv"))
}
