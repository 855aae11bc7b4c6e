package web

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sophia/internal/core"
	"github.com/JonMunkholm/sophia/internal/export"
	"github.com/JonMunkholm/sophia/internal/logging"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// multipartMemory is how much of an upload is kept in memory before the
// multipart reader spills to a temp file.
const multipartMemory = 32 << 20

// multipartOverhead allows for the form fields and boundaries around the file.
const multipartOverhead = 1 << 20

// uploadDeadlineMargin covers reading the multipart body and writing the
// response on top of the recovery itself.
const uploadDeadlineMargin = time.Minute

// extendDeadlines lifts the server's read and write timeouts for this
// connection so a long recovery can still deliver its response.
func extendDeadlines(w http.ResponseWriter, d time.Duration) error {
	rc := http.NewResponseController(w)
	deadline := time.Now().Add(d)
	if err := rc.SetReadDeadline(deadline); err != nil {
		return err
	}
	return rc.SetWriteDeadline(deadline)
}

// handleRecover runs a recovery over the uploaded "file" field. Optional form
// fields outer, inner, encoding and output_encoding override the configured
// parser options for this run.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if err := extendDeadlines(w, s.cfg.Upload.Timeout+uploadDeadlineMargin); err != nil {
		logging.FromContext(r.Context()).Debug("connection deadlines unchanged", "error", err)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: %v", core.ErrFileTooLarge, err))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFile, err))
		return
	}
	defer file.Close()

	fileName := filepath.Base(header.Filename)
	logging.WithFields(r.Context(), "file", fileName).Info("recovery requested", "size", header.Size)

	res, err := s.service.RecoverUpload(r.Context(), core.UploadRequest{
		FileName:       fileName,
		Reader:         file,
		Size:           header.Size,
		Outer:          r.FormValue("outer"),
		Inner:          r.FormValue("inner"),
		Encoding:       r.FormValue("encoding"),
		OutputEncoding: r.FormValue("output_encoding"),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dataResponse{Success: true, Data: res})
}

// handleListRuns returns the most recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 0)

	runs, err := s.service.Runs(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: runs})
}

// handleGetRun returns one run with its summary and skip sample.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Run(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: run})
}

// handleRunOutput downloads the clean CSV of a successful run.
func (s *Server) handleRunOutput(w http.ResponseWriter, r *http.Request) {
	path, run, err := s.service.OutputPath(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrOutputUnavailable, err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrOutputUnavailable, err))
		return
	}

	filename := cleanFileName(run.FileName, ".csv")
	w.Header().Set("Content-Type", "text/csv; charset="+run.OutputEncoding)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// handleRunOutputXLSX re-reads the clean CSV of a run and returns it as a
// workbook.
func (s *Server) handleRunOutputXLSX(w http.ResponseWriter, r *http.Request) {
	table, run, err := s.service.OutputTable(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, strings.TrimSuffix(run.FileName, filepath.Ext(run.FileName)), table.Columns, table.Rows()); err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, cleanFileName(run.FileName, ".xlsx")))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		logging.FromContext(r.Context()).Error("write xlsx", "run_id", run.ID, "error", err)
	}
}

// cleanFileName derives the download name from the uploaded one:
// "dataset.csv" becomes "dataset_clean<ext>".
func cleanFileName(uploaded, ext string) string {
	base := strings.TrimSuffix(filepath.Base(uploaded), filepath.Ext(uploaded))
	base = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." {
		base = "dataset"
	}
	return base + "_clean" + ext
}
