package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. Error is mapped via core.MapError to a user message and code
//  4. The code picks the HTTP status
//  5. Technical error + context is logged with the request ID for correlation
//  6. The user message is returned as JSON

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/sophia/internal/core"
	"github.com/JonMunkholm/sophia/internal/logging"
)

// ErrorResponse is the JSON body of every API error. Code is machine
// readable; Message and Action are meant for people.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	RunID   string `json:"run_id,omitempty"`
}

// statusByCode maps user message codes to HTTP statuses. Codes not listed
// fall back on their prefix.
var statusByCode = map[string]int{
	"FILE001": http.StatusRequestEntityTooLarge,
	"FILE002": http.StatusBadRequest,
	"FILE003": http.StatusUnprocessableEntity,
	"FILE004": http.StatusBadRequest,
	"FILE005": http.StatusUnprocessableEntity,
	"REC001":  http.StatusBadRequest,
	"REC002":  http.StatusNotFound,
	"REC003":  http.StatusConflict,
	"UPL001":  http.StatusServiceUnavailable,
	"UPL002":  http.StatusBadRequest,
	"UPL003":  http.StatusGatewayTimeout,
	"RATE001": http.StatusTooManyRequests,
}

func statusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	if strings.HasPrefix(code, "DB") {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError logs the technical error and writes the mapped user message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := core.MapError(err)
	status := statusForCode(msg.Code)

	resp := ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
	var runErr *core.RunError
	if errors.As(err, &runErr) {
		resp.RunID = runErr.RunID
	}

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if msg.Code == "UPL001" {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, resp)
}

// badRequest reports invalid request parameters that never reach the service.
func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	logging.FromContext(r.Context()).Warn("bad request", "path", r.URL.Path, "error", message)
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   message,
		Message: message,
		Code:    "REQ001",
	})
}
