package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: the upload exceeds UPLOAD_MAX_FILE_SIZE
//	FILE002 - Unreadable file: the file could not be opened or read
//	FILE003 - Encoding error: a byte or character does not fit the encoding
//	FILE004 - No file: the request carried no file
//	FILE005 - Nothing recovered: no header or no record survived recovery
//
// # Recovery Errors (REC001-REC099)
//
//	REC001 - Invalid options: bad delimiter or unknown encoding
//	REC002 - Run not found
//	REC003 - Output unavailable: the run failed or its file was removed
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Connection refused
//	DB002 - Connection reset
//	DB003 - Timeout
//	DB004 - Schema missing: tables were not created
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - System busy: every recovery slot is taken
//	UPL002 - Request cancelled
//	UPL003 - Request timeout
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error; check the logs for the technical error
//
// Typed errors are matched first with errors.Is / errors.As. Anything else
// falls through to case-insensitive substring patterns; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/sophia/internal/recovery"
)

// Errors raised by the service.
var (
	ErrFileTooLarge      = errors.New("file too large")
	ErrNoFile            = errors.New("no file provided")
	ErrInvalidOptions    = errors.New("invalid recovery options")
	ErrRunNotFound       = errors.New("run not found")
	ErrOutputUnavailable = errors.New("output unavailable")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgFileTooLarge = UserMessage{"File exceeds the maximum upload size", "Split the file or ask for a higher UPLOAD_MAX_FILE_SIZE", "FILE001"}
	msgUnreadable   = UserMessage{"The file could not be read", "Check the file and upload it again", "FILE002"}
	msgEncoding     = UserMessage{"The file contains characters that do not fit the selected encoding", "Choose latin1 or windows-1252 for legacy exports", "FILE003"}
	msgNoFile       = UserMessage{"No file was provided", "Attach the damaged export as the \"file\" form field", "FILE004"}
	msgEmptyResult  = UserMessage{"Nothing could be recovered from the file", "Check the delimiters; the first payload line must be the header", "FILE005"}

	msgInvalidOptions    = UserMessage{"The recovery options are invalid", "Use single-character delimiters that differ, and a supported encoding", "REC001"}
	msgRunNotFound       = UserMessage{"Recovery run not found", "Check the run ID", "REC002"}
	msgOutputUnavailable = UserMessage{"No clean file is available for this run", "Only successful runs have an output; run the recovery again", "REC003"}

	msgBusy      = UserMessage{"Too many recoveries in progress", "Please wait a moment and try again", "UPL001"}
	msgCancelled = UserMessage{"Request was cancelled", "Please try again", "UPL002"}
	msgTimeout   = UserMessage{"Request timed out", "Try a smaller file or try again later", "UPL003"}

	msgRateLimited = UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch errors that arrive without a type, mostly from the
// database driver. Order matters: specific before general.
var errorPatterns = []errorPattern{
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB001"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB002"}},
	{"does not exist", UserMessage{"Database tables are missing", "Restart the server so it can create the schema", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB003"}},
	{"rate limit", msgRateLimited},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(err)
//	// msg.Code == "FILE005" for a file with no recoverable records
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		encErr   *recovery.EncodingError
		emptyErr *recovery.EmptyResultError
		ioErr    *recovery.IOError
	)
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return msgFileTooLarge
	case errors.Is(err, ErrNoFile):
		return msgNoFile
	case errors.Is(err, ErrInvalidOptions):
		return msgInvalidOptions
	case errors.Is(err, ErrRunNotFound):
		return msgRunNotFound
	case errors.Is(err, ErrOutputUnavailable):
		return msgOutputUnavailable
	case errors.Is(err, ErrTooManyRuns):
		return msgBusy
	case errors.Is(err, ErrRateLimited):
		return msgRateLimited
	case errors.As(err, &encErr):
		return msgEncoding
	case errors.As(err, &emptyErr):
		return msgEmptyResult
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.As(err, &ioErr):
		return msgUnreadable
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
