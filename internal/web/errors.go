package web

// errors.go provides unified error responses for the API.
//
// Every error is logged server-side with the request ID and returned to the
// client as {error, message, action, code}. Known sentinels map to fixed
// support codes; anything else goes through report.MapError.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/healthingest/internal/dedupe"
	"github.com/JonMunkholm/healthingest/internal/logging"
	"github.com/JonMunkholm/healthingest/internal/pipeline"
	"github.com/JonMunkholm/healthingest/internal/report"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
	errBadForm     = errors.New("invalid multipart form")
	errBadIndex    = errors.New("duplicate candidate not found: index must be a number")
	errBadBody     = errors.New("invalid resolution: request body must be JSON")
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// sentinelCodes fixes the support code for errors whose text alone is
// ambiguous.
var sentinelCodes = []struct {
	err  error
	code string
}{
	{pipeline.ErrBatchNotFound, "BAT001"},
	{pipeline.ErrUnresolvedDuplicates, "BAT002"},
	{dedupe.ErrUnresolved, "BAT002"},
	{dedupe.ErrInvalidResolution, "BAT003"},
	{dedupe.ErrUnknownAction, "BAT003"},
	{pipeline.ErrQuarantined, "BAT004"},
	{pipeline.ErrCandidateNotFound, "BAT005"},
	{pipeline.ErrTooManyIngests, "ING001"},
}

// userMessage maps err to the message shown to clients.
func userMessage(err error) report.UserMessage {
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			if m, ok := report.Lookup(s.code); ok {
				return m
			}
		}
	}
	return report.MapError(err)
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrBatchNotFound), errors.Is(err, pipeline.ErrCandidateNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrUnresolvedDuplicates), errors.Is(err, pipeline.ErrQuarantined):
		return http.StatusConflict
	case errors.Is(err, dedupe.ErrInvalidResolution), errors.Is(err, dedupe.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrTooManyIngests):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error and writes the user-facing JSON.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	msg := userMessage(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", msg.Code,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
