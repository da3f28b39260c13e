package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jackzampolin/takeoff/internal/analysis"
	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/auth"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse = api.ErrorResponse

// ValidationErrorResponse adds the offending field to a 400 response.
type ValidationErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	JobID string `json:"jobId,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps a service error to its HTTP status.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *jobs.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
			Error: verr.Error(),
			Field: verr.Field,
			JobID: verr.JobID,
		})
		return
	}

	status := statusFor(err)
	if status >= 500 {
		svcctx.LoggerFrom(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNotReady), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrJobLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, analysis.ErrNoImages):
		return http.StatusBadRequest
	case errors.Is(err, providers.ErrNoProviders):
		return http.StatusServiceUnavailable
	case errors.Is(err, providers.ErrProvidersExhausted), errors.Is(err, analysis.ErrNoUsableItems):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// callerFrom returns the authenticated caller or writes a 401.
func callerFrom(w http.ResponseWriter, r *http.Request) (auth.Caller, bool) {
	caller, ok := auth.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		return auth.Caller{}, false
	}
	return caller, true
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
// An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// orchestratorFrom returns the job orchestrator or writes a 503.
func orchestratorFrom(w http.ResponseWriter, r *http.Request) (*jobs.Orchestrator, bool) {
	o := svcctx.OrchestratorFrom(r.Context())
	if o == nil {
		writeError(w, http.StatusServiceUnavailable, "job orchestrator not initialized")
		return nil, false
	}
	return o, true
}

// storeFrom returns the store or writes a 503.
func storeFrom(w http.ResponseWriter, r *http.Request) (*store.Store, bool) {
	s := svcctx.StoreFrom(r.Context())
	if s == nil {
		writeError(w, http.StatusServiceUnavailable, "store not initialized")
		return nil, false
	}
	return s, true
}
