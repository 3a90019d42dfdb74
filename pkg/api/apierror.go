// Package api is the HTTP surface of a proofpay node. Errors are returned as
// RFC 7807 problem details.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/proofpay/pkg/errs"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is the request path.
	Instance string `json:"instance,omitempty"`
	// TraceID is the request id.
	TraceID string `json:"trace_id,omitempty"`
	// Code is the ledger error code, when the failure came from a call.
	Code errs.Code `json:"code,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, r *http.Request, problem *ProblemDetail) {
	problem.Type = fmt.Sprintf("https://proofpay.dev/errors/%d", problem.Status)
	if r != nil {
		problem.Instance = r.URL.Path
		problem.TraceID = GetRequestID(r.Context())
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteProblem writes an RFC 7807 response enriched with the request path
// and request id.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, r, &ProblemDetail{Title: title, Status: status, Detail: detail})
}

// WriteError maps a ledger error onto a problem response. Internal errors
// are logged and never exposed.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := code.HTTPStatus()
	if status == http.StatusInternalServerError {
		WriteInternal(w, r, err)
		return
	}
	writeProblem(w, r, &ProblemDetail{
		Title:  http.StatusText(status),
		Status: status,
		Detail: err.Error(),
		Code:   code,
	})
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, &ProblemDetail{
		Title:  "Bad Request",
		Status: http.StatusBadRequest,
		Detail: detail,
		Code:   errs.CodeInvalidArgument,
	})
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteProblem(w, r, http.StatusUnauthorized, "Unauthorized", detail)
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, &ProblemDetail{
		Title:  "Not Found",
		Status: http.StatusNotFound,
		Detail: detail,
		Code:   errs.CodeNotFound,
	})
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteProblem(w, r, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "internal server error", "error", err, "request_id", GetRequestID(r.Context()))
	writeProblem(w, r, &ProblemDetail{
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
		Detail: "An unexpected error occurred. Please try again later.",
		Code:   errs.CodeInternal,
	})
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
