package api

import (
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"

	"github.com/hyperengineering/studiosync/internal/remote"
	"github.com/hyperengineering/studiosync/internal/validation"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	typeURI string
	title   string
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]problemType{
	http.StatusBadRequest:            {"https://studiosync.dev/errors/bad-request", "Bad Request"},
	http.StatusUnauthorized:          {"https://studiosync.dev/errors/unauthorized", "Unauthorized"},
	http.StatusNotFound:              {"https://studiosync.dev/errors/not-found", "Not Found"},
	http.StatusConflict:              {"https://studiosync.dev/errors/conflict", "Conflict"},
	http.StatusRequestEntityTooLarge: {"https://studiosync.dev/errors/payload-too-large", "Payload Too Large"},
	http.StatusUnprocessableEntity:   {"https://studiosync.dev/errors/validation-error", "Validation Error"},
	http.StatusTooManyRequests:       {"https://studiosync.dev/errors/rate-limit", "Too Many Requests"},
	http.StatusInternalServerError:   {"https://studiosync.dev/errors/internal-error", "Internal Server Error"},
	http.StatusServiceUnavailable:    {"https://studiosync.dev/errors/service-unavailable", "Service Unavailable"},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{typeURI: "https://studiosync.dev/errors/unknown", title: http.StatusText(status)}
	}
	return Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, status, newProblem(r, status, detail))
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

// MapRemoteError converts hub errors to Problem Details responses.
func MapRemoteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, remote.ErrRejected):
		WriteProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, remote.ErrStale):
		WriteProblem(w, r, http.StatusConflict, "Record changed on the server")
	case remote.IsCanceled(err):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Request canceled")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
