// Package api writes RFC 7807 problem responses for the HTTP surface.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/rs/zerolog/log"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 problem detail
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteProblem writes a problem response with the given status
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	p := &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
	if r != nil {
		p.Instance = r.URL.Path
	}
	write(w, p)
}

// WriteError maps err onto its kind's status. Internal errors are logged and
// replaced by a generic detail.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()

	if kind == apperr.Internal {
		evt := log.Error().Err(err)
		if r != nil {
			evt = evt.Str("method", r.Method).Str("path", r.URL.Path)
		}
		evt.Msg("Internal error")
	}

	p := &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: apperr.Message(err),
		Kind:   kind.String(),
	}
	if r != nil {
		p.Instance = r.URL.Path
	}
	write(w, p)
}

// WriteTooManyRequests writes a 429 with a Retry-After hint in seconds
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteProblem(w, r, http.StatusTooManyRequests, "rate limit exceeded, retry later")
}

func write(w http.ResponseWriter, p *Problem) {
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Error().Err(err).Msg("Failed to encode problem response")
	}
}

// WriteJSON writes v as a JSON response
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
