package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fitbridge/fitbridge/internal/domain/apperr"
	"github.com/fitbridge/fitbridge/internal/domain/ratelimit"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps err onto the taxonomy: status from the kind, stable code
// in "error", client-safe message in "message". Production mode swaps the
// message for the kind's fixed vocabulary.
func (t *HTTPTransport) writeError(w http.ResponseWriter, err error) {
	appErr := apperr.AsError(err)
	writeErrorStatus(w, appErr.Kind.HTTPStatus(), appErr.Kind.Code(), appErr.ClientMessage(t.production))
}

// writeErrorStatus writes a taxonomy-shaped body with an explicit status for
// the few cases outside the kind table (413, 405).
func writeErrorStatus(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}

// writeRateLimited answers 429 with Retry-After in whole seconds, rounded up
// so clients never retry inside the same window.
func writeRateLimited(w http.ResponseWriter, res ratelimit.Result) {
	seconds := int(res.RetryAfter / time.Second)
	if res.RetryAfter > time.Duration(seconds)*time.Second {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeErrorStatus(w, http.StatusTooManyRequests, apperr.KindRateLimit.Code(), "rate limit exceeded, retry later")
}
