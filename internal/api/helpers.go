package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/openclaw/clawdeck/internal/ratelimit"
)

type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, errorBody{Error: message})
}

// rateLimited wraps a handler with a fixed-window check keyed by scope and
// client address. The scope keeps each preset's bucket separate, so
// fetches never consume the send quota. Rejected requests get a
// Retry-After header in whole seconds.
func rateLimited(limiter *ratelimit.Limiter, scope string, cfg ratelimit.Config, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := limiter.Check(scope+":"+ratelimit.ClientKey(r), cfg)
		if !result.Success {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			sendJSON(w, http.StatusTooManyRequests, errorBody{
				Error:      "rate limit exceeded",
				RetryAfter: result.RetryAfter,
			})
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		next(w, r)
	}
}
