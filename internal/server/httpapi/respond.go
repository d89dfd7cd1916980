package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/linqyard/linqyard/internal/common"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeError maps service errors onto HTTP statuses. Unknown errors become an
// opaque 500; no internal detail crosses the boundary.
func writeError(w http.ResponseWriter, err error) {
	var status int
	var msg string

	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, common.ErrInvalidRefreshToken):
		status, msg = http.StatusUnauthorized, "invalid refresh token"
	case errors.Is(err, common.ErrorUnauthorized):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, common.ErrEmailNotVerified):
		status, msg = http.StatusForbidden, "email not verified"
	case errors.Is(err, common.ErrorAlreadyExists):
		status, msg = http.StatusConflict, "already exists"
	case errors.Is(err, common.ErrCodeAlreadyUsed):
		status, msg = http.StatusConflict, "code already used"
	case errors.Is(err, common.ErrCodeNotFound):
		status, msg = http.StatusBadRequest, "invalid or expired code"
	case errors.Is(err, common.ErrRateLimited):
		if seconds := retryAfterSeconds(err); seconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
		status, msg = http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, common.ErrorNotFound):
		status, msg = http.StatusNotFound, "not found"
	default:
		status, msg = http.StatusInternalServerError, "internal error"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

// retryAfterSeconds extracts the wait hint from a rate-limit error, rounded
// up to whole seconds. Zero when the error carries no hint.
func retryAfterSeconds(err error) int {
	var rle *common.RateLimitError
	if !errors.As(err, &rle) || rle.RetryAfter <= 0 {
		return 0
	}
	return int((rle.RetryAfter + time.Second - 1) / time.Second)
}

// decodeOptionalBody parses a JSON body when one is present and stays silent
// otherwise.
func decodeOptionalBody(r *http.Request, dst any) {
	if r.Body == nil {
		return
	}
	json.NewDecoder(r.Body).Decode(dst)
}

// decodeBody parses a JSON request body into dst. A missing or malformed body
// is the caller's problem, reported as 400.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}
