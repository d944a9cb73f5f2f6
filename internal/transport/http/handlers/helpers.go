package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/services/ratelimit"
	httperrors "github.com/ivankudzin/voxclip-safety/internal/transport/http/errors"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}

func writeUnavailable(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{Code: code, Message: message})
}

// writeServiceError maps a service error to its status code. Messages never carry
// storage details; validation messages come from input checks and are safe to echo.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error, fallback string) {
	if limited, ok := errs.IsRateLimited(err); ok {
		retryAfter := limited.RetryAfterSec()
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limited.Limit))
		w.Header().Set("X-RateLimit-Remaining", "0")
		resetAt := limited.ResetAt.UTC()
		if !resetAt.IsZero() {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		}
		httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
			Code:          "RATE_LIMITED",
			Message:       "too many requests",
			RetryAfterSec: retryAfter,
			ResetAt:       timePtrOrNil(resetAt),
		})
		return
	}
	if farming, ok := errs.IsFarming(err); ok {
		retryAfter := farming.RetryAfterSec()
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
			Code:          "FARMING_DETECTED",
			Message:       "reputation action rejected: " + farming.Reason,
			RetryAfterSec: retryAfter,
		})
		return
	}
	if blocked, ok := errs.IsBlocked(err); ok {
		httperrors.Write(w, http.StatusForbidden, httperrors.BlockedError{
			Code:     "BLOCKED",
			Message:  "request blocked",
			Reason:   blocked.Reason,
			Severity: blocked.Severity,
		})
		return
	}

	switch {
	case errors.Is(err, errs.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, errs.ErrNotFound):
		httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: "NOT_FOUND", Message: "not found"})
	case errors.Is(err, errs.ErrInvalidTransition):
		httperrors.Write(w, http.StatusConflict, httperrors.APIError{Code: "INVALID_TRANSITION", Message: "workflow transition is not allowed"})
	case errors.Is(err, errs.ErrStoreUnavailable):
		if log != nil {
			log.Warn("store unavailable", zap.Error(err))
		}
		writeUnavailable(w, "STORE_UNAVAILABLE", "safety store is unavailable")
	default:
		if log != nil {
			log.Error("request failed", zap.Error(err))
		}
		writeInternal(w, "INTERNAL_ERROR", fallback)
	}
}

func setRateLimitHeaders(w http.ResponseWriter, decision ratelimit.Decision) {
	if decision.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
}

func itemKindFromRequest(r *http.Request) (enums.ItemKind, bool) {
	return enums.ParseItemKind(chi.URLParam(r, "kind"))
}

func uuidParam(r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, key)))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(r *http.Request, key string) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return nil, false
	}
	return &id, true
}

func queryInt(r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

func queryBool(r *http.Request, key string, fallback bool) (bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return value, true
}

func queryTime(r *http.Request, key string) (*time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, true
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false
	}
	value = value.UTC()
	return &value, true
}

func timePtrOrNil(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	return &value
}
