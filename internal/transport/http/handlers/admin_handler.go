package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	redrepo "github.com/ivankudzin/voxclip-safety/internal/repo/redis"
	auditsvc "github.com/ivankudzin/voxclip-safety/internal/services/audit"
	authsvc "github.com/ivankudzin/voxclip-safety/internal/services/auth"
	"github.com/ivankudzin/voxclip-safety/internal/services/ipreputation"
	"github.com/ivankudzin/voxclip-safety/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/voxclip-safety/internal/transport/http/errors"
)

type SafetyDashboardReader interface {
	Summary(ctx context.Context) (redrepo.SafetySummary, error)
	Top(ctx context.Context, limit int64) ([]redrepo.OffenderItem, error)
}

type AdminHandler struct {
	reputation *ipreputation.Service
	audit      *auditsvc.Recorder
	dashboard  SafetyDashboardReader
	logger     *zap.Logger
}

func NewAdminHandler(reputation *ipreputation.Service, audit *auditsvc.Recorder, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		reputation: reputation,
		audit:      audit,
		logger:     logger,
	}
}

func (h *AdminHandler) AttachSafetyDashboard(reader SafetyDashboardReader) {
	h.dashboard = reader
}

func (h *AdminHandler) ListBlacklist(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.reputation == nil {
		writeUnavailable(w, "IP_REPUTATION_UNAVAILABLE", "ip reputation is unavailable")
		return
	}

	activeOnly, ok := queryBool(r, "active_only", true)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "active_only must be a boolean")
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "limit must be a non-negative integer")
		return
	}

	entries, err := h.reputation.ListBlacklist(r.Context(), activeOnly, limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list blacklist")
		return
	}
	if entries == nil {
		entries = []model.IPBlacklistEntry{}
	}
	httperrors.Write(w, http.StatusOK, dto.BlacklistResponse{Items: entries})
}

func (h *AdminHandler) AddBlacklist(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.reputation == nil {
		writeUnavailable(w, "IP_REPUTATION_UNAVAILABLE", "ip reputation is unavailable")
		return
	}

	var req dto.BlacklistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}

	entry, err := h.reputation.Blacklist(r.Context(), identity.Actor(), ipreputation.BlacklistInput{
		IP:        req.IP,
		Reason:    req.Reason,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to blacklist ip")
		return
	}
	httperrors.Write(w, http.StatusOK, entry)
}

func (h *AdminHandler) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.reputation == nil {
		writeUnavailable(w, "IP_REPUTATION_UNAVAILABLE", "ip reputation is unavailable")
		return
	}

	entry, err := h.reputation.Unblacklist(r.Context(), identity.Actor(), strings.TrimSpace(chi.URLParam(r, "ip")))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to remove ip from blacklist")
		return
	}
	httperrors.Write(w, http.StatusOK, entry)
}

func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.audit == nil {
		writeUnavailable(w, "AUDIT_UNAVAILABLE", "audit log is unavailable")
		return
	}

	filter := auditsvc.ListFilter{Action: strings.TrimSpace(r.URL.Query().Get("action"))}
	var ok bool
	if filter.AdminID, ok = queryUUID(r, "admin_id"); !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "admin_id must be a uuid")
		return
	}
	if filter.From, ok = queryTime(r, "from"); !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "from must be an RFC3339 timestamp")
		return
	}
	if filter.To, ok = queryTime(r, "to"); !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "to must be an RFC3339 timestamp")
		return
	}
	if filter.Limit, ok = queryInt(r, "limit", 0); !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "limit must be a non-negative integer")
		return
	}

	entries, err := h.audit.ListAudit(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load audit log")
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	httperrors.Write(w, http.StatusOK, dto.AuditResponse{Items: entries})
}

func (h *AdminHandler) SafetySummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.dashboard == nil {
		writeUnavailable(w, "SAFETY_DASHBOARD_UNAVAILABLE", "safety dashboard is unavailable")
		return
	}

	summary, err := h.dashboard.Summary(r.Context())
	if err != nil {
		h.logger.Warn("safety summary failed", zap.Error(err))
		writeUnavailable(w, "SAFETY_DASHBOARD_UNAVAILABLE", "failed to load safety summary")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.SafetySummaryResponse{
		RateLimited1h: summary.RateLimited1h,
		Blocked1h:     summary.Blocked1h,
		Farming1h:     summary.Farming1h,
		FailOpen1h:    summary.FailOpen1h,
	})
}

func (h *AdminHandler) SafetyTop(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.dashboard == nil {
		writeUnavailable(w, "SAFETY_DASHBOARD_UNAVAILABLE", "safety dashboard is unavailable")
		return
	}

	limit, ok := queryInt(r, "limit", 20)
	if !ok || limit == 0 {
		writeBadRequest(w, "VALIDATION_ERROR", "limit must be a positive integer")
		return
	}

	items, err := h.dashboard.Top(r.Context(), int64(limit))
	if err != nil {
		h.logger.Warn("safety top offenders failed", zap.Error(err))
		writeUnavailable(w, "SAFETY_DASHBOARD_UNAVAILABLE", "failed to load top offenders")
		return
	}

	resp := dto.OffendersResponse{Items: make([]dto.OffenderItem, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, dto.OffenderItem{
			IP:    item.ID,
			Count: int64(item.Score),
		})
	}
	httperrors.Write(w, http.StatusOK, resp)
}
