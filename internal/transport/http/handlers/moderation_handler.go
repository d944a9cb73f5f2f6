package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	authsvc "github.com/ivankudzin/voxclip-safety/internal/services/auth"
	modsvc "github.com/ivankudzin/voxclip-safety/internal/services/moderation"
	"github.com/ivankudzin/voxclip-safety/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/voxclip-safety/internal/transport/http/errors"
)

type ModerationHandler struct {
	service *modsvc.Service
	logger  *zap.Logger
}

func NewModerationHandler(service *modsvc.Service, logger *zap.Logger) *ModerationHandler {
	return &ModerationHandler{service: service, logger: logger}
}

func (h *ModerationHandler) CreateFlag(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeUnavailable(w, "MODERATION_SERVICE_UNAVAILABLE", "moderation service is unavailable")
		return
	}

	var req dto.FlagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}

	item, err := h.service.EnqueueFlag(r.Context(), modsvc.FlagInput{
		SubjectResourceID: req.SubjectResourceID,
		Reasons:           req.Reasons,
		Content:           req.Content,
		RiskScore:         req.RiskScore,
		Source:            enums.ItemSource(strings.ToLower(strings.TrimSpace(req.Source))),
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to enqueue flag")
		return
	}
	httperrors.Write(w, http.StatusCreated, item)
}

func (h *ModerationHandler) CreateReport(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeUnavailable(w, "MODERATION_SERVICE_UNAVAILABLE", "moderation service is unavailable")
		return
	}

	var req dto.ReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}

	item, err := h.service.SubmitReport(r.Context(), modsvc.ReportInput{
		SubjectResourceID: req.SubjectResourceID,
		ReporterID:        req.ReporterID,
		Reasons:           req.Reasons,
		Content:           req.Content,
		RiskScore:         req.RiskScore,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to submit report")
		return
	}
	httperrors.Write(w, http.StatusCreated, item)
}

func (h *ModerationHandler) Queue(w http.ResponseWriter, r *http.Request) {
	if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeUnavailable(w, "MODERATION_SERVICE_UNAVAILABLE", "moderation service is unavailable")
		return
	}

	query, ok := queueQueryFromRequest(w, r)
	if !ok {
		return
	}

	result, err := h.service.List(r.Context(), query)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load moderation queue")
		return
	}
	httperrors.Write(w, http.StatusOK, result)
}

func (h *ModerationHandler) Assign(w http.ResponseWriter, r *http.Request) {
	identity, kind, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}

	var req dto.AssignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}

	item, err := h.service.Assign(r.Context(), identity.Actor(), kind, id, req.AssigneeID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to assign moderation item")
		return
	}
	httperrors.Write(w, http.StatusOK, item)
}

func (h *ModerationHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	identity, kind, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}

	var req dto.StateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}
	state, valid := enums.ParseWorkflowState(req.State)
	if !valid {
		writeBadRequest(w, "VALIDATION_ERROR", "unknown workflow state")
		return
	}

	item, err := h.service.UpdateWorkflowState(r.Context(), identity.Actor(), kind, id, state, req.Note)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update moderation item")
		return
	}
	httperrors.Write(w, http.StatusOK, item)
}

func (h *ModerationHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeUnavailable(w, "MODERATION_SERVICE_UNAVAILABLE", "moderation service is unavailable")
		return
	}
	kind, ok := itemKindFromRequest(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "kind must be flag or report")
		return
	}

	var req dto.BulkStateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}
	state, valid := enums.ParseWorkflowState(req.State)
	if !valid {
		writeBadRequest(w, "VALIDATION_ERROR", "unknown workflow state")
		return
	}

	result, err := h.service.BulkUpdate(r.Context(), identity.Actor(), kind, req.IDs, state, req.Note)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update moderation items")
		return
	}
	httperrors.Write(w, http.StatusOK, result)
}

func (h *ModerationHandler) Notes(w http.ResponseWriter, r *http.Request) {
	identity, kind, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}

	var req dto.NotesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}

	item, err := h.service.AddNote(r.Context(), identity.Actor(), kind, id, req.Notes)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update notes")
		return
	}
	httperrors.Write(w, http.StatusOK, item)
}

func (h *ModerationHandler) History(w http.ResponseWriter, r *http.Request) {
	_, kind, id, ok := h.itemRequest(w, r)
	if !ok {
		return
	}

	entries, err := h.service.History(r.Context(), kind, id)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load history")
		return
	}
	if entries == nil {
		entries = []model.ModerationHistoryEntry{}
	}
	httperrors.Write(w, http.StatusOK, dto.HistoryResponse{Items: entries})
}

func (h *ModerationHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeUnavailable(w, "MODERATION_SERVICE_UNAVAILABLE", "moderation service is unavailable")
		return
	}

	report, err := h.service.TriggerEscalation(r.Context(), identity.Actor())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to run escalation")
		return
	}
	httperrors.Write(w, http.StatusOK, report)
}

func (h *ModerationHandler) itemRequest(w http.ResponseWriter, r *http.Request) (authsvc.Identity, enums.ItemKind, uuid.UUID, bool) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return authsvc.Identity{}, "", uuid.Nil, false
	}
	if h.service == nil {
		writeUnavailable(w, "MODERATION_SERVICE_UNAVAILABLE", "moderation service is unavailable")
		return authsvc.Identity{}, "", uuid.Nil, false
	}
	kind, ok := itemKindFromRequest(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "kind must be flag or report")
		return authsvc.Identity{}, "", uuid.Nil, false
	}
	id, ok := uuidParam(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid moderation item id")
		return authsvc.Identity{}, "", uuid.Nil, false
	}
	return identity, kind, id, true
}

func queueQueryFromRequest(w http.ResponseWriter, r *http.Request) (modsvc.Query, bool) {
	values := r.URL.Query()
	query := modsvc.Query{
		Search: values.Get("q"),
		Sort:   values.Get("sort"),
	}

	if raw := strings.TrimSpace(values.Get("kind")); raw != "" {
		kind, ok := enums.ParseItemKind(raw)
		if !ok {
			writeBadRequest(w, "VALIDATION_ERROR", "kind must be flag or report")
			return modsvc.Query{}, false
		}
		query.Kind = &kind
	}
	for _, raw := range strings.Split(values.Get("state"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		state, ok := enums.ParseWorkflowState(raw)
		if !ok {
			writeBadRequest(w, "VALIDATION_ERROR", "unknown workflow state")
			return modsvc.Query{}, false
		}
		query.States = append(query.States, state)
	}
	if raw := strings.ToLower(strings.TrimSpace(values.Get("source"))); raw != "" {
		source := enums.ItemSource(raw)
		query.Source = &source
	}
	if raw := strings.ToLower(strings.TrimSpace(values.Get("risk_band"))); raw != "" {
		band := enums.Severity(raw)
		query.RiskBand = &band
	}

	var ok bool
	if query.Unassigned, ok = queryBool(r, "unassigned", false); !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "unassigned must be a boolean")
		return modsvc.Query{}, false
	}
	if query.AssignedTo, ok = queryUUID(r, "assigned_to"); !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "assigned_to must be a uuid")
		return modsvc.Query{}, false
	}
	if query.Limit, ok = queryInt(r, "limit", 0); !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "limit must be a non-negative integer")
		return modsvc.Query{}, false
	}
	if query.Offset, ok = queryInt(r, "offset", 0); !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "offset must be a non-negative integer")
		return modsvc.Query{}, false
	}
	return query, true
}
