package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/services/activity"
	"github.com/ivankudzin/voxclip-safety/internal/services/farming"
	"github.com/ivankudzin/voxclip-safety/internal/services/gate"
	"github.com/ivankudzin/voxclip-safety/internal/services/ipreputation"
	"github.com/ivankudzin/voxclip-safety/internal/services/ratelimit"
	"github.com/ivankudzin/voxclip-safety/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/voxclip-safety/internal/transport/http/errors"
)

type SafetyDependencies struct {
	Gate       *gate.Service
	Limiter    *ratelimit.Limiter
	Reputation *ipreputation.Service
	Farming    *farming.Guard
	Ledger     *activity.Ledger
	Policies   gate.PolicyFunc
	Logger     *zap.Logger
}

// SafetyHandler serves the internal endpoints called by other platform services.
type SafetyHandler struct {
	deps SafetyDependencies
}

func NewSafetyHandler(deps SafetyDependencies) *SafetyHandler {
	if deps.Policies == nil {
		deps.Policies = func(string) gate.Policy { return gate.Policy{} }
	}
	return &SafetyHandler{deps: deps}
}

func (h *SafetyHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gate == nil {
		writeUnavailable(w, "GATE_UNAVAILABLE", "inbound gate is unavailable")
		return
	}

	var req dto.InboundCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}

	verdict, err := h.deps.Gate.CheckInbound(r.Context(), gate.InboundRequest{
		IP:         req.IP,
		ActionType: req.ActionType,
		ProfileID:  req.ProfileID,
		ResourceID: req.ResourceID,
		DeviceID:   req.DeviceID,
		UserAgent:  req.UserAgent,
		Metadata:   req.Metadata,
	})
	if verdict.SubjectLimit != nil {
		setRateLimitHeaders(w, *verdict.SubjectLimit)
	} else if verdict.IPLimit != nil {
		setRateLimitHeaders(w, *verdict.IPLimit)
	}
	if err != nil {
		writeServiceError(w, h.deps.Logger, err, "failed to check inbound request")
		return
	}

	resp := dto.InboundCheckResponse{
		Allowed:  verdict.Allowed,
		Degraded: verdict.Degraded,
	}
	if verdict.Pattern != nil {
		pattern := patternResponse(*verdict.Pattern)
		resp.Pattern = &pattern
	}
	if verdict.IPLimit != nil {
		limit := rateLimitResponse(*verdict.IPLimit)
		resp.IPLimit = &limit
	}
	if verdict.SubjectLimit != nil {
		limit := rateLimitResponse(*verdict.SubjectLimit)
		resp.SubjectLimit = &limit
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *SafetyHandler) RateLimitIP(w http.ResponseWriter, r *http.Request) {
	var req dto.RateLimitCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}
	ip, err := activity.NormalizeIP(req.IP)
	if err != nil {
		writeServiceError(w, h.deps.Logger, err, "failed to check rate limit")
		return
	}

	policy := h.deps.Policies(req.ActionType)
	h.enforce(w, r, "ip:"+ip, req, policy.IPMax, policy.IPWindowMinutes)
}

func (h *SafetyHandler) RateLimitSubject(w http.ResponseWriter, r *http.Request) {
	var req dto.RateLimitCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}
	if req.ProfileID == nil {
		writeBadRequest(w, "VALIDATION_ERROR", "profile_id is required")
		return
	}

	policy := h.deps.Policies(req.ActionType)
	h.enforce(w, r, "profile:"+req.ProfileID.String(), req, policy.SubjectMax, policy.SubjectWindowMinutes)
}

func (h *SafetyHandler) enforce(w http.ResponseWriter, r *http.Request, subject string, req dto.RateLimitCheckRequest, policyMax, policyWindow int) {
	if h.deps.Limiter == nil {
		writeUnavailable(w, "RATE_LIMITER_UNAVAILABLE", "rate limiter is unavailable")
		return
	}

	maxRequests, windowMinutes := req.MaxRequests, req.WindowMinutes
	if maxRequests == 0 {
		maxRequests = policyMax
	}
	if windowMinutes == 0 {
		windowMinutes = policyWindow
	}

	decision, err := h.deps.Limiter.Enforce(r.Context(), subject, req.ActionType, maxRequests, windowMinutes)
	if err != nil {
		writeServiceError(w, h.deps.Logger, err, "failed to check rate limit")
		return
	}
	setRateLimitHeaders(w, decision)
	httperrors.Write(w, http.StatusOK, rateLimitResponse(decision))
}

func (h *SafetyHandler) Blacklisted(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reputation == nil {
		writeUnavailable(w, "IP_REPUTATION_UNAVAILABLE", "ip reputation is unavailable")
		return
	}

	ip := strings.TrimSpace(chi.URLParam(r, "ip"))
	blacklisted, err := h.deps.Reputation.IsBlacklisted(r.Context(), ip)
	if err != nil {
		writeServiceError(w, h.deps.Logger, err, "failed to check blacklist")
		return
	}
	normalized, _ := activity.NormalizeIP(ip)
	httperrors.Write(w, http.StatusOK, dto.BlacklistStatusResponse{IP: normalized, Blacklisted: blacklisted})
}

func (h *SafetyHandler) Pattern(w http.ResponseWriter, r *http.Request) {
	if h.deps.Reputation == nil {
		writeUnavailable(w, "IP_REPUTATION_UNAVAILABLE", "ip reputation is unavailable")
		return
	}

	var req dto.PatternCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}
	windowMinutes := req.WindowMinutes
	if windowMinutes == 0 {
		windowMinutes = h.deps.Policies(req.ActionType).PatternWindowMinutes
	}

	result, err := h.deps.Reputation.DetectSuspiciousPattern(r.Context(), req.IP, req.ActionType, windowMinutes)
	if err != nil {
		writeServiceError(w, h.deps.Logger, err, "failed to detect suspicious pattern")
		return
	}
	httperrors.Write(w, http.StatusOK, patternResponse(result))
}

func (h *SafetyHandler) FarmingCheck(w http.ResponseWriter, r *http.Request) {
	if h.deps.Farming == nil {
		writeUnavailable(w, "FARMING_GUARD_UNAVAILABLE", "farming guard is unavailable")
		return
	}

	var req dto.FarmingCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}
	cooldown := req.CooldownMinutes
	if cooldown == 0 {
		cooldown = h.deps.Policies(req.ActionType).FarmingCooldownMinutes
	}

	verdict, err := h.deps.Farming.Check(r.Context(), req.TargetProfileID, req.SourceProfileID, req.ActionType, cooldown)
	if err != nil {
		writeServiceError(w, h.deps.Logger, err, "failed to check farming")
		return
	}
	httperrors.Write(w, http.StatusOK, farmingVerdictResponse(verdict))
}

func (h *SafetyHandler) Activity(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		writeUnavailable(w, "LEDGER_UNAVAILABLE", "activity ledger is unavailable")
		return
	}

	var req dto.ActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}

	record, err := h.deps.Ledger.LogIPActivity(r.Context(), activity.Entry{
		IP:         req.IP,
		ActionType: req.ActionType,
		ProfileID:  req.ProfileID,
		ResourceID: req.ResourceID,
		DeviceID:   req.DeviceID,
		UserAgent:  req.UserAgent,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeServiceError(w, h.deps.Logger, err, "failed to record activity")
		return
	}
	httperrors.Write(w, http.StatusAccepted, record)
}

// ReputationLog records a reputation action without consulting the farming guard.
func (h *SafetyHandler) ReputationLog(w http.ResponseWriter, r *http.Request) {
	if h.deps.Farming == nil {
		writeUnavailable(w, "FARMING_GUARD_UNAVAILABLE", "farming guard is unavailable")
		return
	}

	var req dto.ReputationActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}

	recorded, err := h.deps.Farming.LogReputationAction(r.Context(), farming.Action{
		TargetProfileID: req.TargetProfileID,
		SourceProfileID: req.SourceProfileID,
		ActionType:      req.ActionType,
		ResourceID:      req.ResourceID,
		Points:          req.Points,
	})
	if err != nil {
		writeServiceError(w, h.deps.Logger, err, "failed to record reputation action")
		return
	}
	httperrors.Write(w, http.StatusAccepted, recorded)
}

func (h *SafetyHandler) ReputationAdmit(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gate == nil {
		writeUnavailable(w, "GATE_UNAVAILABLE", "inbound gate is unavailable")
		return
	}

	var req dto.ReputationActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid json body")
		return
	}

	verdict, recorded, err := h.deps.Gate.AdmitReputationAction(r.Context(), gate.ReputationRequest{
		TargetProfileID: req.TargetProfileID,
		SourceProfileID: req.SourceProfileID,
		ActionType:      req.ActionType,
		ResourceID:      req.ResourceID,
		Points:          req.Points,
	})
	if err != nil {
		writeServiceError(w, h.deps.Logger, err, "failed to admit reputation action")
		return
	}
	httperrors.Write(w, http.StatusCreated, dto.ReputationAdmitResponse{
		Verdict: farmingVerdictResponse(verdict),
		Action:  recorded,
	})
}

func rateLimitResponse(decision ratelimit.Decision) dto.RateLimitResponse {
	return dto.RateLimitResponse{
		Allowed:   decision.Allowed,
		Remaining: decision.Remaining,
		Limit:     decision.Limit,
		ResetAt:   decision.ResetAt,
		Degraded:  decision.Degraded,
	}
}

func patternResponse(result ipreputation.PatternResult) dto.PatternResponse {
	return dto.PatternResponse{
		IsSuspicious: result.IsSuspicious,
		PatternType:  string(result.PatternType),
		Severity:     string(result.Severity),
		Count:        result.Count,
		LastSeenAt:   result.LastSeenAt,
		Degraded:     result.Degraded,
	}
}

func farmingVerdictResponse(verdict farming.Verdict) dto.FarmingVerdictResponse {
	resp := dto.FarmingVerdictResponse{
		IsFarming: verdict.IsFarming,
		Reason:    verdict.Reason,
		Count:     verdict.Count,
		Degraded:  verdict.Degraded,
	}
	if verdict.IsFarming {
		resp.RetryAfterSec = (&errs.FarmingError{RetryAfter: verdict.RetryAfter}).RetryAfterSec()
	}
	return resp
}
