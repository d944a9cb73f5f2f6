package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

type InboundCheckRequest struct {
	IP         string         `json:"ip"`
	ActionType string         `json:"action_type"`
	ProfileID  *uuid.UUID     `json:"profile_id"`
	ResourceID *string        `json:"resource_id"`
	DeviceID   *string        `json:"device_id"`
	UserAgent  *string        `json:"user_agent"`
	Metadata   map[string]any `json:"metadata"`
}

type RateLimitResponse struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	Degraded  bool      `json:"degraded,omitempty"`
}

type PatternResponse struct {
	IsSuspicious bool       `json:"is_suspicious"`
	PatternType  string     `json:"pattern_type,omitempty"`
	Severity     string     `json:"severity,omitempty"`
	Count        int64      `json:"count"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	Degraded     bool       `json:"degraded,omitempty"`
}

type InboundCheckResponse struct {
	Allowed      bool               `json:"allowed"`
	Pattern      *PatternResponse   `json:"pattern,omitempty"`
	IPLimit      *RateLimitResponse `json:"ip_limit,omitempty"`
	SubjectLimit *RateLimitResponse `json:"subject_limit,omitempty"`
	Degraded     bool               `json:"degraded,omitempty"`
}

// RateLimitCheckRequest falls back to the action policy when max_requests or
// window_minutes is omitted.
type RateLimitCheckRequest struct {
	IP            string     `json:"ip"`
	ProfileID     *uuid.UUID `json:"profile_id"`
	ActionType    string     `json:"action_type"`
	MaxRequests   int        `json:"max_requests"`
	WindowMinutes int        `json:"window_minutes"`
}

type BlacklistStatusResponse struct {
	IP          string `json:"ip"`
	Blacklisted bool   `json:"blacklisted"`
}

type PatternCheckRequest struct {
	IP            string `json:"ip"`
	ActionType    string `json:"action_type"`
	WindowMinutes int    `json:"window_minutes"`
}

type FarmingCheckRequest struct {
	TargetProfileID uuid.UUID  `json:"target_profile_id"`
	SourceProfileID *uuid.UUID `json:"source_profile_id"`
	ActionType      string     `json:"action_type"`
	CooldownMinutes int        `json:"cooldown_minutes"`
}

type FarmingVerdictResponse struct {
	IsFarming     bool   `json:"is_farming"`
	Reason        string `json:"reason,omitempty"`
	Count         int    `json:"count"`
	RetryAfterSec int64  `json:"retry_after_sec,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`
}

type ActivityRequest struct {
	IP         string         `json:"ip"`
	ActionType string         `json:"action_type"`
	ProfileID  *uuid.UUID     `json:"profile_id"`
	ResourceID *string        `json:"resource_id"`
	DeviceID   *string        `json:"device_id"`
	UserAgent  *string        `json:"user_agent"`
	Metadata   map[string]any `json:"metadata"`
}

type ReputationActionRequest struct {
	TargetProfileID uuid.UUID  `json:"target_profile_id"`
	SourceProfileID *uuid.UUID `json:"source_profile_id"`
	ActionType      string     `json:"action_type"`
	ResourceID      *string    `json:"resource_id"`
	Points          int        `json:"points"`
}

type ReputationAdmitResponse struct {
	Verdict FarmingVerdictResponse `json:"verdict"`
	Action  model.ReputationAction `json:"action"`
}
