package model

import (
	"time"

	"github.com/google/uuid"
)

// ActivityRecord is immutable once written.
type ActivityRecord struct {
	ID               int64          `json:"id"`
	Subject          string         `json:"subject"`
	ActionType       string         `json:"action_type"`
	ProfileID        *uuid.UUID     `json:"profile_id,omitempty"`
	TargetResourceID *string        `json:"target_resource_id,omitempty"`
	DeviceID         *string        `json:"device_id,omitempty"`
	UserAgent        *string        `json:"user_agent,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

type ReputationAction struct {
	ID              int64      `json:"id"`
	TargetProfileID uuid.UUID  `json:"target_profile_id"`
	SourceProfileID *uuid.UUID `json:"source_profile_id,omitempty"`
	ActionType      string     `json:"action_type"`
	ResourceID      *string    `json:"resource_id,omitempty"`
	Points          int        `json:"points"`
	CreatedAt       time.Time  `json:"created_at"`
}

type RateLimitCounter struct {
	Subject       string    `json:"subject"`
	ActionType    string    `json:"action_type"`
	WindowStart   time.Time `json:"window_start"`
	Count         int       `json:"count"`
	MaxRequests   int       `json:"max_requests"`
	WindowMinutes int       `json:"window_minutes"`
}

// ActivityAggregate summarises one IP's activity over a trailing window.
type ActivityAggregate struct {
	ActionCount      int64
	DistinctProfiles int64
	AccountsCreated  int64
	LastSeenAt       *time.Time
}
