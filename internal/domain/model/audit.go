package model

import (
	"time"

	"github.com/google/uuid"
)

// Actor identifies who performed a mutation. A nil AdminID means the system.
type Actor struct {
	AdminID   *uuid.UUID
	DeviceID  string
	IPAddress string
}

func SystemActor() Actor {
	return Actor{}
}

func (a Actor) IsSystem() bool {
	return a.AdminID == nil
}

type AuditEntry struct {
	ID         int64          `json:"id"`
	AdminID    *uuid.UUID     `json:"admin_id,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	DeviceID   string         `json:"device_id,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
