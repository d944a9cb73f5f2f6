package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
)

type IPBlacklistEntry struct {
	ID        int64      `json:"id"`
	IPAddress string     `json:"ip_address"`
	Reason    string     `json:"reason"`
	BannedBy  *uuid.UUID `json:"banned_by,omitempty"`
	BannedAt  time.Time  `json:"banned_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// ActiveAt reports whether the entry blocks traffic at the given instant.
func (e IPBlacklistEntry) ActiveAt(now time.Time) bool {
	if !e.IsActive {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

type SuspiciousPattern struct {
	IPAddress   string            `json:"ip_address"`
	PatternType enums.PatternType `json:"pattern_type"`
	Severity    enums.Severity    `json:"severity"`
	Count       int64             `json:"count"`
	LastSeenAt  *time.Time        `json:"last_seen_at,omitempty"`
}
