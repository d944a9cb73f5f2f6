package dto

import (
	"time"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

type BlacklistRequest struct {
	IP        string     `json:"ip"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type BlacklistResponse struct {
	Items []model.IPBlacklistEntry `json:"items"`
}

type AuditResponse struct {
	Items []model.AuditEntry `json:"items"`
}

type SafetySummaryResponse struct {
	RateLimited1h int64 `json:"rate_limited_1h"`
	Blocked1h     int64 `json:"blocked_1h"`
	Farming1h     int64 `json:"farming_1h"`
	FailOpen1h    int64 `json:"fail_open_1h"`
}

type OffenderItem struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

type OffendersResponse struct {
	Items []OffenderItem `json:"items"`
}
