package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

type AccessClaims struct {
	AdminID   uuid.UUID
	Role      string
	ExpiresAt time.Time
}
