package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

type identityContextKey string

const identityKey identityContextKey = "admin_identity"

// Identity is the authenticated admin behind a request, with the device and
// network address it came from.
type Identity struct {
	AdminID   uuid.UUID
	Role      string
	DeviceID  string
	IPAddress string
}

func (i Identity) Actor() model.Actor {
	adminID := i.AdminID
	return model.Actor{
		AdminID:   &adminID,
		DeviceID:  i.DeviceID,
		IPAddress: i.IPAddress,
	}
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}
