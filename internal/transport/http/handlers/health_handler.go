package handlers

import (
	"net/http"

	httperrors "github.com/ivankudzin/voxclip-safety/internal/transport/http/errors"
)

// HealthHandler reports liveness and which backing stores were reachable at startup.
type HealthHandler struct {
	postgres bool
	redis    bool
}

func NewHealthHandler(postgres, redis bool) *HealthHandler {
	return &HealthHandler{postgres: postgres, redis: redis}
}

func (h *HealthHandler) Get(w http.ResponseWriter, _ *http.Request) {
	httperrors.Write(w, http.StatusOK, map[string]any{
		"ok":       true,
		"degraded": !h.postgres || !h.redis,
		"postgres": h.postgres,
		"redis":    h.redis,
	})
}
