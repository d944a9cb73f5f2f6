package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var blockedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxclip_gate_blocked_requests_total",
	Help: "Inbound requests rejected by the blacklist or a critical pattern.",
}, []string{"reason"})
