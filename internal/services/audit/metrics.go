package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var writeFailuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxclip_audit_write_failures_total",
	Help: "Audit and history writes that failed and were dropped.",
}, []string{"log"})
