package ipreputation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var failOpenCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxclip_ipreputation_fail_open_total",
	Help: "IP reputation reads admitted because the store was unavailable.",
}, []string{"check"})

var patternsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxclip_ipreputation_patterns_total",
	Help: "Suspicious patterns detected by type and severity.",
}, []string{"pattern", "severity"})
