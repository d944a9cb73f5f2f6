package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxclip_ratelimit_decisions_total",
	Help: "Rate limit decisions by action type and outcome.",
}, []string{"action", "outcome"})

var failOpenCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "voxclip_ratelimit_fail_open_total",
	Help: "Rate limit checks admitted because the counter store was unavailable.",
})
