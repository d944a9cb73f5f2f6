package activity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedWritesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxclip_activity_dropped_writes_total",
	Help: "Activity writes that failed and were dropped.",
}, []string{"target"})
