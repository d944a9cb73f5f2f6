package farming

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejectionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxclip_farming_rejections_total",
	Help: "Reputation actions rejected as farming, by reason.",
}, []string{"reason"})

var failOpenCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "voxclip_farming_fail_open_total",
	Help: "Farming checks admitted because the store was unavailable.",
})
