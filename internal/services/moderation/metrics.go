package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enqueuedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxclip_moderation_enqueued_total",
	Help: "Moderation items created, by kind and source.",
}, []string{"kind", "source"})

var transitionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxclip_moderation_transitions_total",
	Help: "Workflow transitions applied, by kind and resulting state.",
}, []string{"kind", "state"})

var escalationsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "voxclip_moderation_escalations_total",
	Help: "Escalation bumps applied by the sweep.",
})
