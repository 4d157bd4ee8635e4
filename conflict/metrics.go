package conflict

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "resolutions_total",
			Help:      "Automatic resolutions, by requested strategy and resulting action.",
		},
		[]string{"strategy", "action"},
	)

	manualQueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "manual_queued_total",
			Help:      "Conflicts handed to the manual-review queue, by resource type.",
		},
		[]string{"resource_type"},
	)

	manualResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "manual_resolved_total",
			Help:      "Manually applied resolutions, by resource type and action.",
		},
		[]string{"resource_type", "action"},
	)
)
