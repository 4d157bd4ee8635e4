package resourcecrypto

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encryptOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "encrypt_ops_total",
			Help:      "Resources encrypted, by resource type.",
		},
		[]string{"resource_type"},
	)

	decryptOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "decrypt_ops_total",
			Help:      "Resources decrypted successfully, by resource type.",
		},
		[]string{"resource_type"},
	)

	decryptFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "decrypt_failures_total",
			Help:      "Decrypts rejected as corrupted or tampered.",
		},
		[]string{"resource_type"},
	)

	rotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "synccore",
			Name:      "key_rotations_total",
			Help:      "Completed data-key rotations.",
		},
	)
)
