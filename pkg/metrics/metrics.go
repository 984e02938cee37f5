// Package metrics registers the Prometheus collectors for the token engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PointsIssued counts points credited to users, labelled by source.
	PointsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloom_points_issued_total",
		Help: "Total points credited to user ledgers.",
	}, []string{"source"})

	// PointsWithdrawn counts points debited from users.
	PointsWithdrawn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloom_points_withdrawn_total",
		Help: "Total points debited from user ledgers.",
	})

	// DonationsConfirmed counts confirmed donations.
	DonationsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bloom_donations_confirmed_total",
		Help: "Total donations confirmed into the pool.",
	})

	// MirrorAttempts counts outbox delivery attempts by action and outcome
	// (success, retry, failed).
	MirrorAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bloom_mirror_attempts_total",
		Help: "Blockchain mirror delivery attempts by action and outcome.",
	}, []string{"action", "outcome"})

	// OutboxDepth tracks pending mirror jobs observed at the last poll.
	OutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bloom_mirror_outbox_pending",
		Help: "Pending mirror outbox jobs at the last worker poll.",
	})
)
