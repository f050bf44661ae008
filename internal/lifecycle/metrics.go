package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transition outcomes recorded in the result label.
const (
	resultApplied  = "applied"
	resultRejected = "rejected"
	resultError    = "error"
)

var (
	requestsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zeromonos_requests_created_total",
		Help: "Total collection requests created",
	})

	requestsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zeromonos_requests_deleted_total",
		Help: "Total collection requests deleted",
	})

	claimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zeromonos_claim_conflicts_total",
		Help: "Request creations rejected because a residue was already claimed",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zeromonos_transitions_total",
		Help: "Status transitions by action and result",
	}, []string{"action", "result"})
)
