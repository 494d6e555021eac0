package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VotesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consensusbot",
		Name:      "votes_processed_total",
		Help:      "Vote events applied, by value and action.",
	}, []string{"value", "action"})

	ProposalsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "consensusbot",
		Name:      "proposals_resolved_total",
		Help:      "Proposals that reached a terminal outcome.",
	}, []string{"outcome"})

	ProposalsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "consensusbot",
		Name:      "proposals_submitted_total",
		Help:      "Proposals accepted for voting.",
	})

	RecoverySynced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "consensusbot",
		Name:      "recovery_proposals_synced_total",
		Help:      "Proposals reconciled during startup recovery.",
	})

	RecoveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "consensusbot",
		Name:      "recovery_failures_total",
		Help:      "Proposals skipped during recovery due to errors.",
	})

	TipsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "consensusbot",
		Name:      "tips_issued_total",
		Help:      "Free funding transactions committed.",
	})
)
