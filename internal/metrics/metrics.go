// Package metrics exposes the Prometheus instruments for the credit ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts committed transfers by entry kind.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timebank",
		Name:      "ledger_transfers_total",
		Help:      "Committed credit transfers by kind.",
	}, []string{"kind"})

	// TransferFailures counts rejected transfers by error code.
	TransferFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timebank",
		Name:      "ledger_transfer_failures_total",
		Help:      "Rejected transfers by apperror code.",
	}, []string{"code"})

	// GrantsIssued counts successful support grant claims.
	GrantsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timebank",
		Name:      "support_grants_issued_total",
		Help:      "Support grants paid out of the bank reserve.",
	})

	// SettlementsDeferred counts settlements that left an obligation behind.
	SettlementsDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timebank",
		Name:      "settlements_deferred_total",
		Help:      "Session settlements deferred for insufficient learner balance.",
	})

	// ReconcileRuns counts reconciliation sweeps.
	ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timebank",
		Name:      "reconcile_runs_total",
		Help:      "Background reconciliation sweeps.",
	})

	// ReconcileDrift counts wallets whose cached balance disagreed with the
	// ledger fold. Any increment is an incident.
	ReconcileDrift = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timebank",
		Name:      "reconcile_drift_total",
		Help:      "Wallets found with cached balance != ledger fold.",
	})
)
