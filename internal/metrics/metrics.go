package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// External ledger API
	LedgerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsend_ledger_requests_total",
			Help: "Total requests to the external points ledger",
		},
		[]string{"method", "result"}, // get_balance|update_balance, ok|error
	)

	// Tipping flows
	BulkTipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsend_bulk_tips_total",
			Help: "Total bulk tip operations",
		},
		[]string{"result"}, // ok|partial|insufficient|error
	)
	TipEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsend_tip_entries_total",
			Help: "Total per-recipient tip updates",
		},
		[]string{"result"}, // ok|error
	)

	// Broadcast confirmations awaiting a decision
	PendingBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowsend_pending_batches",
			Help: "Bulk tip batches awaiting a broadcast decision",
		},
	)
)

// Handler serves the /metrics endpoint
var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(LedgerRequestsTotal)
	prometheus.MustRegister(BulkTipsTotal)
	prometheus.MustRegister(TipEntriesTotal)
	prometheus.MustRegister(PendingBatches)
}
