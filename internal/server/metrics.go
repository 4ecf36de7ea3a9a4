package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// requestsTotal counts request-side ledger operations by kind and outcome.
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_requests_total",
			Help: "Total number of subscription/redemption requests.",
		},
		[]string{"kind", "outcome"},
	)

	// claimsTotal counts settlement operations by kind and outcome.
	claimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_claims_total",
			Help: "Total number of claim settlements.",
		},
		[]string{"kind", "outcome"},
	)

	// epochVolume gauges the running epoch totals per flow.
	epochVolume = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_epoch_volume",
			Help: "Accumulated volume in the current epoch.",
		},
		[]string{"flow"},
	)

	// epochMaximum gauges the configured epoch ceilings per flow.
	epochMaximum = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_epoch_maximum",
			Help: "Configured epoch volume ceiling.",
		},
		[]string{"flow"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, claimsTotal, epochVolume, epochMaximum)
}

func outcomeLabel(err error) string {
	if err != nil {
		return "rejected"
	}
	return "accepted"
}
