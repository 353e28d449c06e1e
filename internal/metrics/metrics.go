package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gavel_bids_accepted_total",
		Help: "Accepted bids across all auctions.",
	})

	BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gavel_bids_rejected_total",
		Help: "Rejected bids by reason.",
	}, []string{"reason"})

	LotsSold = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gavel_lots_sold_total",
		Help: "Lots settled as sold.",
	})

	LotsUnsold = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gavel_lots_unsold_total",
		Help: "Lots settled as unsold, including guardrail failures.",
	})

	LiveAuctions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gavel_live_auctions",
		Help: "Auctions currently running a lot clock.",
	})
)
