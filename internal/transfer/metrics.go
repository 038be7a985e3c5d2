package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ensureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_exporter_transfer_ensure_total",
		Help: "ensure_transfer outcomes: created, observed, or error.",
	}, []string{"outcome"})

	waitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_exporter_transfer_wait_total",
		Help: "wait_for_completion outcomes.",
	}, []string{"outcome"})
)
