package destination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_exporter_destination_writes_total",
		Help: "Destination Store Client write outcomes.",
	}, []string{"outcome"})

	pollingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_exporter_destination_polling_total",
		Help: "assert_uploaded polling outcomes.",
	}, []string{"outcome"})
)
