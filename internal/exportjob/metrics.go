package exportjob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assaysRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_exporter_exportjob_assays_recorded_total",
		Help: "Assay-exported entities recorded against export jobs.",
	})

	jobsFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_exporter_exportjob_jobs_finalized_total",
		Help: "Export jobs patched to EXPORTED by this worker.",
	})
)
