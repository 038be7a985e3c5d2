package listener

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	msgsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_exporter_listener_messages_received_total",
		Help: "AMQP deliveries received, by queue kind (experiment, update).",
	}, []string{"queue"})

	msgsSucceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_exporter_listener_messages_succeeded_total",
		Help: "AMQP deliveries fully handled without error, by queue kind.",
	}, []string{"queue"})

	msgsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_exporter_listener_messages_failed_total",
		Help: "AMQP deliveries that failed, by queue kind and failure reason.",
	}, []string{"queue", "reason"})
)
