package syncclient

import "github.com/prometheus/client_golang/prometheus"

var (
	sendCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keysync",
		Subsystem: "agent",
		Name:      "sync_batches_total",
		Help:      "Sync batches sent to the backend, labeled by outcome.",
	}, []string{"outcome"})

	recordsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keysync",
		Subsystem: "agent",
		Name:      "sync_records_total",
		Help:      "Keystone records acknowledged by the backend.",
	})

	sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "keysync",
		Subsystem: "agent",
		Name:      "sync_duration_seconds",
		Help:      "Time spent delivering one sync batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	failoverCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keysync",
		Subsystem: "agent",
		Name:      "backend_failovers_total",
		Help:      "Times the client switched to the next candidate backend URL.",
	})
)

const (
	outcomeOK             = "ok"
	outcomeHTTPError      = "http_error"
	outcomeTransportError = "transport_error"
)

func init() {
	prometheus.MustRegister(sendCounter, recordsCounter, sendDuration, failoverCounter)
}
