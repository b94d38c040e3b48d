package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ingestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keysync",
		Subsystem: "server",
		Name:      "ingest_batches_total",
		Help:      "Ingest batches received, labeled by result.",
	}, []string{"result"})

	ingestRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "keysync",
		Subsystem: "server",
		Name:      "ingest_records_total",
		Help:      "Keystone records written to the store.",
	})

	clientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "keysync",
		Subsystem: "server",
		Name:      "websocket_clients",
		Help:      "Connected live feed clients.",
	})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "keysync",
		Subsystem: "server",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(ingestCounter, ingestRecords, clientsGauge, requestDuration)
}

type requestTimer struct {
	start time.Time
}

func newRequestTimer() requestTimer {
	return requestTimer{start: time.Now()}
}

func (t requestTimer) observe(route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	requestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(time.Since(t.start).Seconds())
}
