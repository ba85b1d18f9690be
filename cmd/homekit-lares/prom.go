package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homekit_lares"

var armStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "state",
	Help:      "HomeKit current state of the security system",
})

var partitionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "partition_status",
	Help:      "1 for the current status of each partition",
}, []string{"name", "status"})

var zoneAlarmGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "zone_alarm",
	Help:      "1 when the zone is in alarm",
}, []string{"name"})

var zoneBypassGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "alarm",
	Name:      "zone_bypassed",
	Help:      "1 when the zone is bypassed",
}, []string{"name"})

var pollCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "coordinator",
	Name:      "polls_total",
	Help:      "Successful poll cycles",
})

var pollErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "coordinator",
	Name:      "poll_errors_total",
	Help:      "Failed poll cycles",
})

var lastSuccessGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "coordinator",
	Name:      "last_success_timestamp_seconds",
	Help:      "Unix time of the last successful poll cycle",
})

var requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "requests_total",
	Help:      "HTTP requests made to the panel",
}, []string{"code", "method"})

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "client",
	Name:      "request_duration_seconds",
	Help:      "Duration of the HTTP requests made to the panel",
	Buckets:   prometheus.DefBuckets,
}, []string{"code", "method"})

func instrumentedTransport(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(
		requestCounter,
		promhttp.InstrumentRoundTripperDuration(requestDuration, next),
	)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
