// Package metrics exposes Prometheus instrumentation for the host bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceived counts data frames successfully parsed from the device.
	FramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmeter_frames_received_total",
			Help: "Total number of data frames received from the device",
		},
	)

	// MalformedLines counts serial lines that failed to parse.
	MalformedLines = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmeter_malformed_lines_total",
			Help: "Total number of serial lines discarded as malformed",
		},
	)

	// RunsCompleted counts finalized calibration runs by stop reason.
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmeter_runs_completed_total",
			Help: "Total number of calibration runs finalized",
		},
		[]string{"reason"},
	)

	// CurrentPulses mirrors the device pulse counter.
	CurrentPulses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowmeter_pulses",
			Help: "Latest pulse count reported by the device",
		},
	)

	// ConnectedClients tracks websocket clients on the push channel.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowmeter_connected_clients",
			Help: "Number of connected websocket clients",
		},
	)
)
