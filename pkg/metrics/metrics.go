// Package metrics defines the Prometheus metric types the mesh daemon
// exports, following m-lab-tcp-info/metrics/metrics.go's convention of one
// promauto-registered var block per subsystem rather than constructing
// collectors ad hoc at each call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InterfaceTXBytes and InterfaceRXBytes track raw wire traffic per
	// local interface (spec §4.2).
	InterfaceTXBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshcore_interface_tx_bytes_total",
			Help: "bytes sent per local interface",
		},
		[]string{"iface"})

	InterfaceRXBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshcore_interface_rx_bytes_total",
			Help: "bytes received per local interface",
		},
		[]string{"iface"})

	// InterfaceTokensAvailable surfaces each interface's token-bucket
	// headroom (SPEC_FULL.md §12 token-bucket observability).
	InterfaceTokensAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshcore_interface_tokens_available",
			Help: "token bucket bytes currently available per interface",
		},
		[]string{"iface"})

	// NeighbourScore exports the current per-interface BATMAN-like score
	// for every known neighbour (spec §4.3).
	NeighbourScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshcore_neighbour_score",
			Help: "current link score for a neighbour on a local interface",
		},
		[]string{"neighbour", "iface"})

	// QueueDepth exports the live item count for each priority class (spec
	// §4.5).
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshcore_queue_depth",
			Help: "outbound queue depth by priority class",
		},
		[]string{"class"})

	// AlarmLatencyHistogram tracks how late an alarm fires relative to its
	// scheduled deadline (spec §5), the scheduling-loop analogue of
	// m-lab-tcp-info's SyscallTimeHistogram.
	AlarmLatencyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshcore_alarm_latency_seconds",
			Help:    "delay between an alarm's scheduled deadline and its execution",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		})

	// FramesDecoded and FramesRejected count codec outcomes (spec §7).
	FramesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshcore_frames_decoded_total",
			Help: "records successfully decoded, by frame type",
		},
		[]string{"type"})

	FramesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshcore_frames_rejected_total",
			Help: "records rejected during decode, by reason",
		},
		[]string{"reason"})
)
