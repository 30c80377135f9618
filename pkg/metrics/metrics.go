// Package metrics holds the Prometheus collectors exported by the
// coupler runtime: transfer-window counts and latency, bytes moved over
// CollectiveTransport, and routing-plan build time.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tango_transfers_total",
			Help: "Completed transfer windows, by local grid, peer grid, and outcome.",
		},
		[]string{"grid", "peer_grid", "outcome"},
	)

	TransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tango_transfer_duration_seconds",
			Help:    "Wall time of end_transfer, from call to barrier completion.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"grid", "peer_grid"},
	)

	FieldBytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tango_field_bytes_sent_total",
			Help: "Packed field bytes sent to a peer rank.",
		},
		[]string{"grid", "peer_grid", "field"},
	)

	FieldBytesRecv = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tango_field_bytes_received_total",
			Help: "Unpacked field bytes accumulated from a peer rank.",
		},
		[]string{"grid", "peer_grid", "field"},
	)

	RouteBuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tango_route_build_duration_seconds",
			Help:    "Time to build one grid pair's send or recv routes from a loaded weight table.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"grid", "peer_grid", "direction"},
	)

	WeightEntriesLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tango_weight_entries_loaded",
			Help: "Sparse weight entries in the most recently loaded table for a grid pair.",
		},
		[]string{"src_grid", "dst_grid"},
	)

	PeerExchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tango_peer_exchange_duration_seconds",
			Help:    "Time spent in the gather+broadcast description exchange at init.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"grid"},
	)
)

var registerOnce sync.Once

// Register registers every collector in this package with the default
// Prometheus registry. Safe to call more than once — only the first call
// actually registers; prometheus.Registry.Register itself rejects a
// repeat registration of the same collector, so a sync.Once guard (rather
// than relying on MustRegister's behavior) is what makes repeat calls
// harmless.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TransfersTotal,
			TransferDuration,
			FieldBytesSent,
			FieldBytesRecv,
			RouteBuildDuration,
			WeightEntriesLoaded,
			PeerExchangeDuration,
		)
	})
}
