// Package metrics exposes the bus's prometheus surface: connected-peer
// count, subscription-table size, a routing counter of the broker's
// per-peer hasEvent answers split by whether that peer matched, and a
// count of local emits.
//
// Grounded on wings' metrics/metrics.go (promauto gauge/counter
// construction, namespace/subsystem constants, a background ticker
// goroutine started from Initialize).
package metrics

import (
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "hookbus"
	subsystem = "hook"
)

var (
	bootTimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "boot_time_seconds",
		Help:      "Boot time of this instance since epoch (1970)",
	})
	timeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "time_seconds",
		Help:      "System time in seconds since epoch (1970)",
	})

	ConnectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connected_peers",
		Help:      "Number of peers currently connected to this hook acting as broker",
	})
	SubscriptionTableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "subscription_table_size",
		Help:      "Total number of (peer, pattern) subscription entries tracked by the registry",
	})
	EmitsRoutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "emits_routed_total",
		Help:      "hasEvent answers received by the broadcast intercept, one per (emit, peer) pair, split by whether that peer matched",
	}, []string{"matched"})
	EmitsLocalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "emits_local_total",
		Help:      "Emits handed to local delivery, whether or not a local listener matched",
	})
)

// Initialize starts the background boot/time tick and blocks serving
// the prometheus handler on bind until done is closed.
func Initialize(bind string, done chan bool) {
	bootTimeSeconds.Set(float64(time.Now().UnixNano()) / 1e9)
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				log.Debug("metrics: done")
				return
			case t := <-ticker.C:
				timeSeconds.Set(float64(t.UnixNano()) / 1e9)
			}
		}
	}()
	if err := http.ListenAndServe(bind, promhttp.Handler()); err != nil && err != http.ErrServerClosed {
		log.WithField("error", err).Error("failed to start metrics server")
	}
}

// SetConnectedPeers reports the registry's current peer count.
func SetConnectedPeers(n int) {
	ConnectedPeers.Set(float64(n))
}

// SetSubscriptionTableSize reports the registry's total subscription
// entry count across every connected peer.
func SetSubscriptionTableSize(n int) {
	SubscriptionTableSize.Set(float64(n))
}

// ObserveEmitRouted records one peer's hasEvent answer in the broadcast
// intercept; matched is false when the peer has no matching listener or
// the query failed. Emits are not aggregated across peers, and an emit
// with no peer to ask is not counted at all.
func ObserveEmitRouted(matched bool) {
	if matched {
		EmitsRoutedTotal.WithLabelValues("true").Inc()
	} else {
		EmitsRoutedTotal.WithLabelValues("false").Inc()
	}
}

// ObserveEmitLocal records one emit handed to local delivery; it is
// counted whether or not any local listener matched.
func ObserveEmitLocal() {
	EmitsLocalTotal.Inc()
}
