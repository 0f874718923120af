// internal/metrics/metrics.go
// Package metrics exports per-block detection statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/ColonelBlimp/carrierdetect/internal/dsp"
	"github.com/ColonelBlimp/carrierdetect/internal/recovery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carrierdetect"

// Metrics holds the detection collectors, registered on their own registry
type Metrics struct {
	registry *prometheus.Registry

	blocksTotal     prometheus.Counter   // Blocks processed
	detectionsTotal prometheus.Counter   // Blocks with a carrier above threshold
	noiseRMS        prometheus.Gauge     // Noise estimate of the last block
	peakMagnitude   prometheus.Gauge     // Peak magnitude of the last block
	threshold       prometheus.Gauge     // Detection threshold of the last block
	snr             prometheus.Histogram // SNR of detected carriers
}

// New creates and registers all detection metrics
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		blocksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Total number of sample blocks searched for a carrier",
		}),
		detectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Total number of blocks in which a carrier was detected",
		}),
		noiseRMS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "noise_rms",
			Help:      "Noise RMS estimate of the most recent block",
		}),
		peakMagnitude: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_magnitude",
			Help:      "Peak spectrum magnitude of the most recent block",
		}),
		threshold: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold",
			Help:      "Detection threshold of the most recent block",
		}),
		snr: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snr_db",
			Help:      "Signal to noise ratio of detected carriers in dB",
			Buckets:   prometheus.LinearBuckets(0, 5, 12),
		}),
	}
}

// Observe records one detection event
func (m *Metrics) Observe(ev dsp.Event) {
	m.blocksTotal.Inc()
	m.peakMagnitude.Set(ev.PeakMagnitude)
	m.noiseRMS.Set(ev.NoiseRMS)
	m.threshold.Set(ev.Threshold)

	if !ev.Detected {
		return
	}
	m.detectionsTotal.Inc()
	if !math.IsNaN(ev.SNR) && !math.IsInf(ev.SNR, 0) {
		m.snr.Observe(ev.SNR)
	}
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer recovery.HandlePanic()
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
