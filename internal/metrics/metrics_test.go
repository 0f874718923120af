package metrics

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ColonelBlimp/carrierdetect/internal/carrier"
	"github.com/ColonelBlimp/carrierdetect/internal/dsp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(detected bool, snr float64) dsp.Event {
	return dsp.Event{
		Result: carrier.Result{
			Detected:      detected,
			PeakMagnitude: 80,
			NoiseRMS:      2,
			Threshold:     20,
		},
		SNR: snr,
	}
}

func TestObserve(t *testing.T) {
	m := New()

	m.Observe(event(true, 32))
	m.Observe(event(false, 3))
	m.Observe(event(true, math.NaN()))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.blocksTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.detectionsTotal))
	assert.Equal(t, 80.0, testutil.ToFloat64(m.peakMagnitude))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.noiseRMS))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.threshold))
	assert.Equal(t, 1, testutil.CollectAndCount(m.snr))
}

func TestRegistry_ContainsAllMetrics(t *testing.T) {
	m := New()
	m.Observe(event(true, 12))

	count, err := testutil.GatherAndCount(m.Registry())
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	expected := `
# HELP carrierdetect_detections_total Total number of blocks in which a carrier was detected
# TYPE carrierdetect_detections_total counter
carrierdetect_detections_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "carrierdetect_detections_total"))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Observe(event(false, 0))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "carrierdetect_blocks_total 1")
}

func TestServe_StopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_BadAddress(t *testing.T) {
	err := New().Serve(context.Background(), "not-an-address")
	assert.Error(t, err)
}
