package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveProbe(t *testing.T) {
	before := testutil.ToFloat64(ProbesTotal.WithLabelValues("x264", "usable"))
	ObserveProbe("x264", true, 1500*time.Millisecond)
	ObserveProbe("nvenc", false, 0)

	assert.Equal(t, before+1, testutil.ToFloat64(ProbesTotal.WithLabelValues("x264", "usable")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(ProbesTotal.WithLabelValues("nvenc", "unusable")), 1.0)
}

func TestObserveEncodeAndJob(t *testing.T) {
	okBefore := testutil.ToFloat64(EncodesTotal.WithLabelValues("vaapi", "high", "ok"))
	failBefore := testutil.ToFloat64(EncodesTotal.WithLabelValues("vaapi", "high", "failed"))

	ObserveEncode("vaapi", "high", true, 42*time.Second)
	ObserveEncode("vaapi", "high", false, time.Second)
	ObserveMerge("camera", false)
	ObserveJob("skipped")

	assert.Equal(t, okBefore+1, testutil.ToFloat64(EncodesTotal.WithLabelValues("vaapi", "high", "ok")))
	assert.Equal(t, failBefore+1, testutil.ToFloat64(EncodesTotal.WithLabelValues("vaapi", "high", "failed")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(MergesTotal.WithLabelValues("camera", "failed")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(JobsTotal.WithLabelValues("skipped")), 1.0)
}

func TestServer(t *testing.T) {
	ObserveJob("ok")

	s, err := Start("127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sessionmux_jobs_total{status="ok"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestStart_BadAddress(t *testing.T) {
	_, err := Start("256.0.0.1:99999")
	assert.Error(t, err)
}
