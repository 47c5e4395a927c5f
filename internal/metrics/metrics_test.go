package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveConverted(t *testing.T) {
	m := New("")
	m.ObserveConverted(5, 120, 0.01)
	m.ObserveConverted(12, 300, 0.02)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesConverted))
	assert.Equal(t, 17.0, testutil.ToFloat64(m.Records))
	assert.Equal(t, 420.0, testutil.ToFloat64(m.BytesWritten))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FileDuration))
}

func TestFailuresByKind(t *testing.T) {
	m := New("")
	m.IncFilesFailed("parse")
	m.IncFilesFailed("parse")
	m.IncFilesFailed("io")
	m.AddFilesSkipped(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesFailed.WithLabelValues("parse")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesFailed.WithLabelValues("io")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesSkipped))
}

func TestWorkerGauge(t *testing.T) {
	m := New("")
	m.WorkerSpawned()
	m.WorkerSpawned()
	m.WorkerReleased()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkersSpawned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveWorkers))
}

func TestInstancesAreIndependent(t *testing.T) {
	// Each instance owns its registry, so creating two must not panic on
	// duplicate registration.
	a := New("")
	b := New("")
	a.FilesConverted.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FilesConverted))
}

func TestInitAndGet(t *testing.T) {
	m := Init("test_ns")
	assert.Same(t, m, Get())
}

func TestHandlerExposesNamespacedMetrics(t *testing.T) {
	m := New("")
	m.ObserveConverted(1, 10, 0.001)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "csv_converter_files_converted_total 1")
	assert.Contains(t, string(body), "csv_converter_records_total 1")
}

func TestPush(t *testing.T) {
	var gotPath string
	var gotBody string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	m := New("")
	m.ObserveConverted(2, 20, 0.001)
	require.NoError(t, m.Push(gw.URL, "nightly"))

	assert.True(t, strings.HasSuffix(gotPath, "/metrics/job/nightly"), gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestPushError(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	err := New("").Push(gw.URL, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push metrics")
}
