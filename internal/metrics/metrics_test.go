package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	r.Target("fetched")
	r.Target("fetched")
	r.Target("failed")
	r.CatalogRequest(nil)
	r.CatalogRequest(errors.New("down"))
	r.Region("failed")
	r.Fetch(1500 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Targets.WithLabelValues("fetched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Targets.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CatalogRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CatalogRequests.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Regions.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.FetchDuration))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Target("fetched")
	r.Fetch(time.Second)
	r.CatalogRequest(nil)
	r.Region("ok")

	c := &http.Client{}
	assert.Same(t, c, r.InstrumentClient(c))
	assert.NoError(t, r.WriteTextfile("/nonexistent/metrics.prom"))
}

func TestInstrumentClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	r, err := New()
	require.NoError(t, err)

	client := r.InstrumentClient(srv.Client())
	resp, err := client.Post(srv.URL, "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequests.WithLabelValues("202", "post")))
}

func TestWriteTextfile(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	r.Target("already exists")

	path := filepath.Join(t.TempDir(), "fieldscenes.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fieldscenes_targets_total{outcome="already exists"} 1`)
}
