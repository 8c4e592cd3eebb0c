package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCaption(t *testing.T) {
	m := New()
	m.ObserveCaption("default", "hf", 200*time.Millisecond, nil)
	m.ObserveCaption("default", "hf", time.Second, errors.New("boom"))
	m.ObserveCaption("detailed", "hf", time.Second, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptionsTotal.WithLabelValues("default", "hf", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptionsTotal.WithLabelValues("default", "hf", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptionsTotal.WithLabelValues("detailed", "hf", "ok")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.CacheHits.WithLabelValues("default").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `blurb_cache_hits_total{mode="default"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
