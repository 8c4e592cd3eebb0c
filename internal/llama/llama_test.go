package llama

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chriskillpack/blurb/captioner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaption(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completion", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":" a dog running","stop":true}` + "\n"))
	}))
	defer srv.Close()

	l := Init(srv.URL, 42, srv.Client())
	caption, err := l.Caption(t.Context(), []byte{0xff, 0xd8}, captioner.DefaultPresets().Default)
	require.NoError(t, err)
	assert.Equal(t, "a dog running", caption)

	assert.EqualValues(t, 50, got["n_predict"])
	assert.EqualValues(t, 0, got["temperature"])
	assert.EqualValues(t, 42, got["seed"])
	assert.Equal(t, false, got["stream"])
	assert.NotContains(t, got, "repeat_penalty")
	assert.Contains(t, got["prompt"], "[img-10]")
}

func TestCaptionDetailedPrompt(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":"a red barn in a field","stop":true}` + "\n"))
	}))
	defer srv.Close()

	l := Init(srv.URL, 1, srv.Client())
	caption, err := l.Caption(t.Context(), []byte{1}, captioner.DefaultPresets().Detailed)
	require.NoError(t, err)
	assert.Equal(t, "a detailed description of a red barn in a field", caption)

	assert.InDelta(t, 1.2, got["repeat_penalty"], 1e-9)
	assert.EqualValues(t, 70, got["n_predict"])
	assert.Contains(t, got["prompt"], "ASSISTANT: a detailed description of")
}

func TestCaptionEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":"","stop":true}` + "\n"))
	}))
	defer srv.Close()

	_, err := Init(srv.URL, 1, srv.Client()).Caption(t.Context(), []byte{1}, captioner.Params{})
	assert.ErrorIs(t, err, captioner.ErrEmptyCaption)
}

func TestCaptionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Init(srv.URL, 1, srv.Client()).Caption(t.Context(), []byte{1}, captioner.Params{})
	assert.Error(t, err)
}

func TestIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	l := Init(srv.URL+"/", 1, srv.Client())
	assert.True(t, l.IsHealthy(t.Context()))

	srv.Close()
	assert.False(t, l.IsHealthy(t.Context()))
}
