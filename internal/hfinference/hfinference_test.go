package hfinference

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
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/"+DefaultModel, r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"generated_text":"a detailed description of a bowl of fruit on a table"}]`))
	}))
	defer srv.Close()

	h := Init(srv.URL, "", "hf_test", srv.Client())
	caption, err := h.Caption(t.Context(), []byte("jpeg"), captioner.DefaultPresets().Detailed)
	require.NoError(t, err)
	assert.Equal(t, "a detailed description of a bowl of fruit on a table", caption)

	assert.Equal(t, "anBlZw==", got.Inputs)
	assert.Equal(t, 70, got.Parameters.MaxNewTokens)
	assert.Equal(t, 4, got.Parameters.GenerateKwargs.NumBeams)
	assert.True(t, got.Parameters.GenerateKwargs.EarlyStopping)
	assert.False(t, got.Parameters.GenerateKwargs.DoSample)
	assert.InDelta(t, 1.2, got.Parameters.GenerateKwargs.RepetitionPenalty, 1e-9)
}

func TestCaptionModelLoading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Model is currently loading","estimated_time":20.5}`))
	}))
	defer srv.Close()

	h := Init(srv.URL, "m/x", "", srv.Client())
	h.client.SetRetryCount(0)

	_, err := h.Caption(t.Context(), []byte("jpeg"), captioner.DefaultPresets().Default)
	assert.ErrorIs(t, err, ErrModelLoading)
	assert.True(t, h.IsHealthy(t.Context()))
}

func TestCaptionBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad image"}`))
	}))
	defer srv.Close()

	_, err := Init(srv.URL, "m/x", "", srv.Client()).Caption(t.Context(), []byte("x"), captioner.Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad image")
}

func TestCaptionEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := Init(srv.URL, "m/x", "", srv.Client()).Caption(t.Context(), []byte("x"), captioner.Params{})
	assert.ErrorIs(t, err, captioner.ErrEmptyCaption)
}
