package ollama

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
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte("Ollama is running"))
		case "/api/generate":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"model":"llava","response":"A cat asleep on a sofa.","done":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	o := Init("llava", srv.URL, 7, srv.Client())
	assert.True(t, o.IsHealthy(t.Context()))

	caption, err := o.Caption(t.Context(), []byte("img"), captioner.DefaultPresets().Detailed)
	require.NoError(t, err)
	assert.Equal(t, "A cat asleep on a sofa.", caption)

	assert.Equal(t, "llava", got.Model)
	assert.False(t, got.Stream)
	assert.Equal(t, []string{"aW1n"}, got.Images)
	assert.Contains(t, got.Prompt, captioner.DetailedPrompt)
	assert.EqualValues(t, 70, got.Options["num_predict"])
	assert.EqualValues(t, 0, got.Options["temperature"])
	assert.EqualValues(t, 7, got.Options["seed"])
	assert.InDelta(t, 1.2, got.Options["repeat_penalty"], 1e-9)
}

func TestCaptionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"llava\" not found"}`))
	}))
	defer srv.Close()

	_, err := Init("llava", srv.URL, 0, srv.Client()).Caption(t.Context(), []byte("img"), captioner.Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
