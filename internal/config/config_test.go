package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chriskillpack/blurb/captioner"
	"github.com/chriskillpack/blurb/internal/imgproc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyIsDefault(t *testing.T) {
	t.Setenv("HF_TOKEN", "")
	cfg, err := Parse([]byte("# nothing here\n"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, captioner.DefaultPresets(), cfg.Presets)
	assert.Equal(t, "huggingface", cfg.Backend.Type)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.EqualValues(t, 16<<20, cfg.Server.MaxUploadBytes)
	assert.EqualValues(t, imgproc.DefaultMaxPixels, cfg.Server.MaxImagePixels)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("BLURB_TEST_KEY", "sk-test")
	doc := `
server:
  port: 8080
  cors: false
backend:
  type: openai
  device: cpu
  timeout: 45s
  openai:
    api_key: ${BLURB_TEST_KEY}
    model: gpt-4o
presets:
  detailed:
    max_length: 90
cache:
  type: redis
  ttl: 1h
  redis:
    addr: redis:6379
rate_limit:
  rps: 2.5
  burst: 5
log:
  env: prod
  level: debug
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Server.CORS)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "openai", cfg.Backend.Type)
	assert.Equal(t, 45*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "sk-test", cfg.Backend.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Backend.OpenAI.Model)

	// Unset preset fields keep their defaults.
	assert.Equal(t, 90, cfg.Presets.Detailed.MaxLength)
	assert.Equal(t, captioner.DetailedPrompt, cfg.Presets.Detailed.Prompt)
	assert.Equal(t, 1.2, cfg.Presets.Detailed.RepetitionPenalty)

	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	assert.Equal(t, "prod", cfg.Log.Env)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		err  error
	}{
		{"bad yaml", "server: [", ErrInvalidYAML},
		{"unknown key", "servr:\n  port: 1\n", ErrValidation},
		{"bad backend", "backend:\n  type: tensorflow\n", ErrValidation},
		{"bad device", "backend:\n  device: tpu\n", ErrValidation},
		{"bad port", "server:\n  port: 70000\n", ErrValidation},
		{"bad duration", "backend:\n  timeout: soon\n", ErrValidation},
		{"pixel limit over ceiling", "server:\n  max_image_pixels: 200000000\n", ErrValidation},
		{"zero beams", "presets:\n  default:\n    num_beams: 0\n", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("BLURB_SECRET", "hunter2")
	assert.Equal(t, "hunter2", expandEnv("${BLURB_SECRET}"))
	assert.Equal(t, "pa$$word", expandEnv("pa$$word"))
	assert.Equal(t, "", expandEnv("${BLURB_UNSET_VARIABLE}"))
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	_, err := LoadAndValidate(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blurb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6000\n"), 0o644))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 6000, w.Snapshot().Server.Port)
	assert.Zero(t, w.ReloadCount())

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7000, cfg.Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	assert.Equal(t, 7000, w.Snapshot().Server.Port)
	assert.GreaterOrEqual(t, w.ReloadCount(), uint32(1))
}

func TestExampleConfig(t *testing.T) {
	t.Setenv("HF_TOKEN", "hf_test")
	cfg, err := LoadAndValidate("../../blurb.example.yaml")
	require.NoError(t, err)
	assert.Equal(t, "hf_test", cfg.Backend.HuggingFace.Token)
	assert.Equal(t, captioner.DefaultPresets(), cfg.Presets)
	assert.Equal(t, 2*time.Minute, cfg.Backend.Timeout)
}
