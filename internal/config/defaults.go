package config

import (
	"time"

	"github.com/chriskillpack/blurb/captioner"
	"github.com/chriskillpack/blurb/internal/imgproc"
)

const (
	DefaultPort           = 5000
	DefaultMaxUploadBytes = 16 << 20
)

// Default returns the configuration used when no file is given. Values from a
// file are applied on top of it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           DefaultPort,
			MaxUploadBytes: DefaultMaxUploadBytes,
			MaxImageDim:    1024,
			MaxImagePixels: imgproc.DefaultMaxPixels,
			CORS:           true,
		},
		Backend: BackendConfig{
			Type:    "huggingface",
			Device:  "auto",
			Timeout: 2 * time.Minute,
			HuggingFace: HuggingFaceConfig{
				URL:   "https://api-inference.huggingface.co",
				Model: "Salesforce/blip-image-captioning-large",
				Token: "${HF_TOKEN}",
			},
			Ollama: OllamaConfig{
				Model: "llava",
			},
			OpenAI: OpenAIConfig{
				APIKey: "${OPENAI_API_KEY}",
				Model:  "gpt-4o-mini",
			},
			AMQP: AMQPConfig{
				Queue: "caption_requests",
				Model: "Salesforce/blip-image-captioning-large",
			},
		},
		Presets: captioner.DefaultPresets(),
		Cache: CacheConfig{
			Type: "memory",
			TTL:  24 * time.Hour,
		},
		History: HistoryConfig{
			DB: "blurb.db",
		},
		Log: LogConfig{
			Env:   "dev",
			Level: "info",
		},
	}
}
