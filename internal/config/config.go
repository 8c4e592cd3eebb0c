// Package config loads the blurb YAML configuration file.
package config

import (
	"time"

	"github.com/chriskillpack/blurb/captioner"
)

// Config holds the main configuration for the application.
type Config struct {
	Server    ServerConfig      `json:"server"     yaml:"server"`
	Backend   BackendConfig     `json:"backend"    yaml:"backend"`
	Presets   captioner.Presets `json:"presets"    yaml:"presets"`
	Cache     CacheConfig       `json:"cache"      yaml:"cache"`
	RateLimit RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
	History   HistoryConfig     `json:"history"    yaml:"history"`
	Log       LogConfig         `json:"log"        yaml:"log"`
}

type ServerConfig struct {
	Host           string `json:"host"             yaml:"host"`
	Port           int    `json:"port"             yaml:"port"`
	MaxUploadBytes int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	// MaxImageDim downsizes images whose longest side exceeds it. 0 keeps
	// the original size.
	MaxImageDim int `json:"max_image_dim" yaml:"max_image_dim"`
	// MaxImagePixels rejects uploads whose header claims more pixels,
	// before the image is decoded.
	MaxImagePixels int64 `json:"max_image_pixels" yaml:"max_image_pixels"`
	CORS           bool  `json:"cors"             yaml:"cors"`
}

// BackendConfig selects and configures the captioning backend. Only the
// section named by Type is used.
type BackendConfig struct {
	Type    string        `json:"type"    yaml:"type"`
	Device  string        `json:"device"  yaml:"device"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Seed    int           `json:"seed"    yaml:"seed"`

	HuggingFace HuggingFaceConfig `json:"huggingface" yaml:"huggingface"`
	Llama       LlamaConfig       `json:"llama"       yaml:"llama"`
	Ollama      OllamaConfig      `json:"ollama"      yaml:"ollama"`
	OpenAI      OpenAIConfig      `json:"openai"      yaml:"openai"`
	AMQP        AMQPConfig        `json:"amqp"        yaml:"amqp"`
}

type HuggingFaceConfig struct {
	URL   string `json:"url"   yaml:"url"`
	Model string `json:"model" yaml:"model"`
	Token string `json:"token" yaml:"token"`
}

type LlamaConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type OllamaConfig struct {
	Addr  string `json:"addr"  yaml:"addr"`
	Model string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key"  yaml:"api_key"`
	Model   string `json:"model"    yaml:"model"`
}

type AMQPConfig struct {
	URL   string `json:"url"   yaml:"url"`
	Queue string `json:"queue" yaml:"queue"`
	Model string `json:"model" yaml:"model"`
}

type CacheConfig struct {
	Type  string        `json:"type"  yaml:"type"`
	TTL   time.Duration `json:"ttl"   yaml:"ttl"`
	Redis RedisConfig   `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"     yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db"       yaml:"db"`
}

// RateLimitConfig bounds calls to the backend. RPS of 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `json:"rps"   yaml:"rps"`
	Burst int     `json:"burst" yaml:"burst"`
}

type HistoryConfig struct {
	DB string `json:"db" yaml:"db"`
}

type LogConfig struct {
	Env   string `json:"env"   yaml:"env"`
	Level string `json:"level" yaml:"level"`
	File  string `json:"file"  yaml:"file"`
}
