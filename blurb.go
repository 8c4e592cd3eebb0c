// Package blurb generates captions for images using a pretrained captioning
// model served by one of several inference backends.
package blurb

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chriskillpack/blurb/captioner"
	"github.com/chriskillpack/blurb/internal/amqprpc"
	"github.com/chriskillpack/blurb/internal/hfinference"
	"github.com/chriskillpack/blurb/internal/llama"
	"github.com/chriskillpack/blurb/internal/ollama"
	"github.com/chriskillpack/blurb/internal/openai"
)

type InitOptions struct {
	HuggingFace      bool
	HuggingFaceURL   string
	HuggingFaceModel string
	HuggingFaceToken string

	LlamaServer string
	LlamaSeed   int

	OllamaServer string
	OllamaModel  string

	OpenAI        bool
	OpenAIBaseURL string
	OpenAIKey     string
	OpenAIModel   string

	AMQPURL   string
	AMQPQueue string
	AMQPModel string

	Device Device
	Logger *slog.Logger

	HttpClient *http.Client // if nil uses http.DefaultClient
}

type Blurb struct {
	captioner.Captioner
}

// Init constructs the captioner for the single backend selected in bio.
// Selecting no backend, or more than one, is an error.
func Init(bio InitOptions) (*Blurb, error) {
	b := &Blurb{}

	httpClient := bio.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var n int
	for _, on := range []bool{
		bio.HuggingFace,
		bio.LlamaServer != "",
		bio.OllamaServer != "",
		bio.OpenAI,
		bio.AMQPURL != "",
	} {
		if on {
			n++
		}
	}
	switch n {
	case 0:
		return nil, ErrNoBackend
	case 1:
		// no-op
	default:
		return nil, ErrMultipleBackends
	}

	switch {
	case bio.HuggingFace:
		b.Captioner = hfinference.Init(bio.HuggingFaceURL, bio.HuggingFaceModel, bio.HuggingFaceToken, httpClient)
	case bio.LlamaServer != "":
		b.Captioner = llama.Init(bio.LlamaServer, bio.LlamaSeed, httpClient)
	case bio.OllamaServer != "":
		model := bio.OllamaModel
		if model == "" {
			model = "llava"
		}
		b.Captioner = ollama.Init(model, bio.OllamaServer, bio.LlamaSeed, httpClient)
	case bio.OpenAI:
		b.Captioner = openai.Init(bio.OpenAIBaseURL, bio.OpenAIKey, bio.OpenAIModel, httpClient)
	case bio.AMQPURL != "":
		rpc, err := amqprpc.Dial(amqprpc.Options{
			URL:    bio.AMQPURL,
			Queue:  bio.AMQPQueue,
			Model:  bio.AMQPModel,
			Device: string(bio.Device),
			Logger: bio.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		b.Captioner = rpc
	}

	return b, nil
}
