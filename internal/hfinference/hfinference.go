// Package hfinference captions images with an image-to-text model served by
// the Hugging Face Inference API or a self hosted endpoint speaking the same
// protocol.
package hfinference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chriskillpack/blurb/captioner"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultURL   = "https://api-inference.huggingface.co"
	DefaultModel = "Salesforce/blip-image-captioning-large"
)

// ErrModelLoading is returned while the endpoint is still loading the model
// into memory. Retrying later succeeds.
var ErrModelLoading = errors.New("model is loading")

type hf struct {
	model  string
	client *resty.Client
}

var _ captioner.Captioner = &hf{}

type request struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
}

type parameters struct {
	MaxNewTokens   int            `json:"max_new_tokens,omitempty"`
	GenerateKwargs generateKwargs `json:"generate_kwargs"`
}

type generateKwargs struct {
	MaxLength         int     `json:"max_length,omitempty"`
	NumBeams          int     `json:"num_beams,omitempty"`
	EarlyStopping     bool    `json:"early_stopping"`
	DoSample          bool    `json:"do_sample"`
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty"`
}

type generation struct {
	GeneratedText string `json:"generated_text"`
}

type apiError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// Init returns a captioner for model served at baseURL. The token is sent as
// a bearer token when non-empty.
func Init(baseURL, model, token string, httpClient *http.Client) *hf {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}

	client := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)
	if token != "" {
		client.SetAuthToken(token)
	}

	return &hf{model: model, client: client}
}

func (h *hf) Name() string { return "huggingface" }

func (h *hf) Model() string { return h.model }

func (h *hf) Close() error { return nil }

// IsHealthy reports whether the endpoint answers for the model. A loading
// model counts as healthy.
func (h *hf) IsHealthy(ctx context.Context) bool {
	resp, err := h.client.R().SetContext(ctx).Get("/models/" + h.model)
	if err != nil {
		return false
	}
	return resp.StatusCode() < http.StatusInternalServerError || resp.StatusCode() == http.StatusServiceUnavailable
}

func (h *hf) Caption(ctx context.Context, image []byte, p captioner.Params) (string, error) {
	body := request{
		Inputs: base64.StdEncoding.EncodeToString(image),
		Parameters: parameters{
			MaxNewTokens: p.MaxLength,
			GenerateKwargs: generateKwargs{
				MaxLength:         p.MaxLength,
				NumBeams:          p.NumBeams,
				EarlyStopping:     p.EarlyStopping,
				DoSample:          p.DoSample,
				RepetitionPenalty: p.RepetitionPenalty,
			},
		},
	}

	var (
		result []generation
		apiErr apiError
	)
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/models/" + h.model)
	if err != nil {
		return "", fmt.Errorf("huggingface request: %w", err)
	}

	if resp.IsError() {
		if resp.StatusCode() == http.StatusServiceUnavailable && apiErr.EstimatedTime > 0 {
			return "", fmt.Errorf("%w, estimated %.0fs", ErrModelLoading, apiErr.EstimatedTime)
		}
		if apiErr.Error != "" {
			return "", fmt.Errorf("huggingface returned %d: %s", resp.StatusCode(), apiErr.Error)
		}
		return "", fmt.Errorf("huggingface returned %d", resp.StatusCode())
	}

	if len(result) == 0 || strings.TrimSpace(result[0].GeneratedText) == "" {
		return "", captioner.ErrEmptyCaption
	}
	return strings.TrimSpace(result[0].GeneratedText), nil
}
