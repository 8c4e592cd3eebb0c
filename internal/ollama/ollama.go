package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/chriskillpack/blurb/captioner"
	"github.com/go-resty/resty/v2"
)

type ollama struct {
	model  string
	seed   int
	client *resty.Client
}

var _ captioner.Captioner = &ollama{}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func Init(model, srvAddr string, seed int, httpClient *http.Client) *ollama {
	return &ollama{
		model: model,
		seed:  seed,
		client: resty.NewWithClient(httpClient).
			SetBaseURL(strings.TrimRight(srvAddr, "/")).
			SetHeader("Content-Type", "application/json"),
	}
}

func (o *ollama) Name() string { return "ollama" }

func (o *ollama) Model() string { return o.model }

func (o *ollama) Close() error { return nil }

func (o *ollama) IsHealthy(ctx context.Context) bool {
	resp, err := o.client.R().SetContext(ctx).Get("/")
	if err != nil {
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

func (o *ollama) Caption(ctx context.Context, image []byte, p captioner.Params) (string, error) {
	opts := map[string]any{
		"seed": o.seed,
	}
	if p.MaxLength > 0 {
		opts["num_predict"] = p.MaxLength
	}
	if p.RepetitionPenalty > 0 {
		opts["repeat_penalty"] = p.RepetitionPenalty
	}
	if !p.DoSample {
		opts["temperature"] = 0
	}

	var (
		result generateResponse
		apiErr errorResponse
	)
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Model:   o.model,
			Prompt:  captioner.Instruction(p),
			Images:  []string{base64.StdEncoding.EncodeToString(image)},
			Stream:  false,
			Options: opts,
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode(), apiErr.Error)
	}

	caption := strings.TrimSpace(result.Response)
	if caption == "" {
		return "", captioner.ErrEmptyCaption
	}
	return caption, nil
}
