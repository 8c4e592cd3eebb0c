package llama

import (
	"context"
	"encoding/base64"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/chriskillpack/blurb/captioner"
	"github.com/go-resty/resty/v2"
)

const (
	imagePreamble = `A chat between a curious human and an artificial intelligence assistant. The assistant gives helpful, detailed, and polite answers to the human's questions.
USER:`
	imageSuffix = `
ASSISTANT:`

	imageID = 10
)

type jsonmap map[string]any

// These were lifted from the web inspector for the server UI
var defaultparams = jsonmap{
	"n_probs":           0,
	"stop":              []string{"</s>", "USER:", "ASSISTANT:"},
	"repeat_last_n":     256,
	"top_k":             40,
	"top_p":             0.5,
	"tfs_z":             1,
	"typical_p":         1,
	"presence_penalty":  0,
	"frequency_penalty": 0,
	"mirostat":          0,
	"mirostat_tau":      5,
	"mirostat_eta":      0.1,
	"grammar":           "",
	"slot_id":           -1,
	"cache_prompt":      true,
}

type llama struct {
	seed   int
	client *resty.Client
}

type completionResponse struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

var _ captioner.Captioner = &llama{}

func Init(srvAddr string, seed int, httpClient *http.Client) *llama {
	return &llama{
		seed: seed,
		client: resty.NewWithClient(httpClient).
			SetBaseURL(strings.TrimRight(srvAddr, "/")).
			SetHeader("Content-Type", "application/json"),
	}
}

func (l *llama) Name() string { return "llama" }

// The server loads exactly one model, which it does not report on /completion.
func (l *llama) Model() string { return "llava" }

func (l *llama) IsHealthy(ctx context.Context) bool {
	resp, err := l.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

func (l *llama) Close() error { return nil }

func (l *llama) Caption(ctx context.Context, image []byte, p captioner.Params) (string, error) {
	imb64 := base64.StdEncoding.EncodeToString(image)

	keys := jsonmap{
		"n_predict": p.MaxLength,
		"image_data": []jsonmap{
			{
				"data": imb64, "id": imageID,
			},
		},
	}
	if p.RepetitionPenalty > 0 {
		keys["repeat_penalty"] = p.RepetitionPenalty
	}
	if p.DoSample {
		keys["temperature"] = 0.7
	} else {
		keys["temperature"] = 0
	}

	content, err := l.sendRequest(ctx, imagePrompt(p), keys)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", captioner.ErrEmptyCaption
	}

	// The prompt was the start of the assistant's turn, put it back so the
	// caller sees the full continuation.
	if p.Prompt != "" {
		content = p.Prompt + " " + content
	}
	return content, nil
}

// imagePrompt places the conditioning prompt at the start of the assistant's
// turn so the model continues it.
func imagePrompt(p captioner.Params) string {
	prompt := fmt.Sprintf("%s[img-%d]%s%s", imagePreamble, imageID, captioner.Instruction(captioner.Params{}), imageSuffix)
	if p.Prompt != "" {
		prompt += " " + p.Prompt
	}
	return prompt
}

func (l *llama) sendRequest(ctx context.Context, prompt string, keys jsonmap) (string, error) {
	data := maps.Clone(defaultparams)
	maps.Copy(data, keys)
	data["prompt"] = prompt
	data["stream"] = false
	data["seed"] = l.seed

	var result completionResponse
	resp, err := l.client.R().
		SetContext(ctx).
		SetBody(data).
		SetResult(&result).
		ForceContentType("application/json").
		Post("/completion")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("llama server returned %s", resp.Status())
	}

	return strings.TrimSpace(result.Content), nil
}
