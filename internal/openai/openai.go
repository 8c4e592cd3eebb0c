package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/chriskillpack/blurb/captioner"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultModel = "gpt-4o-mini"

type openai struct {
	oac   *oagc.Client
	model string
}

var _ captioner.Captioner = &openai{}

// Init returns an OpenAI chat completions captioner. An empty baseURL targets
// api.openai.com, any OpenAI compatible vision server works otherwise. An
// empty apiKey falls back to the OPENAI_API_KEY environment variable.
func Init(baseURL, apiKey, model string, httpClient *http.Client) *openai {
	if model == "" {
		model = defaultModel
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(2),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	return &openai{
		oac:   oagc.NewClient(opts...),
		model: model,
	}
}

func (o *openai) Name() string { return "openai" }

func (o *openai) Model() string { return o.model }

func (o *openai) Close() error { return nil }

func (o *openai) IsHealthy(ctx context.Context) bool {
	_, err := o.oac.Models.Get(ctx, o.model)
	return err == nil
}

func (o *openai) Caption(ctx context.Context, image []byte, p captioner.Params) (string, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	params := oagc.ChatCompletionNewParams{
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.UserMessageParts(
				oagc.TextPart(captioner.Instruction(p)),
				oagc.ImagePart(dataURL),
			),
		}),
		Model: oagc.F(oagc.ChatModel(o.model)),
	}
	if p.MaxLength > 0 {
		params.MaxTokens = oagc.Int(int64(p.MaxLength))
	}
	if !p.DoSample {
		params.Temperature = oagc.Float(0)
	}
	// There is no repetition penalty in the chat API, frequency penalty is the
	// closest knob. 1.2 maps to 0.2.
	if fp := p.RepetitionPenalty - 1; fp > 0 {
		params.FrequencyPenalty = oagc.Float(min(fp, 2))
	}

	resp, err := o.oac.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	caption := strings.TrimSpace(resp.Choices[0].Message.Content)
	if caption == "" {
		return "", captioner.ErrEmptyCaption
	}
	return caption, nil
}
