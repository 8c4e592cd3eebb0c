package captioner

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyCaption is returned by a Captioner when the backing model produced
// no text at all.
var ErrEmptyCaption = errors.New("model returned an empty caption")

// Captioner captions an image using a specific pretrained model.
type Captioner interface {
	// Name returns the name of the inference backend, e.g. "llama" or
	// "huggingface".
	Name() string

	// Model returns the model identifier the backend was configured with.
	Model() string

	// Caption returns the generated caption for the provided image. The image
	// data should be the full contents of a JPEG file including the header.
	// The provided ctx is used as a parent context for the request to the
	// inference backend.
	Caption(ctx context.Context, image []byte, p Params) (string, error)

	// IsHealthy returns whether the inference backend is reachable.
	IsHealthy(ctx context.Context) bool

	// Close releases connections held by the backend.
	Close() error
}

// Mode selects the caption quality tier.
type Mode string

const (
	ModeDefault  Mode = "default"
	ModeDetailed Mode = "detailed"
)

// ParseMode maps the client supplied caption type onto a Mode. Anything other
// than "detailed" is the default mode.
func ParseMode(s string) Mode {
	if s == string(ModeDetailed) {
		return ModeDetailed
	}
	return ModeDefault
}

// Params are the decoding parameters passed to the model's generation
// routine.
type Params struct {
	// Prompt conditions generation. The model continues this text, which is
	// then stripped from the caption.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`

	MaxLength     int  `json:"max_length" yaml:"max_length"`
	NumBeams      int  `json:"num_beams" yaml:"num_beams"`
	EarlyStopping bool `json:"early_stopping" yaml:"early_stopping"`
	DoSample      bool `json:"do_sample" yaml:"do_sample"`

	// RepetitionPenalty of 0 leaves the model default in place, 1.0 is no
	// penalty.
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty" yaml:"repetition_penalty,omitempty"`
}

// Presets holds the decoding parameters for each Mode.
type Presets struct {
	Default  Params `json:"default" yaml:"default"`
	Detailed Params `json:"detailed" yaml:"detailed"`
}

// DetailedPrompt is the conditioning text used for detailed captions.
const DetailedPrompt = "a detailed description of"

// DefaultPresets returns the built-in decoding parameters.
func DefaultPresets() Presets {
	return Presets{
		Default: Params{
			MaxLength:     50,
			NumBeams:      4,
			EarlyStopping: true,
		},
		Detailed: Params{
			Prompt:            DetailedPrompt,
			MaxLength:         70,
			NumBeams:          4,
			EarlyStopping:     true,
			DoSample:          false,
			RepetitionPenalty: 1.2,
		},
	}
}

// For returns the parameters for mode m.
func (p Presets) For(m Mode) Params {
	if m == ModeDetailed {
		return p.Detailed
	}
	return p.Default
}

// StripPrompt removes a leading prompt from caption, ignoring case, and trims
// the whitespace left behind. Captions that do not start with the prompt are
// returned unchanged.
func StripPrompt(caption, prompt string) string {
	if prompt != "" && len(caption) >= len(prompt) && strings.EqualFold(caption[:len(prompt)], prompt) {
		return strings.TrimSpace(caption[len(prompt):])
	}
	return caption
}

// Instruction returns a chat style instruction for backends driven by a
// natural language prompt rather than a conditioning prefix.
func Instruction(p Params) string {
	if p.Prompt == "" {
		return "Write a short, one sentence caption for this image."
	}
	return "Describe this image in detail. Begin your answer with \"" + p.Prompt + "\"."
}
