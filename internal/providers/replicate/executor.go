package replicate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/providers/synthetic"
)

const providerName = "replicate"

// Executor serves the image kinds, background removal and text-to-video.
type Executor struct {
	client    *Client
	synthetic *synthetic.Renderer
	logger    zerolog.Logger
}

// Kinds lists the kinds this executor handles.
var Kinds = []domain.JobKind{
	domain.JobKindImage,
	domain.JobKindBanner,
	domain.JobKindLogo,
	domain.JobKindBackgroundRemoval,
	domain.JobKindVideo,
}

// NewExecutor wires client. When renderer is non-nil and no token resolves,
// synthetic artifacts are produced instead of remote calls.
func NewExecutor(client *Client, renderer *synthetic.Renderer, logger zerolog.Logger) *Executor {
	return &Executor{client: client, synthetic: renderer, logger: logger}
}

func (e *Executor) Name() string { return providerName }

// call is one fully shaped model invocation.
type call struct {
	model  string
	input  map[string]any
	width  int
	height int
	prompt string
}

func (e *Executor) Execute(ctx context.Context, kind domain.JobKind, params domain.Parameters) (string, error) {
	c, err := buildCall(kind, params)
	if err != nil {
		return "", &domain.ProviderError{Kind: kind, Provider: providerName, Message: err.Error(), Err: err}
	}

	if e.synthetic != nil && !e.client.HasCredentials(ctx) {
		seed := synthetic.Seed(string(kind), c.model, fmt.Sprint(c.input))
		e.logger.Debug().Str("kind", string(kind)).Str("seed", seed).Msg("replicate: no token, rendering synthetic artifact")
		if kind == domain.JobKindVideo {
			return e.synthetic.Video(ctx, providerName, string(kind), seed, c.prompt)
		}
		return e.synthetic.Image(ctx, providerName, string(kind), seed, c.width, c.height)
	}

	return e.client.Run(ctx, c.model, c.input)
}

// buildCall shapes params into the model input for kind.
func buildCall(kind domain.JobKind, params domain.Parameters) (call, error) {
	switch kind {
	case domain.JobKindImage:
		prompt := params.String("prompt")
		if prompt == "" {
			return call{}, fmt.Errorf("prompt is required")
		}
		return imageCall(StylePrompt(prompt, params.StringOr("style", "auto")), params.StringOr("size", DefaultImageSize))

	case domain.JobKindBanner:
		title := params.String("title")
		if title == "" {
			return call{}, fmt.Errorf("title is required")
		}
		platform := strings.ToLower(params.StringOr("platform", "youtube"))
		prompt := BannerPrompt(platform, title, params.String("subtitle"), params.StringOr("style", "modern"))
		return imageCall(StylePrompt(prompt, "auto"), BannerSize(platform))

	case domain.JobKindLogo:
		brand := params.String("brand_name")
		if brand == "" {
			return call{}, fmt.Errorf("brand_name is required")
		}
		prompt := LogoPrompt(brand, params.String("industry"), params.StringOr("style", "minimal"), params.Strings("colors"))
		return imageCall(StylePrompt(prompt, "auto"), DefaultImageSize)

	case domain.JobKindBackgroundRemoval:
		src := params.String("image_url")
		if src == "" {
			return call{}, fmt.Errorf("image_url is required")
		}
		return call{model: ModelRembg, input: map[string]any{"image": src}, width: 1024, height: 1024, prompt: src}, nil

	case domain.JobKindVideo:
		topic := params.String("topic")
		script := params.String("script")
		if topic == "" && script == "" {
			return call{}, fmt.Errorf("topic or script is required")
		}
		prompt := VideoPrompt(topic, script, params.StringOr("style", "modern"))
		return call{
			model: ModelZeroscope,
			input: map[string]any{
				"prompt":     prompt,
				"num_frames": VideoFrames(params.Int("duration", 30)),
				"fps":        videoFPS,
			},
			prompt: prompt,
		}, nil
	}
	return call{}, fmt.Errorf("%w: replicate cannot serve %q", domain.ErrUnknownKind, kind)
}

func imageCall(prompt, size string) (call, error) {
	width, height, err := ParseSize(size)
	if err != nil {
		return call{}, err
	}
	return call{
		model: ModelFluxSchnell,
		input: map[string]any{
			"prompt":         prompt,
			"num_outputs":    1,
			"aspect_ratio":   AspectRatio(width, height),
			"output_format":  "png",
			"output_quality": 90,
		},
		width:  width,
		height: height,
		prompt: prompt,
	}, nil
}
