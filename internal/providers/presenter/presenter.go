// Package presenter renders avatar presenter videos. No upstream rendering
// service is integrated yet, so the renderer waits out a fixed render delay
// and returns a deterministic placeholder reference.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"adstudio/internal/domain"
	"adstudio/internal/infra/credentials"
	"adstudio/internal/providers/synthetic"
)

const providerName = "presenter"

type Options struct {
	// APIKey gates the synthetic preview: with no key the renderer writes a
	// local placeholder clip through Synthetic instead of the hosted URL.
	APIKey      credentials.TokenFunc
	BaseURL     string
	RenderDelay time.Duration
	Synthetic   *synthetic.Renderer
	Logger      zerolog.Logger
}

type Renderer struct {
	apiKey    credentials.TokenFunc
	baseURL   string
	delay     time.Duration
	synthetic *synthetic.Renderer
	logger    zerolog.Logger
}

func New(opts Options) *Renderer {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://placeholder.video"
	}
	apiKey := opts.APIKey
	if apiKey == nil {
		apiKey = credentials.Static("")
	}
	return &Renderer{
		apiKey:    apiKey,
		baseURL:   baseURL,
		delay:     opts.RenderDelay,
		synthetic: opts.Synthetic,
		logger:    opts.Logger,
	}
}

func (r *Renderer) Name() string { return providerName }

func (r *Renderer) Execute(ctx context.Context, kind domain.JobKind, params domain.Parameters) (string, error) {
	if kind != domain.JobKindPresenterVideo {
		return "", fmt.Errorf("%w: presenter cannot serve %q", domain.ErrUnknownKind, kind)
	}
	script := params.String("script")
	if script == "" {
		return "", errors.New("presenter: script is required")
	}
	avatar := params.String("avatar_id")
	if avatar == "" {
		return "", errors.New("presenter: avatar_id is required")
	}
	seed := synthetic.Seed(avatar, params.String("voice_id"), params.String("background"), script)

	if r.delay > 0 {
		timer := time.NewTimer(r.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	key, err := r.apiKey(ctx)
	if err != nil {
		return "", fmt.Errorf("presenter: resolve api key: %w", err)
	}
	if key == "" && r.synthetic != nil {
		r.logger.Debug().Str("avatar_id", avatar).Msg("presenter: no api key, rendering synthetic clip")
		return r.synthetic.Video(ctx, providerName, string(kind), seed, script)
	}
	return fmt.Sprintf("%s/%s/%s.mp4", r.baseURL, avatar, seed), nil
}
