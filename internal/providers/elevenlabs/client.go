// Package elevenlabs synthesizes voiceovers through the ElevenLabs
// text-to-speech API and publishes the audio through the artifact store.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"adstudio/internal/domain"
	"adstudio/internal/infra/credentials"
	"adstudio/internal/providers/synthetic"
	"adstudio/internal/storage"
)

const (
	providerName       = "elevenlabs"
	modelMonolingual   = "eleven_monolingual_v1"
	modelMultilingual  = "eleven_multilingual_v2"
	maxTextLength      = 5000
	charsPerSecondTalk = 15
)

// ErrMissingAPIKey indicates no API key is configured.
var ErrMissingAPIKey = errors.New("elevenlabs: api key is required")

// voiceAliases maps the public voice names onto ElevenLabs voice ids.
var voiceAliases = map[string]string{
	"alloy":   "21m00Tcm4TlvDq8ikWAM",
	"echo":    "AZnzlk1XvdvUeBnXmlld",
	"fable":   "EXAVITQu4vr4xnSDxMaL",
	"onyx":    "ErXwobaYiN019PkySvjV",
	"nova":    "MF3mGyEYCl7XYWbV9V6O",
	"shimmer": "ThT5KcBeYPX3keUQqHPh",
}

var modelMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Indonesian,
	language.Spanish,
	language.French,
	language.German,
	language.Portuguese,
	language.Japanese,
	language.Hindi,
})

type Options struct {
	APIKey     credentials.TokenFunc
	BaseURL    string
	HTTPClient *http.Client
	Store      *storage.FileStore
	Synthetic  *synthetic.Renderer
	Logger     zerolog.Logger
}

type Client struct {
	apiKey     credentials.TokenFunc
	baseURL    string
	httpClient *http.Client
	store      *storage.FileStore
	synthetic  *synthetic.Renderer
	logger     zerolog.Logger
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io/v1"
	}
	apiKey := opts.APIKey
	if apiKey == nil {
		apiKey = credentials.Static("")
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		store:      opts.Store,
		synthetic:  opts.Synthetic,
		logger:     opts.Logger,
	}
}

func (c *Client) Name() string { return providerName }

// VoiceID resolves an alias; unknown names pass through as raw voice ids.
func VoiceID(voice string) string {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = "alloy"
	}
	if id, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return id
	}
	return voice
}

// ModelFor picks the English-only model for English text and the
// multilingual model otherwise.
func ModelFor(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return modelMonolingual
	}
	matched, _, _ := modelMatcher.Match(tag)
	base, _ := matched.Base()
	english, _ := language.English.Base()
	if base == english {
		return modelMonolingual
	}
	return modelMultilingual
}

func clampSpeed(speed float64) float64 {
	switch {
	case speed < 0.7:
		return 0.7
	case speed > 1.2:
		return 1.2
	}
	return speed
}

func (c *Client) Execute(ctx context.Context, kind domain.JobKind, params domain.Parameters) (string, error) {
	if kind != domain.JobKindVoiceover {
		return "", fmt.Errorf("%w: elevenlabs cannot serve %q", domain.ErrUnknownKind, kind)
	}
	text := params.String("text")
	if text == "" {
		return "", errors.New("elevenlabs: text is required")
	}
	if utf8.RuneCountInString(text) > maxTextLength {
		return "", fmt.Errorf("elevenlabs: text exceeds %d characters", maxTextLength)
	}
	voiceID := VoiceID(params.String("voice"))
	speed := clampSpeed(params.Float("speed", 1.0))

	key, err := c.apiKey(ctx)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: resolve api key: %w", err)
	}
	if key == "" {
		if c.synthetic == nil {
			return "", ErrMissingAPIKey
		}
		seed := synthetic.Seed(string(kind), voiceID, text)
		seconds := utf8.RuneCountInString(text)/charsPerSecondTalk + 1
		c.logger.Debug().Str("voice_id", voiceID).Msg("elevenlabs: no api key, rendering synthetic audio")
		return c.synthetic.Audio(ctx, providerName, string(kind), seed, seconds)
	}

	audio, err := c.speak(ctx, key, voiceID, speechRequest{
		Text:    text,
		ModelID: ModelFor(params.StringOr("locale", "en")),
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           speed,
		},
	})
	if err != nil {
		return "", err
	}
	if c.store == nil {
		return "", errors.New("elevenlabs: no artifact store configured")
	}
	return c.store.Publish(ctx, "voiceover/"+uuid.NewString()+".mp3", audio)
}

func (c *Client) speak(ctx context.Context, key, voiceID string, payload speechRequest) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}
	endpoint := c.baseURL + "/text-to-speech/" + voiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail.Message != "" {
			return nil, fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, detail.Detail.Message)
		}
		return nil, fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(raw) == 0 {
		return nil, errors.New("elevenlabs: empty audio response")
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "audio/") {
		return nil, fmt.Errorf("elevenlabs: unexpected content type %q", ct)
	}
	c.logger.Debug().Str("voice_id", voiceID).Int("bytes", len(raw)).Str("model", payload.ModelID).Msg("elevenlabs: speech synthesized")
	return raw, nil
}
