package handlers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"adstudio/internal/domain"
)

// generationRequest is one endpoint's payload. validate runs before any
// credits are reserved.
type generationRequest interface {
	validate() error
	params() domain.Parameters
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func colorList(colors []string) []any {
	out := make([]any, 0, len(colors))
	for _, c := range colors {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	Style  string `json:"style"`
}

func (r *imageRequest) validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(r.Prompt)) < 3 {
		return errors.New("prompt must be at least 3 characters")
	}
	return nil
}

func (r *imageRequest) params() domain.Parameters {
	return domain.Parameters{"prompt": r.Prompt, "size": r.Size, "style": r.Style}
}

type bannerRequest struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	Platform string   `json:"platform"`
	Style    string   `json:"style"`
	Colors   []string `json:"colors"`
}

func (r *bannerRequest) validate() error { return required("title", r.Title) }

func (r *bannerRequest) params() domain.Parameters {
	return domain.Parameters{
		"title":    r.Title,
		"subtitle": r.Subtitle,
		"platform": r.Platform,
		"style":    r.Style,
		"colors":   colorList(r.Colors),
	}
}

type logoRequest struct {
	BrandName string   `json:"brand_name"`
	Industry  string   `json:"industry"`
	Style     string   `json:"style"`
	Colors    []string `json:"colors"`
}

func (r *logoRequest) validate() error {
	if err := required("brand_name", r.BrandName); err != nil {
		return err
	}
	return required("industry", r.Industry)
}

func (r *logoRequest) params() domain.Parameters {
	return domain.Parameters{
		"brand_name": r.BrandName,
		"industry":   r.Industry,
		"style":      r.Style,
		"colors":     colorList(r.Colors),
	}
}

type backgroundRemovalRequest struct {
	ImageURL string `json:"image_url"`
}

func (r *backgroundRemovalRequest) validate() error {
	u, err := url.Parse(strings.TrimSpace(r.ImageURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("image_url must be an http(s) URL")
	}
	return nil
}

func (r *backgroundRemovalRequest) params() domain.Parameters {
	return domain.Parameters{"image_url": strings.TrimSpace(r.ImageURL)}
}

type videoRequest struct {
	Topic    string `json:"topic"`
	Script   string `json:"script"`
	Duration int    `json:"duration"`
	Style    string `json:"style"`
	Voice    string `json:"voice"`
}

func (r *videoRequest) validate() error {
	if err := required("topic", r.Topic); err != nil {
		return err
	}
	if r.Duration < 0 || r.Duration > 120 {
		return errors.New("duration must be between 1 and 120 seconds")
	}
	return nil
}

func (r *videoRequest) params() domain.Parameters {
	duration := r.Duration
	if duration == 0 {
		duration = 30
	}
	return domain.Parameters{
		"topic":    r.Topic,
		"script":   r.Script,
		"duration": duration,
		"style":    r.Style,
		"voice":    r.Voice,
	}
}

type presenterRequest struct {
	Script     string `json:"script"`
	AvatarID   string `json:"avatar_id"`
	Background string `json:"background"`
	VoiceID    string `json:"voice_id"`
}

func (r *presenterRequest) validate() error {
	if err := required("script", r.Script); err != nil {
		return err
	}
	return required("avatar_id", r.AvatarID)
}

func (r *presenterRequest) params() domain.Parameters {
	background := r.Background
	if strings.TrimSpace(background) == "" {
		background = "studio"
	}
	return domain.Parameters{
		"script":     r.Script,
		"avatar_id":  r.AvatarID,
		"background": background,
		"voice_id":   r.VoiceID,
	}
}

type voiceoverRequest struct {
	Text  string   `json:"text"`
	Voice string   `json:"voice"`
	Speed *float64 `json:"speed"`
}

func (r *voiceoverRequest) validate() error {
	if err := required("text", r.Text); err != nil {
		return err
	}
	if r.Speed != nil && (*r.Speed <= 0 || *r.Speed > 4) {
		return errors.New("speed must be between 0 and 4")
	}
	return nil
}

func (r *voiceoverRequest) params() domain.Parameters {
	speed := 1.0
	if r.Speed != nil {
		speed = *r.Speed
	}
	return domain.Parameters{"text": r.Text, "voice": r.Voice, "speed": speed}
}

type adjustRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type freezeRequest struct {
	Reason string `json:"reason"`
}
