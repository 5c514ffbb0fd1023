package replicate

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	ModelFluxSchnell = "black-forest-labs/flux-schnell"
	ModelRembg       = "cjwbw/rembg:fb8af171cfa1616ddcf1242c093f9c46bcada5ad4cf6f2fbe8b81b330ec5c003"
	ModelZeroscope   = "anotherjesse/zeroscope-v2-xl:9f747673945c62801b13b84701c783929c0ee784e4748ec062204894dda1a351"

	DefaultImageSize = "1024x1024"
	videoFPS         = 8
	maxVideoFrames   = 24
)

var styleModifiers = map[string]string{
	"minimal":   "minimalist, clean, simple, modern design",
	"bold":      "bold, vibrant colors, high contrast, impactful",
	"playful":   "playful, fun, colorful, dynamic",
	"corporate": "professional, corporate, business, elegant",
	"auto":      "high quality, professional",
}

var platformSizes = map[string]string{
	"youtube":   "1280x720",
	"facebook":  "1200x630",
	"instagram": "1080x1080",
	"twitter":   "1500x500",
	"linkedin":  "1584x396",
}

// ParseSize splits "WIDTHxHEIGHT".
func ParseSize(size string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(size)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q", size)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", size)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", size)
	}
	return width, height, nil
}

// AspectRatio maps pixel dimensions onto the ratios flux-schnell accepts.
func AspectRatio(width, height int) string {
	ratio := float64(width) / float64(height)
	switch {
	case ratio > 1.5:
		return "16:9"
	case ratio < 0.7:
		return "9:16"
	case ratio > 1.1:
		return "4:3"
	case ratio < 0.9:
		return "3:4"
	default:
		return "1:1"
	}
}

// StylePrompt appends the style's modifiers; unknown styles use "auto".
func StylePrompt(prompt, style string) string {
	mod, ok := styleModifiers[strings.ToLower(strings.TrimSpace(style))]
	if !ok {
		mod = styleModifiers["auto"]
	}
	return strings.TrimSpace(prompt) + ", " + mod
}

// BannerSize returns the canvas for a social platform, defaulting to YouTube.
func BannerSize(platform string) string {
	if size, ok := platformSizes[strings.ToLower(strings.TrimSpace(platform))]; ok {
		return size
	}
	return platformSizes["youtube"]
}

func BannerPrompt(platform, title, subtitle, style string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Professional %s banner design:\n", platform)
	fmt.Fprintf(&b, "Title: %q\n", title)
	if subtitle != "" {
		fmt.Fprintf(&b, "Subtitle: %q\n", subtitle)
	}
	fmt.Fprintf(&b, "Style: %s, modern, eye-catching\n", style)
	b.WriteString("High quality, professional design, clean typography")
	return b.String()
}

func LogoPrompt(brand, industry, style string, colors []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Professional logo design for %q:\n", brand)
	fmt.Fprintf(&b, "Industry: %s\n", industry)
	fmt.Fprintf(&b, "Style: %s, clean, memorable, vector-style\n", style)
	if len(colors) > 0 {
		fmt.Fprintf(&b, "Colors: %s\n", strings.Join(colors, ", "))
	} else {
		b.WriteString("Modern color palette\n")
	}
	b.WriteString("Simple, scalable, professional brand identity")
	return b.String()
}

// VideoPrompt prefers an explicit script over the topic template.
func VideoPrompt(topic, script, style string) string {
	if s := strings.TrimSpace(script); s != "" {
		return s
	}
	return fmt.Sprintf("A professional video about %s, %s style, high quality cinematography", topic, style)
}

// VideoFrames caps the clip length the model renders at 8 fps.
func VideoFrames(durationSeconds int) int {
	frames := durationSeconds * videoFPS
	if frames > maxVideoFrames {
		return maxVideoFrames
	}
	if frames < 1 {
		return 1
	}
	return frames
}
