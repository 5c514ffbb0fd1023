// Package synthetic renders deterministic placeholder artifacts so local and
// CI environments exercise the full generation pipeline without provider
// credentials.
package synthetic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/url"
	"strconv"
	"strings"

	"adstudio/internal/storage"
)

// Renderer writes placeholder artifacts through a FileStore and returns
// their public URLs.
type Renderer struct {
	store *storage.FileStore
}

func NewRenderer(store *storage.FileStore) *Renderer {
	return &Renderer{store: store}
}

// Seed derives a stable hex seed from parts.
func Seed(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:6])
}

// StorageKey builds the key a synthetic artifact is stored under.
func StorageKey(kind, provider, seed, ext string) string {
	return fmt.Sprintf("synthetic/%s/%s-%s.%s", url.PathEscape(provider), url.PathEscape(kind), seed, ext)
}

func (r *Renderer) Image(ctx context.Context, provider, kind, seed string, width, height int) (string, error) {
	return r.store.Publish(ctx, StorageKey(kind, provider, seed, "png"), RenderImage(width, height, seed))
}

func (r *Renderer) Video(ctx context.Context, provider, kind, seed, prompt string) (string, error) {
	return r.store.Publish(ctx, StorageKey(kind, provider, seed, "mp4"), renderVideo(provider, seed, prompt))
}

func (r *Renderer) Audio(ctx context.Context, provider, kind, seed string, seconds int) (string, error) {
	return r.store.Publish(ctx, StorageKey(kind, provider, seed, "wav"), RenderSilence(seconds))
}

// RenderImage draws striped PNG art coloured from seed.
func RenderImage(width, height int, seed string) []byte {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := max(32, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight))
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	for i := 0; i < max(width, height); i += max(16, width/32) {
		for y := 0; y < height; y++ {
			xx := i + y
			if xx >= width {
				break
			}
			img.Set(xx, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func renderVideo(provider, seed, prompt string) []byte {
	lines := []string{
		"Synthetic " + provider + " video placeholder",
		"Seed: " + seed,
		"Prompt: " + strings.TrimSpace(prompt),
	}
	return []byte(strings.Join(lines, "\n"))
}

// RenderSilence returns a mono 8kHz 16-bit PCM WAV of the given length.
func RenderSilence(seconds int) []byte {
	if seconds <= 0 {
		seconds = 1
	}
	const (
		sampleRate    = 8000
		bitsPerSample = 16
		channels      = 1
	)
	dataLen := uint32(seconds * sampleRate * channels * bitsPerSample / 8)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bitsPerSample/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = (seed + "000000")[:6]
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}
