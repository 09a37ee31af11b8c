// Package thumbnail renders the video thumbnail: a topic-tinted gradient with
// large outlined text and an accent frame.
package thumbnail

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/logging"
)

const (
	defaultFontSize = 120
	minFontSize     = 48
	maxLines        = 3
	outlineWidth    = 4
	accentBar       = 12
)

var accentColors = map[string]color.NRGBA{
	"ai_news":   {0, 123, 255, 255},
	"listicle":  {255, 193, 7, 255},
	"explainer": {40, 167, 69, 255},
}

var defaultAccent = color.NRGBA{108, 117, 125, 255}

type Options struct {
	Width      int
	Height     int
	Quality    int
	FontPath   string // empty uses the bundled Go Bold font
	FontSize   float64
	Background string // hex, e.g. #1E1E1E
	TextColor  string
}

type Renderer struct {
	opts   Options
	font   *truetype.Font
	bg     color.NRGBA
	text   color.NRGBA
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Renderer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 95
	}
	if opts.FontSize <= 0 {
		opts.FontSize = defaultFontSize
	}
	if logger == nil {
		logger = logging.Discard()
	}

	ttf := gobold.TTF
	if opts.FontPath != "" {
		data, err := os.ReadFile(opts.FontPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read font file: %w", err)
		}
		ttf = data
	}
	parsed, err := truetype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}

	bg, err := parseHex(opts.Background, color.NRGBA{30, 30, 30, 255})
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	fg, err := parseHex(opts.TextColor, color.NRGBA{255, 255, 255, 255})
	if err != nil {
		return nil, fmt.Errorf("text color: %w", err)
	}
	return &Renderer{opts: opts, font: parsed, bg: bg, text: fg, logger: logging.WithComponent(logger, "thumbnail")}, nil
}

// AccentColor is the frame color used for a topic.
func AccentColor(topicID string) color.NRGBA {
	if c, ok := accentColors[topicID]; ok {
		return c
	}
	return defaultAccent
}

// Render draws the thumbnail for text.
func (r *Renderer) Render(text, topicID string) image.Image {
	w, h := float64(r.opts.Width), float64(r.opts.Height)
	dc := gg.NewContext(r.opts.Width, r.opts.Height)

	dark := color.NRGBA{uint8(float64(r.bg.R) * 0.6), uint8(float64(r.bg.G) * 0.6), uint8(float64(r.bg.B) * 0.6), 255}
	grad := gg.NewLinearGradient(0, 0, 0, h)
	grad.AddColorStop(0, dark)
	grad.AddColorStop(1, r.bg)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, w, h)
	dc.Fill()

	// darken the band behind the text
	dc.SetColor(color.NRGBA{0, 0, 0, 90})
	dc.DrawRectangle(0, h*0.2, w, h*0.6)
	dc.Fill()

	text = strings.ToUpper(strings.Join(strings.Fields(text), " "))
	if text != "" {
		size, lines := r.layout(dc, text)
		r.drawText(dc, lines, size)
	}

	accent := AccentColor(topicID)
	dc.SetColor(accent)
	dc.DrawRectangle(0, 0, w, accentBar)
	dc.DrawRectangle(0, h-accentBar, w, accentBar)
	dc.DrawRectangle(0, 0, accentBar, h)
	dc.DrawRectangle(w-accentBar, 0, accentBar, h)
	dc.Fill()

	return dc.Image()
}

// layout picks the largest font size at which text wraps into at most
// maxLines lines that fit the safe area.
func (r *Renderer) layout(dc *gg.Context, text string) (float64, []string) {
	maxW := float64(r.opts.Width) * 0.85
	maxH := float64(r.opts.Height) * 0.6
	var lines []string
	size := r.opts.FontSize
	for ; size >= minFontSize; size -= 8 {
		dc.SetFontFace(r.face(size))
		lines = dc.WordWrap(text, maxW)
		if len(lines) <= maxLines && float64(len(lines))*size*1.2 <= maxH && widest(dc, lines) <= maxW {
			return size, lines
		}
	}
	size = minFontSize
	dc.SetFontFace(r.face(size))
	lines = dc.WordWrap(text, maxW)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		lines[maxLines-1] = strings.TrimSpace(lines[maxLines-1]) + "..."
	}
	return size, lines
}

func (r *Renderer) drawText(dc *gg.Context, lines []string, size float64) {
	dc.SetFontFace(r.face(size))
	lineH := size * 1.2
	cx := float64(r.opts.Width) / 2
	top := float64(r.opts.Height)/2 - lineH*float64(len(lines))/2 + lineH/2

	for i, line := range lines {
		y := top + float64(i)*lineH
		dc.SetColor(color.Black)
		for dy := -outlineWidth; dy <= outlineWidth; dy += outlineWidth {
			for dx := -outlineWidth; dx <= outlineWidth; dx += outlineWidth {
				if dx != 0 || dy != 0 {
					dc.DrawStringAnchored(line, cx+float64(dx), y+float64(dy), 0.5, 0.5)
				}
			}
		}
		dc.SetColor(r.text)
		dc.DrawStringAnchored(line, cx, y, 0.5, 0.5)
	}
}

func (r *Renderer) face(size float64) font.Face {
	return truetype.NewFace(r.font, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// EncodeJPEG renders the thumbnail as JPEG bytes.
func (r *Renderer) EncodeJPEG(text, topicID string) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, r.Render(text, topicID), &jpeg.Options{Quality: r.opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteJPEG renders to path atomically.
func (r *Renderer) WriteJPEG(path, text, topicID string) error {
	data, err := r.EncodeJPEG(text, topicID)
	if err != nil {
		return err
	}
	if err := artifacts.WriteBytes(path, data); err != nil {
		return err
	}
	r.logger.Info("thumbnail rendered", "topic", topicID, "bytes", len(data))
	return nil
}

func widest(dc *gg.Context, lines []string) float64 {
	var w float64
	for _, l := range lines {
		lw, _ := dc.MeasureString(l)
		w = max(w, lw)
	}
	return w
}

func parseHex(s string, fallback color.NRGBA) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return fallback, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 3 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	return color.NRGBA{raw[0], raw[1], raw[2], 255}, nil
}
