package thumbnail

import (
	"bytes"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fogleman/gg"
)

func TestRender_SizeAndAccent(t *testing.T) {
	r, err := New(Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	img := r.Render("octopus hearts", "listicle")
	if b := img.Bounds(); b.Dx() != 1280 || b.Dy() != 720 {
		t.Fatalf("bounds = %v", b)
	}
	got := color.NRGBAModel.Convert(img.At(2, 360)).(color.NRGBA)
	if got != AccentColor("listicle") {
		t.Errorf("frame color = %v, want %v", got, AccentColor("listicle"))
	}
}

func TestWriteJPEG(t *testing.T) {
	r, err := New(Options{Width: 640, Height: 360, Quality: 90}, nil)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "thumbnail.jpg")
	if err := r.WriteJPEG(path, "Three Hearts", "ai_news"); err != nil {
		t.Fatalf("WriteJPEG error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a JPEG: %v", err)
	}
	if cfg.Width != 640 || cfg.Height != 360 {
		t.Errorf("size = %dx%d", cfg.Width, cfg.Height)
	}
}

func TestLayout_ShrinksLongText(t *testing.T) {
	r, err := New(Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	dc := gg.NewContext(1280, 720)

	size, lines := r.layout(dc, "SHORT")
	if size != defaultFontSize || len(lines) != 1 {
		t.Errorf("short text: size %v, lines %v", size, lines)
	}

	long := strings.Repeat("EXTRAORDINARY DISCOVERY ", 12)
	size, lines = r.layout(dc, long)
	if size >= defaultFontSize || len(lines) > maxLines {
		t.Errorf("long text: size %v, %d lines", size, len(lines))
	}
}

func TestAccentColor_Default(t *testing.T) {
	if AccentColor("unknown") != defaultAccent {
		t.Error("unknown topic should use the default accent")
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"#1E1E1E", color.NRGBA{30, 30, 30, 255}, false},
		{"ff0000", color.NRGBA{255, 0, 0, 255}, false},
		{"", color.NRGBA{1, 2, 3, 255}, false},
		{"#12345", color.NRGBA{}, true},
		{"zzzzzz", color.NRGBA{}, true},
	}
	for _, tt := range tests {
		got, err := parseHex(tt.in, color.NRGBA{1, 2, 3, 255})
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseHex(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNew_BadFontPath(t *testing.T) {
	if _, err := New(Options{FontPath: "/nonexistent/font.ttf"}, nil); err == nil {
		t.Error("expected error for missing font")
	}
}
