package imageprep

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gondigits/mnist"
)

func uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestPrepareOutputRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := 0; n < 20; n++ {
		img := image.NewRGBA(image.Rect(0, 0, 28, 28))
		for i := range img.Pix {
			img.Pix[i] = uint8(rng.Intn(256))
		}
		raw, err := Prepare(img)
		if err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		v := raw.Normalize()
		if len(v) != mnist.ImageSize {
			t.Fatalf("got %d values; want %d", len(v), mnist.ImageSize)
		}
		for i, x := range v {
			if x != 0 && x != 1 {
				t.Fatalf("value %d = %v; want 0 or 1 after binarization", i, x)
			}
		}
	}
}

func TestPrepareInvertsWhiteBackground(t *testing.T) {
	raw, err := Prepare(uniform(28, 28, color.White))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for i, b := range raw {
		if b != 0 {
			t.Fatalf("white pixel %d became %d; want 0", i, b)
		}
	}

	raw, err = Prepare(uniform(28, 28, color.Black))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for i, b := range raw {
		if b != 255 {
			t.Fatalf("black pixel %d became %d; want 255", i, b)
		}
	}
}

func TestPrepareKeepsRowOrder(t *testing.T) {
	img := uniform(28, 28, color.White)
	img.Set(3, 0, color.Black)
	img.Set(0, 2, color.Black)
	raw, err := Prepare(img)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for i, b := range raw {
		want := byte(0)
		if i == 3 || i == 2*28 {
			want = 255
		}
		if b != want {
			t.Errorf("pixel %d = %d; want %d", i, b, want)
		}
	}
}

func TestGrayscaleLuma(t *testing.T) {
	g := Grayscale(uniform(1, 1, color.RGBA{R: 200, G: 100, B: 50, A: 255}))
	// 200*0.299 + 100*0.587 + 50*0.114 = 124.2
	if got := g.GrayAt(0, 0).Y; got != 124 {
		t.Errorf("luma = %d; want 124", got)
	}
}

func TestGrayscaleRounds(t *testing.T) {
	tests := []struct {
		c    color.NRGBA
		want uint8
	}{
		// 127.886 rounds up; truncation would give 127.
		{color.NRGBA{R: 128, G: 128, B: 127, A: 255}, 128},
		{color.NRGBA{R: 255, G: 255, B: 255, A: 255}, 255},
		{color.NRGBA{R: 0, G: 0, B: 0, A: 255}, 0},
		// 76.245 rounds down.
		{color.NRGBA{R: 255, A: 255}, 76},
	}
	for _, tt := range tests {
		img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
		img.SetNRGBA(0, 0, tt.c)
		if got := Grayscale(img).GrayAt(0, 0).Y; got != tt.want {
			t.Errorf("Grayscale(%v) = %d; want %d", tt.c, got, tt.want)
		}
	}
}

func TestPrepareNearThreshold(t *testing.T) {
	// Luma 128 inverts to 127, just below the ink threshold.
	raw, err := Prepare(uniform(28, 28, color.NRGBA{R: 128, G: 128, B: 127, A: 255}))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if raw[0] != 0 {
		t.Errorf("pixel = %d; want 0", raw[0])
	}
}

func TestPrepareRejectsWrongSize(t *testing.T) {
	for _, size := range [][2]int{{27, 28}, {28, 29}, {56, 56}} {
		if _, err := Prepare(uniform(size[0], size[1], color.White)); err == nil {
			t.Errorf("Prepare accepted a %dx%d image", size[0], size[1])
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.png")
	writePNG(t, path, uniform(28, 28, color.White))
	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(v) != mnist.ImageSize {
		t.Fatalf("got %d values; want %d", len(v), mnist.ImageSize)
	}

	if _, err := Load(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("Load of a missing file did not return error")
	}
	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("Load of an undecodable file did not return error")
	}
}

func TestRender(t *testing.T) {
	v := make([]float64, mnist.ImageSize)
	v[0] = 1
	var buf bytes.Buffer
	if err := Render(&buf, v); err != nil {
		t.Fatalf("Render: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != mnist.ImgSize {
		t.Fatalf("rendered %d lines; want %d", len(lines), mnist.ImgSize)
	}
	if lines[0][0] != '@' || lines[0][1] != ' ' {
		t.Errorf("first line = %q", lines[0])
	}
	if err := Render(&buf, v[:10]); err == nil {
		t.Error("Render accepted 10 values")
	}
}

func TestSavePNG(t *testing.T) {
	v := make([]float64, mnist.ImageSize)
	v[5] = 1
	path := filepath.Join(t.TempDir(), "preview.png")
	if err := SavePNG(path, v); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if img.Bounds().Dx() != 28 || img.Bounds().Dy() != 28 {
		t.Fatalf("preview is %v", img.Bounds())
	}
	if g := color.GrayModel.Convert(img.At(5, 0)).(color.Gray); g.Y != 0 {
		t.Errorf("ink pixel = %d; want 0", g.Y)
	}
	if g := color.GrayModel.Convert(img.At(6, 0)).(color.Gray); g.Y != 255 {
		t.Errorf("background pixel = %d; want 255", g.Y)
	}
}
