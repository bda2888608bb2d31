package ml

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// writePNG writes a small gradient image so patches differ from each other.
func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) * 255 / (w + h)),
				A: 255,
			})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestImageEncoderShapes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grad.png")
	writePNG(t, path, 100, 60)

	enc, err := MakeImageEncoder(24, 32, 8, 1)
	if err != nil {
		t.Fatal(err)
	}
	in, err := enc.Preprocess(path)
	if err != nil {
		t.Fatal(err)
	}
	seq, err := enc.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	// 32/8 = 4 patches per side
	if r, c := seq.Dims(); r != 16 || c != 24 {
		t.Errorf("dims (%d,%d), want (16,24)", r, c)
	}
}

func TestImageEncoderNormalizesPixels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grad.png")
	writePNG(t, path, 40, 40)

	enc, err := MakeImageEncoder(8, 16, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	in, err := enc.Preprocess(path)
	if err != nil {
		t.Fatal(err)
	}
	ii, ok := in.(imageInput)
	if !ok {
		t.Fatalf("unexpected input type %T", in)
	}
	r, _ := ii.pixels.Dims()
	if r != 16*16 {
		t.Fatalf("pixel rows %d, want %d", r, 16*16)
	}
	for i := 0; i < r; i++ {
		for _, v := range ii.pixels.RawRowView(i) {
			if v < -1 || v > 1 {
				t.Fatalf("pixel value %g outside [-1,1]", v)
			}
		}
	}
}

func TestImageEncoderErrors(t *testing.T) {
	dir := t.TempDir()
	enc, _ := MakeImageEncoder(8, 16, 4, 1)

	if _, err := enc.Preprocess(filepath.Join(dir, "missing.png")); !errors.Is(err, ErrInputFormat) {
		t.Errorf("missing file: %v", err)
	}

	garbage := filepath.Join(dir, "garbage.png")
	if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Preprocess(garbage); !errors.Is(err, ErrInputFormat) {
		t.Errorf("garbage file: %v", err)
	}

	if _, err := enc.Encode(42); !errors.Is(err, ErrEncoder) {
		t.Errorf("foreign input type: %v", err)
	}
}

func TestImageEncoderConfig(t *testing.T) {
	if _, err := MakeImageEncoder(8, 30, 16, 1); !errors.Is(err, ErrConfig) {
		t.Error("size not divisible by patch accepted")
	}
	if _, err := MakeImageEncoder(0, 32, 8, 1); !errors.Is(err, ErrConfig) {
		t.Error("zero width accepted")
	}
}

func TestImageEncoderDeterminism(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grad.png")
	writePNG(t, path, 64, 64)

	a, _ := MakeImageEncoder(8, 16, 4, 33)
	b, _ := MakeImageEncoder(8, 16, 4, 33)
	ia, err := a.Preprocess(path)
	if err != nil {
		t.Fatal(err)
	}
	ib, _ := b.Preprocess(path)
	sa, _ := a.Encode(ia)
	sb, _ := b.Encode(ib)
	if !mat.EqualApprox(sa, sb, 0) {
		t.Error("same seed produced different features")
	}
}
