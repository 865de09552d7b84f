package derive

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

func writeJPEGFixture(t *testing.T, dir, name string, w, h int) *domain.SourceAsset {
	t.Helper()
	img := imaging.New(w, h, image.White.C)
	abs := filepath.Join(dir, name)
	if err := imaging.Save(img, abs, imaging.JPEGQuality(90)); err != nil {
		t.Fatalf("save fixture: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		t.Fatalf("stat fixture: %v", err)
	}
	return &domain.SourceAsset{
		LogicalPath: name,
		AbsPath:     abs,
		Size:        info.Size(),
		Format:      domain.FormatJPEG,
	}
}

func decodeDims(t *testing.T, data []byte) (int, int, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode derivative: %v", err)
	}
	return cfg.Width, cfg.Height, format
}

func testGenerator() *Generator {
	return NewGenerator(80, 4, 2, zerolog.Nop())
}

func TestGenerateResizesToBreakpointWidth(t *testing.T) {
	src := writeJPEGFixture(t, t.TempDir(), "hero.jpg", 1600, 900)
	spec := domain.SpecFor(domain.BreakpointMD, domain.FormatJPEG, 80, 4)

	data, err := testGenerator().Generate(context.Background(), src, spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	w, h, format := decodeDims(t, data)
	if w != 640 {
		t.Fatalf("width = %d, want 640", w)
	}
	// Aspect preserved: round(900 * 640/1600) = 360, ±1px tolerance.
	if h < 359 || h > 361 {
		t.Fatalf("height = %d, want 360±1", h)
	}
	if format != "jpeg" {
		t.Fatalf("format = %q, want jpeg", format)
	}
}

func TestGenerateNeverUpscales(t *testing.T) {
	src := writeJPEGFixture(t, t.TempDir(), "small.jpg", 200, 150)
	spec := domain.SpecFor(domain.BreakpointXL, domain.FormatJPEG, 80, 4)

	data, err := testGenerator().Generate(context.Background(), src, spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	w, h, _ := decodeDims(t, data)
	if w > 200 || h > 150 {
		t.Fatalf("derivative %dx%d exceeds native 200x150", w, h)
	}
}

func TestGenerateOriginalSizeReencode(t *testing.T) {
	src := writeJPEGFixture(t, t.TempDir(), "photo.jpg", 321, 123)
	spec := domain.SpecFor(domain.BreakpointNone, domain.FormatPNG, 80, 4)

	data, err := testGenerator().Generate(context.Background(), src, spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	w, h, format := decodeDims(t, data)
	if w != 321 || h != 123 {
		t.Fatalf("dimensions = %dx%d, want native 321x123", w, h)
	}
	if format != "png" {
		t.Fatalf("format = %q, want png", format)
	}
}

func TestGenerateIdempotentDimensions(t *testing.T) {
	src := writeJPEGFixture(t, t.TempDir(), "hero.jpg", 1600, 900)
	spec := domain.SpecFor(domain.BreakpointSM, domain.FormatJPEG, 80, 4)
	gen := testGenerator()

	first, err := gen.Generate(context.Background(), src, spec)
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	second, err := gen.Generate(context.Background(), src, spec)
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	w1, h1, f1 := decodeDims(t, first)
	w2, h2, f2 := decodeDims(t, second)
	if w1 != w2 || h1 != h2 || f1 != f2 {
		t.Fatalf("runs disagree: %dx%d %s vs %dx%d %s", w1, h1, f1, w2, h2, f2)
	}
}

func TestGenerateFailsOnUndecodableSource(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "broken.jpg")
	if err := os.WriteFile(abs, []byte("looks like a jpg, is not"), 0o644); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	src := &domain.SourceAsset{LogicalPath: "broken.jpg", AbsPath: abs}

	_, err := testGenerator().Generate(context.Background(), src, domain.SpecFor(domain.BreakpointMD, domain.FormatJPEG, 80, 4))
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}
}

func TestGenerateHonorsCancelledContext(t *testing.T) {
	src := writeJPEGFixture(t, t.TempDir(), "hero.jpg", 1600, 900)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testGenerator().Generate(ctx, src, domain.SpecFor(domain.BreakpointMD, domain.FormatJPEG, 80, 4))
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}
}

func TestGenerateSetProducesAllBreakpoints(t *testing.T) {
	src := writeJPEGFixture(t, t.TempDir(), "hero.jpg", 1600, 900)
	var specs []domain.DerivativeSpec
	for _, bp := range domain.Breakpoints() {
		specs = append(specs, domain.SpecFor(bp, domain.FormatJPEG, 80, 4))
	}

	out, err := testGenerator().GenerateSet(context.Background(), src, specs)
	if err != nil {
		t.Fatalf("GenerateSet: %v", err)
	}
	if len(out) != len(specs) {
		t.Fatalf("got %d outputs, want %d", len(out), len(specs))
	}
	wantWidths := map[domain.Breakpoint]int{
		domain.BreakpointSM: 320,
		domain.BreakpointMD: 640,
		domain.BreakpointLG: 1024,
		// xl exceeds the native width and clamps.
		domain.BreakpointXL: 1600,
	}
	for bp, want := range wantWidths {
		w, _, _ := decodeDims(t, out[bp])
		if w != want {
			t.Fatalf("%s width = %d, want %d", bp, w, want)
		}
	}
}

func TestGenerateRejectsUnknownTargetFormat(t *testing.T) {
	src := writeJPEGFixture(t, t.TempDir(), "hero.jpg", 100, 100)
	spec := domain.DerivativeSpec{Format: domain.Format("tiff"), Quality: 80}

	_, err := testGenerator().Generate(context.Background(), src, spec)
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}
}
