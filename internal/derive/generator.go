package derive

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"server/internal/domain"
)

// Generator resizes and re-encodes source images. Encoding is CPU bound,
// so concurrent work is capped by a weighted semaphore; a slow or large
// image then cannot monopolize the process.
type Generator struct {
	quality int
	effort  int
	sem     *semaphore.Weighted
	logger  zerolog.Logger
}

// NewGenerator builds a Generator with fixed quality (0–100) and
// compression effort settings. maxConcurrent bounds simultaneous
// encode/decode work.
func NewGenerator(quality, effort int, maxConcurrent int64, logger zerolog.Logger) *Generator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Generator{
		quality: quality,
		effort:  effort,
		sem:     semaphore.NewWeighted(maxConcurrent),
		logger:  logger,
	}
}

// Generate produces one derivative. The source is decoded with EXIF
// orientation applied, resized to fit inside the spec's target box without
// enlargement, and re-encoded in the spec's format. Metadata does not
// survive re-encoding. Decode and encode failures are reported as
// domain.ErrGenerationFailed.
func (g *Generator) Generate(ctx context.Context, src *domain.SourceAsset, spec domain.DerivativeSpec) ([]byte, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	defer g.sem.Release(1)

	img, err := g.decode(src)
	if err != nil {
		return nil, err
	}
	return g.renderOne(ctx, img, spec)
}

// GenerateSet produces one derivative per spec from a single decode of
// the shared source. Specs typically cover a full breakpoint set for
// responsive delivery.
func (g *Generator) GenerateSet(ctx context.Context, src *domain.SourceAsset, specs []domain.DerivativeSpec) (map[domain.Breakpoint][]byte, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	defer g.sem.Release(1)

	img, err := g.decode(src)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Breakpoint][]byte, len(specs))
	for _, spec := range specs {
		data, err := g.renderOne(ctx, img, spec)
		if err != nil {
			return nil, err
		}
		out[spec.Breakpoint] = data
	}
	return out, nil
}

// decode loads the source with orientation normalization. AutoOrientation
// bakes the EXIF rotation into the pixels, so derivatives display
// correctly regardless of camera metadata.
func (g *Generator) decode(src *domain.SourceAsset) (image.Image, error) {
	f, err := os.Open(src.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrGenerationFailed, src.LogicalPath, err)
	}
	defer f.Close()
	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrGenerationFailed, src.LogicalPath, err)
	}
	return img, nil
}

func (g *Generator) renderOne(ctx context.Context, img image.Image, spec domain.DerivativeSpec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	resized := resizeFit(img, spec)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	data, err := g.encode(resized, spec)
	if err != nil {
		return nil, err
	}
	b := resized.Bounds()
	g.logger.Debug().
		Int("width", b.Dx()).Int("height", b.Dy()).
		Str("format", string(spec.Format)).Int("bytes", len(data)).
		Msg("derivative rendered")
	return data, nil
}

// resizeFit applies the "fit inside, never enlarge" policy. A zero target
// width means the original-size re-encode variant. An omitted height is
// derived from the source aspect ratio.
func resizeFit(img image.Image, spec domain.DerivativeSpec) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	targetW := spec.Width
	if targetW <= 0 || targetW > srcW {
		targetW = srcW
	}
	targetH := spec.Height
	if targetH <= 0 {
		targetH = srcH
	} else if targetH > srcH {
		targetH = srcH
	}
	if targetW == srcW && targetH == srcH {
		return img
	}
	return imaging.Fit(img, targetW, targetH, imaging.Lanczos)
}

func (g *Generator) encode(img image.Image, spec domain.DerivativeSpec) ([]byte, error) {
	var buf bytes.Buffer
	switch spec.Format {
	case domain.FormatWebP:
		opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(g.quality))
		if err != nil {
			return nil, fmt.Errorf("%w: webp options: %v", domain.ErrGenerationFailed, err)
		}
		opts.Method = g.effort
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("%w: encode webp: %v", domain.ErrGenerationFailed, err)
		}
	case domain.FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
			return nil, fmt.Errorf("%w: encode jpeg: %v", domain.ErrGenerationFailed, err)
		}
	case domain.FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("%w: encode png: %v", domain.ErrGenerationFailed, err)
		}
	case domain.FormatGIF:
		if err := imaging.Encode(&buf, img, imaging.GIF); err != nil {
			return nil, fmt.Errorf("%w: encode gif: %v", domain.ErrGenerationFailed, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported target format %q", domain.ErrGenerationFailed, spec.Format)
	}
	return buf.Bytes(), nil
}
