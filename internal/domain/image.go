package domain

import (
	"fmt"
	"image"
	"io"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Format enumerates the image formats the pipeline can read and write.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
)

// MIME returns the content type served for this format.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Ext returns the file extension (without dot) used in cache keys.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// FormatFromExt maps a file extension (with or without leading dot,
// any case) to a Format. ok is false for unsupported extensions.
func FormatFromExt(ext string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "gif":
		return FormatGIF, true
	case "webp":
		return FormatWebP, true
	}
	return "", false
}

// SniffFormat detects the format from content, not the file name. The
// reader is consumed up to the image header.
func SniffFormat(r io.Reader) (Format, error) {
	_, name, err := image.DecodeConfig(r)
	if err != nil {
		return "", fmt.Errorf("sniff image format: %w", err)
	}
	f, ok := FormatFromExt(name)
	if !ok {
		return "", fmt.Errorf("sniff image format: unsupported format %q", name)
	}
	return f, nil
}

// Breakpoint is a named responsive target width.
type Breakpoint string

const (
	BreakpointNone Breakpoint = ""
	BreakpointSM   Breakpoint = "sm"
	BreakpointMD   Breakpoint = "md"
	BreakpointLG   Breakpoint = "lg"
	BreakpointXL   Breakpoint = "xl"
)

// breakpointWidths fixes the responsive width set. The empty breakpoint
// means "original size, re-encoded".
var breakpointWidths = map[Breakpoint]int{
	BreakpointSM: 320,
	BreakpointMD: 640,
	BreakpointLG: 1024,
	BreakpointXL: 1920,
}

// Breakpoints lists all named breakpoints from narrowest to widest.
func Breakpoints() []Breakpoint {
	return []Breakpoint{BreakpointSM, BreakpointMD, BreakpointLG, BreakpointXL}
}

// Width returns the target width for the breakpoint, 0 for the original
// size variant.
func (b Breakpoint) Width() int {
	return breakpointWidths[b]
}

// ParseBreakpoint validates a client-supplied size label. The empty
// string is valid and selects the original size variant.
func ParseBreakpoint(s string) (Breakpoint, bool) {
	b := Breakpoint(strings.ToLower(strings.TrimSpace(s)))
	if b == BreakpointNone {
		return BreakpointNone, true
	}
	if _, ok := breakpointWidths[b]; !ok {
		return BreakpointNone, false
	}
	return b, true
}

// SourceAsset is a resolved, readable original image. Created externally;
// read-only to the pipeline.
type SourceAsset struct {
	LogicalPath string
	AbsPath     string
	Size        int64
	Format      Format
}

// DerivativeSpec describes one derivative of a source asset. Height 0
// means "derive from the source aspect ratio". Width 0 together with
// BreakpointNone means the original size, re-encoded.
type DerivativeSpec struct {
	Width      int
	Height     int
	Breakpoint Breakpoint
	Format     Format
	Quality    int
	Effort     int
}

// SpecFor builds the derivative spec for a breakpoint at the pipeline's
// fixed quality and effort settings.
func SpecFor(bp Breakpoint, format Format, quality, effort int) DerivativeSpec {
	return DerivativeSpec{
		Width:      bp.Width(),
		Breakpoint: bp,
		Format:     format,
		Quality:    quality,
		Effort:     effort,
	}
}
