// Package negotiate decides the target format for a derivative from the
// client's declared capabilities.
package negotiate

import (
	"strings"

	"server/internal/domain"
)

// Target picks WebP when the Accept header lists it, otherwise the
// source's native format. The decision is binary: no q-value handling,
// and an absent or unparseable header keeps the native format.
func Target(acceptHeader string, native domain.Format) domain.Format {
	if SupportsWebP(acceptHeader) {
		return domain.FormatWebP
	}
	return native
}

// SupportsWebP reports whether the Accept header declares image/webp.
func SupportsWebP(acceptHeader string) bool {
	for _, part := range strings.Split(acceptHeader, ",") {
		mediaType := part
		if i := strings.IndexByte(part, ';'); i >= 0 {
			mediaType = part[:i]
		}
		if strings.EqualFold(strings.TrimSpace(mediaType), "image/webp") {
			return true
		}
	}
	return false
}
