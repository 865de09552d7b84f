package imagecache

import (
	"path"
	"strings"

	"server/internal/domain"
)

// Key derives the cache file name for one derivative of a source image.
// The scheme is <source-basename-without-ext>[-<breakpoint>].<format-ext>;
// the original-size variant carries no breakpoint suffix. Keys derive from
// the logical path, not the content: replacing a source in place without
// renaming it requires external cache busting.
func Key(sourcePath string, spec domain.DerivativeSpec) string {
	base := path.Base(strings.ReplaceAll(sourcePath, "\\", "/"))
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if spec.Breakpoint != domain.BreakpointNone {
		base += "-" + string(spec.Breakpoint)
	}
	return base + "." + spec.Format.Ext()
}
