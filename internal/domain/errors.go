package domain

import "errors"

var (
	// ErrSourceMissing is recoverable: the caller substitutes the
	// category fallback asset.
	ErrSourceMissing = errors.New("source image missing")
	// ErrCacheCorrupt is recoverable: the entry is removed and the
	// derivative regenerated.
	ErrCacheCorrupt = errors.New("cache entry corrupt")
	// ErrGenerationFailed is recoverable: the caller serves the
	// untransformed source bytes.
	ErrGenerationFailed = errors.New("derivative generation failed")
	// ErrCacheUnavailable is fatal at startup; mid-run it degrades the
	// pipeline to direct generation without caching.
	ErrCacheUnavailable = errors.New("cache directory unavailable")
	// ErrPathTraversal is rejected outright, never resolved via fallback.
	ErrPathTraversal = errors.New("path escapes asset root")
	// ErrSourceTooLarge marks sources above the configured byte limit;
	// they are served unmodified, never transformed.
	ErrSourceTooLarge = errors.New("source image exceeds size limit")
)
