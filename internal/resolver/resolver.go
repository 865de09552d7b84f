// Package resolver maps logical image paths to files under the asset
// root and supplies the per-category fallback assets.
package resolver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Category labels the content class of a requested image; each category
// has its own fallback asset.
type Category string

const (
	CategoryGeneric Category = "generic"
	CategoryProject Category = "project"
	CategoryTeam    Category = "team-member"
	CategoryAbout   Category = "about"
)

// fallbackPaths are fixed relative paths under the asset root, one per
// category. Missing category files degrade to the generic fallback at
// lookup time.
var fallbackPaths = map[Category]string{
	CategoryGeneric: "fallback/image-fallback.png",
	CategoryProject: "fallback/project-fallback.png",
	CategoryTeam:    "fallback/team-member-fallback.png",
	CategoryAbout:   "fallback/about-fallback.png",
}

// Resolver validates logical paths against the asset root.
type Resolver struct {
	assetRoot      string
	maxSourceBytes int64
	logger         zerolog.Logger
}

// New builds a Resolver rooted at assetRoot. Sources larger than
// maxSourceBytes resolve with ErrSourceTooLarge so callers can skip
// transformation.
func New(assetRoot string, maxSourceBytes int64, logger zerolog.Logger) (*Resolver, error) {
	assetRoot = strings.TrimSpace(assetRoot)
	if assetRoot == "" {
		return nil, errors.New("resolver: asset root is required")
	}
	abs, err := filepath.Abs(assetRoot)
	if err != nil {
		return nil, fmt.Errorf("resolver: resolve asset root: %w", err)
	}
	return &Resolver{assetRoot: abs, maxSourceBytes: maxSourceBytes, logger: logger}, nil
}

// Resolve maps a logical request path to a readable source asset.
// Traversal outside the asset root is rejected with ErrPathTraversal;
// a missing or unreadable file reports ErrSourceMissing. The returned
// asset's format is sniffed from content, not taken from the extension.
func (r *Resolver) Resolve(logical string) (*domain.SourceAsset, error) {
	rel, err := sanitizeLogicalPath(logical)
	if err != nil {
		return nil, err
	}
	abs := filepath.Join(r.assetRoot, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("resolve %q: %w", logical, domain.ErrSourceMissing)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", logical, domain.ErrSourceMissing)
	}
	defer f.Close()

	format, err := domain.SniffFormat(f)
	if err != nil {
		// Unreadable as an image; still resolvable so the caller can
		// decide how to degrade.
		format = ""
	}

	asset := &domain.SourceAsset{
		LogicalPath: rel,
		AbsPath:     abs,
		Size:        info.Size(),
		Format:      format,
	}
	if r.maxSourceBytes > 0 && info.Size() > r.maxSourceBytes {
		return asset, fmt.Errorf("resolve %q (%d bytes): %w", logical, info.Size(), domain.ErrSourceTooLarge)
	}
	return asset, nil
}

// Fallback resolves the fallback asset for a category, degrading to the
// generic fallback when the category file is absent.
func (r *Resolver) Fallback(category Category) (*domain.SourceAsset, error) {
	rel, ok := fallbackPaths[category]
	if !ok {
		rel = fallbackPaths[CategoryGeneric]
	}
	asset, err := r.Resolve(rel)
	if err == nil {
		return asset, nil
	}
	if category != CategoryGeneric {
		r.logger.Warn().Str("category", string(category)).Msg("category fallback missing, using generic")
		return r.Resolve(fallbackPaths[CategoryGeneric])
	}
	return nil, err
}

// CheckFallbacks verifies the fallback catalog at startup. A missing
// generic fallback is a configuration error; missing category files only
// log, since lookups degrade to generic.
func (r *Resolver) CheckFallbacks() error {
	for category, rel := range fallbackPaths {
		abs := filepath.Join(r.assetRoot, filepath.FromSlash(rel))
		if _, err := os.Stat(abs); err != nil {
			if category == CategoryGeneric {
				return fmt.Errorf("resolver: generic fallback %q unavailable: %w", rel, err)
			}
			r.logger.Warn().Str("category", string(category)).Str("path", rel).Msg("fallback asset missing")
		}
	}
	return nil
}

// CategoryForPath classifies a logical path by its first segment.
func CategoryForPath(logical string) Category {
	logical = strings.TrimLeft(strings.ReplaceAll(logical, "\\", "/"), "/")
	segment, _, _ := strings.Cut(logical, "/")
	switch strings.ToLower(segment) {
	case "projects", "project":
		return CategoryProject
	case "team", "team-members":
		return CategoryTeam
	case "about", "hero":
		return CategoryAbout
	}
	return CategoryGeneric
}

// sanitizeLogicalPath normalizes a logical path and rejects escapes from
// the asset root.
func sanitizeLogicalPath(logical string) (string, error) {
	p := strings.TrimSpace(logical)
	if p == "" {
		return "", fmt.Errorf("resolve empty path: %w", domain.ErrSourceMissing)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("resolve %q: %w", logical, domain.ErrPathTraversal)
	}
	return cleaned, nil
}

// ReadSource returns the raw bytes of a resolved asset, for serving a
// source unmodified.
func ReadSource(asset *domain.SourceAsset) ([]byte, error) {
	data, err := os.ReadFile(asset.AbsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %q: %w", asset.LogicalPath, domain.ErrSourceMissing)
		}
		return nil, fmt.Errorf("read %q: %w", asset.LogicalPath, err)
	}
	return data, nil
}
