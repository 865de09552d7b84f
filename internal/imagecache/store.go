package imagecache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Store is a flat directory-backed key→file cache for generated
// derivatives. The root is created and probed for writability exactly once,
// at construction; request-path code never creates directories. No other
// component writes under the root.
type Store struct {
	root   string
	logger zerolog.Logger
}

// NewStore initializes the cache root: creates it recursively, then
// verifies writability with a throwaway probe file. A root that cannot be
// made writable is reported as domain.ErrCacheUnavailable and should be
// treated as fatal at startup.
func NewStore(root string, logger zerolog.Logger) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("%w: cache root is required", domain.ErrCacheUnavailable)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: ensure cache root: %v", domain.ErrCacheUnavailable, err)
	}
	probe := filepath.Join(root, ".writecheck-"+uuid.NewString())
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return nil, fmt.Errorf("%w: cache root not writable: %v", domain.ErrCacheUnavailable, err)
	}
	_ = os.Remove(probe)
	return &Store{root: root, logger: logger}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Exists reports whether an entry is present for the key. It does not
// validate the entry's content.
func (s *Store) Exists(key string) bool {
	p, err := s.entryPath(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the raw bytes stored for the key. A missing entry is
// reported via fs.ErrNotExist.
func (s *Store) Read(key string) ([]byte, error) {
	p, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cache read %q: %w", key, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("cache read %q: %w", key, err)
	}
	return data, nil
}

// ReadValid returns the entry only if it decodes as an image. A present
// but undecodable entry is removed so the next lookup regenerates instead
// of repeatedly serving bad bytes, and the call reports
// domain.ErrCacheCorrupt.
func (s *Store) ReadValid(key string) ([]byte, error) {
	data, err := s.Read(key)
	if err != nil {
		return nil, err
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		s.logger.Warn().Str("key", key).Err(err).Msg("removing corrupt cache entry")
		if p, perr := s.entryPath(key); perr == nil {
			_ = os.Remove(p)
		}
		return nil, fmt.Errorf("cache entry %q: %w", key, domain.ErrCacheCorrupt)
	}
	return data, nil
}

// Write stores the bytes under the key. The data lands in a uniquely
// named temp file first and is renamed into place, so concurrent lookups
// never observe a partial entry and concurrent writers for the same key
// simply race to an equivalent result (last writer wins).
func (s *Store) Write(key string, data []byte) error {
	p, err := s.entryPath(key)
	if err != nil {
		return err
	}
	tmp := p + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: cache write %q: %v", domain.ErrCacheUnavailable, key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: cache publish %q: %v", domain.ErrCacheUnavailable, key, err)
	}
	return nil
}

// entryPath maps a key to its location under the root, rejecting keys
// that would escape it. The cache namespace is flat.
func (s *Store) entryPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("cache: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	cleaned := filepath.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || strings.ContainsRune(cleaned, '/') {
		return "", fmt.Errorf("cache: invalid key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}
