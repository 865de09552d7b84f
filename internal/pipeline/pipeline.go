// Package pipeline sequences image delivery: resolve the source,
// negotiate the output format, look up the derivative cache, generate on
// miss, and degrade step by step when anything fails. In-scope image
// requests always yield servable bytes; only configuration-level problems
// surface as errors.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"server/internal/derive"
	"server/internal/domain"
	"server/internal/imagecache"
	"server/internal/negotiate"
	"server/internal/resolver"
)

// Origin records which terminal state produced the response bytes.
type Origin string

const (
	OriginCache     Origin = "cache"
	OriginGenerated Origin = "generated"
	OriginOriginal  Origin = "original"
	OriginFallback  Origin = "fallback"
)

// Request is one image delivery request.
type Request struct {
	// Path is the logical asset path relative to the asset root.
	Path string
	// Accept is the client's Accept header; it drives format negotiation.
	Accept string
	// Size selects a breakpoint; empty means original size, re-encoded.
	Size domain.Breakpoint
}

// Result is a servable response: bytes plus a content type, always.
type Result struct {
	Data        []byte
	ContentType string
	Origin      Origin
}

// Options carries the fixed encode settings and the per-request time
// budget.
type Options struct {
	Quality        int
	Effort         int
	DeliverTimeout time.Duration
}

// Pipeline is the delivery orchestrator. Construct with New, call
// Initialize once before serving, and share one instance across request
// goroutines; Deliver is safe for concurrent use.
type Pipeline struct {
	resolver  *resolver.Resolver
	store     *imagecache.Store
	generator *derive.Generator
	opts      Options
	logger    zerolog.Logger

	group    singleflight.Group
	initOnce sync.Once
	initErr  error
	closed   atomic.Bool
}

// New wires the pipeline components together. Nothing touches the
// filesystem until Initialize.
func New(res *resolver.Resolver, store *imagecache.Store, gen *derive.Generator, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = time.Minute
	}
	return &Pipeline{
		resolver:  res,
		store:     store,
		generator: gen,
		opts:      opts,
		logger:    logger,
	}
}

// Initialize verifies the fallback catalog. It runs its checks exactly
// once no matter how many callers race into it; the cache root itself was
// already created and probed when the store was constructed.
func (p *Pipeline) Initialize() error {
	p.initOnce.Do(func() {
		p.initErr = p.resolver.CheckFallbacks()
	})
	return p.initErr
}

// Shutdown stops the pipeline accepting new deliveries. In-flight work
// finishes on its own; abandoned generations leave nothing visible in the
// cache because writes publish via rename.
func (p *Pipeline) Shutdown() {
	p.closed.Store(true)
}

// ErrShutdown is returned for deliveries after Shutdown.
var ErrShutdown = errors.New("pipeline shut down")

// attempt is one rung of the degradation ladder. recoverOn reports
// whether a failure of this attempt should fall through to the next one;
// errors it does not claim are returned to the caller as-is.
type attempt struct {
	name      string
	run       func(ctx context.Context) (*Result, error)
	recoverOn func(error) bool
}

// Deliver serves one image request. The ladder is: cached or freshly
// generated derivative, then the untransformed source bytes, then the
// category fallback asset. Path traversal is the one per-request error
// that is rejected instead of degraded.
func (p *Pipeline) Deliver(ctx context.Context, req Request) (*Result, error) {
	if p.closed.Load() {
		return nil, ErrShutdown
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.DeliverTimeout)
	defer cancel()

	src, resolveErr := p.resolver.Resolve(req.Path)
	if errors.Is(resolveErr, domain.ErrPathTraversal) {
		return nil, resolveErr
	}

	var attempts []attempt
	switch {
	case errors.Is(resolveErr, domain.ErrSourceMissing):
		p.logger.Warn().Str("path", req.Path).Msg("source missing, serving fallback")
		attempts = []attempt{p.fallbackAttempt(req.Path)}
	case errors.Is(resolveErr, domain.ErrSourceTooLarge):
		p.logger.Warn().Str("path", req.Path).Int64("bytes", src.Size).Msg("source exceeds size limit, serving unmodified")
		attempts = []attempt{p.originalAttempt(src), p.fallbackAttempt(req.Path)}
	case resolveErr != nil:
		return nil, resolveErr
	default:
		attempts = []attempt{p.derivativeAttempt(src, req), p.originalAttempt(src), p.fallbackAttempt(req.Path)}
	}

	var err error
	for _, a := range attempts {
		var res *Result
		res, err = a.run(ctx)
		if err == nil {
			return res, nil
		}
		if a.recoverOn == nil || !a.recoverOn(err) {
			return nil, err
		}
		p.logger.Warn().Str("path", req.Path).Str("attempt", a.name).Err(err).Msg("degrading to next delivery attempt")
	}
	// Both the source and the fallback were unreachable: a configuration
	// error, not an asset problem.
	return nil, fmt.Errorf("deliver %q: no servable bytes: %w", req.Path, err)
}

// derivativeAttempt covers cache lookup and generation-on-miss. A failed
// cache write is absorbed: the request is still served from the freshly
// generated bytes, the pipeline just ran uncached for this entry.
func (p *Pipeline) derivativeAttempt(src *domain.SourceAsset, req Request) attempt {
	return attempt{
		name: "derivative",
		run: func(ctx context.Context) (*Result, error) {
			target := negotiate.Target(req.Accept, src.Format)
			spec := domain.SpecFor(req.Size, target, p.opts.Quality, p.opts.Effort)
			key := imagecache.Key(src.LogicalPath, spec)

			data, err := p.store.ReadValid(key)
			if err == nil {
				return &Result{Data: data, ContentType: target.MIME(), Origin: OriginCache}, nil
			}
			if errors.Is(err, domain.ErrCacheCorrupt) {
				p.logger.Warn().Str("key", key).Msg("regenerating corrupt cache entry")
			}

			data, err = p.generateAndCache(ctx, src, spec, key)
			if err != nil {
				return nil, err
			}
			return &Result{Data: data, ContentType: target.MIME(), Origin: OriginGenerated}, nil
		},
		recoverOn: func(err error) bool {
			// A deadline hit during generation degrades the same way a
			// decode failure does.
			return errors.Is(err, domain.ErrGenerationFailed) || errors.Is(err, context.DeadlineExceeded)
		},
	}
}

func (p *Pipeline) originalAttempt(src *domain.SourceAsset) attempt {
	return attempt{
		name: "original",
		run: func(ctx context.Context) (*Result, error) {
			data, err := resolver.ReadSource(src)
			if err != nil {
				return nil, err
			}
			return &Result{Data: data, ContentType: contentTypeFor(src.Format, data), Origin: OriginOriginal}, nil
		},
		recoverOn: func(err error) bool {
			return errors.Is(err, domain.ErrSourceMissing)
		},
	}
}

// fallbackAttempt is the last rung: serve the category fallback asset
// raw, never transformed or cached.
func (p *Pipeline) fallbackAttempt(logicalPath string) attempt {
	return attempt{
		name: "fallback",
		run: func(ctx context.Context) (*Result, error) {
			asset, err := p.resolver.Fallback(resolver.CategoryForPath(logicalPath))
			if err != nil {
				return nil, err
			}
			data, err := resolver.ReadSource(asset)
			if err != nil {
				return nil, err
			}
			return &Result{Data: data, ContentType: contentTypeFor(asset.Format, data), Origin: OriginFallback}, nil
		},
	}
}

// generateAndCache runs the generator under per-key request coalescing:
// concurrent misses for one key share a single generation. Writes are
// idempotent and overwrite safe, so the cache also tolerates the
// uncoalesced race.
func (p *Pipeline) generateAndCache(ctx context.Context, src *domain.SourceAsset, spec domain.DerivativeSpec, key string) ([]byte, error) {
	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		data, err := p.generator.Generate(ctx, src, spec)
		if err != nil {
			p.logger.Error().Str("path", src.LogicalPath).Str("key", key).
				Int("width", spec.Width).Str("format", string(spec.Format)).
				Err(err).Msg("derivative generation failed")
			return nil, err
		}
		if werr := p.store.Write(key, data); werr != nil {
			p.logger.Warn().Str("key", key).Err(werr).Msg("cache write failed, serving uncached")
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// WarmSet generates and caches the full breakpoint set for one source in
// the given target format, sharing a single decode. Already-valid entries
// are not regenerated.
func (p *Pipeline) WarmSet(ctx context.Context, logicalPath string, target domain.Format) ([]string, error) {
	if p.closed.Load() {
		return nil, ErrShutdown
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.DeliverTimeout)
	defer cancel()

	src, err := p.resolver.Resolve(logicalPath)
	if err != nil {
		return nil, err
	}
	if target == "" {
		target = src.Format
	}

	var specs []domain.DerivativeSpec
	var keys []string
	for _, bp := range domain.Breakpoints() {
		spec := domain.SpecFor(bp, target, p.opts.Quality, p.opts.Effort)
		key := imagecache.Key(src.LogicalPath, spec)
		if _, err := p.store.ReadValid(key); err == nil {
			keys = append(keys, key)
			continue
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return keys, nil
	}

	outputs, err := p.generator.GenerateSet(ctx, src, specs)
	if err != nil {
		return keys, err
	}
	for _, spec := range specs {
		key := imagecache.Key(src.LogicalPath, spec)
		if err := p.store.Write(key, outputs[spec.Breakpoint]); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// contentTypeFor prefers the sniffed source format and falls back to
// stdlib detection for bytes that are not a supported image.
func contentTypeFor(format domain.Format, data []byte) string {
	if format != "" {
		return format.MIME()
	}
	return http.DetectContentType(data)
}
