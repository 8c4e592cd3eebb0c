package blurb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriskillpack/blurb/captioner"
	"github.com/chriskillpack/blurb/internal/cache"
	"github.com/chriskillpack/blurb/internal/metrics"
	"golang.org/x/time/rate"
)

// LoadFunc constructs the captioner. It is called lazily by the Generator.
type LoadFunc func(ctx context.Context) (captioner.Captioner, error)

type GeneratorOptions struct {
	Load    LoadFunc
	Presets captioner.Presets
	Device  Device

	Cache    cache.Store // nil disables caching
	CacheTTL time.Duration

	Limiter *rate.Limiter // nil disables rate limiting
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Caption is a generated caption.
type Caption struct {
	Text      string
	Mode      captioner.Mode
	Captioner string
	Model     string
	Cached    bool
	Duration  time.Duration
}

// Generator turns images into captions. The underlying captioner is created
// on the first call to Generate and reused for the life of the Generator.
type Generator struct {
	opts   GeneratorOptions
	logger *slog.Logger

	loadMu sync.Mutex
	handle atomic.Pointer[loaded]

	presetsMu sync.RWMutex
	presets   captioner.Presets
}

type loaded struct {
	captioner.Captioner
}

// NewGenerator returns a Generator. Nothing is loaded until the first caption
// is requested.
func NewGenerator(opts GeneratorOptions) *Generator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		opts:    opts,
		logger:  logger,
		presets: opts.Presets,
	}
}

// captioner returns the loaded captioner, loading it if needed. Concurrent
// first callers wait on a single load. A failed load is not remembered so the
// next caller tries again.
func (g *Generator) captioner(ctx context.Context) (captioner.Captioner, error) {
	if h := g.handle.Load(); h != nil {
		return h.Captioner, nil
	}

	g.loadMu.Lock()
	defer g.loadMu.Unlock()

	if h := g.handle.Load(); h != nil {
		return h.Captioner, nil
	}

	start := time.Now()
	g.logger.Info("Loading captioning model", "device", g.opts.Device)

	c, err := g.opts.Load(ctx)
	if err == nil && !c.IsHealthy(ctx) {
		c.Close()
		err = fmt.Errorf("%w: %s is not responding", ErrBackendUnavailable, c.Name())
	}
	if err != nil {
		g.countLoad("error")
		g.logger.Error("Failed to load captioning model", "error", err)
		return nil, err
	}

	g.countLoad("ok")
	g.logger.Info("Captioning model loaded",
		"captioner", c.Name(),
		"model", c.Model(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	g.handle.Store(&loaded{c})
	return c, nil
}

func (g *Generator) countLoad(status string) {
	if g.opts.Metrics != nil {
		g.opts.Metrics.ModelLoads.WithLabelValues(status).Inc()
	}
}

// Generate captions image, which must be an encoded image the backend
// accepts, using the decoding parameters for mode.
func (g *Generator) Generate(ctx context.Context, image []byte, mode captioner.Mode) (*Caption, error) {
	c, err := g.captioner(ctx)
	if err != nil {
		return nil, err
	}

	out := &Caption{
		Mode:      mode,
		Captioner: c.Name(),
		Model:     c.Model(),
	}

	key := cache.Key(c.Name(), c.Model(), string(mode), image)
	if g.opts.Cache != nil {
		text, found, err := g.opts.Cache.Get(ctx, key)
		switch {
		case err != nil:
			g.logger.Warn("Caption cache lookup failed", "error", err)
		case found:
			if g.opts.Metrics != nil {
				g.opts.Metrics.CacheHits.WithLabelValues(string(mode)).Inc()
			}
			out.Text = text
			out.Cached = true
			return out, nil
		}
	}

	if g.opts.Limiter != nil {
		if err := g.opts.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	p := g.Presets().For(mode)
	start := time.Now()
	text, err := c.Caption(ctx, image, p)
	out.Duration = time.Since(start)
	if g.opts.Metrics != nil {
		g.opts.Metrics.ObserveCaption(string(mode), c.Name(), out.Duration, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s caption: %w", c.Name(), err)
	}
	out.Text = captioner.StripPrompt(text, p.Prompt)

	if g.opts.Cache != nil {
		if err := g.opts.Cache.Set(ctx, key, out.Text, g.opts.CacheTTL); err != nil {
			g.logger.Warn("Caption cache store failed", "error", err)
		}
	}

	g.logger.Debug("Generated caption",
		"mode", mode,
		"captioner", c.Name(),
		"elapsed", out.Duration.Round(time.Millisecond))
	return out, nil
}

// Loaded reports whether the captioner has been loaded.
func (g *Generator) Loaded() bool {
	return g.handle.Load() != nil
}

// Device returns the compute device the model was configured for.
func (g *Generator) Device() Device {
	return g.opts.Device
}

// Info returns the name and model of the loaded captioner, or empty strings
// before the first load.
func (g *Generator) Info() (name, model string) {
	if h := g.handle.Load(); h != nil {
		return h.Name(), h.Model()
	}
	return "", ""
}

func (g *Generator) Presets() captioner.Presets {
	g.presetsMu.RLock()
	defer g.presetsMu.RUnlock()
	return g.presets
}

// SetPresets replaces the decoding parameters used by later calls to
// Generate.
func (g *Generator) SetPresets(p captioner.Presets) {
	g.presetsMu.Lock()
	defer g.presetsMu.Unlock()
	g.presets = p
}

// Close releases the captioner and the cache.
func (g *Generator) Close() error {
	g.loadMu.Lock()
	defer g.loadMu.Unlock()

	var errs []error
	if h := g.handle.Swap(nil); h != nil {
		errs = append(errs, h.Close())
	}
	if g.opts.Cache != nil {
		errs = append(errs, g.opts.Cache.Close())
	}
	return errors.Join(errs...)
}
