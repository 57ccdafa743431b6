// Package app wires the scoreflow subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the bundles and builds
// the engine, director and command dispatcher, Run drives the scheduler,
// audio output, admin endpoint and cue scripts until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithOutput,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scoreflow/internal/command"
	"github.com/MrWong99/scoreflow/internal/config"
	"github.com/MrWong99/scoreflow/internal/director"
	"github.com/MrWong99/scoreflow/internal/engine"
	"github.com/MrWong99/scoreflow/internal/health"
	"github.com/MrWong99/scoreflow/internal/library"
	"github.com/MrWong99/scoreflow/internal/observe"
	"github.com/MrWong99/scoreflow/internal/remote"
	"github.com/MrWong99/scoreflow/internal/script"
	"github.com/MrWong99/scoreflow/pkg/audio"
	"github.com/MrWong99/scoreflow/pkg/audio/device"
	"github.com/MrWong99/scoreflow/pkg/audio/mixer"
	"github.com/MrWong99/scoreflow/pkg/bundle"
)

const (
	// DefaultDevice is the output used when output.device is empty.
	DefaultDevice = "null"

	// stallTicks is how many missed tick periods make the engine unready.
	stallTicks = 30

	serverShutdownTimeout = 5 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	level    *slog.LevelVar
	watcher  *config.Watcher

	// Subsystems: initialised in New, torn down in Shutdown.
	bundles    *bundle.Cache
	library    *library.Library
	mixer      *mixer.SoftMixer
	engine     *engine.Engine
	director   *director.Director
	dispatcher *command.Dispatcher
	scripts    *script.Runner
	output     device.Output
	handler    http.Handler
	metricsH   http.Handler

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry creates the output from reg instead of [DefaultRegistry].
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithOutput plays the mixer through o instead of creating an output from
// the config. The App starts o and closes it on Shutdown.
func WithOutput(o device.Output) Option {
	return func(a *App) { a.output = o }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithLogLevel lets config reloads change the log level through lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithWatcher applies live config changes from w and polls it while Run
// is active.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// New creates a new App from cfg. All bundles are opened synchronously; a
// missing bundle is an error.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	defer func() {
		if err != nil && a.bundles != nil {
			_ = a.bundles.Close()
		}
	}()
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Sound library ─────────────────────────────────────────────────
	if err := a.initLibrary(); err != nil {
		return nil, fmt.Errorf("app: init library: %w", err)
	}

	// ── 2. Mixer + engine ────────────────────────────────────────────────
	a.mixer = mixer.New(
		mixer.WithSampleRate(cfg.Output.SampleRate),
		mixer.WithMaxVoices(cfg.Output.MaxVoices),
	)
	a.engine = engine.New(a.mixer, a.library,
		engine.WithTickRate(cfg.Engine.TickRate),
		engine.WithTracks(cfg.Engine.Tracks),
		engine.WithMusicPriority(cfg.Engine.MusicPriority),
		engine.WithMetrics(a.metrics),
	)

	// ── 3. Director + dispatcher ─────────────────────────────────────────
	rules, err := config.MusicRules(cfg.Music)
	if err != nil {
		return nil, fmt.Errorf("app: music rules: %w", err)
	}
	a.director = director.New(a.engine, rules, director.WithMetrics(a.metrics))

	voice, music := cfg.Engine.VoicePriority, cfg.Engine.MusicPriority
	if voice == 0 {
		voice = engine.DefaultVoicePriority
	}
	if music == 0 {
		music = engine.DefaultMusicPriority
	}
	a.dispatcher = command.New(a.engine, a.director, a.library,
		command.WithMetrics(a.metrics),
		command.WithPriorities(voice, music),
	)
	a.scripts = script.New(a.dispatcher)

	// ── 4. Output ────────────────────────────────────────────────────────
	if err := a.initOutput(); err != nil {
		return nil, fmt.Errorf("app: init output: %w", err)
	}

	// ── 5. Admin endpoint ────────────────────────────────────────────────
	a.initHTTP()

	if a.watcher != nil {
		a.watcher.Subscribe(a.ApplyConfig)
	}

	// Close order: silence the device first, then stop the scheduler, then
	// release the mixer it feeds and the archives it reads.
	a.closers = append(a.closers, a.output.Close, a.engine.Close, a.mixer.Close, a.bundles.Close)

	observe.Logger(ctx).Info("app initialised",
		"bundles", a.library.Bundles(),
		"sounds", len(cfg.Sounds),
		"rules", rules.Len(),
		"tracks", a.engine.PoolSize(),
		"sample_rate", a.mixer.SampleRate(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initLibrary() error {
	a.bundles = bundle.NewCache()
	a.library = library.New(a.bundles, library.WithObserver(a.metrics.BlockObserver()))
	for i, b := range a.cfg.Bundles {
		g, err := audio.ParseGroup(b.Group)
		if err != nil {
			return fmt.Errorf("bundles[%d]: %w", i, err)
		}
		if err := a.library.AddBundle(b.Path, g); err != nil {
			return err
		}
	}
	entries, err := catalog(a.cfg.Sounds)
	if err != nil {
		return err
	}
	a.library.SetCatalog(entries)
	return nil
}

func (a *App) initOutput() error {
	if a.output != nil {
		return nil
	}
	oc := a.cfg.Output
	if oc.Device == "" {
		oc.Device = DefaultDevice
	}
	// The device must pull at the rate the mixer renders at.
	oc.SampleRate = a.mixer.SampleRate()
	out, err := a.registry.CreateOutput(oc, a.mixer)
	if err != nil {
		return err
	}
	if oc.Fallback == "" || oc.Fallback == oc.Device {
		a.output = out
		return nil
	}

	fc := oc
	fc.Device = oc.Fallback
	spare, err := a.registry.CreateOutput(fc, a.mixer)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("fallback: %w", err)
	}
	a.output = device.NewFallback(
		device.Named{Name: oc.Device, Output: out},
		device.Named{Name: oc.Fallback, Output: spare},
	)
	return nil
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()

	maxAge := stallTicks * time.Second / time.Duration(a.engine.TickRate())
	health.New(
		health.TickChecker(a.engine.LastTick, maxAge),
		health.BundleChecker(a.library.Bundles, len(a.cfg.Bundles)),
	).Register(mux)

	remote.NewServer(a.dispatcher, a.engine, remote.WithDirector(a.director)).Register(mux)

	if a.metricsH != nil {
		mux.Handle("GET /metrics", a.metricsH)
	}
	a.handler = observe.Middleware(a.metrics)(mux)
}

// catalog converts the configured sounds to library entries.
func catalog(sounds []config.SoundConfig) ([]library.Entry, error) {
	entries := make([]library.Entry, 0, len(sounds))
	for i, s := range sounds {
		g, err := audio.ParseGroup(s.Group)
		if err != nil {
			return nil, fmt.Errorf("sounds[%d]: %w", i, err)
		}
		entries = append(entries, library.Entry{ID: s.ID, Name: s.Name, Group: g})
	}
	return entries, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the admin HTTP handler: health, metrics, the command
// websocket and the snapshot endpoint.
func (a *App) Handler() http.Handler { return a.handler }

// Dispatcher returns the command dispatcher.
func (a *App) Dispatcher() *command.Dispatcher { return a.dispatcher }

// Engine returns the track scheduler.
func (a *App) Engine() *engine.Engine { return a.engine }

// Bundles returns the cache holding the open archives.
func (a *App) Bundles() *bundle.Cache { return a.bundles }

// Director returns the music director.
func (a *App) Director() *director.Director { return a.director }

// Addr returns the address the admin server listens on once Run has
// started it, or nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the output and supervises the engine ticker, the admin server,
// the config watcher and the configured scripts until ctx is cancelled or one of them fails.
// It returns context.Canceled (or the underlying cause) on a clean stop.
func (a *App) Run(ctx context.Context) error {
	if err := a.output.Start(); err != nil {
		return fmt.Errorf("app: start output: %w", err)
	}

	var ln net.Listener
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", addr, err)
		}
		a.mu.Lock()
		a.addr = ln.Addr()
		a.mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.engine.Run(gctx)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if ln != nil {
		srv := &http.Server{
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			slog.Info("admin server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	for _, path := range a.cfg.Server.Scripts {
		g.Go(func() error {
			err := a.scripts.RunFile(gctx, path)
			switch {
			case err == nil:
				slog.Info("script finished", "script", path)
			case gctx.Err() == nil:
				// A broken script must not take the server down.
				slog.Warn("script failed", "script", path, "err", err)
			}
			return nil
		})
	}

	slog.Info("app running", "scripts", len(a.cfg.Server.Scripts), "output", a.cfg.Output.Device)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable parts of a changed config: the log
// level, the music rules and the sound catalog. Other changes are logged
// as requiring a restart. [WithWatcher] subscribes it to a watcher.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MusicChanged {
		rules, err := config.MusicRules(new.Music)
		if err != nil {
			slog.Warn("music rules not reloaded", "err", err)
		} else {
			a.director.SetRules(rules)
			slog.Info("music rules reloaded", "rules", rules.Len())
		}
	}
	if d.SoundsChanged {
		entries, err := catalog(new.Sounds)
		if err != nil {
			slog.Warn("sound catalog not reloaded", "err", err)
		} else {
			a.library.SetCatalog(entries)
			slog.Info("sound catalog reloaded", "sounds", len(entries))
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to a slog level. Unknown and empty
// levels are info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
