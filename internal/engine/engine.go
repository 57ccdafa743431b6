// Package engine is the track scheduler. It owns a fixed pool of track
// slots, grants them to start requests by priority, and on every tick pulls
// the next slice of PCM for each playing track out of its sound, following
// the sound's regions, jumps and hooks. Crossfades clone a track's cursor
// into a fade-only partner slot that ramps to silence while the primary
// slot moves on.
//
// One mutex guards the whole pool. Public operations and the tick take it,
// so decoding happens inside the tick and tick latency grows with the number
// of block boundaries crossed.
//
// This package lives under internal/ because it encapsulates application-private
// processing logic and is not intended to be imported by external code.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/scoreflow/internal/observe"
	"github.com/MrWong99/scoreflow/pkg/audio"
	"github.com/MrWong99/scoreflow/pkg/sound"
)

const (
	// DefaultTickRate is the scheduler frequency in Hz.
	DefaultTickRate = 60

	// DefaultTracks is the number of primary slots.
	DefaultTracks = 8

	// DefaultMusicPriority is used by StartMusic.
	DefaultMusicPriority = 126

	// DefaultVoicePriority is the priority callers use for speech.
	DefaultVoicePriority = 127

	// maxHopsPerTick bounds region switches within one tick.
	maxHopsPerTick = 32
)

var (
	// ErrNoSlot is logged when a start request finds no free or evictable
	// slot. StartSound reports it as (false, nil).
	ErrNoSlot = errors.New("engine: no free track slot")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine: closed")

	// ErrInvalid is returned for out-of-range arguments.
	ErrInvalid = errors.New("engine: invalid argument")
)

// Opener opens sounds by name. Implementations must be safe for concurrent
// use; the engine calls Open from public operations and from the tick.
type Opener interface {
	Open(ctx context.Context, name string, group audio.Group) (*sound.Sound, error)
}

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithTickRate sets the scheduler frequency in Hz.
func WithTickRate(hz int) Option {
	return func(e *Engine) {
		if hz > 0 {
			e.tickRate = hz
		}
	}
}

// WithTracks sets the number of primary slots. The same number of fade
// slots is allocated alongside.
func WithTracks(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.poolSize = n
		}
	}
}

// WithMusicPriority sets the priority StartMusic requests use.
func WithMusicPriority(p int) Option {
	return func(e *Engine) { e.musicPriority = clamp127(p) }
}

// WithMetrics records engine metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the track scheduler. All exported methods are safe for
// concurrent use.
type Engine struct {
	mixer  audio.Mixer
	opener Opener

	tickRate      int
	poolSize      int
	musicPriority int
	metrics       *observe.Metrics

	mu       sync.Mutex
	tracks   []Track
	groupVol [3]int
	trigger  *Trigger
	paused   bool
	lastTick time.Time
	closed   bool

	done chan struct{}
}

// New creates an engine that plays through mixer and loads sounds through
// opener. Call [Engine.Run] to drive it and [Engine.Close] to stop it.
func New(mixer audio.Mixer, opener Opener, opts ...Option) *Engine {
	e := &Engine{
		mixer:         mixer,
		opener:        opener,
		tickRate:      DefaultTickRate,
		poolSize:      DefaultTracks,
		musicPriority: DefaultMusicPriority,
		groupVol:      [3]int{127, 127, 127},
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.tracks = make([]Track, 2*e.poolSize)
	for i := range e.tracks {
		e.tracks[i].slot = i
	}
	return e
}

// TickRate returns the scheduler frequency in Hz.
func (e *Engine) TickRate() int { return e.tickRate }

// PoolSize returns the number of primary slots.
func (e *Engine) PoolSize() int { return e.poolSize }

// Run ticks the engine until ctx is cancelled or the engine is closed.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(e.tickRate))
	defer ticker.Stop()

	slog.Info("engine started", "tick_rate", e.tickRate, "tracks", e.poolSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick advances every track by one scheduler period. Run calls it; tests
// call it directly for deterministic stepping.
func (e *Engine) Tick() {
	start := time.Now()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	for i := range e.tracks {
		t := &e.tracks[i]
		if !t.used {
			continue
		}
		if t.toBeRemoved {
			if !e.mixer.IsActive(t.handle) {
				e.reclaim(t)
			}
			continue
		}
		if e.paused {
			continue
		}
		if t.fade.Active && e.stepFade(t) {
			continue
		}
		e.pushMix(t)
		e.feed(t)
	}
	e.lastTick = time.Now()
	e.mu.Unlock()

	e.metrics.TickDuration.Record(context.Background(), time.Since(start).Seconds())
}

// LastTick returns when the last tick completed, or the zero time.
func (e *Engine) LastTick() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTick
}

// Close stops every track immediately and ends Run. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for i := range e.tracks {
		if e.tracks[i].used {
			e.stopNow(&e.tracks[i])
		}
	}
	e.trigger = nil
	close(e.done)
	return nil
}

// ── slot management ──────────────────────────────────────────────────────────

// allocSlot returns a primary slot for a request at priority, evicting the
// lowest priority live track when it does not outrank the request. It
// returns -1 when nothing can be granted. Must hold e.mu.
func (e *Engine) allocSlot(priority int) int {
	for i := range e.poolSize {
		if !e.tracks[i].used {
			return i
		}
	}

	victim, lowest := -1, 0
	for i := range e.poolSize {
		t := &e.tracks[i]
		if !t.live() {
			continue
		}
		if victim < 0 || t.priority < lowest {
			victim, lowest = i, t.priority
		}
	}
	if victim < 0 || lowest > priority {
		return -1
	}

	t := &e.tracks[victim]
	slog.Debug("engine: evicting track", "slot", victim, "sound", t.name, "priority", t.priority, "for_priority", priority)
	e.stopNow(t)
	e.metrics.TrackEvictions.Add(context.Background(), 1)
	return victim
}

// flushTrack starts the two-phase teardown: no more data is fed and the
// slot is reclaimed once the mixer has rendered what is queued.
func (e *Engine) flushTrack(t *Track) {
	if !t.used || t.toBeRemoved {
		return
	}
	t.toBeRemoved = true
	t.fade.Active = false
	if t.stream != nil {
		t.stream.Finish()
	}
}

// stopNow silences t and frees its slot at once.
func (e *Engine) stopNow(t *Track) {
	if t.stream != nil {
		t.stream.Finish()
	}
	if t.handle != 0 {
		e.mixer.Stop(t.handle)
	}
	e.reclaim(t)
}

func (e *Engine) reclaim(t *Track) {
	*t = Track{slot: t.slot}
	e.metrics.ActiveTracks.Add(context.Background(), -1)
}

func (e *Engine) isFadeSlot(t *Track) bool { return t.slot >= e.poolSize }

// playOptions derives mixer options from t.
func (e *Engine) playOptions(t *Track) audio.PlayOptions {
	return audio.PlayOptions{
		Priority: t.priority,
		Volume:   e.effectiveVolume(t),
		Pan:      t.pan,
		Group:    t.group,
	}
}

// effectiveVolume scales the track volume by its group volume.
func (e *Engine) effectiveVolume(t *Track) int {
	g := 127
	if int(t.group) >= 0 && int(t.group) < len(e.groupVol) {
		g = e.groupVol[t.group]
	}
	return t.volume() * g / 127
}

func (e *Engine) pushMix(t *Track) {
	e.mixer.SetVolume(t.handle, e.effectiveVolume(t))
	e.mixer.SetPan(t.handle, t.pan)
}

func clamp127(v int) int { return max(0, min(v, 127)) }
