// Package director turns game state, sequence and cue changes into music
// operations on the engine.
//
// A state names the music for a place or mood. A sequence (a cutscene, say)
// takes precedence over states until it ends with SetSequence(0), at which
// point the last state is applied again. Cues step through the music of the
// playing sequence. Which music each id brings in, and how, comes from a
// [Rules] table that can be swapped at runtime.
package director

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/scoreflow/internal/engine"
	"github.com/MrWong99/scoreflow/internal/observe"
)

// DefaultFadeDelay is the fade-out length in milliseconds used when a rule
// does not set one.
const DefaultFadeDelay = 120

// TriggerMarker is the marker label trigger rules wait for.
const TriggerMarker = "exit"

// Music is the part of the engine the director drives.
// [*engine.Engine] satisfies it.
type Music interface {
	CurMusicSoundID() int
	StartMusic(ctx context.Context, name string, id, hook, volume int) (bool, error)
	FadeOutMusic(ms int)
	FadeOutMusicAndStartNew(ctx context.Context, ms int, name string, id, volume int) (bool, error)
	SetHookForMusic(hook int)
	SetTrigger(t engine.Trigger)
}

var _ Music = (*engine.Engine)(nil)

// Option configures a [Director].
type Option func(*Director)

// WithMetrics records transitions to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Director) { d.metrics = m }
}

// Status is the director's position.
type Status struct {
	State    int `json:"state"`
	Sequence int `json:"sequence"`
	Cue      int `json:"cue"`
	Pending  int `json:"pending_sequence"`
	Rules    int `json:"rules"`
}

// Director applies transition rules to a [Music] engine. All methods are
// safe for concurrent use; operations are applied one at a time.
type Director struct {
	music   Music
	metrics *observe.Metrics

	mu       sync.Mutex
	rules    *Rules
	state    int
	sequence int
	blocking bool
	pending  int
	cue      int

	// group is the state group of the music the last state rule started.
	group int
	attrs map[int]int
}

// New returns a director driving music with rules. A nil rules table is
// treated as empty.
func New(music Music, rules *Rules, opts ...Option) *Director {
	d := &Director{
		music: music,
		attrs: make(map[int]int),
	}
	d.SetRules(rules)
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// SetRules replaces the rule tables. Music already playing is left alone;
// the new rules apply from the next change.
func (d *Director) SetRules(r *Rules) {
	if r == nil {
		r = &Rules{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = r
}

// SetState records state id and, unless a sequence is playing, brings in
// its music. Unknown ids are ignored.
func (d *Director) SetState(ctx context.Context, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rule, ok := d.rules.State(id)
	if !ok {
		slog.Debug("director: unknown state", "state", id)
		return nil
	}
	d.state = id
	if d.sequence != 0 {
		slog.Debug("director: state deferred until sequence ends", "state", id, "sequence", d.sequence)
		return nil
	}
	return d.apply(ctx, "state", rule)
}

// SetSequence starts sequence id. While a blocking sequence plays, the
// request is queued instead, replacing any queued one. SetSequence(0) ends
// the sequence: a queued sequence starts, otherwise the last state's music
// returns.
func (d *Director) SetSequence(ctx context.Context, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id == 0 {
		return d.endSequence(ctx)
	}
	rule, ok := d.rules.Sequence(id)
	if !ok {
		slog.Debug("director: unknown sequence", "sequence", id)
		return nil
	}
	if d.sequence != 0 && d.blocking {
		slog.Debug("director: sequence queued", "sequence", id, "playing", d.sequence)
		d.pending = id
		return nil
	}
	d.pending = 0
	return d.startSequence(ctx, rule)
}

func (d *Director) startSequence(ctx context.Context, rule Rule) error {
	d.sequence = rule.ID
	d.blocking = rule.Kind.Blocking()
	d.cue = 0
	return d.apply(ctx, "sequence", rule)
}

func (d *Director) endSequence(ctx context.Context) error {
	if next := d.pending; next != 0 {
		d.pending = 0
		if rule, ok := d.rules.Sequence(next); ok {
			return d.startSequence(ctx, rule)
		}
	}
	d.sequence, d.blocking, d.cue = 0, false, 0
	rule, ok := d.rules.State(d.state)
	if !ok {
		return nil
	}
	return d.apply(ctx, "state", rule)
}

// SetCuePoint moves the playing sequence to cue id. Cue 0 fades the music
// out. Cues outside a sequence are ignored.
func (d *Director) SetCuePoint(ctx context.Context, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sequence == 0 {
		slog.Debug("director: cue outside sequence", "cue", id)
		return nil
	}
	d.cue = id
	if id == 0 {
		d.fadeOut(ctx, "cue", DefaultFadeDelay)
		return nil
	}
	rule, ok := d.rules.Cue(d.sequence, id)
	if !ok {
		slog.Debug("director: unknown cue", "sequence", d.sequence, "cue", id)
		return nil
	}
	return d.apply(ctx, "cue", rule)
}

// SetAttribute sets the attribute at pos. Rules with that state group read
// it as their start hook.
func (d *Director) SetAttribute(pos, value int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[pos] = value
}

// Attribute returns the attribute at pos.
func (d *Director) Attribute(pos int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attrs[pos]
}

// Status returns the current state, sequence and cue.
func (d *Director) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		State:    d.state,
		Sequence: d.sequence,
		Cue:      d.cue,
		Pending:  d.pending,
		Rules:    d.rules.Len(),
	}
}

// ── transitions ─────────────────────────────────────────────────────────────

// apply moves the music to rule's target. Must hold d.mu.
func (d *Director) apply(ctx context.Context, source string, rule Rule) error {
	fade := rule.FadeDelay
	if fade == 0 {
		fade = DefaultFadeDelay
	}
	if rule.Name == "" {
		d.fadeOut(ctx, source, fade)
		return nil
	}

	cur := d.music.CurMusicSoundID()
	switch rule.Kind {
	case KindHold:
		d.record(ctx, source, rule)
		return nil
	case KindHookSwitch, KindHookSwitchBlocking:
		if cur == rule.SoundID {
			d.music.SetHookForMusic(rule.Hook)
			d.record(ctx, source, rule)
			return nil
		}
	}
	if cur == rule.SoundID {
		return nil
	}

	sameGroup := source == "state" && rule.Group != 0 && rule.Group == d.group
	if source == "state" {
		d.group = rule.Group
	} else {
		d.group = 0
	}
	hook := d.hookFor(rule)
	d.record(ctx, source, rule)

	slog.Info("director: music change", "source", source, "id", rule.ID, "kind", rule.Kind.String(), "sound", rule.Name, "hook", hook)
	switch {
	case rule.Kind == KindTrigger:
		d.music.SetTrigger(engine.Trigger{
			Marker:    TriggerMarker,
			FadeDelay: rule.FadeDelay,
			Name:      rule.Name,
			SoundID:   rule.SoundID,
			Hook:      hook,
			Volume:    rule.volume(),
		})
		return nil
	case rule.Kind == KindImmediate:
		d.music.FadeOutMusic(DefaultFadeDelay)
	case sameGroup && (rule.Kind == KindCrossfade || rule.Kind == KindCrossfadeBlocking):
		ok, err := d.music.FadeOutMusicAndStartNew(ctx, fade, rule.Name, rule.SoundID, rule.volume())
		if ok && hook != 0 {
			d.music.SetHookForMusic(hook)
		}
		return d.started(rule, ok, err)
	default:
		d.music.FadeOutMusic(fade)
	}
	ok, err := d.music.StartMusic(ctx, rule.Name, rule.SoundID, hook, rule.volume())
	return d.started(rule, ok, err)
}

func (d *Director) fadeOut(ctx context.Context, source string, ms int) {
	d.music.FadeOutMusic(ms)
	d.group = 0
	d.metrics.RecordTransition(ctx, source, "fade-out")
	slog.Info("director: music faded out", "source", source, "fade_ms", ms)
}

func (d *Director) record(ctx context.Context, source string, rule Rule) {
	d.metrics.RecordTransition(ctx, source, rule.Kind.String())
}

func (d *Director) started(rule Rule, ok bool, err error) error {
	if err != nil {
		slog.Error("director: music failed to start", "sound", rule.Name, "id", rule.SoundID, "err", err)
		return err
	}
	if !ok {
		slog.Warn("director: music not started", "sound", rule.Name, "id", rule.SoundID)
	}
	return nil
}

// hookFor returns the start hook for rule. Rules in a state group take the
// group's attribute and, when they have several hooks, advance it so the
// next visit picks the following one. Must hold d.mu.
func (d *Director) hookFor(rule Rule) int {
	if rule.Group == 0 {
		return rule.Hook
	}
	hook := d.attrs[rule.Group]
	if rule.Hook > 1 {
		next := hook + 1
		if next > rule.Hook {
			next = 1
		}
		d.attrs[rule.Group] = next
	}
	return hook
}
