// Package command is the integer command entry point the script
// interpreter drives. A command is an opcode plus up to eight integer
// arguments; it returns one integer, which is meaningful for queries.
//
// Script sound ids are resolved to bundle names through the sound catalog,
// so scripts never deal in file names.
package command

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scoreflow/internal/engine"
	"github.com/MrWong99/scoreflow/internal/library"
	"github.com/MrWong99/scoreflow/internal/observe"
	"github.com/MrWong99/scoreflow/pkg/audio"
)

// MaxArgs is the most arguments a command carries.
const MaxArgs = 8

// DefaultSFXPriority is the start priority of sound effects when the
// command does not give one.
const DefaultSFXPriority = 64

var (
	// ErrUnknownOpcode is returned for opcodes the dispatcher does not know.
	ErrUnknownOpcode = errors.New("command: unknown opcode")

	// ErrBadArgs is returned when a command has too few or too many
	// arguments, or an unknown sub-operation.
	ErrBadArgs = errors.New("command: bad arguments")
)

// Engine is the track scheduler surface commands reach.
type Engine interface {
	StartSound(ctx context.Context, req engine.Request) (bool, error)
	StopSound(id int)
	StopAllSounds()
	SetVolume(id, volume int)
	SetPan(id, pan int)
	SetPriority(id, priority int)
	SetHookID(id, hook int)
	SetGroup(id int, g audio.Group) error
	SetFade(id, dest, ms int)
	SetGroupVolume(g audio.Group, volume int) error
	SoundStatus(id int) bool
	PositionMs(id int) int
	LipSync(id, syncID, ms int) (width, height int)
}

// Director is the music director surface commands reach.
type Director interface {
	SetState(ctx context.Context, id int) error
	SetSequence(ctx context.Context, id int) error
	SetCuePoint(ctx context.Context, id int) error
	SetAttribute(pos, value int)
}

// Catalog resolves script sound ids.
type Catalog interface {
	Lookup(id int) (library.Entry, error)
}

var (
	_ Engine  = (*engine.Engine)(nil)
	_ Catalog = (*library.Library)(nil)
)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics records commands to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPriorities sets the default start priorities of voice and music.
func WithPriorities(voice, music int) Option {
	return func(d *Dispatcher) {
		d.voicePriority = voice
		d.musicPriority = music
	}
}

// Dispatcher executes commands. It is safe for concurrent use when its
// collaborators are.
type Dispatcher struct {
	engine   Engine
	director Director
	catalog  Catalog
	metrics  *observe.Metrics

	voicePriority int
	musicPriority int
}

// New returns a dispatcher over the given collaborators.
func New(eng Engine, dir Director, catalog Catalog, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine:        eng,
		director:      dir,
		catalog:       catalog,
		voicePriority: engine.DefaultVoicePriority,
		musicPriority: engine.DefaultMusicPriority,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Do executes op with args and returns its result. Commands that are not
// queries return 0, except start which returns 1 when the sound started.
func (d *Dispatcher) Do(ctx context.Context, op Op, args ...int) (result int, err error) {
	ctx, span := observe.StartSpan(ctx, "command.do", trace.WithAttributes(
		attribute.String("op", op.String()),
		attribute.IntSlice("args", args),
	))
	defer func() {
		observe.EndSpan(span, err)
		d.metrics.RecordCommand(ctx, op.String(), err)
		if err != nil {
			observe.Logger(ctx).Warn("command failed", "op", op.String(), "args", args, "err", err)
		}
	}()

	if len(args) > MaxArgs {
		return 0, fmt.Errorf("%w: %s takes at most %d arguments, got %d", ErrBadArgs, op, MaxArgs, len(args))
	}
	a := argList(args)

	switch op {
	case OpNone:
		return 0, nil
	case OpStartSound:
		return d.start(ctx, a)
	case OpStopSound:
		id, err := a.need(op, 0)
		if err != nil {
			return 0, err
		}
		d.engine.StopSound(id)
	case OpStopAll:
		d.engine.StopAllSounds()
	case OpSetParam:
		return 0, d.setParam(a)
	case OpFadeParam:
		if err := a.require(op, 4); err != nil {
			return 0, err
		}
		if a[1] != ParamVolume {
			return 0, fmt.Errorf("%w: fade sub-op 0x%x", ErrBadArgs, a[1])
		}
		d.engine.SetFade(a[0], a[2], ticksToMs(a[3]))
	case OpSetState, OpSetSequence, OpSetCuePoint:
		id, err := a.need(op, 0)
		if err != nil {
			return 0, err
		}
		return 0, d.music(ctx, op, id)
	case OpSetAttribute:
		if err := a.require(op, 2); err != nil {
			return 0, err
		}
		if d.director == nil {
			return 0, errNoDirector(op)
		}
		d.director.SetAttribute(a[0], a[1])
	case OpVolumeSFX, OpVolumeVoice, OpVolumeMusic:
		v, err := a.need(op, 0)
		if err != nil {
			return 0, err
		}
		return 0, d.engine.SetGroupVolume(audio.Group(op-OpVolumeSFX), v)
	case OpSoundStatus:
		id, err := a.need(op, 0)
		if err != nil {
			return 0, err
		}
		if d.engine.SoundStatus(id) {
			return 1, nil
		}
	case OpPosition:
		id, err := a.need(op, 0)
		if err != nil {
			return 0, err
		}
		return d.engine.PositionMs(id), nil
	case OpLipSync:
		if err := a.require(op, 3); err != nil {
			return 0, err
		}
		w, h := d.engine.LipSync(a[0], a[1], a[2])
		return w<<8 | h, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownOpcode, op)
	}
	return 0, nil
}

// start handles OpStartSound: id, then optional priority, volume and hook.
func (d *Dispatcher) start(ctx context.Context, a argList) (int, error) {
	id, err := a.need(OpStartSound, 0)
	if err != nil {
		return 0, err
	}
	entry, err := d.catalog.Lookup(id)
	if err != nil {
		return 0, fmt.Errorf("command: start %d: %w", id, err)
	}

	req := engine.Request{
		ID:       id,
		Name:     entry.Name,
		Group:    entry.Group,
		Volume:   a.or(2, 127),
		Hook:     a.or(3, 0),
		Priority: a.or(1, d.defaultPriority(entry.Group)),
	}
	ok, err := d.engine.StartSound(ctx, req)
	if err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

func (d *Dispatcher) defaultPriority(g audio.Group) int {
	switch g {
	case audio.GroupVoice:
		return d.voicePriority
	case audio.GroupMusic:
		return d.musicPriority
	default:
		return DefaultSFXPriority
	}
}

// setParam handles OpSetParam: id, sub-op, value.
func (d *Dispatcher) setParam(a argList) error {
	if err := a.require(OpSetParam, 3); err != nil {
		return err
	}
	id, v := a[0], a[2]
	switch a[1] {
	case ParamGroup:
		return d.engine.SetGroup(id, audio.Group(v))
	case ParamPriority:
		d.engine.SetPriority(id, v)
	case ParamVolume:
		d.engine.SetVolume(id, v)
	case ParamPan:
		d.engine.SetPan(id, v)
	case ParamHook:
		d.engine.SetHookID(id, v)
	default:
		return fmt.Errorf("%w: param sub-op 0x%x", ErrBadArgs, a[1])
	}
	return nil
}

func (d *Dispatcher) music(ctx context.Context, op Op, id int) error {
	if d.director == nil {
		return errNoDirector(op)
	}
	switch op {
	case OpSetState:
		return d.director.SetState(ctx, id)
	case OpSetSequence:
		return d.director.SetSequence(ctx, id)
	default:
		return d.director.SetCuePoint(ctx, id)
	}
}

func errNoDirector(op Op) error {
	return fmt.Errorf("command: %s: no music director", op)
}

// ticksToMs converts a delay in 60 Hz script ticks to milliseconds.
func ticksToMs(ticks int) int { return ticks * 1000 / 60 }

type argList []int

func (a argList) require(op Op, n int) error {
	if len(a) < n {
		return fmt.Errorf("%w: %s needs %d arguments, got %d", ErrBadArgs, op, n, len(a))
	}
	return nil
}

func (a argList) need(op Op, i int) (int, error) {
	if err := a.require(op, i+1); err != nil {
		return 0, err
	}
	return a[i], nil
}

func (a argList) or(i, def int) int {
	if i < len(a) {
		return a[i]
	}
	return def
}
