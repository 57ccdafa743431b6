// Package script runs Lua cue scripts against the command dispatcher.
//
// Scripts see a "scoreflow" table (also loadable with require) holding a
// generic do(op, ...) plus named helpers for the common commands:
//
//	local sf = require("scoreflow")
//	sf.set_state(3)
//	sf.start_sound(12, 80)
//	while sf.is_playing(12) do sf.sleep(100) end
//
// Command failures follow the Lua convention: the function returns nil and
// an error message instead of raising.
package script

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/MrWong99/scoreflow/internal/command"
	"github.com/MrWong99/scoreflow/pkg/audio"
)

// ModuleName is the name of the table scripts use.
const ModuleName = "scoreflow"

// Dispatcher executes commands.
type Dispatcher interface {
	Do(ctx context.Context, op command.Op, args ...int) (int, error)
}

var _ Dispatcher = (*command.Dispatcher)(nil)

// Option configures a [Runner].
type Option func(*Runner)

// WithLogger sets the logger behind print and log. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner executes scripts. Every run gets its own interpreter, so a Runner
// may run several scripts concurrently.
type Runner struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// New returns a runner issuing commands to d.
func New(d Dispatcher, opts ...Option) *Runner {
	r := &Runner{dispatcher: d}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// RunFile executes the Lua file at path until it returns or ctx ends.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	L, err := r.newState(ctx, filepath.Base(path))
	if err != nil {
		return err
	}
	defer L.Close()
	return r.result(ctx, path, L.DoFile(path))
}

// RunString executes src, naming it name in logs and errors.
func (r *Runner) RunString(ctx context.Context, name, src string) error {
	L, err := r.newState(ctx, name)
	if err != nil {
		return err
	}
	defer L.Close()
	return r.result(ctx, name, L.DoString(src))
}

func (r *Runner) result(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("script: %s: %w", name, err)
}

// newState builds an interpreter with the safe standard libraries only: no
// io, os or debug.
func (r *Runner) newState(ctx context.Context, name string) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("script: open %s library: %w", lib.name, err)
		}
	}
	L.SetContext(ctx)

	s := &session{dispatcher: r.dispatcher, logger: r.logger.With("script", name)}
	mod := L.SetFuncs(L.NewTable(), s.funcs())
	L.SetGlobal(ModuleName, mod)
	L.PreloadModule(ModuleName, func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})
	L.SetGlobal("print", L.NewFunction(s.log))
	return L, nil
}

// session is the Go side of one interpreter.
type session struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func (s *session) funcs() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"do": s.do,

		"start_sound":  s.op(command.OpStartSound, 1),
		"stop_sound":   s.op(command.OpStopSound, 1),
		"stop_all":     s.op(command.OpStopAll, 0),
		"fade_volume":  s.op(command.OpFadeParam, 3, command.ParamVolume),
		"set_volume":   s.param(command.ParamVolume),
		"set_pan":      s.param(command.ParamPan),
		"set_priority": s.param(command.ParamPriority),
		"set_hook":     s.param(command.ParamHook),

		"set_state":     s.op(command.OpSetState, 1),
		"set_sequence":  s.op(command.OpSetSequence, 1),
		"set_cue":       s.op(command.OpSetCuePoint, 1),
		"set_attribute": s.op(command.OpSetAttribute, 2),

		"set_group":    s.setGroup,
		"group_volume": s.groupVolume,
		"is_playing":   s.isPlaying,
		"position":     s.op(command.OpPosition, 1),
		"lip_sync":     s.lipSync,

		"sleep": s.sleep,
		"log":   s.log,
	}
}

// dispatch runs one command and pushes its result, or nil and the error.
func (s *session) dispatch(L *lua.LState, op command.Op, args ...int) int {
	res, err := s.dispatcher.Do(L.Context(), op, args...)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(res))
	return 1
}

// do(op, ...) runs any command; op is a number or an opcode name.
func (s *session) do(L *lua.LState) int {
	var op command.Op
	switch v := L.CheckAny(1).(type) {
	case lua.LNumber:
		op = command.Op(int(v))
	case lua.LString:
		var ok bool
		if op, ok = command.ParseOp(string(v)); !ok {
			L.ArgError(1, fmt.Sprintf("unknown opcode %q", string(v)))
			return 0
		}
	default:
		L.TypeError(1, lua.LTNumber)
		return 0
	}
	return s.dispatch(L, op, intArgs(L, 2, 0)...)
}

// op returns a helper that takes at least n integer arguments, placing
// the given sub-operation after the first one.
func (s *session) op(op command.Op, n int, sub ...int) lua.LGFunction {
	return func(L *lua.LState) int {
		args := intArgs(L, 1, n)
		if len(sub) > 0 && len(args) > 0 {
			full := make([]int, 0, len(args)+len(sub))
			full = append(full, args[0])
			full = append(full, sub...)
			args = append(full, args[1:]...)
		}
		return s.dispatch(L, op, args...)
	}
}

func (s *session) param(sub int) lua.LGFunction {
	return func(L *lua.LState) int {
		return s.dispatch(L, command.OpSetParam, L.CheckInt(1), sub, L.CheckInt(2))
	}
}

func (s *session) setGroup(L *lua.LState) int {
	g := checkGroup(L, 2)
	return s.dispatch(L, command.OpSetParam, L.CheckInt(1), command.ParamGroup, int(g))
}

func (s *session) groupVolume(L *lua.LState) int {
	g := checkGroup(L, 1)
	return s.dispatch(L, command.OpVolumeSFX+command.Op(g), L.CheckInt(2))
}

func (s *session) isPlaying(L *lua.LState) int {
	res, err := s.dispatcher.Do(L.Context(), command.OpSoundStatus, L.CheckInt(1))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(res != 0))
	return 1
}

// lip_sync(id, sync, ms) returns width and height.
func (s *session) lipSync(L *lua.LState) int {
	res, err := s.dispatcher.Do(L.Context(), command.OpLipSync, L.CheckInt(1), L.CheckInt(2), L.CheckInt(3))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(res >> 8))
	L.Push(lua.LNumber(res & 0xff))
	return 2
}

func (s *session) sleep(L *lua.LState) int {
	ms := L.CheckInt(1)
	if ms <= 0 {
		return 0
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-L.Context().Done():
		L.RaiseError("sleep interrupted: %v", context.Cause(L.Context()))
	case <-t.C:
	}
	return 0
}

func (s *session) log(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	s.logger.Info(strings.Join(parts, " "))
	return 0
}

// intArgs reads every argument from index from on as an integer, requiring
// at least atLeast of them.
func intArgs(L *lua.LState, from, atLeast int) []int {
	top := L.GetTop()
	if top-from+1 < atLeast {
		L.ArgError(top+1, fmt.Sprintf("expected %d arguments", atLeast))
	}
	out := make([]int, 0, max(0, top-from+1))
	for i := from; i <= top; i++ {
		out = append(out, L.CheckInt(i))
	}
	return out
}

func checkGroup(L *lua.LState, n int) audio.Group {
	g, err := audio.ParseGroup(L.CheckString(n))
	if err != nil {
		L.ArgError(n, err.Error())
	}
	return g
}
