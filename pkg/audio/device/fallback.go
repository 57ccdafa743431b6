package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned by [Fallback.Start] when no output would start.
var ErrAllFailed = errors.New("device: every output failed to start")

// Named pairs an output with the backend name used in logs.
type Named struct {
	Name   string
	Output Output
}

// Fallback plays through the first of several outputs that starts. A
// typical chain is the sound card followed by [Null], so a server without
// audio hardware keeps scheduling sounds in real time.
//
// Fallback is safe for concurrent use.
type Fallback struct {
	mu      sync.Mutex
	outputs []Named
	active  int
}

var _ Output = (*Fallback)(nil)

// NewFallback returns an output trying outputs in order.
func NewFallback(outputs ...Named) *Fallback {
	return &Fallback{outputs: outputs, active: -1}
}

// Start implements [Output]. Outputs that fail to start are closed and the
// next one is tried.
func (f *Fallback) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active >= 0 {
		return nil
	}

	var lastErr error
	for i, o := range f.outputs {
		err := o.Output.Start()
		if err == nil {
			f.active = i
			if i > 0 {
				slog.Warn("audio output fell back", "output", o.Name, "failed", f.outputs[0].Name)
			}
			return nil
		}
		lastErr = err
		slog.Warn("audio output failed, trying next", "output", o.Name, "err", err)
		if cerr := o.Output.Close(); cerr != nil {
			slog.Debug("closing failed output", "output", o.Name, "err", cerr)
		}
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Active returns the name of the started output, or "" before Start
// succeeds.
func (f *Fallback) Active() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active < 0 {
		return ""
	}
	return f.outputs[f.active].Name
}

// Close implements [Output]. It closes every output in the chain.
func (f *Fallback) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, o := range f.outputs {
		if err := o.Output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, err))
		}
	}
	return errors.Join(errs...)
}
