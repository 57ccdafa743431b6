// Package device plays a rendered PCM source on an output. The source is
// normally a [mixer.SoftMixer], which produces signed 16-bit little-endian
// stereo.
//
// Two outputs exist: [Oto] drives the sound card through ebitengine/oto and
// [Null] consumes the source on a timer without producing sound, for
// headless servers and tests.
package device

import (
	"errors"
	"io"
	"time"
)

// ErrUnavailable is returned when an output cannot be used in this build or
// on this machine.
var ErrUnavailable = errors.New("device: output unavailable")

const (
	// DefaultSampleRate matches the mixer default.
	DefaultSampleRate = 44100

	// DefaultBuffer is the default output latency.
	DefaultBuffer = 50 * time.Millisecond

	// frameSize is one stereo 16-bit frame.
	frameSize = 4
)

// Output plays a source until closed.
type Output interface {
	// Start begins pulling the source.
	Start() error

	// Close stops playback and releases the output. Safe to call more
	// than once.
	Close() error
}

// options is shared by all outputs.
type options struct {
	sampleRate int
	buffer     time.Duration
}

// Option configures an output.
type Option func(*options)

// WithSampleRate sets the output rate. It must match the rate the source
// renders at.
func WithSampleRate(rate int) Option {
	return func(o *options) {
		if rate > 0 {
			o.sampleRate = rate
		}
	}
}

// WithBuffer sets the output latency.
func WithBuffer(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.buffer = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{sampleRate: DefaultSampleRate, buffer: DefaultBuffer}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// bufferBytes returns how many bytes cover d at rate, rounded down to a
// whole frame and never below one frame.
func bufferBytes(rate int, d time.Duration) int {
	n := int(int64(rate) * int64(d) / int64(time.Second))
	return max(n, 1) * frameSize
}

// Source is what an output pulls PCM from.
type Source = io.Reader
