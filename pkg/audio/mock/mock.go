// Package mock provides in-memory mock implementations of the [audio.Mixer]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control behaviour.
//
// Typical usage:
//
//	m := mock.NewMixer()
//	eng := engine.New(m, opener)
//	...
//	if got := m.Stream(h).Bytes(); len(got) == 0 { ... }
package mock

import (
	"sync"

	"github.com/MrWong99/scoreflow/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream] that keeps every queued
// buffer.
type Stream struct {
	mu sync.Mutex

	// Starved is returned by [Stream.EndOfData].
	Starved bool

	// QueueError is returned by [Stream.QueueBuffer].
	QueueError error

	buffers  [][]byte
	formats  []audio.Format
	finished bool
}

// QueueBuffer implements [audio.Stream].
func (s *Stream) QueueBuffer(data []byte, _ bool, f audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueueError != nil {
		return s.QueueError
	}
	s.buffers = append(s.buffers, append([]byte(nil), data...))
	s.formats = append(s.formats, f)
	return nil
}

// Finish implements [audio.Stream].
func (s *Stream) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
}

// EndOfData implements [audio.Stream]. Returns Starved.
func (s *Stream) EndOfData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Starved
}

// Bytes returns all queued data concatenated.
func (s *Stream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, b := range s.buffers {
		out = append(out, b...)
	}
	return out
}

// Buffers returns the number of QueueBuffer calls.
func (s *Stream) Buffers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// LastFormat returns the format of the most recent buffer.
func (s *Stream) LastFormat() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.formats) == 0 {
		return audio.Format{}
	}
	return s.formats[len(s.formats)-1]
}

// Finished reports whether Finish was called.
func (s *Stream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// ─── Mixer ────────────────────────────────────────────────────────────────────

// Channel is the recorded state of one Play call.
type Channel struct {
	Stream  *Stream
	Opts    audio.PlayOptions
	Stopped bool
}

// Mixer is a mock implementation of [audio.Mixer].
//
// By default a finished stream counts as drained immediately, so slots are
// reclaimed on the next tick. Set HoldFinished to keep finished streams
// active until [Mixer.Drain] is called.
type Mixer struct {
	mu sync.Mutex

	// HoldFinished keeps finished streams active until Drain.
	HoldFinished bool

	// PlayError is returned by [Mixer.Play].
	PlayError error

	next     audio.Handle
	channels map[audio.Handle]*Channel
	drained  map[audio.Handle]bool

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewMixer returns an empty mock mixer.
func NewMixer() *Mixer {
	return &Mixer{
		channels: make(map[audio.Handle]*Channel),
		drained:  make(map[audio.Handle]bool),
	}
}

// NewStream implements [audio.Mixer].
func (m *Mixer) NewStream() audio.Stream {
	return &Stream{}
}

// Play implements [audio.Mixer].
func (m *Mixer) Play(s audio.Stream, opts audio.PlayOptions) (audio.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlayError != nil {
		return 0, m.PlayError
	}
	ms, _ := s.(*Stream)
	m.next++
	m.channels[m.next] = &Channel{Stream: ms, Opts: opts}
	return m.next, nil
}

// Stop implements [audio.Mixer].
func (m *Mixer) Stop(h audio.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStop++
	if c, ok := m.channels[h]; ok {
		c.Stopped = true
	}
}

// SetVolume implements [audio.Mixer].
func (m *Mixer) SetVolume(h audio.Handle, volume int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.channels[h]; ok {
		c.Opts.Volume = volume
	}
}

// SetPan implements [audio.Mixer].
func (m *Mixer) SetPan(h audio.Handle, pan int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.channels[h]; ok {
		c.Opts.Pan = pan
	}
}

// IsActive implements [audio.Mixer].
func (m *Mixer) IsActive(h audio.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[h]
	if !ok || c.Stopped {
		return false
	}
	if c.Stream != nil && c.Stream.Finished() {
		return m.HoldFinished && !m.drained[h]
	}
	return true
}

// Drain marks h as fully rendered.
func (m *Mixer) Drain(h audio.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drained[h] = true
}

// Channel returns a snapshot of the state recorded for h.
func (m *Mixer) Channel(h audio.Handle) (Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[h]
	if !ok {
		return Channel{}, false
	}
	return *c, true
}

// Stream returns the stream played under h, or nil.
func (m *Mixer) Stream(h audio.Handle) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.channels[h]; ok {
		return c.Stream
	}
	return nil
}

// Plays returns the number of Play calls.
func (m *Mixer) Plays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}
