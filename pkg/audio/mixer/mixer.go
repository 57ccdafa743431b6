package mixer

import (
	"container/heap"
	"sync"

	"github.com/MrWong99/scoreflow/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Mixer = (*SoftMixer)(nil)

const (
	// DefaultSampleRate is the output rate when none is configured via
	// [WithSampleRate].
	DefaultSampleRate = 44100

	// DefaultMaxVoices is how many streams are mixed at once when none is
	// configured via [WithMaxVoices].
	DefaultMaxVoices = 16
)

// Option configures a [SoftMixer] during construction.
type Option func(*SoftMixer)

// WithSampleRate sets the output sample rate.
func WithSampleRate(rate int) Option {
	return func(m *SoftMixer) {
		if rate > 0 {
			m.rate = rate
		}
	}
}

// WithMaxVoices limits how many streams are rendered at once. Streams beyond
// the limit keep their place but are silent and do not advance until a
// voice frees up.
func WithMaxVoices(n int) Option {
	return func(m *SoftMixer) {
		if n > 0 {
			m.maxVoices = n
		}
	}
}

// channel is one playing stream.
type channel struct {
	handle  audio.Handle
	s       *stream
	opts    audio.PlayOptions
	seq     uint64
	stopped bool
}

// SoftMixer is a concrete [audio.Mixer] that renders into a byte buffer.
// It implements [io.Reader]: every Read renders as many whole output frames
// as fit, so it can be handed directly to an audio device player.
//
// All exported methods are safe for concurrent use.
type SoftMixer struct {
	mu        sync.Mutex
	rate      int
	maxVoices int
	next      audio.Handle
	seq       uint64
	channels  map[audio.Handle]*channel
	voices    voiceQueue
	scratch   []int32
	closed    bool
}

// New creates a [SoftMixer].
func New(opts ...Option) *SoftMixer {
	m := &SoftMixer{
		rate:      DefaultSampleRate,
		maxVoices: DefaultMaxVoices,
		channels:  make(map[audio.Handle]*channel),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SampleRate returns the output rate.
func (m *SoftMixer) SampleRate() int { return m.rate }

// NewStream implements [audio.Mixer].
func (m *SoftMixer) NewStream() audio.Stream {
	return &stream{m: m}
}

// Play implements [audio.Mixer]. s must have been created by this mixer.
func (m *SoftMixer) Play(s audio.Stream, opts audio.PlayOptions) (audio.Handle, error) {
	st, ok := s.(*stream)
	if !ok || st.m != m {
		return 0, audio.ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, audio.ErrClosed
	}
	m.next++
	m.seq++
	c := &channel{handle: m.next, s: st, opts: opts, seq: m.seq}
	m.channels[c.handle] = c
	return c.handle, nil
}

// Stop implements [audio.Mixer].
func (m *SoftMixer) Stop(h audio.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.channels[h]; ok {
		c.stopped = true
		delete(m.channels, h)
	}
}

// SetVolume implements [audio.Mixer].
func (m *SoftMixer) SetVolume(h audio.Handle, volume int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.channels[h]; ok {
		c.opts.Volume = max(0, min(volume, 127))
	}
}

// SetPan implements [audio.Mixer].
func (m *SoftMixer) SetPan(h audio.Handle, pan int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.channels[h]; ok {
		c.opts.Pan = max(0, min(pan, 127))
	}
}

// IsActive implements [audio.Mixer].
func (m *SoftMixer) IsActive(h audio.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.channels[h]
	return ok && !c.stopped
}

// Active returns the number of channels still rendering.
func (m *SoftMixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Read renders len(p)/4 stereo frames of signed 16-bit little-endian PCM.
// With nothing playing it renders silence, so a device never starves.
// Read returns [audio.ErrClosed] after Close.
func (m *SoftMixer) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, audio.ErrClosed
	}
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}

	if cap(m.scratch) < frames*2 {
		m.scratch = make([]int32, frames*2)
	}
	acc := m.scratch[:frames*2]
	clear(acc)

	for _, c := range m.audibleLocked() {
		m.renderLocked(c, acc)
	}

	out := make([]int16, len(acc))
	for i, v := range acc {
		out[i] = audio.ClampInt16(v)
	}
	return audio.PutStereo16(p, out), nil
}

// audibleLocked returns the channels that get a voice this render, highest
// priority first. Must be called with m.mu held.
func (m *SoftMixer) audibleLocked() []*channel {
	m.voices = m.voices[:0]
	for _, c := range m.channels {
		heap.Push(&m.voices, c)
	}
	n := min(m.maxVoices, m.voices.Len())
	audible := make([]*channel, 0, n)
	for range n {
		audible = append(audible, heap.Pop(&m.voices).(*channel))
	}
	return audible
}

// renderLocked adds one channel into acc and retires it once its stream is
// finished and drained. Must be called with m.mu held.
func (m *SoftMixer) renderLocked(c *channel, acc []int32) {
	s := c.s
	if s.rate == 0 {
		if s.finished {
			delete(m.channels, c.handle)
		}
		return
	}
	step := float64(s.rate) / float64(m.rate)
	lg, rg := audio.PanGains(c.opts.Pan)
	vol := int32(c.opts.Volume)

	for i := 0; i < len(acc); i += 2 {
		l, r, ok := s.next(step)
		if !ok {
			break
		}
		acc[i] += l * vol / 127 * int32(lg) / 127
		acc[i+1] += r * vol / 127 * int32(rg) / 127
	}
	if s.finished && s.framesLeft() == 0 {
		delete(m.channels, c.handle)
	}
}

// Close stops every channel. Close is idempotent; subsequent calls are
// no-ops and return nil.
func (m *SoftMixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for h, c := range m.channels {
		c.stopped = true
		delete(m.channels, h)
	}
	return nil
}
