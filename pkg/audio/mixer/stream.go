package mixer

import (
	"github.com/MrWong99/scoreflow/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Stream = (*stream)(nil)

// stream is the mixer's queue for one producer. Queued PCM is converted to
// stereo int16 on arrival so rendering only resamples and scales. All fields
// are guarded by the owning mixer's mutex.
type stream struct {
	m *SoftMixer

	rate     int
	pending  []int16 // interleaved stereo at rate
	pos      float64 // fractional frame position into pending
	finished bool
}

// QueueBuffer implements [audio.Stream].
func (s *stream) QueueBuffer(data []byte, _ bool, f audio.Format) error {
	samples := audio.ToStereo16(data, f)

	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if s.finished {
		return audio.ErrClosed
	}
	if s.rate != 0 && s.rate != f.SampleRate {
		// A rate change restarts resampling at the new rate; whatever is
		// still pending plays at the new rate too.
		s.pos = 0
	}
	s.rate = f.SampleRate
	s.compact()
	s.pending = append(s.pending, samples...)
	return nil
}

// Finish implements [audio.Stream].
func (s *stream) Finish() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.finished = true
}

// EndOfData implements [audio.Stream].
func (s *stream) EndOfData() bool {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.framesLeft() == 0
}

// framesLeft returns the number of whole frames not yet rendered.
func (s *stream) framesLeft() int {
	left := len(s.pending)/2 - int(s.pos)
	return max(0, left)
}

// compact drops rendered frames from the front of pending.
func (s *stream) compact() {
	done := int(s.pos)
	if done == 0 {
		return
	}
	if done*2 >= len(s.pending) {
		s.pending = s.pending[:0]
	} else {
		s.pending = append(s.pending[:0], s.pending[done*2:]...)
	}
	s.pos -= float64(done)
}

// next returns the frame at the current position and advances by step.
// ok is false when the stream has no frame to render.
func (s *stream) next(step float64) (l, r int32, ok bool) {
	i := int(s.pos)
	if i*2+1 >= len(s.pending) {
		return 0, 0, false
	}
	l, r = int32(s.pending[i*2]), int32(s.pending[i*2+1])

	// Linear interpolation towards the following frame, if queued.
	if frac := s.pos - float64(i); frac > 0 && (i+1)*2+1 < len(s.pending) {
		l += int32(float64(int32(s.pending[(i+1)*2])-l) * frac)
		r += int32(float64(int32(s.pending[(i+1)*2+1])-r) * frac)
	}
	s.pos += step
	return l, r, true
}
