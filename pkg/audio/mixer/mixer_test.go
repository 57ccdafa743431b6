package mixer_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/scoreflow/pkg/audio"
	"github.com/MrWong99/scoreflow/pkg/audio/mixer"
	"github.com/MrWong99/scoreflow/pkg/audio/mock"
)

var be16Mono = audio.Format{SampleRate: 8000, Channels: 1, Bits: 16, BigEndian: true}

func be16(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.BigEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// render reads frames stereo frames and returns them as int16 pairs.
func render(t *testing.T, m *mixer.SoftMixer, frames int) []int16 {
	t.Helper()
	p := make([]byte, frames*4)
	n, err := m.Read(p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(p) {
		t.Fatalf("Read n = %d, want %d", n, len(p))
	}
	out := make([]int16, frames*2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p[i*2:]))
	}
	return out
}

func play(t *testing.T, m *mixer.SoftMixer, f audio.Format, data []byte, opts audio.PlayOptions) (audio.Stream, audio.Handle) {
	t.Helper()
	s := m.NewStream()
	if err := s.QueueBuffer(data, true, f); err != nil {
		t.Fatalf("QueueBuffer: %v", err)
	}
	h, err := m.Play(s, opts)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	return s, h
}

func TestSoftMixer_PassThrough(t *testing.T) {
	t.Parallel()

	m := mixer.New(mixer.WithSampleRate(8000))
	play(t, m, be16Mono, be16(100, -200, 300), audio.PlayOptions{Volume: 127, Pan: 64})

	got := render(t, m, 4)
	want := []int16{100, 100, -200, -200, 300, 300, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSoftMixer_VolumeAndPan(t *testing.T) {
	t.Parallel()

	m := mixer.New(mixer.WithSampleRate(8000))
	_, h := play(t, m, be16Mono, be16(1270, 1270), audio.PlayOptions{Volume: 127, Pan: 0})

	got := render(t, m, 1)
	if got[0] != 1270 || got[1] != 0 {
		t.Errorf("hard left = %v, want [1270 0]", got[:2])
	}

	m.SetVolume(h, 0)
	m.SetPan(h, 64)
	got = render(t, m, 1)
	if got[0] != 0 || got[1] != 0 {
		t.Errorf("muted = %v, want silence", got[:2])
	}
}

func TestSoftMixer_SumsAndClips(t *testing.T) {
	t.Parallel()

	m := mixer.New(mixer.WithSampleRate(8000))
	opts := audio.PlayOptions{Volume: 127, Pan: 64}
	play(t, m, be16Mono, be16(30000, -30000), opts)
	play(t, m, be16Mono, be16(30000, -30000), opts)

	got := render(t, m, 2)
	if got[0] != 32767 || got[2] != -32768 {
		t.Errorf("mixed = %v, want clipped to the int16 rails", got)
	}
}

func TestSoftMixer_EightBitUnsigned(t *testing.T) {
	t.Parallel()

	m := mixer.New(mixer.WithSampleRate(8000))
	f := audio.Format{SampleRate: 8000, Channels: 2, Bits: 8, Unsigned: true}
	play(t, m, f, []byte{128, 255, 0, 128}, audio.PlayOptions{Volume: 127, Pan: 64})

	got := render(t, m, 2)
	want := []int16{0, 127 << 8, -128 << 8, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSoftMixer_Resamples(t *testing.T) {
	t.Parallel()

	m := mixer.New(mixer.WithSampleRate(16000))
	play(t, m, be16Mono, be16(0, 1000, 2000), audio.PlayOptions{Volume: 127, Pan: 64})

	got := render(t, m, 6)
	// Upsampling by two interpolates halfway between input frames.
	want := []int16{0, 500, 1000, 1500, 2000}
	for i, w := range want {
		if got[i*2] != w {
			t.Errorf("frame %d = %d, want %d", i, got[i*2], w)
		}
	}
}

func TestSoftMixer_FinishedStreamRetires(t *testing.T) {
	t.Parallel()

	m := mixer.New(mixer.WithSampleRate(8000))
	s, h := play(t, m, be16Mono, be16(1, 2, 3), audio.PlayOptions{Volume: 127, Pan: 64})

	render(t, m, 8)
	if !m.IsActive(h) {
		t.Fatal("stream retired before Finish")
	}
	if !s.EndOfData() {
		t.Error("EndOfData = false after all data rendered")
	}

	s.Finish()
	render(t, m, 1)
	if m.IsActive(h) {
		t.Error("finished and drained stream still active")
	}
	if err := s.QueueBuffer(be16(1), false, be16Mono); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("QueueBuffer after Finish error = %v, want ErrClosed", err)
	}
}

func TestSoftMixer_StopDiscards(t *testing.T) {
	t.Parallel()

	m := mixer.New(mixer.WithSampleRate(8000))
	_, h := play(t, m, be16Mono, be16(500, 500, 500), audio.PlayOptions{Volume: 127, Pan: 64})
	m.Stop(h)
	if m.IsActive(h) {
		t.Error("IsActive after Stop = true")
	}
	if got := render(t, m, 1); got[0] != 0 {
		t.Errorf("stopped stream rendered %d", got[0])
	}
}

func TestSoftMixer_VoiceLimitByPriority(t *testing.T) {
	t.Parallel()

	m := mixer.New(mixer.WithSampleRate(8000), mixer.WithMaxVoices(1))
	play(t, m, be16Mono, be16(100, 100), audio.PlayOptions{Volume: 127, Pan: 64, Priority: 10})
	play(t, m, be16Mono, be16(7, 7), audio.PlayOptions{Volume: 127, Pan: 64, Priority: 90})

	if got := render(t, m, 1); got[0] != 7 {
		t.Errorf("audible sample = %d, want the priority 90 stream (7)", got[0])
	}
	if m.Active() != 2 {
		t.Errorf("Active() = %d, want 2 (the quiet stream keeps its place)", m.Active())
	}
}

func TestSoftMixer_ForeignStreamAndClose(t *testing.T) {
	t.Parallel()

	m := mixer.New()
	if _, err := m.Play(&mock.Stream{}, audio.PlayOptions{}); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Play(foreign) error = %v, want ErrClosed", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := m.Read(make([]byte, 4)); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Read after Close error = %v, want ErrClosed", err)
	}
	if _, err := m.Play(m.NewStream(), audio.PlayOptions{}); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Play after Close error = %v, want ErrClosed", err)
	}
}
