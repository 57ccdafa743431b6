//go:build !headless

package device

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Oto plays a source on the default sound card.
type Oto struct {
	mu      sync.Mutex
	ctx     *oto.Context
	player  *oto.Player
	started bool
	closed  bool
}

// NewOto opens the sound card and prepares src for playback. It blocks
// until the device is ready. Only one oto context may exist per process.
func NewOto(src Source, opts ...Option) (*Oto, error) {
	o := buildOptions(opts)
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   o.sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   o.buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("device: open oto: %w", err)
	}
	<-ready

	return &Oto{ctx: ctx, player: ctx.NewPlayer(src)}, nil
}

// Start implements [Output].
func (d *Oto) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("device: start: %w", ErrUnavailable)
	}
	if !d.started {
		d.player.Play()
		d.started = true
	}
	return nil
}

// Close implements [Output].
func (d *Oto) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.started = false
	if err := d.player.Close(); err != nil {
		return fmt.Errorf("device: close oto: %w", err)
	}
	return nil
}

var _ Output = (*Oto)(nil)
