package device

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Null consumes a source in real time and discards the audio. It keeps the
// mixer draining so tracks progress and finish exactly as they would on a
// sound card.
type Null struct {
	src      Source
	interval time.Duration
	chunk    int

	consumed atomic.Int64

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewNull returns an output that pulls src every buffer period.
func NewNull(src Source, opts ...Option) *Null {
	o := buildOptions(opts)
	return &Null{
		src:      src,
		interval: o.buffer,
		chunk:    bufferBytes(o.sampleRate, o.buffer),
		done:     make(chan struct{}),
	}
}

// Start implements [Output].
func (n *Null) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-n.done:
		return ErrUnavailable
	default:
	}
	if n.started {
		return nil
	}
	n.started = true
	n.wg.Add(1)
	go n.run()
	return nil
}

func (n *Null) run() {
	defer n.wg.Done()

	buf := make([]byte, n.chunk)
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			if !n.Pull(buf) {
				return
			}
		}
	}
}

// Pull reads one buffer from the source. It reports false once the source
// is exhausted or failed.
func (n *Null) Pull(buf []byte) bool {
	read, err := io.ReadFull(n.src, buf)
	n.consumed.Add(int64(read))
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return false
	default:
		slog.Warn("device: null output source failed", "err", err)
		return false
	}
}

// Consumed returns the number of bytes pulled so far.
func (n *Null) Consumed() int64 { return n.consumed.Load() }

// Close implements [Output].
func (n *Null) Close() error {
	n.mu.Lock()
	select {
	case <-n.done:
		n.mu.Unlock()
		return nil
	default:
		close(n.done)
	}
	n.mu.Unlock()
	n.wg.Wait()
	return nil
}

var _ Output = (*Null)(nil)
