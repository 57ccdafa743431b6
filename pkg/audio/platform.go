// Package audio defines the output side of the engine: the formats PCM is
// queued in, and the interfaces the track scheduler pushes audio through.
//
// The two primary abstractions are:
//
//   - [Stream]: a queue of PCM buffers owned by one playing track.
//   - [Mixer]: plays streams with a priority, volume and pan, and reports
//     when a stream has been fully rendered.
//
// A software implementation lives in audio/mixer and a device sink in
// audio/device. audio/mock records calls for tests.
//
// This package lives under pkg/ because embedders are expected to supply
// their own [Mixer] when the engine runs inside a host with its own audio
// pipeline.
package audio

import "errors"

// ErrClosed is returned by operations on a closed mixer or finished stream.
var ErrClosed = errors.New("audio: closed")

// Handle identifies a playing stream inside a [Mixer]. The zero Handle is
// never issued.
type Handle uint64

// Stream is a queue of PCM buffers. The producer queues data and finally
// calls Finish; the consumer renders buffers in order.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// QueueBuffer appends data in format f. final marks the end of what the
	// producer has available right now; it is a hint, not an end of stream.
	QueueBuffer(data []byte, final bool, f Format) error

	// Finish marks the stream complete. Already queued data still plays.
	Finish()

	// EndOfData reports whether every queued byte has been consumed. The
	// producer uses it to detect that it fell behind.
	EndOfData() bool
}

// PlayOptions controls how a stream is mixed.
type PlayOptions struct {
	// Priority decides which streams are audible when the mixer runs out
	// of voices. Range 0-127, higher wins.
	Priority int

	// Volume is 0-127.
	Volume int

	// Pan is 0-127 with 64 as centre.
	Pan int

	// Group classifies the stream.
	Group Group
}

// Mixer plays streams.
//
// Implementations must be safe for concurrent use.
type Mixer interface {
	// NewStream creates an empty stream ready to be played.
	NewStream() Stream

	// Play starts rendering s and returns its handle.
	Play(s Stream, opts PlayOptions) (Handle, error)

	// Stop silences h immediately and discards its queued data.
	Stop(h Handle)

	// SetVolume changes the volume (0-127) of h.
	SetVolume(h Handle, volume int)

	// SetPan changes the pan (0-127) of h.
	SetPan(h Handle, pan int)

	// IsActive reports whether h is still rendering. A stream stays active
	// until it was stopped, or finished and fully consumed.
	IsActive(h Handle) bool
}
