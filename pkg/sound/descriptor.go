// Package sound describes the structure of a decoded sound: its sample
// format, the regions playback moves through, the jumps that connect them
// and the markers used for triggers and lip-sync.
package sound

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadFormat is returned for sample formats the engine cannot play.
var ErrBadFormat = errors.New("sound: unsupported format")

// Format is the PCM layout of a sound's data.
type Format struct {
	SampleRate int
	Bits       int
	Channels   int
}

// Validate checks that f is playable: 8, 12 or 16 bits, one or two
// channels and a rate in (0, 65535].
func (f Format) Validate() error {
	var errs []error
	switch f.Bits {
	case 8, 12, 16:
	default:
		errs = append(errs, fmt.Errorf("%w: %d bits", ErrBadFormat, f.Bits))
	}
	if f.Channels != 1 && f.Channels != 2 {
		errs = append(errs, fmt.Errorf("%w: %d channels", ErrBadFormat, f.Channels))
	}
	if f.SampleRate <= 0 || f.SampleRate > 65535 {
		errs = append(errs, fmt.Errorf("%w: %d Hz", ErrBadFormat, f.SampleRate))
	}
	return errors.Join(errs...)
}

// BytesToMs converts a byte offset in the data to milliseconds.
func (f Format) BytesToMs(offset int) int {
	if f.SampleRate == 0 || f.Bits == 0 || f.Channels == 0 {
		return 0
	}
	frames := int64(offset) * 8 / int64(f.Bits*f.Channels)
	return int(frames * 1000 / int64(f.SampleRate))
}

// Region is a playable span of the data, in bytes from the data start.
type Region struct {
	Offset int
	Length int
}

// End returns the offset just past the region.
func (r Region) End() int { return r.Offset + r.Length }

// Jump connects the end of one region to the start of another. It applies
// when the track's hook id equals HookID. FadeDelay is in milliseconds; a
// non-zero delay crossfades the outgoing audio.
type Jump struct {
	Offset    int
	Dest      int
	HookID    int
	FadeDelay int
}

// Marker labels a position in the data.
type Marker struct {
	Offset int
	Label  string
}

// SyncPoint is one lip-sync sample. Time is in units of 16 ms.
type SyncPoint struct {
	Time   int
	Width  int
	Height int
}

// Descriptor is the structural metadata of one sound. It is read-only while
// shared; use Clone to obtain an independent copy.
type Descriptor struct {
	Name       string
	Format     Format
	HeaderSize int
	Regions    []Region
	Jumps      []Jump
	Markers    []Marker
	Sync       [][]SyncPoint
}

// Clone returns a deep copy of d.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Regions = append([]Region(nil), d.Regions...)
	c.Jumps = append([]Jump(nil), d.Jumps...)
	c.Markers = append([]Marker(nil), d.Markers...)
	if d.Sync != nil {
		c.Sync = make([][]SyncPoint, len(d.Sync))
		for i, s := range d.Sync {
			c.Sync[i] = append([]SyncPoint(nil), s...)
		}
	}
	return &c
}

// RegionAt returns the index of the region starting at offset, or -1.
func (d *Descriptor) RegionAt(offset int) int {
	for i, r := range d.Regions {
		if r.Offset == offset {
			return i
		}
	}
	return -1
}

// FindJump returns the jump leaving region under hook, and the index of its
// destination region. A jump leaves a region when its offset equals the
// region's end.
func (d *Descriptor) FindJump(region, hook int) (Jump, int, bool) {
	if region < 0 || region >= len(d.Regions) {
		return Jump{}, -1, false
	}
	return d.FindJumpAt(d.Regions[region].End(), hook)
}

// FindJumpAt returns the jump taken at data offset under hook, and the index
// of its destination region.
func (d *Descriptor) FindJumpAt(offset, hook int) (Jump, int, bool) {
	for _, j := range d.Jumps {
		if j.Offset != offset || j.HookID != hook {
			continue
		}
		if dest := d.RegionAt(j.Dest); dest >= 0 {
			return j, dest, true
		}
	}
	return Jump{}, -1, false
}

// HasMarkerAt reports whether a marker with label (compared without case)
// sits at the start of region.
func (d *Descriptor) HasMarkerAt(region int, label string) bool {
	if region < 0 || region >= len(d.Regions) {
		return false
	}
	start := d.Regions[region].Offset
	for _, m := range d.Markers {
		if m.Offset == start && strings.EqualFold(m.Label, label) {
			return true
		}
	}
	return false
}

// LipSync returns the mouth width and height of sync track id at ms. Both
// are zero when the track does not exist or ms precedes its first point.
func (d *Descriptor) LipSync(id, ms int) (width, height int) {
	if id < 0 || id >= len(d.Sync) {
		return 0, 0
	}
	t := ms / 16
	for _, p := range d.Sync[id] {
		if p.Time > t {
			break
		}
		width, height = p.Width, p.Height
	}
	return width, height
}
