package sound

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vazrupe/endibuf"
)

// Chunk tags of the map header.
const (
	tagContainer = "iMUS"
	tagMap       = "MAP "
	tagFormat    = "FRMT"
	tagText      = "TEXT"
	tagRegion    = "REGN"
	tagJump      = "JUMP"
	tagSync      = "SYNC"
	tagStop      = "STOP"
	tagData      = "DATA"
)

var (
	// ErrBadHeader is returned when the data does not start with a valid
	// map header.
	ErrBadHeader = errors.New("sound: bad header")

	// ErrShortHeader is returned when the header continues past the bytes
	// supplied. Callers retry with more data.
	ErrShortHeader = errors.New("sound: header truncated")
)

// ParseHeader parses the map header at the start of a sound's decoded data.
// HeaderSize of the result is the offset of the first data byte.
func ParseHeader(name string, data []byte) (*Descriptor, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("sound: %q: %w", name, ErrShortHeader)
	}
	r := endibuf.NewReader(bytes.NewReader(data))
	r.Endian = binary.BigEndian

	tag, _, err := readChunkHeader(r)
	if err != nil {
		return nil, wrapShort(name, err)
	}
	if tag != tagContainer {
		return nil, fmt.Errorf("%w: %q starts with %q", ErrBadHeader, name, tag)
	}
	if tag, _, err = readChunkHeader(r); err != nil {
		return nil, wrapShort(name, err)
	}
	if tag != tagMap {
		return nil, fmt.Errorf("%w: %q has %q where %q belongs", ErrBadHeader, name, tag, tagMap)
	}

	d := &Descriptor{Name: name}
	pos := 16
	sawFormat := false
	for {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("sound: %q: %w", name, ErrShortHeader)
		}
		tag, size, err := readChunkHeader(r)
		if err != nil {
			return nil, wrapShort(name, err)
		}
		pos += 8
		if tag == tagData {
			d.HeaderSize = pos
			break
		}
		if size < 0 || pos+size > len(data) {
			return nil, fmt.Errorf("sound: %q chunk %q: %w", name, tag, ErrShortHeader)
		}
		body, err := r.ReadBytes(size)
		if err != nil {
			return nil, wrapShort(name, err)
		}
		pos += size

		switch tag {
		case tagFormat:
			w, err := words(body, 4)
			if err != nil {
				return nil, fmt.Errorf("%w: %q %s: %v", ErrBadHeader, name, tag, err)
			}
			d.Format = Format{Bits: w[1], SampleRate: w[2], Channels: w[3]}
			sawFormat = true
		case tagText:
			w, err := words(body, 1)
			if err != nil {
				return nil, fmt.Errorf("%w: %q %s: %v", ErrBadHeader, name, tag, err)
			}
			label := body[4:]
			if i := bytes.IndexByte(label, 0); i >= 0 {
				label = label[:i]
			}
			d.Markers = append(d.Markers, Marker{Offset: w[0], Label: string(label)})
		case tagRegion:
			w, err := words(body, 2)
			if err != nil {
				return nil, fmt.Errorf("%w: %q %s: %v", ErrBadHeader, name, tag, err)
			}
			d.Regions = append(d.Regions, Region{Offset: w[0], Length: w[1]})
		case tagJump:
			w, err := words(body, 4)
			if err != nil {
				return nil, fmt.Errorf("%w: %q %s: %v", ErrBadHeader, name, tag, err)
			}
			d.Jumps = append(d.Jumps, Jump{Offset: w[0], Dest: w[1], HookID: w[2], FadeDelay: w[3]})
		case tagSync:
			points := make([]SyncPoint, 0, len(body)/4)
			for i := 0; i+4 <= len(body); i += 4 {
				points = append(points, SyncPoint{
					Time:   int(binary.BigEndian.Uint16(body[i:])),
					Width:  int(body[i+2]),
					Height: int(body[i+3]),
				})
			}
			d.Sync = append(d.Sync, points)
		case tagStop:
			// End-of-data marker; the last region already bounds playback.
		}
	}

	if !sawFormat {
		return nil, fmt.Errorf("%w: %q has no format chunk", ErrBadHeader, name)
	}
	if err := d.Format.Validate(); err != nil {
		return nil, fmt.Errorf("sound: %q: %w", name, err)
	}
	if len(d.Regions) == 0 {
		return nil, fmt.Errorf("%w: %q has no regions", ErrBadHeader, name)
	}
	for i, rg := range d.Regions {
		if rg.Offset < 0 || rg.Length <= 0 {
			return nil, fmt.Errorf("%w: %q region %d spans %d+%d", ErrBadHeader, name, i, rg.Offset, rg.Length)
		}
	}
	return d, nil
}

func readChunkHeader(r *endibuf.Reader) (string, int, error) {
	tag, err := r.ReadBytes(4)
	if err != nil {
		return "", 0, err
	}
	if len(tag) < 4 {
		return "", 0, io.ErrUnexpectedEOF
	}
	size, err := r.ReadUint32()
	if err != nil {
		return "", 0, err
	}
	return string(tag), int(int32(size)), nil
}

// words decodes the first n big-endian 32-bit words of body.
func words(body []byte, n int) ([]int, error) {
	if len(body) < n*4 {
		return nil, fmt.Errorf("chunk of %d bytes, need %d", len(body), n*4)
	}
	w := make([]int, n)
	for i := range w {
		w[i] = int(int32(binary.BigEndian.Uint32(body[i*4:])))
	}
	return w, nil
}

func wrapShort(name string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("sound: %q: %w", name, ErrShortHeader)
	}
	return fmt.Errorf("sound: %q: %w", name, err)
}
