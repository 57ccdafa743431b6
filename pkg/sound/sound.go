package sound

import (
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/scoreflow/pkg/bundle"
	"github.com/MrWong99/scoreflow/pkg/codec"
)

// maxHeaderSize bounds how far Open reads looking for the end of the header.
const maxHeaderSize = 8 * codec.BlockSize

// Sound is an opened sound: its descriptor plus a reader positioned over
// its data. A Sound is owned by one track at a time; Clone gives a second
// track an independent cursor over the same archive data.
type Sound struct {
	desc *Descriptor
	src  *bundle.Reader
}

// Open reads and parses the header of the sound behind src.
func Open(src *bundle.Reader) (*Sound, error) {
	for n := codec.BlockSize; ; n *= 2 {
		data, err := src.ReadRange(0, n, 0, false)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("sound: open %q: %w", src.Name(), err)
		}
		short := err != nil

		desc, perr := ParseHeader(src.Name(), data)
		if perr == nil {
			return &Sound{desc: desc, src: src}, nil
		}
		if !errors.Is(perr, ErrShortHeader) || short || n >= maxHeaderSize {
			return nil, perr
		}
	}
}

// New pairs an already parsed descriptor with its reader.
func New(desc *Descriptor, src *bundle.Reader) *Sound {
	return &Sound{desc: desc, src: src}
}

// Descriptor returns the sound's metadata. Callers must not modify it.
func (s *Sound) Descriptor() *Descriptor { return s.desc }

// Name returns the sound's directory name.
func (s *Sound) Name() string { return s.desc.Name }

// Read returns length data bytes starting at offset, measured from the
// first byte after the header.
func (s *Sound) Read(offset, length int) ([]byte, error) {
	return s.src.ReadRange(offset, length, s.desc.HeaderSize, true)
}

// Clone returns a deep copy of the descriptor paired with a fresh reader
// over the same archive data.
func (s *Sound) Clone() *Sound {
	return &Sound{desc: s.desc.Clone(), src: s.src.Clone()}
}
