package bundle

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/vazrupe/endibuf"

	"github.com/MrWong99/scoreflow/pkg/codec"
)

// TagBlockTable starts the block table at the head of every sound.
const TagBlockTable = "COMP"

// blockTableHeader is tag, count and 8 reserved bytes; every item is four
// big-endian words.
const (
	blockTableHeader = 16
	blockTableItem   = 16
)

// BlockEntry describes one compressed block of a sound. Offset is relative
// to the start of the sound.
type BlockEntry struct {
	Offset uint32
	Size   uint32
	Codec  codec.ID
}

// Observer receives per-block decode events, for metrics.
type Observer interface {
	// BlockDecoded is called after every decode attempt.
	BlockDecoded(id codec.ID, d time.Duration, err error)

	// BlockReused is called when a read is served from the cached block.
	BlockReused()
}

// Reader streams the decompressed bytes of one sound. It caches the last
// decoded block. A Reader is not safe for concurrent use; use [Reader.Clone]
// to read the same sound from another cursor.
type Reader struct {
	archive  *Archive
	entry    Entry
	blocks   []BlockEntry
	observer Observer

	cachedIndex int
	cached      []byte
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithObserver reports decode events to o.
func WithObserver(o Observer) ReaderOption {
	return func(r *Reader) { r.observer = o }
}

// OpenSound locates name and loads its block table.
func (a *Archive) OpenSound(name string, opts ...ReaderOption) (*Reader, error) {
	e, err := a.Locate(name)
	if err != nil {
		return nil, err
	}
	blocks, err := a.readBlockTable(e)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		archive:     a,
		entry:       e,
		blocks:      blocks,
		cachedIndex: -1,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (a *Archive) readBlockTable(e Entry) ([]BlockEntry, error) {
	if e.Size < blockTableHeader {
		return nil, fmt.Errorf("%w: %q too small for a block table", ErrCorrupt, e.Name)
	}
	br := endibuf.NewReader(io.NewSectionReader(a.r, int64(e.Offset), int64(e.Size)))
	br.Endian = binary.BigEndian

	tag, err := br.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("bundle: read block table of %q: %w", e.Name, err)
	}
	if string(tag) != TagBlockTable {
		return nil, fmt.Errorf("%w: block table of %q starts with %q", ErrBadTag, e.Name, tag)
	}
	count, err := br.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("bundle: read block table of %q: %w", e.Name, err)
	}
	if blockTableHeader+int64(count)*blockTableItem > int64(e.Size) {
		return nil, fmt.Errorf("%w: %q claims %d blocks in %d bytes", ErrCorrupt, e.Name, count, e.Size)
	}
	if _, err := br.Seek(8, io.SeekCurrent); err != nil {
		return nil, fmt.Errorf("bundle: read block table of %q: %w", e.Name, err)
	}

	blocks := make([]BlockEntry, count)
	for i := range blocks {
		var words [4]uint32
		for w := range words {
			if words[w], err = br.ReadUint32(); err != nil {
				return nil, fmt.Errorf("bundle: read block %d of %q: %w", i, e.Name, err)
			}
		}
		b := BlockEntry{Offset: words[0], Size: words[1], Codec: codec.ID(words[2])}
		if uint64(b.Offset)+uint64(b.Size) > uint64(e.Size) {
			return nil, fmt.Errorf("%w: block %d of %q spans past the sound", ErrCorrupt, i, e.Name)
		}
		blocks[i] = b
	}
	return blocks, nil
}

// Name returns the directory name of the sound.
func (r *Reader) Name() string { return r.entry.Name }

// Archive returns the archive the sound lives in.
func (r *Reader) Archive() *Archive { return r.archive }

// Blocks returns the block table.
func (r *Reader) Blocks() []BlockEntry { return r.blocks }

// Clone returns a reader over the same sound with its own block cache.
// The block table is shared; it is never modified.
func (r *Reader) Clone() *Reader {
	return &Reader{
		archive:     r.archive,
		entry:       r.entry,
		blocks:      r.blocks,
		observer:    r.observer,
		cachedIndex: -1,
	}
}

// ReadRange returns length decompressed bytes starting at start. With
// headerOutside set, start is relative to the end of a header of headerSize
// bytes; otherwise start is already absolute and headerSize is ignored.
//
// Only the most recently decoded block is kept, so sequential reads decode
// each block once and backward seeks decode again. A range running past the
// last block returns the bytes available and an error wrapping
// [io.ErrUnexpectedEOF].
func (r *Reader) ReadRange(start, length, headerSize int, headerOutside bool) ([]byte, error) {
	if start < 0 || length < 0 || headerSize < 0 {
		return nil, fmt.Errorf("bundle: read %q: negative range %d+%d", r.entry.Name, start, length)
	}
	if length == 0 {
		return []byte{}, nil
	}
	if len(r.blocks) == 0 {
		return nil, fmt.Errorf("bundle: read %q: %w", r.entry.Name, io.ErrUnexpectedEOF)
	}

	base := start
	if headerOutside {
		base += headerSize
	}
	first := base / codec.BlockSize
	last := min((base+length-1)/codec.BlockSize, len(r.blocks)-1)
	skip := base % codec.BlockSize

	out := make([]byte, 0, length)
	remaining := length
	for i := first; i <= last && remaining > 0; i++ {
		block, err := r.block(i)
		if err != nil {
			return out, err
		}
		n := len(block) - skip
		if skip+n > codec.BlockSize {
			n = codec.BlockSize - skip
		}
		n = min(n, remaining)
		if n <= 0 {
			break
		}
		out = append(out, block[skip:skip+n]...)
		remaining -= n
		skip = 0
	}
	if remaining > 0 {
		return out, fmt.Errorf("bundle: read %q at %d: %d bytes short: %w",
			r.entry.Name, start, remaining, io.ErrUnexpectedEOF)
	}
	return out, nil
}

// block returns decoded block i, from the cache when possible.
func (r *Reader) block(i int) ([]byte, error) {
	if r.cachedIndex == i {
		if r.observer != nil {
			r.observer.BlockReused()
		}
		return r.cached, nil
	}

	b := r.blocks[i]
	src := make([]byte, b.Size)
	if n, err := r.archive.r.ReadAt(src, int64(r.entry.Offset)+int64(b.Offset)); n < len(src) {
		return nil, fmt.Errorf("bundle: read block %d of %q: %w", i, r.entry.Name, err)
	}

	began := time.Now()
	pcm, err := codec.Decode(b.Codec, src)
	if r.observer != nil {
		r.observer.BlockDecoded(b.Codec, time.Since(began), err)
	}
	if err != nil {
		// Leave the cache as it was; a failed block must never be served.
		return nil, fmt.Errorf("bundle: decode block %d of %q: %w", i, r.entry.Name, err)
	}
	r.cachedIndex = i
	r.cached = pcm
	return pcm, nil
}
