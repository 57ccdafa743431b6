// Package bundle reads indexed bundle archives: a sorted directory mapping
// sound names to byte ranges, and per-sound block tables describing how each
// sound was compressed.
//
// An [Archive] is opened once and shared; every playing sound streams through
// its own [Reader], which keeps the most recently decoded block so that
// sequential reads in small steps decode each block once.
package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/vazrupe/endibuf"
)

// Directory tags.
const (
	// TagShortNames marks a directory of 8.4 names.
	TagShortNames = "LB83"

	// TagLongNames marks a directory of 24 byte names.
	TagLongNames = "LB23"
)

const (
	shortNameLen = 8
	shortExtLen  = 4
	longNameLen  = 24
)

var (
	// ErrBadTag is returned when an archive or block table does not start
	// with the expected tag.
	ErrBadTag = errors.New("bundle: bad tag")

	// ErrNotFound is returned by Locate for a name missing from the directory.
	ErrNotFound = errors.New("bundle: sound not found")

	// ErrCorrupt is returned for a directory or block table whose sizes or
	// offsets do not fit the archive.
	ErrCorrupt = errors.New("bundle: corrupt archive")
)

// Entry is one directory entry.
type Entry struct {
	Name   string
	Offset uint32
	Size   uint32
}

// Archive is an opened bundle with its directory loaded. It is immutable
// after Open and safe for concurrent use; readers share its underlying file.
type Archive struct {
	path    string
	r       io.ReaderAt
	size    int64
	closer  io.Closer
	entries []Entry
	keys    []string
}

// Open opens the archive at path and loads its directory.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: open %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bundle: stat %q: %w", path, err)
	}
	a, err := newArchive(path, f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	a.closer = f
	return a, nil
}

// NewArchive loads the directory of an archive held in r, which must be
// size bytes long. name is used in errors and logs only.
func NewArchive(name string, r io.ReaderAt, size int64) (*Archive, error) {
	return newArchive(name, r, size)
}

func newArchive(path string, r io.ReaderAt, size int64) (*Archive, error) {
	br := endibuf.NewReader(io.NewSectionReader(r, 0, size))
	br.Endian = binary.BigEndian

	tag, err := br.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("bundle: read header of %q: %w", path, err)
	}
	var nameLen int
	switch string(tag) {
	case TagShortNames:
		nameLen = shortNameLen + shortExtLen
	case TagLongNames:
		nameLen = longNameLen
	default:
		return nil, fmt.Errorf("%w: %q in %q", ErrBadTag, tag, path)
	}

	dirOffset, err := br.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("bundle: read header of %q: %w", path, err)
	}
	count, err := br.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("bundle: read header of %q: %w", path, err)
	}

	entrySize := int64(nameLen + 8)
	if int64(dirOffset)+int64(count)*entrySize > size {
		return nil, fmt.Errorf("%w: directory of %d entries at %d exceeds %d bytes in %q",
			ErrCorrupt, count, dirOffset, size, path)
	}
	if _, err := br.Seek(int64(dirOffset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("bundle: seek directory of %q: %w", path, err)
	}

	a := &Archive{
		path:    path,
		r:       r,
		size:    size,
		entries: make([]Entry, 0, count),
	}
	for i := uint32(0); i < count; i++ {
		raw, err := br.ReadBytes(nameLen)
		if err != nil {
			return nil, fmt.Errorf("bundle: read entry %d of %q: %w", i, path, err)
		}
		var e Entry
		if nameLen == longNameLen {
			e.Name = cString(raw)
		} else {
			e.Name = shortName(raw)
		}
		if e.Offset, err = br.ReadUint32(); err != nil {
			return nil, fmt.Errorf("bundle: read entry %d of %q: %w", i, path, err)
		}
		if e.Size, err = br.ReadUint32(); err != nil {
			return nil, fmt.Errorf("bundle: read entry %d of %q: %w", i, path, err)
		}
		if int64(e.Offset)+int64(e.Size) > size {
			return nil, fmt.Errorf("%w: entry %q spans past end of %q", ErrCorrupt, e.Name, path)
		}
		a.entries = append(a.entries, e)
	}

	// Archives are authored sorted, but case folding may reorder entries;
	// sort again so binary search is always valid.
	sort.SliceStable(a.entries, func(i, j int) bool {
		return strings.ToLower(a.entries[i].Name) < strings.ToLower(a.entries[j].Name)
	})
	a.keys = make([]string, len(a.entries))
	for i, e := range a.entries {
		a.keys[i] = strings.ToLower(e.Name)
	}
	return a, nil
}

// shortName joins an 8.4 name, skipping NUL padding.
func shortName(raw []byte) string {
	var b strings.Builder
	for _, c := range raw[:shortNameLen] {
		if c != 0 {
			b.WriteByte(c)
		}
	}
	b.WriteByte('.')
	for _, c := range raw[shortNameLen:] {
		if c != 0 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func cString(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

// Path returns the path or name the archive was opened with.
func (a *Archive) Path() string { return a.path }

// Len returns the number of directory entries.
func (a *Archive) Len() int { return len(a.entries) }

// Entries returns a copy of the directory in lookup order.
func (a *Archive) Entries() []Entry {
	return append([]Entry(nil), a.entries...)
}

// Locate finds name in the directory, ignoring case. A miss returns an
// error wrapping [ErrNotFound] that names the closest entry, if any.
func (a *Archive) Locate(name string) (Entry, error) {
	key := strings.ToLower(name)
	i := sort.SearchStrings(a.keys, key)
	if i < len(a.keys) && a.keys[i] == key {
		return a.entries[i], nil
	}
	if best := a.closest(key); best != "" {
		return Entry{}, fmt.Errorf("%w: %q in %q (did you mean %q?)", ErrNotFound, name, a.path, best)
	}
	return Entry{}, fmt.Errorf("%w: %q in %q", ErrNotFound, name, a.path)
}

// closestThreshold is the minimum Jaro-Winkler similarity for a suggestion.
const closestThreshold = 0.85

func (a *Archive) closest(key string) string {
	var (
		best  string
		score float64
	)
	for i, k := range a.keys {
		if s := matchr.JaroWinkler(key, k, false); s > score {
			best, score = a.entries[i].Name, s
		}
	}
	if score < closestThreshold {
		return ""
	}
	return best
}

// Close releases the underlying file, if the archive owns one.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
