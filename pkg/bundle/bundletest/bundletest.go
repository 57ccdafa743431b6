// Package bundletest assembles bundle archives in memory for tests.
package bundletest

import (
	"bytes"
	"encoding/binary"
	"sort"
	"strings"
	"testing"

	"github.com/MrWong99/scoreflow/pkg/bundle"
	"github.com/MrWong99/scoreflow/pkg/codec"
	"github.com/MrWong99/scoreflow/pkg/codec/codectest"
)

// Block is one compressed block of a sound.
type Block struct {
	Codec codec.ID
	Data  []byte
}

type sound struct {
	name   string
	blocks []Block
}

// Builder collects sounds and serialises them as an archive.
type Builder struct {
	LongNames bool
	sounds    []sound
}

// Add appends a sound made of pre-compressed blocks.
func (b *Builder) Add(name string, blocks ...Block) *Builder {
	b.sounds = append(b.sounds, sound{name: name, blocks: blocks})
	return b
}

// AddPCM splits pcm into blocks of [codec.BlockSize] and stores each one
// with id, which must be [codec.Raw] or [codec.Dictionary].
func (b *Builder) AddPCM(name string, pcm []byte, id codec.ID) *Builder {
	var blocks []Block
	for off := 0; off < len(pcm); off += codec.BlockSize {
		chunk := pcm[off:min(off+codec.BlockSize, len(pcm))]
		data := append([]byte(nil), chunk...)
		if id == codec.Dictionary {
			data = codectest.Compress(chunk)
		}
		blocks = append(blocks, Block{Codec: id, Data: data})
	}
	return b.Add(name, blocks...)
}

// Bytes serialises the archive.
func (b *Builder) Bytes() []byte {
	var body bytes.Buffer
	type dirEntry struct {
		name         string
		offset, size uint32
	}
	const headerLen = 12
	var dir []dirEntry

	for _, s := range b.sounds {
		start := headerLen + body.Len()
		tableLen := 16 + 16*len(s.blocks)

		var table bytes.Buffer
		table.WriteString(bundle.TagBlockTable)
		table.Write(be32(uint32(len(s.blocks))))
		table.Write(make([]byte, 8))
		off := tableLen
		for _, blk := range s.blocks {
			table.Write(be32(uint32(off)))
			table.Write(be32(uint32(len(blk.Data))))
			table.Write(be32(uint32(blk.Codec)))
			table.Write(be32(0))
			off += len(blk.Data)
		}
		body.Write(table.Bytes())
		for _, blk := range s.blocks {
			body.Write(blk.Data)
		}
		dir = append(dir, dirEntry{name: s.name, offset: uint32(start), size: uint32(headerLen + body.Len() - start)})
	}

	sort.Slice(dir, func(i, j int) bool {
		return strings.ToLower(dir[i].name) < strings.ToLower(dir[j].name)
	})

	var out bytes.Buffer
	if b.LongNames {
		out.WriteString(bundle.TagLongNames)
	} else {
		out.WriteString(bundle.TagShortNames)
	}
	out.Write(be32(uint32(headerLen + body.Len())))
	out.Write(be32(uint32(len(dir))))
	out.Write(body.Bytes())
	for _, e := range dir {
		out.Write(b.encodeName(e.name))
		out.Write(be32(e.offset))
		out.Write(be32(e.size))
	}
	return out.Bytes()
}

func (b *Builder) encodeName(name string) []byte {
	if b.LongNames {
		raw := make([]byte, 24)
		copy(raw, name)
		return raw
	}
	raw := make([]byte, 12)
	base, ext, _ := strings.Cut(name, ".")
	copy(raw[:8], base)
	copy(raw[8:], ext)
	return raw
}

// Archive builds the archive and opens it from memory.
func (b *Builder) Archive(tb testing.TB) *bundle.Archive {
	tb.Helper()
	data := b.Bytes()
	a, err := bundle.NewArchive("test.bun", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		tb.Fatalf("bundletest: open archive: %v", err)
	}
	return a
}

func be32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}
