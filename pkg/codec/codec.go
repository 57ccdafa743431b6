// Package codec decodes the compressed blocks that bundle archives store
// sound data in.
//
// Every sound inside a bundle is split into blocks that each decompress to
// [BlockSize] bytes of PCM (the final block may be shorter). A block names
// the codec it was written with; [Decode] dispatches on that id. All lookup
// tables are built once when the package is initialised and never mutated,
// so Decode is safe for concurrent use.
package codec

import (
	"errors"
	"fmt"
)

// BlockSize is the decompressed size of every block except possibly the last.
const BlockSize = 8192

// ID identifies the codec a block was compressed with.
type ID uint32

const (
	// Raw blocks are stored uncompressed.
	Raw ID = 0

	// Dictionary blocks use back-reference (LZ77 style) compression.
	Dictionary ID = 1

	// Delta and DoubleDelta apply one or two running-sum passes after
	// dictionary decompression.
	Delta       ID = 2
	DoubleDelta ID = 3

	// Packed12 variants store two 12-bit samples in three bytes after
	// dictionary decompression and a single running-sum pass. The planar
	// variants additionally store the three bytes of each group in separate
	// planes.
	Packed12        ID = 4
	Packed12Planar  ID = 5
	Packed12Reverse ID = 6

	// DoublePacked12 variants are the Packed12 family with a double
	// running-sum pass.
	DoublePacked12        ID = 10
	DoublePacked12Planar  ID = 11
	DoublePacked12Reverse ID = 12

	// ADPCMMono and ADPCMStereo are the variable bit width ADPCM codecs.
	ADPCMMono   ID = 13
	ADPCMStereo ID = 15
)

var (
	// ErrUnsupportedCodec is returned by Decode for a codec id it does not
	// implement. Callers must treat it as a decode failure, never as silence.
	ErrUnsupportedCodec = errors.New("codec: unsupported codec")

	// ErrCorrupt is returned when a compressed block references data outside
	// of itself or never terminates.
	ErrCorrupt = errors.New("codec: corrupt block")
)

// String returns a short name for the codec, used as a metric attribute.
func (id ID) String() string {
	switch id {
	case Raw:
		return "raw"
	case Dictionary:
		return "dictionary"
	case Delta:
		return "delta"
	case DoubleDelta:
		return "double_delta"
	case Packed12, Packed12Planar, Packed12Reverse,
		DoublePacked12, DoublePacked12Planar, DoublePacked12Reverse:
		return "packed12"
	case ADPCMMono:
		return "adpcm_mono"
	case ADPCMStereo:
		return "adpcm_stereo"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(id))
	}
}

// Supported reports whether Decode implements id.
func (id ID) Supported() bool {
	switch id {
	case Raw, Dictionary, Delta, DoubleDelta,
		Packed12, Packed12Planar, Packed12Reverse,
		DoublePacked12, DoublePacked12Planar, DoublePacked12Reverse,
		ADPCMMono, ADPCMStereo:
		return true
	}
	return false
}

// Decode decompresses a single block. The returned slice is freshly
// allocated and never aliases src.
func Decode(id ID, src []byte) ([]byte, error) {
	switch id {
	case Raw:
		return append([]byte(nil), src...), nil

	case Dictionary:
		return decodeDictionary(src)

	case Delta, DoubleDelta:
		out, err := decodeDictionary(src)
		if err != nil {
			return nil, err
		}
		if id == DoubleDelta {
			accumulate(out, 2)
		}
		accumulate(out, 1)
		return out, nil

	case Packed12, Packed12Planar, Packed12Reverse,
		DoublePacked12, DoublePacked12Planar, DoublePacked12Reverse:
		return decodePacked12(id, src)

	case ADPCMMono:
		return decodeADPCM(src, 1)

	case ADPCMStereo:
		return decodeADPCM(src, 2)

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCodec, uint32(id))
	}
}
