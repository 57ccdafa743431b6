package codec

import "encoding/binary"

// decodePacked12 handles codecs 4-6 and 10-12: dictionary decompression, one
// or two running-sum passes, optional plane reordering, then widening of the
// packed 12-bit samples to signed 16-bit big-endian PCM.
func decodePacked12(id ID, src []byte) ([]byte, error) {
	packed, err := decodeDictionary(src)
	if err != nil {
		return nil, err
	}

	switch id {
	case DoublePacked12, DoublePacked12Planar, DoublePacked12Reverse:
		accumulate(packed, 2)
	}
	accumulate(packed, 1)

	switch id {
	case Packed12Planar, DoublePacked12Planar:
		packed = interleavePlanes(packed, false)
	case Packed12Reverse, DoublePacked12Reverse:
		packed = interleavePlanes(packed, true)
	}

	return Unpack12(packed), nil
}

// interleavePlanes undoes the planar layout of the transposed 12-bit
// codecs. The packed data of n groups is stored as three planes of n bytes,
// plane k holding byte k of every group; reverse stores the planes last to
// first. Trailing bytes that do not form a whole group are dropped.
func interleavePlanes(b []byte, reverse bool) []byte {
	n := len(b) / 3
	out := make([]byte, n*3)
	for k := 0; k < 3; k++ {
		plane := k
		if reverse {
			plane = 2 - k
		}
		base := plane * n
		for i := 0; i < n; i++ {
			out[i*3+k] = b[base+i]
		}
	}
	return out
}

// Unpack12 widens packed 12-bit samples to signed 16-bit big-endian PCM.
// Every three input bytes v1 v2 v3 hold two unsigned samples: the first is
// v1 plus the low nibble of v2 as bits 8-11, the second is v3 plus the high
// nibble of v2. Each sample is shifted left by four and re-centred around
// zero. Trailing bytes that do not form a whole group are ignored.
func Unpack12(packed []byte) []byte {
	groups := len(packed) / 3
	out := make([]byte, groups*4)
	for i := 0; i < groups; i++ {
		v1 := int32(packed[i*3])
		v2 := int32(packed[i*3+1])
		v3 := int32(packed[i*3+2])

		s1 := ((v2&0x0f)<<8|v1)<<4 - 0x8000
		s2 := ((v2&0xf0)<<4|v3)<<4 - 0x8000

		binary.BigEndian.PutUint16(out[i*4:], uint16(int16(s1)))
		binary.BigEndian.PutUint16(out[i*4+2:], uint16(int16(s2)))
	}
	return out
}
