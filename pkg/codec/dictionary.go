package codec

import "encoding/binary"

// maxDictionaryOutput bounds the output of a single dictionary block. Valid
// blocks never exceed one [BlockSize]; the slack covers the 12-bit family
// whose packed form is smaller than its output.
const maxDictionaryOutput = 4 * BlockSize

// controlReader hands out the control bits of a dictionary block. Bits come
// LSB-first from 16-bit little-endian mask words. When the last bit of a
// mask has been consumed the next mask is read immediately from the current
// source position, so mask words are interleaved with literal and offset
// bytes.
type controlReader struct {
	src      []byte
	pos      int
	mask     uint16
	bitsLeft int
	overrun  bool
}

func newControlReader(src []byte) *controlReader {
	r := &controlReader{src: src, bitsLeft: 16}
	r.mask = r.readMask()
	return r
}

func (r *controlReader) readMask() uint16 {
	if r.pos+2 > len(r.src) {
		r.overrun = true
		r.pos += 2
		return 0
	}
	m := binary.LittleEndian.Uint16(r.src[r.pos:])
	r.pos += 2
	return m
}

func (r *controlReader) readBit() int {
	bit := int(r.mask & 1)
	r.mask >>= 1
	r.bitsLeft--
	if r.bitsLeft == 0 {
		r.mask = r.readMask()
		r.bitsLeft = 16
	}
	return bit
}

func (r *controlReader) readByte() int {
	if r.pos >= len(r.src) {
		r.overrun = true
		r.pos++
		return 0
	}
	b := r.src[r.pos]
	r.pos++
	return int(b)
}

// decodeDictionary expands a dictionary-compressed block.
//
// A control bit of 1 copies one literal byte. A 0 is followed by a second
// bit selecting the reference form:
//
//	0 0 b1 b0   short: length ((b1<<1)|b0)+3, one offset byte, offset -256..-1
//	0 1         long: offset byte then a byte holding the high offset nibble
//	            and length-3 in its low nibble, offset -4096..-1
//
// A long reference whose length nibble is zero reads one more byte: zero
// ends the block, anything else leaves it a plain three byte copy.
func decodeDictionary(src []byte) ([]byte, error) {
	if len(src) < 2 {
		return nil, ErrCorrupt
	}
	r := newControlReader(src)
	dst := make([]byte, 0, BlockSize)

	for {
		if r.overrun || len(dst) > maxDictionaryOutput {
			return nil, ErrCorrupt
		}
		if r.readBit() == 1 {
			dst = append(dst, byte(r.readByte()))
			continue
		}

		var offset, size int
		if r.readBit() == 0 {
			size = r.readBit() << 1
			size = (size | r.readBit()) + 3
			offset = r.readByte() - 0x100
		} else {
			lo := r.readByte()
			hi := r.readByte()
			offset = lo | (hi&0xf0)<<4 - 0x1000
			size = hi&0x0f + 3
			if size == 3 && r.readByte() == 0 {
				if r.overrun {
					return nil, ErrCorrupt
				}
				return dst, nil
			}
		}

		from := len(dst) + offset
		if from < 0 {
			return nil, ErrCorrupt
		}
		// Byte at a time: the source may overlap what this copy produces.
		for i := 0; i < size; i++ {
			dst = append(dst, dst[from+i])
		}
	}
}

// accumulate runs a running-sum pass over b starting at index from.
func accumulate(b []byte, from int) {
	for i := from; i < len(b); i++ {
		b[i] += b[i-1]
	}
}
