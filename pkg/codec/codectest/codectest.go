// Package codectest builds compressed blocks for tests. It implements the
// encoding side of the dictionary and delta codecs so fixtures can be
// generated from plain PCM instead of being checked in as opaque bytes.
package codectest

import "encoding/binary"

// DictionaryWriter emits a dictionary-compressed block one token at a time.
// Control bits are packed LSB-first into 16-bit little-endian mask words; a
// new mask word is reserved at the current output position as soon as the
// previous one is full, which is where the decoder expects it.
type DictionaryWriter struct {
	buf     []byte
	maskPos int
	mask    uint16
	n       int
}

// NewDictionaryWriter returns an empty writer.
func NewDictionaryWriter() *DictionaryWriter {
	w := &DictionaryWriter{}
	w.reserve()
	return w
}

func (w *DictionaryWriter) reserve() {
	w.maskPos = len(w.buf)
	w.buf = append(w.buf, 0, 0)
	w.mask = 0
	w.n = 0
}

func (w *DictionaryWriter) flush() {
	binary.LittleEndian.PutUint16(w.buf[w.maskPos:], w.mask)
}

func (w *DictionaryWriter) bit(b int) {
	if b != 0 {
		w.mask |= 1 << w.n
	}
	w.n++
	if w.n == 16 {
		w.flush()
		w.reserve()
	}
}

// Literal emits one literal byte.
func (w *DictionaryWriter) Literal(b byte) {
	w.bit(1)
	w.buf = append(w.buf, b)
}

// Short emits a short back-reference. offset must be in [-256, -1] and size
// in [3, 6].
func (w *DictionaryWriter) Short(offset, size int) {
	s := size - 3
	w.bit(0)
	w.bit(0)
	w.bit(s >> 1 & 1)
	w.bit(s & 1)
	w.buf = append(w.buf, byte(offset+0x100))
}

// MaxLong is the longest copy a single long back-reference can encode.
const MaxLong = 18

// Long emits a long back-reference. offset must be in [-4096, -1] and size
// in [3, MaxLong]. A three byte copy carries a non-zero trailing byte so it
// is not read as the terminator.
func (w *DictionaryWriter) Long(offset, size int) {
	o := offset + 0x1000
	w.bit(0)
	w.bit(1)
	hi := byte(o>>8) << 4
	w.buf = append(w.buf, byte(o), hi|byte(size-3))
	if size == 3 {
		w.buf = append(w.buf, 0xff)
	}
}

// End emits the terminator and returns the finished block.
func (w *DictionaryWriter) End() []byte {
	w.bit(0)
	w.bit(1)
	w.buf = append(w.buf, 0, 0, 0)
	w.flush()
	return w.buf
}

// Compress encodes data with a greedy longest-match search.
func Compress(data []byte) []byte {
	w := NewDictionaryWriter()
	for i := 0; i < len(data); {
		off, size := longestMatch(data, i)
		size = min(size, MaxLong)
		switch {
		case size >= 3 && size <= 6 && off >= -256:
			w.Short(off, size)
		case size >= 4:
			w.Long(off, size)
		default:
			w.Literal(data[i])
			size = 1
		}
		i += size
	}
	return w.End()
}

func longestMatch(data []byte, pos int) (offset, size int) {
	start := max(0, pos-4096)
	for from := pos - 1; from >= start; from-- {
		n := 0
		for n < MaxLong && pos+n < len(data) && data[from+n] == data[pos+n] {
			n++
		}
		if n > size {
			offset, size = from-pos, n
		}
	}
	return offset, size
}

// DeltaEncode inverts the running-sum passes of the delta codecs. passes is
// 1 for the single pass codecs and 2 for the double pass codecs.
func DeltaEncode(pcm []byte, passes int) []byte {
	out := append([]byte(nil), pcm...)
	difference(out, 1)
	if passes == 2 {
		difference(out, 2)
	}
	return out
}

func difference(b []byte, from int) {
	for i := len(b) - 1; i >= from; i-- {
		b[i] -= b[i-1]
	}
}

// Pack12 packs unsigned 12-bit samples into the three-byte groups the
// 12-bit codecs store. An odd trailing sample is paired with zero.
func Pack12(samples []uint16) []byte {
	out := make([]byte, 0, (len(samples)+1)/2*3)
	for i := 0; i < len(samples); i += 2 {
		a := samples[i] & 0xfff
		var b uint16
		if i+1 < len(samples) {
			b = samples[i+1] & 0xfff
		}
		out = append(out, byte(a), byte(a>>8&0x0f)|byte(b>>8)<<4, byte(b))
	}
	return out
}

// Planar rearranges packed groups into three planes, the layout of the
// planar 12-bit codecs. reverse stores the planes last to first.
func Planar(packed []byte, reverse bool) []byte {
	n := len(packed) / 3
	out := make([]byte, n*3)
	for k := 0; k < 3; k++ {
		plane := k
		if reverse {
			plane = 2 - k
		}
		for i := 0; i < n; i++ {
			out[plane*n+i] = packed[i*3+k]
		}
	}
	return out
}
