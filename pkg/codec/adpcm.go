package codec

import "encoding/binary"

// adpcmSamples is the number of 16-bit samples in one decoded ADPCM block.
const adpcmSamples = BlockSize / 2

// adpcmSeed is the per-channel decoder state stored at the head of a block.
type adpcmSeed struct {
	stepIndex int
	sample    int32
}

// decodeADPCM decodes a variable bit width ADPCM block with the given
// channel count (1 or 2).
//
// The block starts with a 16-bit big-endian word. A non-zero word is the
// length of raw PCM copied verbatim before decoding resumes from a zero
// state. A zero word is followed by a seed per channel: step index (1 byte),
// 4 unused bytes and the initial sample (32-bit big-endian).
//
// Channels are coded one after another in a single bitstream and are
// interleaved on output. Samples are written as signed 16-bit big-endian.
func decodeADPCM(src []byte, channels int) ([]byte, error) {
	if len(src) < 2 {
		return nil, ErrCorrupt
	}

	dst := make([]byte, BlockSize)
	samplesLeft := adpcmSamples
	seeds := make([]adpcmSeed, channels)

	pos := 2
	outBase := 0
	if raw := int(binary.BigEndian.Uint16(src)); raw != 0 {
		if raw&1 != 0 || raw > BlockSize || pos+raw > len(src) {
			return nil, ErrCorrupt
		}
		copy(dst, src[pos:pos+raw])
		pos += raw
		outBase = raw
		samplesLeft -= raw / 2
	} else {
		if pos+9*channels > len(src) {
			return nil, ErrCorrupt
		}
		for ch := range seeds {
			seeds[ch].stepIndex = min(int(src[pos]), maxStepIndex)
			seeds[ch].sample = clampSample(int32(binary.BigEndian.Uint32(src[pos+5:])))
			pos += 9
		}
	}

	stream := src[pos:]
	bitOffset := 0
	for ch := 0; ch < channels; ch++ {
		stepIndex := seeds[ch].stepIndex
		sample := seeds[ch].sample
		out := outBase + ch*2

		bound := samplesLeft
		if channels == 2 {
			bound = samplesLeft / 2
			if ch == 0 {
				bound = (samplesLeft + 1) / 2
			}
		}

		for i := 0; i < bound; i++ {
			bits := packetBits[stepIndex]

			window := uint16(byteAt(stream, bitOffset>>3))<<8 | uint16(byteAt(stream, bitOffset>>3+1))
			window <<= bitOffset & 7
			packet := int(window >> (16 - bits))
			bitOffset += bits

			signMask := 1 << (bits - 1)
			data := packet & (signMask - 1)

			delta := imaStepTable[stepIndex]>>(bits-1) + magnitudes[stepIndex*64+data<<(7-bits)]
			if packet&signMask != 0 {
				delta = -delta
			}

			sample = clampSample(sample + delta)
			if out+2 <= len(dst) {
				binary.BigEndian.PutUint16(dst[out:], uint16(int16(sample)))
			}
			out += channels * 2

			stepIndex += int(stepIndexAdjust[bits-2][data])
			stepIndex = max(0, min(stepIndex, maxStepIndex))
		}
	}

	return dst, nil
}

// byteAt returns b[i], or zero past the end. The 16-bit read window of the
// last packets may extend beyond the block.
func byteAt(b []byte, i int) byte {
	if i < len(b) {
		return b[i]
	}
	return 0
}

func clampSample(s int32) int32 {
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return s
}
