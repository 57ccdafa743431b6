package audio

import "encoding/binary"

// ToStereo16 converts PCM in format f to interleaved signed 16-bit stereo
// samples. Mono input is duplicated to both channels; 8-bit input is
// widened. A trailing partial frame is dropped.
func ToStereo16(data []byte, f Format) []int16 {
	frameSize := f.FrameSize()
	if frameSize == 0 {
		return nil
	}
	frames := len(data) / frameSize
	out := make([]int16, frames*2)
	for i := range frames {
		frame := data[i*frameSize:]
		l := sampleAt(frame, 0, f)
		r := l
		if f.Channels == 2 {
			r = sampleAt(frame, 1, f)
		}
		out[i*2] = l
		out[i*2+1] = r
	}
	return out
}

func sampleAt(frame []byte, ch int, f Format) int16 {
	if f.Bits == 8 {
		b := frame[ch]
		if f.Unsigned {
			return int16(int(b)-128) << 8
		}
		return int16(int8(b)) << 8
	}
	if f.BigEndian {
		return int16(binary.BigEndian.Uint16(frame[ch*2:]))
	}
	return int16(binary.LittleEndian.Uint16(frame[ch*2:]))
}

// PutStereo16 writes interleaved samples as little-endian 16-bit PCM into
// dst and returns the number of bytes written.
func PutStereo16(dst []byte, samples []int16) int {
	n := min(len(samples), len(dst)/2)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(samples[i]))
	}
	return n * 2
}

// PanGains returns the left and right gains, each 0-127, for pan 0-127
// with 64 as centre. Centre pans leave both channels at full gain.
func PanGains(pan int) (left, right int) {
	pan = max(0, min(pan, 127))
	switch {
	case pan < 64:
		return 127, pan * 127 / 64
	case pan > 64:
		return (127 - pan) * 127 / 63, 127
	default:
		return 127, 127
	}
}

// ClampInt16 clips v to the signed 16-bit range.
func ClampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
