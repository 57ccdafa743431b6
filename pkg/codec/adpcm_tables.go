package codec

// imaStepTable is the standard IMA ADPCM quantizer step table.
var imaStepTable = [89]int32{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

const maxStepIndex = len(imaStepTable) - 1

// stepIndexAdjust holds the step index adaptation for every packet width
// from 2 to 7 bits, indexed by the packet's magnitude bits.
var stepIndexAdjust = [6][]int8{
	{-1, 4},
	{-1, -1, 2, 6},
	{-1, -1, -1, -1, 1, 2, 4, 6},
	{-1, -1, -1, -1, -1, -1, -1, -1, 1, 1, 1, 2, 2, 4, 5, 6},
	{
		-1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1,
		1, 1, 1, 1, 1, 2, 2, 2, 2, 4, 4, 4, 5, 5, 6, 6,
	},
	{
		-1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1,
		-1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1,
		1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2,
		2, 2, 4, 4, 4, 4, 4, 4, 4, 4, 5, 5, 5, 5, 6, 6,
	},
}

var (
	// packetBits is the width in bits (2..7) of the next packet for every
	// step index.
	packetBits = buildPacketBits()

	// magnitudes is the dequantized magnitude for every (step index, 6-bit
	// window) pair, laid out as magnitudes[index*64+window].
	magnitudes = buildMagnitudes()
)

func buildPacketBits() [89]int {
	var t [89]int
	for i, step := range imaStepTable {
		put := 1
		for v := step * 4 / 7 / 2; v != 0; v /= 2 {
			put++
		}
		put = max(3, min(put, 8))
		t[i] = put - 1
	}
	return t
}

func buildMagnitudes() [89 * 64]int32 {
	var t [89 * 64]int32
	for window := 0; window < 64; window++ {
		for i, step := range imaStepTable {
			var sum int32
			for bit, part := 32, step; bit != 0; bit, part = bit/2, part/2 {
				if bit&window != 0 {
					sum += part
				}
			}
			t[i*64+window] = sum
		}
	}
	return t
}
