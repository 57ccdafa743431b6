// Package mixer provides a software [audio.Mixer]. It renders every playing
// stream into signed 16-bit little-endian stereo at a fixed output rate,
// applying per-stream volume and pan, and limits how many streams are heard
// at once by priority.
package mixer

// voiceQueue orders channels for voice allocation through container/heap:
// the highest play priority pops first and, within one priority, the
// channel that started playing first.
type voiceQueue []*channel

func (q voiceQueue) Len() int { return len(q) }

func (q voiceQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.opts.Priority != b.opts.Priority {
		return a.opts.Priority > b.opts.Priority
	}
	return a.seq < b.seq
}

func (q voiceQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *voiceQueue) Push(x any) { *q = append(*q, x.(*channel)) }

func (q *voiceQueue) Pop() any {
	old := *q
	c := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return c
}
