package engine

import (
	"context"
	"log/slog"

	"github.com/MrWong99/scoreflow/pkg/audio"
	"github.com/MrWong99/scoreflow/pkg/codec"
	"github.com/MrWong99/scoreflow/pkg/sound"
)

// feedSize returns how many data bytes one tick consumes for format f. The
// quota is sized in output bytes and aligned to whole frames; for 12-bit
// data it is converted back to packed source bytes. A starved stream gets
// twice the quota so it can catch up.
func (e *Engine) feedSize(f sound.Format, starved bool) int {
	bps := 1
	if f.Bits == 12 || f.Bits == 16 {
		bps = 2
	}
	n := f.SampleRate * f.Channels * bps / e.tickRate
	if starved {
		n *= 2
	}
	switch {
	case bps == 2 && f.Channels == 2:
		n &^= 3
	case bps == 2 || f.Channels == 2:
		n &^= 1
	}
	if f.Bits == 12 {
		n = n / 4 * 3
	}
	return n
}

// feed pushes one tick of data for t. A tick may cross several region
// boundaries. Must hold e.mu.
func (e *Engine) feed(t *Track) {
	if t.region < 0 {
		e.switchToNextRegion(t)
		if !t.live() {
			return
		}
	}

	snd := t.snd
	desc := snd.Descriptor()
	quota := e.feedSize(desc.Format, t.stream.EndOfData())

	for hops := 0; quota > 0 && hops < maxHopsPerTick; hops++ {
		r := desc.Regions[t.region]
		if n := min(quota, r.Length-t.offset); n > 0 {
			data, err := snd.Read(r.Offset+t.offset, n)
			if err != nil {
				slog.Error("engine: read failed, stopping track", "sound", t.name, "slot", t.slot, "err", err)
				e.flushTrack(t)
				return
			}
			t.offset += n
			quota -= n
			if err := e.queue(t, data, desc.Format, quota == 0); err != nil {
				slog.Error("engine: queue failed, stopping track", "sound", t.name, "slot", t.slot, "err", err)
				e.flushTrack(t)
				return
			}
		}
		if t.offset >= r.Length {
			e.switchToNextRegion(t)
			// A trigger may hand the slot to different music.
			if !t.live() || t.snd != snd || t.region < 0 {
				return
			}
		}
	}
}

// queue converts data to a stream format and queues it on t's stream.
func (e *Engine) queue(t *Track, data []byte, f sound.Format, final bool) error {
	format := audio.Format{SampleRate: f.SampleRate, Channels: f.Channels, Bits: 16, BigEndian: true}
	switch f.Bits {
	case 8:
		format.Bits = 8
		format.Unsigned = true
	case 12:
		t.carry = append(t.carry, data...)
		whole := len(t.carry) / 3 * 3
		data = codec.Unpack12(t.carry[:whole])
		t.carry = append(t.carry[:0], t.carry[whole:]...)
	}
	if len(data) == 0 {
		return nil
	}
	return t.stream.QueueBuffer(data, final, format)
}

// switchToNextRegion resolves the end of t's current region, or positions
// a starting track. In order: fade slots end; the last region ends the
// track; a pending trigger whose marker opens the next region fades the
// track out and starts the trigger's music from its beginning; a jump for the track's hook (or hook 0) moves the
// cursor and consumes the hook; otherwise playback continues with the next
// region.
func (e *Engine) switchToNextRegion(t *Track) {
	if e.isFadeSlot(t) {
		e.flushTrack(t)
		return
	}

	desc := t.snd.Descriptor()
	boundary := desc.Regions[0].Offset
	if t.region >= 0 {
		boundary = desc.Regions[t.region].End()
	}
	next := t.region + 1
	if next >= len(desc.Regions) {
		e.flushTrack(t)
		return
	}

	if tr := e.trigger; tr != nil && t.group == audio.GroupMusic && desc.HasMarkerAt(next, tr.Marker) {
		e.trigger = nil
		t.region, t.offset = next, 0
		slog.Debug("engine: trigger fired", "marker", tr.Marker, "from", t.name, "to", tr.Name)
		snd, err := e.opener.Open(context.Background(), tr.Name, audio.GroupMusic)
		if err != nil {
			slog.Error("engine: trigger sound failed to open", "sound", tr.Name, "err", err)
			return
		}
		req := Request{ID: tr.SoundID, Name: tr.Name, Group: audio.GroupMusic, Hook: tr.Hook, Volume: tr.Volume, Priority: e.musicPriority}
		if _, err := e.swapMusicLocked(req, snd, tr.FadeDelay, "trigger", false); err != nil {
			slog.Error("engine: trigger start failed", "sound", tr.Name, "err", err)
		}
		return
	}

	j, dest, ok := desc.FindJumpAt(boundary, t.hook)
	if !ok {
		j, dest, ok = desc.FindJumpAt(boundary, 0)
	}
	if !ok {
		t.region, t.offset = next, 0
		return
	}

	// The outgoing region is exhausted at a jump, so its fade partner
	// replays it from the top while ramping down.
	if j.FadeDelay > 0 && t.region >= 0 {
		if f := e.cloneToFade(t, j.FadeDelay, "jump"); f != nil {
			f.offset, f.hook, f.carry = 0, 0, nil
		}
	}
	t.region, t.offset = dest, 0
	if t.hook == j.HookID {
		t.hook = 0
	}
}
