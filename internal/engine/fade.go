package engine

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/scoreflow/internal/observe"
)

// ticksFor converts a delay in milliseconds to scheduler ticks, at least one.
func (e *Engine) ticksFor(ms int) int {
	return max(1, ms*e.tickRate/1000)
}

// startFade sets t ramping from its current volume to dest (0-127) over ms.
func (e *Engine) startFade(t *Track, dest, ms int) {
	t.fade = FadeRamp{
		Dest:      clamp127(dest) << volShift,
		TicksLeft: e.ticksFor(ms),
		Active:    true,
	}
}

// stepFade advances t's ramp by one tick. Each step covers an equal share of
// the remaining distance, so the volume lands exactly on Dest on the last
// tick. It reports true when a ramp to silence reached zero and the track was flushed.
func (e *Engine) stepFade(t *Track) bool {
	f := &t.fade
	f.Step = (f.Dest - t.vol) / f.TicksLeft
	t.vol += f.Step
	f.TicksLeft--
	if f.TicksLeft <= 0 {
		t.vol = f.Dest
		f.Active = false
	}
	if t.vol == 0 && f.Dest == 0 {
		e.flushTrack(t)
		return true
	}
	return false
}

// cloneToFade copies t into its fade partner slot and ramps the copy to
// silence over ms. The partner continues reading the same sound from the
// same cursor through its own stream, so t is free to move elsewhere. A
// partner still in use is stopped first. It returns the partner, or nil when
// the mixer refused it.
func (e *Engine) cloneToFade(t *Track, ms int, reason string) *Track {
	fid := t.slot + e.poolSize
	f := &e.tracks[fid]
	if f.used {
		e.stopNow(f)
	}

	*f = t.clone(fid)
	stream := e.mixer.NewStream()
	h, err := e.mixer.Play(stream, e.playOptions(f))
	if err != nil {
		slog.Warn("engine: crossfade failed to start", "sound", t.name, "slot", fid, "err", err)
		*f = Track{slot: fid}
		return nil
	}
	f.stream, f.handle = stream, h
	e.startFade(f, 0, ms)

	ctx := context.Background()
	e.metrics.ActiveTracks.Add(ctx, 1)
	e.metrics.Crossfades.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", reason)))
	return f
}
