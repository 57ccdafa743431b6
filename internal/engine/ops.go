package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/scoreflow/internal/observe"
	"github.com/MrWong99/scoreflow/pkg/audio"
	"github.com/MrWong99/scoreflow/pkg/sound"
)

// Request asks for a sound to be started.
type Request struct {
	// ID is the caller's sound id used by every later operation.
	ID int

	// Name is the sound's name in its bundles.
	Name  string
	Group audio.Group

	// Hook selects the jumps taken at region ends. 0 takes the default path.
	Hook int

	// Volume and Priority are 0-127.
	Volume   int
	Priority int
}

func (r Request) validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: empty sound name", ErrInvalid)
	case r.Volume < 0 || r.Volume > 127:
		return fmt.Errorf("%w: volume %d", ErrInvalid, r.Volume)
	case r.Priority < 0 || r.Priority > 127:
		return fmt.Errorf("%w: priority %d", ErrInvalid, r.Priority)
	}
	return nil
}

// Trigger defers a music change until the playing music reaches a region
// that opens with Marker.
type Trigger struct {
	Marker    string
	FadeDelay int
	Name      string
	SoundID   int
	Hook      int
	Volume    int
}

// StartSound opens req.Name and starts it in a free or evicted slot. It
// returns false with a nil error when no slot could be granted.
func (e *Engine) StartSound(ctx context.Context, req Request) (bool, error) {
	if err := req.validate(); err != nil {
		return false, err
	}
	snd, err := e.opener.Open(ctx, req.Name, req.Group)
	if err != nil {
		return false, fmt.Errorf("engine: start %q: %w", req.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked(req, snd, nil)
}

// StartMusic starts name as music at the music priority.
func (e *Engine) StartMusic(ctx context.Context, name string, id, hook, volume int) (bool, error) {
	return e.StartSound(ctx, e.musicRequest(name, id, hook, volume))
}

// StartMusicWithOtherPos starts name as music at the region and cursor of
// the live track playing otherID, so the new music continues where the
// old left off. Without such a track it starts from the beginning.
func (e *Engine) StartMusicWithOtherPos(ctx context.Context, name string, id, hook, volume, otherID int) (bool, error) {
	req := e.musicRequest(name, id, hook, volume)
	if err := req.validate(); err != nil {
		return false, err
	}
	snd, err := e.opener.Open(ctx, name, audio.GroupMusic)
	if err != nil {
		return false, fmt.Errorf("engine: start %q: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var pos *Track
	if t := e.findLocked(otherID); t != nil {
		cp := *t
		pos = &cp
	}
	return e.startLocked(req, snd, pos)
}

func (e *Engine) musicRequest(name string, id, hook, volume int) Request {
	return Request{ID: id, Name: name, Group: audio.GroupMusic, Hook: hook, Volume: volume, Priority: e.musicPriority}
}

// startLocked installs snd in a slot. pos, when set and compatible with snd,
// supplies the starting region and cursor. Must hold e.mu.
func (e *Engine) startLocked(req Request, snd *sound.Sound, pos *Track) (bool, error) {
	if e.closed {
		return false, ErrClosed
	}
	ctx := context.Background()
	group := metric.WithAttributes(observe.Attr("group", req.Group.String()))

	slot := e.allocSlot(req.Priority)
	if slot < 0 {
		slog.Warn("engine: start rejected", "sound", req.Name, "id", req.ID, "priority", req.Priority, "err", ErrNoSlot)
		e.metrics.TrackRejections.Add(ctx, 1, group)
		return false, nil
	}

	t := &e.tracks[slot]
	*t = Track{
		slot:     slot,
		used:     true,
		soundID:  req.ID,
		name:     req.Name,
		group:    req.Group,
		snd:      snd,
		region:   -1,
		priority: req.Priority,
		vol:      req.Volume << volShift,
		pan:      64,
		hook:     req.Hook,
		stream:   e.mixer.NewStream(),
	}
	if pos != nil && pos.region >= 0 && pos.region < len(snd.Descriptor().Regions) {
		t.region, t.offset = pos.region, pos.offset
		t.carry = append([]byte(nil), pos.carry...)
	}

	h, err := e.mixer.Play(t.stream, e.playOptions(t))
	if err != nil {
		*t = Track{slot: slot}
		return false, fmt.Errorf("engine: play %q: %w", req.Name, err)
	}
	t.handle = h

	e.metrics.TrackStarts.Add(ctx, 1, group)
	e.metrics.ActiveTracks.Add(ctx, 1)
	slog.Debug("engine: track started", "sound", req.Name, "id", req.ID, "slot", slot, "priority", req.Priority)
	return true, nil
}

// findLocked returns the first live primary track playing id.
func (e *Engine) findLocked(id int) *Track {
	for i := range e.poolSize {
		if t := &e.tracks[i]; t.live() && t.soundID == id {
			return t
		}
	}
	return nil
}

// eachLocked calls fn for every live primary track playing id.
func (e *Engine) eachLocked(id int, fn func(t *Track)) {
	for i := range e.poolSize {
		if t := &e.tracks[i]; t.live() && t.soundID == id {
			fn(t)
		}
	}
}

// musicLocked returns the live primary music track, or nil.
func (e *Engine) musicLocked() *Track {
	for i := range e.poolSize {
		if t := &e.tracks[i]; t.live() && t.group == audio.GroupMusic {
			return t
		}
	}
	return nil
}

// StopSound flushes every track playing id, fade slots included.
func (e *Engine) StopSound(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.tracks {
		if t := &e.tracks[i]; t.live() && t.soundID == id {
			e.flushTrack(t)
		}
	}
}

// StopAllSounds silences every track at once and drops a pending trigger.
func (e *Engine) StopAllSounds() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.tracks {
		if e.tracks[i].used {
			e.stopNow(&e.tracks[i])
		}
	}
	e.trigger = nil
}

// SetVolume sets the volume (0-127) of id. A running fade is cancelled.
func (e *Engine) SetVolume(id, volume int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eachLocked(id, func(t *Track) {
		t.vol = clamp127(volume) << volShift
		t.fade.Active = false
	})
}

// SetPan sets the pan (0-127, 64 centre) of id.
func (e *Engine) SetPan(id, pan int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eachLocked(id, func(t *Track) { t.pan = clamp127(pan) })
}

// SetPriority sets the priority (0-127) of id.
func (e *Engine) SetPriority(id, priority int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eachLocked(id, func(t *Track) { t.priority = clamp127(priority) })
}

// SetHookID sets the hook of id. It applies at the next region end.
func (e *Engine) SetHookID(id, hook int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eachLocked(id, func(t *Track) { t.hook = hook })
}

// SetFade ramps the volume of id to dest (0-127) over ms. A fade to 0 stops
// the track when it completes.
func (e *Engine) SetFade(id, dest, ms int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eachLocked(id, func(t *Track) { e.startFade(t, dest, ms) })
}

// SetGroup moves id to volume group g.
func (e *Engine) SetGroup(id int, g audio.Group) error {
	if int(g) < 0 || int(g) >= len(e.groupVol) {
		return fmt.Errorf("%w: group %d", ErrInvalid, g)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eachLocked(id, func(t *Track) { t.group = g })
	return nil
}

// SetGroupVolume sets the volume (0-127) applied on top of every track of g.
func (e *Engine) SetGroupVolume(g audio.Group, volume int) error {
	if int(g) < 0 || int(g) >= len(e.groupVol) {
		return fmt.Errorf("%w: group %d", ErrInvalid, g)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groupVol[g] = clamp127(volume)
	return nil
}

// GroupVolume returns the volume of g.
func (e *Engine) GroupVolume(g audio.Group) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(g) < 0 || int(g) >= len(e.groupVol) {
		return 0
	}
	return e.groupVol[g]
}

// SetHookForMusic sets the hook of the playing music.
func (e *Engine) SetHookForMusic(hook int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.poolSize {
		if t := &e.tracks[i]; t.live() && t.group == audio.GroupMusic {
			t.hook = hook
		}
	}
}

// FadeOutMusic crossfades all playing music to silence over ms.
func (e *Engine) FadeOutMusic(ms int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.poolSize {
		if t := &e.tracks[i]; t.live() && t.group == audio.GroupMusic {
			e.cloneToFade(t, ms, "fade-out")
			e.flushTrack(t)
		}
	}
}

// FadeOutMusicAndStartNew starts name as music at volume, positioned at
// the region and cursor of the playing music, and crossfades the old music
// out over ms. With no music playing the new music simply starts.
func (e *Engine) FadeOutMusicAndStartNew(ctx context.Context, ms int, name string, id, volume int) (bool, error) {
	req := e.musicRequest(name, id, 0, volume)
	if err := req.validate(); err != nil {
		return false, err
	}
	snd, err := e.opener.Open(ctx, name, audio.GroupMusic)
	if err != nil {
		return false, fmt.Errorf("engine: start %q: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.swapMusicLocked(req, snd, ms, "replace", true)
}

// swapMusicLocked fades the playing music out over ms and starts snd in
// its place, from the old music's cursor when keepPos is set. The old track
// moves to its fade partner before the new one is allocated, so allocation
// never evicts a track the caller is still advancing. Must hold e.mu.
func (e *Engine) swapMusicLocked(req Request, snd *sound.Sound, ms int, reason string, keepPos bool) (bool, error) {
	old := e.musicLocked()
	if old == nil {
		return e.startLocked(req, snd, nil)
	}
	var pos *Track
	if keepPos {
		cp := *old
		pos = &cp
	}
	e.cloneToFade(old, ms, reason)
	e.flushTrack(old)

	ok, err := e.startLocked(req, snd, pos)
	if !ok && err == nil && old.used && old.toBeRemoved {
		// The draining slot is the only candidate; its fade partner
		// already carries the outgoing music.
		e.stopNow(old)
		ok, err = e.startLocked(req, snd, pos)
	}
	return ok, err
}

// SetTrigger registers t, replacing any pending trigger.
func (e *Engine) SetTrigger(t Trigger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trigger = &t
}

// PendingTrigger returns the registered trigger, if any.
func (e *Engine) PendingTrigger() (Trigger, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.trigger == nil {
		return Trigger{}, false
	}
	return *e.trigger, true
}

// Pause stops feeding tracks. Queued audio still drains.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume undoes Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}
