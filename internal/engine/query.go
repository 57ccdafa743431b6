package engine

// SoundStatus reports whether id is playing in any slot, including tracks
// still draining queued audio.
func (e *Engine) SoundStatus(id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.tracks {
		t := &e.tracks[i]
		if !t.used || t.soundID != id {
			continue
		}
		if !t.toBeRemoved || e.mixer.IsActive(t.handle) {
			return true
		}
	}
	return false
}

// PositionMs returns the playback position of id in milliseconds, or 0.
func (e *Engine) PositionMs(id int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t := e.findLocked(id); t != nil {
		return t.positionMs()
	}
	return 0
}

// CurMusicSoundID returns the id of the playing music, or -1.
func (e *Engine) CurMusicSoundID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t := e.musicLocked(); t != nil {
		return t.soundID
	}
	return -1
}

// CurMusicPositionMs returns the position of the playing music, or 0.
func (e *Engine) CurMusicPositionMs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t := e.musicLocked(); t != nil {
		return t.positionMs()
	}
	return 0
}

// LipSync returns the mouth width and height of sync track syncID of id at
// ms.
func (e *Engine) LipSync(id, syncID, ms int) (width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t := e.findLocked(id); t != nil {
		return t.snd.Descriptor().LipSync(syncID, ms)
	}
	return 0, 0
}

// Snapshot returns the state of every slot, primary slots first.
func (e *Engine) Snapshot() []TrackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TrackInfo, len(e.tracks))
	for i := range e.tracks {
		t := &e.tracks[i]
		out[i] = TrackInfo{
			Slot:     i,
			Fade:     e.isFadeSlot(t),
			State:    t.state().String(),
			SoundID:  t.soundID,
			Name:     t.name,
			Group:    t.group.String(),
			Region:   t.region,
			Offset:   t.offset,
			Priority: t.priority,
			Volume:   t.volume(),
			Pan:      t.pan,
			Hook:     t.hook,
		}
	}
	return out
}
