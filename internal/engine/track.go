package engine

import (
	"github.com/MrWong99/scoreflow/pkg/audio"
	"github.com/MrWong99/scoreflow/pkg/sound"
)

// volShift converts between the public 0-127 volume and the fixed point
// value tracks carry, which keeps fade ramps smooth at low delays.
const volShift = 7

// State is where a track slot is in its lifecycle.
type State int

const (
	// Idle slots hold nothing.
	Idle State = iota

	// Starting tracks have been granted a slot but not yet positioned.
	Starting

	// Playing tracks are fed every tick.
	Playing

	// FadingOut tracks are ramping to silence.
	FadingOut

	// Draining tracks get no more data and wait for the mixer to finish.
	Draining
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Playing:
		return "playing"
	case FadingOut:
		return "fading-out"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// FadeRamp moves a track's volume towards Dest over TicksLeft ticks. Step
// is the change applied on the most recent tick; its sign always matches
// Dest minus the current volume.
type FadeRamp struct {
	Dest      int
	Step      int
	TicksLeft int
	Active    bool
}

// Track is one playback slot. Slots below the pool size are primary; the
// slot at id+poolSize is the fade partner of primary slot id.
type Track struct {
	slot        int
	used        bool
	toBeRemoved bool

	soundID int
	name    string
	group   audio.Group
	snd     *sound.Sound

	// region is -1 until the first tick positions the track. offset is the
	// cursor in data bytes from the region start.
	region int
	offset int

	// carry holds packed 12-bit bytes not yet forming a whole sample pair.
	carry []byte

	priority int
	vol      int
	pan      int
	hook     int
	fade     FadeRamp

	stream audio.Stream
	handle audio.Handle
}

// clone deep-copies t into slot. The copy gets its own sound cursor; the
// caller installs a stream.
func (t *Track) clone(slot int) Track {
	c := *t
	c.slot = slot
	c.snd = t.snd.Clone()
	c.carry = append([]byte(nil), t.carry...)
	c.fade = FadeRamp{}
	c.stream = nil
	c.handle = 0
	return c
}

func (t *Track) state() State {
	switch {
	case !t.used:
		return Idle
	case t.toBeRemoved:
		return Draining
	case t.region < 0:
		return Starting
	case t.fade.Active && t.fade.Dest == 0:
		return FadingOut
	default:
		return Playing
	}
}

// volume returns the 0-127 volume.
func (t *Track) volume() int { return t.vol >> volShift }

// live reports whether t is playing and not being torn down.
func (t *Track) live() bool { return t.used && !t.toBeRemoved }

// positionMs returns the cursor position from the start of the data.
func (t *Track) positionMs() int {
	if t.region < 0 {
		return 0
	}
	desc := t.snd.Descriptor()
	return desc.Format.BytesToMs(desc.Regions[t.region].Offset + t.offset)
}

// TrackInfo is a point-in-time view of one slot.
type TrackInfo struct {
	Slot     int    `json:"slot"`
	Fade     bool   `json:"fade"`
	State    string `json:"state"`
	SoundID  int    `json:"sound_id"`
	Name     string `json:"name,omitempty"`
	Group    string `json:"group"`
	Region   int    `json:"region"`
	Offset   int    `json:"offset"`
	Priority int    `json:"priority"`
	Volume   int    `json:"volume"`
	Pan      int    `json:"pan"`
	Hook     int    `json:"hook"`
}
