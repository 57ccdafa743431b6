package audio

import "fmt"

// Format describes PCM queued on a [Stream].
type Format struct {
	SampleRate int
	Channels   int

	// Bits is 8 or 16.
	Bits int

	// BigEndian applies to 16-bit samples.
	BigEndian bool

	// Unsigned applies to 8-bit samples, which are centred on 128.
	Unsigned bool
}

// FrameSize returns the size in bytes of one sample frame.
func (f Format) FrameSize() int {
	return f.Channels * f.Bits / 8
}

// String returns a human-readable format such as "22050Hz 16-bit BE stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	order := ""
	if f.Bits == 16 {
		order = " LE"
		if f.BigEndian {
			order = " BE"
		}
	}
	return fmt.Sprintf("%dHz %d-bit%s %s", f.SampleRate, f.Bits, order, ch)
}

// Group classifies what a stream carries. Groups have independent volume.
type Group int

const (
	// GroupSFX is sound effects, the default.
	GroupSFX Group = iota

	// GroupVoice is speech.
	GroupVoice

	// GroupMusic is the score.
	GroupMusic
)

// String returns the lower-case name of the group.
func (g Group) String() string {
	switch g {
	case GroupSFX:
		return "sfx"
	case GroupVoice:
		return "voice"
	case GroupMusic:
		return "music"
	default:
		return "unknown"
	}
}

// ParseGroup maps a group name to its value.
func ParseGroup(s string) (Group, error) {
	switch s {
	case "sfx":
		return GroupSFX, nil
	case "voice":
		return GroupVoice, nil
	case "music":
		return GroupMusic, nil
	}
	return 0, fmt.Errorf("audio: unknown group %q", s)
}
