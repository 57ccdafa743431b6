package command

import "fmt"

// Op is a command opcode.
type Op int

// Opcodes accepted by [Dispatcher.Do].
const (
	OpNone       Op = 0
	OpStartSound Op = 8
	OpStopSound  Op = 9
	OpStopAll    Op = 10
	OpSetParam   Op = 12
	OpFadeParam  Op = 14

	OpSetState     Op = 0x1000
	OpSetSequence  Op = 0x1001
	OpSetCuePoint  Op = 0x1002
	OpSetAttribute Op = 0x1003

	OpSoundStatus Op = 0x1800
	OpPosition    Op = 0x1801
	OpLipSync     Op = 0x1802

	OpVolumeSFX   Op = 0x2000
	OpVolumeVoice Op = 0x2001
	OpVolumeMusic Op = 0x2002
)

// Sub-operations of [OpSetParam] and [OpFadeParam].
const (
	ParamGroup    = 0x400
	ParamPriority = 0x500
	ParamVolume   = 0x600
	ParamPan      = 0x700
	ParamHook     = 0x800
)

var opNames = map[Op]string{
	OpNone:         "none",
	OpStartSound:   "start",
	OpStopSound:    "stop",
	OpStopAll:      "stop-all",
	OpSetParam:     "set-param",
	OpFadeParam:    "fade-param",
	OpSetState:     "set-state",
	OpSetSequence:  "set-sequence",
	OpSetCuePoint:  "set-cue",
	OpSetAttribute: "set-attribute",
	OpSoundStatus:  "status",
	OpPosition:     "position",
	OpLipSync:      "lip-sync",
	OpVolumeSFX:    "volume-sfx",
	OpVolumeVoice:  "volume-voice",
	OpVolumeMusic:  "volume-music",
}

// String returns the opcode's name, or its hex value when unknown.
func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("0x%x", int(o))
}

// ParseOp maps an opcode name to its value.
func ParseOp(s string) (Op, bool) {
	for op, name := range opNames {
		if name == s {
			return op, true
		}
	}
	return 0, false
}
