// Package config provides the configuration schema, loader, watcher and
// output backend registry for the scoreflow server.
package config

// LogLevel controls log verbosity for the scoreflow server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Engine  EngineConfig   `yaml:"engine"`
	Output  OutputConfig   `yaml:"output"`
	Bundles []BundleConfig `yaml:"bundles"`
	Sounds  []SoundConfig  `yaml:"sounds"`
	Music   MusicConfig    `yaml:"music"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the admin and command endpoint
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Scripts lists Lua files run against the command dispatcher at start.
	Scripts []string `yaml:"scripts"`
}

// EngineConfig sizes the track scheduler. Zero values take the engine
// defaults.
type EngineConfig struct {
	// TickRate is the scheduler frequency in Hz.
	TickRate int `yaml:"tick_rate"`

	// Tracks is the number of primary track slots.
	Tracks int `yaml:"tracks"`

	MusicPriority int `yaml:"music_priority"`
	VoicePriority int `yaml:"voice_priority"`
}

// OutputConfig selects where mixed audio goes.
type OutputConfig struct {
	// Device names a backend registered in the [Registry] ("oto", "null").
	Device string `yaml:"device"`

	// Fallback names a backend used when Device fails to start, typically
	// "null" on machines without a sound card. Empty disables fallback.
	Fallback string `yaml:"fallback"`

	// SampleRate is the mixer output rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// BufferMS is the device latency in milliseconds.
	BufferMS int `yaml:"buffer_ms"`

	// MaxVoices caps how many streams are mixed at once. 0 is unlimited.
	MaxVoices int `yaml:"max_voices"`
}

// BundleConfig is one archive searched for sounds of a group.
type BundleConfig struct {
	Path string `yaml:"path"`

	// Group is voice, sfx or music.
	Group string `yaml:"group"`
}

// SoundConfig maps a script sound id to a sound in the bundles.
type SoundConfig struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	Group string `yaml:"group"`
}

// MusicConfig holds the director's transition tables.
type MusicConfig struct {
	States    []MusicRuleConfig `yaml:"states"`
	Sequences []MusicRuleConfig `yaml:"sequences"`
	Cues      []CueConfig       `yaml:"cues"`

	// StateGroups assigns states to groups. States in the same group
	// crossfade into each other and share a hook attribute.
	StateGroups []StateGroupConfig `yaml:"state_groups"`
}

// MusicRuleConfig is one transition rule.
type MusicRuleConfig struct {
	ID int `yaml:"id"`

	// Kind is one of hold, immediate, crossfade, crossfade-blocking,
	// blocking-hold, hook-switch, hook-switch-blocking, trigger. Empty is
	// crossfade.
	Kind string `yaml:"kind"`

	// Sound is the target's name; empty fades the music out.
	Sound   string `yaml:"sound"`
	SoundID int    `yaml:"sound_id"`

	Hook        int `yaml:"hook"`
	FadeDelayMS int `yaml:"fade_delay_ms"`
	Volume      int `yaml:"volume"`
}

// CueConfig is a rule for a cue of one sequence.
type CueConfig struct {
	Sequence        int `yaml:"sequence"`
	MusicRuleConfig `yaml:",inline"`
}

// StateGroupConfig lists the states of one group.
type StateGroupConfig struct {
	Group  int   `yaml:"group"`
	States []int `yaml:"states"`
}
