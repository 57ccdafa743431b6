package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Log level, music rules and the sound catalog are applied live; anything
// else is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MusicChanged is set when any rule table or state group changed.
	MusicChanged bool

	// SoundsChanged is set when the sound catalog changed.
	SoundsChanged bool

	// RestartRequired names the sections that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.MusicChanged && !d.SoundsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.MusicChanged = !reflect.DeepEqual(old.Music, new.Music)
	d.SoundsChanged = !reflect.DeepEqual(old.Sounds, new.Sounds)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Server.Scripts, new.Server.Scripts) {
		d.RestartRequired = append(d.RestartRequired, "server.scripts")
	}
	if old.Engine != new.Engine {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.Output != new.Output {
		d.RestartRequired = append(d.RestartRequired, "output")
	}
	if !reflect.DeepEqual(old.Bundles, new.Bundles) {
		d.RestartRequired = append(d.RestartRequired, "bundles")
	}

	return d
}
