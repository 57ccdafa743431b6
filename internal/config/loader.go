package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/scoreflow/internal/director"
	"github.com/MrWong99/scoreflow/pkg/audio"
)

// ValidDevices lists the output backends the server registers by default.
// Used by [Validate] to warn about unrecognised device names.
var ValidDevices = []string{"oto", "null"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Engine
	e := cfg.Engine
	if e.TickRate < 0 || e.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("engine.tick_rate %d is out of range [0, 1000]", e.TickRate))
	}
	if e.Tracks < 0 || e.Tracks > 64 {
		errs = append(errs, fmt.Errorf("engine.tracks %d is out of range [0, 64]", e.Tracks))
	}
	if e.MusicPriority < 0 || e.MusicPriority > 127 {
		errs = append(errs, fmt.Errorf("engine.music_priority %d is out of range [0, 127]", e.MusicPriority))
	}
	if e.VoicePriority < 0 || e.VoicePriority > 127 {
		errs = append(errs, fmt.Errorf("engine.voice_priority %d is out of range [0, 127]", e.VoicePriority))
	}

	// Output
	o := cfg.Output
	if o.Device != "" && !slices.Contains(ValidDevices, o.Device) {
		slog.Warn("unknown output device, may be a typo or a custom backend", "device", o.Device, "known", ValidDevices)
	}
	if o.Fallback != "" && !slices.Contains(ValidDevices, o.Fallback) {
		slog.Warn("unknown output fallback, may be a typo or a custom backend", "fallback", o.Fallback, "known", ValidDevices)
	}
	if o.SampleRate < 0 || o.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("output.sample_rate %d is out of range [0, 192000]", o.SampleRate))
	}
	if o.BufferMS < 0 {
		errs = append(errs, fmt.Errorf("output.buffer_ms %d must not be negative", o.BufferMS))
	}
	if o.MaxVoices < 0 {
		errs = append(errs, fmt.Errorf("output.max_voices %d must not be negative", o.MaxVoices))
	}

	// Bundles
	for i, b := range cfg.Bundles {
		prefix := fmt.Sprintf("bundles[%d]", i)
		if b.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
		if _, err := audio.ParseGroup(b.Group); err != nil {
			errs = append(errs, fmt.Errorf("%s.group: %w", prefix, err))
		}
	}

	// Sounds
	soundIDs := make(map[int]int, len(cfg.Sounds))
	for i, s := range cfg.Sounds {
		prefix := fmt.Sprintf("sounds[%d]", i)
		if s.ID <= 0 {
			errs = append(errs, fmt.Errorf("%s.id must be positive", prefix))
		} else if prev, ok := soundIDs[s.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %d is a duplicate of sounds[%d]", prefix, s.ID, prev))
		} else {
			soundIDs[s.ID] = i
		}
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if _, err := audio.ParseGroup(s.Group); err != nil {
			errs = append(errs, fmt.Errorf("%s.group: %w", prefix, err))
		}
	}

	// Music
	if _, err := MusicRules(cfg.Music); err != nil {
		errs = append(errs, fmt.Errorf("music: %w", err))
	}
	grouped := make(map[int]int)
	for i, g := range cfg.Music.StateGroups {
		prefix := fmt.Sprintf("music.state_groups[%d]", i)
		if g.Group <= 0 {
			errs = append(errs, fmt.Errorf("%s.group must be positive", prefix))
		}
		for _, id := range g.States {
			if prev, ok := grouped[id]; ok && prev != g.Group {
				errs = append(errs, fmt.Errorf("%s: state %d is already in group %d", prefix, id, prev))
			}
			grouped[id] = g.Group
		}
	}

	return errors.Join(errs...)
}

// MusicRules builds the director's rule tables from m, applying the state
// groups to the state rules.
func MusicRules(m MusicConfig) (*director.Rules, error) {
	groups := make(map[int]int)
	for _, g := range m.StateGroups {
		for _, id := range g.States {
			groups[id] = g.Group
		}
	}

	var errs []error
	convert := func(table string, in []MusicRuleConfig, grouped bool) []director.Rule {
		out := make([]director.Rule, 0, len(in))
		for _, rc := range in {
			r, err := rc.rule()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %d: %w", table, rc.ID, err))
				continue
			}
			if grouped {
				r.Group = groups[rc.ID]
			}
			out = append(out, r)
		}
		return out
	}
	states := convert("state", m.States, true)
	sequences := convert("sequence", m.Sequences, false)
	cues := make([]director.CueRule, 0, len(m.Cues))
	for _, c := range m.Cues {
		r, err := c.rule()
		if err != nil {
			errs = append(errs, fmt.Errorf("cue %d/%d: %w", c.Sequence, c.ID, err))
			continue
		}
		cues = append(cues, director.CueRule{Sequence: c.Sequence, Rule: r})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return director.NewRules(states, sequences, cues)
}

func (rc MusicRuleConfig) rule() (director.Rule, error) {
	kind, err := director.ParseKind(rc.Kind)
	if err != nil {
		return director.Rule{}, err
	}
	return director.Rule{
		ID:        rc.ID,
		Kind:      kind,
		Name:      rc.Sound,
		SoundID:   rc.SoundID,
		Hook:      rc.Hook,
		FadeDelay: rc.FadeDelayMS,
		Volume:    rc.Volume,
	}, nil
}
