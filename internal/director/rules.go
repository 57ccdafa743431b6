package director

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects how a rule moves from the playing music to its target.
type Kind int

const (
	// KindHold keeps the current music playing.
	KindHold Kind = 0

	// KindImmediate fades the current music out briefly and starts the
	// target from its beginning.
	KindImmediate Kind = 2

	// KindCrossfade continues the target from the old music's cursor when
	// both belong to the same state group, and replaces immediately
	// otherwise.
	KindCrossfade Kind = 3

	// KindCrossfadeBlocking is KindCrossfade for sequences that must finish
	// before the next sequence starts.
	KindCrossfadeBlocking Kind = 4

	// KindBlockingHold starts the target and holds later sequences.
	KindBlockingHold Kind = 6

	// KindHookSwitch retargets the hook of the playing music when it is
	// already the target.
	KindHookSwitch Kind = 8

	// KindHookSwitchBlocking is the blocking variant of KindHookSwitch.
	KindHookSwitchBlocking Kind = 9

	// KindTrigger defers the change until the music reaches an exit marker.
	KindTrigger Kind = 12
)

// ErrBadRule is returned for rule tables that cannot be used.
var ErrBadRule = errors.New("director: bad rule")

var kindNames = map[Kind]string{
	KindHold:               "hold",
	KindImmediate:          "immediate",
	KindCrossfade:          "crossfade",
	KindCrossfadeBlocking:  "crossfade-blocking",
	KindBlockingHold:       "blocking-hold",
	KindHookSwitch:         "hook-switch",
	KindHookSwitchBlocking: "hook-switch-blocking",
	KindTrigger:            "trigger",
}

// String returns the configuration name of k.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a configuration name to its kind. The empty string is
// KindCrossfade.
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return KindCrossfade, nil
	}
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrBadRule, s)
}

// Blocking reports whether a sequence of kind k holds back the next one.
func (k Kind) Blocking() bool {
	return k == KindCrossfadeBlocking || k == KindBlockingHold || k == KindHookSwitchBlocking
}

// Rule maps a state, sequence or cue id to the music it brings in.
type Rule struct {
	ID   int
	Kind Kind

	// Name and SoundID identify the target. A rule without a Name fades
	// the music out.
	Name    string
	SoundID int

	// Hook is the start hook, or with Group set the number of hooks the
	// group's attribute cycles through.
	Hook int

	// FadeDelay is the crossfade length in milliseconds.
	FadeDelay int

	// Group is the state group (attribute position). Rules sharing a
	// non-zero group crossfade into each other.
	Group int

	// Volume is 0-127; zero means full volume.
	Volume int
}

func (r Rule) volume() int {
	if r.Volume <= 0 {
		return 127
	}
	return min(r.Volume, 127)
}

// CueKey identifies a cue within a sequence.
type CueKey struct {
	Sequence int
	Cue      int
}

// CueRule is a rule scoped to one sequence.
type CueRule struct {
	Sequence int
	Rule
}

// Rules is an immutable set of transition tables.
type Rules struct {
	states    map[int]Rule
	sequences map[int]Rule
	cues      map[CueKey]Rule
}

// NewRules indexes the given tables. Ids must be positive and unique per
// table.
func NewRules(states, sequences []Rule, cues []CueRule) (*Rules, error) {
	r := &Rules{
		states:    make(map[int]Rule, len(states)),
		sequences: make(map[int]Rule, len(sequences)),
		cues:      make(map[CueKey]Rule, len(cues)),
	}
	var errs []error
	index := func(table string, m map[int]Rule, rules []Rule) {
		for _, rule := range rules {
			if err := rule.validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s %d: %w", table, rule.ID, err))
				continue
			}
			if _, dup := m[rule.ID]; dup {
				errs = append(errs, fmt.Errorf("%w: duplicate %s %d", ErrBadRule, table, rule.ID))
				continue
			}
			m[rule.ID] = rule
		}
	}
	index("state", r.states, states)
	index("sequence", r.sequences, sequences)
	for _, c := range cues {
		if err := c.validate(); err != nil {
			errs = append(errs, fmt.Errorf("cue %d/%d: %w", c.Sequence, c.ID, err))
			continue
		}
		key := CueKey{Sequence: c.Sequence, Cue: c.ID}
		if _, dup := r.cues[key]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate cue %d/%d", ErrBadRule, c.Sequence, c.ID))
			continue
		}
		r.cues[key] = c.Rule
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

func (r Rule) validate() error {
	switch {
	case r.ID <= 0:
		return fmt.Errorf("%w: id must be positive", ErrBadRule)
	case r.Name != "" && r.SoundID <= 0:
		return fmt.Errorf("%w: target %q needs a positive sound id", ErrBadRule, r.Name)
	case r.FadeDelay < 0:
		return fmt.Errorf("%w: negative fade delay", ErrBadRule)
	case r.Volume < 0 || r.Volume > 127:
		return fmt.Errorf("%w: volume %d", ErrBadRule, r.Volume)
	}
	if _, ok := kindNames[r.Kind]; !ok {
		return fmt.Errorf("%w: %s", ErrBadRule, r.Kind)
	}
	return nil
}

// State returns the rule for state id.
func (r *Rules) State(id int) (Rule, bool) {
	rule, ok := r.states[id]
	return rule, ok
}

// Sequence returns the rule for sequence id.
func (r *Rules) Sequence(id int) (Rule, bool) {
	rule, ok := r.sequences[id]
	return rule, ok
}

// Cue returns the rule for cue of sequence seq.
func (r *Rules) Cue(seq, cue int) (Rule, bool) {
	rule, ok := r.cues[CueKey{Sequence: seq, Cue: cue}]
	return rule, ok
}

// Len returns the number of rules across all tables.
func (r *Rules) Len() int {
	return len(r.states) + len(r.sequences) + len(r.cues)
}
