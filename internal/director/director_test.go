package director

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/scoreflow/internal/engine"
	"github.com/MrWong99/scoreflow/internal/observe"
)

// fakeMusic records the calls the director makes. Started music becomes the
// current music.
type fakeMusic struct {
	mu      sync.Mutex
	cur     int
	calls   []string
	trigger engine.Trigger
	err     error
}

func (m *fakeMusic) log(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *fakeMusic) CurMusicSoundID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *fakeMusic) StartMusic(_ context.Context, name string, id, hook, volume int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("start %s/%d hook=%d vol=%d", name, id, hook, volume)
	if m.err != nil {
		return false, m.err
	}
	m.cur = id
	return true, nil
}

func (m *fakeMusic) FadeOutMusic(ms int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("fade %d", ms)
	m.cur = -1
}

func (m *fakeMusic) FadeOutMusicAndStartNew(_ context.Context, ms int, name string, id, volume int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("crossfade %d %s/%d vol=%d", ms, name, id, volume)
	m.cur = id
	return true, nil
}

func (m *fakeMusic) SetHookForMusic(hook int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("hook %d", hook)
}

func (m *fakeMusic) SetTrigger(t engine.Trigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("trigger %s %s/%d", t.Marker, t.Name, t.SoundID)
	m.trigger = t
}

// take returns and clears the recorded calls.
func (m *fakeMusic) take() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.calls
	m.calls = nil
	return c
}

func mustRules(t *testing.T, states, sequences []Rule, cues []CueRule) *Rules {
	t.Helper()
	r, err := NewRules(states, sequences, cues)
	if err != nil {
		t.Fatalf("NewRules: %v", err)
	}
	return r
}

func wantCalls(t *testing.T, m *fakeMusic, want ...string) {
	t.Helper()
	got := m.take()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %q, want %q", got, want)
	}
}

var testStates = []Rule{
	{ID: 1, Kind: KindCrossfade, Name: "town.imx", SoundID: 100, FadeDelay: 500},
	{ID: 2, Kind: KindCrossfade, Name: "dock.imx", SoundID: 101, Group: 3},
	{ID: 3, Kind: KindCrossfade, Name: "pier.imx", SoundID: 102, Group: 3, Volume: 90},
	{ID: 4, Kind: KindImmediate, Name: "alarm.imx", SoundID: 103, FadeDelay: 2000},
	{ID: 5, Kind: KindTrigger, Name: "finale.imx", SoundID: 104, FadeDelay: 300, Hook: 2},
	{ID: 6, Kind: KindHookSwitch, Name: "town.imx", SoundID: 100, Hook: 4},
	{ID: 7, Kind: KindHold, Name: "cave.imx", SoundID: 105},
	{ID: 8, Kind: KindCrossfade, FadeDelay: 900},
	{ID: 9, Kind: KindImmediate},
}

func TestSetState_Transitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cur   int
		state int
		want  []string
	}{
		{name: "unknown", cur: 100, state: 42},
		{name: "already playing", cur: 100, state: 1},
		{name: "fade and start", cur: 7, state: 1, want: []string{"fade 500", "start town.imx/100 hook=0 vol=127"}},
		{name: "immediate", cur: 7, state: 4, want: []string{"fade 120", "start alarm.imx/103 hook=0 vol=127"}},
		{name: "trigger", cur: 7, state: 5, want: []string{"trigger exit finale.imx/104"}},
		{name: "hook switch", cur: 100, state: 6, want: []string{"hook 4"}},
		{name: "hook switch other music", cur: 7, state: 6, want: []string{"fade 120", "start town.imx/100 hook=4 vol=127"}},
		{name: "hold", cur: 7, state: 7},
		{name: "no target", cur: 7, state: 8, want: []string{"fade 900"}},
		{name: "no target default delay", cur: 7, state: 9, want: []string{"fade 120"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &fakeMusic{cur: tt.cur}
			d := New(m, mustRules(t, testStates, nil, nil))
			if err := d.SetState(context.Background(), tt.state); err != nil {
				t.Fatalf("SetState: %v", err)
			}
			wantCalls(t, m, tt.want...)
		})
	}
}

func TestSetState_TriggerCarriesRule(t *testing.T) {
	t.Parallel()

	m := &fakeMusic{cur: 7}
	d := New(m, mustRules(t, testStates, nil, nil))
	if err := d.SetState(context.Background(), 5); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	want := engine.Trigger{Marker: "exit", FadeDelay: 300, Name: "finale.imx", SoundID: 104, Hook: 2, Volume: 127}
	if m.trigger != want {
		t.Errorf("trigger = %+v, want %+v", m.trigger, want)
	}
}

func TestSetState_SameGroupCrossfades(t *testing.T) {
	t.Parallel()

	m := &fakeMusic{}
	d := New(m, mustRules(t, testStates, nil, nil))
	ctx := context.Background()

	if err := d.SetState(ctx, 2); err != nil {
		t.Fatalf("SetState(2): %v", err)
	}
	wantCalls(t, m, "fade 120", "start dock.imx/101 hook=0 vol=127")

	if err := d.SetState(ctx, 3); err != nil {
		t.Fatalf("SetState(3): %v", err)
	}
	wantCalls(t, m, "crossfade 120 pier.imx/102 vol=90")

	// Leaving the group replaces outright.
	if err := d.SetState(ctx, 1); err != nil {
		t.Fatalf("SetState(1): %v", err)
	}
	wantCalls(t, m, "fade 500", "start town.imx/100 hook=0 vol=127")
}

func TestSetState_StartErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := &fakeMusic{err: boom}
	d := New(m, mustRules(t, testStates, nil, nil))
	if err := d.SetState(context.Background(), 1); !errors.Is(err, boom) {
		t.Errorf("SetState error = %v, want %v", err, boom)
	}
}

func TestAttributeHookCycling(t *testing.T) {
	t.Parallel()

	states := []Rule{
		{ID: 1, Kind: KindCrossfade, Name: "intro.imx", SoundID: 10, Hook: 3, Group: 2},
		{ID: 2, Kind: KindCrossfade, Name: "away.imx", SoundID: 11},
	}
	m := &fakeMusic{}
	d := New(m, mustRules(t, states, nil, nil))
	ctx := context.Background()

	var hooks []int
	for range 5 {
		if err := d.SetState(ctx, 1); err != nil {
			t.Fatalf("SetState(1): %v", err)
		}
		var hook int
		for _, c := range m.take() {
			if _, err := fmt.Sscanf(c, "start intro.imx/10 hook=%d", &hook); err == nil {
				hooks = append(hooks, hook)
			}
		}
		if err := d.SetState(ctx, 2); err != nil {
			t.Fatalf("SetState(2): %v", err)
		}
	}
	if want := []int{0, 1, 2, 3, 1}; !reflect.DeepEqual(hooks, want) {
		t.Errorf("start hooks = %v, want %v", hooks, want)
	}

	d.SetAttribute(2, 3)
	if got := d.Attribute(2); got != 3 {
		t.Errorf("Attribute(2) = %d, want 3", got)
	}
}

func TestSequenceLayering(t *testing.T) {
	t.Parallel()

	sequences := []Rule{
		{ID: 50, Kind: KindCrossfade, Name: "cutscene.imx", SoundID: 200},
	}
	m := &fakeMusic{}
	d := New(m, mustRules(t, testStates, sequences, nil))
	ctx := context.Background()

	if err := d.SetSequence(ctx, 50); err != nil {
		t.Fatalf("SetSequence(50): %v", err)
	}
	wantCalls(t, m, "fade 120", "start cutscene.imx/200 hook=0 vol=127")

	// States wait while the sequence plays.
	if err := d.SetState(ctx, 1); err != nil {
		t.Fatalf("SetState(1): %v", err)
	}
	wantCalls(t, m)
	if got := d.Status(); got.State != 1 || got.Sequence != 50 {
		t.Errorf("Status = %+v, want state 1 sequence 50", got)
	}

	if err := d.SetSequence(ctx, 0); err != nil {
		t.Fatalf("SetSequence(0): %v", err)
	}
	wantCalls(t, m, "fade 500", "start town.imx/100 hook=0 vol=127")
	if got := d.Status().Sequence; got != 0 {
		t.Errorf("Sequence after end = %d, want 0", got)
	}
}

func TestSetSequence_BlockingQueuesNext(t *testing.T) {
	t.Parallel()

	sequences := []Rule{
		{ID: 60, Kind: KindCrossfadeBlocking, Name: "battle.imx", SoundID: 300},
		{ID: 61, Kind: KindCrossfade, Name: "victory.imx", SoundID: 301},
		{ID: 62, Kind: KindCrossfade, Name: "defeat.imx", SoundID: 302},
	}
	m := &fakeMusic{}
	d := New(m, mustRules(t, nil, sequences, nil))
	ctx := context.Background()

	if err := d.SetSequence(ctx, 60); err != nil {
		t.Fatalf("SetSequence(60): %v", err)
	}
	m.take()

	for _, id := range []int{61, 62} {
		if err := d.SetSequence(ctx, id); err != nil {
			t.Fatalf("SetSequence(%d): %v", id, err)
		}
	}
	wantCalls(t, m)
	if got := d.Status().Pending; got != 62 {
		t.Fatalf("pending sequence = %d, want 62", got)
	}

	if err := d.SetSequence(ctx, 0); err != nil {
		t.Fatalf("SetSequence(0): %v", err)
	}
	wantCalls(t, m, "fade 120", "start defeat.imx/302 hook=0 vol=127")
	if got := d.Status(); got.Sequence != 62 || got.Pending != 0 {
		t.Errorf("Status = %+v, want sequence 62 and nothing pending", got)
	}

	// A non-blocking sequence is replaced directly.
	if err := d.SetSequence(ctx, 61); err != nil {
		t.Fatalf("SetSequence(61): %v", err)
	}
	wantCalls(t, m, "fade 120", "start victory.imx/301 hook=0 vol=127")
}

func TestSetCuePoint(t *testing.T) {
	t.Parallel()

	sequences := []Rule{{ID: 70, Kind: KindCrossfade, Name: "chase.imx", SoundID: 400}}
	cues := []CueRule{
		{Sequence: 70, Rule: Rule{ID: 1, Kind: KindHookSwitch, Name: "chase.imx", SoundID: 400, Hook: 2}},
		{Sequence: 70, Rule: Rule{ID: 2, Kind: KindImmediate, Name: "crash.imx", SoundID: 401}},
	}
	m := &fakeMusic{}
	d := New(m, mustRules(t, nil, sequences, cues))
	ctx := context.Background()

	if err := d.SetCuePoint(ctx, 1); err != nil {
		t.Fatalf("SetCuePoint outside sequence: %v", err)
	}
	wantCalls(t, m)

	if err := d.SetSequence(ctx, 70); err != nil {
		t.Fatalf("SetSequence(70): %v", err)
	}
	m.take()

	steps := []struct {
		cue  int
		want []string
	}{
		{cue: 1, want: []string{"hook 2"}},
		{cue: 9},
		{cue: 2, want: []string{"fade 120", "start crash.imx/401 hook=0 vol=127"}},
		{cue: 0, want: []string{"fade 120"}},
	}
	for _, s := range steps {
		if err := d.SetCuePoint(ctx, s.cue); err != nil {
			t.Fatalf("SetCuePoint(%d): %v", s.cue, err)
		}
		wantCalls(t, m, s.want...)
	}
	if got := d.Status().Cue; got != 0 {
		t.Errorf("Cue = %d, want 0", got)
	}
}

func TestSetRules_Swaps(t *testing.T) {
	t.Parallel()

	m := &fakeMusic{}
	d := New(m, nil)
	ctx := context.Background()

	if err := d.SetState(ctx, 1); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	wantCalls(t, m)

	d.SetRules(mustRules(t, testStates, nil, nil))
	if got := d.Status().Rules; got != len(testStates) {
		t.Errorf("Rules = %d, want %d", got, len(testStates))
	}
	if err := d.SetState(ctx, 1); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	wantCalls(t, m, "fade 500", "start town.imx/100 hook=0 vol=127")
}

func TestDirector_RecordsTransitions(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m := &fakeMusic{}
	d := New(m, mustRules(t, testStates, nil, nil), WithMetrics(metrics))
	ctx := context.Background()
	for _, id := range []int{1, 4, 8} {
		if err := d.SetState(ctx, id); err != nil {
			t.Fatalf("SetState(%d): %v", id, err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "scoreflow.director.transitions" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				kind, _ := dp.Attributes.Value(attribute.Key("kind"))
				got[kind.AsString()] += dp.Value
			}
		}
	}
	want := map[string]int64{"crossfade": 1, "immediate": 1, "fade-out": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestNewRules_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		states []Rule
		cues   []CueRule
	}{
		{name: "zero id", states: []Rule{{ID: 0, Name: "a.imx", SoundID: 1}}},
		{name: "duplicate", states: []Rule{{ID: 1}, {ID: 1}}},
		{name: "target without sound id", states: []Rule{{ID: 1, Name: "a.imx"}}},
		{name: "unknown kind", states: []Rule{{ID: 1, Kind: Kind(5)}}},
		{name: "volume", states: []Rule{{ID: 1, Volume: 200}}},
		{name: "duplicate cue", cues: []CueRule{{Sequence: 1, Rule: Rule{ID: 2}}, {Sequence: 1, Rule: Rule{ID: 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewRules(tt.states, nil, tt.cues); !errors.Is(err, ErrBadRule) {
				t.Errorf("NewRules error = %v, want ErrBadRule", err)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for k, name := range kindNames {
		got, err := ParseKind(name)
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", name, got, err, k)
		}
	}
	if got, err := ParseKind(""); err != nil || got != KindCrossfade {
		t.Errorf("ParseKind(\"\") = %v, %v; want crossfade", got, err)
	}
	if _, err := ParseKind("sideways"); !errors.Is(err, ErrBadRule) {
		t.Errorf("ParseKind(sideways) error = %v, want ErrBadRule", err)
	}
	if !KindBlockingHold.Blocking() || KindCrossfade.Blocking() {
		t.Error("Blocking() disagrees with the blocking kinds")
	}
}
