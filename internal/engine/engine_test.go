package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/scoreflow/pkg/audio"
	"github.com/MrWong99/scoreflow/pkg/audio/mock"
	"github.com/MrWong99/scoreflow/pkg/bundle"
	"github.com/MrWong99/scoreflow/pkg/bundle/bundletest"
	"github.com/MrWong99/scoreflow/pkg/codec"
	"github.com/MrWong99/scoreflow/pkg/codec/codectest"
	"github.com/MrWong99/scoreflow/pkg/sound"
	"github.com/MrWong99/scoreflow/pkg/sound/soundtest"
)

// testRate gives 200 data bytes per tick for 16-bit mono at 60 Hz.
const testRate = 6000

type fixture struct {
	desc sound.Descriptor
	data []byte
}

type archiveOpener struct {
	a *bundle.Archive
}

func (o archiveOpener) Open(_ context.Context, name string, _ audio.Group) (*sound.Sound, error) {
	r, err := o.a.OpenSound(name)
	if err != nil {
		return nil, err
	}
	return sound.Open(r)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i/256)
	}
	return b
}

func mono16(regions ...sound.Region) sound.Descriptor {
	return sound.Descriptor{
		Format:  sound.Format{SampleRate: testRate, Bits: 16, Channels: 1},
		Regions: regions,
	}
}

// longFixture is one region long enough to outlast any fade in these tests.
func longFixture() fixture {
	d := mono16(sound.Region{Offset: 0, Length: 40000})
	d.Sync = [][]sound.SyncPoint{{{Time: 0, Width: 1, Height: 2}, {Time: 10, Width: 3, Height: 4}}}
	return fixture{desc: d, data: pattern(40000)}
}

func newTestEngine(t *testing.T, pool int, fixtures map[string]fixture, opts ...Option) (*Engine, *mock.Mixer) {
	t.Helper()
	b := new(bundletest.Builder)
	for name, f := range fixtures {
		d := f.desc
		d.Name = name
		b.AddPCM(name, soundtest.Build(&d, f.data), codec.Raw)
	}
	m := mock.NewMixer()
	e := New(m, archiveOpener{a: b.Archive(t)}, append([]Option{WithTracks(pool)}, opts...)...)
	t.Cleanup(func() { _ = e.Close() })
	return e, m
}

func start(t *testing.T, e *Engine, id int, name string, priority int) bool {
	t.Helper()
	ok, err := e.StartSound(context.Background(), Request{ID: id, Name: name, Group: audio.GroupSFX, Volume: 127, Priority: priority})
	if err != nil {
		t.Fatalf("StartSound(%d): %v", id, err)
	}
	return ok
}

func ticks(e *Engine, n int) {
	for range n {
		e.Tick()
	}
}

func TestStartSound_PriorityScenario(t *testing.T) {
	t.Parallel()

	e, m := newTestEngine(t, 2, map[string]fixture{"long.imx": longFixture()})

	if !start(t, e, 42, "long.imx", 100) {
		t.Fatal("start 42 at priority 100 rejected")
	}
	if !start(t, e, 7, "long.imx", 5) {
		t.Fatal("start 7 at priority 5 rejected")
	}
	if got := e.Snapshot()[1].SoundID; got != 7 {
		t.Errorf("slot 1 holds sound %d, want 7", got)
	}
	if start(t, e, 4, "long.imx", 4) {
		t.Error("start 4 at priority 4 granted, want rejected")
	}
	for _, id := range []int{42, 7} {
		if !e.SoundStatus(id) {
			t.Errorf("SoundStatus(%d) = false, want true", id)
		}
	}
	if e.SoundStatus(4) {
		t.Error("SoundStatus(4) = true, want false")
	}
	if got := m.Plays(); got != 2 {
		t.Errorf("mixer plays = %d, want 2", got)
	}
}

func TestAllocSlot_EvictsLowestPriority(t *testing.T) {
	t.Parallel()

	e, m := newTestEngine(t, 3, map[string]fixture{"long.imx": longFixture()})
	start(t, e, 1, "long.imx", 50)
	start(t, e, 2, "long.imx", 10)
	start(t, e, 3, "long.imx", 30)

	if !start(t, e, 4, "long.imx", 20) {
		t.Fatal("priority 20 request rejected with a priority 10 track playing")
	}
	if e.SoundStatus(2) {
		t.Error("lowest priority track 2 still playing")
	}
	for _, id := range []int{1, 3, 4} {
		if !e.SoundStatus(id) {
			t.Errorf("track %d was evicted", id)
		}
	}
	if c, _ := m.Channel(2); !c.Stopped {
		t.Error("evicted track's mixer channel was not stopped")
	}

	if start(t, e, 5, "long.imx", 19) {
		t.Error("priority 19 request granted below every playing track")
	}
	if !start(t, e, 6, "long.imx", 20) {
		t.Error("equal priority request rejected")
	}
	if e.SoundStatus(4) {
		t.Error("equal priority request did not evict track 4")
	}
}

func TestAllocSlot_SkipsDrainingTracks(t *testing.T) {
	t.Parallel()

	e, m := newTestEngine(t, 1, map[string]fixture{"long.imx": longFixture()})
	m.HoldFinished = true

	start(t, e, 1, "long.imx", 10)
	e.StopSound(1)
	e.Tick()
	if got := e.Snapshot()[0].State; got != Draining.String() {
		t.Fatalf("stopped track state = %s, want draining", got)
	}
	if start(t, e, 2, "long.imx", 127) {
		t.Fatal("draining slot was handed out")
	}

	m.Drain(1)
	e.Tick()
	if got := e.Snapshot()[0].State; got != Idle.String() {
		t.Fatalf("drained track state = %s, want idle", got)
	}
	if !start(t, e, 2, "long.imx", 127) {
		t.Error("reclaimed slot was not granted")
	}
}

func TestStartSound_Errors(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, 1, map[string]fixture{"long.imx": longFixture()})
	ctx := context.Background()

	if _, err := e.StartSound(ctx, Request{ID: 1, Name: "long.imx", Priority: 200}); !errors.Is(err, ErrInvalid) {
		t.Errorf("priority 200 error = %v, want ErrInvalid", err)
	}
	if _, err := e.StartSound(ctx, Request{ID: 1, Name: "long.imx", Volume: -1}); !errors.Is(err, ErrInvalid) {
		t.Errorf("volume -1 error = %v, want ErrInvalid", err)
	}
	if _, err := e.StartSound(ctx, Request{ID: 1, Name: "nope.imx"}); !errors.Is(err, bundle.ErrNotFound) {
		t.Errorf("missing sound error = %v, want ErrNotFound", err)
	}

	_ = e.Close()
	if _, err := e.StartSound(ctx, Request{ID: 1, Name: "long.imx"}); !errors.Is(err, ErrClosed) {
		t.Errorf("start after Close error = %v, want ErrClosed", err)
	}
}

func TestTick_HookJump(t *testing.T) {
	t.Parallel()

	d := mono16(sound.Region{Offset: 0, Length: 400}, sound.Region{Offset: 400, Length: 400})
	d.Jumps = []sound.Jump{{Offset: 400, Dest: 400, HookID: 1}}
	fixtures := map[string]fixture{"hook.imx": {desc: d, data: pattern(800)}}

	tests := []struct {
		hook     int
		wantHook int
	}{
		{hook: 1, wantHook: 0},
		{hook: 5, wantHook: 5},
	}
	for _, tt := range tests {
		e, _ := newTestEngine(t, 1, fixtures)
		if _, err := e.StartMusic(context.Background(), "hook.imx", 1, tt.hook, 127); err != nil {
			t.Fatalf("StartMusic: %v", err)
		}
		ticks(e, 2)
		got := e.Snapshot()[0]
		if got.Region != 1 || got.Offset != 0 {
			t.Errorf("hook %d: at region %d offset %d, want region 1 offset 0", tt.hook, got.Region, got.Offset)
		}
		if got.Hook != tt.wantHook {
			t.Errorf("hook %d: hook after region end = %d, want %d", tt.hook, got.Hook, tt.wantHook)
		}
	}
}

func TestTick_HookLoopsRegion(t *testing.T) {
	t.Parallel()

	d := mono16(sound.Region{Offset: 0, Length: 600}, sound.Region{Offset: 600, Length: 400})
	d.Jumps = []sound.Jump{{Offset: 600, Dest: 0, HookID: 2}}
	data := pattern(1000)
	e, m := newTestEngine(t, 1, map[string]fixture{"loop.imx": {desc: d, data: data}})

	if _, err := e.StartSound(context.Background(), Request{ID: 1, Name: "loop.imx", Hook: 2, Volume: 127, Priority: 50}); err != nil {
		t.Fatalf("StartSound: %v", err)
	}
	ticks(e, 8)

	want := append(append(append([]byte(nil), data[:600]...), data[:600]...), data[600:]...)
	if got := m.Stream(1).Bytes(); !bytes.Equal(got, want) {
		t.Errorf("queued %d bytes, want region 0 twice then region 1 (%d bytes)", len(got), len(want))
	}
	if got := e.Snapshot()[0].State; got != Draining.String() {
		t.Errorf("state after last region = %s, want draining", got)
	}
	if !m.Stream(1).Finished() {
		t.Error("stream not finished after last region")
	}
	e.Tick()
	if e.SoundStatus(1) {
		t.Error("track still reported after its stream drained")
	}
}

func TestFadeOutMusic_ClonesCursorAndReachesSilence(t *testing.T) {
	t.Parallel()

	f := longFixture()
	e, m := newTestEngine(t, 2, map[string]fixture{"long.imx": f})
	if _, err := e.StartMusic(context.Background(), "long.imx", 1, 0, 127); err != nil {
		t.Fatalf("StartMusic: %v", err)
	}
	ticks(e, 3)
	src := e.Snapshot()[0]

	e.FadeOutMusic(500)
	snap := e.Snapshot()
	fade := snap[2]
	if !fade.Fade || fade.State != FadingOut.String() {
		t.Fatalf("fade slot = %+v, want a fading-out fade slot", fade)
	}
	if fade.Region != src.Region || fade.Offset != src.Offset {
		t.Errorf("fade cursor = region %d offset %d, want region %d offset %d", fade.Region, fade.Offset, src.Region, src.Offset)
	}
	if snap[0].State != Draining.String() {
		t.Errorf("source state = %s, want draining", snap[0].State)
	}
	if e.CurMusicSoundID() != -1 {
		t.Errorf("CurMusicSoundID = %d, want -1 while only a fade plays", e.CurMusicSoundID())
	}

	ticks(e, 29)
	if got := e.Snapshot()[2].State; got != FadingOut.String() {
		t.Fatalf("fade slot state after 29 ticks = %s, want fading-out", got)
	}
	e.Tick()
	if got := e.Snapshot()[2].State; got != Draining.String() {
		t.Errorf("fade slot state after 30 ticks = %s, want draining", got)
	}

	if got := m.Stream(2).Bytes()[:200]; !bytes.Equal(got, f.data[600:800]) {
		t.Error("fade slot did not continue from the source cursor")
	}
}

func TestTick_JumpWithFadeDelayCrossfades(t *testing.T) {
	t.Parallel()

	d := mono16(sound.Region{Offset: 0, Length: 400}, sound.Region{Offset: 400, Length: 4000})
	d.Jumps = []sound.Jump{{Offset: 400, Dest: 400, HookID: 0, FadeDelay: 1000}}
	data := pattern(4400)
	e, m := newTestEngine(t, 1, map[string]fixture{"xfade.imx": {desc: d, data: data}})

	if _, err := e.StartMusic(context.Background(), "xfade.imx", 1, 0, 127); err != nil {
		t.Fatalf("StartMusic: %v", err)
	}
	ticks(e, 2)
	snap := e.Snapshot()
	if snap[1].State != FadingOut.String() || snap[1].Region != 0 {
		t.Errorf("fade slot = %+v, want fading-out in region 0", snap[1])
	}
	if snap[0].Region != 1 || snap[0].Offset != 0 {
		t.Errorf("primary = region %d offset %d, want region 1 offset 0", snap[0].Region, snap[0].Offset)
	}

	e.Tick()
	if got := e.Snapshot()[1].State; got != Draining.String() {
		t.Errorf("fade slot state after replaying its region = %s, want draining", got)
	}
	if got := m.Stream(2).Bytes(); !bytes.Equal(got, data[:400]) {
		t.Errorf("fade slot queued %d bytes, want the outgoing region replayed", len(got))
	}
}

func TestCloneToFade_ReplacesBusyFadeSlot(t *testing.T) {
	t.Parallel()

	e, m := newTestEngine(t, 1, map[string]fixture{"long.imx": longFixture()})
	start(t, e, 1, "long.imx", 50)
	e.Tick()

	e.mu.Lock()
	e.cloneToFade(&e.tracks[0], 1000, "test")
	e.cloneToFade(&e.tracks[0], 1000, "test")
	e.mu.Unlock()

	if c, _ := m.Channel(2); !c.Stopped {
		t.Error("first fade clone was not stopped when the slot was reused")
	}
	if got := e.Snapshot()[1].State; got != FadingOut.String() {
		t.Errorf("fade slot state = %s, want fading-out", got)
	}
}

func TestTrigger_SwapsMusicAtMarker(t *testing.T) {
	t.Parallel()

	intro := mono16(sound.Region{Offset: 0, Length: 400}, sound.Region{Offset: 400, Length: 400})
	intro.Markers = []sound.Marker{{Offset: 400, Label: "exit"}}
	finale := mono16(sound.Region{Offset: 0, Length: 400}, sound.Region{Offset: 400, Length: 4000})
	finaleData := pattern(4400)
	e, m := newTestEngine(t, 2, map[string]fixture{
		"intro.imx":  {desc: intro, data: pattern(800)},
		"finale.imx": {desc: finale, data: finaleData},
	})

	if _, err := e.StartMusic(context.Background(), "intro.imx", 8, 0, 127); err != nil {
		t.Fatalf("StartMusic: %v", err)
	}
	e.SetTrigger(Trigger{Marker: "EXIT", FadeDelay: 200, Name: "finale.imx", SoundID: 9, Volume: 127})
	ticks(e, 2)

	if got := e.CurMusicSoundID(); got != 9 {
		t.Fatalf("CurMusicSoundID = %d, want 9", got)
	}
	if _, ok := e.PendingTrigger(); ok {
		t.Error("trigger still pending after it fired")
	}
	snap := e.Snapshot()
	if snap[0].State != Draining.String() {
		t.Errorf("old music state = %s, want draining", snap[0].State)
	}
	if snap[2].State != FadingOut.String() || snap[2].SoundID != 8 {
		t.Errorf("fade slot = %+v, want sound 8 fading out", snap[2])
	}
	// Handles: 1 intro, 2 its fade partner, 3 the finale.
	if snap[1].SoundID != 9 || snap[1].Region != 0 || snap[1].Offset != 200 {
		t.Errorf("new music = %+v, want sound 9 at region 0 offset 200", snap[1])
	}
	if got := m.Stream(3).Bytes(); !bytes.Equal(got, finaleData[:200]) {
		t.Errorf("new music queued %d bytes, want it to start from its beginning", len(got))
	}
}

func TestTrigger_SinglePoolHandsOverSlot(t *testing.T) {
	t.Parallel()

	intro := mono16(sound.Region{Offset: 0, Length: 300}, sound.Region{Offset: 300, Length: 300})
	intro.Markers = []sound.Marker{{Offset: 300, Label: "exit"}}
	finaleData := pattern(4000)
	e, m := newTestEngine(t, 1, map[string]fixture{
		"intro.imx":  {desc: intro, data: pattern(600)},
		"finale.imx": {desc: mono16(sound.Region{Offset: 0, Length: 4000}), data: finaleData},
	})

	if _, err := e.StartMusic(context.Background(), "intro.imx", 8, 0, 127); err != nil {
		t.Fatalf("StartMusic: %v", err)
	}
	e.SetTrigger(Trigger{Marker: "exit", FadeDelay: 500, Name: "finale.imx", SoundID: 9, Volume: 100})

	// The region boundary falls inside the second tick.
	ticks(e, 2)
	if got := e.CurMusicSoundID(); got != 9 {
		t.Fatalf("CurMusicSoundID = %d, want 9", got)
	}
	if c, _ := m.Channel(1); !c.Stopped {
		t.Error("outgoing music still holds the only primary slot")
	}

	e.Tick()
	snap := e.Snapshot()
	if snap[0].SoundID != 9 || snap[0].Region != 0 || snap[0].Offset != 200 {
		t.Errorf("primary = %+v, want sound 9 at region 0 offset 200", snap[0])
	}
	if snap[1].SoundID != 8 || snap[1].State != FadingOut.String() {
		t.Errorf("fade slot = %+v, want sound 8 fading out", snap[1])
	}
	if got := m.Stream(3).Bytes(); !bytes.Equal(got, finaleData[:200]) {
		t.Errorf("new music queued %d bytes, want its first 200", len(got))
	}
	if c, _ := m.Channel(3); c.Opts.Volume != 100 {
		t.Errorf("new music volume = %d, want 100", c.Opts.Volume)
	}
}

func TestStartMusicWithOtherPos(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, 2, map[string]fixture{"long.imx": longFixture()})
	ctx := context.Background()
	if _, err := e.StartMusic(ctx, "long.imx", 1, 0, 127); err != nil {
		t.Fatalf("StartMusic: %v", err)
	}
	ticks(e, 3)

	if ok, err := e.StartMusicWithOtherPos(ctx, "long.imx", 2, 0, 127, 1); !ok || err != nil {
		t.Fatalf("StartMusicWithOtherPos = %v, %v", ok, err)
	}
	got := e.Snapshot()[1]
	if got.Region != 0 || got.Offset != 600 {
		t.Errorf("new music at region %d offset %d, want region 0 offset 600", got.Region, got.Offset)
	}

}

func TestFadeOutMusicAndStartNew(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, 2, map[string]fixture{"long.imx": longFixture()})
	ctx := context.Background()
	if ok, err := e.FadeOutMusicAndStartNew(ctx, 100, "long.imx", 1, 127); !ok || err != nil {
		t.Fatalf("FadeOutMusicAndStartNew without music = %v, %v", ok, err)
	}
	ticks(e, 3)

	if ok, err := e.FadeOutMusicAndStartNew(ctx, 100, "long.imx", 3, 90); !ok || err != nil {
		t.Fatalf("FadeOutMusicAndStartNew = %v, %v", ok, err)
	}
	snap := e.Snapshot()
	if snap[1].SoundID != 3 || snap[1].Region != 0 || snap[1].Offset != 600 || snap[1].Volume != 90 {
		t.Errorf("new music = %+v, want sound 3 at volume 90, region 0 offset 600", snap[1])
	}
	if snap[0].State != Draining.String() {
		t.Errorf("old music state = %s, want draining", snap[0].State)
	}
	if snap[2].State != FadingOut.String() || snap[2].SoundID != 1 {
		t.Errorf("fade slot = %+v, want sound 1 fading out", snap[2])
	}
	if got := e.CurMusicSoundID(); got != 3 {
		t.Errorf("CurMusicSoundID = %d, want 3", got)
	}
}

func TestSetFade(t *testing.T) {
	t.Parallel()

	e, m := newTestEngine(t, 1, map[string]fixture{"long.imx": longFixture()})
	if _, err := e.StartSound(context.Background(), Request{ID: 1, Name: "long.imx", Volume: 0, Priority: 10}); err != nil {
		t.Fatalf("StartSound: %v", err)
	}

	e.SetFade(1, 127, 100)
	ticks(e, 5)
	if got := e.Snapshot()[0].Volume; got == 0 || got == 127 {
		t.Errorf("volume mid fade = %d, want between 0 and 127", got)
	}
	e.Tick()
	if c, _ := m.Channel(1); c.Opts.Volume != 127 {
		t.Errorf("mixer volume after fade in = %d, want 127", c.Opts.Volume)
	}
	if got := e.Snapshot()[0].State; got != Playing.String() {
		t.Errorf("state after fade in = %s, want playing", got)
	}

	e.SetFade(1, 0, 50)
	ticks(e, 3)
	if got := e.Snapshot()[0].State; got != Draining.String() {
		t.Errorf("state after fade to silence = %s, want draining", got)
	}
}

func TestSetters(t *testing.T) {
	t.Parallel()

	e, m := newTestEngine(t, 1, map[string]fixture{"long.imx": longFixture()})
	start(t, e, 1, "long.imx", 10)

	e.SetVolume(1, 100)
	e.SetPan(1, 200)
	e.SetPriority(1, 90)
	e.SetHookID(1, 3)
	if err := e.SetGroupVolume(audio.GroupSFX, 64); err != nil {
		t.Fatalf("SetGroupVolume: %v", err)
	}
	e.Tick()

	got := e.Snapshot()[0]
	if got.Volume != 100 || got.Pan != 127 || got.Priority != 90 || got.Hook != 3 {
		t.Errorf("track = %+v, want volume 100 pan 127 priority 90 hook 3", got)
	}
	c, _ := m.Channel(1)
	if want := 100 * 64 / 127; c.Opts.Volume != want {
		t.Errorf("mixer volume = %d, want %d", c.Opts.Volume, want)
	}
	if c.Opts.Pan != 127 {
		t.Errorf("mixer pan = %d, want 127", c.Opts.Pan)
	}
	if err := e.SetGroupVolume(audio.Group(7), 1); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetGroupVolume(7) error = %v, want ErrInvalid", err)
	}

	if err := e.SetGroup(1, audio.GroupVoice); err != nil {
		t.Fatalf("SetGroup: %v", err)
	}
	if got := e.Snapshot()[0].Group; got != audio.GroupVoice.String() {
		t.Errorf("group = %s, want %s", got, audio.GroupVoice)
	}
	if err := e.SetGroup(1, audio.Group(-1)); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetGroup(-1) error = %v, want ErrInvalid", err)
	}
}

func TestFeed_Packed12(t *testing.T) {
	t.Parallel()

	samples := make([]uint16, 200)
	for i := range samples {
		samples[i] = uint16(i * 20)
	}
	packed := codectest.Pack12(samples)
	d := sound.Descriptor{
		Format:  sound.Format{SampleRate: testRate, Bits: 12, Channels: 1},
		Regions: []sound.Region{{Offset: 0, Length: len(packed)}},
	}
	e, m := newTestEngine(t, 1, map[string]fixture{"packed.imx": {desc: d, data: packed}})
	start(t, e, 1, "packed.imx", 10)
	e.Tick()

	s := m.Stream(1)
	if want := codec.Unpack12(packed[:150]); !bytes.Equal(s.Bytes(), want) {
		t.Errorf("queued %d bytes, want the first 100 samples widened (%d bytes)", len(s.Bytes()), len(want))
	}
	if f := s.LastFormat(); f.Bits != 16 || !f.BigEndian {
		t.Errorf("queued format = %v, want 16-bit big-endian", f)
	}
}

func TestFeedSize(t *testing.T) {
	t.Parallel()

	e := New(mock.NewMixer(), nil)
	tests := []struct {
		f       sound.Format
		starved bool
		want    int
	}{
		{sound.Format{SampleRate: 22050, Bits: 16, Channels: 2}, false, 1468},
		{sound.Format{SampleRate: 22050, Bits: 16, Channels: 1}, false, 734},
		{sound.Format{SampleRate: 22050, Bits: 8, Channels: 2}, false, 734},
		{sound.Format{SampleRate: 22050, Bits: 8, Channels: 1}, false, 367},
		{sound.Format{SampleRate: 22050, Bits: 8, Channels: 1}, true, 734},
		{sound.Format{SampleRate: 22050, Bits: 12, Channels: 1}, false, 549},
	}
	for _, tt := range tests {
		if got := e.feedSize(tt.f, tt.starved); got != tt.want {
			t.Errorf("feedSize(%+v, %v) = %d, want %d", tt.f, tt.starved, got, tt.want)
		}
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, 2, map[string]fixture{"long.imx": longFixture()})
	if _, err := e.StartMusic(context.Background(), "long.imx", 5, 0, 127); err != nil {
		t.Fatalf("StartMusic: %v", err)
	}
	if got := e.PositionMs(5); got != 0 {
		t.Errorf("PositionMs before first tick = %d, want 0", got)
	}
	ticks(e, 3)

	// 600 bytes of 16-bit mono at 6000 Hz.
	if got := e.PositionMs(5); got != 50 {
		t.Errorf("PositionMs = %d, want 50", got)
	}
	if got := e.CurMusicPositionMs(); got != 50 {
		t.Errorf("CurMusicPositionMs = %d, want 50", got)
	}
	if got := e.CurMusicSoundID(); got != 5 {
		t.Errorf("CurMusicSoundID = %d, want 5", got)
	}
	if w, h := e.LipSync(5, 0, 200); w != 3 || h != 4 {
		t.Errorf("LipSync = %d, %d; want 3, 4", w, h)
	}
	if w, h := e.LipSync(99, 0, 200); w != 0 || h != 0 {
		t.Errorf("LipSync of unknown sound = %d, %d; want 0, 0", w, h)
	}
}

func TestStopAllSoundsAndPause(t *testing.T) {
	t.Parallel()

	e, m := newTestEngine(t, 2, map[string]fixture{"long.imx": longFixture()})
	start(t, e, 1, "long.imx", 10)
	start(t, e, 2, "long.imx", 10)

	e.Pause()
	e.Tick()
	if got := m.Stream(1).Buffers(); got != 0 {
		t.Errorf("paused engine queued %d buffers", got)
	}
	e.Resume()
	e.Tick()
	if got := m.Stream(1).Buffers(); got == 0 {
		t.Error("resumed engine queued nothing")
	}

	e.SetTrigger(Trigger{Marker: "exit"})
	e.StopAllSounds()
	for _, ti := range e.Snapshot() {
		if ti.State != Idle.String() {
			t.Errorf("slot %d state = %s after StopAllSounds, want idle", ti.Slot, ti.State)
		}
	}
	if _, ok := e.PendingTrigger(); ok {
		t.Error("StopAllSounds kept the pending trigger")
	}
	if m.CallCountStop != 2 {
		t.Errorf("mixer Stop calls = %d, want 2", m.CallCountStop)
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, 1, map[string]fixture{"long.imx": longFixture()}, WithTickRate(500))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for e.LastTick().IsZero() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.LastTick().IsZero() {
		t.Fatal("engine never ticked")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClose_EndsRun(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, 1, map[string]fixture{"long.imx": longFixture()})
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
