package voice

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/cbegin/keyharp-go/internal/audio"
	"github.com/cbegin/keyharp-go/internal/config"
	"github.com/cbegin/keyharp-go/internal/pitch"
	"github.com/cbegin/keyharp-go/internal/samples"
	"github.com/cbegin/keyharp-go/internal/sched"
)

// countingEngine records every clip it is asked to play and plays it on a
// real mixer so handles behave as in production.
type countingEngine struct {
	*audio.Mixer
	plays []*audio.Clip
}

func (e *countingEngine) Play(c *audio.Clip) (*audio.Channel, error) {
	e.plays = append(e.plays, c)
	return e.Mixer.Play(c)
}

func (e *countingEngine) count(c *audio.Clip) int {
	n := 0
	for _, p := range e.plays {
		if p == c {
			n++
		}
	}
	return n
}

// oneSecond loads a one second clip at 1kHz for every file except those in
// missing.
func oneSecond(missing ...string) samples.Loader {
	return func(path string, rate int) (*audio.Clip, error) {
		for _, m := range missing {
			if filepath.Base(path) == m {
				return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
			}
		}
		s := make([]float32, 1000)
		for i := range s {
			s[i] = 0.5
		}
		return &audio.Clip{Name: filepath.Base(path), SampleRate: 1000, Samples: s, Gain: 1}, nil
	}
}

type rig struct {
	d      *sched.Dispatcher
	engine *countingEngine
	cache  *samples.Cache
	loops  *Registry
	keys   *Scheduler
	cur    config.Settings
	events int
}

func newRig(t *testing.T, edit func(*config.Config), missing ...string) *rig {
	t.Helper()
	cfg := config.Default()
	if edit != nil {
		edit(&cfg)
	}
	keys, err := cfg.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	quiet := log.New(io.Discard, "", 0)
	r := &rig{
		d:      sched.New(),
		engine: &countingEngine{Mixer: audio.NewMixer(1000, 512)},
		cur:    cfg.Settings(),
	}
	r.cache = samples.NewCache(samples.Library{Root: "lib"}, keys, samples.Options{
		SampleRate: 1000,
		Timing:     cfg.Timing,
		Loader:     oneSecond(missing...),
		Logger:     quiet,
	})
	r.cache.Rebuild(r.cur)
	opts := Options{
		Dispatcher: r.d,
		Engine:     r.engine,
		Cache:      r.cache,
		Keys:       keys,
		Timing:     cfg.Timing,
		MaxLoops:   cfg.MaxLoops,
		Settings:   func() config.Settings { return r.cur },
		Logger:     quiet,
		OnChange:   func() { r.events++ },
	}
	r.loops = NewRegistry(opts)
	r.keys = NewScheduler(opts, r.loops)
	return r
}

// apply changes the settings the way the instrument does: rebuild, reconcile,
// refresh, all in one turn.
func (r *rig) apply(edit func(*config.Settings)) {
	edit(&r.cur)
	r.cache.Rebuild(r.cur)
	r.keys.Reconcile()
	r.loops.Refresh()
}

func (r *rig) arm(t *testing.T, raw rune) (Outcome, error) {
	t.Helper()
	r.keys.Arm()
	return r.keys.KeyDown(raw)
}

func TestSustainRetriggersAtOverlapInterval(t *testing.T) {
	r := newRig(t, nil)
	r.cur.Sustain = true
	v, _ := r.cache.Voice('0')
	if got := overlapInterval(v.SustainDuration, 10); got != 90*time.Millisecond {
		t.Fatalf("interval = %v, want 90ms", got)
	}

	if out, err := r.keys.KeyDown('0'); out != OutcomePlayed || err != nil {
		t.Fatalf("key down = %v, %v", out, err)
	}
	if r.engine.count(v.Attack) != 1 {
		t.Fatalf("attack not played")
	}
	r.d.Advance(100 * time.Millisecond)
	before := r.engine.count(v.Sustain)
	r.d.Advance(300 * time.Millisecond)
	n := r.engine.count(v.Sustain) - before
	if n < 3 || n > 4 {
		t.Fatalf("%d re-triggers in 300ms, want 3-4", n)
	}
	if r.keys.Sounding('0') == 0 {
		t.Fatalf("sustain channels should be tracked")
	}

	r.keys.KeyUp('0')
	total := r.engine.count(v.Sustain)
	r.d.Advance(5 * time.Second)
	if got := r.engine.count(v.Sustain); got != total {
		t.Fatalf("%d sustain plays after release", got-total)
	}
	if r.keys.Sounding('0') != 0 {
		t.Fatalf("channels should be faded and cleared after release")
	}
	if r.d.Len() != 0 {
		t.Fatalf("%d tasks left after release", r.d.Len())
	}
}

func TestKeyRepeatAndNormalPlay(t *testing.T) {
	r := newRig(t, nil)
	v, _ := r.cache.Voice('5')
	if out, _ := r.keys.KeyDown('5'); out != OutcomePlayed {
		t.Fatalf("first press = %v", out)
	}
	if out, _ := r.keys.KeyDown('5'); out != OutcomeIgnored {
		t.Fatalf("repeat = %v", out)
	}
	if r.engine.count(v.Original) != 1 {
		t.Fatalf("original played %d times", r.engine.count(v.Original))
	}
	r.keys.KeyUp('5')
	if out, _ := r.keys.KeyDown('5'); out != OutcomePlayed {
		t.Fatalf("press after release = %v", out)
	}
	if out, _ := r.keys.KeyDown('q'); out != OutcomeIgnored {
		t.Fatalf("unmapped key = %v", out)
	}
}

func TestMissingSampleKeepsKeySilent(t *testing.T) {
	r := newRig(t, nil, "E3.wav")
	if out, err := r.keys.KeyDown('4'); out != OutcomeIgnored || err != nil {
		t.Fatalf("key down = %v, %v", out, err)
	}
	if !r.keys.Held('4') || len(r.engine.plays) != 0 {
		t.Fatalf("key should be held and silent")
	}
}

func TestReconcileCancelsVanishedVoices(t *testing.T) {
	r := newRig(t, nil, "C2.wav")
	r.cur.Sustain = true
	r.keys.KeyDown('`')
	r.d.Advance(200 * time.Millisecond)
	if r.keys.Sounding('`') == 0 {
		t.Fatalf("sustain should be sounding")
	}
	r.apply(func(s *config.Settings) { s.Octave = 2 })
	if r.keys.Sounding('`') != 0 || r.d.Len() != 0 {
		t.Fatalf("vanished voice still scheduled")
	}
	plays := len(r.engine.plays)
	r.d.Advance(time.Second)
	if len(r.engine.plays) != plays {
		t.Fatalf("cancelled key kept playing")
	}
}

func TestLoopCapacity(t *testing.T) {
	r := newRig(t, func(c *config.Config) { c.MaxLoops = 4 })
	for _, k := range "`1234" {
		out, err := r.arm(t, k)
		if k == '4' {
			if !errors.Is(err, ErrSlotCapacityExceeded) {
				t.Fatalf("expected ErrSlotCapacityExceeded, got %v", err)
			}
			continue
		}
		if out != OutcomeLoopStarted || err != nil {
			t.Fatalf("arm %q = %v, %v", k, out, err)
		}
	}
	if r.loops.Len() != 4 {
		t.Fatalf("%d loops, want 4", r.loops.Len())
	}
	if r.keys.Armed() {
		t.Fatalf("arm flag should clear after a rejected toggle")
	}
	for i, info := range r.loops.Loops() {
		if info.Slot != i {
			t.Fatalf("slot %d holds index %d", i, info.Slot)
		}
	}
}

func TestLoopToggleAndSlotReuse(t *testing.T) {
	r := newRig(t, nil)
	r.arm(t, '1')
	r.arm(t, '2')
	if out, _ := r.arm(t, '1'); out != OutcomeLoopStopped {
		t.Fatalf("second arm of the same note = %v", out)
	}
	r.arm(t, '3')
	if l := r.loops.Slot(0); l == nil || l.RawKey != '3' {
		t.Fatalf("lowest free slot not reused: %+v", l)
	}
	if r.events != 4 {
		t.Fatalf("%d change events, want 4", r.events)
	}
	if r.loops.StopSlot(5) {
		t.Fatalf("empty slot reported stopped")
	}
	if r.loops.StopIdentity(pitch.Identity{Note: pitch.B, Octave: 9, Instrument: "Harp"}) {
		t.Fatalf("absent identity reported stopped")
	}
}

func TestNormalLoopReplaysOriginal(t *testing.T) {
	r := newRig(t, nil)
	r.arm(t, '7')
	v, _ := r.cache.Voice('7')
	l := r.loops.Slot(0)
	r.d.Advance(0)
	r.d.Advance(2500 * time.Millisecond)
	// plays at 0, 1s and 2s; the loop's own voice is a separate preparation
	n := 0
	for _, c := range r.engine.plays {
		if c == l.voice.Original {
			n++
		}
	}
	if n != 3 {
		t.Fatalf("original replayed %d times, want 3", n)
	}
	if r.engine.count(v.Original) != 0 {
		t.Fatalf("loop should play its own prepared voice")
	}
}

func TestSustainLoopOverlaps(t *testing.T) {
	r := newRig(t, nil)
	r.cur.Sustain = true
	r.arm(t, '7')
	l := r.loops.Slot(0)
	if !l.Sustain {
		t.Fatalf("loop should snapshot sustain mode")
	}
	r.d.Advance(0)
	r.d.Advance(450 * time.Millisecond)
	// 0, 90, 180, 270, 360, 450
	if len(l.active) != 6 {
		t.Fatalf("%d overlapping channels, want 6", len(l.active))
	}
}

func TestLoopIdentityFollowsLocks(t *testing.T) {
	r := newRig(t, func(c *config.Config) { c.Octave = 4 })
	r.arm(t, '`')
	r.d.Advance(0)
	r.apply(func(s *config.Settings) { s.Octave = 5 })

	// unlocked: the loop follows the global octave, so the press matches
	if out, _ := r.keys.KeyDown('`'); out != OutcomeLoopStopped {
		t.Fatalf("unlocked loop press = %v", out)
	}
	r.keys.KeyUp('`')

	r.apply(func(s *config.Settings) { s.Octave = 4 })
	r.arm(t, '`')
	r.loops.ToggleLock(0, LockOctave)
	r.apply(func(s *config.Settings) { s.Octave = 5 })
	if out, _ := r.keys.KeyDown('`'); out == OutcomeLoopStopped {
		t.Fatalf("octave-locked loop stopped by a press at another octave")
	}
	r.keys.KeyUp('`')
	if r.loops.Len() != 1 {
		t.Fatalf("locked loop should survive")
	}
	if id := r.loops.Identity(r.loops.Slot(0)); id.Octave != 4 {
		t.Fatalf("locked identity = %v", id)
	}
	if got := filepath.Base(r.loops.Slot(0).voice.File); got != "C4.wav" {
		t.Fatalf("locked loop plays %s", got)
	}
}

func TestLockToggleRoundTrip(t *testing.T) {
	r := newRig(t, nil)
	r.arm(t, '9')
	l := r.loops.Slot(0)
	for _, kind := range []LockKind{LockOctave, LockKey, LockInstrument} {
		before := r.loops.Identity(l)
		if !r.loops.ToggleLock(0, kind) || !r.loops.locked(l, kind) {
			t.Fatalf("%v lock not set", kind)
		}
		r.loops.ToggleLock(0, kind)
		if r.loops.locked(l, kind) {
			t.Fatalf("%v lock not cleared", kind)
		}
		if after := r.loops.Identity(l); after != before {
			t.Fatalf("%v round trip: %v then %v", kind, before, after)
		}
	}

	r.loops.ToggleLock(0, LockKey)
	r.apply(func(s *config.Settings) { s.Key = pitch.D })
	if id := r.loops.Identity(l); id.Note != pitch.A || id.Octave != 3 {
		t.Fatalf("key-locked loop moved: %v", id)
	}
	if r.loops.ToggleLock(3, LockKey) {
		t.Fatalf("empty slot lock reported")
	}
}

func TestLockAllAndUnlockAll(t *testing.T) {
	r := newRig(t, nil)
	r.arm(t, '1')
	r.arm(t, '2')
	r.loops.ToggleLock(1, LockInstrument)
	if n := r.loops.LockAll(LockInstrument); n != 1 {
		t.Fatalf("lock all changed %d loops, want 1", n)
	}
	r.apply(func(s *config.Settings) { s.Instrument = "Piano" })
	for _, info := range r.loops.Loops() {
		if v, ok := info.InstrumentLock.Unpack(); info.Identity.Instrument != "Harp" || !ok || v != "Harp" {
			t.Fatalf("loop %d not pinned: %+v", info.Slot, info)
		}
	}
	if n := r.loops.UnlockAll(LockInstrument); n != 2 {
		t.Fatalf("unlock all changed %d loops, want 2", n)
	}
	for _, info := range r.loops.Loops() {
		if info.Identity.Instrument != "Piano" {
			t.Fatalf("loop %d did not follow instrument: %v", info.Slot, info.Identity)
		}
	}
}

func TestStopAllCancelsLoops(t *testing.T) {
	r := newRig(t, nil)
	r.cur.Sustain = true
	r.arm(t, '1')
	r.cur.Sustain = false
	r.arm(t, '2')
	r.arm(t, '3')
	r.d.Advance(200 * time.Millisecond)
	if n := r.loops.StopAll(); n != 3 {
		t.Fatalf("stopped %d loops, want 3", n)
	}
	if r.loops.Len() != 0 || len(r.loops.Loops()) != 0 {
		t.Fatalf("loops left after stop all")
	}
	for i := 0; i < 3; i++ {
		if r.loops.Slot(i) != nil {
			t.Fatalf("slot %d not freed", i)
		}
	}
	if r.d.Len() != 0 {
		t.Fatalf("%d loop tasks still pending", r.d.Len())
	}
	plays := len(r.engine.plays)
	r.d.Advance(10 * time.Second)
	if len(r.engine.plays) != plays {
		t.Fatalf("stopped loops kept playing")
	}
}

func TestLoopWithoutSampleWaits(t *testing.T) {
	r := newRig(t, nil, "F#3.wav")
	if out, err := r.arm(t, '6'); out != OutcomeLoopStarted || err != nil {
		t.Fatalf("arm = %v, %v", out, err)
	}
	r.d.Advance(3 * time.Second)
	if len(r.engine.plays) != 0 {
		t.Fatalf("loop without a sample played")
	}
	if r.loops.Loops()[0].Ready {
		t.Fatalf("loop should report no voice")
	}
	r.apply(func(s *config.Settings) { s.Octave = 4 })
	r.d.Advance(time.Second)
	if len(r.engine.plays) == 0 {
		t.Fatalf("loop should play once a sample is available")
	}
}

func TestKeyUpInertWhileLooping(t *testing.T) {
	r := newRig(t, nil)
	r.cur.Sustain = true
	r.keys.KeyDown('8')
	r.arm(t, '8')
	r.keys.KeyUp('8')
	if r.keys.Held('8') {
		t.Fatalf("key still held after release")
	}
	// the pending sustain cycle sees the release and schedules the stop itself
	r.d.Advance(100 * time.Millisecond)
	r.d.Advance(2 * time.Second)
	if r.keys.Sounding('8') != 0 {
		t.Fatalf("key sustain should have stopped")
	}
	if r.loops.Len() != 1 {
		t.Fatalf("loop should keep playing")
	}
}
