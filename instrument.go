package keyharp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cbegin/keyharp-go/internal/audio"
	"github.com/cbegin/keyharp-go/internal/config"
	"github.com/cbegin/keyharp-go/internal/pitch"
	"github.com/cbegin/keyharp-go/internal/samples"
	"github.com/cbegin/keyharp-go/internal/sched"
	"github.com/cbegin/keyharp-go/internal/voice"
)

var (
	ErrSampleNotFound       = samples.ErrSampleNotFound
	ErrSlotCapacityExceeded = voice.ErrSlotCapacityExceeded
	ErrOctaveOutOfRange     = errors.New("octave out of range")
	ErrUnknownInstrument    = errors.New("unknown instrument")
)

// Event carries a snapshot of the instrument state from Watch().
type Event struct {
	Kind     EventKind
	Settings config.Settings
	Loops    []voice.LoopInfo
	Armed    bool
	Running  bool
}

type EventKind int

const (
	EventSettingsChanged EventKind = iota
	EventLoopsChanged
	EventRunStateChanged
)

type Option func(*options)

type options struct {
	dispatcher *sched.Dispatcher
	loader     samples.Loader
	logger     *log.Logger
	output     bool
	engine     voice.Engine
}

func defaultOptions() options {
	return options{output: true}
}

// WithDispatcher runs the instrument on d instead of a private dispatcher.
func WithDispatcher(d *sched.Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithLoader replaces the WAV file loader.
func WithLoader(load samples.Loader) Option {
	return func(o *options) {
		o.loader = load
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithOutput controls whether Start opens the sound card. Without output the
// mixer is only pulled by Render.
func WithOutput(enabled bool) Option {
	return func(o *options) {
		o.output = enabled
	}
}

// WithEngine plays voices through e instead of the internal mixer.
func WithEngine(e voice.Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

// Instrument is the keyboard instrument: it owns the current settings, the
// sample cache, the key scheduler and the loop slots. Except for Watch, every
// method must be called on the dispatcher's goroutine, either from a task or
// through Dispatcher().Do.
type Instrument struct {
	cfg    config.Config
	d      *sched.Dispatcher
	logger *log.Logger
	lib    samples.Library
	mixer  *audio.Mixer
	engine voice.Engine
	cache  *samples.Cache
	loops  *voice.Registry
	keys   *voice.Scheduler

	settings   config.Settings
	running    bool
	wantOutput bool
	out        *audio.Output

	lastShift [2]time.Duration
	shifted   [2]bool

	eventCh   chan Event
	eventChMu sync.Mutex
}

func New(cfg config.Config, opts ...Option) (*Instrument, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.dispatcher == nil {
		o.dispatcher = sched.New()
	}
	if o.logger == nil {
		o.logger = log.New(os.Stderr, "keyharp: ", log.LstdFlags)
	}
	keyMap, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	inst := &Instrument{
		cfg:        cfg,
		d:          o.dispatcher,
		logger:     o.logger,
		lib:        samples.Library{Root: cfg.SampleRoot},
		mixer:      audio.NewMixer(cfg.SampleRate, cfg.Channels),
		settings:   cfg.Settings(),
		wantOutput: o.output,
	}
	inst.engine = o.engine
	if inst.engine == nil {
		inst.engine = inst.mixer
	}
	inst.cache = samples.NewCache(inst.lib, keyMap, samples.Options{
		SampleRate: cfg.SampleRate,
		Timing:     cfg.Timing,
		Loader:     o.loader,
		Logger:     o.logger,
	})
	vopts := voice.Options{
		Dispatcher: inst.d,
		Engine:     inst.engine,
		Cache:      inst.cache,
		Keys:       keyMap,
		Timing:     cfg.Timing,
		MaxLoops:   cfg.MaxLoops,
		Settings:   func() config.Settings { return inst.settings },
		Logger:     o.logger,
		OnChange:   func() { inst.notify(EventLoopsChanged) },
	}
	inst.loops = voice.NewRegistry(vopts)
	inst.keys = voice.NewScheduler(vopts, inst.loops)
	n := inst.cache.Rebuild(inst.settings)
	inst.logger.Printf("%s: %d of %d keys loaded", inst.settings.Instrument, n, len(keyMap.Notes))
	return inst, nil
}

// Dispatcher returns the timeline the instrument runs on.
func (i *Instrument) Dispatcher() *sched.Dispatcher { return i.d }

// Config returns the configuration the instrument was built with.
func (i *Instrument) Config() config.Config { return i.cfg }

// Start enables key handling and, unless disabled, opens the audio output.
func (i *Instrument) Start() error {
	if i.running {
		return nil
	}
	if i.wantOutput && i.out == nil {
		out, err := audio.NewOutput(i.cfg.SampleRate, i.mixer)
		if err != nil {
			return err
		}
		i.out = out
		i.out.Play()
	}
	i.running = true
	i.notify(EventRunStateChanged)
	return nil
}

// Stop silences every key and loop, then every one-shot still ringing, and
// closes the audio output.
func (i *Instrument) Stop() error {
	if !i.running {
		return nil
	}
	i.keys.StopAll()
	i.loops.StopAll()
	i.engine.StopAll()
	i.running = false
	var err error
	if i.out != nil {
		err = i.out.Close()
		i.out = nil
	}
	i.notify(EventRunStateChanged)
	return err
}

func (i *Instrument) Running() bool { return i.running }

// Run drives the dispatcher from the wall clock until ctx is done and then
// stops the instrument. Cancellation is the normal way out and is not
// reported as an error.
func (i *Instrument) Run(ctx context.Context) error {
	err := i.d.Run(ctx)
	if serr := i.Stop(); serr != nil {
		return serr
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// KeyDown handles a raw key press. Keys are ignored while stopped.
func (i *Instrument) KeyDown(raw rune) (voice.Outcome, error) {
	if !i.running {
		return voice.OutcomeIgnored, nil
	}
	armed := i.keys.Armed()
	out, err := i.keys.KeyDown(raw)
	if armed && err != nil {
		i.notify(EventSettingsChanged)
	}
	return out, err
}

func (i *Instrument) KeyUp(raw rune) {
	if !i.running {
		return
	}
	i.keys.KeyUp(raw)
}

// ArmLoop makes the next note key start or stop a loop.
func (i *Instrument) ArmLoop() {
	i.keys.Arm()
	i.notify(EventSettingsChanged)
}

// ShiftOctave steps the octave down (dir < 0) or up. Requests within the
// shift cooldown of the previous attempt in the same direction are dropped
// and report false, so a held key at the range edge errors once per window.
func (i *Instrument) ShiftOctave(dir int) (bool, error) {
	if dir == 0 {
		return false, nil
	}
	side := 0
	if dir > 0 {
		side, dir = 1, 1
	} else {
		dir = -1
	}
	now := i.d.Now()
	if i.shifted[side] && now-i.lastShift[side] < i.cfg.ShiftCooldown {
		return false, nil
	}
	i.shifted[side] = true
	i.lastShift[side] = now
	if err := i.SetOctave(i.settings.Octave + dir); err != nil {
		return false, err
	}
	return true, nil
}

func (i *Instrument) SetOctave(octave int) error {
	if octave < i.cfg.MinOctave || octave > i.cfg.MaxOctave {
		return fmt.Errorf("%w: %d not in %d..%d", ErrOctaveOutOfRange, octave, i.cfg.MinOctave, i.cfg.MaxOctave)
	}
	next := i.settings
	next.Octave = octave
	i.apply(next)
	return nil
}

// SetKey transposes to the named key, such as "D#".
func (i *Instrument) SetKey(name string) error {
	key, err := pitch.ParseClass(name)
	if err != nil {
		return err
	}
	next := i.settings
	next.Key = key
	i.apply(next)
	return nil
}

func (i *Instrument) SetInstrument(name string) error {
	if !i.lib.Has(name) {
		return fmt.Errorf("%w: %q", ErrUnknownInstrument, name)
	}
	next := i.settings
	next.Instrument = name
	i.apply(next)
	return nil
}

// SetVolume sets the playback volume, clamped to [0, 1]. Clips already
// sounding keep their volume.
func (i *Instrument) SetVolume(volume float64) {
	next := i.settings
	next.Volume = max(0, min(1, volume))
	i.apply(next)
}

// SetSustain switches new key presses and new loops between sustain and
// single-shot playback.
func (i *Instrument) SetSustain(on bool) {
	if i.settings.Sustain == on {
		return
	}
	i.settings.Sustain = on
	i.notify(EventSettingsChanged)
}

// apply swaps in new settings and re-derives everything that reads them
// before any further task runs.
func (i *Instrument) apply(next config.Settings) {
	if next == i.settings {
		return
	}
	i.settings = next
	n := i.cache.Rebuild(next)
	i.keys.Reconcile()
	i.loops.Refresh()
	i.logger.Printf("octave %d, key %v, %s, volume %.2f: %d keys loaded", next.Octave, next.Key, next.Instrument, next.Volume, n)
	i.notify(EventSettingsChanged)
}

func (i *Instrument) StopLoopSlot(slot int) bool { return i.loops.StopSlot(slot) }

func (i *Instrument) StopAllLoops() int { return i.loops.StopAll() }

func (i *Instrument) ToggleLock(slot int, kind voice.LockKind) bool {
	return i.loops.ToggleLock(slot, kind)
}

func (i *Instrument) LockAll(kind voice.LockKind) int { return i.loops.LockAll(kind) }

func (i *Instrument) UnlockAll(kind voice.LockKind) int { return i.loops.UnlockAll(kind) }

func (i *Instrument) Settings() config.Settings { return i.settings }

func (i *Instrument) Armed() bool { return i.keys.Armed() }

func (i *Instrument) Loops() []voice.LoopInfo { return i.loops.Loops() }

// LoopCapacity returns the number of loop slots.
func (i *Instrument) LoopCapacity() int { return i.loops.Capacity() }

// Instruments lists the instrument directories of the sample library.
func (i *Instrument) Instruments() ([]string, error) { return i.lib.Instruments() }

func (i *Instrument) notify(kind EventKind) {
	i.eventChMu.Lock()
	ch := i.eventCh
	i.eventChMu.Unlock()
	if ch == nil {
		return
	}
	ev := Event{
		Kind:     kind,
		Settings: i.settings,
		Loops:    i.loops.Loops(),
		Armed:    i.keys.Armed(),
		Running:  i.running,
	}
	select {
	case ch <- ev:
	default:
		// Channel full; drop event
	}
}

// Watch returns a channel that receives a state snapshot after every settings
// change, loop mutation and start or stop. The channel is buffered (cap 16)
// and events are dropped rather than block the instrument. Only the most
// recent Watch() channel receives events.
func (i *Instrument) Watch() <-chan Event {
	ch := make(chan Event, 16)
	i.eventChMu.Lock()
	i.eventCh = ch
	i.eventChMu.Unlock()
	return ch
}
