package voice

import (
	"fmt"
	"log"

	"github.com/cbegin/keyharp-go/internal/audio"
	"github.com/cbegin/keyharp-go/internal/config"
	"github.com/cbegin/keyharp-go/internal/pitch"
	"github.com/cbegin/keyharp-go/internal/samples"
	"github.com/cbegin/keyharp-go/internal/sched"
	"github.com/cbegin/keyharp-go/internal/types"
)

type LockKind int

const (
	LockOctave LockKind = iota
	LockKey
	LockInstrument
)

func (k LockKind) String() string {
	switch k {
	case LockOctave:
		return "octave"
	case LockKey:
		return "key"
	case LockInstrument:
		return "instrument"
	default:
		return fmt.Sprintf("LockKind(%d)", int(k))
	}
}

// Loop is a note repeating in a slot. Unlocked settings follow the current
// settings; a lock pins one of them to the value it had when locked.
type Loop struct {
	Slot              int
	RawKey            rune
	CreatedOctave     int
	CreatedKey        pitch.Class
	CreatedInstrument string
	Sustain           bool

	OctaveLock     types.Optional[int]
	KeyLock        types.Optional[pitch.Class]
	InstrumentLock types.Optional[string]

	voice   *samples.Voice
	primary *audio.Channel
	active  []*audio.Channel
	next    *sched.Task
}

// Effective substitutes the loop's locks and sustain mode into cur.
func (l *Loop) Effective(cur config.Settings) config.Settings {
	eff := cur
	eff.Octave = l.OctaveLock.Or(cur.Octave)
	eff.Key = l.KeyLock.Or(cur.Key)
	eff.Instrument = l.InstrumentLock.Or(cur.Instrument)
	eff.Sustain = l.Sustain
	return eff
}

// LoopInfo is a read-only view of a loop for display.
type LoopInfo struct {
	Slot              int
	Key               rune
	Identity          pitch.Identity
	Sustain           bool
	CreatedOctave     int
	CreatedKey        pitch.Class
	CreatedInstrument string
	OctaveLock        types.Optional[int]
	KeyLock           types.Optional[pitch.Class]
	InstrumentLock    types.Optional[string]
	Ready             bool
}

// Registry owns the loop slots. All methods run on the dispatcher's
// goroutine.
type Registry struct {
	d        *sched.Dispatcher
	engine   Engine
	cache    *samples.Cache
	keys     pitch.KeyMap
	timing   config.Timing
	settings func() config.Settings
	logger   *log.Logger
	onChange func()

	slots []*Loop
}

func NewRegistry(opts Options) *Registry {
	n := opts.MaxLoops
	if n <= 0 {
		n = config.Default().MaxLoops
	}
	return &Registry{
		d:        opts.Dispatcher,
		engine:   opts.Engine,
		cache:    opts.Cache,
		keys:     opts.Keys,
		timing:   opts.Timing,
		settings: opts.Settings,
		logger:   opts.logger(),
		onChange: opts.OnChange,
		slots:    make([]*Loop, n),
	}
}

// SetOnChange replaces the callback fired after every mutation.
func (r *Registry) SetOnChange(fn func()) { r.onChange = fn }

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

func (r *Registry) Capacity() int { return len(r.slots) }

// Len returns the number of active loops.
func (r *Registry) Len() int {
	n := 0
	for _, l := range r.slots {
		if l != nil {
			n++
		}
	}
	return n
}

// Slot returns the loop in slot i, or nil.
func (r *Registry) Slot(i int) *Loop {
	if i < 0 || i >= len(r.slots) {
		return nil
	}
	return r.slots[i]
}

// Identity returns the loop's effective identity under the current settings.
func (r *Registry) Identity(l *Loop) pitch.Identity {
	eff := l.Effective(r.settings())
	id, _ := pitch.Identify(r.keys, l.RawKey, eff.Octave, eff.Key, eff.Instrument)
	return id
}

// Find returns the loop whose effective identity is id, or nil.
func (r *Registry) Find(id pitch.Identity) *Loop {
	for _, l := range r.slots {
		if l != nil && r.Identity(l) == id {
			return l
		}
	}
	return nil
}

// Toggle stops the loop playing id, or starts one for raw in the lowest free
// slot.
func (r *Registry) Toggle(id pitch.Identity, raw rune) (Outcome, error) {
	if l := r.Find(id); l != nil {
		r.stop(l)
		r.changed()
		return OutcomeLoopStopped, nil
	}
	slot := -1
	for i, l := range r.slots {
		if l == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return OutcomeIgnored, fmt.Errorf("%w: %d loops playing", ErrSlotCapacityExceeded, len(r.slots))
	}
	cur := r.settings()
	l := &Loop{
		Slot:              slot,
		RawKey:            raw,
		CreatedOctave:     cur.Octave,
		CreatedKey:        cur.Key,
		CreatedInstrument: cur.Instrument,
		Sustain:           cur.Sustain,
	}
	r.prepare(l)
	r.slots[slot] = l
	l.next = r.d.After(0, func() { r.cycle(l) })
	r.logger.Printf("slot %d: looping %v", slot+1, id)
	r.changed()
	return OutcomeLoopStarted, nil
}

func (r *Registry) prepare(l *Loop) {
	v, err := r.cache.Prepare(l.Effective(r.settings()), l.RawKey)
	if err != nil {
		r.logger.Printf("slot %d: %v", l.Slot+1, err)
		l.voice = nil
		return
	}
	l.voice = v
}

func (r *Registry) cycle(l *Loop) {
	l.next = nil
	if r.slots[l.Slot] != l {
		return
	}
	v := l.voice
	if v == nil {
		l.next = r.d.After(max(r.timing.Release, MinInterval), func() { r.cycle(l) })
		return
	}
	if l.Sustain {
		l.active = prune(l.active)
		if ch, err := r.engine.Play(v.Sustain); err != nil {
			r.logger.Printf("slot %d: %v", l.Slot+1, err)
		} else {
			l.active = append(l.active, ch)
		}
		l.next = r.d.After(overlapInterval(v.SustainDuration, r.timing.MaxOverlaps), func() { r.cycle(l) })
		return
	}
	l.primary.Stop()
	ch, err := r.engine.Play(v.Original)
	if err != nil {
		r.logger.Printf("slot %d: %v", l.Slot+1, err)
	}
	l.primary = ch
	l.next = r.d.After(max(v.Original.Duration(), MinInterval), func() { r.cycle(l) })
}

func (r *Registry) stop(l *Loop) {
	l.next.Cancel()
	l.next = nil
	l.primary.FadeOut(r.timing.FadeOut)
	l.primary = nil
	for _, ch := range l.active {
		ch.FadeOut(r.timing.FadeOut)
	}
	l.active = nil
	r.slots[l.Slot] = nil
	r.logger.Printf("slot %d: stopped", l.Slot+1)
}

// StopIdentity stops the loop playing id. It reports false when there is
// nothing to stop.
func (r *Registry) StopIdentity(id pitch.Identity) bool {
	l := r.Find(id)
	if l == nil {
		r.logger.Printf("%v is not looping", id)
		return false
	}
	r.stop(l)
	r.changed()
	return true
}

func (r *Registry) StopSlot(slot int) bool {
	l := r.Slot(slot)
	if l == nil {
		r.logger.Printf("slot %d: nothing to stop", slot+1)
		return false
	}
	r.stop(l)
	r.changed()
	return true
}

// StopAll stops every loop and returns how many were playing.
func (r *Registry) StopAll() int {
	n := 0
	for _, l := range r.slots {
		if l != nil {
			r.stop(l)
			n++
		}
	}
	r.changed()
	return n
}

func (r *Registry) locked(l *Loop, kind LockKind) bool {
	switch kind {
	case LockOctave:
		return !l.OctaveLock.Empty()
	case LockKey:
		return !l.KeyLock.Empty()
	case LockInstrument:
		return !l.InstrumentLock.Empty()
	}
	return false
}

func (r *Registry) setLock(l *Loop, kind LockKind, on bool) {
	cur := r.settings()
	switch kind {
	case LockOctave:
		l.OctaveLock = types.NewOptional(cur.Octave, on)
	case LockKey:
		l.KeyLock = types.NewOptional(cur.Key, on)
	case LockInstrument:
		l.InstrumentLock = types.NewOptional(cur.Instrument, on)
	}
	r.prepare(l)
}

// ToggleLock flips one lock of the loop in slot, pinning the current value
// when locking. Playback already in flight is not interrupted.
func (r *Registry) ToggleLock(slot int, kind LockKind) bool {
	l := r.Slot(slot)
	if l == nil {
		r.logger.Printf("slot %d: nothing to lock", slot+1)
		return false
	}
	r.setLock(l, kind, !r.locked(l, kind))
	r.changed()
	return true
}

// LockAll pins kind on every unlocked loop and returns how many changed.
func (r *Registry) LockAll(kind LockKind) int {
	return r.setAll(kind, true)
}

// UnlockAll releases kind on every locked loop and returns how many changed.
func (r *Registry) UnlockAll(kind LockKind) int {
	return r.setAll(kind, false)
}

func (r *Registry) setAll(kind LockKind, on bool) int {
	n := 0
	for _, l := range r.slots {
		if l == nil || r.locked(l, kind) == on {
			continue
		}
		r.setLock(l, kind, on)
		n++
	}
	r.changed()
	return n
}

// Refresh re-prepares every loop for the current settings.
func (r *Registry) Refresh() {
	for _, l := range r.slots {
		if l != nil {
			r.prepare(l)
		}
	}
}

// Loops returns a snapshot of the active loops ordered by slot.
func (r *Registry) Loops() []LoopInfo {
	var out []LoopInfo
	for _, l := range r.slots {
		if l == nil {
			continue
		}
		out = append(out, LoopInfo{
			Slot:              l.Slot,
			Key:               l.RawKey,
			Identity:          r.Identity(l),
			Sustain:           l.Sustain,
			CreatedOctave:     l.CreatedOctave,
			CreatedKey:        l.CreatedKey,
			CreatedInstrument: l.CreatedInstrument,
			OctaveLock:        l.OctaveLock,
			KeyLock:           l.KeyLock,
			InstrumentLock:    l.InstrumentLock,
			Ready:             l.voice != nil,
		})
	}
	return out
}
