package voice

import (
	"log"

	"github.com/cbegin/keyharp-go/internal/audio"
	"github.com/cbegin/keyharp-go/internal/config"
	"github.com/cbegin/keyharp-go/internal/pitch"
	"github.com/cbegin/keyharp-go/internal/samples"
	"github.com/cbegin/keyharp-go/internal/sched"
)

type keyState struct {
	held   bool
	task   *sched.Task // next sustain cycle or pending stop
	active []*audio.Channel
}

// Scheduler tracks the held state of every raw key and drives its playback.
// All methods run on the dispatcher's goroutine.
type Scheduler struct {
	d        *sched.Dispatcher
	engine   Engine
	cache    *samples.Cache
	keys     pitch.KeyMap
	timing   config.Timing
	settings func() config.Settings
	logger   *log.Logger
	loops    *Registry

	armed bool
	state map[rune]*keyState
}

func NewScheduler(opts Options, loops *Registry) *Scheduler {
	return &Scheduler{
		d:        opts.Dispatcher,
		engine:   opts.Engine,
		cache:    opts.Cache,
		keys:     opts.Keys,
		timing:   opts.Timing,
		settings: opts.Settings,
		logger:   opts.logger(),
		loops:    loops,
		state:    map[rune]*keyState{},
	}
}

// Arm makes the next note key press toggle a loop instead of playing.
func (s *Scheduler) Arm() { s.armed = true }

func (s *Scheduler) Armed() bool { return s.armed }

// Held reports whether raw is currently held down.
func (s *Scheduler) Held(raw rune) bool {
	st, ok := s.state[raw]
	return ok && st.held
}

// Sounding returns the number of sustain channels still tracked for raw.
func (s *Scheduler) Sounding(raw rune) int {
	st, ok := s.state[raw]
	if !ok {
		return 0
	}
	st.active = prune(st.active)
	return len(st.active)
}

func (s *Scheduler) KeyDown(raw rune) (Outcome, error) {
	cur := s.settings()
	id, ok := pitch.Identify(s.keys, raw, cur.Octave, cur.Key, cur.Instrument)
	if !ok {
		return OutcomeIgnored, nil
	}
	if s.armed {
		s.armed = false
		return s.loops.Toggle(id, raw)
	}
	if l := s.loops.Find(id); l != nil {
		s.loops.stop(l)
		s.loops.changed()
		return OutcomeLoopStopped, nil
	}

	st := s.state[raw]
	if st == nil {
		st = &keyState{}
		s.state[raw] = st
	}
	if st.held {
		return OutcomeIgnored, nil
	}
	st.held = true
	st.task.Cancel()
	st.task = nil

	v, ok := s.cache.Voice(raw)
	if !ok {
		s.logger.Printf("%v: no sample loaded", id)
		return OutcomeIgnored, nil
	}
	if !cur.Sustain {
		if _, err := s.engine.Play(v.Original); err != nil {
			s.logger.Printf("%v: %v", id, err)
		}
		return OutcomePlayed, nil
	}
	if _, err := s.engine.Play(v.Attack); err != nil {
		s.logger.Printf("%v: %v", id, err)
	}
	st.task = s.d.After(v.Attack.Duration(), func() { s.sustainCycle(raw) })
	return OutcomePlayed, nil
}

func (s *Scheduler) sustainCycle(raw rune) {
	st := s.state[raw]
	if st == nil {
		return
	}
	st.task = nil
	if !st.held {
		st.task = s.d.After(s.timing.Release, func() { s.stopSustain(raw) })
		return
	}
	v, ok := s.cache.Voice(raw)
	if !ok {
		s.stopSustain(raw)
		return
	}
	st.active = prune(st.active)
	if ch, err := s.engine.Play(v.Sustain); err != nil {
		s.logger.Printf("%v: %v", v.Identity, err)
	} else {
		st.active = append(st.active, ch)
	}
	st.task = s.d.After(overlapInterval(v.SustainDuration, s.timing.MaxOverlaps), func() { s.sustainCycle(raw) })
}

func (s *Scheduler) KeyUp(raw rune) {
	st, ok := s.state[raw]
	if !ok {
		return
	}
	st.held = false
	cur := s.settings()
	if id, ok := pitch.Identify(s.keys, raw, cur.Octave, cur.Key, cur.Instrument); ok && s.loops.Find(id) != nil {
		return
	}
	st.task.Cancel()
	st.task = s.d.After(s.timing.Release, func() { s.stopSustain(raw) })
}

func (s *Scheduler) stopSustain(raw rune) {
	st, ok := s.state[raw]
	if !ok {
		return
	}
	st.task.Cancel()
	st.task = nil
	for _, ch := range st.active {
		ch.FadeOut(s.timing.FadeOut)
	}
	st.active = nil
}

// Reconcile silences keys whose voice disappeared in the last cache rebuild.
func (s *Scheduler) Reconcile() {
	for raw, st := range s.state {
		if _, ok := s.cache.Voice(raw); ok {
			continue
		}
		st.task.Cancel()
		st.task = nil
		for _, ch := range st.active {
			ch.Stop()
		}
		st.active = nil
	}
}

// StopAll releases every key and fades out everything it was playing.
func (s *Scheduler) StopAll() {
	for raw := range s.state {
		s.stopSustain(raw)
	}
	clear(s.state)
	s.armed = false
}
