// Package voice turns key events into scheduled sample playback: per-key
// attack and sustain cycles, and slot-bound loops that repeat until stopped.
package voice

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/cbegin/keyharp-go/internal/audio"
	"github.com/cbegin/keyharp-go/internal/config"
	"github.com/cbegin/keyharp-go/internal/pitch"
	"github.com/cbegin/keyharp-go/internal/samples"
	"github.com/cbegin/keyharp-go/internal/sched"
)

// MinInterval bounds how often a single voice re-triggers.
const MinInterval = 10 * time.Millisecond

var ErrSlotCapacityExceeded = errors.New("no free loop slot")

// Engine plays clips on fresh channels. *audio.Mixer implements it.
type Engine interface {
	Play(clip *audio.Clip) (*audio.Channel, error)
	// StopAll silences every channel, tracked or not.
	StopAll()
}

// Outcome reports what a key press did.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomePlayed
	OutcomeLoopStarted
	OutcomeLoopStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomePlayed:
		return "played"
	case OutcomeLoopStarted:
		return "loop started"
	case OutcomeLoopStopped:
		return "loop stopped"
	default:
		return "ignored"
	}
}

// Options wires a Scheduler and Registry to the rest of the instrument.
// Settings is read on every identify and prepare; it must return the current
// snapshot.
type Options struct {
	Dispatcher *sched.Dispatcher
	Engine     Engine
	Cache      *samples.Cache
	Keys       pitch.KeyMap
	Timing     config.Timing
	MaxLoops   int
	Settings   func() config.Settings
	Logger     *log.Logger
	OnChange   func()
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.New(os.Stderr, "voice: ", log.LstdFlags)
}

// overlapInterval is the re-trigger period that keeps maxOverlaps copies of a
// clip of length d sounding at once.
func overlapInterval(d time.Duration, maxOverlaps int) time.Duration {
	if maxOverlaps < 1 {
		maxOverlaps = 1
	}
	return max(d/time.Duration(maxOverlaps), MinInterval)
}

// prune drops handles whose play has finished.
func prune(chs []*audio.Channel) []*audio.Channel {
	out := chs[:0]
	for _, ch := range chs {
		if ch.Playing() {
			out = append(out, ch)
		}
	}
	for i := len(out); i < len(chs); i++ {
		chs[i] = nil
	}
	return out
}
