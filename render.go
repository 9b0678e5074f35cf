package keyharp

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/keyharp-go/internal/audio"
	"github.com/cbegin/keyharp-go/internal/config"
	"github.com/cbegin/keyharp-go/internal/sched"
	"github.com/cbegin/keyharp-go/internal/voice"
)

// Script is a timed list of control actions for offline rendering.
type Script struct {
	Events []ScriptEvent `yaml:"events"`
}

// ScriptEvent is one or more actions applied at time At, in field order.
// Slots are numbered from 1 as on the display.
type ScriptEvent struct {
	At time.Duration `yaml:"at"`

	Instrument string   `yaml:"instrument,omitempty"`
	Key        string   `yaml:"key,omitempty"`
	Octave     *int     `yaml:"octave,omitempty"`
	Shift      int      `yaml:"shift,omitempty"`
	Volume     *float64 `yaml:"volume,omitempty"`
	Sustain    *bool    `yaml:"sustain,omitempty"`

	Arm  bool   `yaml:"arm,omitempty"`
	Down string `yaml:"down,omitempty"`
	Up   string `yaml:"up,omitempty"`

	Slot      int    `yaml:"slot,omitempty"`
	Lock      string `yaml:"lock,omitempty"`
	LockAll   string `yaml:"lock_all,omitempty"`
	UnlockAll string `yaml:"unlock_all,omitempty"`
	StopSlot  bool   `yaml:"stop_slot,omitempty"`
	StopAll   bool   `yaml:"stop_all,omitempty"`
}

func ParseScript(b []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, err
	}
	for n, ev := range s.Events {
		for _, kind := range []string{ev.Lock, ev.LockAll, ev.UnlockAll} {
			if kind == "" {
				continue
			}
			if _, err := ParseLockKind(kind); err != nil {
				return s, fmt.Errorf("event %d: %w", n+1, err)
			}
		}
		if (ev.Lock != "" || ev.StopSlot) && ev.Slot < 1 {
			return s, fmt.Errorf("event %d: slot must be 1 or more", n+1)
		}
		if len([]rune(ev.Down)) > 1 || len([]rune(ev.Up)) > 1 {
			return s, fmt.Errorf("event %d: down and up take a single key", n+1)
		}
	}
	return s, nil
}

func LoadScript(path string) (Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	s, err := ParseScript(b)
	if err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseLockKind accepts "octave", "key" or "instrument".
func ParseLockKind(name string) (voice.LockKind, error) {
	for _, k := range []voice.LockKind{voice.LockOctave, voice.LockKey, voice.LockInstrument} {
		if strings.EqualFold(name, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown lock %q", name)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

// Perform applies the actions of ev. Errors from individual actions are
// collected into the returned error; later actions still run.
func (i *Instrument) Perform(ev ScriptEvent) error {
	var errs []string
	fail := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if ev.Instrument != "" {
		fail(i.SetInstrument(ev.Instrument))
	}
	if ev.Key != "" {
		fail(i.SetKey(ev.Key))
	}
	if ev.Octave != nil {
		fail(i.SetOctave(*ev.Octave))
	}
	if ev.Shift != 0 {
		_, err := i.ShiftOctave(ev.Shift)
		fail(err)
	}
	if ev.Volume != nil {
		i.SetVolume(*ev.Volume)
	}
	if ev.Sustain != nil {
		i.SetSustain(*ev.Sustain)
	}
	if ev.Arm {
		i.ArmLoop()
	}
	if ev.Down != "" {
		_, err := i.KeyDown(firstRune(ev.Down))
		fail(err)
	}
	if ev.Up != "" {
		i.KeyUp(firstRune(ev.Up))
	}
	if ev.Lock != "" {
		kind, _ := ParseLockKind(ev.Lock)
		i.ToggleLock(ev.Slot-1, kind)
	}
	if ev.LockAll != "" {
		kind, _ := ParseLockKind(ev.LockAll)
		i.LockAll(kind)
	}
	if ev.UnlockAll != "" {
		kind, _ := ParseLockKind(ev.UnlockAll)
		i.UnlockAll(kind)
	}
	if ev.StopSlot {
		i.StopLoopSlot(ev.Slot - 1)
	}
	if ev.StopAll {
		i.StopAllLoops()
	}
	if len(errs) > 0 {
		return fmt.Errorf("at %v: %s", ev.At, strings.Join(errs, "; "))
	}
	return nil
}

// renderBlock is how much audio is mixed between dispatcher steps.
const renderBlock = 10 * time.Millisecond

// Render plays script on a fresh instrument in virtual time and returns
// seconds of interleaved stereo output.
func Render(cfg config.Config, script Script, seconds float64, opts ...Option) ([]float32, error) {
	d := sched.New()
	opts = append(opts, WithDispatcher(d), WithOutput(false))
	inst, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := inst.Start(); err != nil {
		return nil, err
	}
	events := append([]ScriptEvent(nil), script.Events...)
	sort.SliceStable(events, func(a, b int) bool { return events[a].At < events[b].At })
	for _, ev := range events {
		d.After(ev.At, func() {
			if err := inst.Perform(ev); err != nil {
				inst.logger.Print(err)
			}
		})
	}

	rate := cfg.SampleRate
	frames := int(seconds * float64(rate))
	out := make([]float32, frames*2)
	block := max(1, int(int64(renderBlock)*int64(rate)/int64(time.Second)))
	for pos := 0; pos < frames; pos += block {
		at := time.Duration(int64(pos) * int64(time.Second) / int64(rate))
		d.Advance(at - d.Now())
		n := min(block, frames-pos)
		inst.mixer.Process(out[pos*2 : (pos+n)*2])
	}
	inst.Stop()
	return out, nil
}

// EncodeWAVFloat32LE writes interleaved samples as a 32-bit float WAV file.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	return audio.EncodeWAVFloat32LE(samples, sampleRate, channels)
}

// EncodeWAV16 writes interleaved samples as a 16-bit PCM WAV file.
func EncodeWAV16(samples []float32, sampleRate int, channels int) []byte {
	return audio.EncodeWAV16(samples, sampleRate, channels)
}
