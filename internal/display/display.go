// Package display renders the loop slots and the status line as text.
package display

import (
	"fmt"
	"math"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"

	"github.com/cbegin/keyharp-go/internal/config"
	"github.com/cbegin/keyharp-go/internal/voice"
)

const DefaultSlotFormat = `Slot {{add1 .Slot}}: ` +
	`{{if not .Active}}Available{{else}}{{.Note}} (` +
	`{{if .Sustain}}Sustain{{else}}Normal{{end}}, ` +
	`{{if .KeyLocked}}Key Locked ({{.Key}}){{else}}Key Unlocked{{end}}, ` +
	`{{if .OctaveLocked}}Octave Locked ({{.Octave}}){{else}}Octave Unlocked{{end}}, ` +
	`{{if .InstrumentLocked}}Instrument Locked ({{.Instrument}}){{else}}Instrument Unlocked{{end}})` +
	`{{if not .Ready}} [no sample]{{end}}{{end}}`

const DefaultStatusFormat = `{{if .Running}}Playing{{else}}Stopped{{end}} | ` +
	`Octave {{.Octave}} | Key {{.Key}} | {{default "?" .Instrument}} | ` +
	`Volume {{.Volume}}% | {{if .Sustain}}Sustain{{else}}Normal{{end}} | ` +
	`Loops {{.Loops}}/{{.Capacity}}{{if .Armed}} | {{upper "loop armed"}}{{end}}`

// Slot is the data a slot template sees.
type Slot struct {
	Slot             int
	Active           bool
	Ready            bool
	Note             string
	Sustain          bool
	Key              string
	KeyLocked        bool
	Octave           int
	OctaveLocked     bool
	Instrument       string
	InstrumentLocked bool
}

// Status is the data the status template sees.
type Status struct {
	Running    bool
	Armed      bool
	Octave     int
	Key        string
	Instrument string
	Volume     int
	Sustain    bool
	Loops      int
	Capacity   int
}

// NewStatus builds the status line data from a settings snapshot.
func NewStatus(s config.Settings, running, armed bool, loops, capacity int) Status {
	return Status{
		Running:    running,
		Armed:      armed,
		Octave:     s.Octave,
		Key:        s.Key.String(),
		Instrument: s.Instrument,
		Volume:     int(math.Round(s.Volume * 100)),
		Sustain:    s.Sustain,
		Loops:      loops,
		Capacity:   capacity,
	}
}

type Renderer struct {
	slot   *template.Template
	status *template.Template
}

// New parses the slot and status templates. Empty formats select the
// defaults.
func New(slotFormat, statusFormat string) (*Renderer, error) {
	if slotFormat == "" {
		slotFormat = DefaultSlotFormat
	}
	if statusFormat == "" {
		statusFormat = DefaultStatusFormat
	}
	slot, err := template.New("slot").Funcs(sprig.TxtFuncMap()).Parse(slotFormat)
	if err != nil {
		return nil, fmt.Errorf("slot format: %w", err)
	}
	status, err := template.New("status").Funcs(sprig.TxtFuncMap()).Parse(statusFormat)
	if err != nil {
		return nil, fmt.Errorf("status format: %w", err)
	}
	return &Renderer{slot: slot, status: status}, nil
}

// Slots renders one line per slot, empty slots included.
func (r *Renderer) Slots(loops []voice.LoopInfo, capacity int) ([]string, error) {
	views := make([]Slot, capacity)
	for i := range views {
		views[i].Slot = i
	}
	for _, l := range loops {
		if l.Slot < 0 || l.Slot >= capacity {
			continue
		}
		v := &views[l.Slot]
		v.Active = true
		v.Ready = l.Ready
		v.Note = fmt.Sprintf("%v%d", l.Identity.Note, l.Identity.Octave)
		v.Sustain = l.Sustain
		if k, ok := l.KeyLock.Unpack(); ok {
			v.Key, v.KeyLocked = k.String(), true
		}
		v.Octave, v.OctaveLocked = l.OctaveLock.Unpack()
		v.Instrument, v.InstrumentLocked = l.InstrumentLock.Unpack()
	}
	out := make([]string, capacity)
	var sb strings.Builder
	for i, v := range views {
		sb.Reset()
		if err := r.slot.Execute(&sb, v); err != nil {
			return nil, err
		}
		out[i] = sb.String()
	}
	return out, nil
}

func (r *Renderer) Status(s Status) (string, error) {
	var sb strings.Builder
	if err := r.status.Execute(&sb, s); err != nil {
		return "", err
	}
	return sb.String(), nil
}
