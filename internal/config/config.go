package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/keyharp-go/internal/pitch"
)

var ErrInvalid = errors.New("invalid config")

// Settings is an immutable snapshot of the user-adjustable state every
// identify, rebuild and playback cycle reads.
type Settings struct {
	Octave     int
	Key        pitch.Class
	Instrument string
	Volume     float64
	Sustain    bool
}

// Timing holds the envelope and scheduling constants.
type Timing struct {
	Attack        time.Duration `yaml:"attack"`
	FadeIn        time.Duration `yaml:"fade_in"`
	FadeOut       time.Duration `yaml:"fade_out"`
	Release       time.Duration `yaml:"release"`
	ShiftCooldown time.Duration `yaml:"shift_cooldown"`
	MaxOverlaps   int           `yaml:"max_overlaps"`
}

// Config is the on-disk configuration.
type Config struct {
	SampleRoot string      `yaml:"sample_root"`
	Instrument string      `yaml:"instrument"`
	Octave     int         `yaml:"octave"`
	MinOctave  int         `yaml:"min_octave"`
	MaxOctave  int         `yaml:"max_octave"`
	Key        pitch.Class `yaml:"key"`
	Volume     float64     `yaml:"volume"`
	Sustain    bool        `yaml:"sustain"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	MaxLoops   int `yaml:"max_loops"`

	Timing `yaml:",inline"`

	KeyMap map[string]string `yaml:"keymap,omitempty"`
	TopKey string            `yaml:"top_key,omitempty"`

	SlotFormat   string `yaml:"slot_format,omitempty"`
	StatusFormat string `yaml:"status_format,omitempty"`
}

func Default() Config {
	return Config{
		SampleRoot: "Sound Samples",
		Instrument: "Harp",
		Octave:     3,
		MinOctave:  2,
		MaxOctave:  5,
		Key:        pitch.C,
		Volume:     0.5,
		SampleRate: 44100,
		Channels:   64,
		MaxLoops:   15,
		Timing: Timing{
			Attack:        100 * time.Millisecond,
			FadeIn:        500 * time.Millisecond,
			FadeOut:       500 * time.Millisecond,
			Release:       time.Second,
			ShiftCooldown: 200 * time.Millisecond,
			MaxOverlaps:   10,
		},
	}
}

// Load reads a YAML file over the defaults. Fields missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.MinOctave > c.MaxOctave:
		return fmt.Errorf("%w: min_octave %d above max_octave %d", ErrInvalid, c.MinOctave, c.MaxOctave)
	case c.Octave < c.MinOctave || c.Octave > c.MaxOctave:
		return fmt.Errorf("%w: octave %d outside %d..%d", ErrInvalid, c.Octave, c.MinOctave, c.MaxOctave)
	case c.Volume < 0 || c.Volume > 1:
		return fmt.Errorf("%w: volume %v outside 0..1", ErrInvalid, c.Volume)
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample_rate must be positive", ErrInvalid)
	case c.Channels <= 0:
		return fmt.Errorf("%w: channels must be positive", ErrInvalid)
	case c.MaxLoops <= 0:
		return fmt.Errorf("%w: max_loops must be positive", ErrInvalid)
	case c.MaxOverlaps <= 0:
		return fmt.Errorf("%w: max_overlaps must be positive", ErrInvalid)
	case c.Attack < 0 || c.FadeIn < 0 || c.FadeOut < 0 || c.Release < 0 || c.ShiftCooldown < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}
	if _, err := c.Keys(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Keys returns the configured key map, or the default number-row map.
func (c Config) Keys() (pitch.KeyMap, error) {
	if len(c.KeyMap) == 0 {
		return pitch.DefaultKeyMap(), nil
	}
	return pitch.ParseKeyMap(c.KeyMap, c.TopKey)
}

// Settings returns the initial settings snapshot.
func (c Config) Settings() Settings {
	return Settings{
		Octave:     c.Octave,
		Key:        c.Key,
		Instrument: c.Instrument,
		Volume:     c.Volume,
		Sustain:    c.Sustain,
	}
}
