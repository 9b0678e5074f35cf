package samples

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cbegin/keyharp-go/internal/audio"
	"github.com/cbegin/keyharp-go/internal/config"
	"github.com/cbegin/keyharp-go/internal/pitch"
)

// Voice is a note prepared for playback: the raw file split at the attack
// boundary, with the sustain part enveloped and every clip at the current
// volume.
type Voice struct {
	Key             rune
	Identity        pitch.Identity
	File            string
	Attack          *audio.Clip
	Sustain         *audio.Clip
	Original        *audio.Clip
	SustainDuration time.Duration
}

type Options struct {
	SampleRate int
	Timing     config.Timing
	Loader     Loader
	Logger     *log.Logger
}

// Cache holds the prepared voice of every mapped key for the current
// settings.
type Cache struct {
	lib        Library
	keys       pitch.KeyMap
	sampleRate int
	timing     config.Timing
	load       Loader
	logger     *log.Logger

	voices  map[rune]*Voice
	decoded map[string]*audio.Clip
}

func NewCache(lib Library, keys pitch.KeyMap, opts Options) *Cache {
	if opts.Loader == nil {
		opts.Loader = audio.LoadWAV
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "samples: ", log.LstdFlags)
	}
	return &Cache{
		lib:        lib,
		keys:       keys,
		sampleRate: opts.SampleRate,
		timing:     opts.Timing,
		load:       opts.Loader,
		logger:     opts.Logger,
		voices:     map[rune]*Voice{},
		decoded:    map[string]*audio.Clip{},
	}
}

// Rebuild prepares every mapped key under s and swaps the result in. Keys
// whose file is missing or unreadable are logged and left out, including keys
// that had a voice before. It returns the number of keys prepared.
func (c *Cache) Rebuild(s config.Settings) int {
	next := make(map[rune]*Voice, len(c.keys.Notes))
	for _, k := range c.keys.Keys() {
		v, err := c.Prepare(s, k)
		if err != nil {
			c.logger.Printf("key %q: %v", k, err)
			continue
		}
		next[k] = v
	}
	c.voices = next
	return len(next)
}

// Prepare builds the voice for one key under s without touching the cache.
func (c *Cache) Prepare(s config.Settings, key rune) (*Voice, error) {
	id, ok := pitch.Identify(c.keys, key, s.Octave, s.Key, s.Instrument)
	if !ok {
		return nil, fmt.Errorf("key %q is not mapped", key)
	}
	path := c.lib.Path(s.Instrument, id)
	clip, err := c.decode(path)
	if err != nil {
		return nil, err
	}
	gain := float32(s.Volume)
	attack, sustain := clip.Split(c.timing.Attack)
	sustain.FadeIn(c.timing.FadeIn)
	sustain.FadeOut(c.timing.FadeOut)
	attack.Gain = gain
	sustain.Gain = gain
	return &Voice{
		Key:             key,
		Identity:        id,
		File:            path,
		Attack:          attack,
		Sustain:         sustain,
		Original:        clip.WithGain(gain),
		SustainDuration: sustain.Duration(),
	}, nil
}

func (c *Cache) decode(path string) (*audio.Clip, error) {
	if clip, ok := c.decoded[path]; ok {
		return clip, nil
	}
	clip, err := c.lib.load(c.load, path, c.sampleRate)
	if err != nil {
		return nil, err
	}
	if clip.Peak() == 0 {
		c.logger.Printf("%s is silent", path)
	}
	c.decoded[path] = clip
	return clip, nil
}

// Voice returns the prepared voice for key.
func (c *Cache) Voice(key rune) (*Voice, bool) {
	v, ok := c.voices[key]
	return v, ok
}

// Len returns the number of keys with a prepared voice.
func (c *Cache) Len() int { return len(c.voices) }
