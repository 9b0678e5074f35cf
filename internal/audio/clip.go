package audio

import (
	"time"

	"github.com/viterin/vek/vek32"
)

// Clip is a mono sample buffer with a playback gain. Clips are treated as
// immutable once handed to a Mixer; the envelope methods are meant for
// freshly sliced copies.
type Clip struct {
	Name       string
	SampleRate int
	Samples    []float32
	Gain       float32
}

// Frames returns the clip length in samples.
func (c *Clip) Frames() int { return len(c.Samples) }

// Duration returns the clip's playing time.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

func (c *Clip) framesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(int64(d) * int64(c.SampleRate) / int64(time.Second))
	return min(n, len(c.Samples))
}

// Slice copies the part of the clip between from and to. A to of zero or past
// the end means the end of the clip.
func (c *Clip) Slice(name string, from, to time.Duration) *Clip {
	start := c.framesFor(from)
	end := len(c.Samples)
	if to > 0 {
		end = c.framesFor(to)
	}
	if end < start {
		end = start
	}
	out := make([]float32, end-start)
	copy(out, c.Samples[start:end])
	return &Clip{Name: name, SampleRate: c.SampleRate, Samples: out, Gain: c.Gain}
}

// Split cuts the clip at the attack boundary into an attack and a remainder.
func (c *Clip) Split(attack time.Duration) (head, tail *Clip) {
	return c.Slice(c.Name+"/attack", 0, attack), c.Slice(c.Name+"/sustain", attack, 0)
}

// FadeIn ramps the first d of the clip linearly from silence.
func (c *Clip) FadeIn(d time.Duration) {
	n := c.framesFor(d)
	if n == 0 {
		return
	}
	vek32.Mul_Inplace(c.Samples[:n], ramp(n, false))
}

// FadeOut ramps the last d of the clip linearly to silence.
func (c *Clip) FadeOut(d time.Duration) {
	n := c.framesFor(d)
	if n == 0 {
		return
	}
	vek32.Mul_Inplace(c.Samples[len(c.Samples)-n:], ramp(n, true))
}

// WithGain returns a copy sharing the sample data at a new gain.
func (c *Clip) WithGain(gain float32) *Clip {
	cp := *c
	cp.Gain = gain
	return &cp
}

// Peak returns the largest absolute sample value, before gain.
func (c *Clip) Peak() float32 {
	if len(c.Samples) == 0 {
		return 0
	}
	abs := vek32.Abs(c.Samples)
	return vek32.Max(abs)
}

func ramp(n int, down bool) []float32 {
	r := make([]float32, n)
	for i := range r {
		v := float32(i) / float32(n)
		if down {
			v = 1 - float32(i+1)/float32(n)
		}
		r[i] = v
	}
	return r
}
