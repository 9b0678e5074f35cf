package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/viterin/vek/vek32"

	"github.com/cbegin/keyharp-go/internal/effects"
)

// DefaultChannels matches the mixer size the instrument was tuned for.
const DefaultChannels = 64

// The master bus limiter keeps overlapping sustain copies under full scale.
const (
	limiterCeilingDB = -0.5
	limiterReleaseMs = 80
)

var ErrNoFreeChannel = errors.New("no free mixer channel")

// Mixer sums clips playing on a fixed set of channels into a stereo stream.
// Play, FadeOut and Stop are called from the scheduler; Process runs on the
// audio thread.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	channels   []mixChannel
	bus        *effects.Compressor
	mono       []float32
	scratch    []float32
}

type mixChannel struct {
	clip     *Clip
	pos      int
	gen      uint64
	fadeLen  int // total fade frames; 0 = not fading
	fadeLeft int
}

// Channel is a handle to one play of a clip. Once the channel is reused for
// another clip the handle goes stale and every method becomes a no-op.
type Channel struct {
	m     *Mixer
	index int
	gen   uint64
}

func NewMixer(sampleRate, channels int) *Mixer {
	if channels <= 0 {
		channels = DefaultChannels
	}
	return &Mixer{
		sampleRate: sampleRate,
		channels:   make([]mixChannel, channels),
		bus:        effects.NewLimiter(sampleRate, limiterCeilingDB, limiterReleaseMs),
	}
}

// Play starts clip on the first idle channel.
func (m *Mixer) Play(clip *Clip) (*Channel, error) {
	if clip == nil {
		return nil, errors.New("nil clip")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.channels {
		ch := &m.channels[i]
		if ch.clip != nil {
			continue
		}
		ch.gen++
		ch.clip = clip
		ch.pos = 0
		ch.fadeLen = 0
		ch.fadeLeft = 0
		return &Channel{m: m, index: i, gen: ch.gen}, nil
	}
	return nil, ErrNoFreeChannel
}

// Active returns the number of channels currently playing.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.channels {
		if m.channels[i].clip != nil {
			n++
		}
	}
	return n
}

// StopAll silences every channel at once.
func (m *Mixer) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.channels {
		m.channels[i].clip = nil
	}
	m.bus.Reset()
}

// Process fills dst with interleaved stereo frames.
func (m *Mixer) Process(dst []float32) {
	frames := len(dst) / 2
	m.mu.Lock()
	defer m.mu.Unlock()
	if cap(m.mono) < frames {
		m.mono = make([]float32, frames)
		m.scratch = make([]float32, frames)
	}
	mono := vek32.Zeros_Into(m.mono, frames)
	for i := range m.channels {
		ch := &m.channels[i]
		if ch.clip == nil {
			continue
		}
		n := min(frames, len(ch.clip.Samples)-ch.pos)
		src := ch.clip.Samples[ch.pos : ch.pos+n]
		if n == 0 {
			// nothing left to render
		} else if ch.fadeLen == 0 {
			tmp := vek32.MulNumber_Into(m.scratch[:n], src, ch.clip.Gain)
			vek32.Add_Inplace(mono[:n], tmp)
		} else {
			for j := 0; j < n && ch.fadeLeft > 0; j++ {
				env := float32(ch.fadeLeft) / float32(ch.fadeLen)
				mono[j] += src[j] * ch.clip.Gain * env
				ch.fadeLeft--
			}
		}
		ch.pos += n
		if ch.pos >= len(ch.clip.Samples) || (ch.fadeLen > 0 && ch.fadeLeft == 0) {
			ch.clip = nil
		}
	}
	m.bus.ProcessBlock(mono)
	for i, v := range mono {
		dst[2*i] = v
		dst[2*i+1] = v
	}
}

func (h *Channel) live() *mixChannel {
	ch := &h.m.channels[h.index]
	if ch.gen != h.gen || ch.clip == nil {
		return nil
	}
	return ch
}

// Playing reports whether this play is still sounding.
func (h *Channel) Playing() bool {
	if h == nil {
		return false
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.live() != nil
}

// Stop silences the channel immediately.
func (h *Channel) Stop() {
	if h == nil {
		return
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if ch := h.live(); ch != nil {
		ch.clip = nil
	}
}

// FadeOut ramps the channel to silence over d and then frees it. A
// non-positive d stops at once. An earlier, shorter fade is kept.
func (h *Channel) FadeOut(d time.Duration) {
	if h == nil {
		return
	}
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	ch := h.live()
	if ch == nil {
		return
	}
	frames := int(int64(d) * int64(h.m.sampleRate) / int64(time.Second))
	if frames <= 0 {
		ch.clip = nil
		return
	}
	if ch.fadeLen > 0 && ch.fadeLeft <= frames {
		return
	}
	ch.fadeLen = frames
	ch.fadeLeft = frames
}
