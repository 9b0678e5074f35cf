package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// outputBufferDuration keeps key-to-sound latency low.
const outputBufferDuration = 40 * time.Millisecond

// SampleSource renders interleaved stereo float32 frames. Mixer implements it.
type SampleSource interface {
	Process(dst []float32)
}

// deviceReader pulls blocks from a SampleSource and encodes them as the
// little-endian float32 stream ebiten's F32 players read.
type deviceReader struct {
	mu     sync.Mutex
	source SampleSource
	block  []float32
}

func newDeviceReader(source SampleSource) *deviceReader {
	return &deviceReader{source: source}
}

func (r *deviceReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	if cap(r.block) < frames*2 {
		r.block = make([]float32, frames*2)
	}
	block := r.block[:frames*2]
	r.source.Process(block)
	putF32(p, block)
	return frames * 8, nil
}

func putF32(p []byte, samples []float32) {
	for i, v := range samples {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
}

var (
	contextOnce sync.Once
	context     *ebitaudio.Context
	contextRate int
)

// deviceContext returns the process-wide ebiten audio context. ebiten allows
// exactly one, so a second rate is an error.
func deviceContext(sampleRate int) (*ebitaudio.Context, error) {
	contextOnce.Do(func() {
		contextRate = sampleRate
		context = ebitaudio.NewContext(sampleRate)
	})
	if contextRate != sampleRate {
		return nil, fmt.Errorf("audio device already open at %d Hz (requested %d Hz)", contextRate, sampleRate)
	}
	return context, nil
}

// Output streams a mixer to the sound card until Close. It never reaches
// end of stream.
type Output struct {
	player *ebitaudio.Player
}

func NewOutput(sampleRate int, source SampleSource) (*Output, error) {
	ctx, err := deviceContext(sampleRate)
	if err != nil {
		return nil, err
	}
	pl, err := ctx.NewPlayerF32(newDeviceReader(source))
	if err != nil {
		return nil, err
	}
	pl.SetBufferSize(outputBufferDuration)
	return &Output{player: pl}, nil
}

func (o *Output) Play() { o.player.Play() }

func (o *Output) Close() error {
	o.player.Pause()
	return o.player.Close()
}
