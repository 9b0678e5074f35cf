package effects

import "math"

// Compressor is a feed-forward compressor on a mono bus. With an infinite
// ratio and instant attack it becomes a peak limiter: the output never
// exceeds the threshold.
type Compressor struct {
	threshold float32
	ratio     float32
	attack    float32 // coefficient, 1 = instant
	release   float32 // coefficient
	makeup    float32
	env       float32
}

// NewCompressor creates a compressor.
// thresholdDB: threshold in dB (e.g., -20)
// ratio: compression ratio (e.g., 4 for 4:1), +Inf to limit
// attackMs: attack time in ms, 0 for instant
// releaseMs: release time in ms
// makeupDB: makeup gain in dB
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float32) *Compressor {
	return &Compressor{
		threshold: dbToGain(thresholdDB),
		ratio:     ratio,
		attack:    coefficient(sampleRate, attackMs),
		release:   coefficient(sampleRate, releaseMs),
		makeup:    dbToGain(makeupDB),
	}
}

// NewLimiter creates a limiter holding the bus at or below ceilingDB.
func NewLimiter(sampleRate int, ceilingDB, releaseMs float32) *Compressor {
	return NewCompressor(sampleRate, ceilingDB, float32(math.Inf(1)), 0, releaseMs, 0)
}

func dbToGain(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}

func coefficient(sampleRate int, ms float32) float32 {
	if ms <= 0 {
		return 1
	}
	return float32(1.0 - math.Exp(-1.0/(float64(ms)*float64(sampleRate)/1000.0)))
}

// Process runs one sample through the compressor.
func (c *Compressor) Process(x float32) float32 {
	abs := float32(math.Abs(float64(x)))
	// Envelope follower
	if abs > c.env {
		c.env += c.attack * (abs - c.env)
	} else {
		c.env += c.release * (abs - c.env)
	}
	return x * c.gain(c.env) * c.makeup
}

// ProcessBlock compresses samples in place.
func (c *Compressor) ProcessBlock(samples []float32) {
	for i, v := range samples {
		samples[i] = c.Process(v)
	}
}

func (c *Compressor) gain(env float32) float32 {
	if env <= c.threshold || c.threshold <= 0 {
		return 1.0
	}
	over := env / c.threshold
	// 1/ratio-1 is -1 for an infinite ratio: threshold/env
	return float32(math.Pow(float64(over), float64(1.0/c.ratio-1)))
}

func (c *Compressor) Reset() {
	c.env = 0
}
