package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2/audio/wav"
)

// LoadWAV decodes a WAV file into a mono clip at sampleRate. Stereo input is
// averaged down to one channel.
func LoadWAV(path string, sampleRate int) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	clip, err := DecodeWAV(f, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	clip.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return clip, nil
}

// DecodeWAV reads a WAV stream, resampled by the decoder to sampleRate.
func DecodeWAV(r io.Reader, sampleRate int) (*Clip, error) {
	stream, err := wav.DecodeWithSampleRate(sampleRate, r)
	if err != nil {
		return nil, err
	}
	// the decoder always yields 16-bit little-endian stereo
	raw, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}
	frames := len(raw) / 4
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		r := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		samples[i] = (float32(l) + float32(r)) / (2 * math.MaxInt16)
	}
	return &Clip{SampleRate: sampleRate, Samples: samples, Gain: 1}, nil
}

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

func wavHeader(out []byte, format, bits, sampleRate, channels, dataSize int) {
	blockAlign := channels * bits / 8
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], uint16(format))
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], uint16(bits))
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
}

// EncodeWAV16 writes interleaved samples as a 16-bit PCM WAV file, clipping
// to [-1, 1].
func EncodeWAV16(samples []float32, sampleRate int, channels int) []byte {
	out := make([]byte, 44+len(samples)*2)
	wavHeader(out, wavFormatPCM, 16, sampleRate, channels, len(samples)*2)
	for i, s := range samples {
		s = max(-1, min(1, s))
		binary.LittleEndian.PutUint16(out[44+i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// EncodeWAVFloat32LE writes interleaved samples as a 32-bit float WAV file.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	out := make([]byte, 44+len(samples)*4)
	wavHeader(out, wavFormatFloat, 32, sampleRate, channels, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
