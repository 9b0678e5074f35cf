package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func constClip(rate int, d time.Duration, v float32) *Clip {
	n := int(int64(d) * int64(rate) / int64(time.Second))
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return &Clip{Name: "const", SampleRate: rate, Samples: s, Gain: 1}
}

func TestClipSplitAndDuration(t *testing.T) {
	c := constClip(1000, time.Second, 0.5)
	head, tail := c.Split(100 * time.Millisecond)
	if head.Duration() != 100*time.Millisecond {
		t.Fatalf("attack duration = %v", head.Duration())
	}
	if tail.Duration() != 900*time.Millisecond {
		t.Fatalf("sustain duration = %v", tail.Duration())
	}
	tail.Samples[0] = 0
	if c.Samples[100] != 0.5 {
		t.Fatalf("split should copy samples")
	}

	short := constClip(1000, 50*time.Millisecond, 0.5)
	head, tail = short.Split(100 * time.Millisecond)
	if head.Frames() != 50 || tail.Frames() != 0 {
		t.Fatalf("short split = %d/%d frames", head.Frames(), tail.Frames())
	}
}

func TestClipFades(t *testing.T) {
	c := constClip(1000, time.Second, 1)
	c.FadeIn(100 * time.Millisecond)
	c.FadeOut(100 * time.Millisecond)
	if c.Samples[0] != 0 {
		t.Fatalf("fade in should start silent, got %v", c.Samples[0])
	}
	if math.Abs(float64(c.Samples[50])-0.5) > 0.02 {
		t.Fatalf("fade in midpoint = %v", c.Samples[50])
	}
	if c.Samples[500] != 1 {
		t.Fatalf("middle should be untouched, got %v", c.Samples[500])
	}
	if c.Samples[len(c.Samples)-1] != 0 {
		t.Fatalf("fade out should end silent, got %v", c.Samples[len(c.Samples)-1])
	}
	if p := c.Peak(); p != 1 {
		t.Fatalf("peak = %v", p)
	}
}

func TestMixerPlaysAndFreesChannels(t *testing.T) {
	m := NewMixer(1000, 2)
	clip := constClip(1000, 10*time.Millisecond, 0.25)
	a, err := m.Play(clip)
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	b, err := m.Play(clip.WithGain(2))
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if _, err := m.Play(clip); !errors.Is(err, ErrNoFreeChannel) {
		t.Fatalf("expected ErrNoFreeChannel, got %v", err)
	}
	buf := make([]float32, 8)
	m.Process(buf)
	if buf[0] != 0.75 || buf[1] != 0.75 {
		t.Fatalf("mixed frame = %v,%v want 0.75", buf[0], buf[1])
	}
	buf = make([]float32, 20)
	m.Process(buf)
	if a.Playing() || b.Playing() || m.Active() != 0 {
		t.Fatalf("channels should be free after clip end")
	}
}

func TestMixerFadeOutAndStaleHandles(t *testing.T) {
	m := NewMixer(1000, 1)
	clip := constClip(1000, time.Second, 0.5)
	h, _ := m.Play(clip)
	h.FadeOut(10 * time.Millisecond)
	buf := make([]float32, 2*5)
	m.Process(buf)
	if buf[0] != 0.5 || buf[8] >= buf[0] {
		t.Fatalf("fade should ramp down: %v", buf)
	}
	m.Process(make([]float32, 2*5))
	if h.Playing() {
		t.Fatalf("channel should be free after fade")
	}

	h2, err := m.Play(clip)
	if err != nil {
		t.Fatalf("play after fade: %v", err)
	}
	h.Stop() // stale handle must not touch the new play
	if !h2.Playing() {
		t.Fatalf("stale handle stopped a reused channel")
	}
	h2.FadeOut(0)
	if h2.Playing() {
		t.Fatalf("zero fade should stop at once")
	}
	var nilCh *Channel
	nilCh.FadeOut(time.Second)
	nilCh.Stop()
}

func TestDeviceReaderEncodesFloat32(t *testing.T) {
	m := NewMixer(1000, 4)
	m.Play(constClip(1000, time.Second, 0.5))
	r := newDeviceReader(m)
	p := make([]byte, 16)
	n, err := r.Read(p)
	if err != nil || n != 16 {
		t.Fatalf("read = %d, %v", n, err)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(p)); got != 0.5 {
		t.Fatalf("first sample = %v", got)
	}
	if n, _ := r.Read(p[:7]); n != 0 {
		t.Fatalf("partial frame read %d bytes", n)
	}
}

func TestMixerLimitsOverlappingPlays(t *testing.T) {
	m := NewMixer(1000, 16)
	// ten overlapping sustain copies sum to 5x full scale before the bus
	for n := 0; n < 10; n++ {
		if _, err := m.Play(constClip(1000, time.Second, 0.5)); err != nil {
			t.Fatalf("play: %v", err)
		}
	}
	buf := make([]float32, 2*500)
	m.Process(buf)
	var peak float32
	for _, v := range buf {
		peak = max(peak, float32(math.Abs(float64(v))))
	}
	if peak > 1 || peak < 0.9 {
		t.Fatalf("peak = %v, want just under full scale", peak)
	}

	m.StopAll()
	m.Play(constClip(1000, time.Second, 0.25))
	m.Process(buf)
	if buf[0] != 0.25 {
		t.Fatalf("quiet play after StopAll = %v, limiter should be reset", buf[0])
	}
}

func TestWAVRoundTrip(t *testing.T) {
	src := make([]float32, 441)
	for i := range src {
		src[i] = float32(math.Sin(float64(i) / 10))
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "A3.wav")
	if err := os.WriteFile(path, EncodeWAV16(src, 44100, 1), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	clip, err := LoadWAV(path, 44100)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if clip.Name != "A3" || clip.Frames() != len(src) {
		t.Fatalf("clip %q has %d frames, want %d", clip.Name, clip.Frames(), len(src))
	}
	for i := range src {
		if math.Abs(float64(clip.Samples[i]-src[i])) > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, clip.Samples[i], src[i])
		}
	}
	if _, err := LoadWAV(filepath.Join(dir, "missing.wav"), 44100); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing file error = %v", err)
	}
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav")), 44100); err == nil {
		t.Fatalf("garbage should not decode")
	}
}

func TestEncodeWAVFloat32Header(t *testing.T) {
	b := EncodeWAVFloat32LE([]float32{0.25, -0.25}, 48000, 2)
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || len(b) != 44+8 {
		t.Fatalf("bad container: %q", b[:12])
	}
	if format := uint16(b[20]) | uint16(b[21])<<8; format != 3 {
		t.Fatalf("format = %d, want IEEE float", format)
	}
	if align := uint16(b[32]) | uint16(b[33])<<8; align != 8 {
		t.Fatalf("block align = %d", align)
	}
	if got := math.Float32frombits(uint32(b[48]) | uint32(b[49])<<8 | uint32(b[50])<<16 | uint32(b[51])<<24); got != -0.25 {
		t.Fatalf("second sample = %v", got)
	}
}
