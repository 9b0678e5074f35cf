package keyharp

import (
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cbegin/keyharp-go/internal/config"
)

const renderRate = 8000

func writeTone(t *testing.T, path string, hz float64, d time.Duration) {
	t.Helper()
	n := int(d.Seconds() * renderRate)
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(0.8 * math.Sin(2*math.Pi*hz*float64(i)/renderRate))
	}
	if err := os.WriteFile(path, EncodeWAV16(s, renderRate, 1), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func peak(frames []float32) float32 {
	var p float32
	for _, v := range frames {
		p = max(p, float32(math.Abs(float64(v))))
	}
	return p
}

func span(out []float32, from, to time.Duration) []float32 {
	a := int(from.Seconds()*renderRate) * 2
	b := int(to.Seconds()*renderRate) * 2
	return out[a:b]
}

const testScript = `
events:
  - at: 0s
    down: "1"
  - at: 200ms
    up: "1"
  - at: 300ms
    arm: true
    down: "5"
  - at: 1500ms
    stop_all: true
`

func TestRenderScript(t *testing.T) {
	root := t.TempDir()
	harp := filepath.Join(root, "Harp")
	if err := os.MkdirAll(harp, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeTone(t, filepath.Join(harp, "C#3.wav"), 138.6, 500*time.Millisecond)
	writeTone(t, filepath.Join(harp, "F3.wav"), 174.6, 500*time.Millisecond)

	cfg := config.Default()
	cfg.SampleRoot = root
	cfg.SampleRate = renderRate
	script, err := ParseScript([]byte(testScript))
	if err != nil {
		t.Fatalf("parse script: %v", err)
	}
	out, err := Render(cfg, script, 2.5, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(out) != int(2.5*renderRate)*2 {
		t.Fatalf("rendered %d samples", len(out))
	}
	if p := peak(span(out, 0, 200*time.Millisecond)); p < 0.1 {
		t.Fatalf("note not audible, peak %v", p)
	}
	// the loop replays F3 every 500ms from 300ms
	if p := peak(span(out, 1100*time.Millisecond, 1300*time.Millisecond)); p < 0.1 {
		t.Fatalf("loop not audible, peak %v", p)
	}
	if p := peak(span(out, 2100*time.Millisecond, 2500*time.Millisecond)); p != 0 {
		t.Fatalf("audio after stop all, peak %v", p)
	}
}

func TestParseScriptRejectsBadEvents(t *testing.T) {
	tests := []string{
		"events:\n  - at: 1s\n    lock: tempo\n    slot: 1\n",
		"events:\n  - at: 1s\n    lock: key\n",
		"events:\n  - at: 1s\n    down: \"12\"\n",
		"events:\n  - at: soon\n",
	}
	for _, doc := range tests {
		if _, err := ParseScript([]byte(doc)); err == nil {
			t.Errorf("script accepted:\n%s", doc)
		}
	}
	s, err := ParseScript([]byte("events:\n  - at: 250ms\n    lock_all: Octave\n"))
	if err != nil || s.Events[0].At != 250*time.Millisecond {
		t.Fatalf("script = %+v, %v", s, err)
	}
}

func TestRenderHeldSustainStaysUnderFullScale(t *testing.T) {
	root := t.TempDir()
	harp := filepath.Join(root, "Harp")
	if err := os.MkdirAll(harp, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeTone(t, filepath.Join(harp, "C#3.wav"), 138.6, time.Second)

	cfg := config.Default()
	cfg.SampleRoot = root
	cfg.SampleRate = renderRate
	cfg.Sustain = true
	cfg.Volume = 1
	cfg.MaxOverlaps = 10
	script, err := ParseScript([]byte("events:\n  - {at: 0s, down: \"1\"}\n  - {at: 3s, up: \"1\"}\n"))
	if err != nil {
		t.Fatalf("parse script: %v", err)
	}
	out, err := Render(cfg, script, 3, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if p := peak(out); p > 1 || p < 0.5 {
		t.Fatalf("peak = %v, want audible and at most full scale", p)
	}
}
