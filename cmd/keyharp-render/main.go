package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cbegin/keyharp-go"
	"github.com/cbegin/keyharp-go/internal/config"
)

// defaultScript plays the first five notes and loops the tonic.
const defaultScript = `
events:
  - {at: 0s, arm: true, down: "` + "`" + `"}
  - {at: 0s, down: "2"}
  - {at: 400ms, up: "2"}
  - {at: 500ms, down: "4"}
  - {at: 900ms, up: "4"}
  - {at: 1s, down: "7"}
  - {at: 1400ms, up: "7"}
  - {at: 3s, stop_all: true}
`

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		scriptPath = flag.String("script", "", "path to a YAML event script")
		outPath    = flag.String("out", "keyharp.wav", "output WAV file")
		seconds    = flag.Float64("seconds", 4, "length of the rendering")
		sampleRate = flag.Int("sample-rate", 0, "output sample rate (overrides the config)")
		pcm16      = flag.Bool("pcm16", false, "write 16-bit PCM instead of 32-bit float")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *sampleRate > 0 {
		cfg.SampleRate = *sampleRate
	}
	script, err := loadScript(*scriptPath)
	if err != nil {
		log.Fatal(err)
	}
	if *seconds <= 0 {
		log.Fatalf("invalid -seconds %v", *seconds)
	}
	out, err := keyharp.Render(cfg, script, *seconds)
	if err != nil {
		log.Fatal(err)
	}
	var data []byte
	if *pcm16 {
		data = keyharp.EncodeWAV16(out, cfg.SampleRate, 2)
	} else {
		data = keyharp.EncodeWAVFloat32LE(out, cfg.SampleRate, 2)
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s (%.1fs, %d Hz)\n", *outPath, *seconds, cfg.SampleRate)
}

func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func loadScript(path string) (keyharp.Script, error) {
	if strings.TrimSpace(path) == "" {
		return keyharp.ParseScript([]byte(defaultScript))
	}
	return keyharp.LoadScript(path)
}
