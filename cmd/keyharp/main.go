package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/cbegin/keyharp-go"
	"github.com/cbegin/keyharp-go/internal/config"
	"github.com/cbegin/keyharp-go/internal/display"
	"github.com/cbegin/keyharp-go/internal/pitch"
	"github.com/cbegin/keyharp-go/internal/voice"
)

const (
	windowW    = 1000
	windowH    = 640
	minWindowW = 900
	minWindowH = 560

	textScale = 1
	charW     = 7 * textScale
	lineH     = 14 * textScale

	margin  = 12
	rowH    = 22
	buttonW = 26
	volStep = 0.05
)

var (
	bgColor       = color.RGBA{192, 192, 192, 255}
	panelColor    = color.RGBA{192, 192, 192, 255}
	borderColor   = color.RGBA{128, 128, 128, 255}
	lockedColor   = color.RGBA{0, 0, 128, 255}
	bevelLight    = color.RGBA{255, 255, 255, 255}
	bevelDarker   = color.RGBA{64, 64, 64, 255}
	sunkenBgColor = color.RGBA{24, 24, 32, 255}
	armedColor    = color.RGBA{128, 0, 0, 255}
)

// noteKeys maps the runes a key map may use to the physical keys that type
// them on a US layout.
var noteKeys = map[rune]ebiten.Key{
	'`': ebiten.KeyBackquote, '-': ebiten.KeyMinus, '=': ebiten.KeyEqual,
	'[': ebiten.KeyBracketLeft, ']': ebiten.KeyBracketRight, '\\': ebiten.KeyBackslash,
	';': ebiten.KeySemicolon, '\'': ebiten.KeyQuote, ',': ebiten.KeyComma,
	'.': ebiten.KeyPeriod, '/': ebiten.KeySlash,
}

func init() {
	digits := []ebiten.Key{ebiten.Key0, ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4,
		ebiten.Key5, ebiten.Key6, ebiten.Key7, ebiten.Key8, ebiten.Key9}
	for i, k := range digits {
		noteKeys[rune('0'+i)] = k
	}
	letters := []ebiten.Key{ebiten.KeyA, ebiten.KeyB, ebiten.KeyC, ebiten.KeyD, ebiten.KeyE,
		ebiten.KeyF, ebiten.KeyG, ebiten.KeyH, ebiten.KeyI, ebiten.KeyJ, ebiten.KeyK, ebiten.KeyL,
		ebiten.KeyM, ebiten.KeyN, ebiten.KeyO, ebiten.KeyP, ebiten.KeyQ, ebiten.KeyR, ebiten.KeyS,
		ebiten.KeyT, ebiten.KeyU, ebiten.KeyV, ebiten.KeyW, ebiten.KeyX, ebiten.KeyY, ebiten.KeyZ}
	for i, k := range letters {
		noteKeys[rune('a'+i)] = k
	}
}

var (
	lockAllKeys   = []ebiten.Key{ebiten.KeyF5, ebiten.KeyF6, ebiten.KeyF7}
	unlockAllKeys = []ebiten.Key{ebiten.KeyF8, ebiten.KeyF9, ebiten.KeyF10}
	lockKinds     = []voice.LockKind{voice.LockOctave, voice.LockKey, voice.LockInstrument}
)

type boundKey struct {
	key ebiten.Key
	raw rune
}

type game struct {
	inst        *keyharp.Instrument
	events      <-chan keyharp.Event
	messages    chan string
	renderer    *display.Renderer
	keys        []boundKey
	instruments []string
	capacity    int

	state     keyharp.Event
	statusTxt string
	slotTxt   []string
	message   string

	textCache map[string]*ebiten.Image
	viewW     int
	viewH     int
}

func newGame(inst *keyharp.Instrument, cfg config.Config) (*game, error) {
	renderer, err := display.New(cfg.SlotFormat, cfg.StatusFormat)
	if err != nil {
		return nil, err
	}
	keyMap, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	var keys []boundKey
	for _, r := range keyMap.Keys() {
		k, ok := noteKeys[r]
		if !ok {
			log.Printf("key %q has no physical key; skipped", r)
			continue
		}
		keys = append(keys, boundKey{key: k, raw: r})
	}
	instruments, err := inst.Instruments()
	if err != nil {
		log.Printf("list instruments: %v", err)
	}
	g := &game{
		inst:        inst,
		events:      inst.Watch(),
		messages:    make(chan string, 8),
		renderer:    renderer,
		keys:        keys,
		instruments: instruments,
		capacity:    inst.LoopCapacity(),
		state:       keyharp.Event{Settings: inst.Settings()},
		message:     "Press Enter to start",
		textCache:   make(map[string]*ebiten.Image, 256),
		viewW:       windowW,
		viewH:       windowH,
	}
	g.refreshText()
	return g, nil
}

// post runs fn on the instrument's dispatcher and reports a non-empty result
// or error on the status line.
func (g *game) post(fn func() (string, error)) {
	g.inst.Dispatcher().Do(func() {
		msg, err := fn()
		if err != nil {
			msg = err.Error()
		}
		if msg == "" {
			return
		}
		select {
		case g.messages <- msg:
		default:
		}
	})
}

func (g *game) Update() error {
	g.pollEvents()
	g.handleKeys()
	g.handleMouse()
	return nil
}

func (g *game) pollEvents() {
	for {
		select {
		case ev := <-g.events:
			g.state = ev
			g.refreshText()
		case msg := <-g.messages:
			g.message = msg
		default:
			return
		}
	}
}

func (g *game) refreshText() {
	s := display.NewStatus(g.state.Settings, g.state.Running, g.state.Armed, len(g.state.Loops), g.capacity)
	var err error
	if g.statusTxt, err = g.renderer.Status(s); err != nil {
		g.statusTxt = err.Error()
	}
	if g.slotTxt, err = g.renderer.Slots(g.state.Loops, g.capacity); err != nil {
		g.message = err.Error()
	}
}

func (g *game) handleKeys() {
	inst := g.inst
	for _, k := range g.keys {
		raw := k.raw
		if inpututil.IsKeyJustPressed(k.key) {
			g.post(func() (string, error) {
				out, err := inst.KeyDown(raw)
				if out == voice.OutcomeLoopStarted || out == voice.OutcomeLoopStopped {
					return out.String(), err
				}
				return "", err
			})
		}
		if inpututil.IsKeyJustReleased(k.key) {
			g.post(func() (string, error) {
				inst.KeyUp(raw)
				return "", nil
			})
		}
	}
	// held shift keys repeat at the instrument's shift cooldown
	for key, dir := range map[ebiten.Key]int{ebiten.KeyShiftLeft: -1, ebiten.KeyShiftRight: 1} {
		if ebiten.IsKeyPressed(key) {
			g.post(func() (string, error) {
				_, err := inst.ShiftOctave(dir)
				return "", err
			})
		}
	}

	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyEnter):
		g.post(func() (string, error) {
			if inst.Running() {
				return "Stopped", inst.Stop()
			}
			return "Started", inst.Start()
		})
	case inpututil.IsKeyJustPressed(ebiten.KeySpace):
		g.post(func() (string, error) {
			inst.ArmLoop()
			return "Loop next note", nil
		})
	case inpututil.IsKeyJustPressed(ebiten.KeyEscape):
		g.post(func() (string, error) {
			return fmt.Sprintf("Stopped %d loops", inst.StopAllLoops()), nil
		})
	case inpututil.IsKeyJustPressed(ebiten.KeyTab):
		g.post(func() (string, error) {
			inst.SetSustain(!inst.Settings().Sustain)
			return "", nil
		})
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft):
		g.post(func() (string, error) { return "", inst.SetKey(stepKey(inst.Settings().Key, -1)) })
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowRight):
		g.post(func() (string, error) { return "", inst.SetKey(stepKey(inst.Settings().Key, 1)) })
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowUp):
		g.post(func() (string, error) {
			inst.SetVolume(inst.Settings().Volume + volStep)
			return "", nil
		})
	case inpututil.IsKeyJustPressed(ebiten.KeyArrowDown):
		g.post(func() (string, error) {
			inst.SetVolume(inst.Settings().Volume - volStep)
			return "", nil
		})
	case inpututil.IsKeyJustPressed(ebiten.KeyPageUp):
		g.cycleInstrument(-1)
	case inpututil.IsKeyJustPressed(ebiten.KeyPageDown):
		g.cycleInstrument(1)
	}

	for n, kind := range lockKinds {
		if inpututil.IsKeyJustPressed(lockAllKeys[n]) {
			g.post(func() (string, error) {
				return fmt.Sprintf("Locked %s on %d loops", kind, inst.LockAll(kind)), nil
			})
		}
		if inpututil.IsKeyJustPressed(unlockAllKeys[n]) {
			g.post(func() (string, error) {
				return fmt.Sprintf("Unlocked %s on %d loops", kind, inst.UnlockAll(kind)), nil
			})
		}
	}
}

func stepKey(k pitch.Class, dir int) string {
	return pitch.Class((int(k) + dir + pitch.NumClasses) % pitch.NumClasses).String()
}

func (g *game) cycleInstrument(dir int) {
	if len(g.instruments) == 0 {
		g.message = "No instruments found"
		return
	}
	idx := 0
	for i, name := range g.instruments {
		if name == g.state.Settings.Instrument {
			idx = (i + dir + len(g.instruments)) % len(g.instruments)
		}
	}
	name := g.instruments[idx]
	g.post(func() (string, error) { return "", g.inst.SetInstrument(name) })
}

type slotButtons struct {
	octave, key, instrument, stop image.Rectangle
}

func (g *game) slotRect(slot int) image.Rectangle {
	top := margin + 3*lineH + 2*margin
	return image.Rect(margin, top+slot*rowH, g.viewW-margin, top+(slot+1)*rowH-2)
}

func (g *game) buttonsFor(slot int) slotButtons {
	r := g.slotRect(slot)
	x := r.Max.X - 4*(buttonW+4)
	btn := func(i int) image.Rectangle {
		return image.Rect(x+i*(buttonW+4), r.Min.Y+1, x+i*(buttonW+4)+buttonW, r.Max.Y-1)
	}
	return slotButtons{octave: btn(0), key: btn(1), instrument: btn(2), stop: btn(3)}
}

func (g *game) handleMouse() {
	if !inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		return
	}
	mx, my := ebiten.CursorPosition()
	inst := g.inst
	for slot := 0; slot < g.capacity; slot++ {
		b := g.buttonsFor(slot)
		switch {
		case pointInRect(mx, my, b.octave):
			g.post(func() (string, error) { inst.ToggleLock(slot, voice.LockOctave); return "", nil })
		case pointInRect(mx, my, b.key):
			g.post(func() (string, error) { inst.ToggleLock(slot, voice.LockKey); return "", nil })
		case pointInRect(mx, my, b.instrument):
			g.post(func() (string, error) { inst.ToggleLock(slot, voice.LockInstrument); return "", nil })
		case pointInRect(mx, my, b.stop):
			g.post(func() (string, error) { inst.StopLoopSlot(slot); return "", nil })
		default:
			continue
		}
		return
	}
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(bgColor)

	header := image.Rect(margin, margin, g.viewW-margin, margin+3*lineH+margin)
	g.drawSunkenPanel(screen, header)
	g.drawText(screen, g.statusTxt, header.Min.X+8, header.Min.Y+6)
	g.drawText(screen, g.message, header.Min.X+8, header.Min.Y+6+lineH)
	if g.state.Armed {
		ebitenutil.DrawRect(screen, float64(header.Max.X-18), float64(header.Min.Y+6), 10, 10, armedColor)
	}

	bySlot := map[int]voice.LoopInfo{}
	for _, l := range g.state.Loops {
		bySlot[l.Slot] = l
	}
	for slot := 0; slot < g.capacity && slot < len(g.slotTxt); slot++ {
		r := g.slotRect(slot)
		g.drawPanel(screen, r)
		g.drawText(screen, shortenEnd(g.slotTxt[slot], (r.Dx()-4*(buttonW+4)-16)/charW), r.Min.X+6, r.Min.Y+(r.Dy()-lineH)/2)
		l, active := bySlot[slot]
		b := g.buttonsFor(slot)
		g.drawButton(screen, b.octave, "O", active && !l.OctaveLock.Empty())
		g.drawButton(screen, b.key, "K", active && !l.KeyLock.Empty())
		g.drawButton(screen, b.instrument, "I", active && !l.InstrumentLock.Empty())
		g.drawButton(screen, b.stop, "X", false)
	}

	help := "Notes: ` 1-0 - =  Shift: octave  Space: loop  Esc: stop loops  Tab: sustain  " +
		"<-/->: key  Up/Down: volume  PgUp/PgDn: instrument  F5-F7 lock all  F8-F10 unlock all  Enter: start/stop"
	g.drawText(screen, shortenEnd(help, (g.viewW-2*margin)/charW), margin, g.viewH-margin-lineH)
}

func (g *game) Layout(outsideW, outsideH int) (int, int) {
	g.viewW = max(outsideW, minWindowW)
	g.viewH = max(outsideH, minWindowH)
	return g.viewW, g.viewH
}

func (g *game) drawPanel(screen *ebiten.Image, rect image.Rectangle) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), panelColor)
	drawBorder(screen, rect)
}

func (g *game) drawSunkenPanel(screen *ebiten.Image, rect image.Rectangle) {
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), sunkenBgColor)
	drawSunkenBorder(screen, rect)
}

func (g *game) drawButton(screen *ebiten.Image, rect image.Rectangle, label string, on bool) {
	fill := color.Color(panelColor)
	if on {
		fill = lockedColor
	}
	ebitenutil.DrawRect(screen, float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy()), fill)
	if on {
		drawSunkenBorder(screen, rect)
	} else {
		drawBorder(screen, rect)
	}
	labelW := len([]rune(label)) * charW
	g.drawText(screen, label, rect.Min.X+(rect.Dx()-labelW)/2, rect.Min.Y+(rect.Dy()-lineH)/2)
}

// drawBorder draws a raised 3D bevel (highlight top/left, shadow bottom/right).
func drawBorder(screen *ebiten.Image, rect image.Rectangle) {
	x, y := float64(rect.Min.X), float64(rect.Min.Y)
	w, h := float64(rect.Dx()), float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, bevelLight)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, bevelLight)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelDarker)
	ebitenutil.DrawRect(screen, x+1, y+h-2, w-3, 1, borderColor)
	ebitenutil.DrawRect(screen, x+w-2, y+1, 1, h-3, borderColor)
}

// drawSunkenBorder draws a sunken 3D bevel (shadow top/left, highlight bottom/right).
func drawSunkenBorder(screen *ebiten.Image, rect image.Rectangle) {
	x, y := float64(rect.Min.X), float64(rect.Min.Y)
	w, h := float64(rect.Dx()), float64(rect.Dy())
	ebitenutil.DrawRect(screen, x, y, w-1, 1, borderColor)
	ebitenutil.DrawRect(screen, x, y+1, 1, h-2, borderColor)
	ebitenutil.DrawRect(screen, x, y+h-1, w, 1, bevelLight)
	ebitenutil.DrawRect(screen, x+w-1, y, 1, h, bevelLight)
	ebitenutil.DrawRect(screen, x+1, y+1, w-3, 1, bevelDarker)
	ebitenutil.DrawRect(screen, x+1, y+2, 1, h-4, bevelDarker)
}

func (g *game) drawText(screen *ebiten.Image, msg string, x int, y int) {
	if msg == "" {
		return
	}
	img := g.textCache[msg]
	if img == nil {
		w := max(1, len([]rune(msg))*7)
		img = ebiten.NewImage(w, 14)
		ebitenutil.DebugPrintAt(img, msg, 0, 0)
		if len(g.textCache) > 1000 {
			g.textCache = make(map[string]*ebiten.Image, 256)
		}
		g.textCache[msg] = img
	}
	opS := &ebiten.DrawImageOptions{}
	opS.GeoM.Scale(textScale, textScale)
	opS.GeoM.Translate(float64(x+1), float64(y+1))
	opS.ColorScale.Scale(0, 0, 0, 1)
	screen.DrawImage(img, opS)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(textScale, textScale)
	op.GeoM.Translate(float64(x), float64(y))
	screen.DrawImage(img, op)
}

func shortenEnd(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	if maxChars <= 3 {
		return string(r[:max(0, maxChars)])
	}
	return string(r[:maxChars-3]) + "..."
}

func pointInRect(x, y int, rect image.Rectangle) bool {
	return x >= rect.Min.X && x < rect.Max.X && y >= rect.Min.Y && y < rect.Max.Y
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()
	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

// run owns the instrument for the life of the window; its cleanup runs on
// every return path before main exits.
func run(configPath string) error {
	cfg := config.Default()
	if strings.TrimSpace(configPath) != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	inst, err := keyharp.New(cfg)
	if err != nil {
		return err
	}
	g, err := newGame(inst, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inst.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	ebiten.SetWindowSize(windowW, windowH)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSizeLimits(minWindowW, minWindowH, -1, -1)
	ebiten.SetWindowTitle("keyharp")
	return ebiten.RunGame(g)
}
