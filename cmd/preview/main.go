// Command preview renders an effect on a simulated LED strip.
//
// The effect must export
//
//	vec3 pixel(float i, float t)
//
// which is called once per LED per frame with the LED index and the
// elapsed time in seconds, and returns an RGB color in 0..1.
//
// Configuration comes from the environment:
//
//	PREVIEW_LEDS    number of LEDs (default 60)
//	PREVIEW_SCALE   on-screen pixels per LED (default 12)
//	PREVIEW_TARGET  host (default) or embedded
//	PREVIEW_WATCH   set to recompile when the source file changes
package main

import (
	"fmt"
	"image/color"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text"
	"github.com/xyproto/env/v2"
	"golang.org/x/image/font/basicfont"

	"glowc/pkg/exec"
)

const statusBar = 16 // pixel rows under the strip for messages

type Game struct {
	path   string
	target exec.Target
	leds   int
	scale  int
	start  time.Time

	mu     sync.Mutex
	mod    *exec.Module
	broken error

	dirty atomic.Bool

	strip *ebiten.Image
	buf   []byte
}

func (g *Game) reload() {
	src, err := os.ReadFile(g.path)
	if err == nil {
		var mod *exec.Module
		mod, err = exec.Compile(string(src), g.target)
		if err == nil {
			g.mu.Lock()
			g.mod = mod
			g.broken = nil
			g.mu.Unlock()
			return
		}
	}
	g.mu.Lock()
	g.broken = err
	g.mu.Unlock()
}

func (g *Game) Update() error {
	if g.dirty.Swap(false) {
		g.reload()
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	g.mu.Lock()
	mod, broken := g.mod, g.broken
	g.mu.Unlock()

	t := time.Since(g.start).Seconds()
	for i := 0; i < g.leds; i++ {
		r, gr, b := 0.0, 0.0, 0.0
		if mod != nil {
			v, err := mod.Invoke("pixel", exec.Float(float64(i)), exec.Float(t))
			if err != nil {
				broken = err
			} else {
				r, gr, b = v.At(0), v.At(1), v.At(2)
			}
		}
		g.buf[i*4+0] = channel(r)
		g.buf[i*4+1] = channel(gr)
		g.buf[i*4+2] = channel(b)
		g.buf[i*4+3] = 0xFF
	}
	g.strip.WritePixels(g.buf)

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(g.scale), float64(g.scale))
	screen.DrawImage(g.strip, op)

	status := fmt.Sprintf("%s  %s  %d leds", g.path, g.target, g.leds)
	if broken != nil {
		status = broken.Error()
	}
	text.Draw(screen, status, basicfont.Face7x13, 2, g.scale+12, color.White)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.leds * g.scale, g.scale + statusBar
}

// channel clamps a 0..1 component to a display byte.
func channel(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xFF
	}
	return byte(v * 255)
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <effect.glow>", os.Args[0])
	}

	target, err := exec.ParseTarget(env.Str("PREVIEW_TARGET"))
	if err != nil {
		log.Fatal(err)
	}

	g := &Game{
		path:   os.Args[1],
		target: target,
		leds:   env.Int("PREVIEW_LEDS", 60),
		scale:  env.Int("PREVIEW_SCALE", 12),
		start:  time.Now(),
	}
	if g.leds < 1 || g.scale < 1 {
		log.Fatal("PREVIEW_LEDS and PREVIEW_SCALE must be positive")
	}
	g.strip = ebiten.NewImage(g.leds, 1)
	g.buf = make([]byte, g.leds*4)

	g.reload()
	g.mu.Lock()
	if g.broken != nil {
		log.Printf("compile: %v", g.broken)
	}
	g.mu.Unlock()

	if env.Bool("PREVIEW_WATCH") {
		stop, err := watchFile(g.path, func() { g.dirty.Store(true) })
		if err != nil {
			log.Printf("watch disabled: %v", err)
		} else {
			defer stop()
		}
	}

	ebiten.SetWindowSize(g.leds*g.scale, g.scale+statusBar)
	ebiten.SetWindowTitle("glow preview")
	if err := ebiten.RunGame(g); err != nil {
		log.Fatal(err)
	}
}
