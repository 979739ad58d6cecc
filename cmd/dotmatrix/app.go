package main

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/kaelrook/dotmatrix/internal/bus"
	"github.com/kaelrook/dotmatrix/internal/core"
	"github.com/kaelrook/dotmatrix/internal/ppu"
)

// app wraps an Emulator in an ebiten.Game: Update drains keyboard state
// into the joypad mask and steps one frame, Draw blits the resulting
// framebuffer scaled by an integer factor.
type app struct {
	e     *core.Emulator
	scale int
	tex   *ebiten.Image
	rgba  []byte

	paused bool
	fatal  error
}

func newApp(e *core.Emulator, title string, scale int) *app {
	if scale < 1 {
		scale = 1
	}
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(ppu.ScreenWidth*scale, ppu.ScreenHeight*scale)
	return &app{
		e:     e,
		scale: scale,
		rgba:  make([]byte, ppu.ScreenWidth*ppu.ScreenHeight*4),
	}
}

func (a *app) Run() error { return ebiten.RunGame(a) }

var keymap = []struct {
	key  ebiten.Key
	mask byte
}{
	{ebiten.KeyArrowRight, bus.JoypRight},
	{ebiten.KeyArrowLeft, bus.JoypLeft},
	{ebiten.KeyArrowUp, bus.JoypUp},
	{ebiten.KeyArrowDown, bus.JoypDown},
	{ebiten.KeyZ, bus.JoypA},
	{ebiten.KeyX, bus.JoypB},
	{ebiten.KeyEnter, bus.JoypStart},
	{ebiten.KeyShiftRight, bus.JoypSelectBtn},
}

func (a *app) Update() error {
	if a.fatal != nil {
		return a.fatal
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	if a.paused {
		return nil
	}

	var mask byte
	for _, k := range keymap {
		if ebiten.IsKeyPressed(k.key) {
			mask |= k.mask
		}
	}
	a.e.SetJoypadState(mask)

	if err := a.e.StepFrame(); err != nil {
		a.fatal = err
		return err
	}
	return nil
}

func (a *app) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(ppu.ScreenWidth, ppu.ScreenHeight)
	}
	rgbToRGBA(a.e.Framebuffer(), a.rgba)
	a.tex.WritePixels(a.rgba)
	screen.DrawImage(a.tex, nil)
}

func (a *app) Layout(outsideWidth, outsideHeight int) (int, int) {
	return ppu.ScreenWidth, ppu.ScreenHeight
}
