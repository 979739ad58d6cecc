// Command dotmatrix is the reference host for the emulator core: an
// ebiten window for interactive play, or a -headless mode for
// scripted/CI runs that checks a framebuffer CRC32.
package main

import (
	"errors"
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"strings"
	"time"

	"github.com/kaelrook/dotmatrix/internal/cart"
	"github.com/kaelrook/dotmatrix/internal/core"
	"github.com/kaelrook/dotmatrix/internal/coreerr"
	"github.com/kaelrook/dotmatrix/internal/ppu"
)

type cliFlags struct {
	ROMPath string
	Scale   int
	Title   string
	SaveRAM bool

	Headless bool
	Frames   int
	PNGOut   string
	Expect   string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.ROMPath, "rom", "", "path to ROM (.gb)")
	flag.IntVar(&f.Scale, "scale", 3, "window scale")
	flag.StringVar(&f.Title, "title", "dotmatrix", "window title")
	flag.BoolVar(&f.SaveRAM, "save", true, "persist battery RAM to ROM.sav on exit and load on start")
	flag.BoolVar(&f.Headless, "headless", false, "run without a window")
	flag.IntVar(&f.Frames, "frames", 300, "frames to run in headless mode")
	flag.StringVar(&f.PNGOut, "outpng", "", "write the final framebuffer to PNG at path")
	flag.StringVar(&f.Expect, "expect", "", "assert the final framebuffer CRC32 (hex)")
	flag.Parse()
	return f
}

// fatalExit logs msg and exits with code, distinguishing a ROM read
// failure (2) from bad usage or an initialization failure (1).
func fatalExit(code int, msg string) {
	log.Print(msg)
	os.Exit(code)
}

func mustRead(path string) []byte {
	b, err := os.ReadFile(path)
	if err != nil {
		fatalExit(2, fmt.Sprintf("%v", &coreerr.RomLoadFail{Path: path, Err: err}))
	}
	return b
}

func savPath(romPath string) string {
	return strings.TrimSuffix(romPath, ".gb") + ".sav"
}

func loadBattery(e *core.Emulator, romPath string) {
	bb, ok := e.Bus().Cart().(cart.BatteryBacked)
	if !ok {
		return
	}
	data, err := os.ReadFile(savPath(romPath))
	if err != nil {
		return
	}
	bb.LoadRAM(data)
	log.Printf("loaded save RAM: %s (%d bytes)", savPath(romPath), len(data))
}

func saveBattery(e *core.Emulator, romPath string) {
	bb, ok := e.Bus().Cart().(cart.BatteryBacked)
	if !ok {
		return
	}
	data := bb.SaveRAM()
	if len(data) == 0 {
		return
	}
	if err := os.WriteFile(savPath(romPath), data, 0644); err != nil {
		log.Printf("write save RAM: %v", err)
		return
	}
	log.Printf("wrote %s", savPath(romPath))
}

func runHeadless(e *core.Emulator, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}

	start := time.Now()
	for i := 0; i < frames; i++ {
		if err := e.StepFrame(); err != nil {
			return err
		}
	}
	dur := time.Since(start)

	fb := e.Framebuffer() // RGB 160x144*3
	crc := crc32.ChecksumIEEE(fb)
	fps := float64(frames) / dur.Seconds()
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
		frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := saveFramePNG(fb, ppu.ScreenWidth, ppu.ScreenHeight, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		log.Printf("wrote %s", pngPath)
	}

	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func saveFramePNG(rgb []byte, w, h int, path string) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rgbToRGBA(rgb, img.Pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func main() {
	f := parseFlags()
	if f.ROMPath == "" {
		fatalExit(1, fmt.Sprintf("%v", &coreerr.BadUsage{Msg: "missing -rom"}))
	}

	// mustRead exits 2 for a file-level read failure; a ROM that reads
	// fine but fails to parse or initialize is a content problem and
	// exits 1 instead.
	rom := mustRead(f.ROMPath)
	e, err := core.New(rom)
	if err != nil {
		var unsupported *cart.ErrUnsupportedCartridge
		if errors.As(err, &unsupported) {
			fatalExit(1, fmt.Sprintf("%v", &coreerr.UnsupportedCartridge{Err: err}))
		}
		fatalExit(1, fmt.Sprintf("%v", &coreerr.RomLoadFail{Path: f.ROMPath, Err: err}))
	}
	h := e.Header()
	log.Printf("ROM: %q type=%s banks=%d ram=%dB", h.Title, h.CartTypeStr, h.ROMBanks, h.RAMSizeBytes)

	if f.SaveRAM {
		loadBattery(e, f.ROMPath)
	}

	if f.Headless {
		if err := runHeadless(e, f.Frames, f.PNGOut, f.Expect); err != nil {
			log.Fatal(err)
		}
		if f.SaveRAM {
			saveBattery(e, f.ROMPath)
		}
		return
	}

	app := newApp(e, f.Title, f.Scale)
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
	if f.SaveRAM {
		saveBattery(e, f.ROMPath)
	}
}
