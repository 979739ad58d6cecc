package ppu

import "testing"

func statMode(p *PPU) byte { return p.CPURead(0xFF41) & 0x03 }

// runLines ticks the PPU by whole dots-per-line increments, which is
// always enough to clear any in-progress mode regardless of exactly
// how many dots pixel transfer stalled for.
func runLines(p *PPU, n int) {
	p.Tick(n * dotsPerLine)
}

func TestPPUEntersOAMScanOnLCDOn(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80)
	if m := statMode(p); m != 2 {
		t.Fatalf("expected mode 2 after LCD on, got %d", m)
	}
	p.Tick(79)
	if m := statMode(p); m != 2 {
		t.Fatalf("expected still mode 2 at dot 79, got %d", m)
	}
	p.Tick(1)
	if m := statMode(p); m != 3 {
		t.Fatalf("expected mode 3 at dot 80, got %d", m)
	}
}

func TestPPUCompletesLineWithinOneLineOfDots(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x80)
	runLines(p, 1)
	if ly := p.LY(); ly != 1 {
		t.Fatalf("expected LY=1 after one line's worth of dots, got %d", ly)
	}
	if m := statMode(p); m != 2 {
		t.Fatalf("expected mode 2 at the start of the new line, got %d", m)
	}
}

func TestPPUFrameReadyOncePerFrame(t *testing.T) {
	var vblanks int
	p := New(func(bit int) {
		if bit == 0 {
			vblanks++
		}
	})
	p.CPUWrite(0xFF40, 0x80)
	runLines(p, ScreenHeight)
	if !p.FrameReady() {
		t.Fatalf("expected FrameReady after 144 lines")
	}
	if vblanks != 1 {
		t.Fatalf("expected exactly one VBlank IRQ, got %d", vblanks)
	}
	p.ClearFrameReady()
	runLines(p, totalLines)
	if !p.FrameReady() {
		t.Fatalf("expected FrameReady again after a full next frame")
	}
	if vblanks != 2 {
		t.Fatalf("expected a second VBlank IRQ, got %d", vblanks)
	}
}

func TestSTATLYCCoincidence(t *testing.T) {
	var stats int
	p := New(func(bit int) {
		if bit == 1 {
			stats++
		}
	})
	p.CPUWrite(0xFF41, 1<<6) // enable LYC STAT source
	p.CPUWrite(0xFF45, 2)    // LYC = 2
	p.CPUWrite(0xFF40, 0x80)
	runLines(p, 2)
	if stats == 0 {
		t.Fatalf("expected a STAT IRQ on LYC coincidence at LY=2")
	}
	if p.STAT()&(1<<2) == 0 {
		t.Fatalf("expected coincidence flag set at LY=LYC")
	}
}

func TestFramebufferFilledEntirely(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF47, 0xE4) // standard BGP: 11100100
	p.CPUWrite(0xFF40, 0x91) // LCD on, BG on, tile data 8000 mode
	runLines(p, ScreenHeight)

	fb := p.Framebuffer()
	if len(fb) != ScreenWidth*ScreenHeight*3 {
		t.Fatalf("framebuffer size got %d want %d", len(fb), ScreenWidth*ScreenHeight*3)
	}
	// With a blank tilemap (all tile ID 0, blank tile data), every
	// pixel should resolve to color index 0 -> lightest BGP shade.
	want := shades[0]
	for i := 0; i < ScreenWidth*ScreenHeight; i++ {
		if fb[i*3] != want[0] || fb[i*3+1] != want[1] || fb[i*3+2] != want[2] {
			t.Fatalf("pixel %d got %v want %v", i, fb[i*3:i*3+3], want)
		}
	}
}

func TestOAMScanCapsAtTenSprites(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x82) // LCD + sprites on
	for i := 0; i < 20; i++ {
		base := i * 4
		p.oam[base] = 16   // Y=16 -> covers screen line 0
		p.oam[base+1] = byte(8 + i)
		p.oam[base+2] = 0
		p.oam[base+3] = 0
	}
	p.ly = 0
	p.scanOAM()
	if len(p.scanSprites) != 10 {
		t.Fatalf("expected 10 selected sprites, got %d", len(p.scanSprites))
	}
}

func TestOAMScanOrdersByX(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x82)
	entries := []byte{50, 10, 30}
	for i, x := range entries {
		base := i * 4
		p.oam[base] = 16
		p.oam[base+1] = x
		p.oam[base+2] = 0
		p.oam[base+3] = 0
	}
	p.ly = 0
	p.scanOAM()
	if len(p.scanSprites) != 3 {
		t.Fatalf("expected 3 sprites, got %d", len(p.scanSprites))
	}
	for i := 1; i < len(p.scanSprites); i++ {
		if p.scanSprites[i-1].x > p.scanSprites[i].x {
			t.Fatalf("sprites not ordered by X: %v", p.scanSprites)
		}
	}
}

func TestSpritePriorityBehindBGMasksOnlyBGColorZero(t *testing.T) {
	p := New(nil)
	// Tile 0 (BG, referenced by the default-zero tilemap byte): leftmost pixel of row 0 is color index 1.
	p.vram[0x0000] = 0x80
	p.vram[0x0001] = 0x00
	// Tile 1 (sprite): leftmost pixel of row 0 is color index 3.
	p.vram[0x0010] = 0x80
	p.vram[0x0011] = 0x80

	p.oam[0], p.oam[1], p.oam[2], p.oam[3] = 16, 8, 1, 0x80 // Y,X,tile,attr: priority=behind BG
	p.CPUWrite(0xFF47, 0xE4)                                // BGP identity
	p.CPUWrite(0xFF48, 0xE4)                                // OBP0 identity
	p.CPUWrite(0xFF40, 0x93)                                // LCD+BG+OBJ+tile data 8000

	runLines(p, 1)
	fb := p.Framebuffer()
	if fb[0] != shades[1][0] {
		t.Fatalf("expected BG color 1 to win over a behind-BG sprite, got shade %d", fb[0])
	}
}

func TestSpriteBehindBGShowsThroughBGColorZero(t *testing.T) {
	p := New(nil)
	// Tile 0 (BG): blank, color index 0.
	// Tile 1 (sprite): leftmost pixel of row 0 is color index 3.
	p.vram[0x0010] = 0x80
	p.vram[0x0011] = 0x80

	p.oam[0], p.oam[1], p.oam[2], p.oam[3] = 16, 8, 1, 0x80
	p.CPUWrite(0xFF47, 0xE4)
	p.CPUWrite(0xFF48, 0xE4)
	p.CPUWrite(0xFF40, 0x93)

	runLines(p, 1)
	fb := p.Framebuffer()
	if fb[0] != shades[3][0] {
		t.Fatalf("expected a behind-BG sprite to show through BG color 0, got shade %d", fb[0])
	}
}

func TestWindowActivatesMidScanlineAtWXBoundary(t *testing.T) {
	p := New(nil)
	// BG tilemap row (0x9C00, LCDC bit3 set) references tile 1 throughout: solid color index 1.
	for i := 0; i < 32; i++ {
		p.vram[0x1C00+i] = 1 // 0x9C00 - 0x8000
	}
	p.vram[0x0010] = 0xFF
	p.vram[0x0011] = 0x00
	// Window tilemap row (0x9800, default) references tile 2 throughout: solid color index 2.
	for i := 0; i < 32; i++ {
		p.vram[0x1800+i] = 2 // 0x9800 - 0x8000
	}
	p.vram[0x0020] = 0x00
	p.vram[0x0021] = 0xFF

	p.CPUWrite(0xFF47, 0xE4) // BGP identity
	p.CPUWrite(0xFF4A, 0)    // WY=0: window active from line 0
	p.CPUWrite(0xFF4B, 57)   // WX=57: window starts at screen x = WX-7 = 50
	p.CPUWrite(0xFF40, 0xB9) // LCD+BG/window enable+window enable+BG map 9C00+tile data 8000

	runLines(p, 1)
	fb := p.Framebuffer()
	if fb[10*3] != shades[1][0] {
		t.Fatalf("expected BG color 1 before WX, got shade %d", fb[10*3])
	}
	if fb[100*3] != shades[2][0] {
		t.Fatalf("expected window color 2 after WX, got shade %d", fb[100*3])
	}
}

func TestWindowTileMapSelectBit(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, 0x40) // window tilemap select bit set, LCD off
	if got := p.winTileMapBase(); got != 0x9C00 {
		t.Fatalf("winTileMapBase got %#04x want 9C00", got)
	}
	p.CPUWrite(0xFF40, 0x00)
	if got := p.winTileMapBase(); got != 0x9800 {
		t.Fatalf("winTileMapBase got %#04x want 9800", got)
	}
}
