// Package ppu implements the pixel-pipeline picture processing unit: a
// dot-driven mode state machine (OAM scan, pixel transfer, H-blank,
// V-blank) that composes background, window, and sprite pixels into a
// 160x144 framebuffer, synchronized one dot per CPU T-cycle.
package ppu

import (
	"bytes"
	"encoding/gob"
	"sort"
)

// shades holds the four DMG-style grayscale RGB triples, palette index
// 0 (lightest) through 3 (darkest).
var shades = [4][3]byte{
	{0xFF, 0xFF, 0xFF},
	{0xAA, 0xAA, 0xAA},
	{0x55, 0x55, 0x55},
	{0x00, 0x00, 0x00},
}

// Mode is the PPU's current scanline phase.
type Mode byte

const (
	ModeHBlank Mode = iota
	ModeVBlank
	ModeOAMScan
	ModePixelTransfer
)

// InterruptRequester lets the PPU raise IF bits (0: VBlank, 1: STAT)
// without depending on the bus package.
type InterruptRequester func(bit int)

const (
	ScreenWidth  = 160
	ScreenHeight = 144

	dotsPerLine   = 456
	oamScanDots   = 80
	vblankLines   = 10
	totalLines    = ScreenHeight + vblankLines
)

// PPU owns VRAM, OAM, the LCD control/status registers, and the
// published framebuffer.
type PPU struct {
	vram [0x2000]byte // 0x8000-0x9FFF
	oam  [0xA0]byte   // 0xFE00-0xFE9F

	lcdc byte
	stat byte
	scy  byte
	scx  byte
	ly   byte
	lyc  byte
	bgp  byte
	obp0 byte
	obp1 byte
	wy   byte
	wx   byte

	mode Mode
	dot  int // dots elapsed within current line [0..455]

	windowLine int  // internal window line counter, independent of LY
	windowHit  bool // whether the window has been triggered on this line

	scanSprites []oamEntry // selected sprites for the current line, max 10
	lineX       int        // next framebuffer x to be written this scanline
	fetcher     fetcher

	fb         [ScreenHeight * ScreenWidth * 3]byte // RGB, row-major
	frameReady bool

	req InterruptRequester
}

type oamEntry struct {
	y, x, tile, attr byte
	oamIndex         int
}

func New(req InterruptRequester) *PPU {
	p := &PPU{req: req}
	p.fetcher.mem = p
	return p
}

// --- CPU-facing memory interface ---

func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.mode == ModePixelTransfer {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if p.mode == ModeOAMScan || p.mode == ModePixelTransfer {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.mode == ModePixelTransfer {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if p.mode == ModeOAMScan || p.mode == ModePixelTransfer {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			p.ly, p.dot = 0, 0
			p.setMode(ModeHBlank)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			p.ly, p.dot = 0, 0
			p.beginLine()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		// Writes reset LY to 0 per spec §6.
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.beginLine()
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// read implements fetcher.vramReader without exposing CPU-side
// mode-gating (the fetcher always has direct access, matching real
// hardware where the PPU itself never blocks its own accesses).
func (p *PPU) read(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		return p.vram[addr-0x8000]
	default:
		return 0xFF
	}
}

// Accessors used by tests and the reference host.
func (p *PPU) LCDC() byte          { return p.lcdc }
func (p *PPU) STAT() byte          { return p.stat }
func (p *PPU) LY() byte            { return p.ly }
func (p *PPU) Mode() Mode          { return p.mode }
func (p *PPU) FrameReady() bool    { return p.frameReady }
func (p *PPU) ClearFrameReady()    { p.frameReady = false }
func (p *PPU) Framebuffer() []byte { return p.fb[:] }

func (p *PPU) lcdEnabled() bool     { return p.lcdc&0x80 != 0 }
func (p *PPU) bgWindowEnable() bool { return p.lcdc&0x01 != 0 }
func (p *PPU) spriteEnable() bool   { return p.lcdc&0x02 != 0 }
func (p *PPU) tileData8000() bool   { return p.lcdc&0x10 != 0 }
func (p *PPU) windowEnable() bool   { return p.lcdc&0x20 != 0 }

func (p *PPU) spriteHeight() int {
	if p.lcdc&0x04 != 0 {
		return 16
	}
	return 8
}

func (p *PPU) bgTileMapBase() uint16 {
	if p.lcdc&0x08 != 0 {
		return 0x9C00
	}
	return 0x9800
}

func (p *PPU) winTileMapBase() uint16 {
	if p.lcdc&0x40 != 0 {
		return 0x9C00
	}
	return 0x9800
}

// Tick advances the PPU by the given number of dots (CPU T-cycles).
func (p *PPU) Tick(dots int) {
	for i := 0; i < dots; i++ {
		p.tickOne()
	}
}

func (p *PPU) tickOne() {
	if !p.lcdEnabled() {
		return
	}
	p.dot++

	switch p.mode {
	case ModeOAMScan:
		if p.dot == oamScanDots {
			p.scanOAM()
			p.beginPixelTransfer()
		}
	case ModePixelTransfer:
		p.stepPixelTransfer()
	case ModeHBlank, ModeVBlank:
		// nothing per-dot; handled at line boundary below
	}

	if p.dot >= dotsPerLine {
		p.dot = 0
		p.advanceLine()
	}
}

func (p *PPU) advanceLine() {
	p.ly++
	if p.ly == ScreenHeight {
		p.setMode(ModeVBlank)
		p.frameReady = true
		if p.req != nil {
			p.req(0) // VBlank interrupt
		}
		if p.stat&(1<<4) != 0 && p.req != nil {
			p.req(1) // STAT VBlank source
		}
	} else if p.ly >= totalLines {
		p.ly = 0
		p.windowLine = 0
		p.beginLine()
	} else if p.ly < ScreenHeight {
		p.beginLine()
	}
	p.updateLYC()
}

func (p *PPU) beginLine() {
	p.windowHit = false
	p.setMode(ModeOAMScan)
}

func (p *PPU) beginPixelTransfer() {
	p.lineX = 0
	p.setMode(ModePixelTransfer)
	p.fetcher.beginScanline(p, p.ly)
}

func (p *PPU) setMode(m Mode) {
	if p.mode == m {
		return
	}
	p.mode = m
	var bit byte
	switch m {
	case ModeHBlank:
		bit = 3
	case ModeVBlank:
		bit = 4
	case ModeOAMScan:
		bit = 5
	case ModePixelTransfer:
		p.stat = (p.stat &^ 0x03) | 0x03
		return
	}
	p.stat = (p.stat &^ 0x03) | statModeBits(m)
	if m != ModePixelTransfer && p.stat&(1<<bit) != 0 && p.req != nil {
		p.req(1)
	}
}

func statModeBits(m Mode) byte {
	switch m {
	case ModeHBlank:
		return 0
	case ModeVBlank:
		return 1
	case ModeOAMScan:
		return 2
	case ModePixelTransfer:
		return 3
	}
	return 0
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if p.stat&(1<<6) != 0 && p.req != nil {
			p.req(1)
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// scanOAM selects up to 10 sprites intersecting LY, per §4.4.
func (p *PPU) scanOAM() {
	p.scanSprites = p.scanSprites[:0]
	h := p.spriteHeight()
	if !p.spriteEnable() {
		return
	}
	for i := 0; i < 40 && len(p.scanSprites) < 10; i++ {
		base := i * 4
		y := p.oam[base]
		x := p.oam[base+1]
		tile := p.oam[base+2]
		attr := p.oam[base+3]
		screenY := int(p.ly) + 16
		spriteTop := int(y)
		if screenY >= spriteTop && screenY < spriteTop+h {
			p.scanSprites = append(p.scanSprites, oamEntry{y: y, x: x, tile: tile, attr: attr, oamIndex: i})
		}
	}
	// DMG priority: smaller X wins; ties broken by OAM order.
	sort.SliceStable(p.scanSprites, func(i, j int) bool {
		return p.scanSprites[i].x < p.scanSprites[j].x
	})
}

// spritePixelAt returns the opaque sprite color index (1-3) at
// framebuffer column x, its palette selector, and its BG-priority bit,
// or ok=false if no selected sprite contributes an opaque pixel there.
func (p *PPU) spritePixelAt(x int) (ci byte, useOBP1 bool, behindBG bool, ok bool) {
	h := p.spriteHeight()
	for _, s := range p.scanSprites {
		left := int(s.x) - 8
		if x < left || x >= left+8 {
			continue
		}
		col := x - left
		if s.attr&0x20 != 0 {
			col = 7 - col
		}
		row := int(p.ly) + 16 - int(s.y)
		if s.attr&0x40 != 0 {
			row = h - 1 - row
		}
		tile := s.tile
		if h == 16 {
			tile &^= 0x01
		}
		addr := 0x8000 + uint16(tile)*16 + uint16(row)*2
		lo := p.read(addr)
		hi := p.read(addr + 1)
		bit := uint(7 - col)
		cbit := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		if cbit == 0 {
			continue // transparent: fall through to a lower-priority sprite
		}
		return cbit, s.attr&0x10 != 0, s.attr&0x80 != 0, true
	}
	return 0, false, false, false
}

func applyPalette(reg, ci byte) byte {
	return (reg >> (ci * 2)) & 0x03
}

func (p *PPU) writeShade(x int, shade byte) {
	i := (int(p.ly)*ScreenWidth + x) * 3
	c := shades[shade&0x03]
	p.fb[i], p.fb[i+1], p.fb[i+2] = c[0], c[1], c[2]
}

// stepPixelTransfer drives the fetcher one dot, checks for a
// mid-scanline window trigger, pops a pixel once the FIFO holds more
// than the fine-scroll lookahead, composites any sprite pixel over it,
// and emits one framebuffer pixel per successful pop (§4.4/§4.5).
func (p *PPU) stepPixelTransfer() {
	if p.windowEnable() && !p.fetcher.usingWindow && !p.windowHit &&
		int(p.ly) >= int(p.wy) && p.lineX >= int(p.wx)-7 {
		p.windowHit = true
		p.fetcher.switchToWindow(p)
		p.windowLine++
	}

	p.fetcher.tick()

	if p.fetcher.fifo.Len() <= 8 {
		return
	}
	bgCI, ok := p.fetcher.popPixel()
	if !ok {
		return
	}
	if p.fetcher.discard > 0 {
		p.fetcher.discard--
		return
	}

	if !p.bgWindowEnable() {
		bgCI = 0
	}
	shade := applyPalette(p.bgp, bgCI)

	if p.spriteEnable() {
		if sci, useOBP1, behindBG, ok := p.spritePixelAt(p.lineX); ok {
			if !(behindBG && bgCI != 0) {
				pal := p.obp0
				if useOBP1 {
					pal = p.obp1
				}
				shade = applyPalette(pal, sci)
			}
		}
	}

	p.writeShade(p.lineX, shade)
	p.lineX++
	if p.lineX >= ScreenWidth {
		p.setMode(ModeHBlank)
	}
}

// ppuState is the gob-serializable snapshot of PPU state, grounded on
// the bus package's SaveState/LoadState pattern. No format-stability
// guarantee is made across builds.
type ppuState struct {
	VRAM [0x2000]byte
	OAM  [0xA0]byte

	LCDC, STAT                 byte
	SCY, SCX, LY, LYC          byte
	BGP, OBP0, OBP1, WY, WX    byte
	Mode                       Mode
	Dot                        int
	WindowLine                 int
	WindowHit                  bool
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat,
		SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		Mode: p.mode, Dot: p.dot,
		WindowLine: p.windowLine, WindowHit: p.windowHit,
	})
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat = s.LCDC, s.STAT
	p.scy, p.scx, p.ly, p.lyc = s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.mode, p.dot = s.Mode, s.Dot
	p.windowLine, p.windowHit = s.WindowLine, s.WindowHit
}
