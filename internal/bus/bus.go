// Package bus wires the CPU-visible 16-bit address space to the
// cartridge, VRAM/OAM (via the PPU), work RAM, high RAM, timers,
// joypad, serial stub, and interrupt registers, per the address map
// in §3/§4.2.
package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/kaelrook/dotmatrix/internal/cart"
	"github.com/kaelrook/dotmatrix/internal/ppu"
)

// Joypad button bitmasks for SetJoypadState. Set bits mean "pressed".
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// Bus owns WRAM, HRAM, the PPU, the cartridge, and the timer/joypad/
// serial/interrupt registers that make up the rest of the I/O space.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF, echoed at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ppu *ppu.PPU

	ie    byte // 0xFFFF
	ifReg byte // 0xFF0F, lower 5 bits used

	joypSelect byte
	joypad     byte
	joypLower4 byte

	div         byte
	divInternal uint16
	tima        byte
	tma         byte
	tac         byte

	timaReloadDelay int

	sb byte
	sc byte
	sw io.Writer

	dma       byte
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int
}

// New constructs a Bus around a parsed cartridge.
func New(c cart.Cartridge) *Bus {
	b := &Bus{cart: c}
	b.ppu = ppu.New(func(bit int) { b.ifReg |= 1 << bit })
	return b
}

func (b *Bus) PPU() *ppu.PPU        { return b.ppu }
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// SetSerialWriter directs completed serial-out bytes to w; this is a
// stub (spec Non-goal: no serial link partner), useful only for
// test-ROM diagnostic output over SB/SC.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetJoypadState updates which buttons are currently pressed and
// raises IF bit 4 on any newly-asserted (active-low) input line.
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

func (b *Bus) IE() byte      { return b.ie }
func (b *Bus) IF() byte      { return b.ifReg }
func (b *Bus) SetIF(v byte)  { b.ifReg = v & 0x1F }
func (b *Bus) ClearIF(bit int) {
	b.ifReg &^= 1 << uint(bit)
}

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[addr-0x2000-0xC000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0 // unusable region
	case addr == 0xFF00:
		return b.readJoyp()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF04:
		return b.div
	case addr == 0xFF05:
		return b.tima
	case addr == 0xFF06:
		return b.tma
	case addr == 0xFF07:
		return 0xF8 | (b.tac & 0x07)
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFFFF:
		return b.ie
	default:
		return 0xFF
	}
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		b.wram[addr-0x2000-0xC000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		// unusable, writes discarded
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if b.sc&0x80 != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ifReg |= 1 << 3
			b.sc &^= 0x80
		}
	case addr == 0xFF04:
		oldInput := b.timerInput()
		b.divInternal = 0
		b.div = 0
		if oldInput && !b.timerInput() {
			b.incrementTIMA()
		}
	case addr == 0xFF05:
		b.tima = value
		b.timaReloadDelay = 0
	case addr == 0xFF06:
		b.tma = value
	case addr == 0xFF07:
		oldInput := b.timerInput()
		b.tac = value & 0x07
		if oldInput && !b.timerInput() {
			b.incrementTIMA()
		}
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFFFF:
		b.ie = value
	}
}

func (b *Bus) readJoyp() byte {
	res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
	if b.joypSelect&0x10 == 0 { // P14 low selects D-pad
		if b.joypad&JoypRight != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			res &^= 0x08
		}
	}
	if b.joypSelect&0x20 == 0 { // P15 low selects buttons
		if b.joypad&JoypA != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			res &^= 0x08
		}
	}
	return res
}

// updateJoypadIRQ recomputes the active-low lower nibble and raises
// IF bit 4 on any 1->0 transition (a button newly pressed).
func (b *Bus) updateJoypadIRQ() {
	newLower := byte(0x0F)
	if b.joypSelect&0x10 == 0 {
		if b.joypad&JoypRight != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			newLower &^= 0x08
		}
	}
	if b.joypSelect&0x20 == 0 {
		if b.joypad&JoypA != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			newLower &^= 0x08
		}
	}
	falling := b.joypLower4 &^ newLower
	if falling != 0 {
		b.ifReg |= 1 << 4
	}
	b.joypLower4 = newLower
}

// Tick advances timers, the PPU, and any in-flight OAM DMA by the
// given number of T-cycles.
func (b *Bus) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		b.tickOne()
	}
}

func (b *Bus) tickOne() {
	oldInput := b.timerInput()
	b.divInternal++
	b.div = byte(b.divInternal >> 8)
	falling := oldInput && !b.timerInput()

	if b.timaReloadDelay > 0 {
		b.timaReloadDelay--
		if b.timaReloadDelay == 0 {
			b.tima = b.tma
			b.ifReg |= 1 << 2
		}
	}
	if falling {
		b.incrementTIMA()
	}

	b.ppu.Tick(1)

	if b.dmaActive {
		v := b.Read(b.dmaSrc + uint16(b.dmaIndex))
		b.ppu.CPUWrite(0xFE00+uint16(b.dmaIndex), v)
		b.dmaIndex++
		if b.dmaIndex >= 0xA0 {
			b.dmaActive = false
		}
	}
}

// timerInput is the pre-TAC-gated falling-edge detector input:
// 00:bit9, 01:bit3, 10:bit5, 11:bit7 of the internal 16-bit divider.
func (b *Bus) timerInput() bool {
	if b.tac&0x04 == 0 {
		return false
	}
	var bit uint
	switch b.tac & 0x03 {
	case 0x00:
		bit = 9
	case 0x01:
		bit = 3
	case 0x02:
		bit = 5
	case 0x03:
		bit = 7
	}
	return (b.divInternal>>bit)&1 != 0
}

func (b *Bus) incrementTIMA() {
	if b.timaReloadDelay > 0 {
		return
	}
	if b.tima == 0xFF {
		b.tima = 0x00
		b.timaReloadDelay = 4 // overflow reload delay, per §3
		return
	}
	b.tima++
}

type busState struct {
	WRAM                [0x2000]byte
	HRAM                [0x7F]byte
	IE, IF              byte
	JoypSel, Joyp, JoypL4 byte
	DIV, TIMA, TMA, TAC byte
	TIMAReloadDelay     int
	SB, SC              byte
	DivInternal         uint16
	DMA                 byte
	DMAActive           bool
	DMASrc              uint16
	DMAIndex            int
}

// SaveState serializes bus-owned state (WRAM/HRAM/timers/IO) followed
// by the PPU's and cartridge's own SaveState payloads, grounded on the
// teacher's bus.go gob-based format. No cross-version format
// stability is guaranteed, per Non-goals.
func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(busState{
		WRAM: b.wram, HRAM: b.hram,
		IE: b.ie, IF: b.ifReg,
		JoypSel: b.joypSelect, Joyp: b.joypad, JoypL4: b.joypLower4,
		DIV: b.div, TIMA: b.tima, TMA: b.tma, TAC: b.tac,
		TIMAReloadDelay: b.timaReloadDelay,
		SB:              b.sb, SC: b.sc, DivInternal: b.divInternal,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAIndex: b.dmaIndex,
	})
	_ = enc.Encode(b.ppu.SaveState())
	_ = enc.Encode(b.cart.SaveState())
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram, b.hram = s.WRAM, s.HRAM
	b.ie, b.ifReg = s.IE, s.IF
	b.joypSelect, b.joypad, b.joypLower4 = s.JoypSel, s.Joyp, s.JoypL4
	b.div, b.tima, b.tma, b.tac = s.DIV, s.TIMA, s.TMA, s.TAC
	b.timaReloadDelay = s.TIMAReloadDelay
	b.sb, b.sc, b.divInternal = s.SB, s.SC, s.DivInternal
	b.dma, b.dmaActive, b.dmaSrc, b.dmaIndex = s.DMA, s.DMAActive, s.DMASrc, s.DMAIndex

	var ps []byte
	if err := dec.Decode(&ps); err == nil {
		b.ppu.LoadState(ps)
	}
	var cs []byte
	if err := dec.Decode(&cs); err == nil {
		b.cart.LoadState(cs)
	}
}
