package bus

import (
	"testing"

	"github.com/kaelrook/dotmatrix/internal/cart"
)

func newTestBus(rom []byte) *Bus {
	c, _, err := cart.New(rom)
	if err != nil {
		panic(err)
	}
	return New(c)
}

func romOnly(size int) []byte {
	rom := make([]byte, size)
	rom[0x0147] = 0x00
	return rom
}

func TestBus_ROMAndRAM(t *testing.T) {
	rom := romOnly(0x8000)
	rom[0x0100] = 0x42
	b := newTestBus(rom)

	if got := b.Read(0x0100); got != 0x42 {
		t.Fatalf("ROM read got %02x, want 42", got)
	}

	b.Write(0xC000, 0x99)
	if got := b.Read(0xC000); got != 0x99 {
		t.Fatalf("RAM read got %02x, want 99", got)
	}

	b.Write(0xE000, 0x55)
	if got := b.Read(0xC000); got != 0x55 {
		t.Fatalf("Echo write did not mirror to WRAM: got %02x", got)
	}

	b.Write(0xFF80, 0xAB)
	if got := b.Read(0xFF80); got != 0xAB {
		t.Fatalf("HRAM read got %02x, want AB", got)
	}

	if got := b.Read(0xA123); got != 0xFF {
		t.Fatalf("Ext RAM (ROM-only) got %02x, want FF", got)
	}
}

func TestBus_VRAM_OAM_InterruptRegs(t *testing.T) {
	b := newTestBus(romOnly(0x8000))

	b.Write(0x8000, 0x11)
	if got := b.Read(0x8000); got != 0x11 {
		t.Fatalf("VRAM read got %02x, want 11", got)
	}

	b.Write(0xFE00, 0x22)
	if got := b.Read(0xFE00); got != 0x22 {
		t.Fatalf("OAM read got %02x, want 22", got)
	}

	b.Write(0xFF0F, 0x3F)
	if got := b.Read(0xFF0F); got != 0xE0|0x1F {
		t.Fatalf("IF read got %02x, want %02x", got, 0xE0|0x1F)
	}

	b.Write(0xFFFF, 0x1B)
	if got := b.Read(0xFFFF); got != 0x1B {
		t.Fatalf("IE read got %02x, want 1B", got)
	}
}

func TestBus_UnusableRegionReadsZero(t *testing.T) {
	b := newTestBus(romOnly(0x8000))

	b.Write(0xFEA0, 0x42) // discarded, unusable region
	if got := b.Read(0xFEA0); got != 0x00 {
		t.Fatalf("unusable region read got %02x, want 00", got)
	}
	if got := b.Read(0xFEFF); got != 0x00 {
		t.Fatalf("unusable region read got %02x, want 00", got)
	}
}

func TestBus_JOYP_And_Timers(t *testing.T) {
	b := newTestBus(romOnly(0x8000))

	if got := b.Read(0xFF00); got&0x0F != 0x0F {
		t.Fatalf("JOYP default lower bits got %02x want 0x0F", got)
	}

	b.Write(0xFF00, 0x20) // P14=0: select D-Pad
	b.SetJoypadState(JoypRight | JoypUp)
	got := b.Read(0xFF00)
	if got&0x0F != 0x0A {
		t.Fatalf("JOYP D-Pad got %02x want 0x0A", got&0x0F)
	}

	b.Write(0xFF00, 0x10) // P15=0: select buttons
	b.SetJoypadState(JoypA | JoypStart)
	got = b.Read(0xFF00)
	if got&0x0F != 0x06 {
		t.Fatalf("JOYP Buttons got %02x want 0x06", got&0x0F)
	}

	b.Write(0xFF04, 0x12)
	if got := b.Read(0xFF04); got != 0x00 {
		t.Fatalf("DIV got %02x want 00", got)
	}
	b.Write(0xFF05, 0x77)
	if got := b.Read(0xFF05); got != 0x77 {
		t.Fatalf("TIMA got %02x want 77", got)
	}
	b.Write(0xFF06, 0x88)
	if got := b.Read(0xFF06); got != 0x88 {
		t.Fatalf("TMA got %02x want 88", got)
	}
	b.Write(0xFF07, 0xFD)
	if got := b.Read(0xFF07); got != (0xF8 | (0xFD & 0x07)) {
		t.Fatalf("TAC got %02x want %02x", got, 0xF8|(0xFD&0x07))
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestBus_SerialImmediate(t *testing.T) {
	b := newTestBus(romOnly(0x8000))
	var out []byte
	b.SetSerialWriter(writerFunc(func(p []byte) (int, error) {
		out = append(out, p...)
		return len(p), nil
	}))

	b.Write(0xFF01, 0x41)
	b.Write(0xFF02, 0x81)
	if len(out) != 1 || out[0] != 0x41 {
		t.Fatalf("serial out got %v want [0x41]", out)
	}
	if got := b.Read(0xFF02); got&0x80 != 0 {
		t.Fatalf("serial control bit7 not cleared: %02x", got)
	}
	if b.Read(0xFF0F)&(1<<3) == 0 {
		t.Fatalf("serial IF bit not set after transfer")
	}
}

func TestBus_TimerEdge_OnDIVAndTACWrites(t *testing.T) {
	b := newTestBus(romOnly(0x8000))
	b.tac = 0x05
	b.tima = 0x10
	b.divInternal = 0x0008
	if !b.timerInput() {
		t.Fatalf("expected timerInput true")
	}
	b.Write(0xFF04, 0x00)
	if got := b.tima; got != 0x11 {
		t.Fatalf("TIMA not incremented on DIV falling edge: got %02X want 11", got)
	}

	b.tima = 0x20
	b.divInternal = 0x0008
	b.tac = 0x05
	if !b.timerInput() {
		t.Fatalf("expected timerInput true before TAC change")
	}
	b.Write(0xFF07, 0x06)
	if got := b.tima; got != 0x21 {
		t.Fatalf("TIMA not incremented on TAC falling edge: got %02X want 21", got)
	}
}

func TestBus_TimerEdges_IgnoredDuringPendingReload(t *testing.T) {
	b := newTestBus(romOnly(0x8000))
	b.Write(0xFF07, 0x05)
	b.tma = 0x33
	b.tima = 0xFF
	b.divInternal = 0x000F
	b.Tick(1)
	b.divInternal = 0x0008
	if !b.timerInput() {
		t.Fatalf("expected timer input true before DIV write")
	}
	b.Write(0xFF04, 0x00)
	if got := b.tima; got != 0x00 {
		t.Fatalf("TIMA incremented during pending reload on DIV write: got %02X want 00", got)
	}
	for i := 0; i < 4; i++ {
		b.Tick(1)
	}
	if got := b.tima; got != 0x33 {
		t.Fatalf("reload did not occur: got %02X want 33", got)
	}
}

func TestBus_TIMAOverflow_ReloadTiming_AndCancellation(t *testing.T) {
	b := newTestBus(romOnly(0x8000))
	b.tac = 0x05
	b.tma = 0xAB

	b.tima = 0xFF
	b.divInternal = 0x000F
	b.Tick(1)
	if got := b.tima; got != 0x00 {
		t.Fatalf("after overflow, TIMA got %02X want 00", got)
	}
	for i := 0; i < 3; i++ {
		b.Tick(1)
		if got := b.tima; got != 0x00 {
			t.Fatalf("during delay cycle %d, TIMA got %02X want 00", i, got)
		}
		if b.Read(0xFF0F)&(1<<2) != 0 {
			t.Fatalf("during delay IF timer bit set prematurely")
		}
	}
	b.Tick(1)
	if got := b.tima; got != 0xAB {
		t.Fatalf("after delay, TIMA got %02X want AB", got)
	}
	if b.Read(0xFF0F)&(1<<2) == 0 {
		t.Fatalf("timer IF bit not set on reload")
	}

	b.Write(0xFF0F, 0x00)
	b.tac = 0x05
	b.tma = 0x55
	b.tima = 0xFF
	b.divInternal = 0x000F
	b.Tick(1)
	b.Write(0xFF05, 0x77)
	for i := 0; i < 8; i++ {
		b.Tick(1)
	}
	if got := b.tima; got != 0x77 {
		t.Fatalf("TIMA write during delay not retained: got %02X want 77", got)
	}
	if b.Read(0xFF0F)&(1<<2) != 0 {
		t.Fatalf("timer IF bit set despite cancellation")
	}

	b.Write(0xFF0F, 0x00)
	b.tac = 0x05
	b.tima = 0xFF
	b.tma = 0x11
	b.divInternal = 0x000F
	b.Tick(1)
	b.Write(0xFF06, 0x22)
	for i := 0; i < 4; i++ {
		b.Tick(1)
	}
	if got := b.tima; got != 0x22 {
		t.Fatalf("TMA write during delay not reflected in reload: got %02X want 22", got)
	}
}

func TestBus_OAMDMA_BlocksOAMDuringCopy(t *testing.T) {
	b := newTestBus(romOnly(0x8000))
	// stage 160 bytes of source data at 0xC000 (WRAM)
	for i := 0; i < 0xA0; i++ {
		b.wram[i] = byte(i + 1)
	}
	b.Write(0xFF46, 0xC0) // DMA source = 0xC000
	if !b.dmaActive {
		t.Fatalf("expected DMA to be active immediately after trigger")
	}
	if got := b.Read(0xFE00); got != 0xFF {
		t.Fatalf("OAM read during active DMA got %02x want FF", got)
	}
	b.Tick(0xA0)
	if b.dmaActive {
		t.Fatalf("expected DMA to complete after 160 T-cycles")
	}
	if got := b.Read(0xFE00); got != 0x01 {
		t.Fatalf("OAM[0] after DMA got %02x want 01", got)
	}
	if got := b.Read(0xFE9F); got != 0xA0 {
		t.Fatalf("OAM[0x9F] after DMA got %02x want A0", got)
	}
}

func TestBus_SaveLoadStateRoundTrip(t *testing.T) {
	b := newTestBus(romOnly(0x8000))
	b.Write(0xC000, 0x7A)
	b.Write(0xFF05, 0x10)
	b.Write(0xFFFF, 0x1F)
	state := b.SaveState()

	b2 := newTestBus(romOnly(0x8000))
	b2.LoadState(state)
	if got := b2.Read(0xC000); got != 0x7A {
		t.Fatalf("WRAM not restored: got %02x", got)
	}
	if got := b2.Read(0xFF05); got != 0x10 {
		t.Fatalf("TIMA not restored: got %02x", got)
	}
	if got := b2.Read(0xFFFF); got != 0x1F {
		t.Fatalf("IE not restored: got %02x", got)
	}
}
