package cart

import "testing"

func TestMBC1_ROMBanking(t *testing.T) {
	rom := make([]byte, 128*1024) // 8 banks
	for bank := 0; bank < 8; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC1(rom, 0)

	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 read got %02X want 00", got)
	}
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default switchable bank got %02X want 01", got)
	}

	m.Write(0x2000, 0x03)
	if got := m.Read(0x4000); got != 0x03 {
		t.Fatalf("bank3 read got %02X want 03", got)
	}

	m.Write(0x2000, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("writing 0 should remap to bank 1, got %02X", got)
	}
}

func TestMBC1_RAMBanking_Mode1(t *testing.T) {
	rom := make([]byte, 128*1024)
	m := NewMBC1(rom, 32*1024)

	m.Write(0x0000, 0x0A) // enable RAM
	m.Write(0x6000, 0x01) // mode 1: RAM banking
	m.Write(0x4000, 0x02) // RAM bank 2

	m.Write(0xA000, 0x77)
	if got := m.Read(0xA000); got != 0x77 {
		t.Fatalf("RAM bank2 RW got %02X want 77", got)
	}

	m.Write(0x4000, 0x00) // switch to bank 0
	if got := m.Read(0xA000); got == 0x77 {
		t.Fatalf("bank 0 should not alias bank 2 data")
	}
}

func TestMBC1_RAMDisabledReadsFF(t *testing.T) {
	rom := make([]byte, 32*1024)
	m := NewMBC1(rom, 8*1024)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}
	m.Write(0xA000, 0x42) // dropped, RAM disabled
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("write while disabled should be dropped, got %02X", got)
	}
}

func TestMBC1_NoRAM(t *testing.T) {
	rom := make([]byte, 32*1024)
	m := NewMBC1(rom, 0)
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x55)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("cart without RAM should read FF, got %02X", got)
	}
}

func TestMBC1_BankWrapsOnOversizeSelection(t *testing.T) {
	rom := make([]byte, 256*1024) // 16 banks
	for bank := 0; bank < 16; bank++ {
		rom[bank*0x4000] = byte(0x80 | bank)
	}
	m := NewMBC1(rom, 0)
	m.Write(0x2000, 0x1F) // select bank 31, which should wrap to 31 % 16 = 15
	if got := m.Read(0x4000); got != byte(0x80|15) {
		t.Fatalf("oversize bank select got %02X want %02X", got, byte(0x80|15))
	}
}
