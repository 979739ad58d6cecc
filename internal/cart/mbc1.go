package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 implements the MBC1 bank-switch latches and external-RAM
// banking described in spec §4.1: rom_bank_low (5 bits, 0 remapped to
// 1), upper_bits (2 bits shared between ROM-bank-high and RAM-bank),
// ram_enable, and mode (0: ROM-bank-mode, 1: RAM-bank-mode).
type MBC1 struct {
	rom      []byte
	ram      []byte
	romBanks int // rom_bank_count, len(rom)/0x4000 (the header's ROM-size byte is not consulted); 0 disables wrap-around

	romBankLow byte // 5 bits
	upperBits  byte // 2 bits
	ramEnable  bool
	mode       byte // 0: ROM banking, 1: RAM banking
}

func NewMBC1(rom []byte, ramSize int) *MBC1 {
	m := &MBC1{rom: rom, romBankLow: 1, romBanks: len(rom) / 0x4000}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.effectiveROMBank())
		if m.romBanks > 0 {
			bank %= m.romBanks
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnable || len(m.ram) == 0 {
			return 0xFF
		}
		off := m.ramOffset(addr)
		if off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnable = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		m.romBankLow = value & 0x1F
		if m.romBankLow == 0 {
			m.romBankLow = 1
		}
	case addr < 0x6000:
		m.upperBits = value & 0x03
	case addr < 0x8000:
		m.mode = value & 0x01
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnable || len(m.ram) == 0 {
			return
		}
		off := m.ramOffset(addr)
		if off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// effectiveROMBank combines the latches per spec §3: (upper_bits<<5)|rom_bank_low.
func (m *MBC1) effectiveROMBank() byte {
	return (m.upperBits << 5) | m.romBankLow
}

// ramOffset combines the RAM bank (upper_bits when mode==1, else 0)
// with the address within the 8 KiB window.
func (m *MBC1) ramOffset(addr uint16) int {
	bank := 0
	if m.mode == 1 {
		bank = int(m.upperBits)
	}
	return bank*0x2000 + int(addr-0xA000)
}

type mbc1State struct {
	RAM                       []byte
	RomBankLow, UpperBits     byte
	RamEnable                 bool
	Mode                      byte
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(mbc1State{
		RAM: m.ram, RomBankLow: m.romBankLow, UpperBits: m.upperBits,
		RamEnable: m.ramEnable, Mode: m.mode,
	})
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) {
	var s mbc1State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(s.RAM) == len(m.ram) {
		copy(m.ram, s.RAM)
	}
	m.romBankLow, m.upperBits, m.ramEnable, m.mode = s.RomBankLow, s.UpperBits, s.RamEnable, s.Mode
}

// SaveRAM and LoadRAM implement BatteryBacked for cart type 0x03.
// For other MBC1 types SaveRAM returns nil and LoadRAM ignores data.
func (m *MBC1) SaveRAM() []byte {
	if len(m.ram) == 0 || !m.hasBattery() {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC1) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 || !m.hasBattery() {
		return
	}
	copy(m.ram, data)
}

func (m *MBC1) hasBattery() bool {
	return len(m.rom) > 0x0147 && m.rom[0x0147] == 0x03
}
