// Package cart models the cartridge/MBC1 address-remapping logic: ROM
// bank switching, external RAM banking, and header-driven sizing.
package cart

import "fmt"

// Cartridge is the minimal interface the bus needs for ROM/RAM banking.
// Addresses are CPU-visible addresses in 0x0000-0x7FFF (ROM window,
// writes are MBC control) and 0xA000-0xBFFF (external RAM).
type Cartridge interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)

	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is implemented by cartridges whose external RAM should
// survive across runs (cart type 0x03, MBC1+RAM+BATTERY).
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// ErrUnsupportedCartridge reports a header cartridge-type byte outside
// the supported set {0x00, 0x01, 0x02, 0x03}.
type ErrUnsupportedCartridge struct {
	Type byte
}

func (e *ErrUnsupportedCartridge) Error() string {
	return fmt.Sprintf("cart: unsupported cartridge type byte %#02x", e.Type)
}

// New parses the ROM header and builds the matching cartridge
// implementation. Only ROM-only and MBC1 variants are supported; any
// other type byte is reported via ErrUnsupportedCartridge.
func New(rom []byte) (Cartridge, *Header, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, nil, err
	}
	switch h.CartType {
	case 0x00:
		return NewROMOnly(rom), h, nil
	case 0x01, 0x02, 0x03:
		return NewMBC1(rom, h.RAMSizeBytes), h, nil
	default:
		return nil, h, &ErrUnsupportedCartridge{Type: h.CartType}
	}
}
