// Package core wires the CPU, bus, PPU, and cartridge into a single
// runnable machine, grounded on the teacher's internal/emu.Machine but
// fleshed out into the full cooperative core loop: Step/StepFrame,
// joypad/serial plumbing, and composed save states.
package core

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/kaelrook/dotmatrix/internal/bus"
	"github.com/kaelrook/dotmatrix/internal/cart"
	"github.com/kaelrook/dotmatrix/internal/cpu"
)

// Emulator owns one cartridge's worth of machine state and advances it
// one instruction, or one frame, at a time.
type Emulator struct {
	cart   cart.Cartridge
	header *cart.Header
	bus    *bus.Bus
	cpu    *cpu.CPU

	running bool
}

// New loads rom and returns a machine parked at the CPU's documented
// post-boot register state (no boot ROM is modeled).
func New(rom []byte) (*Emulator, error) {
	c, h, err := cart.New(rom)
	if err != nil {
		return nil, err
	}
	b := bus.New(c)
	e := &Emulator{
		cart:    c,
		header:  h,
		bus:     b,
		cpu:     cpu.New(b),
		running: true,
	}
	return e, nil
}

// Header exposes the parsed cartridge header (title, MBC type, ROM/RAM sizes).
func (e *Emulator) Header() *cart.Header { return e.header }

// Bus exposes the memory bus for tools/tests that need register-level access.
func (e *Emulator) Bus() *bus.Bus { return e.bus }

// CPU exposes the CPU for tools/tests that need register-level access.
func (e *Emulator) CPU() *cpu.CPU { return e.cpu }

// Running reports whether the core loop should keep stepping. A host
// clears this (via Stop) to unwind its own loop cooperatively; the bus
// is the sole point any component synchronizes through, so there is no
// locking here (single-threaded, per the concurrency model).
func (e *Emulator) Running() bool { return e.running }

// Stop requests the core loop halt at the next observation point.
func (e *Emulator) Stop() { e.running = false }

// SetJoypadState updates which buttons are currently held, using the
// bus.Joyp* bitmasks.
func (e *Emulator) SetJoypadState(mask byte) { e.bus.SetJoypadState(mask) }

// SetSerialWriter routes SB/SC byte transfers to w (e.g. a test harness
// capturing a blargg-style serial console).
func (e *Emulator) SetSerialWriter(w io.Writer) { e.bus.SetSerialWriter(w) }

// Framebuffer returns the PPU's current RGB pixel buffer.
func (e *Emulator) Framebuffer() []byte { return e.bus.PPU().Framebuffer() }

// FrameReady reports whether a full frame has completed since the last
// ClearFrameReady (or since StepFrame last consumed one).
func (e *Emulator) FrameReady() bool { return e.bus.PPU().FrameReady() }

// Step advances the CPU by one step (one instruction, one interrupt
// dispatch, or one idle HALT step) and returns an error if the opcode
// stream has decoded something outside the implemented tables.
func (e *Emulator) Step() error {
	e.cpu.Step()
	return e.cpu.Err()
}

// StepFrame runs instructions until the PPU reports a completed frame,
// or Running() goes false. It clears any frame-ready latch left over
// from a previous call before starting.
func (e *Emulator) StepFrame() error {
	e.bus.PPU().ClearFrameReady()
	for e.running && !e.bus.PPU().FrameReady() {
		if err := e.Step(); err != nil {
			return err
		}
	}
	return nil
}

// emulatorState composes the per-component gob payloads the same way
// bus.SaveState composes PPU and cartridge state: no cross-version
// format guarantee, session-local fast-forward/rewind only.
type emulatorState struct {
	CPU []byte
	Bus []byte
}

// SaveState returns a gob-encoded snapshot of the whole machine.
func (e *Emulator) SaveState() []byte {
	s := emulatorState{
		CPU: e.cpu.SaveState(),
		Bus: e.bus.SaveState(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// LoadState restores a snapshot produced by SaveState onto this machine
// (cartridge/ROM identity is assumed unchanged by the caller).
func (e *Emulator) LoadState(data []byte) {
	var s emulatorState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		panic(err)
	}
	e.cpu.LoadState(s.CPU)
	e.bus.LoadState(s.Bus)
}
