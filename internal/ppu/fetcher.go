package ppu

// vramReader is the fetcher's narrow view of VRAM, grounded on the
// teacher's fetcher.go VRAMReader interface.
type vramReader interface {
	read(addr uint16) byte
}

// pixelFIFO is a fixed-capacity ring buffer of 2-bit color indices.
// Never allocates during a frame.
type pixelFIFO struct {
	buf  [16]byte
	head int
	tail int
	size int
}

func (q *pixelFIFO) Clear()   { q.head, q.tail, q.size = 0, 0, 0 }
func (q *pixelFIFO) Len() int { return q.size }

func (q *pixelFIFO) Push(ci byte) bool {
	if q.size == len(q.buf) {
		return false
	}
	q.buf[q.tail] = ci & 0x03
	q.tail = (q.tail + 1) % len(q.buf)
	q.size++
	return true
}

func (q *pixelFIFO) Pop() (byte, bool) {
	if q.size == 0 {
		return 0, false
	}
	v := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

// phase is the fetcher's 4-step state machine (§4.5).
type phase byte

const (
	phaseReadID phase = iota
	phaseReadDataLow
	phaseReadDataHigh
	phasePush
)

// fetcher reads one 8-pixel tile row at a time into a pixel FIFO,
// advancing one phase every two PPU dots.
type fetcher struct {
	mem vramReader
	fifo pixelFIFO

	phase    phase
	subCycle int // counts dots within the current phase; work happens every 2nd

	tileMapLineAddr uint16 // base address of the tilemap row being scanned
	indexInLine     byte   // 0..31, tile column within that row
	fineY           byte   // 0..7, intra-tile row
	tileData8000    bool

	tileID          byte
	rowLow, rowHigh byte

	discard     int  // remaining SCX%8 pixels to drop at scanline start
	usingWindow bool
}

// beginScanline configures the fetcher to start drawing the background
// row for scanline ly, per the tile-map-row-base/index-in-line formulas
// in §4.5.
func (f *fetcher) beginScanline(p *PPU, ly byte) {
	bgY := uint16(ly) + uint16(p.scy)
	mapY := (bgY >> 3) & 31
	tileX := byte((uint16(p.scx) >> 3) & 31)

	f.tileMapLineAddr = p.bgTileMapBase() + mapY*32
	f.indexInLine = tileX
	f.fineY = byte(bgY & 7)
	f.tileData8000 = p.tileData8000()
	f.discard = int(p.scx & 7)
	f.usingWindow = false

	f.phase = phaseReadID
	f.subCycle = 0
	f.fifo.Clear()
}

// switchToWindow resets the fetcher mid-scanline to draw from the
// window tilemap, using the PPU's internal window line counter.
func (f *fetcher) switchToWindow(p *PPU) {
	mapY := uint16(p.windowLine>>3) & 31

	f.tileMapLineAddr = p.winTileMapBase() + mapY*32
	f.indexInLine = 0
	f.fineY = byte(p.windowLine & 7)
	f.tileData8000 = p.tileData8000()
	f.discard = 0
	f.usingWindow = true

	f.phase = phaseReadID
	f.subCycle = 0
	f.fifo.Clear()
}

// tick advances the fetcher by one PPU dot; the phase body only runs
// every second call.
func (f *fetcher) tick() {
	f.subCycle++
	if f.subCycle < 2 {
		return
	}
	f.subCycle = 0

	switch f.phase {
	case phaseReadID:
		addr := f.tileMapLineAddr + uint16(f.indexInLine&31)
		f.tileID = f.mem.read(addr)
		f.phase = phaseReadDataLow
	case phaseReadDataLow:
		f.rowLow = f.mem.read(f.tileDataAddr())
		f.phase = phaseReadDataHigh
	case phaseReadDataHigh:
		f.rowHigh = f.mem.read(f.tileDataAddr() + 1)
		f.phase = phasePush
	case phasePush:
		if f.fifo.Len() <= 8 {
			for bit := 7; bit >= 0; bit-- {
				lo := (f.rowLow >> uint(bit)) & 1
				hi := (f.rowHigh >> uint(bit)) & 1
				f.fifo.Push((hi << 1) | lo)
			}
			f.indexInLine = (f.indexInLine + 1) & 31
			f.phase = phaseReadID
		}
		// else: stall in Push until the FIFO drains below the threshold.
	}
}

// tileDataAddr computes the tile-data byte address for the current
// tile ID, fine Y, and addressing mode (§4.5).
func (f *fetcher) tileDataAddr() uint16 {
	var base uint16
	if f.tileData8000 {
		base = 0x8000 + uint16(f.tileID)*16
	} else {
		base = uint16(int32(0x9000) + int32(int8(f.tileID))*16)
	}
	return base + uint16(f.fineY)*2
}

func (f *fetcher) popPixel() (byte, bool) { return f.fifo.Pop() }
