package main

// rgbToRGBA expands the PPU's tightly-packed RGB framebuffer into an
// RGBA buffer (alpha opaque), the layout ebiten.Image.WritePixels and
// image.RGBA both expect.
func rgbToRGBA(rgb []byte, dst []byte) {
	n := len(rgb) / 3
	for i := 0; i < n; i++ {
		dst[i*4+0] = rgb[i*3+0]
		dst[i*4+1] = rgb[i*3+1]
		dst[i*4+2] = rgb[i*3+2]
		dst[i*4+3] = 0xFF
	}
}
