// Package frame decodes the device's packed RGB565 frame buffers into
// standard PNG images.
package frame

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
)

// ImageWidth and ImageHeight are the fixed dimensions of every frame the
// device sends, in pixels.
const (
	ImageWidth  = 320
	ImageHeight = 240
)

// FrameBytes is the expected length of one raw frame buffer: two bytes per
// pixel, row-major.
const FrameBytes = ImageWidth * ImageHeight * 2

// Decode parses a raw RGB565 little-endian pixel buffer into an RGBA image.
// The buffer must be exactly FrameBytes long.
func Decode(raw []byte) (*image.RGBA, error) {
	if len(raw) != FrameBytes {
		return nil, fmt.Errorf("frame: buffer has %d bytes, want %d", len(raw), FrameBytes)
	}

	img := image.NewRGBA(image.Rect(0, 0, ImageWidth, ImageHeight))
	for i := 0; i < ImageWidth*ImageHeight; i++ {
		lo := raw[2*i]
		hi := raw[2*i+1]
		pixel := uint16(lo) | uint16(hi)<<8
		r, g, b := rgb565To888(pixel)
		x := i % ImageWidth
		y := i / ImageWidth
		img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
	}
	return img, nil
}

// rgb565To888 expands one RGB565 pixel into 8-bit-per-channel RGB by
// replicating the high bits into the low bits of each widened channel, the
// standard bit-replication expansion that avoids darkening pure white.
func rgb565To888(pixel uint16) (r, g, b uint8) {
	r5 := uint8(pixel >> 11 & 0x1f)
	g6 := uint8(pixel >> 5 & 0x3f)
	b5 := uint8(pixel & 0x1f)

	r = r5<<3 | r5>>2
	g = g6<<2 | g6>>4
	b = b5<<3 | b5>>2
	return r, g, b
}

// EncodePNG writes img to w as a PNG, the on-disk shape the ingestion
// pipeline persists each decoded frame as.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("frame: encode png: %w", err)
	}
	return nil
}

// EncodeRGB565 re-packs an RGBA image back into RGB565 little-endian bytes,
// the inverse of Decode's channel quantization. Used only by round-trip
// tests; the production pipeline never re-encodes a frame it has decoded.
func EncodeRGB565(img *image.RGBA) []byte {
	bounds := img.Bounds()
	out := make([]byte, 0, bounds.Dx()*bounds.Dy()*2)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.RGBAAt(x, y)
			r5 := c.R >> 3
			g6 := c.G >> 2
			b5 := c.B >> 3
			pixel := uint16(r5)<<11 | uint16(g6)<<5 | uint16(b5)
			out = append(out, byte(pixel), byte(pixel>>8))
		}
	}
	return out
}
