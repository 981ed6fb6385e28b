package frame

import (
	"bytes"
	"image/png"
	"testing"
)

func solidFrame(pixel uint16) []byte {
	raw := make([]byte, FrameBytes)
	for i := 0; i < ImageWidth*ImageHeight; i++ {
		raw[2*i] = byte(pixel)
		raw[2*i+1] = byte(pixel >> 8)
	}
	return raw
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, FrameBytes-1))
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestDecodeWhitePixel(t *testing.T) {
	img, err := Decode(solidFrame(0xffff))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := img.RGBAAt(0, 0)
	if c.R != 0xff || c.G != 0xff || c.B != 0xff {
		t.Fatalf("expected pure white, got %+v", c)
	}
}

func TestDecodeBlackPixel(t *testing.T) {
	img, err := Decode(solidFrame(0x0000))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := img.RGBAAt(0, 0)
	if c.R != 0 || c.G != 0 || c.B != 0 {
		t.Fatalf("expected pure black, got %+v", c)
	}
}

func TestRoundTripRGB565(t *testing.T) {
	for pixel := uint16(0); pixel < 0xffff; pixel += 997 {
		raw := solidFrame(pixel)
		img, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode pixel %#x: %v", pixel, err)
		}
		reencoded := EncodeRGB565(img)
		if !bytes.Equal(raw, reencoded) {
			t.Fatalf("round trip mismatch for pixel %#x", pixel)
		}
	}
}

func TestEncodePNGProducesValidImage(t *testing.T) {
	img, err := Decode(solidFrame(0x1234))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	decoded, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if decoded.Bounds().Dx() != ImageWidth || decoded.Bounds().Dy() != ImageHeight {
		t.Fatalf("unexpected dimensions: %v", decoded.Bounds())
	}
}
