package fingerprint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func gradient(w, h int, invert bool, shift uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x * 200 / w)
			if invert {
				v = 200 - v
			}
			v += shift
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestFromImageStableAcrossScaleAndBrightness(t *testing.T) {
	t.Parallel()

	a := FromImage(gradient(64, 64, false, 0))
	b := FromImage(gradient(256, 128, false, 20))
	if d := Distance(a, b); d > 4 {
		t.Fatalf("expected near-equal hashes, distance %d", d)
	}

	c := FromImage(gradient(64, 64, true, 0))
	if d := Distance(a, c); d < 32 {
		t.Fatalf("expected distant hashes, distance %d", d)
	}
}

func TestDecodePNG(t *testing.T) {
	t.Parallel()

	src := gradient(32, 32, false, 0)
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	h, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h != FromImage(src) {
		t.Fatalf("decoded hash differs: %s vs %s", h, FromImage(src))
	}

	if _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	h := Hash(0xdeadbeef01234567)
	got, err := Parse(h.String())
	if err != nil || got != h {
		t.Fatalf("unexpected parse result: %s %v", got, err)
	}
	if !Similar(h, h^0b111, 3) || Similar(h, h^0b1111, 3) {
		t.Fatalf("unexpected similarity by distance")
	}
}

// pngHeader builds a PNG signature plus IHDR chunk declaring w x h 8-bit
// grayscale pixels, with no image data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		w, h uint32
	}{
		{name: "square", w: 12000, h: 12000},
		{name: "wide strip", w: 1 << 20, h: 17},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(bytes.NewReader(pngHeader(tc.w, tc.h)))
			if !errors.Is(err, ErrImageTooLarge) {
				t.Fatalf("expected ErrImageTooLarge, got %v", err)
			}
		})
	}
}
