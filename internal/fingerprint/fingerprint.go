// Package fingerprint computes 64-bit difference hashes of images so that
// re-encoded or resized copies of the same picture compare as near-equal.
package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"strconv"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

type Hash uint64

const (
	hashWidth  = 9
	hashHeight = 8

	// MaxPixels bounds the decoded area; decoding memory grows with it.
	MaxPixels = 4096 * 4096
)

var ErrImageTooLarge = errors.New("image dimensions exceed limit")

// FromImage downsamples img to a 9x8 grayscale thumbnail and sets one bit per
// horizontally adjacent pixel pair, 1 when the left pixel is brighter.
func FromImage(img image.Image) Hash {
	thumb := image.NewGray(image.Rect(0, 0, hashWidth, hashHeight))
	draw.BiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Src, nil)

	var h Hash
	for y := 0; y < hashHeight; y++ {
		for x := 0; x < hashWidth-1; x++ {
			h <<= 1
			if thumb.GrayAt(x, y).Y > thumb.GrayAt(x+1, y).Y {
				h |= 1
			}
		}
	}
	return h
}

// Decode reads the image header first and refuses images larger than
// MaxPixels before any pixel data is allocated.
func Decode(r io.Reader) (Hash, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return 0, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img), nil
}

func Distance(a, b Hash) int {
	return bits.OnesCount64(uint64(a ^ b))
}

func Similar(a, b Hash, maxDistance int) bool {
	return Distance(a, b) <= maxDistance
}

func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

func Parse(s string) (Hash, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse fingerprint %q: %w", s, err)
	}
	return Hash(v), nil
}
