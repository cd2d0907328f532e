// Package imagingtest builds deterministic sample images for tests.
package imagingtest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
)

func noisy(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(rng.Intn(200) + 20),
				G: uint8(rng.Intn(200) + 20),
				B: uint8(rng.Intn(200) + 20),
				A: 255,
			})
		}
	}
	return img
}

// PNG returns a noisy PNG that compresses poorly, so even small sizes
// clear the minimum upload size.
func PNG(w, h int, seed int64) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, noisy(w, h, seed)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG returns a noisy JPEG.
func JPEG(w, h int, seed int64) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, noisy(w, h, seed), &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
