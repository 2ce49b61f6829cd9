package dataset

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Normalization holds per-channel RGB mean and standard deviation
type Normalization struct {
	Mean [3]float64
	Std  [3]float64
}

// Decode reads any registered image format
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// DecodeBytes decodes an in-memory image
func DecodeBytes(data []byte) (image.Image, error) {
	return Decode(bytes.NewReader(data))
}

// LoadFile decodes and preprocesses an image file
func LoadFile(path string, size int, norm Normalization) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Preprocess(img, size, norm), nil
}

// Preprocess resizes img to size x size and returns normalized pixels in
// CHW order (all red values, then green, then blue).
func Preprocess(img image.Image, size int, norm Normalization) []float64 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	sb := img.Bounds()
	if sb.Dx() == size && sb.Dy() == size {
		draw.Copy(dst, image.Point{}, img, sb, draw.Src, nil)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), img, sb, draw.Src, nil)
	}

	plane := size * size
	out := make([]float64, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := dst.PixOffset(x, y)
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float64(dst.Pix[off+c]) / 255
				out[c*plane+i] = (v - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return out
}

// HFlip mirrors a CHW pixel buffer left to right
func HFlip(pixels []float64, size int) []float64 {
	out := make([]float64, len(pixels))
	plane := size * size
	for c := 0; c < len(pixels)/plane; c++ {
		for y := 0; y < size; y++ {
			row := c*plane + y*size
			for x := 0; x < size; x++ {
				out[row+x] = pixels[row+size-1-x]
			}
		}
	}
	return out
}
