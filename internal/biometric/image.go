package biometric

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/spakin/netpbm"
)

// DecodeImage turns raw upload or device bytes into a grayscale raster.
// JPEG, PNG and PGM are accepted; anything else is rejected.
func DecodeImage(data []byte) (*image.Gray, error) {
	reader := bytes.NewReader(data)

	if img, err := jpeg.Decode(reader); err == nil {
		return ToGray(img), nil
	}

	reader.Seek(0, io.SeekStart)
	if img, err := png.Decode(reader); err == nil {
		return ToGray(img), nil
	}

	reader.Seek(0, io.SeekStart)
	if img, err := netpbm.Decode(reader, &netpbm.DecodeOptions{Target: netpbm.PGM, Exact: false}); err == nil {
		return ToGray(img), nil
	}

	return nil, fmt.Errorf("unsupported image format - must be JPEG, PNG or PGM")
}

// ToGray converts any image to an 8-bit grayscale raster.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// EncodePNG produces the lossless preview encoding of a captured image.
// Historically surfaced to callers under a "BMP" label.
func EncodePNG(img *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
