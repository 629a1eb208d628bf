package device

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
)

// TestPattern renders frame n of a moving gradient as a JPEG.
func TestPattern(width, height, n int) ([]byte, error) {
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Y[img.YOffset(x, y)] = uint8(x + y + 4*n)
		}
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := img.COffset(x, y)
			img.Cb[c] = uint8(128 + y/4)
			img.Cr[c] = uint8(128 + n)
		}
	}
	// a circle of light like the endoscope's ring of LEDs
	r := height / 2
	cx, cy := width/2, height/2
	ring := color.YCbCr{Y: 235, Cb: 128, Cr: 128}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := x-cx, y-cy
			d := dx*dx + dy*dy
			if d >= (r-3)*(r-3) && d <= r*r {
				img.Y[img.YOffset(x, y)] = ring.Y
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return withJFIF(buf.Bytes()), nil
}

// jfifHeader is the APP0 segment the camera puts right after the start of image marker.
var jfifHeader = []byte{
	0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00,
	0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
}

// withJFIF inserts the APP0 segment, image/jpeg does not write one.
func withJFIF(data []byte) []byte {
	if len(data) < 2 || bytes.HasPrefix(data[2:], jfifHeader[:4]) {
		return data
	}
	out := make([]byte, 0, len(data)+len(jfifHeader))
	out = append(out, data[:2]...)
	out = append(out, jfifHeader...)
	return append(out, data[2:]...)
}
