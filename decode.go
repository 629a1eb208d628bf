package endoscope

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
)

var errEmptyFrame = errors.New("empty frame")

// DecodeJPEG is the default decode gate. The camera only ever sends baseline JPEG.
func DecodeJPEG(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errEmptyFrame
	}
	return jpeg.Decode(bytes.NewReader(data))
}
