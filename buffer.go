package endoscope

import (
	"io"
)

// buffer is a cursor over a datagram so the fragment codec
// does not need to track where in the slice it is reading or writing.
type buffer struct {
	buf []byte
	pos int
}

func newBufferFromRef(buf []byte) *buffer {
	return &buffer{buf: buf}
}

func (b *buffer) bytes() []byte {
	return b.buf[:b.pos]
}

// remaining returns everything after the cursor without copying.
func (b *buffer) remaining() []byte {
	return b.buf[b.pos:]
}

func (b *buffer) getBytes(length int) ([]byte, error) {
	end := b.pos + length
	if length < 0 || end > len(b.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	value := b.buf[b.pos:end]
	b.pos = end
	return value, nil
}

func (b *buffer) getUint8() (uint8, error) {
	buf, err := b.getBytes(sizeUint8)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// getUint16 reads big endian, which is what the camera uses for the rotation hint.
func (b *buffer) getUint16() (uint16, error) {
	buf, err := b.getBytes(sizeUint16)
	if err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (b *buffer) writeUint8(n uint8) {
	b.buf[b.pos] = n
	b.pos++
}

func (b *buffer) writeUint16(n uint16) {
	b.buf[b.pos] = byte(n >> 8)
	b.pos++
	b.buf[b.pos] = byte(n)
	b.pos++
}

func (b *buffer) writeBytes(src []byte) {
	b.pos += copy(b.buf[b.pos:], src)
}

const (
	sizeUint8  = 1
	sizeUint16 = 2
)
