package endoscope

const (
	// FragmentHeaderBytes is the fixed header in front of every video datagram:
	// frame counter, frame end flag, part index, part end, 4 auxiliary bytes.
	FragmentHeaderBytes = 8
	// MaxDatagramBytes is the largest datagram the camera sends.
	MaxDatagramBytes = 1500
)

// Fragment is one video datagram.
type Fragment struct {
	Frame    uint8
	FrameEnd bool
	Part     uint8
	// PartEnd is carried on the wire but its meaning differs between firmware
	// generations, so reassembly does not use it.
	PartEnd uint8
	Aux     [4]byte
	// Payload aliases the datagram it was read from.
	Payload []byte
}

// Rotation is the camera's orientation hint in degrees, taken from the first two auxiliary bytes.
func (f *Fragment) Rotation() uint16 {
	degrees, _ := newBufferFromRef(f.Aux[:]).getUint16()
	return degrees
}

// ReadFragment parses packetData into f. f.Payload points into packetData.
func ReadFragment(packetData []byte, f *Fragment) error {
	if len(packetData) < FragmentHeaderBytes {
		return ErrFragmentTooShort
	}
	p := newBufferFromRef(packetData)

	f.Frame, _ = p.getUint8()
	frameEnd, _ := p.getUint8()
	f.FrameEnd = frameEnd != 0
	f.Part, _ = p.getUint8()
	f.PartEnd, _ = p.getUint8()
	aux, _ := p.getBytes(len(f.Aux))
	copy(f.Aux[:], aux)
	f.Payload = p.remaining()
	return nil
}

// WriteFragment encodes f into dst and returns the number of bytes written.
// dst must hold at least FragmentHeaderBytes+len(f.Payload) bytes.
func WriteFragment(dst []byte, f *Fragment) int {
	p := newBufferFromRef(dst)
	p.writeUint8(f.Frame)
	if f.FrameEnd {
		p.writeUint8(1)
	} else {
		p.writeUint8(0)
	}
	p.writeUint8(f.Part)
	p.writeUint8(f.PartEnd)
	p.writeBytes(f.Aux[:])
	p.writeBytes(f.Payload)
	return len(p.bytes())
}

// SetRotation stores degrees in the auxiliary bytes the way the camera does.
func SetRotation(aux *[4]byte, degrees uint16) {
	newBufferFromRef(aux[:]).writeUint16(degrees)
}

// SplitFrame cuts one JPEG into wire datagrams of at most partSize payload
// bytes each, as the camera does. The last datagram carries the frame end flag.
func SplitFrame(frame uint8, data []byte, partSize int, aux [4]byte) [][]byte {
	if partSize <= 0 {
		partSize = MaxDatagramBytes - FragmentHeaderBytes
	}
	numParts := (len(data) + partSize - 1) / partSize
	if numParts == 0 {
		numParts = 1
	}
	if numParts > 256 {
		// part indices are a single byte
		return nil
	}

	datagrams := make([][]byte, 0, numParts)
	for part := 0; part < numParts; part++ {
		start := part * partSize
		end := start + partSize
		if end > len(data) {
			end = len(data)
		}
		f := Fragment{
			Frame:   frame,
			Part:    uint8(part),
			Aux:     aux,
			Payload: data[start:end],
		}
		if part == numParts-1 {
			f.FrameEnd = true
			f.PartEnd = 1
		}
		datagram := make([]byte, FragmentHeaderBytes+len(f.Payload))
		WriteFragment(datagram, &f)
		datagrams = append(datagrams, datagram)
	}
	return datagrams
}
