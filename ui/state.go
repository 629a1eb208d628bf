// Package ui holds the viewer's keyboard driven state. It knows nothing about
// sockets or reassembly; the viewer feeds it key codes and reads it back.
package ui

// Action is what the viewer has to do after a key press besides redrawing.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionSnapshot
	// ActionBrightness means Brightness changed and should be sent to the camera.
	ActionBrightness
)

const BrightnessStep = 10

// State is the viewer's display state.
type State struct {
	RotationLock bool
	// Rotation is the manual rotation in degrees, used while RotationLock is set.
	Rotation int
	// FullFrame shows the whole sensor image instead of the circular crop.
	FullFrame  bool
	Brightness int
}

func NewState(brightness int) *State {
	return &State{Brightness: clamp(brightness)}
}

// HandleKey applies a key code as returned by gocv's WaitKey. -1 means no key.
func (s *State) HandleKey(key int) Action {
	if key < 0 {
		return ActionNone
	}
	switch rune(key & 0xFF) {
	case '1':
		s.lockRotation(0)
	case '2':
		s.lockRotation(90)
	case '3':
		s.lockRotation(180)
	case '4':
		s.lockRotation(270)
	case 'r':
		s.RotationLock = false
	case 'f':
		s.FullFrame = !s.FullFrame
	case '+', '=':
		return s.adjustBrightness(BrightnessStep)
	case '-':
		return s.adjustBrightness(-BrightnessStep)
	case 'w':
		return ActionSnapshot
	case 'q', 27:
		return ActionQuit
	}
	return ActionNone
}

func (s *State) lockRotation(degrees int) {
	s.RotationLock = true
	s.Rotation = degrees
}

func (s *State) adjustBrightness(delta int) Action {
	next := clamp(s.Brightness + delta)
	if next == s.Brightness {
		return ActionNone
	}
	s.Brightness = next
	return ActionBrightness
}

// DisplayRotation returns the angle to rotate a frame by, given the camera's hint.
// The sensor is mounted a quarter turn off, hence the extra 90 degrees.
func (s *State) DisplayRotation(hint uint16) int {
	rotation := int(hint)
	if s.RotationLock {
		rotation = s.Rotation
	}
	return (rotation + 90) % 360
}

func clamp(brightness int) int {
	if brightness < 0 {
		return 0
	}
	if brightness > 100 {
		return 100
	}
	return brightness
}
