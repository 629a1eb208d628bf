package ui

import (
	"testing"
)

func TestHandleKey_Rotation(t *testing.T) {
	s := NewState(50)
	if r := s.DisplayRotation(270); r != 0 {
		t.Error("hint 270 should display at 0, got", r)
	}

	for key, degrees := range map[int]int{'1': 0, '2': 90, '3': 180, '4': 270} {
		s.HandleKey(key)
		if !s.RotationLock || s.Rotation != degrees {
			t.Error("key", string(rune(key)), "lock", s.RotationLock, "rotation", s.Rotation)
		}
		if r := s.DisplayRotation(0); r != (degrees+90)%360 {
			t.Error("locked display rotation", r)
		}
	}

	s.HandleKey('r')
	if s.RotationLock {
		t.Error("r should release the lock")
	}
	if r := s.DisplayRotation(90); r != 180 {
		t.Error("hint should apply again, got", r)
	}
}

func TestHandleKey_Actions(t *testing.T) {
	s := NewState(50)
	if a := s.HandleKey(-1); a != ActionNone {
		t.Error("no key", a)
	}
	if a := s.HandleKey('w'); a != ActionSnapshot {
		t.Error("w", a)
	}
	if a := s.HandleKey('q'); a != ActionQuit {
		t.Error("q", a)
	}
	if a := s.HandleKey(27); a != ActionQuit {
		t.Error("escape", a)
	}
	// high bits from some window toolkits are ignored
	if a := s.HandleKey(0x100000 | 'q'); a != ActionQuit {
		t.Error("q with modifier bits", a)
	}

	s.HandleKey('f')
	if !s.FullFrame {
		t.Error("f should toggle full frame on")
	}
	s.HandleKey('f')
	if s.FullFrame {
		t.Error("f should toggle full frame off")
	}
}

func TestHandleKey_Brightness(t *testing.T) {
	s := NewState(95)
	if a := s.HandleKey('+'); a != ActionBrightness || s.Brightness != 100 {
		t.Error("up", a, s.Brightness)
	}
	if a := s.HandleKey('='); a != ActionNone || s.Brightness != 100 {
		t.Error("already at maximum", a, s.Brightness)
	}
	if a := s.HandleKey('-'); a != ActionBrightness || s.Brightness != 90 {
		t.Error("down", a, s.Brightness)
	}

	if NewState(-5).Brightness != 0 || NewState(500).Brightness != 100 {
		t.Error("initial brightness not clamped")
	}
}
