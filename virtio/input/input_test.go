// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package input

import "testing"

// Scenario 4 (spec.md §8): shift+A keypress sequence — KEY_LEFTSHIFT
// down sets the shift modifier, then KEY_A down must decode to 'A'.
func TestShiftAKeypressSequence(t *testing.T) {
	var m modifierState

	m.update(KeyLeftShift, 1)
	if m.modifiers&ModShift == 0 {
		t.Fatal("expected shift modifier to be set after KEY_LEFTSHIFT down")
	}

	ascii := mapKeyToASCII(m.modifiers, m.capsLock, KeyA)
	if ascii != 'A' {
		t.Fatalf("expected 'A', got %q", ascii)
	}

	m.update(KeyLeftShift, 0)
	if m.modifiers&ModShift != 0 {
		t.Fatal("expected shift modifier to clear after KEY_LEFTSHIFT up")
	}

	ascii = mapKeyToASCII(m.modifiers, m.capsLock, KeyA)
	if ascii != 'a' {
		t.Fatalf("expected 'a', got %q", ascii)
	}
}

func TestCapsLockTogglesOnPressOnly(t *testing.T) {
	var m modifierState

	m.update(KeyCapsLock, 1) // press
	if !m.capsLock {
		t.Fatal("expected caps lock to toggle on after first press")
	}

	m.update(KeyCapsLock, 0) // release must not toggle
	if !m.capsLock {
		t.Fatal("expected caps lock release to not re-toggle")
	}

	m.update(KeyCapsLock, 1)
	if m.capsLock {
		t.Fatal("expected second press to toggle caps lock off")
	}
}

func TestShiftXorCapsLockProducesLowercase(t *testing.T) {
	var m modifierState

	m.update(KeyCapsLock, 1) // caps lock on
	m.update(KeyLeftShift, 1) // shift also held

	// shift XOR caps_lock == false -> lowercase
	ascii := mapKeyToASCII(m.modifiers, m.capsLock, KeyA)
	if ascii != 'a' {
		t.Fatalf("expected lowercase 'a' with both shift and caps lock active, got %q", ascii)
	}
}

func TestModifierBitsAreIndependent(t *testing.T) {
	var m modifierState

	m.update(KeyLeftCtrl, 1)
	m.update(KeyLeftAlt, 1)

	if m.modifiers&ModCtrl == 0 || m.modifiers&ModAlt == 0 {
		t.Fatalf("expected both ctrl and alt set, got %#x", m.modifiers)
	}

	if m.modifiers&ModShift != 0 || m.modifiers&ModMeta != 0 {
		t.Fatalf("expected shift and meta unset, got %#x", m.modifiers)
	}
}

func TestNonASCIIKeysMapToZero(t *testing.T) {
	for _, code := range []uint16{KeyUp, KeyDown, KeyLeft, KeyRight, KeyLeftShift, KeyCapsLock} {
		if got := mapKeyToASCII(0, false, code); got != 0 {
			t.Fatalf("expected code %d to map to 0, got %q", code, got)
		}
	}
}

func TestPunctuationRespectsShift(t *testing.T) {
	cases := []struct {
		code         uint16
		plain, shift byte
	}{
		{Key1, '1', '!'},
		{KeyMinus, '-', '_'},
		{KeySlash, '/', '?'},
		{KeyGrave, '`', '~'},
	}

	for _, c := range cases {
		if got := mapKeyToASCII(0, false, c.code); got != c.plain {
			t.Fatalf("code %d unshifted: expected %q, got %q", c.code, c.plain, got)
		}

		if got := mapKeyToASCII(ModShift, false, c.code); got != c.shift {
			t.Fatalf("code %d shifted: expected %q, got %q", c.code, c.shift, got)
		}
	}
}

func TestIsPressOrRepeat(t *testing.T) {
	if IsPressOrRepeat(0) {
		t.Fatal("release (0) should not be press-or-repeat")
	}

	if !IsPressOrRepeat(1) || !IsPressOrRepeat(2) {
		t.Fatal("press (1) and repeat (2) should both be press-or-repeat")
	}
}
