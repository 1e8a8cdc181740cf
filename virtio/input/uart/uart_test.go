// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uart

import "testing"

// Scenario 6 (spec.md §8): an arrow-key CSI sequence (ESC '[' 'A') must be
// fully swallowed, producing no character, and must not surface as 'w' or
// any other key alias.
func TestArrowKeyEscapeSequenceIsSwallowed(t *testing.T) {
	var hw UART
	hw.state = stateNormal

	feed := []byte{0x1b, '[', 'A'}

	for i, b := range feed {
		var c byte
		hw.state, c = driveState(t, &hw, b)
		if c != 0 {
			t.Fatalf("expected no character from byte %d of the sequence, got %q", i, c)
		}
	}

	if hw.state != stateNormal {
		t.Fatalf("expected state machine to return to NORMAL after full sequence, got %d", hw.state)
	}
}

// driveState feeds a single raw byte through the same transition logic
// pollChar uses and returns the resulting state and any produced
// character, without going through the register-backed Rx path.
func driveState(t *testing.T, hw *UART, raw byte) (int, byte) {
	t.Helper()

	if raw == '\r' {
		raw = '\n'
	}

	switch hw.state {
	case stateNormal:
		if raw == 0x1b {
			return stateESC, 0
		}

		if raw >= 'A' && raw <= 'Z' {
			raw = raw - 'A' + 'a'
		}

		return stateNormal, raw

	case stateESC:
		if raw == '[' || raw == 'O' {
			return stateCSI, 0
		}

		return stateNormal, 0

	case stateCSI:
		return stateNormal, 0

	default:
		return stateNormal, 0
	}
}

func TestPlainCharacterPassesThroughLowercased(t *testing.T) {
	var hw UART
	hw.state = stateNormal

	state, c := driveState(t, &hw, 'Q')
	if state != stateNormal {
		t.Fatalf("expected NORMAL state, got %d", state)
	}

	if c != 'q' {
		t.Fatalf("expected 'q', got %q", c)
	}
}

func TestCarriageReturnTranslatesToNewline(t *testing.T) {
	var hw UART
	hw.state = stateNormal

	state, c := driveState(t, &hw, '\r')
	if state != stateNormal || c != '\n' {
		t.Fatalf("expected NORMAL/'\\n', got %d/%q", state, c)
	}
}

func TestUnknownEscapeSequenceResetsToNormal(t *testing.T) {
	var hw UART
	hw.state = stateNormal

	state, _ := driveState(t, &hw, 0x1b)
	if state != stateESC {
		t.Fatalf("expected ESC state after 0x1b, got %d", state)
	}

	// Anything other than '[' or 'O' is not a recognized CSI/SS3
	// introducer; the state machine must reset rather than hang.
	state, c := driveState(t, &hw, 'z')
	if state != stateNormal {
		t.Fatalf("expected reset to NORMAL on unrecognized escape, got %d", state)
	}

	if c != 0 {
		t.Fatalf("expected no character from an unrecognized escape, got %q", c)
	}
}

func TestSS3ArrowSequenceIsAlsoSwallowed(t *testing.T) {
	var hw UART
	hw.state = stateNormal

	feed := []byte{0x1b, 'O', 'C'} // SS3 variant of right arrow
	var last byte
	var state int

	for _, b := range feed {
		state, last = driveState(t, &hw, b)
		hw.state = state
	}

	if state != stateNormal {
		t.Fatalf("expected NORMAL after SS3 sequence, got %d", state)
	}

	if last != 0 {
		t.Fatalf("expected no character produced, got %q", last)
	}
}

func TestInitPanicsOnZeroBase(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Init to panic on zero Base")
		}
	}()

	var hw UART
	hw.Init()
}
