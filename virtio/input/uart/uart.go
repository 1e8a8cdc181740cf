// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package uart implements the legacy UART keyboard fallback: a 16550-style
// byte-addressed serial port polled a character at a time, with a small
// escape-sequence state machine that swallows arrow-key CSI sequences
// instead of aliasing them to some other key (SPEC_FULL.md §5.5.1).
//
// Grounded on original_source/source/platform.c's uart_poll_keyboard_legacy
// and the teacher's soc/sifive/uart driver shape (register offsets computed
// once in Init, byte-at-a-time Tx/Rx), adapted from SiFive's 32-bit
// txdata/rxdata registers to the 16550 THR/RHR/LSR byte layout QEMU's
// `virt` machine exposes at UART0.
package uart

import (
	"github.com/riscv-virt/kernel/internal/reg"
	"github.com/riscv-virt/kernel/virtio/input"
)

// UART0 registers (original_source/source/platform.c).
const (
	rhr = 0x00 // receive holding register (read)
	thr = 0x00 // transmit holding register (write)
	lsr = 0x05 // line status register

	lsrDataReady = 1 << 0
	lsrThrEmpty  = 1 << 5
)

// keyboard escape-sequence states.
const (
	stateNormal = iota
	stateESC
	stateCSI
)

// UART represents the legacy serial port instance.
type UART struct {
	// Base is the UART0 MMIO base address.
	Base uint32

	rhr uint32
	thr uint32
	lsr uint32

	state int
}

// Init computes the register addresses for the configured base.
func (hw *UART) Init() {
	if hw.Base == 0 {
		panic("invalid UART controller instance")
	}

	hw.rhr = hw.Base + rhr
	hw.thr = hw.Base + thr
	hw.lsr = hw.Base + lsr

	hw.state = stateNormal
}

func (hw *UART) txFull() bool {
	return reg.Read8(uintptr(hw.lsr))&lsrThrEmpty == 0
}

// Tx transmits a single character to the serial port.
func (hw *UART) Tx(c byte) {
	for hw.txFull() {
		// wait for THR to drain
	}

	reg.Write8(uintptr(hw.thr), c)
}

// Rx receives a single character from the serial port, non-blocking.
func (hw *UART) Rx() (c byte, valid bool) {
	if reg.Read8(uintptr(hw.lsr))&lsrDataReady == 0 {
		return 0, false
	}

	return reg.Read8(uintptr(hw.rhr)), true
}

// Write transmits every byte of buf to the serial port.
func (hw *UART) Write(buf []byte) (n int, _ error) {
	for n = 0; n < len(buf); n++ {
		hw.Tx(buf[n])
	}

	return
}

// pollChar drives the NORMAL/ESC/CSI state machine over a single
// non-blocking read, translating \r to \n and A-Z to lowercase, and
// swallowing arrow-key CSI/SS3 sequences without aliasing them to any
// other character. It returns ok=false when there is nothing to report,
// whether because no byte was pending or the byte read was consumed as
// part of an in-progress (or just-completed) escape sequence.
func (hw *UART) pollChar() (c byte, ok bool) {
	raw, valid := hw.Rx()
	if !valid {
		return 0, false
	}

	if raw == '\r' {
		raw = '\n'
	}

	switch hw.state {
	case stateNormal:
		if raw == 0x1b {
			hw.state = stateESC
			return 0, false
		}

		if raw >= 'A' && raw <= 'Z' {
			raw = raw - 'A' + 'a'
		}

		return raw, true

	case stateESC:
		if raw == '[' || raw == 'O' {
			hw.state = stateCSI
		} else {
			hw.state = stateNormal
		}

		return 0, false

	case stateCSI:
		hw.state = stateNormal

		// Up/Down/Right/Left (and anything else following CSI) are
		// swallowed, never aliased to another key.
		return 0, false

	default:
		hw.state = stateNormal
		return 0, false
	}
}

// PollEvent mirrors virtio/input.Device.PollEvent's surface, so a caller
// can fall back from virtio-input to this driver transparently. Modifier
// tracking is not available from a plain serial stream, so Modifiers is
// always 0 and every reported character is a synthetic press.
func (hw *UART) PollEvent() (input.Event, bool) {
	c, ok := hw.pollChar()
	if !ok {
		return input.Event{}, false
	}

	return input.Event{
		Type:  0x01,
		Value: 1,
		ASCII: c,
	}, true
}
