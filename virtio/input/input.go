// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package input implements a virtio-input keyboard driver: event-queue
// setup with pre-posted, write-only buffers that are immediately
// resubmitted after each read, modifier and caps-lock tracking, and a
// Linux-keycode-to-ASCII mapping (SPEC_FULL.md §5.5).
//
// Grounded on original_source/source/virtio_input.c (no example repo
// implements virtio-input), reusing virtio/queue and virtio/transport
// for the ring/handshake mechanics those packages already provide.
package input

import (
	"encoding/binary"
	"errors"

	"github.com/riscv-virt/kernel/bits"
	"github.com/riscv-virt/kernel/virtio/queue"
	"github.com/riscv-virt/kernel/virtio/transport"
)

// DeviceID is the virtio subsystem device ID for an input device.
const DeviceID = 18

// Linux input event types.
const (
	evSyn = 0x00
	evKey = 0x01
)

// Linux input keycodes this driver recognizes (spec.md §6).
const (
	KeyESC        = 1
	Key1          = 2
	Key2          = 3
	Key3          = 4
	Key4          = 5
	Key5          = 6
	Key6          = 7
	Key7          = 8
	Key8          = 9
	Key9          = 10
	Key0          = 11
	KeyMinus      = 12
	KeyEqual      = 13
	KeyBackspace  = 14
	KeyTab        = 15
	KeyQ          = 16
	KeyW          = 17
	KeyE          = 18
	KeyR          = 19
	KeyT          = 20
	KeyY          = 21
	KeyU          = 22
	KeyI          = 23
	KeyO          = 24
	KeyP          = 25
	KeyLeftBrace  = 26
	KeyRightBrace = 27
	KeyEnter      = 28
	KeyLeftCtrl   = 29
	KeyA          = 30
	KeyS          = 31
	KeyD          = 32
	KeyF          = 33
	KeyG          = 34
	KeyH          = 35
	KeyJ          = 36
	KeyK          = 37
	KeyL          = 38
	KeySemicolon  = 39
	KeyApostrophe = 40
	KeyGrave      = 41
	KeyLeftShift  = 42
	KeyBackslash  = 43
	KeyZ          = 44
	KeyX          = 45
	KeyC          = 46
	KeyV          = 47
	KeyB          = 48
	KeyN          = 49
	KeyM          = 50
	KeyComma      = 51
	KeyDot        = 52
	KeySlash      = 53
	KeyRightShift = 54
	KeyLeftAlt    = 56
	KeySpace      = 57
	KeyCapsLock   = 58
	KeyRightCtrl  = 97
	KeyRightAlt   = 100
	KeyLeft       = 105
	KeyRight      = 106
	KeyDown       = 108
	KeyUp         = 103
	KeyLeftMeta   = 125
	KeyRightMeta  = 126
)

// Modifier bits (spec.md §6).
const (
	ModShift = 1 << 0
	ModCtrl  = 1 << 1
	ModAlt   = 1 << 2
	ModMeta  = 1 << 3
)

// eventSize is the wire size of a Linux input_event this driver cares
// about: {u16 type, u16 code, u32 value}.
const eventSize = 8

// IsPressOrRepeat reports whether a key event's value field indicates
// the key went down (1) or is auto-repeating (2), as opposed to being
// released (0).
func IsPressOrRepeat(value uint32) bool {
	return value == 1 || value == 2
}

// Event is a decoded keyboard event, enriched with the modifier state
// active at the time it was read and (for presses/repeats) its ASCII
// translation.
type Event struct {
	Type      uint16
	Code      uint16
	Value     int32
	Modifiers uint32
	ASCII     byte
}

type modifierState struct {
	modifiers uint32
	capsLock  bool
}

func (m *modifierState) update(code uint16, value uint32) {
	pressed := IsPressOrRepeat(value)

	switch code {
	case KeyLeftShift, KeyRightShift:
		bits.SetMask(&m.modifiers, ModShift, pressed)
	case KeyLeftCtrl, KeyRightCtrl:
		bits.SetMask(&m.modifiers, ModCtrl, pressed)
	case KeyLeftAlt, KeyRightAlt:
		bits.SetMask(&m.modifiers, ModAlt, pressed)
	case KeyLeftMeta, KeyRightMeta:
		bits.SetMask(&m.modifiers, ModMeta, pressed)
	}

	if code == KeyCapsLock && value == 1 {
		m.capsLock = !m.capsLock
	}
}

func letterForKeycode(code uint16) byte {
	switch code {
	case KeyA:
		return 'a'
	case KeyB:
		return 'b'
	case KeyC:
		return 'c'
	case KeyD:
		return 'd'
	case KeyE:
		return 'e'
	case KeyF:
		return 'f'
	case KeyG:
		return 'g'
	case KeyH:
		return 'h'
	case KeyI:
		return 'i'
	case KeyJ:
		return 'j'
	case KeyK:
		return 'k'
	case KeyL:
		return 'l'
	case KeyM:
		return 'm'
	case KeyN:
		return 'n'
	case KeyO:
		return 'o'
	case KeyP:
		return 'p'
	case KeyQ:
		return 'q'
	case KeyR:
		return 'r'
	case KeyS:
		return 's'
	case KeyT:
		return 't'
	case KeyU:
		return 'u'
	case KeyV:
		return 'v'
	case KeyW:
		return 'w'
	case KeyX:
		return 'x'
	case KeyY:
		return 'y'
	case KeyZ:
		return 'z'
	default:
		return 0
	}
}

// mapKeyToASCII translates a Linux keycode to its ASCII value, given
// the current shift and caps-lock state. It returns 0 for keys with no
// ASCII representation (arrows, function keys, modifiers themselves).
func mapKeyToASCII(modifiers uint32, capsLock bool, code uint16) byte {
	shift := modifiers&ModShift != 0

	switch code {
	case KeyEnter:
		return '\n'
	case KeyTab:
		return '\t'
	case KeySpace:
		return ' '
	case KeyBackspace:
		return '\b'
	case KeyESC:
		return 0x1b
	}

	if base := letterForKeycode(code); base != 0 {
		if shift != capsLock {
			return base - 'a' + 'A'
		}

		return base
	}

	switch code {
	case Key1:
		return pick(shift, '!', '1')
	case Key2:
		return pick(shift, '@', '2')
	case Key3:
		return pick(shift, '#', '3')
	case Key4:
		return pick(shift, '$', '4')
	case Key5:
		return pick(shift, '%', '5')
	case Key6:
		return pick(shift, '^', '6')
	case Key7:
		return pick(shift, '&', '7')
	case Key8:
		return pick(shift, '*', '8')
	case Key9:
		return pick(shift, '(', '9')
	case Key0:
		return pick(shift, ')', '0')
	case KeyMinus:
		return pick(shift, '_', '-')
	case KeyEqual:
		return pick(shift, '+', '=')
	case KeyLeftBrace:
		return pick(shift, '{', '[')
	case KeyRightBrace:
		return pick(shift, '}', ']')
	case KeyBackslash:
		return pick(shift, '|', '\\')
	case KeySemicolon:
		return pick(shift, ':', ';')
	case KeyApostrophe:
		return pick(shift, '"', '\'')
	case KeyGrave:
		return pick(shift, '~', '`')
	case KeyComma:
		return pick(shift, '<', ',')
	case KeyDot:
		return pick(shift, '>', '.')
	case KeySlash:
		return pick(shift, '?', '/')
	default:
		return 0
	}
}

func pick(shift bool, upper, lower byte) byte {
	if shift {
		return upper
	}

	return lower
}

// Allocator is the subset of mem.Region this driver needs.
type Allocator interface {
	AllocateAlignedBytes(size, align int) (addr uintptr, buf []byte)
}

// Device is a virtio-input keyboard driver with a pre-posted, write-only
// event buffer per descriptor.
type Device struct {
	transport *transport.Device
	queue     *queue.Queue

	events     []byte
	eventsAddr uintptr

	mods modifierState
}

// New discovers and initializes a virtio-input keyboard device: no
// features are requested, the event queue is sized to the device
// maximum (capped at 64), and one write-only buffer is posted per
// descriptor before DRIVER_OK is set.
func New(mem Allocator) (*Device, error) {
	t, err := transport.Discover(DeviceID)
	if err != nil {
		return nil, err
	}

	t.Reset()
	t.Acknowledge()

	if _, err := t.NegotiateFeatures(0); err != nil {
		return nil, err
	}

	size := t.ClampQueueSize(0, 64)

	total, _, _ := queue.Layout(size, t.Legacy())
	qBase, qBuf := mem.AllocateAlignedBytes(total, 4096)

	q, err := queue.New(qBuf, qBase, size, t.Legacy())
	if err != nil {
		return nil, err
	}

	t.SetupQueue(0, q)

	eventsAddr, events := mem.AllocateAlignedBytes(size*eventSize, 8)

	d := &Device{
		transport:  t,
		queue:      q,
		events:     events,
		eventsAddr: eventsAddr,
	}

	for i := 0; i < size; i++ {
		if !d.postBuffer(uint16(i)) {
			return nil, errors.New("input: failed to post initial event buffers")
		}
	}

	t.Notify(0)
	t.SetDriverOK()

	return d, nil
}

func (d *Device) postBuffer(slot uint16) bool {
	head, ok := d.queue.AllocChain(1)
	if !ok {
		return false
	}

	addr := uint64(d.eventsAddr) + uint64(slot)*eventSize
	d.queue.SetBuffer(head, addr, eventSize, true)
	d.queue.Submit(head)

	return true
}

// PollEvent drains the used ring until it finds a meaningful EV_KEY
// event, resubmitting every buffer (including EV_SYN and uninteresting
// events) as it goes, until the ring has nothing more to offer, or until
// it has read eight entries without finding one.
func (d *Device) PollEvent() (Event, bool) {
	for attempts := 0; attempts < 8; attempts++ {
		id, ok := d.queue.PollUsed()
		if !ok {
			return Event{}, false
		}

		off := int(id) * eventSize

		typ := binary.LittleEndian.Uint16(d.events[off:])
		code := binary.LittleEndian.Uint16(d.events[off+2:])
		value := binary.LittleEndian.Uint32(d.events[off+4:])

		d.queue.Submit(id)
		d.transport.Notify(0)

		if typ == evSyn || typ != evKey {
			continue
		}

		d.mods.update(code, value)

		ev := Event{
			Type:      typ,
			Code:      code,
			Value:     int32(value),
			Modifiers: d.mods.modifiers,
		}

		if IsPressOrRepeat(value) {
			ev.ASCII = mapKeyToASCII(d.mods.modifiers, d.mods.capsLock, code)
		}

		return ev, true
	}

	return Event{}, false
}
