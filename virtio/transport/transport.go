// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package transport implements device discovery, the status/feature
// handshake and queue registration for virtio-mmio devices, in both the
// legacy (v1, single QUEUE_PFN register) and modern (v2, split
// low/high address registers) forms (SPEC_FULL.md §5.3).
//
// It is grounded on the teacher's kvm/virtio/mmio.go for the modern (v2)
// register layout and status/feature handshake shape, generalized from
// ARM's 32-bit Base+offset register file to this kernel's uintptr-based
// one. No example repo implements virtio-mmio legacy (the teacher's
// legacy.go is PCI legacy, an entirely different register set), so the
// v1 single-PFN path is grounded directly on
// original_source/source/virtio_mmio.c's virtio_mmio_init/virtq_init
// legacy branch.
package transport

import (
	"errors"

	"github.com/riscv-virt/kernel/bits"
	"github.com/riscv-virt/kernel/internal/reg"
	"github.com/riscv-virt/kernel/virtio/queue"
)

// Register offsets, common to legacy and modern virtio-mmio (spec.md §4.1).
const (
	regMagic             = 0x000
	regVersion           = 0x004
	regDeviceID          = 0x008
	regVendorID          = 0x00c
	regDeviceFeatures    = 0x010
	regDeviceFeaturesSel = 0x014
	regDriverFeatures    = 0x020
	regDriverFeaturesSel = 0x024
	regQueueSel          = 0x030
	regQueueNumMax       = 0x034
	regQueueNum          = 0x038
	regQueueReady        = 0x044
	regQueueNotify       = 0x050
	regInterruptStatus   = 0x060
	regInterruptACK      = 0x064
	regStatus            = 0x070
)

// Modern (v2) queue address registers.
const (
	regQueueDescLow    = 0x080
	regQueueDescHigh   = 0x084
	regQueueDriverLow  = 0x090
	regQueueDriverHigh = 0x094
	regQueueDeviceLow  = 0x0a0
	regQueueDeviceHigh = 0x0a4
)

// Legacy (v1) registers.
const (
	regGuestPageSize = 0x028
	regQueueAlign    = 0x03c
	regQueuePFN      = 0x040
)

const regConfig = 0x100

// Magic is the virtio-mmio magic value ("virt" in little-endian ASCII).
const Magic = 0x74726976

// Status bits (spec.md §4.1).
const (
	StatusAcknowledge = 1
	StatusDriver      = 2
	StatusDriverOK    = 4
	StatusFeaturesOK  = 8
	StatusFailed      = 128
)

// FeatureVersion1 (VIRTIO_F_VERSION_1) signals a modern (non-legacy)
// device; it is bit 32 of the 64-bit feature bitmap.
const FeatureVersion1 = 1 << 32

// discoveryBase, discoveryStride and discoverySlots describe the fixed
// MMIO scan window a "virt" machine exposes its virtio-mmio devices
// through (spec.md §4.1).
const (
	discoveryBase   = 0x10001000
	discoveryStride = 0x1000
	discoverySlots  = 32
)

// Device is a discovered, not-yet-initialized virtio-mmio device.
type Device struct {
	Base     uintptr
	Version  uint32
	DeviceID uint32

	features uint64
}

// Discover scans the fixed virtio-mmio window for a device whose
// DeviceID register matches id, returning the first match.
func Discover(id uint32) (*Device, error) {
	for i := 0; i < discoverySlots; i++ {
		base := uintptr(discoveryBase + i*discoveryStride)

		if reg.Read(base+regMagic) != Magic {
			continue
		}

		if reg.Read(base+regDeviceID) != id {
			continue
		}

		return &Device{
			Base:     base,
			Version:  reg.Read(base + regVersion),
			DeviceID: id,
		}, nil
	}

	return nil, errors.New("transport: no matching virtio-mmio device found")
}

// Legacy reports whether this device uses the legacy (v1) register
// layout, in which queue memory is a single contiguous, page-aligned
// region addressed by one PFN register.
func (d *Device) Legacy() bool {
	return d.Version < 2
}

// Reset clears the device status register, returning it to its initial
// (unacknowledged) state.
func (d *Device) Reset() {
	reg.Write(d.Base+regStatus, 0)
	reg.Fence()
}

// Acknowledge begins the device initialization handshake: ACKNOWLEDGE
// then DRIVER (spec.md §4.1).
func (d *Device) Acknowledge() {
	var status uint32
	bits.SetMask(&status, StatusAcknowledge, true)
	reg.Write(d.Base+regStatus, status)

	bits.SetMask(&status, StatusDriver, true)
	reg.Write(d.Base+regStatus, status)
	reg.Fence()
}

func (d *Device) deviceFeatures() (features uint64) {
	for i := uint32(0); i <= 1; i++ {
		reg.Write(d.Base+regDeviceFeaturesSel, i)
		reg.Fence()
		features |= uint64(reg.Read(d.Base+regDeviceFeatures)) << (i * 32)
	}

	return
}

func (d *Device) setDriverFeatures(features uint64) {
	for i := uint32(0); i <= 1; i++ {
		reg.Write(d.Base+regDriverFeaturesSel, i)
		reg.Write(d.Base+regDriverFeatures, uint32(features>>(i*32)))
		reg.Fence()
	}
}

// NegotiateFeatures intersects wanted against the device's advertised
// feature bitmap, writes the result back, sets FEATURES_OK, and
// confirms the device accepted it. It returns the accepted feature set.
func (d *Device) NegotiateFeatures(wanted uint64) (uint64, error) {
	accepted := d.deviceFeatures() & wanted

	d.setDriverFeatures(accepted)

	status := reg.Read(d.Base + regStatus)
	bits.SetMask(&status, StatusFeaturesOK, true)
	reg.Write(d.Base+regStatus, status)
	reg.Fence()

	status = reg.Read(d.Base + regStatus)
	if status&StatusFeaturesOK == 0 {
		bits.SetMask(&status, StatusFailed, true)
		reg.Write(d.Base+regStatus, status)
		return 0, errors.New("transport: device rejected feature set")
	}

	d.features = accepted

	return accepted, nil
}

// Features returns the feature bitmap last accepted by NegotiateFeatures.
func (d *Device) Features() uint64 {
	return d.features
}

// MaxQueueSize returns the device-advertised maximum size for the queue
// at index.
func (d *Device) MaxQueueSize(index int) int {
	reg.Write(d.Base+regQueueSel, uint32(index))
	reg.Fence()
	return int(reg.Read(d.Base + regQueueNumMax))
}

// ClampQueueSize rounds requested down to the nearest power of two and
// clamps it to both the device's advertised maximum and this kernel's
// own hard ceiling of 64 descriptors (spec.md §3).
func (d *Device) ClampQueueSize(index int, requested int) int {
	max := d.MaxQueueSize(index)

	n := requested
	if n > max {
		n = max
	}

	if n > 64 {
		n = 64
	}

	p := 1
	for p*2 <= n {
		p *= 2
	}

	return p
}

// SetupQueue registers q as the virtqueue for the given index, writing
// the legacy single-PFN register or the modern split address registers
// depending on the device's negotiated version.
func (d *Device) SetupQueue(index int, q *queue.Queue) {
	reg.Write(d.Base+regQueueSel, uint32(index))
	reg.Fence()

	reg.Write(d.Base+regQueueNum, uint32(q.Size()))
	reg.Fence()

	if d.Legacy() {
		reg.Write(d.Base+regGuestPageSize, legacyPageSize)
		reg.Write(d.Base+regQueueAlign, legacyPageSize)
		reg.Fence()

		reg.Write(d.Base+regQueuePFN, q.PFN())
		reg.Fence()

		return
	}

	desc, avail, used := q.Address()

	writeSplit(d.Base+regQueueDescLow, uint64(desc))
	writeSplit(d.Base+regQueueDriverLow, uint64(avail))
	writeSplit(d.Base+regQueueDeviceLow, uint64(used))

	reg.Write(d.Base+regQueueReady, 1)
	reg.Fence()
}

const legacyPageSize = 4096

func writeSplit(lowAddr uintptr, v uint64) {
	reg.Write(lowAddr, uint32(v))
	reg.Write(lowAddr+4, uint32(v>>32))
}

// SetDriverOK sets the DRIVER_OK status bit, signalling that the driver
// considers the device live.
func (d *Device) SetDriverOK() {
	status := reg.Read(d.Base + regStatus)
	bits.SetMask(&status, StatusDriverOK, true)
	reg.Write(d.Base+regStatus, status)
	reg.Fence()
}

// Notify informs the device that the queue at index has new available
// buffers.
func (d *Device) Notify(index int) {
	reg.Write(d.Base+regQueueNotify, uint32(index))
	reg.Fence()
}

// Status returns the raw device status register.
func (d *Device) Status() uint32 {
	return reg.Read(d.Base + regStatus)
}

// Config returns a byte slice view over the device-specific
// configuration space starting at offset regConfig.
func (d *Device) Config(size int) []byte {
	buf := make([]byte, size)

	for i := 0; i < size; i++ {
		buf[i] = byte(reg.Read(d.Base+regConfig+uintptr(i&^3)) >> ((i & 3) * 8))
	}

	return buf
}
