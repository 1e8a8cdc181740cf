// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gpu implements the virtio-gpu 2D control-queue protocol: device
// discovery and setup, and the five commands a single-scanout
// framebuffer driver needs (GET_DISPLAY_INFO, RESOURCE_CREATE_2D,
// RESOURCE_ATTACH_BACKING, SET_SCANOUT, TRANSFER_TO_HOST_2D followed by
// RESOURCE_FLUSH) (SPEC_FULL.md §5).
//
// Wire structs are marshaled field-by-field with encoding/binary, the
// same convention the teacher's kvm/virtio/descriptor.go uses for
// Descriptor/Available/Used, so that struct padding never leaks into
// the on-wire byte layout (SPEC_FULL.md §9). The command and response
// struct shapes themselves are grounded on
// original_source/source/virtio_gpu.c/.h, since no repo in the example
// pack implements virtio-gpu.
package gpu

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/riscv-virt/kernel/riscv64"
	"github.com/riscv-virt/kernel/virtio/queue"
	"github.com/riscv-virt/kernel/virtio/transport"
)

// DeviceID is the virtio subsystem device ID for a GPU device.
const DeviceID = 16

// Control queue commands (SPEC_FULL.md §5).
const (
	cmdGetDisplayInfo        = 0x0100
	cmdResourceCreate2D      = 0x0101
	cmdSetScanout            = 0x0103
	cmdResourceFlush         = 0x0104
	cmdTransferToHost2D      = 0x0105
	cmdResourceAttachBacking = 0x0106
)

const (
	respOKNodata      = 0x1100
	respOKDisplayInfo = 0x1101
)

const formatB8G8R8X8Unorm = 2

const maxScanouts = 16

// BytesPerPixel is the pixel size of the single format this driver uses.
const BytesPerPixel = 4

const headerSize = 24

type rect struct {
	X, Y, W, H uint32
}

func (r rect) encode(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, r.X)
	binary.Write(buf, binary.LittleEndian, r.Y)
	binary.Write(buf, binary.LittleEndian, r.W)
	binary.Write(buf, binary.LittleEndian, r.H)
}

func decodeRect(b []byte) rect {
	return rect{
		X: binary.LittleEndian.Uint32(b[0:]),
		Y: binary.LittleEndian.Uint32(b[4:]),
		W: binary.LittleEndian.Uint32(b[8:]),
		H: binary.LittleEndian.Uint32(b[12:]),
	}
}

func newHeader(cmdType uint32) *bytes.Buffer {
	buf := new(bytes.Buffer)

	binary.Write(buf, binary.LittleEndian, cmdType)   // type
	binary.Write(buf, binary.LittleEndian, uint32(0)) // flags
	binary.Write(buf, binary.LittleEndian, uint64(0)) // fence_id
	binary.Write(buf, binary.LittleEndian, uint32(0)) // context_id
	binary.Write(buf, binary.LittleEndian, uint32(0)) // padding

	return buf
}

func headerType(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[0:])
}

const responseDisplayInfoSize = headerSize + maxScanouts*(16+4+4)

func encodeGetDisplayInfo() []byte {
	return newHeader(cmdGetDisplayInfo).Bytes()
}

// decodeDisplayInfo reads scanout 0 out of a GET_DISPLAY_INFO response.
func decodeDisplayInfo(b []byte) (respType uint32, enabled bool, width, height uint32) {
	respType = headerType(b)

	off := headerSize
	r := decodeRect(b[off:])
	enabledVal := binary.LittleEndian.Uint32(b[off+16:])

	return respType, enabledVal != 0, r.W, r.H
}

func encodeCreateResource2D(resourceID, width, height uint32) []byte {
	buf := newHeader(cmdResourceCreate2D)

	binary.Write(buf, binary.LittleEndian, resourceID)
	binary.Write(buf, binary.LittleEndian, uint32(formatB8G8R8X8Unorm))
	binary.Write(buf, binary.LittleEndian, width)
	binary.Write(buf, binary.LittleEndian, height)

	return buf.Bytes()
}

func encodeAttachBacking(resourceID uint32, addr uint64, length uint32) []byte {
	buf := newHeader(cmdResourceAttachBacking)

	binary.Write(buf, binary.LittleEndian, resourceID)
	binary.Write(buf, binary.LittleEndian, uint32(1)) // entry_count

	binary.Write(buf, binary.LittleEndian, addr)
	binary.Write(buf, binary.LittleEndian, length)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // padding

	return buf.Bytes()
}

func encodeSetScanout(resourceID, width, height uint32) []byte {
	buf := newHeader(cmdSetScanout)

	rect{0, 0, width, height}.encode(buf)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // scanout_id
	binary.Write(buf, binary.LittleEndian, resourceID)

	return buf.Bytes()
}

func encodeTransferToHost2D(resourceID uint32, r rect, offset uint64) []byte {
	buf := newHeader(cmdTransferToHost2D)

	r.encode(buf)
	binary.Write(buf, binary.LittleEndian, offset)
	binary.Write(buf, binary.LittleEndian, resourceID)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // padding

	return buf.Bytes()
}

func encodeResourceFlush(resourceID uint32, r rect) []byte {
	buf := newHeader(cmdResourceFlush)

	r.encode(buf)
	binary.Write(buf, binary.LittleEndian, resourceID)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // padding

	return buf.Bytes()
}

// scratchSize is large enough to hold the biggest request or response
// this driver ever exchanges (GET_DISPLAY_INFO's response).
const scratchSize = responseDisplayInfoSize

// maxPollSpins bounds how long Device.sendCmd busy-polls the used ring
// before giving up, mirroring the original driver's spin-count timeout.
const maxPollSpins = 10_000_000

// maxPollCycles additionally bounds the same wait by elapsed `time` CSR
// ticks rather than raw loop iterations, so the timeout tracks actual
// round-trip latency instead of how expensive one spin of the loop body
// happens to be. 50M ticks is a generous upper bound for a single
// control-queue command at any plausible QEMU `virt` timebase.
const maxPollCycles = 50_000_000

// Allocator is the subset of mem.Region a Device needs: DMA-visible,
// aligned, never-freed allocation.
type Allocator interface {
	AllocateAlignedBytes(size, align int) (addr uintptr, buf []byte)
}

// Device is a virtio-gpu 2D driver bound to a single scanout.
type Device struct {
	transport *transport.Device
	queue     *queue.Queue

	reqAddr  uint64
	reqBuf   []byte
	respAddr uint64
	respBuf  []byte

	resourceID uint32

	width, height, stride uint32
	framebuffer           []byte
	framebufferAddr       uint64
}

// New discovers and fully initializes a virtio-gpu device: the mmio
// handshake, the control queue, GET_DISPLAY_INFO, resource creation,
// backing attachment and scanout assignment, finishing with one full-
// screen flush so the display starts in a known (cleared) state.
//
// It fails when scanout 0 is reported disabled.
func New(mem Allocator) (*Device, error) {
	t, err := transport.Discover(DeviceID)
	if err != nil {
		return nil, err
	}

	t.Reset()
	t.Acknowledge()

	if _, err := t.NegotiateFeatures(transport.FeatureVersion1); err != nil {
		return nil, err
	}

	size := t.ClampQueueSize(0, 16)

	total, _, _ := queue.Layout(size, t.Legacy())
	qBase, qBuf := mem.AllocateAlignedBytes(total, 4096)
	if qBase == 0 {
		return nil, errors.New("gpu: failed to allocate control queue memory")
	}

	q, err := queue.New(qBuf, qBase, size, t.Legacy())
	if err != nil {
		return nil, err
	}

	t.SetupQueue(0, q)
	t.SetDriverOK()

	reqAddr, reqBuf := mem.AllocateAlignedBytes(scratchSize, 16)
	respAddr, respBuf := mem.AllocateAlignedBytes(scratchSize, 16)
	if reqAddr == 0 || respAddr == 0 {
		return nil, errors.New("gpu: failed to allocate command scratch buffers")
	}

	d := &Device{
		transport:  t,
		queue:      q,
		reqAddr:    uint64(reqAddr),
		reqBuf:     reqBuf,
		respAddr:   uint64(respAddr),
		respBuf:    respBuf,
		resourceID: 1,
	}

	width, height, err := d.getDisplayInfo()
	if err != nil {
		return nil, err
	}

	d.width = width
	d.height = height
	d.stride = width * BytesPerPixel

	fbAddr, fb := mem.AllocateAlignedBytes(int(d.stride*d.height), 4096)
	if fbAddr == 0 {
		return nil, errors.New("gpu: failed to allocate framebuffer")
	}

	d.framebuffer = fb
	d.framebufferAddr = uint64(fbAddr)

	if err := d.createResource2D(); err != nil {
		return nil, err
	}

	if err := d.attachBacking(); err != nil {
		return nil, err
	}

	if err := d.setScanout(); err != nil {
		return nil, err
	}

	d.Flush(0, 0, d.width, d.height)

	return d, nil
}

// sendCmd allocates a two-descriptor chain, writes req into the driver-
// owned scratch buffer and hands a respLen-byte response buffer to the
// device, submits, notifies, then polls until the device publishes the
// chain on the used ring, maxPollSpins is exceeded or more than
// maxPollCycles `time` ticks have elapsed.
func (d *Device) sendCmd(req []byte, respLen int) ([]byte, error) {
	head, ok := d.queue.AllocChain(2)
	if !ok {
		return nil, errors.New("gpu: control queue exhausted")
	}

	_, _, _, next := d.queue.Descriptor(head)

	copy(d.reqBuf, req)
	d.queue.SetBuffer(head, d.reqAddr, uint32(len(req)), false)
	d.queue.SetBuffer(next, d.respAddr, uint32(respLen), true)

	d.queue.Submit(head)
	d.transport.Notify(0)

	start := riscv64.ReadTime()

	for spin := 0; ; spin++ {
		if _, ok := d.queue.PollUsed(); ok {
			break
		}

		if spin == maxPollSpins || riscv64.ReadTime()-start > maxPollCycles {
			d.queue.FreeChain(head)
			return nil, errors.New("gpu: control queue command timed out")
		}
	}

	resp := make([]byte, respLen)
	copy(resp, d.respBuf[:respLen])

	d.queue.FreeChain(head)

	return resp, nil
}

func (d *Device) getDisplayInfo() (width, height uint32, err error) {
	resp, err := d.sendCmd(encodeGetDisplayInfo(), responseDisplayInfoSize)
	if err != nil {
		return 0, 0, err
	}

	respType, enabled, w, h := decodeDisplayInfo(resp)
	if respType != respOKDisplayInfo {
		return 0, 0, errors.New("gpu: unexpected GET_DISPLAY_INFO response")
	}

	if !enabled {
		return 0, 0, errors.New("gpu: scanout 0 is disabled")
	}

	return w, h, nil
}

func (d *Device) createResource2D() error {
	resp, err := d.sendCmd(encodeCreateResource2D(d.resourceID, d.width, d.height), headerSize)
	if err != nil {
		return err
	}

	if headerType(resp) != respOKNodata {
		return errors.New("gpu: RESOURCE_CREATE_2D failed")
	}

	return nil
}

func (d *Device) attachBacking() error {
	resp, err := d.sendCmd(encodeAttachBacking(d.resourceID, d.framebufferAddr, uint32(len(d.framebuffer))), headerSize)
	if err != nil {
		return err
	}

	if headerType(resp) != respOKNodata {
		return errors.New("gpu: RESOURCE_ATTACH_BACKING failed")
	}

	return nil
}

func (d *Device) setScanout() error {
	resp, err := d.sendCmd(encodeSetScanout(d.resourceID, d.width, d.height), headerSize)
	if err != nil {
		return err
	}

	if headerType(resp) != respOKNodata {
		return errors.New("gpu: SET_SCANOUT failed")
	}

	return nil
}

// Size returns the scanout's pixel dimensions.
func (d *Device) Size() (width, height uint32) {
	return d.width, d.height
}

// Framebuffer returns the driver's B8G8R8X8 framebuffer, stride bytes
// per row. Callers write pixel data directly into it and call Flush to
// make their writes visible to the device.
func (d *Device) Framebuffer() (buf []byte, stride uint32) {
	return d.framebuffer, d.stride
}

// Flush clips {x,y,w,h} to the scanout bounds and issues
// TRANSFER_TO_HOST_2D followed by RESOURCE_FLUSH over the resulting
// rectangle, satisfying the console package's Flusher interface.
func (d *Device) Flush(x, y, w, h uint32) bool {
	if d.framebuffer == nil || w == 0 || h == 0 {
		return false
	}

	if x >= d.width || y >= d.height {
		return false
	}

	if x+w > d.width {
		w = d.width - x
	}

	if y+h > d.height {
		h = d.height - y
	}

	r := rect{x, y, w, h}
	offset := uint64(y)*uint64(d.stride) + uint64(x)*BytesPerPixel

	resp, err := d.sendCmd(encodeTransferToHost2D(d.resourceID, r, offset), headerSize)
	if err != nil || headerType(resp) != respOKNodata {
		return false
	}

	resp, err = d.sendCmd(encodeResourceFlush(d.resourceID, r), headerSize)
	if err != nil {
		return false
	}

	return headerType(resp) == respOKNodata
}
