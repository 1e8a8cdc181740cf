// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mem provides a single-direction bump allocator for bare metal
// operation, grounded on the teacher's `dma` package (Region type, global
// Default()/Init() pair, Reserve-style address+slice return) but trimmed to
// the semantics spec.md §4.1 calls for: never free, allocate from the
// region between the image's end and a fixed stack-reserve guard below the
// initial stack top.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=riscv64`
// as supported by the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package mem

import (
	"reflect"
	"sync"
	"unsafe"
)

// stackReserve is subtracted from the initial stack top to keep the bump
// region from ever colliding with the call stack.
const stackReserve = 64 * 1024

// Region is a single-direction bump allocator over a fixed address range.
type Region struct {
	sync.Mutex

	start  uintptr
	limit  uintptr
	cursor uintptr
}

// Init captures the allocatable range {imageEnd, stackTop} and positions
// the cursor at the 16-byte aligned start of that range. Init is
// idempotent: a second call on an already-initialized region is a no-op,
// matching spec.md §4.1.
func (r *Region) Init(imageEnd, stackTop uintptr) {
	r.Lock()
	defer r.Unlock()

	if r.cursor != 0 {
		return
	}

	r.start = alignUp(imageEnd, 16)
	r.cursor = r.start
	r.limit = stackTop - stackReserve
}

// AllocateAligned rounds the cursor up to align and reserves size bytes,
// returning the resulting address. It returns 0 if the allocation would
// cross the region limit. There is no corresponding free.
func (r *Region) AllocateAligned(size int, align int) uintptr {
	if size <= 0 {
		return 0
	}

	r.Lock()
	defer r.Unlock()

	a := align
	if a == 0 {
		a = 1
	}

	p := alignUp(r.cursor, uintptr(a))

	if p+uintptr(size) > r.limit {
		return 0
	}

	r.cursor = p + uintptr(size)

	return p
}

// AllocateAlignedBytes is the equivalent of AllocateAligned but returns a
// Go slice view over the allocated bytes alongside its address, for
// callers (the virtqueue engine, the GPU framebuffer) that want to treat
// the bump-allocated region as a buffer rather than a bare pointer.
func (r *Region) AllocateAlignedBytes(size int, align int) (addr uintptr, buf []byte) {
	addr = r.AllocateAligned(size, align)

	if addr == 0 {
		return 0, nil
	}

	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&buf))
	hdr.Data = addr
	hdr.Len = size
	hdr.Cap = size

	return addr, buf
}

func alignUp(v uintptr, align uintptr) uintptr {
	if align == 0 {
		return v
	}

	return (v + align - 1) &^ (align - 1)
}

var global Region

// Init is the equivalent of Region.Init on the global bump region. The
// application must call it once, early, with the addresses of its image
// end and initial stack top symbols.
func Init(imageEnd, stackTop uintptr) {
	global.Init(imageEnd, stackTop)
}

// Default returns the global bump region instance.
func Default() *Region {
	return &global
}

// AllocateAligned is the equivalent of Region.AllocateAligned on the
// global bump region.
func AllocateAligned(size int, align int) uintptr {
	return global.AllocateAligned(size, align)
}

// AllocateAlignedBytes is the equivalent of Region.AllocateAlignedBytes on
// the global bump region.
func AllocateAlignedBytes(size int, align int) (addr uintptr, buf []byte) {
	return global.AllocateAlignedBytes(size, align)
}
