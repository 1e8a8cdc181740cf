// MMIO register primitives
// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides volatile access to memory-mapped device registers
// and the RISC-V fence primitive required to order that access against a
// device observing guest memory.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=riscv64`
// as supported by the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package reg

import (
	"sync/atomic"
	"unsafe"
)

// Read performs a volatile 32-bit load from a memory-mapped register.
func Read(addr uintptr) uint32 {
	r := (*uint32)(unsafe.Pointer(addr))
	return atomic.LoadUint32(r)
}

// Write performs a volatile 32-bit store to a memory-mapped register.
func Write(addr uintptr, val uint32) {
	r := (*uint32)(unsafe.Pointer(addr))
	atomic.StoreUint32(r, val)
}

// Set sets an individual bit of a memory-mapped register.
func Set(addr uintptr, pos int) {
	r := (*uint32)(unsafe.Pointer(addr))
	v := atomic.LoadUint32(r)
	v |= 1 << uint(pos)
	atomic.StoreUint32(r, v)
}

// Clear clears an individual bit of a memory-mapped register.
func Clear(addr uintptr, pos int) {
	r := (*uint32)(unsafe.Pointer(addr))
	v := atomic.LoadUint32(r)
	v &^= 1 << uint(pos)
	atomic.StoreUint32(r, v)
}

// IsSet returns whether an individual bit of a memory-mapped register is set.
func IsSet(addr uintptr, pos int) bool {
	return Read(addr)&(1<<uint(pos)) != 0
}

// Read8 performs a volatile 8-bit load from a memory-mapped register,
// for byte-addressed devices (e.g. a 16550-style UART) whose registers
// are not safely readable a 32 bits at a time.
//
// sync/atomic has no 8-bit load/store primitive, so unlike Read/Write
// this goes through the pointer directly; a single dereference through
// an unsafe.Pointer is not something the compiler can hoist or elide,
// which is all the 32-bit atomic calls above are really buying us.
func Read8(addr uintptr) uint8 {
	r := (*uint8)(unsafe.Pointer(addr))
	return *r
}

// Write8 performs a volatile 8-bit store to a memory-mapped register.
func Write8(addr uintptr, val uint8) {
	r := (*uint8)(unsafe.Pointer(addr))
	*r = val
}

// Fence issues a RISC-V `fence iorw, iorw` instruction, ordering all
// preceding device-visible memory and register operations against all
// following ones. It is required around every status transition, ring
// slot publication and register write that a virtio device may observe
// concurrently (spec.md §4.3, §9).
//
// defined in fence_riscv64.s
func Fence()
