// RISC-V 64-bit SBI shutdown and timer support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package riscv64 provides the two machine-level primitives this kernel
// needs directly: SBI legacy shutdown/restart and a monotonic timestamp
// read. CPU bring-up, exception vector wiring and runtime.Exit linkage
// are boot/trap glue outside this kernel's scope and are not carried
// here (SPEC_FULL.md §5.7).
//
// This package is only meant to be used with `GOOS=tamago GOARCH=riscv64`
// as supported by the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package riscv64

// This package supports 64-bit cores.
const XLEN = 64

// sbiLegacyShutdown is the SBI legacy extension ID for system shutdown,
// invoked via `ecall` with this value in register a7
// (original_source/source/platform.c's sbi_shutdown_legacy).
const sbiLegacyShutdown = 8

// defined in asm_riscv64.s
func sbiShutdown()

// defined in asm_riscv64.s
func readTime() uint64

// Shutdown powers off the machine via the SBI legacy shutdown call. It
// does not return.
func Shutdown() {
	sbiShutdown()
}

// Restart is the same SBI legacy call as Shutdown: the reference
// firmware's legacy extension 8 has no separate reset request, so a
// restart and a shutdown are indistinguishable at this level.
func Restart() {
	sbiShutdown()
}

// ReadTime returns the current value of the `time` CSR, a free-running
// counter useful for spin-loop budgets (the GPU command timeout) without
// a full timer/IRQ subsystem.
func ReadTime() uint64 {
	return readTime()
}
