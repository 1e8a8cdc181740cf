// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mem

import "testing"

func TestAllocateAlignedBumpsCursor(t *testing.T) {
	var r Region
	r.Init(0x1000, 0x100000)

	a := r.AllocateAligned(16, 16)
	if a == 0 {
		t.Fatal("allocation failed")
	}

	b := r.AllocateAligned(16, 16)
	if b != a+16 {
		t.Fatalf("expected contiguous bump allocation, got a=%x b=%x", a, b)
	}
}

func TestAllocateAlignedRespectsAlignment(t *testing.T) {
	var r Region
	r.Init(0x1001, 0x100000)

	a := r.AllocateAligned(1, 1)
	b := r.AllocateAligned(64, 64)

	if a == 0 || b == 0 {
		t.Fatal("allocation failed")
	}

	if b%64 != 0 {
		t.Fatalf("expected 64-byte aligned address, got %x", b)
	}
}

func TestAllocateAlignedFailsPastLimit(t *testing.T) {
	var r Region
	r.Init(0, 64*1024+128)

	if a := r.AllocateAligned(256, 16); a != 0 {
		t.Fatalf("expected allocation to fail past the stack-reserve guard, got %x", a)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	var r Region
	r.Init(0x2000, 0x100000)

	first := r.cursor
	r.Init(0x9000, 0x200000)

	if r.cursor != first {
		t.Fatalf("second Init call must be a no-op, cursor changed from %x to %x", first, r.cursor)
	}
}

func TestAllocateAlignedBytesViewsSameAddress(t *testing.T) {
	var r Region
	r.Init(0x4000, 0x100000)

	addr, buf := r.AllocateAlignedBytes(8, 8)
	if addr == 0 {
		t.Fatal("allocation failed")
	}

	if len(buf) != 8 {
		t.Fatalf("expected 8 byte slice, got %d", len(buf))
	}
}
