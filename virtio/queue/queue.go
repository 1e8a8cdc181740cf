// https://github.com/riscv-virt/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package queue implements a VirtIO split virtqueue: the descriptor
// table, available ring and used ring triad described in spec.md §3/§4.2,
// plus the free-list that tracks which descriptor slots are unused.
//
// It is grounded on the teacher's kvm/virtio (descriptor.go, mmio.go)
// VirtualQueue/Descriptor/Available/Used triad for the overall shape —
// one contiguous backing buffer, binary.LittleEndian field access so the
// on-wire layout is exact regardless of Go struct padding rules (spec.md
// §9's open question) — but replaces its byte-offset-recomputing accessor
// style with the free-list + chain-allocation model from the original C
// source's virtq_alloc_chain/virtq_free_chain, since spec.md's invariants
// are stated directly in that vocabulary (spec.md §3, §8).
//
// The queue operates purely on a caller-supplied backing buffer and base
// address: it never allocates memory itself. In production the caller
// obtains both from the mem package (physical, DMA-visible memory); in
// tests a plain Go byte slice and an arbitrary placeholder address serve
// equally well, since the queue engine treats every address value as
// opaque data it stores and returns, never dereferences.
package queue

import (
	"encoding/binary"
	"errors"

	"github.com/riscv-virt/kernel/internal/reg"
)

// Descriptor flags (spec.md §3, §6).
const (
	FlagNext  = 1
	FlagWrite = 2
)

// Sentinel marks the end of the free-list / a chain.
const Sentinel = 0xffff

const (
	descSize    = 16 // address(8) + length(4) + flags(2) + next(2)
	availHdrLen = 4  // flags(2) + index(2)
	usedHdrLen  = 4  // flags(2) + index(2)
	usedElemLen = 8  // id(4) + length(4)
)

// pageSize is the legacy virtio-mmio (v1) queue alignment requirement.
const pageSize = 4096

// Queue is a split virtqueue: a descriptor table, an available ring and a
// used ring, backed by one contiguous buffer, plus a driver-private
// free-list over descriptor indices.
//
// Queue is not safe for concurrent use from multiple goroutines; the
// kernel this package serves is single-threaded and polling (spec.md §5).
type Queue struct {
	size   uint16
	legacy bool

	buf      []byte
	base     uintptr
	availOff int
	usedOff  int

	freeHead  uint16
	freeCount uint16
	freeNext  []uint16

	lastUsedIndex uint16

	// owned marks, per descriptor index, whether the device currently
	// holds that descriptor: set by Submit when a chain is published,
	// cleared by PollUsed when the matching completion is read back.
	// Touching an owned descriptor's buffer or freeing it early is a
	// driver bug, not a recoverable condition (spec.md §9) — SetBuffer
	// and FreeChain panic rather than silently racing the device.
	owned []bool
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Layout computes the byte size of the buffer a queue of the given size
// requires, along with the offsets of the available and used rings within
// it. When legacy is true, the used ring is padded to start on a
// pageSize-aligned offset and the total size is itself pageSize-aligned,
// per spec.md §4.2/§4.3's single-PFN legacy requirement; when false
// (modern transport) the three regions are simply concatenated.
func Layout(size int, legacy bool) (total, availOff, usedOff int) {
	descBytes := descSize * size
	availBytes := availHdrLen + 2*size
	usedBytes := usedHdrLen + usedElemLen*size

	availOff = descBytes

	if !legacy {
		usedOff = availOff + availBytes
		total = usedOff + usedBytes
		return
	}

	usedOff = alignUp(availOff+availBytes, pageSize)
	total = alignUp(usedOff+usedBytes, pageSize)

	return
}

func alignUp(v, align int) int {
	if align == 0 {
		return v
	}

	return (v + align - 1) &^ (align - 1)
}

// New constructs a queue of the given size over buf, a buffer of at least
// Layout(size, legacy)'s total size, located at physical/DMA address
// base. size must be a power of two no greater than 64 (spec.md §3); the
// caller (the transport) is responsible for clamping the device-requested
// size to the device's advertised maximum before calling New.
func New(buf []byte, base uintptr, size int, legacy bool) (*Queue, error) {
	if !isPow2(size) || size > 64 {
		return nil, errors.New("queue: size must be a power of two no greater than 64")
	}

	total, availOff, usedOff := Layout(size, legacy)

	if len(buf) < total {
		return nil, errors.New("queue: backing buffer too small")
	}

	q := &Queue{
		size:     uint16(size),
		legacy:   legacy,
		buf:      buf,
		base:     base,
		availOff: availOff,
		usedOff:  usedOff,
		freeNext: make([]uint16, size),
		owned:    make([]bool, size),
	}

	clear(q.buf[:total])
	q.initFreeList()

	return q, nil
}

func (q *Queue) initFreeList() {
	for i := uint16(0); i < q.size; i++ {
		if i == q.size-1 {
			q.freeNext[i] = Sentinel
		} else {
			q.freeNext[i] = i + 1
		}
	}

	q.freeHead = 0
	q.freeCount = q.size
}

// Size returns the queue's descriptor count.
func (q *Queue) Size() uint16 {
	return q.size
}

// FreeCount returns the number of descriptors currently on the free-list.
func (q *Queue) FreeCount() uint16 {
	return q.freeCount
}

// Address returns the physical/DMA addresses of the descriptor table,
// available ring and used ring, for the transport to program into the
// device's queue address registers.
func (q *Queue) Address() (desc, avail, used uintptr) {
	return q.base, q.base + uintptr(q.availOff), q.base + uintptr(q.usedOff)
}

// PFN returns the single page-frame-number the legacy (v1) transport
// programs into QUEUE_PFN: the descriptor table's base address divided by
// the legacy page size. Only meaningful when the queue was constructed
// with legacy=true.
func (q *Queue) PFN() uint32 {
	return uint32(q.base / pageSize)
}

func (q *Queue) descOffset(i uint16) int {
	return int(i) * descSize
}

// SetDescriptor writes the address/length/flags/next fields of descriptor
// i.
func (q *Queue) SetDescriptor(i uint16, addr uint64, length uint32, flags uint16, next uint16) {
	off := q.descOffset(i)
	binary.LittleEndian.PutUint64(q.buf[off:], addr)
	binary.LittleEndian.PutUint32(q.buf[off+8:], length)
	binary.LittleEndian.PutUint16(q.buf[off+12:], flags)
	binary.LittleEndian.PutUint16(q.buf[off+14:], next)
}

// Descriptor reads back the fields of descriptor i.
func (q *Queue) Descriptor(i uint16) (addr uint64, length uint32, flags uint16, next uint16) {
	off := q.descOffset(i)
	addr = binary.LittleEndian.Uint64(q.buf[off:])
	length = binary.LittleEndian.Uint32(q.buf[off+8:])
	flags = binary.LittleEndian.Uint16(q.buf[off+12:])
	next = binary.LittleEndian.Uint16(q.buf[off+14:])
	return
}

// SetBuffer patches descriptor i's address and length (the payload a
// driver wants to hand to, or receive from, the device) and its WRITE
// flag, leaving the NEXT flag and next pointer untouched — those were
// established once by AllocChain and must survive for the lifetime of
// the chain.
func (q *Queue) SetBuffer(i uint16, addr uint64, length uint32, write bool) {
	if q.owned[i] {
		panic("queue: SetBuffer touched a descriptor currently owned by the device")
	}

	_, _, flags, next := q.Descriptor(i)

	if write {
		flags |= FlagWrite
	} else {
		flags &^= FlagWrite
	}

	q.SetDescriptor(i, addr, length, flags, next)
}

// AllocChain pops n descriptor indices off the free-list and links them
// via NEXT/next into a single chain, returning its head. It fails fast,
// without modifying the free-list, when fewer than n descriptors are
// free.
func (q *Queue) AllocChain(n int) (head uint16, ok bool) {
	if n <= 0 || uint16(n) > q.freeCount {
		return 0, false
	}

	head = Sentinel
	prev := uint16(Sentinel)

	for i := 0; i < n; i++ {
		idx := q.freeHead
		if idx == Sentinel {
			return 0, false
		}

		if q.owned[idx] {
			panic("queue: free-list handed out a descriptor currently owned by the device")
		}

		q.freeHead = q.freeNext[idx]
		q.freeNext[idx] = Sentinel

		q.SetDescriptor(idx, 0, 0, 0, 0)

		if head == Sentinel {
			head = idx
		} else {
			q.SetDescriptor(prev, 0, 0, FlagNext, idx)
		}

		prev = idx
	}

	q.freeCount -= uint16(n)

	return head, true
}

// FreeChain walks the NEXT-linked chain starting at head, clearing each
// descriptor and pushing it back onto the free-list LIFO. It tolerates
// only the driver's own well-formed chains; a cyclic or otherwise
// malformed descriptor graph is a driver bug, not a condition this
// function defends against (spec.md §4.2).
func (q *Queue) FreeChain(head uint16) {
	current := head

	for current != Sentinel {
		if q.owned[current] {
			panic("queue: FreeChain touched a descriptor currently owned by the device")
		}

		_, _, flags, next := q.Descriptor(current)

		var following uint16 = Sentinel
		if flags&FlagNext != 0 {
			following = next
		}

		q.SetDescriptor(current, 0, 0, 0, 0)

		q.freeNext[current] = q.freeHead
		q.freeHead = current
		q.freeCount++

		current = following
	}
}

func (q *Queue) availRingSlot(n uint16) int {
	return q.availOff + availHdrLen + int(n)*2
}

func (q *Queue) availIndex() uint16 {
	return binary.LittleEndian.Uint16(q.buf[q.availOff+2:])
}

func (q *Queue) setAvailIndex(v uint16) {
	binary.LittleEndian.PutUint16(q.buf[q.availOff+2:], v)
}

// Submit publishes head as an available descriptor chain: the ring slot
// is written, a fence makes it visible, then the producer index is
// advanced and fenced again (spec.md §4.2's "two fences straddle the
// index increment"). Submit does not notify the device; callers do that
// separately through the transport's Notify, so that multiple
// submissions can share one notification if desired.
func (q *Queue) Submit(head uint16) {
	q.markChainOwned(head, true)

	idx := q.availIndex()

	binary.LittleEndian.PutUint16(q.buf[q.availRingSlot(idx%q.size):], head)
	reg.Fence()

	q.setAvailIndex(idx + 1)
	reg.Fence()
}

// markChainOwned walks the NEXT-linked chain starting at head, marking
// every descriptor in it as owned (by the device, once Submit publishes
// the chain) or not (once PollUsed reports the chain's completion).
func (q *Queue) markChainOwned(head uint16, owned bool) {
	current := head

	for current != Sentinel {
		if owned && q.owned[current] {
			panic("queue: Submit published a descriptor already owned by the device")
		}

		q.owned[current] = owned

		_, _, flags, next := q.Descriptor(current)
		if flags&FlagNext == 0 {
			break
		}

		current = next
	}
}

func (q *Queue) usedIndex() uint16 {
	return binary.LittleEndian.Uint16(q.buf[q.usedOff+2:])
}

func (q *Queue) usedRingElem(n uint16) (id uint32, length uint32) {
	off := q.usedOff + usedHdrLen + int(n)*usedElemLen
	id = binary.LittleEndian.Uint32(q.buf[off:])
	length = binary.LittleEndian.Uint32(q.buf[off+4:])
	return
}

// PollUsed compares the driver's last-seen used index against the
// device's published one. If they match, nothing is ready and PollUsed
// returns false. Otherwise it reads the next used-ring entry, advances
// last-seen, and returns the descriptor head id the device has finished
// with. The written_length field is not interpreted here — callers that
// care about it read it from the wire-format response they posted
// (spec.md §4.2).
func (q *Queue) PollUsed() (head uint16, ok bool) {
	idx := q.usedIndex()

	if q.lastUsedIndex == idx {
		return 0, false
	}

	id, _ := q.usedRingElem(q.lastUsedIndex % q.size)
	q.lastUsedIndex++

	q.markChainOwned(uint16(id), false)

	return uint16(id), true
}

func clear(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
