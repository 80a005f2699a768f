package machine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/jcc-lang/jcc/lang/ctype"
)

// Heap block layout: [fixed header][front canary][user bytes][trailing
// canary]. The canary words are always reserved so offsets stay static
// regardless of whether -c is enabled; only the check is gated by Flags.
const (
	heapMagic   uint32 = 0xDEADBEEF
	headerFixed        = 40 // Magic,Generation,Size,Requested,AllocPC,TrackedKind,Freed+pad
	headerSize         = headerFixed + 8 // + front canary
	trailerSize        = 8               // trailing canary
)

// HeapFlags gates the optional safety/debugging machinery, set from the
// driver's -c/-u/-l/-p flags (SPEC_FULL.md §6.1).
type HeapFlags struct {
	Canaries      bool // -c: front/trailing canary validation
	TrackUAF      bool // -u: freed blocks are poisoned, not recycled
	TrackLeaks    bool // -l: record every live allocation for a report at Close
	CheckPointers bool // -p: every heap access resolves and validates its header
}

type freeNode struct {
	blockOff  uint64
	blockSize uint64
}

type leakRecord struct {
	size    uint64
	allocPC uint32
}

// Heap is the VM's bump-and-free-list allocator. It owns a single growable
// byte buffer addressed starting at heapBase; blockOff below is always an
// offset into buf, never a full VM address.
type Heap struct {
	buf      []byte
	freeList []freeNode
	blocks   []uint64 // sorted block offsets, live or freed, for pointer-bounds resolution
	lastHit  int       // cache: index into blocks most recently matched

	leaks map[uint64]leakRecord // keyed by user address, only populated when TrackLeaks

	canarySeed uint64
	Flags      HeapFlags
}

func newHeap() *Heap {
	var seed [8]byte
	_, _ = rand.Read(seed[:])
	v := binary.LittleEndian.Uint64(seed[:])
	v &^= 0xff << 24 // force one all-zero byte so a NUL-terminated overrun can't forge a match
	return &Heap{leaks: make(map[uint64]leakRecord), canarySeed: v}
}

func align8(n uint64) uint64 { return (n + 7) &^ 7 }

func (h *Heap) segment(addr uint64, size int) ([]byte, uint64, error) {
	off := addr - heapBase
	if off+uint64(size) > uint64(len(h.buf)) {
		return nil, 0, fmt.Errorf("heap access out of bounds at 0x%x", addr)
	}
	return h.buf, off, nil
}

func (h *Heap) header(blockOff uint64) []byte { return h.buf[blockOff : blockOff+headerFixed] }

func (h *Heap) writeHeader(blockOff, size, requested uint64, generation uint32, allocPC uint32, kind ctype.Kind) {
	b := h.header(blockOff)
	binary.LittleEndian.PutUint32(b[0:], heapMagic)
	binary.LittleEndian.PutUint32(b[4:], generation)
	binary.LittleEndian.PutUint64(b[8:], size)
	binary.LittleEndian.PutUint64(b[16:], requested)
	binary.LittleEndian.PutUint32(b[24:], allocPC)
	binary.LittleEndian.PutUint32(b[28:], uint32(kind))
	b[32] = 0
	if h.Flags.Canaries {
		binary.LittleEndian.PutUint64(h.buf[blockOff+headerFixed:], h.canarySeed)
		binary.LittleEndian.PutUint64(h.buf[blockOff+headerSize+size:], h.canarySeed)
	}
}

func (h *Heap) magic(blockOff uint64) uint32    { return binary.LittleEndian.Uint32(h.header(blockOff)[0:]) }
func (h *Heap) generation(blockOff uint64) uint32 { return binary.LittleEndian.Uint32(h.header(blockOff)[4:]) }
func (h *Heap) size(blockOff uint64) uint64     { return binary.LittleEndian.Uint64(h.header(blockOff)[8:]) }
func (h *Heap) requested(blockOff uint64) uint64 { return binary.LittleEndian.Uint64(h.header(blockOff)[16:]) }
func (h *Heap) allocPC(blockOff uint64) uint32  { return binary.LittleEndian.Uint32(h.header(blockOff)[24:]) }
func (h *Heap) freed(blockOff uint64) bool      { return h.header(blockOff)[32] != 0 }
func (h *Heap) setFreed(blockOff uint64, v bool) {
	if v {
		h.header(blockOff)[32] = 1
	} else {
		h.header(blockOff)[32] = 0
	}
}

func (h *Heap) blockSizeOf(blockOff uint64) uint64 {
	return headerSize + h.size(blockOff) + trailerSize
}

// Malloc allocates n usable bytes, first-fit over the free list, falling
// back to bump allocation. allocPC/kind feed the leak report and the
// pointer type-check, respectively; kind may be ctype.Void when unknown.
func (h *Heap) Malloc(n uint64, allocPC uint32, kind ctype.Kind) (uint64, error) {
	size := align8(n)
	need := headerSize + size + trailerSize

	for i, fn := range h.freeList {
		if fn.blockSize >= need {
			h.freeList = append(h.freeList[:i], h.freeList[i+1:]...)
			return h.commit(fn.blockOff, size, n, allocPC, kind), nil
		}
	}

	blockOff := uint64(len(h.buf))
	h.buf = append(h.buf, make([]byte, need)...)
	h.blocks = append(h.blocks, blockOff)
	return h.commit(blockOff, size, n, allocPC, kind), nil
}

func (h *Heap) commit(blockOff, size, requested uint64, allocPC uint32, kind ctype.Kind) uint64 {
	gen := uint32(0)
	h.writeHeader(blockOff, size, requested, gen, allocPC, kind)
	addr := heapBase + blockOff + headerSize
	if h.Flags.TrackLeaks {
		h.leaks[addr] = leakRecord{size: size, allocPC: allocPC}
	}
	return addr
}

// blockAt resolves the block owning addr, or an error if addr is not a
// live (or, for UAF diagnostics, previously-freed) allocation.
func (h *Heap) blockAt(addr uint64) (uint64, error) {
	if addr < heapBase+headerSize {
		return 0, fmt.Errorf("invalid heap pointer 0x%x", addr)
	}
	blockOff := addr - heapBase - headerSize
	if blockOff >= uint64(len(h.buf)) || h.magic(blockOff) != heapMagic {
		return 0, fmt.Errorf("INVALID FREE: 0x%x is not an allocated pointer", addr)
	}
	return blockOff, nil
}

// Free releases the block at addr. A nil pointer is a no-op, matching C's
// free(NULL) semantics.
func (h *Heap) Free(addr uint64) error {
	if addr == 0 {
		return nil
	}
	blockOff, err := h.blockAt(addr)
	if err != nil {
		return err
	}
	if h.freed(blockOff) {
		return fmt.Errorf("DOUBLE FREE of 0x%x", addr)
	}
	if h.Flags.Canaries {
		size := h.size(blockOff)
		front := binary.LittleEndian.Uint64(h.buf[blockOff+headerFixed:])
		back := binary.LittleEndian.Uint64(h.buf[blockOff+headerSize+size:])
		if front != h.canarySeed || back != h.canarySeed {
			return fmt.Errorf("HEAP OVERFLOW DETECTED: canary mismatch freeing 0x%x", addr)
		}
	}
	h.setFreed(blockOff, true)
	if h.Flags.TrackLeaks {
		delete(h.leaks, addr)
	}
	if h.Flags.TrackUAF {
		// bump generation, leave the block out of the free list so any
		// surviving pointer's subsequent access can be recognized as stale
		gen := h.generation(blockOff) + 1
		binary.LittleEndian.PutUint32(h.header(blockOff)[4:], gen)
		return nil
	}
	h.freeList = append(h.freeList, freeNode{blockOff: blockOff, blockSize: h.blockSizeOf(blockOff)})
	return nil
}

// Calloc allocates nmemb*sz bytes, zeroed, trapping on multiplication
// overflow (a supplement beyond the spec's base requirements, SPEC_FULL.md
// §9).
func (h *Heap) Calloc(nmemb, sz uint64, allocPC uint32, kind ctype.Kind) (uint64, error) {
	if nmemb != 0 && sz > math.MaxUint64/nmemb {
		return 0, fmt.Errorf("CALLOC OVERFLOW: %d * %d overflows size_t", nmemb, sz)
	}
	n := nmemb * sz
	addr, err := h.Malloc(n, allocPC, kind)
	if err != nil {
		return 0, err
	}
	buf, off, _ := h.segment(addr, int(n))
	for i := range buf[off : off+n] {
		buf[off+uint64(i)] = 0
	}
	return addr, nil
}

// Realloc resizes the block at addr, preserving min(old, n) bytes.
func (h *Heap) Realloc(addr, n uint64, allocPC uint32, kind ctype.Kind) (uint64, error) {
	if addr == 0 {
		return h.Malloc(n, allocPC, kind)
	}
	blockOff, err := h.blockAt(addr)
	if err != nil {
		return 0, err
	}
	oldSize := h.requested(blockOff)
	newAddr, err := h.Malloc(n, allocPC, kind)
	if err != nil {
		return 0, err
	}
	cp := oldSize
	if n < cp {
		cp = n
	}
	if cp > 0 {
		src, _ := h.Bytes(addr, int(cp))
		dst, _ := h.Bytes(newAddr, int(cp))
		copy(dst, src)
	}
	if err := h.Free(addr); err != nil {
		return 0, err
	}
	return newAddr, nil
}

// Bytes returns a mutable view of n bytes starting at addr.
func (h *Heap) Bytes(addr uint64, n int) ([]byte, error) {
	buf, off, err := h.segment(addr, n)
	if err != nil {
		return nil, err
	}
	return buf[off : off+uint64(n)], nil
}

// CheckPointer validates addr..addr+size against its owning block's
// liveness (and, if kind != ctype.Void, tracked-type compatibility), for
// the CHKPTR/CHKBOUNDS/CHKTYPE safety opcodes (-p).
func (h *Heap) CheckPointer(addr uint64, size int, kind ctype.Kind) error {
	if addr < heapBase || addr >= stackBase {
		return nil // not a heap pointer, nothing to check here
	}
	idx := sort.Search(len(h.blocks), func(i int) bool {
		return heapBase+h.blocks[i]+headerSize > addr
	})
	var blockOff uint64
	found := false
	for _, cand := range []int{h.lastHit, idx, idx - 1} {
		if cand < 0 || cand >= len(h.blocks) {
			continue
		}
		bo := h.blocks[cand]
		userOff := bo + headerSize
		userAddr := heapBase + userOff
		if addr >= userAddr && addr+uint64(size) <= userAddr+h.size(bo) {
			blockOff, found, h.lastHit = bo, true, cand
			break
		}
	}
	if !found {
		return fmt.Errorf("wild heap pointer 0x%x", addr)
	}
	if h.freed(blockOff) {
		return fmt.Errorf("USE AFTER FREE at 0x%x", addr)
	}
	trackedKind := ctype.Kind(binary.LittleEndian.Uint32(h.header(blockOff)[28:]))
	if kind != ctype.Void && trackedKind != ctype.Void && kind != trackedKind {
		return fmt.Errorf("CHKTYPE: access as %s of block allocated as %s", kind, trackedKind)
	}
	return nil
}

// LeakReport returns every allocation still live, for -l's report at
// Thread.Close.
func (h *Heap) LeakReport() map[uint64]leakRecord { return h.leaks }
