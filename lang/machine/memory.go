package machine

import (
	"encoding/binary"
	"fmt"
)

// Address layout: pointers are a single flat uint64 space split into three
// non-overlapping regions so that one register can hold an address into
// any segment without a separate segment tag. This is the Go rewrite's
// substitute for the source's raw process address space (see DESIGN.md /
// SPEC_FULL.md §9): a real process pointer is meaningless once the VM
// lives inside a Go slice, so loads/stores instead translate through
// these fixed bases.
const (
	dataBase  uint64 = 0x0001_0000_0000
	heapBase  uint64 = 0x0002_0000_0000
	stackBase uint64 = 0x0003_0000_0000
)

// Memory owns the VM's three byte-addressable segments (Text is addressed
// separately, by word offset, since code is never read through a data
// pointer in this language). Stack is a fixed-capacity region the VM
// reserves up front; Heap grows on demand via the allocator in heap.go.
type Memory struct {
	Data  []byte
	Stack []byte
	Heap  *Heap
}

// NewMemory allocates a VM address space: data initialized from the
// program's data segment, a fixed-size stack, and an initially-empty heap.
func NewMemory(data []byte, stackSize int) *Memory {
	m := &Memory{
		Data:  append([]byte(nil), data...),
		Stack: make([]byte, stackSize),
	}
	m.Heap = newHeap()
	return m
}

// StackTop returns the address one past the end of the stack region: the
// initial SP before any frame is pushed (the stack grows toward lower
// addresses from here).
func (m *Memory) StackTop() uint64 { return stackBase + uint64(len(m.Stack)) }

// segment returns the byte slice backing addr and addr's offset within it.
func (m *Memory) segment(addr uint64, size int) ([]byte, uint64, error) {
	switch {
	case addr >= dataBase && addr < heapBase:
		off := addr - dataBase
		if off+uint64(size) > uint64(len(m.Data)) {
			return nil, 0, fmt.Errorf("data segment access out of bounds at 0x%x", addr)
		}
		return m.Data, off, nil
	case addr >= stackBase:
		off := addr - stackBase
		if off+uint64(size) > uint64(len(m.Stack)) {
			return nil, 0, fmt.Errorf("stack access out of bounds at 0x%x", addr)
		}
		return m.Stack, off, nil
	case addr >= heapBase && addr < stackBase:
		buf, off, err := m.Heap.segment(addr, size)
		if err != nil {
			return nil, 0, err
		}
		return buf, off, nil
	default:
		return nil, 0, fmt.Errorf("NULL or wild pointer dereference at 0x%x", addr)
	}
}

// Load reads n bytes (n in {1,2,4,8}) from addr as an unsigned integer.
func (m *Memory) Load(addr uint64, n int) (uint64, error) {
	buf, off, err := m.segment(addr, n)
	if err != nil {
		return 0, err
	}
	switch n {
	case 1:
		return uint64(buf[off]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[off:])), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[off:])), nil
	default:
		return binary.LittleEndian.Uint64(buf[off:]), nil
	}
}

// Store writes the low n bytes of v to addr.
func (m *Memory) Store(addr uint64, n int, v uint64) error {
	buf, off, err := m.segment(addr, n)
	if err != nil {
		return err
	}
	switch n {
	case 1:
		buf[off] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf[off:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	default:
		binary.LittleEndian.PutUint64(buf[off:], v)
	}
	return nil
}

// Bytes returns a mutable view of n bytes at addr, for MEMCPY and va_list
// spilling; it does not copy.
func (m *Memory) Bytes(addr uint64, n int) ([]byte, error) {
	buf, off, err := m.segment(addr, n)
	if err != nil {
		return nil, err
	}
	return buf[off : off+uint64(n)], nil
}
