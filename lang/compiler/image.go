package compiler

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"gopkg.in/yaml.v3"
)

// magic identifies a saved bytecode image; version is bumped (see Version)
// whenever the encoding below changes incompatibly, forcing callers to
// recompile rather than load a stale image (SPEC_FULL.md §6.2).
var magic = [4]byte{'J', 'C', 'C', 0}

// Save encodes p in this package's binary image format: a fixed header,
// then the text segment, data segment, relocation table and FFI import
// table, each length-prefixed, little-endian throughout.
func Save(p *Program) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	writeU32(&buf, Version)
	writeU32(&buf, p.EntryPC)
	writeI64(&buf, p.RetBufBase)
	writeI64(&buf, p.RetBufSize)
	writeU32(&buf, uint32(p.RetBufCount))

	writeU32(&buf, uint32(len(p.Text)))
	for _, w := range p.Text {
		writeU64(&buf, w)
	}

	writeU32(&buf, uint32(len(p.Data)))
	buf.Write(p.Data)

	writeU32(&buf, uint32(len(p.Relocations)))
	for _, r := range p.Relocations {
		writeI64(&buf, r.Offset)
		writeU32(&buf, r.Addr)
		buf.WriteByte(byte(r.Kind))
		writeI64(&buf, r.Addend)
	}

	writeU32(&buf, uint32(len(p.FFIImports)))
	for _, f := range p.FFIImports {
		writeString(&buf, f.Name)
	}

	writeU32(&buf, uint32(len(p.Funcs)))
	for _, fn := range p.Funcs {
		writeString(&buf, fn.Name)
		writeU32(&buf, fn.Addr)
		writeI64(&buf, fn.FrameSize)
		writeU32(&buf, uint32(fn.NumParams))
		if fn.IsVariadic {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	return buf.Bytes(), nil
}

// Load decodes a binary image written by Save. An image whose version does
// not match this package's Version is rejected: the caller (typically
// internal/maincmd) should recompile the source rather than try to run a
// stale encoding.
func Load(data []byte) (*Program, error) {
	r := bytes.NewReader(data)
	var got [4]byte
	if _, err := r.Read(got[:]); err != nil || got != magic {
		return nil, fmt.Errorf("not a jcc bytecode image")
	}
	version, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, fmt.Errorf("bytecode image version %d does not match compiler version %d, recompile", version, Version)
	}

	p := &Program{}
	if p.EntryPC, err = readU32(r); err != nil {
		return nil, err
	}
	if p.RetBufBase, err = readI64(r); err != nil {
		return nil, err
	}
	if p.RetBufSize, err = readI64(r); err != nil {
		return nil, err
	}
	cnt, err := readU32(r)
	if err != nil {
		return nil, err
	}
	p.RetBufCount = int(cnt)

	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	p.Text = make([]uint64, n)
	for i := range p.Text {
		if p.Text[i], err = readU64(r); err != nil {
			return nil, err
		}
	}

	n, err = readU32(r)
	if err != nil {
		return nil, err
	}
	p.Data = make([]byte, n)
	if _, err := r.Read(p.Data); err != nil {
		return nil, err
	}

	n, err = readU32(r)
	if err != nil {
		return nil, err
	}
	p.Relocations = make([]Relocation, n)
	for i := range p.Relocations {
		reloc := &p.Relocations[i]
		if reloc.Offset, err = readI64(r); err != nil {
			return nil, err
		}
		if reloc.Addr, err = readU32(r); err != nil {
			return nil, err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		reloc.Kind = RelocKind(kindByte)
		if reloc.Addend, err = readI64(r); err != nil {
			return nil, err
		}
	}

	n, err = readU32(r)
	if err != nil {
		return nil, err
	}
	p.FFIImports = make([]FFIImport, n)
	for i := range p.FFIImports {
		if p.FFIImports[i].Name, err = readString(r); err != nil {
			return nil, err
		}
	}

	n, err = readU32(r)
	if err != nil {
		return nil, err
	}
	p.Funcs = make([]FuncInfo, n)
	for i := range p.Funcs {
		fn := &p.Funcs[i]
		if fn.Name, err = readString(r); err != nil {
			return nil, err
		}
		if fn.Addr, err = readU32(r); err != nil {
			return nil, err
		}
		if fn.FrameSize, err = readI64(r); err != nil {
			return nil, err
		}
		np, err := readU32(r)
		if err != nil {
			return nil, err
		}
		fn.NumParams = int(np)
		variadicByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		fn.IsVariadic = variadicByte != 0
	}

	return p, nil
}

func writeU32(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, binary.LittleEndian, v) }
func writeU64(buf *bytes.Buffer, v uint64) { _ = binary.Write(buf, binary.LittleEndian, v) }
func writeI64(buf *bytes.Buffer, v int64)  { _ = binary.Write(buf, binary.LittleEndian, v) }
func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
func readU64(r *bytes.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
func readI64(r *bytes.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

// DebugSymbols is the .jccdbg sidecar written alongside a -g compiled
// image: a PC-to-source mapping per function and the frame-layout metadata
// the debugger needs to print locals by name, kept as a separate YAML file
// rather than folded into the binary image so tooling can read it without
// understanding the bytecode encoding at all.
type DebugSymbols struct {
	Version   int                   `yaml:"version"`
	Functions []FuncDebugSymbols    `yaml:"functions"`
}

// FuncDebugSymbols is one function's debug information.
type FuncDebugSymbols struct {
	Name   string       `yaml:"name"`
	Addr   uint32       `yaml:"addr"`
	Locals []LocalDebug `yaml:"locals"`
	Lines  []SourceLine `yaml:"lines"`
}

// LocalDebug names one local's frame offset and C type for pretty-printing.
type LocalDebug struct {
	Name   string `yaml:"name"`
	Offset int64  `yaml:"offset"`
	Type   string `yaml:"type"`
}

// SaveDebugSymbols renders ds as YAML.
func SaveDebugSymbols(ds *DebugSymbols) ([]byte, error) { return yaml.Marshal(ds) }

// LoadDebugSymbols parses the YAML a SaveDebugSymbols call previously wrote.
func LoadDebugSymbols(data []byte) (*DebugSymbols, error) {
	var ds DebugSymbols
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}
