package compiler

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// This file implements a human-readable/writable form of a compiled
// Program, mirroring the teacher's own assembler: a section-based text
// format (program:/function:/code:) that lets VM tests and fixtures be
// authored and read without going through the C front end at all.

// Dasm renders p as the section-based text format Asm parses back.
func Dasm(p *Program) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "program:\n")
	fmt.Fprintf(&buf, "  entry: %d\n", p.EntryPC)
	fmt.Fprintf(&buf, "  retbuf: base=%d size=%d count=%d\n", p.RetBufBase, p.RetBufSize, p.RetBufCount)
	fmt.Fprintf(&buf, "data:\n  %s\n", hex.EncodeToString(p.Data))
	fmt.Fprintf(&buf, "relocations:\n")
	for _, r := range p.Relocations {
		fmt.Fprintf(&buf, "  %d %d %d %d\n", r.Offset, r.Addr, r.Kind, r.Addend)
	}
	fmt.Fprintf(&buf, "ffi:\n")
	for _, f := range p.FFIImports {
		fmt.Fprintf(&buf, "  %s\n", f.Name)
	}
	for _, fn := range p.Funcs {
		fmt.Fprintf(&buf, "function: %s\n", fn.Name)
		fmt.Fprintf(&buf, "  addr: %d\n", fn.Addr)
		fmt.Fprintf(&buf, "  frame: %d\n", fn.FrameSize)
		fmt.Fprintf(&buf, "  params: %d\n", fn.NumParams)
		fmt.Fprintf(&buf, "  variadic: %t\n", fn.IsVariadic)
		fmt.Fprintf(&buf, "  code:\n")
		end := funcEnd(p, fn.Addr)
		for pc := fn.Addr; pc < end; {
			op := Opcode(p.Text[pc])
			switch op.Shape() {
			case ShapeNone:
				fmt.Fprintf(&buf, "    %d: %s\n", pc-fn.Addr, op)
				pc++
			case ShapeRRR:
				o := UnpackOperand(p.Text[pc+1])
				fmt.Fprintf(&buf, "    %d: %s r%d,r%d,r%d,%d\n", pc-fn.Addr, op, o.Dst, o.Src1, o.Src2, o.Flags)
				pc += 2
			case ShapeRI:
				o := UnpackOperand(p.Text[pc+1])
				fmt.Fprintf(&buf, "    %d: %s r%d,%d,%d\n", pc-fn.Addr, op, o.Dst, int64(p.Text[pc+2]), o.Flags)
				pc += 3
			}
		}
	}
	return buf.Bytes(), nil
}

func funcEnd(p *Program, addr uint32) uint32 {
	end := uint32(len(p.Text))
	for _, fn := range p.Funcs {
		if fn.Addr > addr && fn.Addr < end {
			end = fn.Addr
		}
	}
	return end
}

// Asm parses the text format Dasm prints back into a Program. It is a
// line-oriented reader over named sections, mirroring the teacher's own
// section-based assembler shape (program:/function:/code:), just reading
// register-operand instruction lines instead of stack-machine mnemonics.
func Asm(src []byte) (*Program, error) {
	p := &Program{}
	sc := bufio.NewScanner(bytes.NewReader(src))
	var curFunc *FuncInfo
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " "))
		switch {
		case strings.HasPrefix(trimmed, "program:"), strings.HasPrefix(trimmed, "data:"),
			strings.HasPrefix(trimmed, "relocations:"), strings.HasPrefix(trimmed, "ffi:"):
			curFunc = nil
		case strings.HasPrefix(trimmed, "entry:"):
			n, err := strconv.ParseUint(strings.TrimSpace(trimmed[len("entry:"):]), 10, 32)
			if err != nil {
				return nil, err
			}
			p.EntryPC = uint32(n)
		case strings.HasPrefix(trimmed, "retbuf:"):
			if err := parseRetBuf(trimmed, p); err != nil {
				return nil, err
			}
		case strings.HasPrefix(trimmed, "function:"):
			p.Funcs = append(p.Funcs, FuncInfo{Name: strings.TrimSpace(trimmed[len("function:"):])})
			curFunc = &p.Funcs[len(p.Funcs)-1]
		case curFunc != nil && strings.HasPrefix(trimmed, "addr:"):
			n, err := strconv.ParseUint(strings.TrimSpace(trimmed[len("addr:"):]), 10, 32)
			if err != nil {
				return nil, err
			}
			curFunc.Addr = uint32(n)
		case curFunc != nil && strings.HasPrefix(trimmed, "frame:"):
			n, err := strconv.ParseInt(strings.TrimSpace(trimmed[len("frame:"):]), 10, 64)
			if err != nil {
				return nil, err
			}
			curFunc.FrameSize = n
		case curFunc != nil && strings.HasPrefix(trimmed, "params:"):
			n, err := strconv.Atoi(strings.TrimSpace(trimmed[len("params:"):]))
			if err != nil {
				return nil, err
			}
			curFunc.NumParams = n
		case curFunc != nil && strings.HasPrefix(trimmed, "variadic:"):
			curFunc.IsVariadic = strings.TrimSpace(trimmed[len("variadic:"):]) == "true"
		case curFunc != nil && indent >= 4 && strings.Contains(trimmed, ":"):
			if err := parseInsnLine(trimmed, p); err != nil {
				return nil, err
			}
		case curFunc == nil && looksHex(trimmed):
			b, err := hex.DecodeString(trimmed)
			if err != nil {
				return nil, err
			}
			p.Data = b
		case curFunc == nil && strings.Count(trimmed, " ") == 3:
			if err := parseRelocLine(trimmed, p); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func looksHex(s string) bool {
	if s == "" {
		return true
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func parseRetBuf(line string, p *Program) error {
	fields := strings.Fields(line)
	for _, f := range fields[1:] {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		n, err := strconv.ParseInt(kv[1], 10, 64)
		if err != nil {
			return err
		}
		switch kv[0] {
		case "base":
			p.RetBufBase = n
		case "size":
			p.RetBufSize = n
		case "count":
			p.RetBufCount = int(n)
		}
	}
	return nil
}

func parseRelocLine(line string, p *Program) error {
	var offset, addr, kind, addend int64
	if _, err := fmt.Sscanf(line, "%d %d %d %d", &offset, &addr, &kind, &addend); err != nil {
		return err
	}
	p.Relocations = append(p.Relocations, Relocation{Offset: offset, Addr: uint32(addr), Kind: RelocKind(kind), Addend: addend})
	return nil
}

// parseInsnLine parses "<pc>: mnemonic operands" into words appended to
// p.Text.
func parseInsnLine(line string, p *Program) error {
	colon := strings.Index(line, ":")
	rest := strings.TrimSpace(line[colon+1:])
	parts := strings.SplitN(rest, " ", 2)
	mnem := parts[0]
	op, ok := reverseLookupOpcode[mnem]
	if !ok {
		return fmt.Errorf("asm: unknown mnemonic %q", mnem)
	}
	var operands string
	if len(parts) > 1 {
		operands = parts[1]
	}
	switch op.Shape() {
	case ShapeNone:
		p.Text = append(p.Text, uint64(op))
	case ShapeRRR:
		d, s1, s2, flags, err := parseRRROperands(operands)
		if err != nil {
			return err
		}
		p.Text = append(p.Text, uint64(op), Operand{Dst: d, Src1: s1, Src2: s2, Flags: flags}.pack())
	case ShapeRI:
		d, imm, flags, err := parseRIOperands(operands)
		if err != nil {
			return err
		}
		p.Text = append(p.Text, uint64(op), Operand{Dst: d, Flags: flags}.pack(), imm)
	}
	return nil
}

func parseReg(s string) (uint8, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "r")
	n, err := strconv.Atoi(s)
	return uint8(n), err
}

func parseRRROperands(s string) (dst, s1, s2, flags uint8, err error) {
	fields := strings.Split(s, ",")
	if len(fields) < 3 {
		return 0, 0, 0, 0, fmt.Errorf("asm: malformed operands %q", s)
	}
	if dst, err = parseReg(fields[0]); err != nil {
		return
	}
	if s1, err = parseReg(fields[1]); err != nil {
		return
	}
	if s2, err = parseReg(fields[2]); err != nil {
		return
	}
	if len(fields) > 3 {
		n, e := strconv.Atoi(strings.TrimSpace(fields[3]))
		if e != nil {
			err = e
			return
		}
		flags = uint8(n)
	}
	return
}

func parseRIOperands(s string) (dst uint8, imm uint64, flags uint8, err error) {
	fields := strings.Split(s, ",")
	if len(fields) < 2 {
		return 0, 0, 0, fmt.Errorf("asm: malformed operands %q", s)
	}
	if dst, err = parseReg(fields[0]); err != nil {
		return
	}
	n, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return
	}
	imm = uint64(n)
	if len(fields) > 2 {
		f, e := strconv.Atoi(strings.TrimSpace(fields[2]))
		if e != nil {
			err = e
			return
		}
		flags = uint8(f)
	}
	return
}
