package compiler

// RelocKind distinguishes what a Relocation's Addr field resolves to.
type RelocKind uint8

const (
	RelocData RelocKind = iota // Addr is a byte offset into Program.Data
	RelocFunc                  // Addr is a word offset into Program.Text
)

// Relocation patches an 8-byte little-endian pointer-sized slot in
// Program.Data at Offset once every global's data offset and every
// function's text address is known (SPEC_FULL.md §6.2's "relocation
// table").
type Relocation struct {
	Offset int64
	Addr   uint32
	Kind   RelocKind
	Addend int64
}

// FuncInfo is post-link metadata about one emitted function, used by the
// disassembler, the debugger's PC→source mapping, and leak/fault reports
// that print an allocation's originating function.
type FuncInfo struct {
	Name      string
	Addr      uint32 // text-segment word offset of the first instruction
	FrameSize int64
	NumParams int
	IsVariadic bool
	Source    []SourceLine // PC (word offset, relative to Addr) -> source position, for -g
}

// SourceLine maps one instruction's word offset (relative to its function's
// Addr) to the source position that produced it.
type SourceLine struct {
	PC   uint32
	Line int
	Col  int
	File string
}

// FFIImport records one host function this program calls through CALLF,
// resolved against the embedder's ffi.Table at load time.
type FFIImport struct {
	Name string
}

// Program is a fully linked, directly executable compiled translation unit
// (or the result of linking several): a text segment of instruction words,
// a data segment of global storage, the relocations needed to patch
// pointer-valued slots in Data, and the table of host functions referenced
// through CALLF.
type Program struct {
	Text        []uint64
	Data        []byte
	Relocations []Relocation
	FFIImports  []FFIImport
	Funcs       []FuncInfo
	EntryPC     uint32 // text offset of main, or 0 if the program has no main
	RetBufBase  int64  // data-segment offset of the struct-return buffer pool
	RetBufSize  int64  // size in bytes of one buffer in the pool
	RetBufCount int    // number of buffers in the rotating pool
}

// FuncByAddr returns the FuncInfo owning pc (a text word offset), or nil.
func (p *Program) FuncByAddr(pc uint32) *FuncInfo {
	var best *FuncInfo
	for i := range p.Funcs {
		f := &p.Funcs[i]
		if f.Addr <= pc && (best == nil || f.Addr > best.Addr) {
			best = f
		}
	}
	return best
}
