package ast

import (
	"fmt"
	"io"
	"strings"
)

// Printer pretty-prints an AST for the CLI's -a (dump AST) flag, in the
// teacher's indentation-driven style (lang/ast/printer.go), adapted from
// the teacher's %v-formatter convention to this package's tagged-struct
// Node (which has no per-kind Go type to hang a Format method off of).
type Printer struct {
	Output     io.Writer
	ShowTokens bool
}

// Print writes an indented dump of n to p.Output.
func (p *Printer) Print(n *Node) error {
	pp := &printer{w: p.Output, showTokens: p.ShowTokens}
	return pp.print(n, 0)
}

type printer struct {
	w          io.Writer
	showTokens bool
	err        error
}

func (pp *printer) print(n *Node, depth int) error {
	if n == nil {
		return pp.err
	}
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("%s%s", indent, n.Kind)
	if n.Name != "" {
		line += fmt.Sprintf(" %q", n.Name)
	}
	if n.Typ != nil {
		line += fmt.Sprintf(" : %s", n.Typ.Kind)
	}
	if pp.showTokens && n.Tok.Pos.IsValid() {
		line += fmt.Sprintf(" @%s", n.Tok.Pos)
	}
	if _, err := fmt.Fprintln(pp.w, line); err != nil {
		pp.err = err
		return err
	}
	for _, c := range n.children() {
		if err := pp.print(c, depth+1); err != nil {
			return err
		}
	}
	return pp.err
}
