package ast

// VisitDirection indicates whether a call to Visit enters or exits a node.
type VisitDirection int

const (
	VisitEnter VisitDirection = iota
	VisitExit
)

// Visitor is called for each node participating in a Walk. Returning a nil
// Visitor from Visit skips the node's children.
type Visitor interface {
	Visit(n *Node, dir VisitDirection) (w Visitor)
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(n *Node, dir VisitDirection) Visitor

func (f VisitorFunc) Visit(n *Node, dir VisitDirection) Visitor { return f(n, dir) }

// Walk visits node and its children depth-first, calling v.Visit on enter
// and, if the enter call did not skip the subtree, again on exit.
func Walk(v Visitor, node *Node) {
	if node == nil {
		return
	}
	if v = v.Visit(node, VisitEnter); v == nil {
		return
	}
	for _, c := range node.children() {
		Walk(v, c)
	}
	v.Visit(node, VisitExit)
}

// children returns every non-nil *Node directly reachable from n, in source
// order, used by Walk and the AST printer.
func (n *Node) children() []*Node {
	var cs []*Node
	add := func(c *Node) {
		if c != nil {
			cs = append(cs, c)
		}
	}
	add(n.Lhs)
	add(n.Rhs)
	add(n.Cond_)
	add(n.Then)
	add(n.Else)
	add(n.Init)
	add(n.Post)
	cs = append(cs, n.Args...)
	cs = append(cs, n.Body...)
	cs = append(cs, n.Cases...)
	return cs
}
