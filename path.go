package falkordb

import (
	"slices"
	"strings"
)

// Path is an alternating sequence of nodes and edges as returned by a path
// expression. A well-formed path has exactly one more node than edges.
type Path struct {
	nodes []*Node
	edges []*Edge
}

// NewPath creates a Path. The slices are copied.
func NewPath(nodes []*Node, edges []*Edge) *Path {
	return &Path{
		nodes: slices.Clone(nodes),
		edges: slices.Clone(edges),
	}
}

// Nodes returns the nodes along the path.
func (p *Path) Nodes() []*Node {
	return slices.Clone(p.nodes)
}

// Edges returns the edges along the path.
func (p *Path) Edges() []*Edge {
	return slices.Clone(p.edges)
}

// NodeCount returns the number of nodes in the path.
func (p *Path) NodeCount() int {
	return len(p.nodes)
}

// EdgeCount returns the number of edges in the path.
func (p *Path) EdgeCount() int {
	return len(p.edges)
}

// NodeAt returns the node at index i, or false when i is out of range.
func (p *Path) NodeAt(i int) (*Node, bool) {
	if i < 0 || i >= len(p.nodes) {
		return nil, false
	}
	return p.nodes[i], true
}

// EdgeAt returns the edge at index i, or false when i is out of range.
func (p *Path) EdgeAt(i int) (*Edge, bool) {
	if i < 0 || i >= len(p.edges) {
		return nil, false
	}
	return p.edges[i], true
}

// FirstNode returns the first node of the path.
func (p *Path) FirstNode() (*Node, bool) {
	return p.NodeAt(0)
}

// LastNode returns the last node of the path.
func (p *Path) LastNode() (*Node, bool) {
	return p.NodeAt(len(p.nodes) - 1)
}

// Equal reports whether other is a Path (or *Path) whose nodes and edges are
// pairwise equal.
func (p *Path) Equal(other any) bool {
	if p == nil {
		return false
	}

	var o *Path
	switch v := other.(type) {
	case *Path:
		o = v
	case Path:
		o = &v
	default:
		return false
	}
	if o == nil {
		return false
	}

	return slices.EqualFunc(p.nodes, o.nodes, func(a, b *Node) bool { return a.Equal(b) }) &&
		slices.EqualFunc(p.edges, o.edges, func(a, b *Edge) bool { return a.Equal(b) })
}

// String renders the path as <(a:Person)-[KNOWS]->(b:Person)>.
func (p *Path) String() string {
	parts := make([]string, 0, len(p.nodes)+len(p.edges))
	for i, n := range p.nodes {
		parts = append(parts, n.String())
		if i < len(p.edges) {
			parts = append(parts, "-["+p.edges[i].Relation()+"]->")
		}
	}
	return "<" + strings.Join(parts, "") + ">"
}
