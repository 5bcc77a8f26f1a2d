package falkordb

import (
	"fmt"
	"maps"
	"reflect"
	"strings"
)

// DefaultEdgeAlias is the alias an Edge gets when none is supplied.
const DefaultEdgeAlias = "e"

// Edge represents a directed relationship between two nodes in a graph.
//
// An endpoint is either a full *Node or just a node id; the latter is what
// the server reports for edges in compact replies. Like Node, an Edge is an
// immutable snapshot and its alias does not take part in equality.
type Edge struct {
	alias      string
	id         *int64
	relation   string
	src        *Node
	dest       *Node
	srcID      *int64
	destID     *int64
	properties map[string]any
}

// EdgeOption configures an Edge at construction time.
type EdgeOption func(*Edge)

// WithEdgeAlias sets the alias used when the edge appears in a query pattern.
func WithEdgeAlias(alias string) EdgeOption {
	return func(e *Edge) {
		e.alias = alias
	}
}

// WithEdgeID sets the server-assigned edge id.
func WithEdgeID(id int64) EdgeOption {
	return func(e *Edge) {
		e.id = &id
	}
}

// WithEdgeProperties sets the edge properties. The map is copied.
func WithEdgeProperties(props map[string]any) EdgeOption {
	return func(e *Edge) {
		if props != nil {
			e.properties = maps.Clone(props)
		}
	}
}

// NewEdge creates an Edge from src to dest with the given relationship type.
//
// Example:
//
//	knows := falkordb.NewEdge(alice, "KNOWS", bob,
//	    falkordb.WithEdgeProperties(map[string]any{"since": 2020}))
//	fmt.Println(knows) // (a)-[e:KNOWS {since: 2020}]->(b)
func NewEdge(src *Node, relation string, dest *Node, opts ...EdgeOption) *Edge {
	e := newEdge(relation, opts)
	e.src = src
	e.dest = dest
	return e
}

// NewEdgeByID creates an Edge whose endpoints are known only by node id.
func NewEdgeByID(srcID int64, relation string, destID int64, opts ...EdgeOption) *Edge {
	e := newEdge(relation, opts)
	e.srcID = &srcID
	e.destID = &destID
	return e
}

func newEdge(relation string, opts []EdgeOption) *Edge {
	e := &Edge{alias: DefaultEdgeAlias, relation: relation}
	for _, opt := range opts {
		opt(e)
	}
	if e.properties == nil {
		e.properties = make(map[string]any)
	}
	return e
}

// Alias returns the query binding name of the edge.
func (e *Edge) Alias() string {
	return e.alias
}

// ID returns the server-assigned edge id and whether one is set.
func (e *Edge) ID() (int64, bool) {
	if e.id == nil {
		return 0, false
	}
	return *e.id, true
}

// Relation returns the relationship type.
func (e *Edge) Relation() string {
	return e.relation
}

// Source returns the source node, or nil when only its id is known.
func (e *Edge) Source() *Node {
	return e.src
}

// Destination returns the destination node, or nil when only its id is known.
func (e *Edge) Destination() *Node {
	return e.dest
}

// SourceID returns the id of the source node, from the node itself when present.
func (e *Edge) SourceID() (int64, bool) {
	return endpointID(e.src, e.srcID)
}

// DestinationID returns the id of the destination node.
func (e *Edge) DestinationID() (int64, bool) {
	return endpointID(e.dest, e.destID)
}

// Properties returns a shallow copy of the edge properties. It is never nil.
func (e *Edge) Properties() map[string]any {
	return maps.Clone(e.properties)
}

// Equal reports whether other is an Edge (or *Edge) with the same id,
// relation, endpoints and properties. Endpoints given as nodes are compared
// with Node.Equal; otherwise their ids are compared.
func (e *Edge) Equal(other any) bool {
	if e == nil {
		return false
	}

	var o *Edge
	switch v := other.(type) {
	case *Edge:
		o = v
	case Edge:
		o = &v
	default:
		return false
	}
	if o == nil {
		return false
	}

	return equalID(e.id, o.id) &&
		e.relation == o.relation &&
		equalEndpoint(e.src, e.srcID, o.src, o.srcID) &&
		equalEndpoint(e.dest, e.destID, o.dest, o.destID) &&
		reflect.DeepEqual(e.properties, o.properties)
}

// String renders the edge as a Cypher relationship pattern, e.g.
// (a)-[e:KNOWS {since: 2020}]->(b).
func (e *Edge) String() string {
	var b strings.Builder
	b.WriteString(endpointPattern(e.src))
	b.WriteString("-[")
	b.WriteString(e.alias)
	if e.relation != "" {
		b.WriteByte(':')
		b.WriteString(e.relation)
	}
	if len(e.properties) > 0 {
		b.WriteByte(' ')
		b.WriteString(formatProperties(e.properties))
	}
	b.WriteString("]->")
	b.WriteString(endpointPattern(e.dest))
	return b.String()
}

func endpointID(n *Node, id *int64) (int64, bool) {
	if n != nil {
		return n.ID()
	}
	if id == nil {
		return 0, false
	}
	return *id, true
}

func equalEndpoint(a *Node, aID *int64, b *Node, bID *int64) bool {
	if a != nil && b != nil {
		return a.Equal(b)
	}
	x, xok := endpointID(a, aID)
	y, yok := endpointID(b, bID)
	return xok == yok && x == y
}

func endpointPattern(n *Node) string {
	if n == nil {
		return "()"
	}
	return fmt.Sprintf("(%s)", n.Alias())
}
