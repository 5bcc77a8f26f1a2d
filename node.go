package falkordb

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// DefaultNodeAlias is the alias a Node gets when none is supplied.
const DefaultNodeAlias = "n"

// Node represents a node in a graph.
//
// A Node is a snapshot: it is built either by client code to describe a
// pattern for a query (no id), or from a server reply (id set). It exposes no
// mutators, and accessors hand out copies, so a Node can be shared between
// goroutines without locking.
//
// Two nodes are equal when their id, labels and properties are equal. The
// alias is a query-local binding name and takes no part in equality.
type Node struct {
	alias      string
	id         *int64
	labels     []string
	properties map[string]any
}

// NodeOption configures a Node at construction time.
type NodeOption func(*Node)

// WithAlias sets the alias used when the node appears in a query pattern.
func WithAlias(alias string) NodeOption {
	return func(n *Node) {
		n.alias = alias
	}
}

// WithID sets the server-assigned node id.
func WithID(id int64) NodeOption {
	return func(n *Node) {
		n.id = &id
	}
}

// WithLabel sets a single label. It is stored as a one-element label list.
func WithLabel(label string) NodeOption {
	return func(n *Node) {
		n.labels = []string{label}
	}
}

// WithLabels sets the node labels. Calling it with no arguments records an
// empty, non-nil label list.
func WithLabels(labels ...string) NodeOption {
	return func(n *Node) {
		n.labels = append(make([]string, 0, len(labels)), labels...)
	}
}

// WithProperties sets the node properties. The map is copied; a nil map
// leaves the node with empty properties.
func WithProperties(props map[string]any) NodeOption {
	return func(n *Node) {
		if props != nil {
			n.properties = maps.Clone(props)
		}
	}
}

// NewNode creates a Node. Without options the node has alias "n", no id,
// nil labels and an empty property map.
//
// Example:
//
//	person := falkordb.NewNode(
//	    falkordb.WithAlias("p"),
//	    falkordb.WithLabel("Person"),
//	    falkordb.WithProperties(map[string]any{"name": "Alice"}),
//	)
//	fmt.Println(person) // (p:Person {name: "Alice"})
func NewNode(opts ...NodeOption) *Node {
	n := &Node{alias: DefaultNodeAlias}
	for _, opt := range opts {
		opt(n)
	}
	if n.properties == nil {
		n.properties = make(map[string]any)
	}
	return n
}

// Alias returns the query binding name of the node.
func (n *Node) Alias() string {
	return n.alias
}

// ID returns the server-assigned id and whether one is set.
func (n *Node) ID() (int64, bool) {
	if n.id == nil {
		return 0, false
	}
	return *n.id, true
}

// NodeID is the long-form name of ID.
func (n *Node) NodeID() (int64, bool) {
	return n.ID()
}

// Labels returns a copy of the node labels. The result is nil when the node
// was built without labels.
func (n *Node) Labels() []string {
	return slices.Clone(n.labels)
}

// Properties returns a shallow copy of the node properties. It is never nil.
func (n *Node) Properties() map[string]any {
	return maps.Clone(n.properties)
}

// Property returns a single property value.
func (n *Node) Property(key string) (any, bool) {
	v, ok := n.properties[key]
	return v, ok
}

// Equal reports whether other is a Node (or *Node) with the same id, labels
// and properties. It never panics, whatever the type of other.
func (n *Node) Equal(other any) bool {
	if n == nil {
		return false
	}

	var o *Node
	switch v := other.(type) {
	case *Node:
		o = v
	case Node:
		o = &v
	default:
		return false
	}
	if o == nil {
		return false
	}

	return equalID(n.id, o.id) &&
		reflect.DeepEqual(n.labels, o.labels) &&
		reflect.DeepEqual(n.properties, o.properties)
}

// Key returns a string usable as a map key. Equal nodes produce equal keys.
func (n *Node) Key() string {
	id := "-"
	if n.id != nil {
		id = fmt.Sprint(*n.id)
	}
	// formatProperties sorts keys and follows pointers, matching DeepEqual.
	return fmt.Sprintf("%s|%q|%s", id, n.labels, formatProperties(n.properties))
}

// String renders the node as a Cypher node pattern, e.g.
// (p:Person:Employee {age: 33, name: "Alice"}).
func (n *Node) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(n.alias)
	for _, label := range n.labels {
		b.WriteByte(':')
		b.WriteString(label)
	}
	if len(n.properties) > 0 {
		if b.Len() > 1 {
			b.WriteByte(' ')
		}
		b.WriteString(formatProperties(n.properties))
	}
	b.WriteByte(')')
	return b.String()
}

func equalID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
