// Package schema declares the output contracts a model response must satisfy
// and validates raw model output against them.
//
// A contract is built from a small set of declarative nodes. The same tree
// drives validation and the schema description embedded in prompts, so the
// two cannot disagree.
package schema

// Kind identifies the shape a Node accepts.
type Kind int

const (
	KindObject Kind = iota
	KindArray
	KindString
	KindNumber
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Node is one element of a contract tree.
type Node struct {
	Kind Kind
	Doc  string

	Fields []Field  // KindObject, in declaration order
	Items  *Node    // KindArray
	Values []string // KindEnum
	Min    *float64 // KindNumber, inclusive
	Max    *float64 // KindNumber, inclusive
}

// Field is a named member of an object node.
type Field struct {
	Name     string
	Optional bool
	Node     *Node
}

func Object(fields ...Field) *Node {
	return &Node{Kind: KindObject, Fields: fields}
}

func Array(items *Node) *Node {
	return &Node{Kind: KindArray, Items: items}
}

func String(doc string) *Node {
	return &Node{Kind: KindString, Doc: doc}
}

func Number(doc string) *Node {
	return &Node{Kind: KindNumber, Doc: doc}
}

// Range is a number constrained to the closed interval [lo, hi].
func Range(lo, hi float64, doc string) *Node {
	return &Node{Kind: KindNumber, Doc: doc, Min: &lo, Max: &hi}
}

func Enum(doc string, values ...string) *Node {
	return &Node{Kind: KindEnum, Doc: doc, Values: values}
}

func Required(name string, n *Node) Field {
	return Field{Name: name, Node: n}
}

func Optional(name string, n *Node) Field {
	return Field{Name: name, Optional: true, Node: n}
}
