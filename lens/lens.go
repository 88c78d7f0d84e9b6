// Package lens implements the lens value layer and non-recursive evaluator
// (spec Components D and E): the tagged Lens variant with its four inferred
// regex types, and get/put/create over a single combinator at a time.
//
// Dispatch is by an explicit Tag switch, not an interface-per-combinator
// hierarchy, the same "tagged value, central switch" shape as the teacher's
// lang/interfaces AST nodes and lang/funcs/simplepoly's single-dispatch-
// table-per-kind organization.
package lens

import "github.com/augeas-go/augeas/rx"

// Tag identifies which combinator a Lens is.
type Tag int

const (
	Del Tag = iota
	Store
	Value
	Key
	Label
	Seq
	Counter
	Concat
	Union
	Subtree
	Star
	Maybe
	Square
	Rec
)

// Lens is the tagged value every evaluator and the transducer operate on.
// Only the fields relevant to its Tag are populated by the constructors
// below; Infer fills in CType/Nullable (and, where meaningful, KType/VType)
// after construction.
type Lens struct {
	Tag Tag

	Regex   *rx.Regex // Del/Store/Key's matching regex
	Default string    // Del's default text for create/put-without-skeleton
	Literal string     // Value/Label's literal text
	Name    string     // Seq/Counter's counter name

	Children []*Lens // Concat/Union: [a, b]; Subtree/Star/Maybe: [body]; Square: [key, body, end]
	Alias    string  // Rec's name, for error messages

	// Filled in by Infer. KType/VType describe the label/value this lens
	// contributes to the subtree being built around it; LType describes
	// the labels of finished nodes it produces (a SUBTREE consumes its
	// body's KType and exposes it as LType instead).
	CType     *rx.Regex
	KType     *rx.Regex
	VType     *rx.Regex
	LType     *rx.Regex
	Nullable  bool
	Recursive bool // true for REC and anything containing one; driven by the transducer, not Get/Put/Create directly
	inferred  bool
}

func leaf(tag Tag) *Lens { return &Lens{Tag: tag} }

// NewDel returns DEL(r, def): matches r, consuming it without emitting any
// tree nodes; put/create fall back to def when there is no skeleton.
func NewDel(r *rx.Regex, def string) *Lens {
	return &Lens{Tag: Del, Regex: r, Default: def}
}

// NewStore returns STORE(r): matches r, contributing the matched text as
// the enclosing subtree's value.
func NewStore(r *rx.Regex) *Lens { return &Lens{Tag: Store, Regex: r} }

// NewValue returns VALUE(s): consumes nothing, contributing the literal s
// as the enclosing subtree's value.
func NewValue(s string) *Lens { return &Lens{Tag: Value, Literal: s} }

// NewKey returns KEY(r): matches r, contributing the matched text as the
// enclosing subtree's label.
func NewKey(r *rx.Regex) *Lens { return &Lens{Tag: Key, Regex: r} }

// NewLabel returns LABEL(s): consumes nothing, contributing the literal s
// as the enclosing subtree's label.
func NewLabel(s string) *Lens { return &Lens{Tag: Label, Literal: s} }

// NewSeq returns SEQ(name): consumes nothing, contributing the current
// value of counter name as the enclosing subtree's label, then
// incrementing the counter.
func NewSeq(name string) *Lens { return &Lens{Tag: Seq, Name: name} }

// NewCounter returns COUNTER(name): consumes nothing, resetting counter
// name to 1.
func NewCounter(name string) *Lens { return &Lens{Tag: Counter, Name: name} }

// NewConcat returns CONCAT(a, b).
func NewConcat(a, b *Lens) *Lens { return &Lens{Tag: Concat, Children: []*Lens{a, b}} }

// NewUnion returns UNION(a, b): try a first, fall back to b.
func NewUnion(a, b *Lens) *Lens { return &Lens{Tag: Union, Children: []*Lens{a, b}} }

// NewSubtree returns SUBTREE(l): folds l's contributions into one finished
// node — l's key and value become the node's label and value, l's own
// completed subtrees become its children.
func NewSubtree(l *Lens) *Lens { return &Lens{Tag: Subtree, Children: []*Lens{l}} }

// NewStar returns STAR(l): zero or more repetitions of l.
func NewStar(l *Lens) *Lens { return &Lens{Tag: Star, Children: []*Lens{l}} }

// NewMaybe returns MAYBE(l): zero or one repetitions of l.
func NewMaybe(l *Lens) *Lens { return &Lens{Tag: Maybe, Children: []*Lens{l}} }

// NewSquare returns SQUARE(key, body, end): a palindrome combinator where
// end must consume exactly the text key matched.
func NewSquare(key, body, end *Lens) *Lens {
	return &Lens{Tag: Square, Children: []*Lens{key, body, end}}
}

// NewRec returns REC(body, alias): a recursive lens whose body may refer
// back to it. Callers build the cycle by mutating Children after
// construction: r := NewRec(nil, "entry"); r.Children = []*Lens{bodyThatRefersToR}.
func NewRec(body *Lens, alias string) *Lens {
	return &Lens{Tag: Rec, Children: []*Lens{body}, Alias: alias}
}

// Node is a detached tree fragment produced by Get and consumed by Put: the
// same-shaped node spec §3's tree model uses, but not yet attached to any
// tree.Store (attachment happens in the transform layer, which splices a
// whole fragment under /files/<path> at once).
type Node struct {
	Label    *string
	Value    *string
	Children []*Node
	Span     *NodeSpan
}

// NodeSpan records the byte ranges in the source text that produced a node
// during get (spec §3 "Span"): the label and value substrings (0/0 when
// absent or literal-produced) and the node's whole extent.
type NodeSpan struct {
	LabelStart, LabelEnd int
	ValueStart, ValueEnd int
	Start, End           int
}

// Skeleton preserves enough of the original text's shape to let Put
// reproduce formatting Get discarded (spec §3 "Skeleton / dictionary").
// Tag names the combinator (and, for Union, which branch) that produced it.
type Skeleton struct {
	Tag   string
	Text  string
	Parts []*Skeleton
}

// Dict maps a child's label to the skeleton/original-node pairs recorded
// for it during Get, so Put can reuse them by key rather than by position
// (spec §3 "Skeleton / dictionary", §4.5 Subtree put: "look up the
// dictionary entry by the child's label").
type Dict map[string][]DictEntry

// DictEntry is one recorded (original node, skeleton) pair for a label.
type DictEntry struct {
	Node *Node
	Skel *Skeleton
}
