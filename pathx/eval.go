package pathx

import (
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/augeas-go/augeas/rx"
	"github.com/augeas-go/augeas/tree"
)

// valKind is the XPath-style dynamic type an expression evaluates to.
type valKind int

const (
	KindNodeSet valKind = iota
	KindString
	KindNumber
	KindBoolean
)

// Value is the result of evaluating an Expr: a node-set, string, number, or
// boolean, matching the four XPath-derived types the grammar's primary
// expressions and operators produce (spec §4.3).
type Value struct {
	Kind  valKind
	Nodes []tree.ID
	Str   string
	Num   float64
	Bool  bool
}

func nodeSetValue(ids []tree.ID) Value { return Value{Kind: KindNodeSet, Nodes: ids} }
func stringValue(s string) Value       { return Value{Kind: KindString, Str: s} }
func numberValue(n float64) Value      { return Value{Kind: KindNumber, Num: n} }
func boolValue(b bool) Value           { return Value{Kind: KindBoolean, Bool: b} }

// Symtab holds the `$name` variable bindings DefVar/DefNode install. Each
// binding captures a Value at definition time, not a lazily re-evaluated
// expression (spec §4.3 "captured at definition time").
type Symtab map[string]Value

// Context carries per-evaluation state: the tree being queried, the current
// context node, and the position/size of the node-set currently being
// filtered by a predicate (for position() and last()).
type Context struct {
	Store *tree.Store
	Node  tree.ID
	Pos   int
	Size  int
}

// Eval evaluates expr against ctx using sym for variable lookups.
func Eval(ctx *Context, sym Symtab, expr Expr) (Value, error) {
	switch e := expr.(type) {
	case *LocationPath:
		return evalLocationPath(ctx, sym, e)
	case *BinaryExpr:
		return evalBinary(ctx, sym, e)
	case *UnaryExpr:
		return evalUnary(ctx, sym, e)
	case *Literal:
		return stringValue(e.Value), nil
	case *Number:
		return numberValue(e.Value), nil
	case *VarRef:
		v, ok := sym[e.Name]
		if !ok {
			return Value{}, &NameError{Name: e.Name}
		}
		return v, nil
	case *FuncCall:
		return evalFuncCall(ctx, sym, e)
	}
	return Value{}, &TypeError{Msg: "unrecognized expression"}
}

func evalLocationPath(ctx *Context, sym Symtab, lp *LocationPath) (Value, error) {
	var cur []tree.ID
	if lp.Absolute {
		cur = []tree.ID{ctx.Store.Root()}
	} else {
		cur = []tree.ID{ctx.Node}
	}
	for _, st := range lp.Steps {
		next, err := evalStep(ctx, sym, cur, st)
		if err != nil {
			return Value{}, err
		}
		cur = next
	}
	return nodeSetValue(cur), nil
}

func axisNodes(s *tree.Store, n tree.ID, axis Axis) []tree.ID {
	switch axis {
	case AxisChild:
		return append([]tree.ID(nil), s.Children(n)...)
	case AxisDescendant:
		var out []tree.ID
		var walk func(tree.ID)
		walk = func(x tree.ID) {
			for _, c := range s.Children(x) {
				out = append(out, c)
				walk(c)
			}
		}
		walk(n)
		return out
	case AxisDescendantOrSelf:
		out := []tree.ID{n}
		return append(out, axisNodes(s, n, AxisDescendant)...)
	case AxisParent:
		p := s.Parent(n)
		if p == n {
			return nil
		}
		return []tree.ID{p}
	case AxisAncestor:
		var out []tree.ID
		cur := n
		for {
			p := s.Parent(cur)
			if p == cur {
				return out
			}
			out = append(out, p)
			cur = p
		}
	case AxisSelf:
		return []tree.ID{n}
	case AxisRoot:
		return []tree.ID{s.Root()}
	}
	return nil
}

func testMatch(s *tree.Store, n tree.ID, t nodeTest) bool {
	switch t.kind {
	case testStar:
		_, ok := s.Label(n)
		return ok
	case testNode:
		return true
	case testLabel:
		l, ok := s.Label(n)
		return ok && l == t.label
	}
	return false
}

func evalStep(ctx *Context, sym Symtab, cur []tree.ID, st step) ([]tree.ID, error) {
	var expanded []tree.ID
	seen := map[tree.ID]bool{}
	for _, n := range cur {
		for _, c := range axisNodes(ctx.Store, n, st.axis) {
			if seen[c] || !testMatch(ctx.Store, c, st.test) {
				continue
			}
			seen[c] = true
			expanded = append(expanded, c)
		}
	}

	for _, predExpr := range st.predicates {
		size := len(expanded)
		var filtered []tree.ID
		for i, n := range expanded {
			sub := &Context{Store: ctx.Store, Node: n, Pos: i + 1, Size: size}
			v, err := Eval(sub, sym, predExpr)
			if err != nil {
				return nil, err
			}
			if predicateTrue(v, i+1) {
				filtered = append(filtered, n)
			}
		}
		expanded = filtered
	}
	return expanded, nil
}

// predicateTrue implements XPath's numeric-predicate shorthand: a bare
// number N in a predicate means position() = N.
func predicateTrue(v Value, pos int) bool {
	if v.Kind == KindNumber {
		return int(v.Num) == pos && float64(int(v.Num)) == v.Num
	}
	return valueToBool(v)
}

func valueToBool(v Value) bool {
	switch v.Kind {
	case KindNodeSet:
		return len(v.Nodes) > 0
	case KindString:
		return v.Str != ""
	case KindNumber:
		return v.Num != 0
	case KindBoolean:
		return v.Bool
	}
	return false
}

func nodeString(s *tree.Store, id tree.ID) string {
	v, ok := s.Value(id)
	if !ok {
		return ""
	}
	return v
}

func valueToString(s *tree.Store, v Value) string {
	switch v.Kind {
	case KindNodeSet:
		if len(v.Nodes) == 0 {
			return ""
		}
		return nodeString(s, v.Nodes[0])
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return ""
}

func valueToNumber(v Value) float64 {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBoolean:
		if v.Bool {
			return 1
		}
		return 0
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0
		}
		return n
	case KindNodeSet:
		return 0
	}
	return 0
}

func evalUnary(ctx *Context, sym Symtab, e *UnaryExpr) (Value, error) {
	x, err := Eval(ctx, sym, e.X)
	if err != nil {
		return Value{}, err
	}
	switch e.Op {
	case "not":
		return boolValue(!valueToBool(x)), nil
	case "-":
		return numberValue(-valueToNumber(x)), nil
	}
	return Value{}, &TypeError{Msg: "unknown unary operator " + e.Op}
}

func equalValues(s *tree.Store, l, r Value) bool {
	if l.Kind == KindNodeSet && r.Kind == KindNodeSet {
		for _, a := range l.Nodes {
			for _, b := range r.Nodes {
				if nodeString(s, a) == nodeString(s, b) {
					return true
				}
			}
		}
		return false
	}
	if l.Kind == KindNodeSet {
		rs := valueToString(s, r)
		for _, a := range l.Nodes {
			if nodeString(s, a) == rs {
				return true
			}
		}
		return false
	}
	if r.Kind == KindNodeSet {
		return equalValues(s, r, l)
	}
	if l.Kind == KindNumber || r.Kind == KindNumber {
		return valueToNumber(l) == valueToNumber(r)
	}
	return valueToString(s, l) == valueToString(s, r)
}

func evalBinary(ctx *Context, sym Symtab, e *BinaryExpr) (Value, error) {
	switch e.Op {
	case "and":
		l, err := Eval(ctx, sym, e.L)
		if err != nil {
			return Value{}, err
		}
		if !valueToBool(l) {
			return boolValue(false), nil
		}
		r, err := Eval(ctx, sym, e.R)
		if err != nil {
			return Value{}, err
		}
		return boolValue(valueToBool(r)), nil
	case "or":
		l, err := Eval(ctx, sym, e.L)
		if err != nil {
			return Value{}, err
		}
		if valueToBool(l) {
			return boolValue(true), nil
		}
		r, err := Eval(ctx, sym, e.R)
		if err != nil {
			return Value{}, err
		}
		return boolValue(valueToBool(r)), nil
	}

	l, err := Eval(ctx, sym, e.L)
	if err != nil {
		return Value{}, err
	}
	r, err := Eval(ctx, sym, e.R)
	if err != nil {
		return Value{}, err
	}

	switch e.Op {
	case "=":
		return boolValue(equalValues(ctx.Store, l, r)), nil
	case "!=":
		return boolValue(!equalValues(ctx.Store, l, r)), nil
	case "<":
		return boolValue(valueToNumber(l) < valueToNumber(r)), nil
	case "<=":
		return boolValue(valueToNumber(l) <= valueToNumber(r)), nil
	case ">":
		return boolValue(valueToNumber(l) > valueToNumber(r)), nil
	case ">=":
		return boolValue(valueToNumber(l) >= valueToNumber(r)), nil
	case "=~":
		pattern := valueToString(ctx.Store, r)
		re, err := rx.New(pattern)
		if err != nil {
			return Value{}, &TypeError{Msg: "invalid regexp in =~: " + err.Error()}
		}
		// =~ matches the whole value, not a substring.
		s := valueToString(ctx.Store, l)
		return boolValue(re.Match(s, 0) == len(s)), nil
	case "+":
		return numberValue(valueToNumber(l) + valueToNumber(r)), nil
	case "-":
		return numberValue(valueToNumber(l) - valueToNumber(r)), nil
	case "*":
		return numberValue(valueToNumber(l) * valueToNumber(r)), nil
	case "div":
		return numberValue(valueToNumber(l) / valueToNumber(r)), nil
	case "mod":
		ln, rn := int64(valueToNumber(l)), int64(valueToNumber(r))
		if rn == 0 {
			return numberValue(0), nil
		}
		return numberValue(float64(ln % rn)), nil
	}
	return Value{}, &TypeError{Msg: "unknown binary operator " + e.Op}
}

func evalFuncCall(ctx *Context, sym Symtab, f *FuncCall) (Value, error) {
	switch f.Name {
	case "count":
		if len(f.Args) != 1 {
			return Value{}, &TypeError{Msg: "count() takes exactly one argument"}
		}
		v, err := Eval(ctx, sym, f.Args[0])
		if err != nil {
			return Value{}, err
		}
		if v.Kind != KindNodeSet {
			return Value{}, &TypeError{Msg: "count() requires a node-set argument"}
		}
		return numberValue(float64(len(v.Nodes))), nil
	case "last":
		if len(f.Args) != 0 {
			return Value{}, &TypeError{Msg: "last() takes no arguments"}
		}
		return numberValue(float64(ctx.Size)), nil
	case "position":
		if len(f.Args) != 0 {
			return Value{}, &TypeError{Msg: "position() takes no arguments"}
		}
		return numberValue(float64(ctx.Pos)), nil
	case "label":
		if len(f.Args) != 0 {
			return Value{}, &TypeError{Msg: "label() takes no arguments"}
		}
		l, _ := ctx.Store.Label(ctx.Node)
		return stringValue(l), nil
	case "glob":
		if len(f.Args) != 1 {
			return Value{}, &TypeError{Msg: "glob() takes exactly one argument"}
		}
		v, err := Eval(ctx, sym, f.Args[0])
		if err != nil {
			return Value{}, err
		}
		pattern := valueToString(ctx.Store, v)
		ok, err := doublestar.Match(pattern, strings.TrimPrefix(ctx.Store.PathOf(ctx.Node), "/"))
		if err != nil {
			return Value{}, &TypeError{Msg: "invalid glob pattern: " + err.Error()}
		}
		return boolValue(ok), nil
	case "regexp":
		// regexp(e) just tags e as a regex pattern rather than a literal
		// string; as a standalone predicate value it degrades to e's
		// string value (used together with =~, which already treats its
		// right operand as a pattern).
		if len(f.Args) != 1 {
			return Value{}, &TypeError{Msg: "regexp() takes exactly one argument"}
		}
		v, err := Eval(ctx, sym, f.Args[0])
		if err != nil {
			return Value{}, err
		}
		return stringValue(valueToString(ctx.Store, v)), nil
	}
	return Value{}, &NameError{Name: f.Name}
}

// Iter is the pathx_first/next iteration protocol over the node-set an
// expression evaluates to (spec §4.3): the whole set is materialized once
// at First and then walked in document order, so mutations between Next
// calls cannot change which nodes the iteration visits.
type Iter struct {
	nodes []tree.ID
	pos   int
}

// First evaluates expr and starts an iteration over its node-set,
// returning the iterator along with the first node (ok is false for an
// empty set).
func First(ctx *Context, sym Symtab, expr Expr) (*Iter, tree.ID, bool, error) {
	v, err := Eval(ctx, sym, expr)
	if err != nil {
		return nil, 0, false, err
	}
	if v.Kind != KindNodeSet {
		return nil, 0, false, &TypeError{Msg: "expression does not denote a node-set"}
	}
	it := &Iter{nodes: v.Nodes}
	id, ok := it.Next()
	return it, id, ok, nil
}

// Next yields the following node of the set, in document order.
func (it *Iter) Next() (tree.ID, bool) {
	if it.pos >= len(it.nodes) {
		return 0, false
	}
	id := it.nodes[it.pos]
	it.pos++
	return id, true
}

// FindOne evaluates expr and returns the sole matching node. It returns
// (0, 0, nil) for no matches, (id, 1, nil) for exactly one, and (0, n, nil)
// for n > 1 matches (the caller decides whether ambiguity is an error, per
// ENOMATCH/EMMATCH semantics).
func FindOne(ctx *Context, sym Symtab, expr Expr) (tree.ID, int, error) {
	v, err := Eval(ctx, sym, expr)
	if err != nil {
		return 0, 0, err
	}
	if v.Kind != KindNodeSet {
		return 0, 0, &TypeError{Msg: "expression does not denote a node-set"}
	}
	if len(v.Nodes) == 1 {
		return v.Nodes[0], 1, nil
	}
	return 0, len(v.Nodes), nil
}

// Expand evaluates a pure location path and, if it denotes a single
// not-yet-existing node, creates it and every missing ancestor along the
// way (spec §4.3 expand_tree: "illegal for expressions that are not pure
// location paths"). It returns the node's final ID.
func Expand(s *tree.Store, lp *LocationPath) (tree.ID, error) {
	cur := s.Root()
	if !lp.Absolute {
		return 0, &TypeError{Msg: "expand_tree requires an absolute location path"}
	}
	for _, st := range lp.Steps {
		if st.axis != AxisChild || st.test.kind != testLabel || len(st.predicates) > 0 {
			return 0, &TypeError{Msg: "expand_tree requires a pure location path of plain child labels"}
		}
		cur = s.ChildOrCreate(cur, st.test.label)
	}
	return cur, nil
}
