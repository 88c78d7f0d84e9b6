package pathx

// Axis enumerates the step axes the grammar recognizes (spec §4.3).
type Axis int

const (
	AxisChild Axis = iota
	AxisDescendant
	AxisDescendantOrSelf
	AxisParent
	AxisAncestor
	AxisSelf
	AxisRoot
)

// testKind distinguishes the three node-test forms the grammar allows.
type testKind int

const (
	testLabel testKind = iota
	testStar
	testNode // node()
)

type nodeTest struct {
	kind  testKind
	label string
}

// step is one `/`-separated location step: an axis, a node test, and zero or
// more bracketed predicates.
type step struct {
	axis       Axis
	test       nodeTest
	predicates []Expr
}

// LocationPath is a `/`-separated sequence of steps, optionally rooted.
type LocationPath struct {
	Absolute bool
	Steps    []step
}

// Expr is any pathx expression: a location path, or a scalar/boolean
// expression built from literals, variables, function calls, and operators.
type Expr interface {
	exprNode()
}

func (*LocationPath) exprNode() {}

// BinaryExpr is a relational, arithmetic, or boolean-connective expression.
type BinaryExpr struct {
	Op   string // "=", "!=", "<", "<=", ">", ">=", "=~", "+", "-", "*", "div", "mod", "and", "or"
	L, R Expr
}

func (*BinaryExpr) exprNode() {}

// UnaryExpr is "not expr" or "-expr".
type UnaryExpr struct {
	Op string
	X  Expr
}

func (*UnaryExpr) exprNode() {}

// Literal is a quoted string constant.
type Literal struct {
	Value string
}

func (*Literal) exprNode() {}

// Number is an integer or decimal constant.
type Number struct {
	Value float64
}

func (*Number) exprNode() {}

// VarRef is a `$name` variable reference.
type VarRef struct {
	Name string
}

func (*VarRef) exprNode() {}

// FuncCall is a function call such as count(e), glob(e), label(), last(),
// position(), regexp(e).
type FuncCall struct {
	Name string
	Args []Expr
}

func (*FuncCall) exprNode() {}
