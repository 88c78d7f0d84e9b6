package pathx

// Parse parses a full pathx expression (a location path, or any scalar/
// boolean expression built on top of one) and returns its AST.
func Parse(expr string) (Expr, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: expr}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, newSyntaxError(expr, p.cur().pos)
	}
	return e, nil
}

// ParseLocationPath parses expr, requiring the whole thing to be a bare
// location path (no top-level boolean/arithmetic operators) — the form
// used directly by get/set/match/insert/etc.
func ParseLocationPath(expr string) (*LocationPath, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	lp, ok := e.(*LocationPath)
	if !ok {
		return nil, newSyntaxError(expr, 0)
	}
	return lp, nil
}

func tokenize(src string) ([]token, error) {
	l := newLexer(src)
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

type parser struct {
	toks []token
	pos  int
	src  string
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance()    { p.pos++ }
func (p *parser) peek(k int) token {
	i := p.pos + k
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF
	}
	return p.toks[i]
}

func (p *parser) errHere() error {
	return newSyntaxError(p.src, p.cur().pos)
}

func (p *parser) expect(k tokenKind) (token, error) {
	if p.cur().kind != k {
		return token{}, p.errHere()
	}
	t := p.cur()
	p.advance()
	return t, nil
}

// --- expression grammar, lowest to highest precedence ---

func (p *parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOr {
		p.advance()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: "or", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokAnd {
		p.advance()
		r, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: "and", L: l, R: r}
	}
	return l, nil
}

func (p *parser) parseEquality() (Expr, error) {
	l, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.cur().kind {
		case tokEq:
			op = "="
		case tokNe:
			op = "!="
		case tokTilde:
			op = "=~"
		default:
			return l, nil
		}
		p.advance()
		r, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: op, L: l, R: r}
	}
}

func (p *parser) parseRelational() (Expr, error) {
	l, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.cur().kind {
		case tokLt:
			op = "<"
		case tokLe:
			op = "<="
		case tokGt:
			op = ">"
		case tokGe:
			op = ">="
		default:
			return l, nil
		}
		p.advance()
		r, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: op, L: l, R: r}
	}
}

func (p *parser) parseAdditive() (Expr, error) {
	l, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.cur().kind {
		case tokPlus:
			op = "+"
		case tokMinus:
			op = "-"
		default:
			return l, nil
		}
		p.advance()
		r, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: op, L: l, R: r}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.cur().kind {
		case tokStar:
			op = "*"
		case tokDiv:
			op = "div"
		case tokMod:
			op = "mod"
		default:
			return l, nil
		}
		p.advance()
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &BinaryExpr{Op: op, L: l, R: r}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.cur().kind == tokNot {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "not", X: x}, nil
	}
	if p.cur().kind == tokMinus {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

var knownFuncs = map[string]bool{
	"count": true, "glob": true, "label": true, "last": true,
	"position": true, "regexp": true,
}

func (p *parser) parsePrimary() (Expr, error) {
	switch p.cur().kind {
	case tokLParen:
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return e, nil
	case tokString:
		t := p.cur()
		p.advance()
		return &Literal{Value: t.text}, nil
	case tokNumber:
		t := p.cur()
		p.advance()
		return &Number{Value: t.num}, nil
	case tokVariable:
		t := p.cur()
		p.advance()
		return &VarRef{Name: t.text}, nil
	case tokName:
		if knownFuncs[p.cur().text] && p.peek(1).kind == tokLParen {
			return p.parseFuncCall()
		}
		return p.parseLocationPathExpr()
	case tokSlash, tokSlashSlash, tokDot, tokDotDot, tokStar:
		return p.parseLocationPathExpr()
	}
	return nil, p.errHere()
}

func (p *parser) parseFuncCall() (Expr, error) {
	name := p.cur().text
	p.advance()
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	var args []Expr
	if p.cur().kind != tokRParen {
		for {
			a, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return &FuncCall{Name: name, Args: args}, nil
}

func (p *parser) parseLocationPathExpr() (Expr, error) {
	lp, err := p.parseLocationPath()
	if err != nil {
		return nil, err
	}
	return lp, nil
}

func (p *parser) parseLocationPath() (*LocationPath, error) {
	path := &LocationPath{}
	switch p.cur().kind {
	case tokSlash:
		path.Absolute = true
		p.advance()
		if p.atStepBoundary() {
			return path, nil // bare "/"
		}
	case tokSlashSlash:
		path.Absolute = true
		p.advance()
		path.Steps = append(path.Steps, step{axis: AxisDescendantOrSelf, test: nodeTest{kind: testNode}})
	}

	for {
		s, err := p.parseStep()
		if err != nil {
			return nil, err
		}
		path.Steps = append(path.Steps, s)

		switch p.cur().kind {
		case tokSlash:
			p.advance()
			continue
		case tokSlashSlash:
			p.advance()
			path.Steps = append(path.Steps, step{axis: AxisDescendantOrSelf, test: nodeTest{kind: testNode}})
			continue
		}
		return path, nil
	}
}

// atStepBoundary reports whether the current token cannot start a step,
// used to detect a bare "/" location path.
func (p *parser) atStepBoundary() bool {
	switch p.cur().kind {
	case tokEOF, tokRBracket, tokRParen, tokComma,
		tokAnd, tokOr, tokEq, tokNe, tokLt, tokLe, tokGt, tokGe, tokTilde,
		tokPlus, tokMinus, tokDiv, tokMod:
		return true
	}
	return false
}

var axisNames = map[string]Axis{
	"child":               AxisChild,
	"descendant":          AxisDescendant,
	"descendant-or-self":  AxisDescendantOrSelf,
	"parent":              AxisParent,
	"ancestor":            AxisAncestor,
	"self":                AxisSelf,
	"root":                AxisRoot,
}

func (p *parser) parseStep() (step, error) {
	if p.cur().kind == tokDot {
		p.advance()
		return step{axis: AxisSelf, test: nodeTest{kind: testNode}}, nil
	}
	if p.cur().kind == tokDotDot {
		p.advance()
		return step{axis: AxisParent, test: nodeTest{kind: testNode}}, nil
	}

	axis := AxisChild
	if p.cur().kind == tokName && p.peek(1).kind == tokColonColon {
		name := p.cur().text
		a, ok := axisNames[name]
		if !ok {
			return step{}, p.errHere()
		}
		axis = a
		p.advance()
		p.advance()
	}

	test, err := p.parseNodeTest()
	if err != nil {
		return step{}, err
	}

	s := step{axis: axis, test: test}
	for p.cur().kind == tokLBracket {
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return step{}, err
		}
		if _, err := p.expect(tokRBracket); err != nil {
			return step{}, err
		}
		s.predicates = append(s.predicates, e)
	}
	return s, nil
}

func (p *parser) parseNodeTest() (nodeTest, error) {
	switch p.cur().kind {
	case tokStar:
		p.advance()
		return nodeTest{kind: testStar}, nil
	case tokName:
		if p.cur().text == "node" && p.peek(1).kind == tokLParen && p.peek(2).kind == tokRParen {
			p.advance()
			p.advance()
			p.advance()
			return nodeTest{kind: testNode}, nil
		}
		label := p.cur().text
		p.advance()
		return nodeTest{kind: testLabel, label: label}, nil
	}
	return nodeTest{}, p.errHere()
}
