package lens

import (
	"fmt"
	"math"
)

// ParseError is returned by Get when text does not match l.CType at the
// given byte offset (spec §4.5 "an input not matching l.ctype... yields a
// parse_failed error carrying byte position").
type ParseError struct {
	Lens   *Lens
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("lens: parse failed at byte offset %d", e.Offset)
}

// AmbiguityError is returned by Get when a CONCAT or STAR decision point has
// more than one split consistent with both operands' CType (spec §4.1's
// "decision point": the split must be unique, never just the longest).
type AmbiguityError struct {
	Lens   *Lens
	Offset int
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("lens: ambiguous split at byte offset %d", e.Offset)
}

// PutError is returned by Put/Create when a subtree's shape does not match
// l.atype (spec §4.5 "a subtree not matching l.atype yields a put_failed
// error carrying tree path").
type PutError struct {
	Path string
	Msg  string
}

func (e *PutError) Error() string {
	if e.Path == "" {
		return "lens: put failed: " + e.Msg
	}
	return fmt.Sprintf("lens: put failed at %s: %s", e.Path, e.Msg)
}

// state threads the counter bindings COUNTER/SEQ mutate across a single
// Get or Put/Create call.
type state struct {
	counters map[string]int
}

func newState() *state { return &state{counters: map[string]int{}} }

// Frag is what one (sub-)lens contributes during get: completed child
// nodes (each produced by a nested SUBTREE), plus the label and value the
// lens contributes to the subtree currently being built — KEY/LABEL/SEQ
// fill Label, STORE/VALUE fill Value, and SUBTREE is the one combinator
// that folds all three into a finished Node.
type Frag struct {
	Children []*Node
	Label    *string
	Value    *string

	// Byte ranges of the label/value contributions, for span tracking;
	// meaningful only while the matching pointer is non-nil, and 0/0 for
	// literal-produced labels and values (LABEL/SEQ/VALUE consumed no
	// input).
	LabelStart, LabelEnd int
	ValueStart, ValueEnd int
}

// merge combines two sibling contributions: child lists append, and the
// first label/value contribution wins (a well-typed lens produces at most
// one of each per subtree).
func (f Frag) merge(g Frag) Frag {
	var out Frag
	if len(f.Children)+len(g.Children) > 0 {
		out.Children = append(append([]*Node{}, f.Children...), g.Children...)
	}
	out.Label, out.LabelStart, out.LabelEnd = f.Label, f.LabelStart, f.LabelEnd
	if out.Label == nil {
		out.Label, out.LabelStart, out.LabelEnd = g.Label, g.LabelStart, g.LabelEnd
	}
	out.Value, out.ValueStart, out.ValueEnd = f.Value, f.ValueStart, f.ValueEnd
	if out.Value == nil {
		out.Value, out.ValueStart, out.ValueEnd = g.Value, g.ValueStart, g.ValueEnd
	}
	return out
}

// Get runs the non-recursive evaluator (spec §4.5 get) over l, starting at
// byte offset in text, returning the completed subtree nodes. l must not
// be, or contain, a REC lens — recursive lenses are driven by the
// transducer package instead.
func Get(l *Lens, text string, offset int) (nodes []*Node, skel *Skeleton, consumed int, err error) {
	if l.Recursive {
		return nil, nil, 0, fmt.Errorf("lens: Get called directly on a recursive lens %q; use the transducer package", l.Alias)
	}
	f, sk, n, err := get(l, text, offset, newState())
	if err != nil {
		return nil, nil, 0, err
	}
	return f.Children, sk, n, nil
}

// Match is one way a lens can consume text starting at some offset: its
// contribution, skeleton, and the number of bytes consumed.
type Match struct {
	Frag Frag
	Skel *Skeleton
	N    int
}

// GetAllLengths runs the non-recursive evaluator once per distinct length
// l's CType accepts starting at offset, rather than just the longest
// match Get returns. This is the transducer's terminal SCAN primitive: a
// terminal symbol inside a recursive grammar must enter the Earley item
// sets once per length it can actually be parsed to, since the split
// against its recursive siblings is resolved by the item sets, not by
// findSplit's own two-operand length search.
func GetAllLengths(l *Lens, text string, offset int) ([]Match, error) {
	if l.Recursive {
		return nil, fmt.Errorf("lens: GetAllLengths called on a recursive lens %q; use the transducer package", l.Alias)
	}
	if l.CType == nil {
		f, sk, n, err := get(l, text, offset, newState())
		if err != nil {
			return nil, err
		}
		return []Match{{Frag: f, Skel: sk, N: n}}, nil
	}

	var out []Match
	var lastErr error
	for _, n := range l.CType.MatchLengths(text, offset) {
		f, sk, err := getExact(l, text, offset, n, newState())
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, Match{Frag: f, Skel: sk, N: n})
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &ParseError{Lens: l, Offset: offset}
	}
	return out, nil
}

func get(l *Lens, text string, offset int, st *state) (Frag, *Skeleton, int, error) {
	switch l.Tag {
	case Del:
		n := l.Regex.Match(text, offset)
		if n < 0 {
			return Frag{}, nil, 0, &ParseError{Lens: l, Offset: offset}
		}
		return Frag{}, &Skeleton{Tag: "del", Text: text[offset : offset+n]}, n, nil

	case Store:
		n := l.Regex.Match(text, offset)
		if n < 0 {
			return Frag{}, nil, 0, &ParseError{Lens: l, Offset: offset}
		}
		v := text[offset : offset+n]
		return Frag{Value: &v, ValueStart: offset, ValueEnd: offset + n}, &Skeleton{Tag: "store"}, n, nil

	case Value:
		v := l.Literal
		return Frag{Value: &v}, &Skeleton{Tag: "value"}, 0, nil

	case Key:
		n := l.Regex.Match(text, offset)
		if n < 0 {
			return Frag{}, nil, 0, &ParseError{Lens: l, Offset: offset}
		}
		lb := text[offset : offset+n]
		return Frag{Label: &lb, LabelStart: offset, LabelEnd: offset + n}, &Skeleton{Tag: "key"}, n, nil

	case Label:
		lb := l.Literal
		return Frag{Label: &lb}, &Skeleton{Tag: "label"}, 0, nil

	case Seq:
		v := st.counters[l.Name]
		if v == 0 {
			v = 1
		}
		if uint64(v) > math.MaxUint32 {
			return Frag{}, nil, 0, fmt.Errorf("lens: counter %q exhausted", l.Name)
		}
		st.counters[l.Name] = v + 1
		lb := fmt.Sprintf("%d", v)
		return Frag{Label: &lb}, &Skeleton{Tag: "seq"}, 0, nil

	case Counter:
		st.counters[l.Name] = 1
		return Frag{}, &Skeleton{Tag: "counter"}, 0, nil

	case Concat:
		a, b := l.Children[0], l.Children[1]
		na, err := findSplit(a, b, text, offset)
		if err != nil {
			return Frag{}, nil, 0, err
		}
		fa, ska, err := getExact(a, text, offset, na, st)
		if err != nil {
			return Frag{}, nil, 0, err
		}
		fb, skb, nb, err := get(b, text, offset+na, st)
		if err != nil {
			return Frag{}, nil, 0, err
		}
		return fa.merge(fb), &Skeleton{Tag: "concat", Parts: []*Skeleton{ska, skb}}, na + nb, nil

	case Union:
		a, b := l.Children[0], l.Children[1]
		if a.CType.Match(text, offset) >= 0 {
			f, sk, n, err := get(a, text, offset, st)
			return f, &Skeleton{Tag: "union-a", Parts: []*Skeleton{sk}}, n, err
		}
		if b.CType.Match(text, offset) >= 0 {
			f, sk, n, err := get(b, text, offset, st)
			return f, &Skeleton{Tag: "union-b", Parts: []*Skeleton{sk}}, n, err
		}
		return Frag{}, nil, 0, &ParseError{Lens: l, Offset: offset}

	case Subtree:
		body := l.Children[0]
		f, sk, n, err := get(body, text, offset, st)
		if err != nil {
			return Frag{}, nil, 0, err
		}
		node := &Node{Label: f.Label, Value: f.Value, Children: f.Children, Span: subtreeSpan(f, offset, n)}
		return Frag{Children: []*Node{node}}, &Skeleton{Tag: "subtree", Parts: []*Skeleton{sk}}, n, nil

	case Star:
		body := l.Children[0]
		var frag Frag
		var parts []*Skeleton
		pos := offset
		for {
			n := body.CType.Match(text, pos)
			if n < 0 {
				break
			}
			f, sk, c, err := get(body, text, pos, st)
			if err != nil {
				return Frag{}, nil, 0, err
			}
			frag = frag.merge(f)
			parts = append(parts, sk)
			if c == 0 {
				break // body matched empty; stop to avoid spinning forever
			}
			pos += c
		}
		return frag, &Skeleton{Tag: "star", Parts: parts}, pos - offset, nil

	case Maybe:
		body := l.Children[0]
		n := body.CType.Match(text, offset)
		if n < 0 {
			return Frag{}, &Skeleton{Tag: "maybe-absent"}, 0, nil
		}
		if n == 0 {
			// body matches the empty string here: MAYBE's own nullability
			// already covers that case, so treating an empty match as
			// "present" would duplicate it and desync get/put's notion of
			// whether the body actually ran.
			return Frag{}, &Skeleton{Tag: "maybe-absent"}, 0, nil
		}
		f, sk, n, err := get(body, text, offset, st)
		if err != nil {
			return Frag{}, nil, 0, err
		}
		return f, &Skeleton{Tag: "maybe-present", Parts: []*Skeleton{sk}}, n, nil

	case Square:
		k, body, e := l.Children[0], l.Children[1], l.Children[2]
		fk, skk, nk, err := get(k, text, offset, st)
		if err != nil {
			return Frag{}, nil, 0, err
		}
		keyStr := text[offset : offset+nk]
		fb, skb, nb, err := get(body, text, offset+nk, st)
		if err != nil {
			return Frag{}, nil, 0, err
		}
		ne := e.CType.Match(text, offset+nk+nb)
		if ne < 0 {
			return Frag{}, nil, 0, &ParseError{Lens: l, Offset: offset + nk + nb}
		}
		endStr := text[offset+nk+nb : offset+nk+nb+ne]
		if endStr != keyStr {
			return Frag{}, nil, 0, &ParseError{Lens: l, Offset: offset + nk + nb}
		}
		return fk.merge(fb), &Skeleton{Tag: "square", Parts: []*Skeleton{skk, skb}, Text: endStr}, nk + nb + ne, nil
	}
	return Frag{}, nil, 0, fmt.Errorf("lens: Get cannot evaluate a %v lens directly", l.Tag)
}

// subtreeSpan assembles a finished node's span from its body's label/value
// contributions plus the extent [offset, offset+n) the whole body consumed.
func subtreeSpan(f Frag, offset, n int) *NodeSpan {
	sp := &NodeSpan{Start: offset, End: offset + n}
	if f.Label != nil {
		sp.LabelStart, sp.LabelEnd = f.LabelStart, f.LabelEnd
	}
	if f.Value != nil {
		sp.ValueStart, sp.ValueEnd = f.ValueStart, f.ValueEnd
	}
	return sp
}

// findSplit locates the unique byte length na such that a's CType matches
// text[offset:offset+na] and b's CType matches some (possibly empty) prefix
// of what remains (spec §4.1's CONCAT decision point). More than one
// candidate na is reported as AmbiguityError rather than silently taking the
// longest, matching spec's "ambiguous_concat" determinism contract.
func findSplit(a, b *Lens, text string, offset int) (int, error) {
	var valid []int
	for _, na := range a.CType.MatchLengths(text, offset) {
		if b.CType.Match(text, offset+na) >= 0 {
			valid = append(valid, na)
		}
	}
	switch len(valid) {
	case 0:
		return 0, &ParseError{Lens: a, Offset: offset}
	case 1:
		return valid[0], nil
	default:
		return 0, &AmbiguityError{Lens: a, Offset: offset}
	}
}

// findSplitBounded is findSplit's sibling for a CONCAT nested inside a
// length-bounded context (getExact's own Concat case): b must match the
// remainder of total exactly, not just match somewhere.
func findSplitBounded(a, b *Lens, text string, offset, total int) (int, error) {
	var valid []int
	for _, na := range a.CType.MatchLengths(text, offset) {
		if na > total {
			continue
		}
		if b.CType.AcceptsLength(text, offset+na, total-na) {
			valid = append(valid, na)
		}
	}
	switch len(valid) {
	case 0:
		return 0, &ParseError{Lens: a, Offset: offset}
	case 1:
		return valid[0], nil
	default:
		return 0, &AmbiguityError{Lens: a, Offset: offset}
	}
}

// getExact parses l over exactly text[offset:offset+length], the bounded
// variant findSplit's Concat case needs: a primitive's longest regex match is
// not necessarily the length the surrounding split requires, so Concat's
// left operand (and anything nested under it) must be driven to a specific
// target length instead of its own greedy CType match.
func getExact(l *Lens, text string, offset, length int, st *state) (Frag, *Skeleton, error) {
	switch l.Tag {
	case Del:
		if !l.Regex.AcceptsLength(text, offset, length) {
			return Frag{}, nil, &ParseError{Lens: l, Offset: offset}
		}
		return Frag{}, &Skeleton{Tag: "del", Text: text[offset : offset+length]}, nil

	case Store:
		if !l.Regex.AcceptsLength(text, offset, length) {
			return Frag{}, nil, &ParseError{Lens: l, Offset: offset}
		}
		v := text[offset : offset+length]
		return Frag{Value: &v, ValueStart: offset, ValueEnd: offset + length}, &Skeleton{Tag: "store"}, nil

	case Key:
		if !l.Regex.AcceptsLength(text, offset, length) {
			return Frag{}, nil, &ParseError{Lens: l, Offset: offset}
		}
		lb := text[offset : offset+length]
		return Frag{Label: &lb, LabelStart: offset, LabelEnd: offset + length}, &Skeleton{Tag: "key"}, nil

	case Value, Label, Seq, Counter:
		if length != 0 {
			return Frag{}, nil, &ParseError{Lens: l, Offset: offset}
		}
		f, sk, _, err := get(l, text, offset, st)
		return f, sk, err

	case Concat:
		a, b := l.Children[0], l.Children[1]
		na, err := findSplitBounded(a, b, text, offset, length)
		if err != nil {
			return Frag{}, nil, err
		}
		fa, ska, err := getExact(a, text, offset, na, st)
		if err != nil {
			return Frag{}, nil, err
		}
		fb, skb, err := getExact(b, text, offset+na, length-na, st)
		if err != nil {
			return Frag{}, nil, err
		}
		return fa.merge(fb), &Skeleton{Tag: "concat", Parts: []*Skeleton{ska, skb}}, nil

	case Union:
		a, b := l.Children[0], l.Children[1]
		aOK := a.CType != nil && a.CType.AcceptsLength(text, offset, length)
		bOK := b.CType != nil && b.CType.AcceptsLength(text, offset, length)
		switch {
		case aOK && bOK:
			return Frag{}, nil, &AmbiguityError{Lens: l, Offset: offset}
		case aOK:
			f, sk, err := getExact(a, text, offset, length, st)
			if err != nil {
				return Frag{}, nil, err
			}
			return f, &Skeleton{Tag: "union-a", Parts: []*Skeleton{sk}}, nil
		case bOK:
			f, sk, err := getExact(b, text, offset, length, st)
			if err != nil {
				return Frag{}, nil, err
			}
			return f, &Skeleton{Tag: "union-b", Parts: []*Skeleton{sk}}, nil
		default:
			return Frag{}, nil, &ParseError{Lens: l, Offset: offset}
		}

	case Star:
		frag, parts, err := starExact(l.Children[0], text, offset, length, st)
		if err != nil {
			return Frag{}, nil, err
		}
		return frag, &Skeleton{Tag: "star", Parts: parts}, nil

	case Maybe:
		body := l.Children[0]
		if length == 0 {
			return Frag{}, &Skeleton{Tag: "maybe-absent"}, nil
		}
		f, sk, err := getExact(body, text, offset, length, st)
		if err != nil {
			return Frag{}, nil, err
		}
		return f, &Skeleton{Tag: "maybe-present", Parts: []*Skeleton{sk}}, nil

	case Subtree, Square:
		// Neither tag's own decision points are subject to the CONCAT split
		// ambiguity findSplit exists for (Square ties its own key/end by
		// equality; Subtree just wraps a body), so running the ordinary
		// greedy evaluator and checking it landed on the required length is
		// sufficient.
		f, sk, n, err := get(l, text, offset, st)
		if err != nil {
			return Frag{}, nil, err
		}
		if n != length {
			return Frag{}, nil, &ParseError{Lens: l, Offset: offset}
		}
		return f, sk, nil
	}
	return Frag{}, nil, fmt.Errorf("lens: getExact cannot evaluate a %v lens", l.Tag)
}

// starExact decomposes text[offset:offset+length] into zero or more
// repetitions of body, the bounded form STAR needs as a CONCAT operand:
// STAR's own get loop (above) always takes body's greedy longest match,
// which does not in general add up to a length a sibling CONCAT operand
// requires. A first-repetition length with more than one way to finish the
// remaining decomposition is reported as ambiguity rather than picked
// arbitrarily.
func starExact(body *Lens, text string, offset, length int, st *state) (Frag, []*Skeleton, error) {
	if length == 0 {
		return Frag{}, nil, nil
	}
	var valid []int
	for _, na := range body.CType.MatchLengths(text, offset) {
		if na == 0 || na > length {
			continue
		}
		if starDecomposable(body, text, offset+na, length-na) {
			valid = append(valid, na)
		}
	}
	switch len(valid) {
	case 0:
		return Frag{}, nil, &ParseError{Lens: body, Offset: offset}
	case 1:
		// single candidate, fall through
	default:
		return Frag{}, nil, &AmbiguityError{Lens: body, Offset: offset}
	}
	na := valid[0]
	f0, sk0, err := getExact(body, text, offset, na, st)
	if err != nil {
		return Frag{}, nil, err
	}
	frest, skrest, err := starExact(body, text, offset+na, length-na, st)
	if err != nil {
		return Frag{}, nil, err
	}
	return f0.merge(frest), append([]*Skeleton{sk0}, skrest...), nil
}

// starDecomposable is starExact's feasibility-only probe, used to filter
// first-repetition candidates down to the ones that actually lead to a full
// decomposition of the remaining length.
func starDecomposable(body *Lens, text string, pos, remaining int) bool {
	if remaining == 0 {
		return true
	}
	for _, na := range body.CType.MatchLengths(text, pos) {
		if na == 0 || na > remaining {
			continue
		}
		if starDecomposable(body, text, pos+na, remaining-na) {
			return true
		}
	}
	return false
}

// cursor walks a flat child-node list as Put/Create consume it.
type cursor struct {
	nodes []*Node
	pos   int
}

func (c *cursor) peek() (*Node, bool) {
	if c.pos >= len(c.nodes) {
		return nil, false
	}
	return c.nodes[c.pos], true
}

func (c *cursor) take() (*Node, bool) {
	n, ok := c.peek()
	if ok {
		c.pos++
	}
	return n, ok
}

// Cursor is the exported name for cursor, so the transducer package can
// share one cursor across a REC boundary: a recursive lens's Concat/Star
// may interleave non-recursive spans (driven here via PutWith) with
// recursive ones (driven by the transducer's own walk), and both sides
// must consume from the same position in the flat child list.
type Cursor = cursor

// NewCursor starts a cursor over nodes at position 0.
func NewCursor(nodes []*Node) *Cursor { return &cursor{nodes: nodes} }

// Peek is the exported form of peek, for cross-package callers.
func (c *cursor) Peek() (*Node, bool) { return c.peek() }

// Take is the exported form of take, for cross-package callers.
func (c *cursor) Take() (*Node, bool) { return c.take() }

// Frame carries the label and value of the subtree node currently being
// emitted during put: KEY reads Label back out, STORE reads Value, and
// SUBTREE opens a fresh Frame from the child node it consumes. The
// transducer package shares it across REC boundaries the same way it
// shares the Cursor.
type Frame struct {
	Label *string
	Value *string
}

// PutWith runs put for a non-recursive l starting at c's current cursor
// position against frame, rather than allocating fresh ones the way Put
// does. The transducer package uses this at every non-recursive span it
// reaches while driving a REC lens, so STAR/MAYBE bodies elsewhere in the
// same flat child list stay aligned with a single shared cursor and the
// enclosing subtree's frame.
func PutWith(l *Lens, c *Cursor, frame *Frame, skel *Skeleton, dict Dict) (string, error) {
	if l.Recursive {
		return "", fmt.Errorf("lens: PutWith called on a recursive lens %q; the transducer package must drive REC itself", l.Alias)
	}
	return put(l, c, frame, skel, dict)
}

// Put runs the modify direction (spec §4.5 put): it walks l reusing skel
// and dict wherever the current children still fit, and falls back to
// Create's defaults otherwise.
func Put(l *Lens, children []*Node, skel *Skeleton, dict Dict) (string, error) {
	if l.Recursive {
		return "", fmt.Errorf("lens: Put called directly on a recursive lens %q; use the transducer package", l.Alias)
	}
	c := &cursor{nodes: children}
	out, err := put(l, c, &Frame{}, skel, dict)
	if err != nil {
		return "", err
	}
	if err := drained(c, ""); err != nil {
		return "", err
	}
	return out, nil
}

// Create runs put with no skeleton or dictionary to reuse, so every
// combinator must synthesize its own text (spec §4.5 create).
func Create(l *Lens, children []*Node) (string, error) {
	if l.Recursive {
		return "", fmt.Errorf("lens: Create called directly on a recursive lens %q; use the transducer package", l.Alias)
	}
	c := &cursor{nodes: children}
	out, err := put(l, c, &Frame{}, nil, nil)
	if err != nil {
		return "", err
	}
	if err := drained(c, ""); err != nil {
		return "", err
	}
	return out, nil
}

// drained fails when a cursor still holds children after its lens ran out
// of combinators to consume them: a tree shape the lens cannot express
// must surface as put_failed, never be dropped from the output silently.
func drained(c *cursor, parent string) error {
	n, ok := c.peek()
	if !ok {
		return nil
	}
	label := "(unlabeled)"
	if n.Label != nil {
		label = *n.Label
	}
	return &PutError{Path: parent, Msg: fmt.Sprintf("node %q does not fit the lens", label)}
}

// Drained is the exported form of drained, for the transducer package's
// own SUBTREE handling.
func Drained(c *Cursor, parent string) error { return drained(c, parent) }

func skelTag(skel *Skeleton, want string) *Skeleton {
	if skel != nil && skel.Tag == want {
		return skel
	}
	return nil
}

func put(l *Lens, c *cursor, frame *Frame, skel *Skeleton, dict Dict) (string, error) {
	switch l.Tag {
	case Del:
		if sk := skelTag(skel, "del"); sk != nil {
			return sk.Text, nil
		}
		return l.Default, nil

	case Store:
		if frame.Value == nil {
			return "", &PutError{Msg: "STORE expected the current node to carry a value"}
		}
		if l.Regex.Match(*frame.Value, 0) != len(*frame.Value) {
			return "", &PutError{Msg: fmt.Sprintf("STORE value %q does not match its regex", *frame.Value)}
		}
		return *frame.Value, nil

	case Value:
		if frame.Value == nil || *frame.Value != l.Literal {
			return "", &PutError{Msg: fmt.Sprintf("VALUE expected the current node's value to be %q", l.Literal)}
		}
		return "", nil

	case Key:
		if frame.Label == nil {
			return "", &PutError{Msg: "KEY expected the current node to carry a label"}
		}
		if l.Regex.Match(*frame.Label, 0) != len(*frame.Label) {
			return "", &PutError{Msg: fmt.Sprintf("KEY label %q does not match its regex", *frame.Label)}
		}
		return *frame.Label, nil

	case Label, Seq:
		// LABEL/SEQ consumed no input during get, so they emit no text on
		// the way back.
		return "", nil

	case Counter:
		return "", nil

	case Concat:
		a, b := l.Children[0], l.Children[1]
		var ska, skb *Skeleton
		if sk := skelTag(skel, "concat"); sk != nil && len(sk.Parts) == 2 {
			ska, skb = sk.Parts[0], sk.Parts[1]
		}
		ta, err := put(a, c, frame, ska, dict)
		if err != nil {
			return "", err
		}
		tb, err := put(b, c, frame, skb, dict)
		if err != nil {
			return "", err
		}
		return ta + tb, nil

	case Union:
		a, b := l.Children[0], l.Children[1]
		useA := branchAccepts(a, c, frame)
		if !useA && !branchAccepts(b, c, frame) {
			useA = true // neither declares a preference: default left-to-right
		}
		if useA {
			var sk *Skeleton
			if s := skelTag(skel, "union-a"); s != nil && len(s.Parts) == 1 {
				sk = s.Parts[0]
			}
			return put(a, c, frame, sk, dict)
		}
		var sk *Skeleton
		if s := skelTag(skel, "union-b"); s != nil && len(s.Parts) == 1 {
			sk = s.Parts[0]
		}
		return put(b, c, frame, sk, dict)

	case Subtree:
		body := l.Children[0]
		n, ok := c.take()
		if !ok {
			return "", &PutError{Msg: "SUBTREE expected a child node"}
		}
		inner := &cursor{nodes: n.Children}
		innerFrame := &Frame{Label: n.Label, Value: n.Value}

		label := ""
		if n.Label != nil {
			label = *n.Label
		}
		innerSkel := skelTag(skel, "subtree")
		var bodySkel *Skeleton
		if innerSkel != nil && len(innerSkel.Parts) == 1 {
			bodySkel = innerSkel.Parts[0]
		}
		if dict != nil {
			if entries, ok := dict[label]; ok && len(entries) > 0 {
				entry := entries[0]
				dict[label] = entries[1:]
				bodySkel = entry.Skel
			}
		}
		out, err := put(body, inner, innerFrame, bodySkel, dict)
		if err != nil {
			return "", err
		}
		if err := drained(inner, label); err != nil {
			return "", err
		}
		return out, nil

	case Star:
		body := l.Children[0]
		var out string
		var parts []*Skeleton
		if sk := skelTag(skel, "star"); sk != nil {
			parts = sk.Parts
		}
		i := 0
		for starTakesNext(body, c) {
			var sk *Skeleton
			if i < len(parts) {
				sk = parts[i]
			}
			text, err := put(body, c, frame, sk, dict)
			if err != nil {
				return "", err
			}
			out += text
			i++
		}
		return out, nil

	case Maybe:
		body := l.Children[0]
		sk := skelTag(skel, "maybe-present")
		if !maybePresent(body, c, frame, sk != nil, skelTag(skel, "maybe-absent") != nil) {
			return "", nil
		}
		var inner *Skeleton
		if sk != nil && len(sk.Parts) == 1 {
			inner = sk.Parts[0]
		}
		return put(body, c, frame, inner, dict)

	case Square:
		k, body, _ := l.Children[0], l.Children[1], l.Children[2]
		var skk, skb *Skeleton
		if sk := skelTag(skel, "square"); sk != nil && len(sk.Parts) == 2 {
			skk, skb = sk.Parts[0], sk.Parts[1]
		}
		keyText, err := put(k, c, frame, skk, dict)
		if err != nil {
			return "", err
		}
		bodyText, err := put(body, c, frame, skb, dict)
		if err != nil {
			return "", err
		}
		// e must emit exactly what k emitted (spec §4.5 SQUARE put).
		return keyText + bodyText + keyText, nil
	}
	return "", fmt.Errorf("lens: Put/Create cannot evaluate a %v lens directly", l.Tag)
}

// branchAccepts reports whether l could re-emit the tree state at hand: a
// node-producing branch needs the next child's label to match its LType,
// a key-contributing branch needs the frame's label to match its KType, a
// value-contributing branch needs the frame to carry a matching value,
// and a pure-text branch accepts anything.
func branchAccepts(l *Lens, c *cursor, frame *Frame) bool {
	if l.LType != nil {
		n, ok := c.peek()
		return ok && n.Label != nil && l.LType.Match(*n.Label, 0) == len(*n.Label)
	}
	if l.KType != nil {
		return frame.Label != nil && l.KType.Match(*frame.Label, 0) == len(*frame.Label)
	}
	if l.VType != nil {
		return frame.Value != nil && l.VType.Match(*frame.Value, 0) == len(*frame.Value)
	}
	return true
}

// maybePresent decides whether MAYBE's body should run during put: a
// value-contributing body runs iff the frame carries a value, a
// node-producing body iff the next child's label is one it could emit,
// and a pure-text body (e.g. an optional separator or a trailing token)
// reuses get's own decision — the recorded skeleton — when there is one;
// the tree itself carries no signal for pure text, so dropping a trailing
// optional token the original file had would break GET-PUT. Only in
// create mode (no skeleton at all) does it fall back to emitting iff more
// children follow.
func maybePresent(body *Lens, c *cursor, frame *Frame, hadSkel, hadAbsentSkel bool) bool {
	if body.LType != nil {
		return starTakesNext(body, c)
	}
	if body.VType != nil && body.KType == nil {
		return frame.Value != nil
	}
	if hadSkel {
		return true
	}
	if hadAbsentSkel {
		return false
	}
	_, ok := c.peek()
	return ok
}

// starTakesNext reports whether iteration over body should consume the
// cursor's next child: there must be one, and a node-producing body only
// takes children whose labels it could have emitted — the rest belong to
// whatever combinator follows the iteration.
func starTakesNext(body *Lens, c *cursor) bool {
	n, ok := c.peek()
	if !ok {
		return false
	}
	if body.LType == nil {
		return true
	}
	return n.Label != nil && body.LType.Match(*n.Label, 0) == len(*n.Label)
}
