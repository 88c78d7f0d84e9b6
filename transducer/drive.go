package transducer

import (
	"errors"
	"fmt"

	"github.com/augeas-go/augeas/lens"
)

// Get drives the get direction (spec §4.7) across l, including every REC
// boundary it contains. A non-recursive l is handed straight to lens.Get,
// exactly as if no transducer were involved.
//
// A Recursive l goes through the full §4.6 pipeline: Build's determinized
// automaton, the Earley parse, and a visitation of the resulting forest
// that calls back into the non-recursive evaluator per terminal span,
// folding Enter/Exit frames into the same (tree fragment, skeleton) shape
// lens.Get produces. Ambiguity — more than one accepting length, or a
// second back-link anywhere on the derivation — is reported as
// AmbiguityError, never resolved by preferring one derivation.
func Get(l *lens.Lens, text string, offset int) ([]*lens.Node, *lens.Skeleton, int, error) {
	if !l.Recursive {
		return lens.Get(l, text, offset)
	}

	a := Build(l)
	c, accepts := a.parse(text, offset)
	switch len(accepts) {
	case 0:
		return nil, nil, 0, &ParseError{Lens: l, Offset: c.furthest}
	case 1:
	default:
		end := offset
		for _, it := range accepts {
			if it.set > end {
				end = it.set
			}
		}
		return nil, nil, 0, &AmbiguityError{Lens: l, Witness: text[offset:end]}
	}

	b := &treeBuilder{chart: c}
	b.push(nil)
	err := visit(text, accepts[0], Visitor{
		Enter:    b.enter,
		Exit:     b.exit,
		Terminal: b.terminal,
		Error:    b.flag,
	})
	if err != nil {
		if errors.Is(err, errAmbiguous) {
			return nil, nil, 0, &AmbiguityError{Lens: l, Witness: b.witness}
		}
		return nil, nil, 0, err
	}

	subs := b.stack[0].subs
	if len(subs) != 1 {
		return nil, nil, 0, fmt.Errorf("transducer: visitation produced %d results, want 1", len(subs))
	}
	r := subs[0]
	return r.frag.Children, r.skel, r.end - offset, nil
}

// subResult is one folded symbol: the contribution and skeleton some
// (sub-)lens produced over text[start:end].
type subResult struct {
	l          *lens.Lens
	frag       lens.Frag
	skel       *lens.Skeleton
	start, end int
}

type buildFrame struct {
	l    *lens.Lens
	subs []subResult
}

// treeBuilder is the §4.7 visitor: Terminal spans are evaluated by the
// lens package (through the chart's memoized scans, so nothing is parsed
// twice), and Exit folds each nonterminal's accumulated children into the
// fragment/skeleton shape the non-recursive evaluator produces for that
// combinator.
type treeBuilder struct {
	chart   *chart
	stack   []*buildFrame
	witness string
}

func (b *treeBuilder) push(l *lens.Lens) {
	b.stack = append(b.stack, &buildFrame{l: l})
}

func (b *treeBuilder) append(r subResult) {
	top := b.stack[len(b.stack)-1]
	top.subs = append(top.subs, r)
}

func (b *treeBuilder) flag(pos int, witness string) {
	b.witness = witness
}

func (b *treeBuilder) enter(l *lens.Lens, start, end int) error {
	b.push(l)
	return nil
}

func (b *treeBuilder) terminal(l *lens.Lens, start, end int) error {
	for _, m := range b.chart.scanMatches(l, start) {
		if m.N == end-start {
			b.append(subResult{l: l, frag: m.Frag, skel: m.Skel, start: start, end: end})
			return nil
		}
	}
	return fmt.Errorf("transducer: no terminal parse of length %d at byte %d", end-start, start)
}

func (b *treeBuilder) exit(l *lens.Lens, start, end int) error {
	top := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]

	r, err := fold(b.chart.text, l, top.subs, start, end)
	if err != nil {
		return err
	}
	b.append(r)
	return nil
}

// fold mirrors, per combinator, what lens.get's own case for that tag
// produces, so downstream Put/BuildDict cannot tell a recursive parse
// from a non-recursive one.
func fold(text string, l *lens.Lens, subs []subResult, start, end int) (subResult, error) {
	out := subResult{l: l, start: start, end: end}
	switch l.Tag {
	case lens.Rec:
		if len(subs) != 1 {
			return out, fmt.Errorf("transducer: REC derived %d symbols, want 1", len(subs))
		}
		out.frag, out.skel = subs[0].frag, subs[0].skel

	case lens.Subtree:
		if len(subs) != 1 {
			return out, fmt.Errorf("transducer: SUBTREE derived %d symbols, want 1", len(subs))
		}
		f := subs[0].frag
		sp := &lens.NodeSpan{Start: start, End: end}
		if f.Label != nil {
			sp.LabelStart, sp.LabelEnd = f.LabelStart, f.LabelEnd
		}
		if f.Value != nil {
			sp.ValueStart, sp.ValueEnd = f.ValueStart, f.ValueEnd
		}
		node := &lens.Node{Label: f.Label, Value: f.Value, Children: f.Children, Span: sp}
		out.frag = lens.Frag{Children: []*lens.Node{node}}
		out.skel = &lens.Skeleton{Tag: "subtree", Parts: []*lens.Skeleton{subs[0].skel}}

	case lens.Concat:
		if len(subs) != 2 {
			return out, fmt.Errorf("transducer: CONCAT derived %d symbols, want 2", len(subs))
		}
		out.frag = mergeFrag(subs[0].frag, subs[1].frag)
		out.skel = &lens.Skeleton{Tag: "concat", Parts: []*lens.Skeleton{subs[0].skel, subs[1].skel}}

	case lens.Union:
		if len(subs) != 1 {
			return out, fmt.Errorf("transducer: UNION derived %d symbols, want 1", len(subs))
		}
		tag := "union-b"
		if subs[0].l == l.Children[0] {
			tag = "union-a"
		}
		out.frag = subs[0].frag
		out.skel = &lens.Skeleton{Tag: tag, Parts: []*lens.Skeleton{subs[0].skel}}

	case lens.Star:
		parts := make([]*lens.Skeleton, 0, len(subs))
		for _, s := range subs {
			out.frag = mergeFrag(out.frag, s.frag)
			parts = append(parts, s.skel)
		}
		out.skel = &lens.Skeleton{Tag: "star", Parts: parts}

	case lens.Maybe:
		switch len(subs) {
		case 0:
			out.skel = &lens.Skeleton{Tag: "maybe-absent"}
		case 1:
			out.frag = subs[0].frag
			out.skel = &lens.Skeleton{Tag: "maybe-present", Parts: []*lens.Skeleton{subs[0].skel}}
		default:
			return out, fmt.Errorf("transducer: MAYBE derived %d symbols, want 0 or 1", len(subs))
		}

	case lens.Square:
		if len(subs) != 3 {
			return out, fmt.Errorf("transducer: SQUARE derived %d symbols, want 3", len(subs))
		}
		keyStr := text[subs[0].start:subs[0].end]
		endStr := text[subs[2].start:subs[2].end]
		if keyStr != endStr {
			// The palindrome constraint is context-sensitive, so the item
			// sets cannot express it; it is enforced here instead.
			return out, &ParseError{Lens: l, Offset: subs[2].start}
		}
		out.frag = mergeFrag(subs[0].frag, subs[1].frag)
		out.skel = &lens.Skeleton{Tag: "square", Parts: []*lens.Skeleton{subs[0].skel, subs[1].skel}, Text: endStr}

	default:
		return out, fmt.Errorf("transducer: cannot fold a %v nonterminal", l.Tag)
	}
	return out, nil
}

// mergeFrag mirrors lens.Frag.merge for the fold layer: child lists
// append, and the first label/value contribution wins.
func mergeFrag(a, b lens.Frag) lens.Frag {
	out := lens.Frag{Children: append(append([]*lens.Node{}, a.Children...), b.Children...)}
	out.Label, out.LabelStart, out.LabelEnd = a.Label, a.LabelStart, a.LabelEnd
	if out.Label == nil {
		out.Label, out.LabelStart, out.LabelEnd = b.Label, b.LabelStart, b.LabelEnd
	}
	out.Value, out.ValueStart, out.ValueEnd = a.Value, a.ValueStart, a.ValueEnd
	if out.Value == nil {
		out.Value, out.ValueStart, out.ValueEnd = b.Value, b.ValueStart, b.ValueEnd
	}
	return out
}

// ParseError mirrors lens.ParseError for failures the transducer itself
// diagnoses: an input no derivation covers, or a SQUARE end marker that
// does not repeat its key.
type ParseError struct {
	Lens   *lens.Lens
	Offset int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("transducer: parse failed at byte offset %d", e.Offset)
}

// Put drives the modify direction across l (spec §4.7), reusing skel and
// dict wherever the current children still fit. A non-recursive l is
// handed to lens.PutWith so STAR/MAYBE bodies elsewhere in a shared
// child list stay aligned with a single shared cursor and frame; a
// Recursive composite is walked here, mirroring lens.put's own switch. Put
// is tree-driven rather than text-parsing, so it is not subject to the
// ambiguity the Earley parse detects: the tree already says which branch
// and how many repetitions there are.
func Put(l *lens.Lens, children []*lens.Node, skel *lens.Skeleton, dict lens.Dict) (string, error) {
	c := lens.NewCursor(children)
	out, err := put(l, c, &lens.Frame{}, skel, dict)
	if err != nil {
		return "", err
	}
	if err := lens.Drained(c, ""); err != nil {
		return "", err
	}
	return out, nil
}

// Create runs Put with no skeleton or dictionary to reuse.
func Create(l *lens.Lens, children []*lens.Node) (string, error) {
	c := lens.NewCursor(children)
	out, err := put(l, c, &lens.Frame{}, nil, nil)
	if err != nil {
		return "", err
	}
	if err := lens.Drained(c, ""); err != nil {
		return "", err
	}
	return out, nil
}

func put(l *lens.Lens, c *lens.Cursor, frame *lens.Frame, skel *lens.Skeleton, dict lens.Dict) (string, error) {
	if !l.Recursive {
		return lens.PutWith(l, c, frame, skel, dict)
	}

	switch l.Tag {
	case lens.Rec:
		return put(l.Children[0], c, frame, skel, dict)

	case lens.Concat:
		a, b := l.Children[0], l.Children[1]
		var ska, skb *lens.Skeleton
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

	case lens.Union:
		a, b := l.Children[0], l.Children[1]
		useA := branchAcceptsRec(a, c, frame)
		if !useA && !branchAcceptsRec(b, c, frame) {
			useA = true
		}
		if useA {
			var sk *lens.Skeleton
			if s := skelTag(skel, "union-a"); s != nil && len(s.Parts) == 1 {
				sk = s.Parts[0]
			}
			return put(a, c, frame, sk, dict)
		}
		var sk *lens.Skeleton
		if s := skelTag(skel, "union-b"); s != nil && len(s.Parts) == 1 {
			sk = s.Parts[0]
		}
		return put(b, c, frame, sk, dict)

	case lens.Subtree:
		body := l.Children[0]
		n, ok := c.Take()
		if !ok {
			return "", &lens.PutError{Msg: "SUBTREE expected a child node"}
		}
		inner := lens.NewCursor(n.Children)
		innerFrame := &lens.Frame{Label: n.Label, Value: n.Value}

		label := ""
		if n.Label != nil {
			label = *n.Label
		}
		var bodySkel *lens.Skeleton
		if sk := skelTag(skel, "subtree"); sk != nil && len(sk.Parts) == 1 {
			bodySkel = sk.Parts[0]
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
		if err := lens.Drained(inner, label); err != nil {
			return "", err
		}
		return out, nil

	case lens.Star:
		body := l.Children[0]
		var parts []*lens.Skeleton
		if sk := skelTag(skel, "star"); sk != nil {
			parts = sk.Parts
		}
		var out string
		i := 0
		for starTakesNextRec(body, c) {
			var sk *lens.Skeleton
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

	case lens.Maybe:
		body := l.Children[0]
		sk := skelTag(skel, "maybe-present")
		if !maybePresentRec(body, c, frame, sk != nil, skelTag(skel, "maybe-absent") != nil) {
			return "", nil
		}
		var inner *lens.Skeleton
		if sk != nil && len(sk.Parts) == 1 {
			inner = sk.Parts[0]
		}
		return put(body, c, frame, inner, dict)

	case lens.Square:
		k, body, _ := l.Children[0], l.Children[1], l.Children[2]
		var skk, skb *lens.Skeleton
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
		return keyText + bodyText + keyText, nil
	}

	return "", fmt.Errorf("transducer: Put/Create cannot evaluate a %v lens", l.Tag)
}

// skelTag mirrors lens's unexported skelTag: returns skel if its Tag
// matches want, nil otherwise (so a mismatched/stale skeleton falls back
// to create-mode defaults instead of panicking on the wrong shape).
func skelTag(skel *lens.Skeleton, want string) *lens.Skeleton {
	if skel != nil && skel.Tag == want {
		return skel
	}
	return nil
}

// starTakesNextRec mirrors lens's unexported starTakesNext: iteration
// consumes the next child only if there is one and, for a node-producing
// body, its label is one the body could have emitted.
func starTakesNextRec(body *lens.Lens, c *lens.Cursor) bool {
	n, ok := c.Peek()
	if !ok {
		return false
	}
	if body.LType == nil {
		return true
	}
	return n.Label != nil && body.LType.Match(*n.Label, 0) == len(*n.Label)
}

// maybePresentRec mirrors lens's unexported maybePresent: a
// value-contributing body runs iff the frame carries a value, a
// node-producing body iff the next child's label is one it could emit,
// and a pure-text body reuses get's own decision (the recorded skeleton)
// when there is one — so a trailing optional token survives the round
// trip — falling back to more-children-follow only in create mode.
func maybePresentRec(body *lens.Lens, c *lens.Cursor, frame *lens.Frame, hadSkel, hadAbsentSkel bool) bool {
	if body.LType != nil {
		return starTakesNextRec(body, c)
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
	_, ok := c.Peek()
	return ok
}

// branchAcceptsRec mirrors lens's unexported branchAccepts: a
// node-producing branch is selected by the next child's label against
// LType (always finite, even for a Recursive lens: labels don't recurse,
// only values/children do), a key-contributing branch by the frame's
// label, a value-contributing branch by the frame's value, and a
// pure-text branch accepts anything.
func branchAcceptsRec(l *lens.Lens, c *lens.Cursor, frame *lens.Frame) bool {
	if l.LType != nil {
		n, ok := c.Peek()
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
