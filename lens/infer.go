package lens

import "github.com/augeas-go/augeas/rx"

var epsilon = rx.MustNew("")

// Infer computes CType, Nullable, KType, and VType for l and every sublens,
// bottom-up, memoized so a shared sublens (e.g. a Union branch reused twice)
// is only inferred once (spec §4.4: "each lens carries its four regex
// types and nullability flags").
//
// Recursive lenses (REC, and anything that contains one) do not get a
// finite CType: a context-free language generally has none. Those nodes
// are marked Recursive instead, and are driven by the transducer package
// rather than by this package's Get/Put/Create, matching the component
// split in spec §4.5/§4.6 (E's dispatch table never mentions REC).
func Infer(l *Lens) {
	infer(l, map[*Lens]bool{})
}

func infer(l *Lens, inProgress map[*Lens]bool) {
	if l.inferred {
		return
	}
	switch l.Tag {
	case Del:
		l.CType = l.Regex
		l.Nullable = l.Regex.MatchesEmpty()
	case Store:
		l.CType = l.Regex
		l.VType = l.Regex
		l.Nullable = l.Regex.MatchesEmpty()
	case Value:
		l.CType = epsilon
		l.VType = rx.MustNew(quoteLiteral(l.Literal))
		l.Nullable = true
	case Key:
		l.CType = l.Regex
		l.KType = l.Regex
		l.Nullable = l.Regex.MatchesEmpty()
	case Label:
		l.CType = epsilon
		l.KType = rx.MustNew(quoteLiteral(l.Literal))
		l.Nullable = true
	case Seq:
		l.CType = epsilon
		l.KType = rx.MustNew(`[0-9]+`)
		l.Nullable = true
	case Counter:
		l.CType = epsilon
		l.Nullable = true
	case Concat:
		a, b := l.Children[0], l.Children[1]
		infer(a, inProgress)
		infer(b, inProgress)
		l.Recursive = a.Recursive || b.Recursive
		l.Nullable = a.Nullable && b.Nullable
		l.KType = mergeTypes(a.KType, b.KType)
		l.VType = mergeTypes(a.VType, b.VType)
		l.LType = mergeTypes(a.LType, b.LType)
		if !l.Recursive {
			l.CType = rx.Concat(a.CType, b.CType)
		}
	case Union:
		a, b := l.Children[0], l.Children[1]
		infer(a, inProgress)
		infer(b, inProgress)
		l.Recursive = a.Recursive || b.Recursive
		l.Nullable = a.Nullable || b.Nullable
		l.KType = mergeTypes(a.KType, b.KType)
		l.VType = mergeTypes(a.VType, b.VType)
		l.LType = mergeTypes(a.LType, b.LType)
		if !l.Recursive {
			l.CType = rx.Union(a.CType, b.CType)
		}
	case Subtree:
		body := l.Children[0]
		infer(body, inProgress)
		l.Recursive = body.Recursive
		l.Nullable = body.Nullable
		// A subtree consumes its body's key: the enclosing tree level sees
		// a finished node whose label shape is whatever KEY/LABEL/SEQ the
		// body emits, and no key/value contribution of its own.
		l.LType = body.KType
		if !l.Recursive {
			l.CType = body.CType
		}
	case Star:
		body := l.Children[0]
		infer(body, inProgress)
		l.Recursive = body.Recursive
		l.Nullable = true
		l.KType = body.KType
		l.VType = body.VType
		l.LType = body.LType
		if !l.Recursive {
			l.CType = rx.Iter(body.CType)
		}
	case Maybe:
		body := l.Children[0]
		infer(body, inProgress)
		l.Recursive = body.Recursive
		l.Nullable = true
		l.KType = body.KType
		l.VType = body.VType
		l.LType = body.LType
		if !l.Recursive {
			l.CType = rx.Optional(body.CType)
		}
	case Square:
		k, body, e := l.Children[0], l.Children[1], l.Children[2]
		infer(k, inProgress)
		infer(body, inProgress)
		infer(e, inProgress)
		l.Recursive = k.Recursive || body.Recursive || e.Recursive
		l.Nullable = k.Nullable && body.Nullable && e.Nullable
		l.KType = mergeTypes(mergeTypes(k.KType, body.KType), e.KType)
		l.VType = mergeTypes(mergeTypes(k.VType, body.VType), e.VType)
		l.LType = mergeTypes(mergeTypes(k.LType, body.LType), e.LType)
		if !l.Recursive {
			l.CType = rx.Concat(rx.Concat(k.CType, body.CType), e.CType)
		}
	case Rec:
		if inProgress[l] {
			// Closing the cycle: l.Recursive is already set below, before
			// descending into the body, precisely so this reentrant
			// occurrence (reached through the body's own Union/Concat/...)
			// sees the right flags instead of the zero-value defaults.
			return
		}
		inProgress[l] = true
		l.Recursive = true
		l.Nullable = true // conservative: a recursive grammar's emptiness is left to the transducer
		l.CType = nil
		infer(l.Children[0], inProgress)
		delete(inProgress, l)
		// The body's contribution types are usable after the fact (they
		// under-approximate across the cycle, which branch selection
		// tolerates: an unknown type just means "no preference").
		body := l.Children[0]
		l.KType, l.VType, l.LType = body.KType, body.VType, body.LType
	}
	l.inferred = true
}

// mergeTypes combines the key (or value) types two sibling sublenses can
// produce: nil means "produces none", so a single non-nil side passes
// through and two non-nil sides union.
func mergeTypes(a, b *rx.Regex) *rx.Regex {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return rx.Union(a, b)
}

// quoteLiteral escapes s so it can be used as a regex matching exactly the
// literal string s.
func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			out = append(out, '\\', c)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
