package transducer

import (
	"fmt"

	"github.com/augeas-go/augeas/lens"
	"github.com/augeas-go/augeas/rx"
)

// AmbiguityError reports a lens whose splits are not provably unique (spec
// §4.6 "Determinism contract": ambiguity must be detected, never silently
// resolved).
type AmbiguityError struct {
	Lens    *lens.Lens
	Witness string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("transducer: ambiguous lens (witness %q)", e.Witness)
}

// Check walks l looking for CONCAT splits and STAR iterations that are not
// provably unique, using rx's ambiguity-witness search at every such
// decision point whose operands have a finite CType. UNION branches are
// walked into, but their overlap is not checked (see the Union case).
//
// Recursive sub-lenses (CType == nil) cannot be checked this way — there
// is no finite automaton to search — so Check only verifies the
// non-recursive "skeleton" of a recursive grammar (every Concat/Union/Star
// it can reach without crossing a REC boundary) and recurses past REC
// boundaries to check each nonterminal's own body in isolation. This is
// weaker than a true whole-grammar ambiguity proof, which is why Get
// (drive.go) still detects per-input ambiguity across REC boundaries —
// a second back-link in the Earley forest — rather than assuming Check's
// silence is a full proof: Check is the cheap build-time filter, the
// parse's back-links are the exhaustive record for the input actually
// read.
func Check(l *lens.Lens) error {
	return check(l, map[*lens.Lens]bool{})
}

func check(l *lens.Lens, seen map[*lens.Lens]bool) error {
	if seen[l] {
		return nil
	}
	seen[l] = true

	switch l.Tag {
	case lens.Concat:
		a, b := l.Children[0], l.Children[1]
		if a.CType != nil && b.CType != nil {
			if w, ok := rx.AmbiguousConcat(a.CType, b.CType); ok {
				return &AmbiguityError{Lens: l, Witness: w}
			}
		}
		if err := check(a, seen); err != nil {
			return err
		}
		return check(b, seen)
	case lens.Union:
		// Full branch-overlap detection would need an "is this regex's
		// language empty" witness search, which rx does not expose (only
		// matching against concrete text), so overlap goes unchecked here.
		// For a Recursive UNION, Get's parse catches an actually-ambiguous
		// input (both branches deriving it leave a second back-link). A
		// non-recursive UNION is evaluated by lens.Get, which takes the
		// left branch whenever its CType matches, so an overlap there is
		// resolved by that preference and not reported.
		a, b := l.Children[0], l.Children[1]
		if err := check(a, seen); err != nil {
			return err
		}
		return check(b, seen)
	case lens.Star:
		body := l.Children[0]
		if body.CType != nil {
			if w, ok := rx.AmbiguousIter(body.CType); ok {
				return &AmbiguityError{Lens: l, Witness: w}
			}
		}
		return check(body, seen)
	case lens.Square:
		for _, c := range l.Children {
			if err := check(c, seen); err != nil {
				return err
			}
		}
		return nil
	case lens.Subtree, lens.Maybe, lens.Rec:
		return check(l.Children[0], seen)
	}
	return nil
}
