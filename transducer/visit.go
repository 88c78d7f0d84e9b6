package transducer

import (
	"errors"

	"github.com/augeas-go/augeas/lens"
)

// Visitor receives one derivation of a completed parse (spec §4.6 step
// 6): Enter/Exit bracket each nonterminal's span, Terminal reports each
// scanned terminal span, and Error is called — instead of further events
// — when the forest holds more than one derivation.
type Visitor struct {
	Enter    func(l *lens.Lens, start, end int) error
	Exit     func(l *lens.Lens, start, end int) error
	Terminal func(l *lens.Lens, start, end int) error
	Error    func(pos int, witness string)
}

var errAmbiguous = errors.New("transducer: ambiguous parse")

// visit walks the parse forest rooted at the accepting item root.
// Ambiguity — an item on the derivation carrying a second back-link, or a
// back-link cycle (infinitely many derivations over a zero-width span) —
// is reported through the visitor's Error callback and aborts the walk;
// it is never silently resolved (spec §4.6 "determinism contract").
func visit(text string, root *item, v Visitor) error {
	w := &walker{text: text, v: v, busy: map[*item]bool{}}
	return w.emit(root)
}

type walker struct {
	text string
	v    Visitor
	busy map[*item]bool // items on the active emit path, for cycle detection
}

// element is one symbol a rule consumed: a terminal span, or a completed
// callee item.
type element struct {
	term *lens.Lens
	s, e int
	done *item
}

func (w *walker) emit(it *item) error {
	if w.busy[it] {
		return w.ambiguous(it)
	}
	w.busy[it] = true
	defer delete(w.busy, it)

	if w.v.Enter != nil {
		if err := w.v.Enter(it.rule, it.parent, it.set); err != nil {
			return err
		}
	}
	els, err := w.elements(it)
	if err != nil {
		return err
	}
	for _, el := range els {
		if el.term != nil {
			if err := w.v.Terminal(el.term, el.s, el.e); err != nil {
				return err
			}
			continue
		}
		if err := w.emit(el.done); err != nil {
			return err
		}
	}
	if w.v.Exit != nil {
		return w.v.Exit(it.rule, it.parent, it.set)
	}
	return nil
}

// elements unwinds it's back-links to the rule start, yielding the
// symbols the rule consumed in order. A chain item revisited before the
// start is reached means a zero-progress cycle, reported as ambiguity.
func (w *walker) elements(it *item) ([]element, error) {
	var rev []element
	onChain := map[*item]bool{}
	for cur := it; ; {
		if onChain[cur] {
			return nil, w.ambiguous(cur)
		}
		onChain[cur] = true
		if len(cur.causes) > 1 {
			return nil, w.ambiguous(cur)
		}
		cs := cur.causes[0]
		switch cs.kind {
		case causeRoot:
			for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
				rev[i], rev[j] = rev[j], rev[i]
			}
			return rev, nil
		case causeScan:
			rev = append(rev, element{term: cs.term, s: cs.s, e: cs.e})
			cur = cs.prev
		case causeComplete:
			rev = append(rev, element{done: cs.done})
			cur = cs.prev
		}
	}
}

func (w *walker) ambiguous(it *item) error {
	if w.v.Error != nil {
		witness := ""
		if it.parent <= it.set && it.set <= len(w.text) {
			witness = w.text[it.parent:it.set]
		}
		w.v.Error(it.set, witness)
	}
	return errAmbiguous
}
