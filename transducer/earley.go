package transducer

import "github.com/augeas-go/augeas/lens"

// item is one Earley item: rule's DFA sits in state after deriving
// text[parent:set]. causes are the back-links (spec §4.6 step 5) — every
// way this item was inferred. The back-link graph across all items is the
// parse forest; a second cause on an item used by a derivation is
// ambiguity, detected during visitation.
type item struct {
	rule   *lens.Lens
	state  int
	parent int
	set    int
	causes []cause
}

type causeKind int

const (
	causeRoot     causeKind = iota // INIT/PREDICT: a fresh rule start
	causeScan                      // SCAN: prev consumed a terminal span
	causeComplete                  // COMPLETE: prev consumed a finished callee
)

type cause struct {
	kind causeKind
	prev *item      // the item before consuming the symbol
	term *lens.Lens // causeScan: the terminal
	s, e int        // causeScan: the consumed span
	done *item      // causeComplete: the completed callee item
}

func sameCause(a, b cause) bool {
	return a.kind == b.kind && a.prev == b.prev && a.term == b.term &&
		a.s == b.s && a.e == b.e && a.done == b.done
}

type itemKey struct {
	rule   *lens.Lens
	state  int
	parent int
}

type itemSet struct {
	items    []*item
	index    map[itemKey]*item
	zeroDone []*item // zero-span completions, replayed for late-joining callers
}

// chart is one parse's item sets E_offset..E_n plus the memoized terminal
// scans, which the tree-building visitor reuses afterwards so every
// terminal span is evaluated exactly once.
type chart struct {
	a        *Automaton
	text     string
	offset   int
	sets     map[int]*itemSet
	scans    map[scanKey][]lens.Match
	furthest int
}

type scanKey struct {
	l   *lens.Lens
	pos int
}

// parse runs the Earley loop (spec §4.6 step 4): INIT seeds E_offset with
// the start rule, and each set is worked to a fixpoint of PREDICT (call
// edges), SCAN (terminal edges, one item per length the terminal lens
// accepts there), and COMPLETE (an accepting item advances every caller
// waiting in its parent set). A nullable callee — a rule completing in
// the very set it was predicted in — is the NCALLER/NCALLEE case: its
// zero-span completion is remembered on the set and replayed against
// callers that join later, so neither side depends on arrival order.
//
// It returns the chart and every accepting item of the start rule; more
// than one accepting item means the input parses to more than one length,
// which the caller reports as ambiguity.
func (a *Automaton) parse(text string, offset int) (*chart, []*item) {
	c := &chart{
		a:        a,
		text:     text,
		offset:   offset,
		sets:     map[int]*itemSet{},
		scans:    map[scanKey][]lens.Match{},
		furthest: offset,
	}

	c.add(offset, a.Start, a.rules[a.Start].start, offset, cause{kind: causeRoot})

	for j := offset; j <= len(text); j++ {
		set := c.sets[j]
		if set == nil {
			continue
		}
		for i := 0; i < len(set.items); i++ { // items appended mid-loop are worked too
			c.process(set.items[i], j)
		}
	}

	var accepts []*item
	for j := offset; j <= len(text); j++ {
		set := c.sets[j]
		if set == nil {
			continue
		}
		for _, it := range set.items {
			if it.rule == a.Start && it.parent == offset && a.rules[it.rule].states[it.state].accepting {
				accepts = append(accepts, it)
			}
		}
	}
	return c, accepts
}

func (c *chart) setAt(j int) *itemSet {
	s := c.sets[j]
	if s == nil {
		s = &itemSet{index: map[itemKey]*item{}}
		c.sets[j] = s
	}
	return s
}

// add inserts (rule, state, parent) into E_j, recording how it arose; an
// item already present just gains the new back-link. Re-predicting an
// existing rule start adds nothing.
func (c *chart) add(j int, rule *lens.Lens, state, parent int, cs cause) {
	set := c.setAt(j)
	k := itemKey{rule: rule, state: state, parent: parent}
	it := set.index[k]
	if it == nil {
		it = &item{rule: rule, state: state, parent: parent, set: j, causes: []cause{cs}}
		set.index[k] = it
		set.items = append(set.items, it)
		if j > c.furthest {
			c.furthest = j
		}
		return
	}
	if cs.kind == causeRoot {
		return
	}
	for _, old := range it.causes {
		if sameCause(old, cs) {
			return
		}
	}
	it.causes = append(it.causes, cs)
}

func (c *chart) process(x *item, j int) {
	st := c.a.rules[x.rule].states[x.state]

	if st.accepting {
		c.complete(x, j)
	}

	for _, e := range st.edges {
		if e.call {
			// PREDICT
			callee := c.a.rules[e.sym]
			c.add(j, e.sym, callee.start, j, cause{kind: causeRoot})
			// NCALLEE: the callee may already have completed over zero
			// bytes in this very set; advance past it now.
			for _, done := range c.setAt(j).zeroDone {
				if done.rule == e.sym {
					c.advance(x, e, done)
				}
			}
			continue
		}
		// SCAN
		for _, m := range c.scanMatches(e.sym, j) {
			if m.N == 0 && e.to == x.state {
				continue // a zero-width self-step derives nothing new, forever
			}
			c.add(j+m.N, x.rule, e.to, x.parent,
				cause{kind: causeScan, prev: x, term: e.sym, s: j, e: j + m.N})
		}
	}
}

// complete advances every caller of x's rule waiting in E_parent (spec
// §4.6 COMPLETE). A zero-span completion is also remembered on the set so
// callers predicted after x still see it (NCALLER).
func (c *chart) complete(x *item, j int) {
	if x.parent == j {
		set := c.setAt(j)
		if !containsItem(set.zeroDone, x) {
			set.zeroDone = append(set.zeroDone, x)
		}
	}
	for _, p := range c.setAt(x.parent).items {
		for _, e := range c.a.rules[p.rule].states[p.state].edges {
			if e.call && e.sym == x.rule {
				c.advance(p, e, x)
			}
		}
	}
}

// advance moves caller p over the completed callee item done.
func (c *chart) advance(p *item, e dedge, done *item) {
	if done.parent == done.set && e.to == p.state {
		return // zero-width self-step again
	}
	c.add(done.set, p.rule, e.to, p.parent,
		cause{kind: causeComplete, prev: p, done: done})
}

// scanMatches returns (memoized) every way terminal t can consume text at
// pos. Scanning goes through the non-recursive evaluator rather than a
// bare CType match, so a length the regex accepts but the lens cannot
// actually parse is never scanned into an item.
func (c *chart) scanMatches(t *lens.Lens, pos int) []lens.Match {
	k := scanKey{l: t, pos: pos}
	if ms, ok := c.scans[k]; ok {
		return ms
	}
	ms, err := lens.GetAllLengths(t, c.text, pos)
	if err != nil {
		ms = nil
	}
	c.scans[k] = ms
	return ms
}

func containsItem(items []*item, it *item) bool {
	for _, x := range items {
		if x == it {
			return true
		}
	}
	return false
}
