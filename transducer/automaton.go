// Package transducer implements the Jim–Mandelbaum transducer (spec
// Component F) and the recursive get/put drive built on it (Component G):
// the machinery that takes over from the non-recursive `lens` package
// exactly where a lens becomes recursive.
//
// The pipeline follows spec §4.6. Build (this file) performs symbol
// assignment — every recursive sublens becomes a nonterminal with a rule
// of its own, every non-recursive sublens is a terminal evaluated by the
// lens package — constructs a Thompson-style NFA per rule with call edges
// for nonterminal symbols, and determinizes it by ε-removal and subset
// construction. parse (earley.go) runs the Earley item-set loop over the
// determinized rules, recording a back-link for every inference; the
// back-link graph is the parse forest. visit (visit.go) walks one
// derivation of that forest, emitting Enter/Exit/Terminal events and
// reporting ambiguity — an item with a second back-link — through the
// visitor's Error callback instead of resolving it silently. Get
// (drive.go) folds the event stream back into the same fragment/skeleton
// shape the non-recursive evaluator produces. Check (ambiguous.go) is the
// build-time companion: it flags CONCAT/STAR regex ambiguity wherever
// both operands still have a finite CType, i.e. everywhere short of
// crossing a REC boundary.
package transducer

import (
	"sort"

	"github.com/augeas-go/augeas/lens"
)

// Automaton is the determinized transducer built from a lens (spec §4.6
// steps 1-3): one rule per nonterminal (recursive) sublens, each rule a
// DFA over symbols, where a symbol is either a call into another rule or
// a terminal lens scanned against the input by the Earley loop.
type Automaton struct {
	Start *lens.Lens
	rules map[*lens.Lens]*rule
}

// rule is one nonterminal's determinized transition network.
type rule struct {
	owner  *lens.Lens
	start  int
	states []dstate
}

// dstate is one DFA state; accepting iff the NFA subset it stands for
// contains the rule's accept state.
type dstate struct {
	accepting bool
	edges     []dedge
}

// dedge consumes one symbol: a call into sym's rule (call == true) or a
// terminal span of sym scanned by the Earley loop (call == false).
type dedge struct {
	sym  *lens.Lens
	call bool
	to   int
}

// nedge/nstate form the per-rule Thompson NFA the determinization
// consumes: ε edges plus one symbol edge per immediate child of the
// rule's combinator.
type nedge struct {
	eps bool
	sym *lens.Lens
	to  int
}

type nstate struct {
	edges []nedge
}

type ruleNFA struct {
	states []nstate
	start  int
	accept int
}

func (n *ruleNFA) newState() int {
	n.states = append(n.states, nstate{})
	return len(n.states) - 1
}

func (n *ruleNFA) addEps(from, to int) {
	n.states[from].edges = append(n.states[from].edges, nedge{eps: true, to: to})
}

func (n *ruleNFA) addSym(from, to int, sym *lens.Lens) {
	n.states[from].edges = append(n.states[from].edges, nedge{sym: sym, to: to})
}

// Build assigns symbols and constructs the determinized automaton for l
// (spec §4.6 steps 1-3). Every recursive sublens reachable from l gets a
// rule; a non-recursive l is accepted too (its rule is a single terminal
// edge), so callers need not special-case it.
func Build(l *lens.Lens) *Automaton {
	a := &Automaton{Start: l, rules: map[*lens.Lens]*rule{}}
	a.addRule(l)
	return a
}

func (a *Automaton) addRule(n *lens.Lens) {
	if _, ok := a.rules[n]; ok {
		return
	}
	r := &rule{owner: n}
	a.rules[n] = r // reserve before descending: REC cycles reach back here

	nfa := &ruleNFA{}
	nfa.start = nfa.newState()
	nfa.accept = nfa.newState()
	a.body(nfa, n, nfa.start, nfa.accept)
	r.start, r.states = determinize(nfa)
}

// body wires n's rule between from and to, one symbol edge per immediate
// child. Recursive children become rules of their own (reached through
// call edges); everything else stays a terminal for the lens package.
func (a *Automaton) body(nfa *ruleNFA, n *lens.Lens, from, to int) {
	sym := func(from, to int, child *lens.Lens) {
		nfa.addSym(from, to, child)
		if child.Recursive {
			a.addRule(child)
		}
	}

	if !n.Recursive {
		sym(from, to, n)
		return
	}

	switch n.Tag {
	case lens.Rec, lens.Subtree:
		sym(from, to, n.Children[0])
	case lens.Concat, lens.Square:
		cur := from
		for i, child := range n.Children {
			next := to
			if i < len(n.Children)-1 {
				next = nfa.newState()
			}
			sym(cur, next, child)
			cur = next
		}
	case lens.Union:
		for _, child := range n.Children {
			s, e := nfa.newState(), nfa.newState()
			nfa.addEps(from, s)
			sym(s, e, child)
			nfa.addEps(e, to)
		}
	case lens.Star:
		s, e := nfa.newState(), nfa.newState()
		nfa.addEps(from, s)
		nfa.addEps(from, to)
		sym(s, e, n.Children[0])
		nfa.addEps(e, s)
		nfa.addEps(e, to)
	case lens.Maybe:
		s, e := nfa.newState(), nfa.newState()
		nfa.addEps(from, s)
		nfa.addEps(from, to)
		sym(s, e, n.Children[0])
		nfa.addEps(e, to)
	}
}

// determinize performs ε-removal and subset construction (spec §4.6 step
// 3): subsets are deduplicated by their sorted NFA-state key, and each
// resulting state carries at most one edge per symbol, which is what
// makes the transducer deterministic before any input is read.
func determinize(nfa *ruleNFA) (start int, states []dstate) {
	closure := func(set map[int]bool) map[int]bool {
		stack := make([]int, 0, len(set))
		for s := range set {
			stack = append(stack, s)
		}
		for len(stack) > 0 {
			s := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, e := range nfa.states[s].edges {
				if e.eps && !set[e.to] {
					set[e.to] = true
					stack = append(stack, e.to)
				}
			}
		}
		return set
	}

	type pending struct {
		set map[int]bool
		id  int
	}
	seen := map[string]int{}
	startSet := closure(map[int]bool{nfa.start: true})
	seen[subsetKey(startSet)] = 0
	states = []dstate{{accepting: startSet[nfa.accept]}}
	queue := []pending{{startSet, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		targets := map[*lens.Lens]map[int]bool{}
		var order []*lens.Lens
		for _, s := range sortedIDs(cur.set) {
			for _, e := range nfa.states[s].edges {
				if e.eps {
					continue
				}
				if targets[e.sym] == nil {
					targets[e.sym] = map[int]bool{}
					order = append(order, e.sym)
				}
				targets[e.sym][e.to] = true
			}
		}
		for _, sym := range order {
			next := closure(targets[sym])
			k := subsetKey(next)
			id, ok := seen[k]
			if !ok {
				id = len(states)
				seen[k] = id
				states = append(states, dstate{accepting: next[nfa.accept]})
				queue = append(queue, pending{next, id})
			}
			states[cur.id].edges = append(states[cur.id].edges, dedge{sym: sym, call: sym.Recursive, to: id})
		}
	}
	return 0, states
}

func sortedIDs(set map[int]bool) []int {
	ids := make([]int, 0, len(set))
	for s := range set {
		ids = append(ids, s)
	}
	sort.Ints(ids)
	return ids
}

func subsetKey(set map[int]bool) string {
	b := make([]byte, 0, len(set)*3)
	for _, id := range sortedIDs(set) {
		b = appendInt(b, id)
		b = append(b, ',')
	}
	return string(b)
}

func appendInt(b []byte, v int) []byte {
	if v == 0 {
		return append(b, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, tmp[i:]...)
}
