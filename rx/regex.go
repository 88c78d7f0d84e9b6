// Package rx is the regex abstraction required by spec Component A: longest
// anchored match at an offset, emptiness, and the algebraic operations
// (intersect/minus/concat/iter/union/optional) the lens type checker and the
// SQUARE combinator need at runtime, plus ambiguity-witness search.
//
// Ordinary matching is delegated to github.com/grafana/regexp (zoekt's
// drop-in stdlib-regexp replacement). Intersection, subtraction, and
// ambiguity search have no equivalent in any example repo's dependency set,
// so they are implemented directly over a small Thompson NFA built from
// regexp/syntax (see nfa.go and DESIGN.md).
package rx

import (
	"fmt"
	"unicode/utf8"

	"github.com/grafana/regexp"
)

// Regex is an immutable compiled pattern. Once constructed it is safe for
// concurrent use by multiple Augeas instances (instances themselves are
// single-threaded, but a lens's compiled regexes are shared, read-only,
// immutable values per spec Design Notes "Reference counting").
type Regex struct {
	source string
	re     *regexp.Regexp // nil for NFA-only regexes (Intersect/Minus results)
	n      *nfa           // built lazily for algebraic ops; always set for NFA-only regexes
}

// New compiles pattern (Go/Perl regexp syntax) into a Regex.
func New(pattern string) (*Regex, error) {
	anchored := "^(?:" + pattern + ")"
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, fmt.Errorf("rx: invalid pattern %q: %w", pattern, err)
	}
	re.Longest() // leftmost-longest (POSIX-style) semantics, required by CONCAT split-finding
	return &Regex{source: pattern, re: re}, nil
}

// MustNew is New, panicking on error; used for lens primitives built from
// literal Go source rather than user input.
func MustNew(pattern string) *Regex {
	r, err := New(pattern)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the regex's source syntax, for error messages and display.
func (r *Regex) String() string {
	return r.source
}

func (r *Regex) nfa() *nfa {
	if r.n == nil {
		n, err := buildNFA(r.source)
		if err != nil {
			// Patterns that compiled successfully via grafana/regexp are
			// always parseable by regexp/syntax (same dialect); this path
			// is unreachable for r.re != nil regexes.
			panic(fmt.Sprintf("rx: %v", err))
		}
		r.n = n
	}
	return r.n
}

// Match returns the length of the longest match of r anchored at byte offset
// start in text, or -1 if there is no match there.
func (r *Regex) Match(text string, start int) int {
	if start < 0 || start > len(text) {
		return -1
	}
	if r.re != nil {
		loc := r.re.FindStringIndex(text[start:])
		if loc == nil {
			return -1
		}
		return loc[1] - loc[0]
	}
	return r.nfa().longestMatch(text[start:])
}

// longestMatch returns the length (in bytes) of the longest prefix of s
// accepted by the NFA, or -1 if no prefix (including the empty one) matches.
func (n *nfa) longestMatch(s string) int {
	cur := n.closure(map[int]bool{n.start: true})
	best := -1
	if n.hasAccept(cur) {
		best = 0
	}
	pos := 0
	for pos < len(s) {
		r, size := utf8.DecodeRuneInString(s[pos:])
		next := n.closure(n.step(cur, r))
		if len(next) == 0 {
			break
		}
		pos += size
		cur = next
		if n.hasAccept(cur) {
			best = pos
		}
	}
	return best
}

// allMatchLengths is longestMatch's sibling: instead of keeping only the
// best prefix length reached so far, it records every length at which the
// NFA's current state set contains an accept state.
func (n *nfa) allMatchLengths(s string) []int {
	cur := n.closure(map[int]bool{n.start: true})
	var lens []int
	if n.hasAccept(cur) {
		lens = append(lens, 0)
	}
	pos := 0
	for pos < len(s) {
		r, size := utf8.DecodeRuneInString(s[pos:])
		next := n.closure(n.step(cur, r))
		if len(next) == 0 {
			break
		}
		pos += size
		cur = next
		if n.hasAccept(cur) {
			lens = append(lens, pos)
		}
	}
	return lens
}

// MatchLengths returns, in increasing order, every prefix length of
// text[start:] that r accepts — not just the longest, which Match returns.
// The CONCAT split search (spec §4.1) needs the full set: the longest match
// of the left operand is not necessarily the one that lets the right operand
// match the remainder.
func (r *Regex) MatchLengths(text string, start int) []int {
	if start < 0 || start > len(text) {
		return nil
	}
	return r.nfa().allMatchLengths(text[start:])
}

// AcceptsLength reports whether r matches exactly text[start:start+length].
func (r *Regex) AcceptsLength(text string, start, length int) bool {
	if start < 0 || length < 0 || start+length > len(text) {
		return false
	}
	for _, n := range r.MatchLengths(text, start) {
		if n == length {
			return true
		}
	}
	return false
}

// MatchesEmpty reports whether r accepts the empty string.
func (r *Regex) MatchesEmpty() bool {
	if r.re != nil {
		return r.re.MatchString("")
	}
	n := r.nfa()
	return n.hasAccept(n.startSet())
}

// Concat returns the regex matching exactly a followed by b.
func Concat(a, b *Regex) *Regex {
	if a.re != nil && b.re != nil {
		return MustNew("(?:" + a.source + ")(?:" + b.source + ")")
	}
	return fromNFA(concatNFA(a.nfa(), b.nfa()), "(?:"+a.source+")(?:"+b.source+")")
}

// Union returns the regex matching a or b.
func Union(a, b *Regex) *Regex {
	if a.re != nil && b.re != nil {
		return MustNew("(?:" + a.source + ")|(?:" + b.source + ")")
	}
	return fromNFA(unionNFA(a.nfa(), b.nfa()), "(?:"+a.source+")|(?:"+b.source+")")
}

// Iter returns the regex matching zero or more repetitions of a.
func Iter(a *Regex) *Regex {
	if a.re != nil {
		return MustNew("(?:" + a.source + ")*")
	}
	return fromNFA(starNFA(a.nfa()), "(?:"+a.source+")*")
}

// Optional returns the regex matching a or the empty string.
func Optional(a *Regex) *Regex {
	if a.re != nil {
		return MustNew("(?:" + a.source + ")?")
	}
	return fromNFA(questNFA(a.nfa()), "(?:"+a.source+")?")
}

// fromNFA wraps a pre-built NFA (the product of Intersect/Minus, or a
// composition of one) as a Regex with no backing grafana/regexp program.
func fromNFA(n *nfa, source string) *Regex {
	return &Regex{source: source, n: n}
}

// Intersect returns the regex matching exactly the strings both a and b
// match. Used by the type checker and by SQUARE's runtime key-matching
// check.
func Intersect(a, b *Regex) *Regex {
	return fromNFA(productNFA(a.nfa(), b.nfa(), func(inA, inB bool) bool { return inA && inB }),
		"("+a.source+")&("+b.source+")")
}

// Minus returns the regex matching strings a matches that b does not.
func Minus(a, b *Regex) *Regex {
	return fromNFA(productNFA(a.nfa(), b.nfa(), func(inA, inB bool) bool { return inA && !inB }),
		"("+a.source+")-("+b.source+")")
}

func concatNFA(a, b *nfa) *nfa {
	n := &nfa{}
	aOff := copyStates(n, a)
	bOff := copyStates(n, b)
	n.addEps(a.accept+aOff, b.start+bOff)
	n.start = a.start + aOff
	n.accept = b.accept + bOff
	return n
}

func unionNFA(a, b *nfa) *nfa {
	n := &nfa{}
	s := newNFAState(n)
	ac := newNFAState(n)
	aOff := copyStates(n, a)
	n.addEps(s, a.start+aOff)
	n.addEps(a.accept+aOff, ac)
	bOff := copyStates(n, b)
	n.addEps(s, b.start+bOff)
	n.addEps(b.accept+bOff, ac)
	n.start = s
	n.accept = ac
	return n
}

func starNFA(a *nfa) *nfa {
	n := &nfa{}
	s := newNFAState(n)
	ac := newNFAState(n)
	off := copyStates(n, a)
	n.addEps(s, a.start+off)
	n.addEps(s, ac)
	n.addEps(a.accept+off, a.start+off)
	n.addEps(a.accept+off, ac)
	n.start = s
	n.accept = ac
	return n
}

func questNFA(a *nfa) *nfa {
	n := &nfa{}
	s := newNFAState(n)
	ac := newNFAState(n)
	off := copyStates(n, a)
	n.addEps(s, a.start+off)
	n.addEps(s, ac)
	n.addEps(a.accept+off, ac)
	n.start = s
	n.accept = ac
	return n
}

// copyStates appends a copy of src's states onto dst and returns the offset
// added to every src state id to get its id in dst.
func copyStates(dst *nfa, src *nfa) int {
	offset := len(dst.states)
	for _, st := range src.states {
		ns := nfaState{
			eps:   make([]int, len(st.eps)),
			edges: make([]edge, len(st.edges)),
		}
		for i, e := range st.eps {
			ns.eps[i] = e + offset
		}
		for i, e := range st.edges {
			ns.edges[i] = edge{e.runeRange, e.to + offset}
		}
		dst.states = append(dst.states, ns)
	}
	return offset
}

// productNFA builds the synchronized product of two NFAs, simulated lazily
// via subset construction over the alphabet implied by both automatons'
// rune ranges. accept decides, given whether the a-side and b-side subsets
// each contain an accepting state, whether the product state is accepting.
func productNFA(a, b *nfa, accept func(inA, inB bool) bool) *nfa {
	n := &nfa{}
	type pair struct {
		a, b string // canonical subset keys
	}
	seen := map[pair]int{}
	aSet := a.closure(map[int]bool{a.start: true})
	bSet := b.closure(map[int]bool{b.start: true})

	type frontier struct {
		aSet, bSet map[int]bool
		id         int
	}
	key := func(as, bs map[int]bool) pair {
		return pair{newStateset(as).key(), newStateset(bs).key()}
	}

	start := newNFAState(n)
	n.start = start
	k0 := key(aSet, bSet)
	seen[k0] = start

	queue := []frontier{{aSet, bSet, start}}
	alphabet := mergedAlphabet(a, b)

	acceptID := -1
	ensureAccept := func() int {
		if acceptID == -1 {
			acceptID = newNFAState(n)
		}
		return acceptID
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if accept(a.hasAccept(cur.aSet), b.hasAccept(cur.bSet)) {
			n.addEps(cur.id, ensureAccept())
		}

		for _, sym := range alphabet {
			// Every edge boundary of both automatons is an alphabet range
			// endpoint, so one representative rune per range is exact.
			na := a.closure(a.step(cur.aSet, sym.lo))
			nb := b.closure(b.step(cur.bSet, sym.lo))
			if len(na) == 0 && len(nb) == 0 {
				continue
			}
			k := key(na, nb)
			id, ok := seen[k]
			if !ok {
				id = newNFAState(n)
				seen[k] = id
				queue = append(queue, frontier{na, nb, id})
			}
			n.addEdge(cur.id, id, sym.lo, sym.hi)
		}
	}
	if acceptID == -1 {
		// No accepting state reachable: language is empty. Still return a
		// well-formed (dead) automaton.
		acceptID = newNFAState(n)
	}
	n.accept = acceptID
	return n
}

// mergedAlphabet returns a representative set of disjoint rune ranges that
// together partition every range either automaton distinguishes. Using
// representative ranges (rather than one symbol per rune) keeps subset
// construction finite and small for the character classes lenses typically
// use.
func mergedAlphabet(a, b *nfa) []runeRange {
	bounds := map[rune]bool{0: true}
	for _, r := range a.boundaries() {
		bounds[r] = true
	}
	for _, r := range b.boundaries() {
		bounds[r] = true
	}
	sorted := make([]rune, 0, len(bounds))
	for r := range bounds {
		sorted = append(sorted, r)
	}
	sortRunes(sorted)

	ranges := make([]runeRange, 0, len(sorted))
	for i, lo := range sorted {
		hi := rune(maxRune)
		if i+1 < len(sorted) {
			hi = sorted[i+1] - 1
		}
		if hi >= lo {
			ranges = append(ranges, runeRange{lo, hi})
		}
	}
	return ranges
}

func sortRunes(rs []rune) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j-1] > rs[j]; j-- {
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}
