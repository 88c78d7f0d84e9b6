package rx

// bthread is one live hypothesis about where b started matching after a
// split point in the string consumed so far.
type bthread struct {
	set  map[int]bool
	mult int // number of distinct split points collapsed into this subset, saturated at 2
}

// splitConfig is one node of the ambiguity-search state space: the current
// subset of a's NFA states, plus the live b-threads spawned at every split
// point seen so far.
type splitConfig struct {
	aSet    map[int]bool
	threads []bthread
}

// AmbiguousConcat reports whether there is more than one way to split some
// string accepted by Concat(a, b) into an a-part and a b-part. If so it
// returns a witness string; otherwise ok is false.
//
// The search tracks, at every prefix length reached so far, the current
// subset of a's NFA states plus one "b thread" per distinct split point that
// is still alive (collapsing threads with identical b-state subsets, since
// such threads are from then on indistinguishable). Two threads accepting
// simultaneously for the same prefix is exactly a witness of ambiguity: the
// prefix has two distinct valid (a-part, b-part) splits. The state space
// (a-subset x set-of-(b-subset,saturated-multiplicity)) is finite, so the
// breadth-first search is a sound decision procedure, not a heuristic.
func AmbiguousConcat(a, b *Regex) (string, bool) {
	A, B := a.nfa(), b.nfa()
	alphabet := mergedAlphabet(A, B)

	effective := func(c splitConfig) []bthread {
		threads := append([]bthread(nil), c.threads...)
		if A.hasAccept(c.aSet) {
			spawn := B.closure(map[int]bool{B.start: true})
			threads = mergeThread(threads, spawn)
		}
		return threads
	}

	ambiguousNow := func(threads []bthread) bool {
		count := 0
		for _, t := range threads {
			if B.hasAccept(t.set) {
				count += t.mult
			}
		}
		return count >= 2
	}

	type item struct {
		c    splitConfig
		path []rune
	}

	start := splitConfig{aSet: A.closure(map[int]bool{A.start: true})}
	if ambiguousNow(effective(start)) {
		return "", true
	}

	visited := map[string]bool{}
	visited[splitConfigKey(start)] = true
	queue := []item{{start, nil}}

	const maxDepth = 4096 // safety valve; visited-set dedup makes this unreachable in practice
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) > maxDepth {
			continue
		}
		threads := effective(cur.c)

		for _, sym := range alphabet {
			nAset := A.closure(A.step(cur.c.aSet, sym.lo))
			var nThreads []bthread
			for _, t := range threads {
				ns := B.closure(B.step(t.set, sym.lo))
				if len(ns) == 0 {
					continue
				}
				nThreads = mergeThreadMult(nThreads, ns, t.mult)
			}
			if len(nAset) == 0 && len(nThreads) == 0 {
				continue
			}
			nc := splitConfig{aSet: nAset, threads: nThreads}
			path := append(append([]rune(nil), cur.path...), sym.lo)

			if ambiguousNow(effective(nc)) {
				return string(path), true
			}

			k := splitConfigKey(nc)
			if visited[k] {
				continue
			}
			visited[k] = true
			queue = append(queue, item{nc, path})
		}
	}
	return "", false
}

// AmbiguousIter reports whether STAR(a) admits two different ways to split
// some matched string into repetitions of a. This is decided as
// AmbiguousConcat(a, a*): an ambiguous first-repetition boundary against the
// rest of the iteration is a sound witness of overall STAR ambiguity.
func AmbiguousIter(a *Regex) (string, bool) {
	return AmbiguousConcat(a, Iter(a))
}

func mergeThread(threads []bthread, set map[int]bool) []bthread {
	return mergeThreadMult(threads, set, 1)
}

func mergeThreadMult(threads []bthread, set map[int]bool, mult int) []bthread {
	k := newStateset(set).key()
	for i, t := range threads {
		if newStateset(t.set).key() == k {
			threads[i].mult = satAdd(t.mult, mult)
			return threads
		}
	}
	return append(threads, bthread{set: set, mult: mult})
}

func satAdd(a, b int) int {
	if a+b > 2 {
		return 2
	}
	return a + b
}

// splitConfigKey is the canonical signature used to dedup the BFS frontier.
func splitConfigKey(c splitConfig) string {
	keys := make([]string, len(c.threads))
	for i, t := range c.threads {
		keys[i] = newStateset(t.set).key() + ":" + itoa(t.mult)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	s := newStateset(c.aSet).key()
	for _, k := range keys {
		s += "|" + k
	}
	return s
}
