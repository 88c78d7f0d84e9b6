package augeas

import (
	"strings"

	"github.com/augeas-go/augeas/pathx"
	"github.com/augeas-go/augeas/tree"
)

func (a *Augeas) contextValue() string {
	s := a.store
	metaRoot := s.ChildOrCreate(s.Root(), "augeas")
	c, ok := s.Child(metaRoot, "context")
	if !ok {
		return "/files"
	}
	v, ok := s.Value(c)
	if !ok || v == "" {
		return "/files"
	}
	return v
}

// resolvePath anchors a relative path expression at the current context,
// the same way a bare (non-"/"-prefixed) path is resolved against
// /augeas/context by the original API. A path starting with "$" is a
// variable reference and is left untouched: it is not itself a relative
// child-label path. pathx.Parse accepts a bare $name there; a sub-path
// following it is a syntax error.
func (a *Augeas) resolvePath(path string) string {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "$") {
		return path
	}
	return strings.TrimSuffix(a.contextValue(), "/") + "/" + path
}

func (a *Augeas) evalCtx() *pathx.Context {
	return &pathx.Context{Store: a.store, Node: a.store.Root(), Pos: 1, Size: 1}
}

// evalNodeSet parses and evaluates a path expression, requiring it to
// denote a node-set (every mutator below consumes the result this way).
func (a *Augeas) evalNodeSet(path string) ([]tree.ID, *Error) {
	expr, err := pathx.Parse(a.resolvePath(path))
	if err != nil {
		return nil, pathxErrorOf(err)
	}
	v, err := pathx.Eval(a.evalCtx(), a.sym, expr)
	if err != nil {
		return nil, pathxErrorOf(err)
	}
	if v.Kind != pathx.KindNodeSet {
		return nil, newError(EPATHX, "expression %q does not denote a node-set", path)
	}
	return v.Nodes, nil
}

func (a *Augeas) findOne(path string) (tree.ID, *Error) {
	expr, err := pathx.Parse(a.resolvePath(path))
	if err != nil {
		return 0, pathxErrorOf(err)
	}
	id, n, err := pathx.FindOne(a.evalCtx(), a.sym, expr)
	if err != nil {
		return 0, pathxErrorOf(err)
	}
	switch {
	case n == 0:
		return 0, newError(ENOMATCH, "no node matches %q", path)
	case n > 1:
		return 0, newError(EMMATCH, "%d nodes match %q, expected exactly one", n, path)
	}
	return id, nil
}

// expandPath resolves a pure location path, creating any missing
// ancestors (and the final node itself) along the way, the same
// expand_tree semantics pathx.Expand implements for §4.3.
func (a *Augeas) expandPath(path string) (tree.ID, *Error) {
	lp, err := pathx.ParseLocationPath(a.resolvePath(path))
	if err != nil {
		return 0, pathxErrorOf(err)
	}
	id, err := pathx.Expand(a.store, lp)
	if err != nil {
		return 0, pathxErrorOf(err)
	}
	return id, nil
}

func pathxErrorOf(err error) *Error {
	if se, ok := err.(*pathx.SyntaxError); ok {
		return &Error{Code: EPATHX, Details: se.Details, Pos: se.Offset, cause: err}
	}
	if ne, ok := err.(*pathx.NameError); ok {
		return &Error{Code: EPATHX, Message: ne.Error(), cause: err}
	}
	if te, ok := err.(*pathx.TypeError); ok {
		return &Error{Code: EPATHX, Message: te.Error(), cause: err}
	}
	return wrapError(EPATHX, err)
}

// Get returns the value of the single node matched by path. A node that
// exists but carries no value reports ("", nil); zero or multiple
// matches report ENOMATCH/EMMATCH.
func (a *Augeas) Get(path string) (string, error) {
	a.enter()
	id, aerr := a.findOne(path)
	if aerr != nil {
		return "", a.exit(aerr)
	}
	v, _ := a.store.Value(id)
	return v, a.exit(nil)
}

// Set creates path if necessary and assigns value to it, failing with
// EMMATCH if path already denotes more than one node.
func (a *Augeas) Set(path, value string) error {
	a.enter()
	if nodes, aerr := a.evalNodeSet(path); aerr == nil && len(nodes) > 1 {
		return a.exit(newError(EMMATCH, "%d nodes match %q, expected at most one", len(nodes), path))
	}
	id, aerr := a.expandPath(path)
	if aerr != nil {
		return a.exit(aerr)
	}
	a.store.SetValue(id, &value)
	return a.exit(nil)
}

// SetM is the multi-node analogue of Set: for every node matched by base
// it assigns value to the base node itself when sub is "" or ".", and
// otherwise to that node's first child labeled sub, appending such a child
// when there is none. sub is a single label, not a path expression, and
// further children with the same label are left unchanged. It returns the
// number of nodes assigned.
func (a *Augeas) SetM(base, sub, value string) (int, error) {
	a.enter()
	nodes, aerr := a.evalNodeSet(base)
	if aerr != nil {
		return 0, a.exit(aerr)
	}
	count := 0
	for _, parent := range nodes {
		var id tree.ID
		var ok bool
		if sub == "" || sub == "." {
			id, ok = parent, true
		} else {
			id, ok = a.store.Child(parent, sub)
			if !ok {
				id = a.store.Append(parent, sub, nil)
				ok = true
			}
		}
		if ok {
			a.store.SetValue(id, &value)
			count++
		}
	}
	return count, a.exit(nil)
}

// Insert creates a new sibling labeled label immediately before (or
// after) the single node matched by path.
func (a *Augeas) Insert(path, label string, before bool) error {
	a.enter()
	if strings.Contains(label, "/") {
		return a.exit(newError(ELABEL, "label %q must not contain '/'", label))
	}
	id, aerr := a.findOne(path)
	if aerr != nil {
		return a.exit(aerr)
	}
	if before {
		a.store.InsertBefore(id, label)
	} else {
		a.store.InsertAfter(id, label)
	}
	return a.exit(nil)
}

// Mv moves the single node matched by src to become a child named by
// dst's final path segment (creating dst's ancestors as needed, and
// replacing whatever already occupied that label). It rejects moving a
// node into its own descendant (spec "Move-into-descendant is rejected").
//
// dst is required to be a plain absolute path of child labels, the same
// restriction pathx.Expand already places on expand_tree targets, so the
// final segment is split off by string manipulation rather than by
// walking pathx's unexported step AST.
func (a *Augeas) Mv(src, dst string) error {
	a.enter()
	id, aerr := a.findOne(src)
	if aerr != nil {
		return a.exit(aerr)
	}

	parentPath, label, aerr := splitLastSegment(a.resolvePath(dst))
	if aerr != nil {
		return a.exit(aerr)
	}
	parentLP, err := pathx.ParseLocationPath(parentPath)
	if err != nil {
		return a.exit(pathxErrorOf(err))
	}
	parent, err := pathx.Expand(a.store, parentLP)
	if err != nil {
		return a.exit(pathxErrorOf(err))
	}

	s := a.store
	if s.IsDescendant(parent, id) {
		return a.exit(newError(EMVDESC, "cannot move %q into its own descendant %q", src, dst))
	}

	if old, ok := s.Child(parent, label); ok && old != id {
		s.Unlink(old)
	}
	// A move within the same parent is just a relabel; skipping the Move
	// keeps the node's position among its siblings.
	if s.Parent(id) != parent {
		if err := s.Move(id, parent); err != nil {
			return a.exit(newError(EMVDESC, "%s", err.Error()))
		}
	}
	if curLabel, _ := s.Label(id); curLabel != label {
		if err := s.Rename(id, label); err != nil {
			return a.exit(newError(ELABEL, "%s", err.Error()))
		}
	}
	return a.exit(nil)
}

func splitLastSegment(path string) (parent, label string, aerr *Error) {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", "", newError(EBADARG, "path %q must be absolute", path)
	}
	label = path[idx+1:]
	if label == "" {
		return "", "", newError(EBADARG, "path %q must name a node", path)
	}
	parent = path[:idx]
	if parent == "" {
		parent = "/"
	}
	return parent, label, nil
}

// Rename changes the label of the single node matched by path.
func (a *Augeas) Rename(path, label string) error {
	a.enter()
	id, aerr := a.findOne(path)
	if aerr != nil {
		return a.exit(aerr)
	}
	if err := a.store.Rename(id, label); err != nil {
		return a.exit(newError(ELABEL, "%s", err.Error()))
	}
	return a.exit(nil)
}

// Rm removes every node matched by path, returning the count removed.
func (a *Augeas) Rm(path string) (int, error) {
	a.enter()
	nodes, aerr := a.evalNodeSet(path)
	if aerr != nil {
		return 0, a.exit(aerr)
	}
	count := 0
	for _, id := range nodes {
		if _, err := a.store.Unlink(id); err == nil {
			count++
		}
	}
	return count, a.exit(nil)
}

// Match returns the canonical paths of every node matched by path, in
// tree order (spec §8 "match(p, T) returns a deduplicated ordered
// node-set").
func (a *Augeas) Match(path string) ([]string, error) {
	a.enter()
	nodes, aerr := a.evalNodeSet(path)
	if aerr != nil {
		return nil, a.exit(aerr)
	}
	out := make([]string, len(nodes))
	for i, id := range nodes {
		out[i] = a.store.PathOf(id)
	}
	return out, a.exit(nil)
}

// DefVar binds name to the node-set (or scalar) that path currently
// evaluates to; the binding is captured at definition time, not
// re-evaluated on lookup (spec §4.3 "captured at definition time").
func (a *Augeas) DefVar(name, path string) error {
	a.enter()
	expr, err := pathx.Parse(a.resolvePath(path))
	if err != nil {
		return a.exit(pathxErrorOf(err))
	}
	v, err := pathx.Eval(a.evalCtx(), a.sym, expr)
	if err != nil {
		return a.exit(pathxErrorOf(err))
	}
	a.sym[name] = v
	return a.exit(nil)
}

// DefNode behaves like DefVar, except that when path matches no nodes a
// new one is created (with value, if given) and the variable is bound to
// it; if path already matches, the tree is left untouched and the
// variable is bound to the existing match(es). It returns the canonical
// path of the (possibly newly created) node.
func (a *Augeas) DefNode(name, path, value string) (string, error) {
	a.enter()
	nodes, aerr := a.evalNodeSet(path)
	if aerr == nil && len(nodes) > 0 {
		a.sym[name] = pathx.Value{Kind: pathx.KindNodeSet, Nodes: nodes}
		return a.store.PathOf(nodes[0]), a.exit(nil)
	}

	id, aerr := a.expandPath(path)
	if aerr != nil {
		return "", a.exit(aerr)
	}
	if value != "" {
		a.store.SetValue(id, &value)
	}
	a.sym[name] = pathx.Value{Kind: pathx.KindNodeSet, Nodes: []tree.ID{id}}
	return a.store.PathOf(id), a.exit(nil)
}

// Span returns the byte range that produced the single node matched by
// path. It requires EnableSpan to have been set at New.
func (a *Augeas) Span(path string) (tree.Span, error) {
	a.enter()
	id, aerr := a.findOne(path)
	if aerr != nil {
		return tree.Span{}, a.exit(aerr)
	}
	sp, ok := a.store.Span(id)
	if !ok {
		return tree.Span{}, a.exit(newError(ENOSPAN, "no span recorded for %q", path))
	}
	return sp, a.exit(nil)
}
