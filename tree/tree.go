// Package tree implements the in-memory configuration tree (spec Component
// B): an ordered, labeled tree with dirty tracking, span metadata, and the
// structural operations every other layer (pathx, lens, transform) builds
// on.
//
// Nodes are stored in a flat arena and referenced by ID rather than by
// pointer, per spec.md's own Design Notes ("implement as arena of nodes with
// integer indices and a separate parent index field; the self-cycle is just
// parent = self"). The adjacency-held-by-the-container shape (one struct
// owning every node, addressed by key) is the same organizing idea as the
// teacher's pgraph.Graph, adapted from a pointer-keyed adjacency map to an
// index arena with parent pointers, because an ordered tree needs stable,
// comparable, cheap-to-store child references that pointers alone don't
// give us as conveniently as small integers do.
package tree

import (
	"fmt"
	"strings"
)

// ID identifies a node within a Store. The zero ID is never valid; Store
// always allocates the origin as ID 1.
type ID int

// Span records the byte range in the originating file that produced a node.
// Populated only when the owning Store has span tracking enabled.
type Span struct {
	File        string
	LabelStart  int
	LabelEnd    int
	ValueStart  int
	ValueEnd    int
	SpanStart   int
	SpanEnd     int
}

type node struct {
	label    *string
	value    *string
	parent   ID
	children []ID
	dirty    bool
	freed    bool
	span     *Span
}

// Store owns every node of one configuration tree, including the synthetic
// origin.
type Store struct {
	nodes     []node // index 0 unused; IDs start at 1
	origin    ID
	spanTrack bool
}

// NewStore creates an empty tree: just the self-parenting origin node, with
// no root child yet (spec §3 "the origin is its own parent").
func NewStore() *Store {
	s := &Store{nodes: make([]node, 1)} // reserve index 0
	s.nodes = append(s.nodes, node{})
	s.origin = ID(1)
	s.nodes[s.origin].parent = s.origin
	return s
}

// EnableSpan turns on span recording for subsequently created nodes. This
// mirrors ENABLE_SPAN / /augeas/span being "opt-in per augeas instance".
func (s *Store) EnableSpan(enable bool) {
	s.spanTrack = enable
}

// SpanEnabled reports whether span tracking is currently on.
func (s *Store) SpanEnabled() bool {
	return s.spanTrack
}

// Origin returns the tree's synthetic self-parenting root.
func (s *Store) Origin() ID {
	return s.origin
}

// Root returns the origin's sole child (spec §3 "the origin is its own
// parent" / "whose sole child is the root"), creating it as a hidden node
// if the tree is empty.
func (s *Store) Root() ID {
	children := s.get(s.origin).children
	if len(children) > 0 {
		return children[0]
	}
	return s.AppendHidden(s.origin)
}

func (s *Store) get(id ID) *node {
	return &s.nodes[id]
}

func (s *Store) valid(id ID) bool {
	return id > 0 && int(id) < len(s.nodes) && !s.nodes[id].freed
}

// Label returns the node's label, or ("", false) if it is hidden (the
// origin, or a synthetic wrapper node).
func (s *Store) Label(id ID) (string, bool) {
	n := s.get(id)
	if n.label == nil {
		return "", false
	}
	return *n.label, true
}

// Value returns the node's value, or ("", false) if absent.
func (s *Store) Value(id ID) (string, bool) {
	n := s.get(id)
	if n.value == nil {
		return "", false
	}
	return *n.value, true
}

// Hidden reports whether id has no label (T: "A node is hidden iff its
// label is absent").
func (s *Store) Hidden(id ID) bool {
	_, ok := s.Label(id)
	return !ok
}

// Parent returns id's parent. The origin is its own parent.
func (s *Store) Parent(id ID) ID {
	return s.get(id).parent
}

// Children returns id's children in order. The returned slice must not be
// mutated by the caller.
func (s *Store) Children(id ID) []ID {
	return s.get(id).children
}

// Span returns the span recorded for id, if any.
func (s *Store) Span(id ID) (Span, bool) {
	n := s.get(id)
	if n.span == nil {
		return Span{}, false
	}
	return *n.span, true
}

// SetSpan attaches span metadata to id.
func (s *Store) SetSpan(id ID, span Span) {
	if !s.spanTrack {
		return
	}
	n := s.get(id)
	n.span = &span
}

// Dirty reports whether id is marked dirty.
func (s *Store) Dirty(id ID) bool {
	return s.get(id).dirty
}

// MarkDirty marks id dirty and propagates upward until an already-dirty
// ancestor (or the origin) is reached (T2).
func (s *Store) MarkDirty(id ID) {
	for {
		n := s.get(id)
		if n.dirty {
			return
		}
		n.dirty = true
		if id == s.origin {
			return
		}
		id = n.parent
	}
}

// Clean recursively clears the dirty bit on id and its whole subtree.
func (s *Store) Clean(id ID) {
	n := s.get(id)
	if !n.dirty {
		return
	}
	n.dirty = false
	for _, c := range n.children {
		s.Clean(c)
	}
}

// Child returns the first child of parent with the given label.
func (s *Store) Child(parent ID, label string) (ID, bool) {
	for _, c := range s.get(parent).children {
		if l, ok := s.Label(c); ok && l == label {
			return c, true
		}
	}
	return 0, false
}

// ChildOrCreate returns the first child of parent with the given label,
// creating and appending one (with no value) if none exists.
func (s *Store) ChildOrCreate(parent ID, label string) ID {
	if c, ok := s.Child(parent, label); ok {
		return c
	}
	return s.Append(parent, label, nil)
}

func validLabel(label string) error {
	if strings.Contains(label, "/") {
		return fmt.Errorf("tree: label %q must not contain '/'", label)
	}
	return nil
}

func (s *Store) alloc(parent ID, label *string, value *string) ID {
	n := node{parent: parent, label: label, value: value}
	s.nodes = append(s.nodes, n)
	return ID(len(s.nodes) - 1)
}

// Append creates a new last child of parent with the given label and
// optional value, and marks parent dirty.
func (s *Store) Append(parent ID, label string, value *string) ID {
	id := s.alloc(parent, &label, value)
	p := s.get(parent)
	p.children = append(p.children, id)
	s.MarkDirty(parent)
	return id
}

// AppendHidden creates a new last child of parent with no label (used for
// the anonymous wrapper nodes SUBTREE can produce before a key is known),
// and marks parent dirty.
func (s *Store) AppendHidden(parent ID) ID {
	id := s.alloc(parent, nil, nil)
	p := s.get(parent)
	p.children = append(p.children, id)
	s.MarkDirty(parent)
	return id
}

// InsertBefore creates a new sibling immediately before ref with the given
// label, and marks the parent dirty.
func (s *Store) InsertBefore(ref ID, label string) ID {
	return s.insertAt(ref, label, 0)
}

// InsertAfter creates a new sibling immediately after ref with the given
// label, and marks the parent dirty.
func (s *Store) InsertAfter(ref ID, label string) ID {
	return s.insertAt(ref, label, 1)
}

func (s *Store) insertAt(ref ID, label string, offset int) ID {
	parent := s.get(ref).parent
	id := s.alloc(parent, &label, nil)
	p := s.get(parent)
	idx := indexOf(p.children, ref)
	pos := idx + offset
	p.children = append(p.children[:pos], append([]ID{id}, p.children[pos:]...)...)
	s.MarkDirty(parent)
	return id
}

func indexOf(ids []ID, id ID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// SetValue sets id's value. Setting a value equal to the current one is a
// no-op and does not dirty the node.
func (s *Store) SetValue(id ID, value *string) bool {
	n := s.get(id)
	if sameStringPtr(n.value, value) {
		return false
	}
	n.value = value
	s.MarkDirty(id)
	return true
}

func sameStringPtr(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// Rename changes id's label. It rejects labels containing '/' (spec rule
// "Rename rejects '/'").
func (s *Store) Rename(id ID, label string) error {
	if err := validLabel(label); err != nil {
		return err
	}
	n := s.get(id)
	l := label
	n.label = &l
	s.MarkDirty(id)
	return nil
}

// Unlink severs id from its parent's child list, marks the parent dirty,
// and recursively frees the severed subtree (T5: sever before freeing
// children). It returns the number of nodes freed, including id itself.
func (s *Store) Unlink(id ID) (int, error) {
	if id == s.origin {
		return 0, fmt.Errorf("tree: cannot unlink the origin")
	}
	n := s.get(id)
	parent := n.parent
	p := s.get(parent)
	idx := indexOf(p.children, id)
	if idx < 0 {
		return 0, fmt.Errorf("tree: node %d is not a child of its recorded parent", id)
	}
	p.children = append(p.children[:idx], p.children[idx+1:]...)
	s.MarkDirty(parent)

	return s.free(id), nil
}

// free marks id and its entire subtree as freed, after the node has already
// been severed from its parent's child list.
func (s *Store) free(id ID) int {
	n := s.get(id)
	count := 1
	for _, c := range n.children {
		count += s.free(c)
	}
	n.freed = true
	n.children = nil
	return count
}

// IsDescendant reports whether id is a, or a descendant of, ancestor.
func (s *Store) IsDescendant(id, ancestor ID) bool {
	for cur := id; ; {
		if cur == ancestor {
			return true
		}
		if cur == s.origin {
			return false
		}
		cur = s.get(cur).parent
	}
}

// Move relinquishes src from its current parent and appends it as the last
// child of dst. It fails if dst is a descendant of src (spec "Move-into-
// descendant is rejected").
func (s *Store) Move(src, dst ID) error {
	if s.IsDescendant(dst, src) {
		return fmt.Errorf("tree: cannot move %d into its own descendant %d", src, dst)
	}
	n := s.get(src)
	oldParent := n.parent
	op := s.get(oldParent)
	idx := indexOf(op.children, src)
	if idx < 0 {
		return fmt.Errorf("tree: node %d is not a child of its recorded parent", src)
	}
	op.children = append(op.children[:idx], op.children[idx+1:]...)
	s.MarkDirty(oldParent)

	n.parent = dst
	dn := s.get(dst)
	dn.children = append(dn.children, src)
	s.MarkDirty(dst)
	return nil
}

// PathOf returns the canonical path to id: '/'-separated labels with
// 1-based positional indices among equally-labeled siblings (T3), e.g.
// "/files/etc/hosts/1/ipaddr[2]".
func (s *Store) PathOf(id ID) string {
	var segs []string
	for cur := id; cur != s.origin; cur = s.get(cur).parent {
		if s.Hidden(cur) {
			continue
		}
		segs = append([]string{s.segment(cur)}, segs...)
	}
	return "/" + strings.Join(segs, "/")
}

func (s *Store) segment(id ID) string {
	label, ok := s.Label(id)
	if !ok {
		label = "*"
	}
	parent := s.get(id).parent
	pos, total := 0, 0
	for _, sib := range s.get(parent).children {
		l, ok2 := s.Label(sib)
		if ok2 != ok || l != label {
			continue
		}
		total++
		if sib == id {
			pos = total
		}
	}
	if total <= 1 {
		return label
	}
	return fmt.Sprintf("%s[%d]", label, pos)
}

// Equal reports whether the subtrees rooted at (sa, a) and (sb, b) are
// structurally identical: same labels, values, and child order.
func Equal(sa *Store, a ID, sb *Store, b ID) bool {
	la, oka := sa.Label(a)
	lb, okb := sb.Label(b)
	if oka != okb || la != lb {
		return false
	}
	va, oka2 := sa.Value(a)
	vb, okb2 := sb.Value(b)
	if oka2 != okb2 || va != vb {
		return false
	}
	ca, cb := sa.Children(a), sb.Children(b)
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if !Equal(sa, ca[i], sb, cb[i]) {
			return false
		}
	}
	return true
}
