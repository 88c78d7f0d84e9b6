package tree

import "testing"

func strp(s string) *string { return &s }

func TestDirtyPropagation(t *testing.T) {
	s := NewStore()
	root := s.Root()
	s.Clean(s.Origin())

	a := s.Append(root, "a", strp("1"))
	b := s.Append(a, "b", strp("2"))

	if !s.Dirty(a) || !s.Dirty(root) || !s.Dirty(s.Origin()) {
		t.Fatalf("expected ancestors of newly appended node to be dirty")
	}
	s.Clean(s.Origin())
	if s.Dirty(a) || s.Dirty(root) {
		t.Fatalf("expected Clean to clear dirty bits")
	}

	s.MarkDirty(b)
	if !s.Dirty(a) || !s.Dirty(root) {
		t.Fatalf("expected MarkDirty to propagate to ancestors")
	}
}

func TestSetValueNoopWhenUnchanged(t *testing.T) {
	s := NewStore()
	root := s.Root()
	a := s.Append(root, "a", strp("1"))
	s.Clean(s.Origin())

	if changed := s.SetValue(a, strp("1")); changed {
		t.Fatalf("SetValue with an unchanged value should be a no-op")
	}
	if s.Dirty(a) {
		t.Fatalf("SetValue with an unchanged value must not dirty the node")
	}

	if changed := s.SetValue(a, strp("2")); !changed {
		t.Fatalf("SetValue with a changed value should report a change")
	}
	if !s.Dirty(a) {
		t.Fatalf("SetValue with a changed value must dirty the node")
	}
}

func TestRenameRejectsSlash(t *testing.T) {
	s := NewStore()
	root := s.Root()
	a := s.Append(root, "a", nil)
	if err := s.Rename(a, "a/b"); err == nil {
		t.Fatalf("Rename with a slash in the label should fail")
	}
}

func TestMoveIntoDescendantRejected(t *testing.T) {
	s := NewStore()
	root := s.Root()
	a := s.Append(root, "a", nil)
	b := s.Append(a, "b", nil)
	c := s.Append(b, "c", nil)

	if err := s.Move(a, c); err == nil {
		t.Fatalf("Move(a, a/b/c) should be rejected")
	}
}

func TestUnlinkFreesSubtree(t *testing.T) {
	s := NewStore()
	root := s.Root()
	a := s.Append(root, "a", nil)
	s.Append(a, "b", nil)
	s.Append(a, "c", nil)

	n, err := s.Unlink(a)
	if err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if n != 3 {
		t.Fatalf("Unlink freed %d nodes, want 3", n)
	}
	if _, ok := s.Child(root, "a"); ok {
		t.Fatalf("unlinked node should no longer be a child of root")
	}
}

func TestPathOfPositionalIndices(t *testing.T) {
	s := NewStore()
	root := s.Root()
	s.Append(root, "x", strp("1"))
	y := s.Append(root, "x", strp("2"))

	if got, want := s.PathOf(y), "/x[2]"; got != want {
		t.Fatalf("PathOf() = %q, want %q", got, want)
	}
}

func TestEqual(t *testing.T) {
	s1 := NewStore()
	r1 := s1.Root()
	s1.Append(r1, "a", strp("1"))

	s2 := NewStore()
	r2 := s2.Root()
	s2.Append(r2, "a", strp("1"))

	if !Equal(s1, r1, s2, r2) {
		t.Fatalf("expected structurally identical trees to be Equal")
	}

	s3 := NewStore()
	r3 := s3.Root()
	s3.Append(r3, "a", strp("2"))
	if Equal(s1, r1, s3, r3) {
		t.Fatalf("expected trees with differing values to not be Equal")
	}
}
