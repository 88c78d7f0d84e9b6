package lens

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/augeas-go/augeas/rx"
)

func strp(s string) *string { return &s }

func keyValueEntryLens() *Lens {
	rKey := rx.MustNew(`[A-Za-z_][A-Za-z0-9_]*`)
	rEq := rx.MustNew(` = `)
	rVal := rx.MustNew(`[^\n]*`)
	rNL := rx.MustNew("\n")

	entry := NewSubtree(NewConcat(
		NewConcat(NewKey(rKey), NewDel(rEq, " = ")),
		NewConcat(NewStore(rVal), NewDel(rNL, "\n")),
	))
	Infer(entry)
	return entry
}

func keyValueLens() *Lens {
	file := NewStar(keyValueEntryLens())
	Infer(file)
	return file
}

func TestGetKeyValueFile(t *testing.T) {
	l := keyValueLens()
	text := "foo = bar\nbaz = qux\n"
	frag, _, n, err := Get(l, text, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n != len(text) {
		t.Fatalf("consumed %d bytes, want %d", n, len(text))
	}
	if len(frag) != 2 {
		t.Fatalf("got %d top-level nodes, want 2", len(frag))
	}
	if *frag[0].Label != "foo" || *frag[0].Value != "bar" {
		t.Fatalf("first entry = %+v", frag[0])
	}
	if *frag[1].Label != "baz" || *frag[1].Value != "qux" {
		t.Fatalf("second entry = %+v", frag[1])
	}
}

func TestGetProducesExpectedTree(t *testing.T) {
	l := keyValueLens()
	frag, _, _, err := Get(l, "foo = bar\n", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := []*Node{{
		Label: strp("foo"),
		Value: strp("bar"),
		Span:  &NodeSpan{LabelStart: 0, LabelEnd: 3, ValueStart: 6, ValueEnd: 9, Start: 0, End: 10},
	}}
	if diff := cmp.Diff(want, frag); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestPutRoundTripUnchanged(t *testing.T) {
	l := keyValueLens()
	text := "foo = bar\nbaz = qux\n"
	frag, skel, _, err := Get(l, text, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, err := Put(l, frag, skel, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if out != text {
		t.Fatalf("Put round-trip = %q, want %q", out, text)
	}
}

func TestPutAfterEditingValue(t *testing.T) {
	l := keyValueLens()
	text := "foo = bar\n"
	frag, skel, _, err := Get(l, text, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	newVal := "changed"
	frag[0].Value = &newVal

	out, err := Put(l, frag, skel, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if want := "foo = changed\n"; out != want {
		t.Fatalf("Put = %q, want %q", out, want)
	}
}

func TestCreateFromScratch(t *testing.T) {
	l := keyValueLens()
	label := "foo"
	val := "bar"
	frag := []*Node{{Label: &label, Value: &val}}
	out, err := Create(l, frag)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if want := "foo = bar\n"; out != want {
		t.Fatalf("Create = %q, want %q", out, want)
	}
}

func TestGetParseFailure(t *testing.T) {
	l := keyValueEntryLens()
	_, _, _, err := Get(l, "123 = bar\n", 0)
	if err == nil {
		t.Fatalf("expected a parse error for a non-matching key")
	}
}
