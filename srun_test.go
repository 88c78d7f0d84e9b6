package augeas

import (
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/augeas-go/augeas/transform"
)

func newSrunInstance(t *testing.T) *Augeas {
	t.Helper()
	a, _ := newTestInstance(t)
	return a
}

func TestSrunGet(t *testing.T) {
	a := newSrunInstance(t)
	out, err := a.Srun(`get /files/etc/simple/a.conf/foo`)
	if err != nil {
		t.Fatalf("Srun get: %v", err)
	}
	if out != "/files/etc/simple/a.conf/foo = bar" {
		t.Fatalf("Srun get = %q", out)
	}
}

func TestSrunSetThenGet(t *testing.T) {
	a := newSrunInstance(t)
	if _, err := a.Srun(`set /files/etc/simple/a.conf/foo changed`); err != nil {
		t.Fatalf("Srun set: %v", err)
	}
	out, err := a.Srun(`get /files/etc/simple/a.conf/foo`)
	if err != nil {
		t.Fatalf("Srun get: %v", err)
	}
	if !strings.HasSuffix(out, "= changed") {
		t.Fatalf("Srun get after set = %q", out)
	}
}

func TestSrunSetQuotedValue(t *testing.T) {
	a := newSrunInstance(t)
	if _, err := a.Srun(`set /files/etc/simple/a.conf/foo "has spaces"`); err != nil {
		t.Fatalf("Srun set: %v", err)
	}
	out, err := a.Srun(`get /files/etc/simple/a.conf/foo`)
	if err != nil {
		t.Fatalf("Srun get: %v", err)
	}
	if !strings.HasSuffix(out, "= has spaces") {
		t.Fatalf("Srun get after quoted set = %q", out)
	}
}

func TestSrunMatch(t *testing.T) {
	a := newSrunInstance(t)
	out, err := a.Srun(`match /files/etc/simple/a.conf/*`)
	if err != nil {
		t.Fatalf("Srun match: %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("Srun match = %q, want 2 lines", out)
	}
}

func TestSrunMatchWithBracketPredicate(t *testing.T) {
	a := newSrunInstance(t)
	out, err := a.Srun(`match /files/etc/simple/a.conf/*[. = "bar"]`)
	if err != nil {
		t.Fatalf("Srun match with predicate: %v", err)
	}
	if !strings.Contains(out, "/foo") {
		t.Fatalf("Srun match with predicate = %q, want /foo", out)
	}
}

func TestSrunRm(t *testing.T) {
	a := newSrunInstance(t)
	out, err := a.Srun(`rm /files/etc/simple/a.conf/foo`)
	if err != nil {
		t.Fatalf("Srun rm: %v", err)
	}
	if out != "1" {
		t.Fatalf("Srun rm = %q, want 1", out)
	}
}

func TestSrunInsertBeforeAfter(t *testing.T) {
	a := newSrunInstance(t)
	if _, err := a.Srun(`ins /files/etc/simple/a.conf/foo mid after`); err != nil {
		t.Fatalf("Srun ins: %v", err)
	}
	out, err := a.Srun(`match /files/etc/simple/a.conf/*`)
	if err != nil {
		t.Fatalf("Srun match: %v", err)
	}
	if !strings.Contains(out, "/mid") {
		t.Fatalf("Srun match after ins = %q", out)
	}
}

func TestSrunInsertBadPosition(t *testing.T) {
	a := newSrunInstance(t)
	_, err := a.Srun(`ins /files/etc/simple/a.conf/foo mid sideways`)
	if err == nil {
		t.Fatalf("expected an error for an invalid insert position")
	}
	ae, ok := err.(*Error)
	if !ok || ae.Code != ECMDRUN {
		t.Fatalf("err = %v, want ECMDRUN", err)
	}
}

func TestSrunMove(t *testing.T) {
	a := newSrunInstance(t)
	if _, err := a.Srun(`move /files/etc/simple/a.conf/foo /files/etc/simple/a.conf/moved`); err != nil {
		t.Fatalf("Srun move: %v", err)
	}
	out, err := a.Srun(`get /files/etc/simple/a.conf/moved`)
	if err != nil {
		t.Fatalf("Srun get after move: %v", err)
	}
	if !strings.HasSuffix(out, "= bar") {
		t.Fatalf("Srun get after move = %q", out)
	}
}

func TestSrunRename(t *testing.T) {
	a := newSrunInstance(t)
	if _, err := a.Srun(`rename /files/etc/simple/a.conf/foo renamed`); err != nil {
		t.Fatalf("Srun rename: %v", err)
	}
	if _, err := a.Srun(`get /files/etc/simple/a.conf/renamed`); err != nil {
		t.Fatalf("Srun get after rename: %v", err)
	}
}

func TestSrunDefVarAndDefNode(t *testing.T) {
	a := newSrunInstance(t)
	if _, err := a.Srun(`defvar e /files/etc/simple/a.conf/foo`); err != nil {
		t.Fatalf("Srun defvar: %v", err)
	}
	out, err := a.Srun(`get $e`)
	if err != nil {
		t.Fatalf("Srun get $e: %v", err)
	}
	if !strings.HasSuffix(out, "= bar") {
		t.Fatalf("Srun get $e = %q", out)
	}

	p, err := a.Srun(`defnode n /files/etc/simple/a.conf/newkey newval`)
	if err != nil {
		t.Fatalf("Srun defnode: %v", err)
	}
	if !strings.HasSuffix(p, "/newkey") {
		t.Fatalf("Srun defnode = %q", p)
	}
}

func TestSrunSaveWritesToDisk(t *testing.T) {
	a, fs := newTestInstance(t)
	if _, err := a.Srun(`set /files/etc/simple/a.conf/foo changed`); err != nil {
		t.Fatalf("Srun set: %v", err)
	}
	if _, err := a.Srun(`save`); err != nil {
		t.Fatalf("Srun save: %v", err)
	}
	out, err := afero.ReadFile(fs, "/etc/simple/a.conf")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "foo = changed") {
		t.Fatalf("on-disk content = %q", string(out))
	}
}

func TestSrunLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/etc/simple/a.conf", []byte("foo = bar\n"), 0o644)
	a, err := New("/", "", NoLoad, fs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.AddTransform("simple", keyValueLens(), transform.Filter{transform.Include("/etc/simple/*.conf")}); err != nil {
		t.Fatalf("AddTransform: %v", err)
	}
	if _, err := a.Srun(`load`); err != nil {
		t.Fatalf("Srun load: %v", err)
	}
	if _, err := a.Srun(`get /files/etc/simple/a.conf/foo`); err != nil {
		t.Fatalf("Srun get after load: %v", err)
	}
}

func TestSrunUnknownCommand(t *testing.T) {
	a := newSrunInstance(t)
	_, err := a.Srun(`frobnicate /files/etc/simple/a.conf/foo`)
	if err == nil {
		t.Fatalf("expected an error for an unknown command")
	}
	ae, ok := err.(*Error)
	if !ok || ae.Code != ECMDRUN {
		t.Fatalf("err = %v, want ECMDRUN", err)
	}
}

func TestSrunWrongArgCount(t *testing.T) {
	a := newSrunInstance(t)
	_, err := a.Srun(`get`)
	if err == nil {
		t.Fatalf("expected an error for a missing argument")
	}
	ae, ok := err.(*Error)
	if !ok || ae.Code != ECMDRUN {
		t.Fatalf("err = %v, want ECMDRUN", err)
	}
}

func TestSrunEmptyAndComment(t *testing.T) {
	a := newSrunInstance(t)
	if out, err := a.Srun(""); err != nil || out != "" {
		t.Fatalf("Srun empty = (%q, %v), want (\"\", nil)", out, err)
	}
	if out, err := a.Srun("   "); err != nil || out != "" {
		t.Fatalf("Srun blank = (%q, %v), want (\"\", nil)", out, err)
	}
	if out, err := a.Srun("# a comment"); err != nil || out != "" {
		t.Fatalf("Srun comment = (%q, %v), want (\"\", nil)", out, err)
	}
}

func TestSrunTokenizeUnterminatedQuote(t *testing.T) {
	a := newSrunInstance(t)
	_, err := a.Srun(`set /files/etc/simple/a.conf/foo "unterminated`)
	if err == nil {
		t.Fatalf("expected an error for an unterminated quoted string")
	}
	ae, ok := err.(*Error)
	if !ok || ae.Code != ECMDRUN {
		t.Fatalf("err = %v, want ECMDRUN", err)
	}
}

func TestSrunTokenizeUnbalancedBracket(t *testing.T) {
	a := newSrunInstance(t)
	_, err := a.Srun(`match /files/etc/simple/a.conf/*[. = "bar"`)
	if err == nil {
		t.Fatalf("expected an error for an unbalanced '['")
	}
	ae, ok := err.(*Error)
	if !ok || ae.Code != ECMDRUN {
		t.Fatalf("err = %v, want ECMDRUN", err)
	}
}

func TestSrunTokenizeStrayCloseBracket(t *testing.T) {
	a := newSrunInstance(t)
	_, err := a.Srun(`match foo]`)
	if err == nil {
		t.Fatalf("expected an error for a stray ']'")
	}
	ae, ok := err.(*Error)
	if !ok || ae.Code != ECMDRUN {
		t.Fatalf("err = %v, want ECMDRUN", err)
	}
}
