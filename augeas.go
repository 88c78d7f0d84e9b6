package augeas

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/augeas-go/augeas/lens"
	"github.com/augeas-go/augeas/pathx"
	"github.com/augeas-go/augeas/transform"
	"github.com/augeas-go/augeas/tree"
)

// Flag is the bitset of configuration flags recognized by New (spec §4.9
// "the recognized configuration flags on init").
type Flag uint32

const (
	SaveBackup Flag = 1 << iota
	SaveNewFile
	SaveNoop
	TypeCheck
	NoStdinc
	NoLoad
	NoModlAutoload
	EnableSpan
	NoErrClose
)

// Version identifies this implementation, recorded under /augeas/version.
const Version = "1.0.0"

// Augeas is one engine instance (spec §5 "single-threaded per augeas
// instance... exclusively owned by one instance"). Every public method
// follows the enter/exit discipline described in spec §4.9.
type Augeas struct {
	store *tree.Store
	fs    afero.Fs
	root  string

	flags      Flag
	transforms []*transform.Transform
	sym        pathx.Symtab
	saveMode   transform.SaveMode
	logf       func(string, ...interface{})

	depth int
	err   *Error
}

// New creates an Augeas instance rooted at root (or $AUGEAS_ROOT, or "/"
// if neither is set), with loadPath (or $AUGEAS_LENS_LIB) recorded as
// extra module search paths. fs lets callers substitute an afero.Fs for
// testing; a nil fs uses the OS filesystem.
//
// Unless NoLoad is set, New performs an initial Load. Transforms are
// registered only afterwards, through AddTransform on the returned handle,
// so that initial Load runs with no transforms and reads no files; since
// this package carries no surface lens-module loader (spec's own Non-goals:
// "no surface lens language/typechecker/interpreter"), transforms must be
// registered by the caller in Go, not discovered from .aug module files.
func New(root, loadPath string, flags Flag, fs afero.Fs) (*Augeas, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if root == "" {
		root = os.Getenv("AUGEAS_ROOT")
	}
	if root == "" {
		root = "/"
	}
	if loadPath == "" {
		loadPath = os.Getenv("AUGEAS_LENS_LIB")
	}

	a := &Augeas{
		store:    tree.NewStore(),
		fs:       fs,
		root:     root,
		flags:    flags,
		sym:      pathx.Symtab{},
		saveMode: saveModeFromFlags(flags),
		logf:     func(string, ...interface{}) {},
	}
	a.store.EnableSpan(flags&EnableSpan != 0)

	a.initMeta(root, loadPath)

	if flags&NoLoad == 0 {
		if err := a.loadLocked(); err != nil {
			if flags&NoErrClose != 0 {
				a.err = wrapError(EINTERNAL, err)
				return a, nil
			}
			return nil, err
		}
	}
	return a, nil
}

// SetLogf installs a logging callback, mirroring the teacher's injected
// Init.Logf convention (see SPEC_FULL.md "Ambient Stack").
func (a *Augeas) SetLogf(logf func(string, ...interface{})) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	a.logf = logf
}

// Close releases the instance. The tree and transform list are ordinary
// Go values collected by the GC; Close exists for API parity with the
// cgo-bound original and to give NoErrClose-tainted handles one place to
// surface their init failure.
func (a *Augeas) Close() error {
	if a.err != nil {
		return a.err
	}
	return nil
}

func saveModeFromFlags(f Flag) transform.SaveMode {
	switch {
	case f&SaveNewFile != 0:
		return transform.SaveNewFile
	case f&SaveBackup != 0:
		return transform.SaveBackup
	case f&SaveNoop != 0:
		return transform.SaveNoop
	default:
		return transform.SaveOverwrite
	}
}

func (a *Augeas) initMeta(root, loadPath string) {
	s := a.store
	metaRoot := s.ChildOrCreate(s.Root(), "augeas")
	setLeaf(s, metaRoot, "root", root)
	setLeaf(s, metaRoot, "version", Version)
	setLeaf(s, metaRoot, "context", "/files")
	setLeaf(s, s.ChildOrCreate(metaRoot, "save"), "mode", saveModeName(a.saveMode))
	setLeaf(s, s.ChildOrCreate(metaRoot, "span"), "enable", boolStr(a.flags&EnableSpan != 0))
	if loadPath != "" {
		loadNode := s.ChildOrCreate(metaRoot, "load")
		for _, p := range strings.Split(loadPath, ":") {
			s.Append(loadNode, "path", strPtr(p))
		}
	}
}

func saveModeName(m transform.SaveMode) string {
	switch m {
	case transform.SaveBackup:
		return "backup"
	case transform.SaveNewFile:
		return "newfile"
	case transform.SaveNoop:
		return "noop"
	default:
		return "overwrite"
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func setLeaf(s *tree.Store, parent tree.ID, label, value string) tree.ID {
	id := s.ChildOrCreate(parent, label)
	s.SetValue(id, &value)
	return id
}

// enter implements the entry half of the enter/exit discipline (spec
// §4.9): on 0→1 the error slot is reset. There is no real process-locale
// switch here — see DESIGN.md's Open Question decision on §4.9.
func (a *Augeas) enter() {
	if a.depth == 0 {
		a.err = nil
	}
	a.depth++
}

// exit implements the exit half: on 1→0 the first non-nil err seen this
// call chain is latched into the instance's error slot and returned.
func (a *Augeas) exit(err error) error {
	a.depth--
	if err == nil {
		return nil
	}
	var ae *Error
	if !errors.As(err, &ae) {
		ae = wrapError(EINTERNAL, err)
	}
	if a.depth == 0 && a.err == nil {
		a.err = ae
	}
	return ae
}

// Err returns the instance's latched error slot, if any.
func (a *Augeas) Err() *Error { return a.err }

// AddTransform registers a lens/filter pair under /augeas/load/<name>,
// the same tree-as-API shape spec §6 describes for that path (Load/Save
// then pick it up from a.transforms rather than re-reading the tree, but
// the metadata mirrors it for introspection via Get/Match).
func (a *Augeas) AddTransform(name string, l *lens.Lens, filter transform.Filter) error {
	a.enter()
	if l == nil {
		return a.exit(newError(ENOLENS, "transform %q has no lens", name))
	}
	defer func() { a.exit(nil) }()

	a.transforms = append(a.transforms, &transform.Transform{Name: name, Lens: l, Filter: filter})

	s := a.store
	metaRoot := s.ChildOrCreate(s.Root(), "augeas")
	loadRoot := s.ChildOrCreate(metaRoot, "load")
	modNode := s.ChildOrCreate(loadRoot, name)
	setLeaf(s, modNode, "lens", name)
	for _, e := range filter {
		label := "incl"
		if e.Exclude {
			label = "excl"
		}
		s.Append(modNode, label, strPtr(e.Pattern))
	}
	return nil
}

// Load re-reads every matched file from disk (spec §4.8 Load).
func (a *Augeas) Load() error {
	a.enter()
	return a.exit(a.loadLocked())
}

func (a *Augeas) loadLocked() error {
	return transform.Load(a.store, a.fs, a.root, a.transforms, a.logf, a.flags&TypeCheck != 0)
}

// Save writes every dirty /files subtree back to disk (spec §4.8 Save),
// recording each successfully saved path under /augeas/events/saved in
// tree-iteration order.
func (a *Augeas) Save() error {
	a.enter()
	saved, err := transform.Save(a.store, a.fs, a.root, a.transforms, a.saveMode, a.logf)
	s := a.store
	metaRoot := s.ChildOrCreate(s.Root(), "augeas")
	if old, ok := s.Child(metaRoot, "events"); ok {
		s.Unlink(old)
	}
	if len(saved) > 0 {
		eventsRoot := s.ChildOrCreate(metaRoot, "events")
		for _, p := range saved {
			s.Append(eventsRoot, "saved", strPtr(p))
		}
	}
	return a.exit(err)
}

func strPtr(s string) *string { return &s }
