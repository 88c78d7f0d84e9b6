// Package transform implements the file transform layer (spec Component
// H): mapping lenses to files through include/exclude filters, loading
// matched files into a tree.Store under /files, and saving dirty subtrees
// back out with the save-mode matrix (overwrite/backup/newfile/noop),
// conflict detection, and file-attribute preservation.
//
// File enumeration and I/O go through afero.Fs, the same way the teacher's
// util/afero.go mediates file-tree operations through an afero.Fs rather
// than raw os calls, so Load/Save are testable against afero.NewMemMapFs()
// exactly as util/afero_test.go tests util.FsTree against an in-memory
// filesystem. Save's "does this write actually change anything" check
// mirrors engine/resources/augeas.go's checkApplySet get-before-set shape.
package transform

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/augeas-go/augeas/internal/errwrap"
	"github.com/augeas-go/augeas/lens"
	"github.com/augeas-go/augeas/transducer"
	"github.com/augeas-go/augeas/tree"
)

// SaveMode selects how Save writes modified files (spec §4.8 "Save" mode
// matrix).
type SaveMode int

const (
	SaveOverwrite SaveMode = iota
	SaveBackup
	SaveNewFile
	SaveNoop
)

// FilterEntry is one glob pattern tagged include or exclude.
type FilterEntry struct {
	Pattern string
	Exclude bool
}

// Include returns an include FilterEntry.
func Include(pattern string) FilterEntry { return FilterEntry{Pattern: pattern} }

// Exclude returns an exclude FilterEntry.
func Exclude(pattern string) FilterEntry { return FilterEntry{Pattern: pattern, Exclude: true} }

// Filter is an ordered list of include/exclude globs (spec §3 "Transform
// record"). A path matches iff at least one include matches and no exclude
// matches.
type Filter []FilterEntry

func normalizeSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// Matches reports whether p matches f (spec §4.8 "Filter matching"): at
// least one include glob matches, and no exclude glob matches. A relative
// exclude pattern (containing no '/') additionally applies to p's basename.
func (f Filter) Matches(p string) bool {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = normalizeSlashes(p)
	included := false
	for _, e := range f {
		if e.Exclude {
			continue
		}
		if ok, _ := doublestar.Match(normalizeSlashes(e.Pattern), p); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}

	base := path.Base(p)
	for _, e := range f {
		if !e.Exclude {
			continue
		}
		pat := normalizeSlashes(e.Pattern)
		if ok, _ := doublestar.Match(pat, p); ok {
			return false
		}
		if !strings.Contains(pat, "/") {
			if ok, _ := doublestar.Match(pat, base); ok {
				return false
			}
		}
	}
	return true
}

// Transform pairs a lens with the filter that selects the files it owns
// (spec §3 "Transform record").
type Transform struct {
	Name   string
	Lens   *lens.Lens
	Filter Filter
}

// FileErrorKind names the /augeas/files/<p>/error category (spec §4.8, §7
// error taxonomy).
type FileErrorKind string

const (
	ErrReadFailed  FileErrorKind = "read_failed"
	ErrParseFailed FileErrorKind = "parse_failed"
	ErrPutFailed   FileErrorKind = "put_failed"
	ErrMxfmLoad    FileErrorKind = "mxfm_load"
	ErrMxfmSave    FileErrorKind = "mxfm_save"
	ErrWriteFailed FileErrorKind = "write_failed"
)

// FileError is the structured record written under /augeas/files/<p>/error.
type FileError struct {
	Kind    FileErrorKind
	Message string
	Pos     int
	Line    int
	Char    int
	Path    string   // tree path, for put failures
	Lenses  []string // conflicting transform names, for mxfm_load/mxfm_save
}

// Load implements spec §4.8 "Load": every child of /augeas/files is marked
// dirty, every transform's filter is matched against the files found under
// root, an unchanged file (same mtime, clean tree) is skipped, a changed
// file is reparsed with transducer.Get and spliced under /files/<path>, and
// any /augeas/files/<p> record left dirty at the end (nothing claimed it
// this round) is removed along with its /files counterpart.
//
// When typeCheck is set (the TypeCheck flag, spec §4.9), every transform's
// lens is run through transducer.Check once before any of its files are
// parsed (spec §4.1/§8 scenario 4: an ambiguous ctype is rejected, not
// silently resolved). A transform found ambiguous fails every file it would
// have matched with a parse_failed error at position 0 naming the witness,
// instead of calling transducer.Get on them at all.
func Load(s *tree.Store, fs afero.Fs, root string, transforms []*Transform, logf func(string, ...interface{}), typeCheck bool) error {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	root = normalizeRoot(root)

	metaRoot := s.ChildOrCreate(s.Root(), "augeas")
	metaFiles := s.ChildOrCreate(metaRoot, "files")
	filesRoot := s.ChildOrCreate(s.Root(), "files")

	for _, leaf := range collectFileLeaves(s, metaFiles) {
		s.MarkDirty(leaf)
	}

	var allFiles []string
	if len(transforms) > 0 {
		var err error
		allFiles, err = listFiles(fs, root)
		if err != nil {
			return errwrap.Wrapf(err, "transform: walking %s", root)
		}
	}

	ambiguous := map[*Transform]error{}
	if typeCheck {
		for _, t := range transforms {
			if err := transducer.Check(t.Lens); err != nil {
				ambiguous[t] = err
			}
		}
	}

	matches := map[string][]*Transform{}
	for _, abs := range allFiles {
		rel := relPath(root, abs)
		for _, t := range transforms {
			if t.Filter.Matches(rel) {
				matches[rel] = append(matches[rel], t)
			}
		}
	}

	var result error
	for _, abs := range allFiles {
		rel := relPath(root, abs)
		ts := matches[rel]
		switch len(ts) {
		case 0:
			continue
		case 1:
			if ambErr, ok := ambiguous[ts[0]]; ok {
				recordAmbiguous(s, metaLeaf(s, rel), ambErr)
				logf("transform: %s uses an ambiguous lens: %v", rel, ambErr)
				continue
			}
			if err := loadOne(s, fs, filesRoot, ts[0], abs, rel); err != nil {
				result = errwrap.Append(result, err)
			} else {
				logf("transform: loaded %s with %s", rel, ts[0].Name)
			}
		default:
			names := transformNames(ts)
			recordConflict(s, filesRoot, rel, names)
			logf("transform: conflict loading %s: %s", rel, strings.Join(names, ", "))
		}
	}

	for _, leaf := range collectFileLeaves(s, metaFiles) {
		if !s.Dirty(leaf) {
			continue
		}
		if pc, ok := s.Child(leaf, "path"); ok {
			if tp, ok2 := s.Value(pc); ok2 {
				rel := strings.TrimPrefix(tp, "/files/")
				if fnode, ok3 := lookupFiles(s, filesRoot, rel); ok3 {
					s.Unlink(fnode)
				}
			}
		}
		s.Unlink(leaf)
	}

	return result
}

func loadOne(s *tree.Store, fs afero.Fs, filesRoot tree.ID, t *Transform, abs, rel string) error {
	leaf := metaLeaf(s, rel)

	if info, err := fs.Stat(abs); err == nil {
		if fnode, ok := lookupFiles(s, filesRoot, rel); ok && !s.Dirty(fnode) {
			if mt, ok := s.Child(leaf, "mtime"); ok {
				if v, ok2 := s.Value(mt); ok2 && v == formatMtime(info) {
					s.Clean(leaf)
					return nil
				}
			}
		}
	}

	data, err := afero.ReadFile(fs, abs)
	if err != nil {
		setFileError(s, leaf, FileError{Kind: ErrReadFailed, Message: err.Error()})
		s.Clean(leaf)
		return nil
	}
	text := string(data)
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	frag, _, _, err := transducer.Get(t.Lens, text, 0)
	if err != nil {
		pos := 0
		if pe, ok := err.(*lens.ParseError); ok {
			pos = pe.Offset
		} else if pe, ok := err.(*transducer.ParseError); ok {
			pos = pe.Offset
		}
		line, char := lineChar(text, pos)
		setFileError(s, leaf, FileError{Kind: ErrParseFailed, Message: err.Error(), Pos: pos, Line: line, Char: char})
		s.Clean(leaf)
		return nil
	}

	if fnode, ok := lookupFiles(s, filesRoot, rel); ok {
		s.Unlink(fnode)
	}
	fnode := createFilesNode(s, filesRoot, rel)
	spliceChildren(s, fnode, frag, abs)
	s.Clean(fnode) // freshly loaded content mirrors disk: not pending save

	setMeta(s, leaf, rel, fs, abs, t.Name)
	s.Clean(leaf)
	return nil
}

// recordAmbiguous records a transform's lens as rejected by type checking
// (spec §8 scenario 4: "a parse error with position 0 naming the
// ambiguity"). Handled the same way loadOne records a read/parse failure:
// the error lands on the metadata leaf and no /files node is created.
func recordAmbiguous(s *tree.Store, leaf tree.ID, err error) {
	setFileError(s, leaf, FileError{Kind: ErrParseFailed, Message: err.Error(), Pos: 0})
	s.Clean(leaf)
}

func recordConflict(s *tree.Store, filesRoot tree.ID, rel string, names []string) {
	leaf := metaLeaf(s, rel)
	if fnode, ok := lookupFiles(s, filesRoot, rel); ok {
		s.Unlink(fnode)
	}
	setFileError(s, leaf, FileError{
		Kind:    ErrMxfmLoad,
		Message: fmt.Sprintf("multiple transforms match %s: %s", rel, strings.Join(names, ", ")),
		Lenses:  names,
	})
	s.Clean(leaf)
}

// Save implements spec §4.8 "Save": every /files/<p> record whose tree is
// dirty is matched against transforms (exactly one owner required), put
// against the current on-disk text as skeleton source, and written per
// mode. A put output byte-identical to what's already on disk skips the
// rename (spec §9 Open Question (a)). It returns the tree paths of files
// actually written, in /files-iteration order, the same list
// /augeas/events/saved records.
func Save(s *tree.Store, fs afero.Fs, root string, transforms []*Transform, mode SaveMode, logf func(string, ...interface{})) ([]string, error) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	root = normalizeRoot(root)

	metaRoot := s.ChildOrCreate(s.Root(), "augeas")
	metaFiles := s.ChildOrCreate(metaRoot, "files")
	filesRoot := s.ChildOrCreate(s.Root(), "files")

	rels := map[string]bool{}
	for _, leaf := range collectFileLeaves(s, metaFiles) {
		if pc, ok := s.Child(leaf, "path"); ok {
			if tp, ok2 := s.Value(pc); ok2 {
				rels[strings.TrimPrefix(tp, "/files/")] = true
			}
		}
	}
	// Files created purely through the tree API have no metadata leaf yet;
	// any dirty /files node whose path a transform claims is also a save
	// candidate (spec §4.8: "or empty string for new files").
	for rel := range collectDirtyMatches(s, filesRoot, transforms) {
		rels[rel] = true
	}
	ordered := make([]string, 0, len(rels))
	var walk func(id tree.ID, rel string)
	walk = func(id tree.ID, rel string) {
		for _, c := range s.Children(id) {
			l, ok := s.Label(c)
			if !ok {
				continue
			}
			if rels[rel+l] {
				ordered = append(ordered, rel+l)
				delete(rels, rel+l)
			}
			walk(c, rel+l+"/")
		}
	}
	walk(filesRoot, "")

	var saved []string
	var result error

	for _, rel := range ordered {
		fnode, ok := lookupFiles(s, filesRoot, rel)
		if !ok || !s.Dirty(fnode) {
			continue
		}
		leaf := metaLeaf(s, rel)

		owners := matchingTransforms(transforms, rel)
		if len(owners) != 1 {
			names := transformNames(owners)
			setFileError(s, leaf, FileError{
				Kind:    ErrMxfmSave,
				Message: fmt.Sprintf("%s has %d owning transforms, want exactly 1", rel, len(owners)),
				Lenses:  names,
			})
			result = errwrap.Append(result, fmt.Errorf("transform: %s has %d owning transforms", rel, len(owners)))
			continue
		}
		t := owners[0]
		abs := path.Join(root, rel)

		skelSrc := ""
		if data, err := afero.ReadFile(fs, abs); err == nil {
			skelSrc = string(data)
		}

		var skel *lens.Skeleton
		var dict lens.Dict
		if skelSrc != "" {
			parseSrc := skelSrc
			if !strings.HasSuffix(parseSrc, "\n") {
				parseSrc += "\n"
			}
			if origFrag, origSkel, _, err := transducer.Get(t.Lens, parseSrc, 0); err == nil {
				skel = origSkel
				if d, derr := lens.BuildDict(t.Lens, origFrag, origSkel); derr == nil {
					dict = d
				}
			}
		}

		children := extractChildren(s, fnode)
		out, err := transducer.Put(t.Lens, children, skel, dict)
		if err != nil {
			msg := err.Error()
			fpath := ""
			if pe, ok := err.(*lens.PutError); ok {
				fpath = pe.Path
			}
			setFileError(s, leaf, FileError{Kind: ErrPutFailed, Message: msg, Path: fpath})
			result = errwrap.Append(result, err)
			continue
		}

		if mode == SaveNoop {
			continue
		}

		if out == skelSrc {
			s.Clean(fnode)
			continue
		}

		if err := writeFile(fs, abs, out, mode); err != nil {
			setFileError(s, leaf, FileError{Kind: ErrWriteFailed, Message: err.Error()})
			result = errwrap.Append(result, err)
			continue
		}

		setMeta(s, leaf, rel, fs, abs, t.Name)
		s.Clean(fnode)
		saved = append(saved, "/files/"+rel)
		logf("transform: saved %s", rel)
	}

	return saved, result
}

// collectDirtyMatches walks the /files subtree collecting every dirty node
// whose relative path at least one transform's filter claims: the save
// candidates that exist only in the tree so far.
func collectDirtyMatches(s *tree.Store, filesRoot tree.ID, transforms []*Transform) map[string]tree.ID {
	out := map[string]tree.ID{}
	var walk func(id tree.ID, rel string)
	walk = func(id tree.ID, rel string) {
		for _, c := range s.Children(id) {
			l, ok := s.Label(c)
			if !ok {
				continue
			}
			crel := rel + l
			if s.Dirty(c) && len(matchingTransforms(transforms, crel)) > 0 {
				out[crel] = c
			}
			walk(c, crel+"/")
		}
	}
	walk(filesRoot, "")
	return out
}

func matchingTransforms(transforms []*Transform, rel string) []*Transform {
	var out []*Transform
	for _, t := range transforms {
		if t.Filter.Matches(rel) {
			out = append(out, t)
		}
	}
	return out
}

func transformNames(ts []*Transform) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name
	}
	return names
}

// writeFile implements the save-mode matrix (spec §4.8 step 5): write to a
// temp file beside the destination, transfer its mode, back up the
// original for SaveBackup, then atomically rename into place (or into
// "<dest>.augnew" for SaveNewFile, which does not fall back to a copy on
// rename failure).
func writeFile(fs afero.Fs, dest, content string, mode SaveMode) error {
	dir := path.Dir(dest)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return errwrap.Wrapf(err, "transform: creating %s", dir)
	}

	target := dest
	if mode == SaveNewFile {
		target = dest + ".augnew"
	}

	perm := os.FileMode(0o644)
	if info, err := fs.Stat(dest); err == nil {
		perm = info.Mode().Perm()
	}

	// Temp-file suffix via uuid rather than relying on afero's own
	// TempFile randomization, so the naming scheme (mkstemp-equivalent,
	// spec §6 "Temp files use <dest>.XXXXXX") stays identical across
	// every afero.Fs backend, including afero.MemMapFs in tests.
	tmp := fmt.Sprintf("%s.%s", target, uuid.NewString()[:8])
	f, err := fs.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return errwrap.Wrapf(err, "transform: creating temp file for %s", target)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		fs.Remove(tmp)
		return errwrap.Wrapf(err, "transform: writing temp file for %s", target)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return errwrap.Wrapf(err, "transform: closing temp file for %s", target)
	}
	if err := fs.Chmod(tmp, perm); err != nil {
		fs.Remove(tmp)
		return errwrap.Wrapf(err, "transform: chmod %s", tmp)
	}

	if mode == SaveBackup {
		if _, err := fs.Stat(dest); err == nil {
			if err := copyFile(fs, dest, dest+".augsave"); err != nil {
				fs.Remove(tmp)
				return errwrap.Wrapf(err, "transform: backing up %s", dest)
			}
		}
	}

	if err := fs.Rename(tmp, target); err != nil {
		if mode == SaveNewFile {
			fs.Remove(tmp)
			return errwrap.Wrapf(err, "transform: rename %s to %s", tmp, target)
		}
		if cerr := copyFile(fs, tmp, target); cerr != nil {
			fs.Remove(tmp)
			return errwrap.Wrapf(err, "transform: rename %s to %s failed, copy fallback also failed: %v", tmp, target, cerr)
		}
		fs.Remove(tmp)
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return err
	}
	perm := os.FileMode(0o644)
	if info, err := fs.Stat(src); err == nil {
		perm = info.Mode().Perm()
	}
	return afero.WriteFile(fs, dst, data, perm)
}

// --- tree <-> lens.Node fragment conversions ---

func spliceChildren(s *tree.Store, parent tree.ID, frag []*lens.Node, file string) {
	for _, n := range frag {
		spliceNode(s, parent, n, file)
	}
}

func spliceNode(s *tree.Store, parent tree.ID, n *lens.Node, file string) tree.ID {
	var id tree.ID
	if n.Label != nil {
		id = s.Append(parent, *n.Label, n.Value)
	} else {
		id = s.AppendHidden(parent)
		if n.Value != nil {
			s.SetValue(id, n.Value)
		}
	}
	if n.Span != nil {
		s.SetSpan(id, tree.Span{
			File:       file,
			LabelStart: n.Span.LabelStart, LabelEnd: n.Span.LabelEnd,
			ValueStart: n.Span.ValueStart, ValueEnd: n.Span.ValueEnd,
			SpanStart: n.Span.Start, SpanEnd: n.Span.End,
		})
	}
	spliceChildren(s, id, n.Children, file)
	return id
}

func extractChildren(s *tree.Store, parent tree.ID) []*lens.Node {
	kids := s.Children(parent)
	out := make([]*lens.Node, 0, len(kids))
	for _, k := range kids {
		out = append(out, extractNode(s, k))
	}
	return out
}

func extractNode(s *tree.Store, id tree.ID) *lens.Node {
	n := &lens.Node{}
	if l, ok := s.Label(id); ok {
		n.Label = &l
	}
	if v, ok := s.Value(id); ok {
		n.Value = &v
	}
	n.Children = extractChildren(s, id)
	return n
}

// --- /augeas/files and /files bookkeeping ---

func metaLeaf(s *tree.Store, rel string) tree.ID {
	cur := s.ChildOrCreate(s.Root(), "augeas")
	cur = s.ChildOrCreate(cur, "files")
	for _, seg := range splitPath(rel) {
		cur = s.ChildOrCreate(cur, seg)
	}
	return cur
}

func lookupFiles(s *tree.Store, filesRoot tree.ID, rel string) (tree.ID, bool) {
	cur := filesRoot
	for _, seg := range splitPath(rel) {
		c, ok := s.Child(cur, seg)
		if !ok {
			return 0, false
		}
		cur = c
	}
	return cur, true
}

func createFilesNode(s *tree.Store, filesRoot tree.ID, rel string) tree.ID {
	cur := filesRoot
	for _, seg := range splitPath(rel) {
		cur = s.ChildOrCreate(cur, seg)
	}
	return cur
}

// collectFileLeaves returns every descendant of node carrying a "path"
// child: the per-file metadata leaves (intermediate path-segment nodes,
// which have no "path" child of their own, are not file records).
func collectFileLeaves(s *tree.Store, node tree.ID) []tree.ID {
	var out []tree.ID
	if _, ok := s.Child(node, "path"); ok {
		out = append(out, node)
	}
	for _, c := range s.Children(node) {
		out = append(out, collectFileLeaves(s, c)...)
	}
	return out
}

func setMeta(s *tree.Store, leaf tree.ID, rel string, fs afero.Fs, abs, lensName string) {
	setLeafChild(s, leaf, "path", "/files/"+rel)
	if info, err := fs.Stat(abs); err == nil {
		setLeafChild(s, leaf, "mtime", formatMtime(info))
	}
	setLeafChild(s, leaf, "lens", lensName)
	if c, ok := s.Child(leaf, "error"); ok {
		s.Unlink(c)
	}
}

func setLeafChild(s *tree.Store, parent tree.ID, label, value string) {
	id := s.ChildOrCreate(parent, label)
	s.SetValue(id, &value)
}

func setFileError(s *tree.Store, leaf tree.ID, fe FileError) {
	if c, ok := s.Child(leaf, "error"); ok {
		s.Unlink(c)
	}
	errNode := s.Append(leaf, "error", nil)
	setLeafChild(s, errNode, "message", fe.Message)
	if fe.Kind != "" {
		setLeafChild(s, errNode, "kind", string(fe.Kind))
	}
	if fe.Pos != 0 {
		setLeafChild(s, errNode, "pos", strconv.Itoa(fe.Pos))
	}
	if fe.Line != 0 {
		setLeafChild(s, errNode, "line", strconv.Itoa(fe.Line))
	}
	if fe.Char != 0 {
		setLeafChild(s, errNode, "char", strconv.Itoa(fe.Char))
	}
	if fe.Path != "" {
		setLeafChild(s, errNode, "path", fe.Path)
	}
	for i, name := range fe.Lenses {
		setLeafChild(s, errNode, fmt.Sprintf("lens%d", i+1), name)
	}
}

func lineChar(text string, pos int) (line, char int) {
	line = 1
	lastNL := -1
	for i := 0; i < pos && i < len(text); i++ {
		if text[i] == '\n' {
			line++
			lastNL = i
		}
	}
	char = pos - lastNL
	return line, char
}

func formatMtime(info os.FileInfo) string {
	return info.ModTime().UTC().Format(time.RFC3339Nano)
}

func normalizeRoot(root string) string {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		root = "/"
	}
	return root
}

func splitPath(rel string) []string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}

func relPath(root, abs string) string {
	rel := strings.TrimPrefix(abs, root)
	return strings.TrimPrefix(rel, "/")
}

func listFiles(fs afero.Fs, root string) ([]string, error) {
	var files []string
	err := afero.Walk(fs, root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil // an unreadable subtree is skipped, not fatal to the whole load
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
