package augeas

import (
	"fmt"
	"strings"
)

// Srun parses one line of a small command language and dispatches it
// through the same public methods above (spec §4.9 "srun parses a small
// command language... and dispatches to the API; its behavior is defined
// by a dispatch table of (name, arg-spec, handler)"). It returns whatever
// textual result the command produces (augtool-style "path = value" for
// get/match, a count for setm/rm, nothing for set/mv/rename/save/load).
func (a *Augeas) Srun(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" || strings.HasPrefix(command, "#") {
		return "", nil
	}
	tokens, err := srunTokenize(command)
	if err != nil {
		return "", newError(ECMDRUN, "%s", err.Error())
	}
	if len(tokens) == 0 {
		return "", nil
	}

	name, args := tokens[0], tokens[1:]
	for _, c := range srunDispatch {
		if c.name != name {
			continue
		}
		if len(args) < c.minArgs || len(args) > c.maxArgs {
			return "", newError(ECMDRUN, "%s: expected %d-%d arguments, got %d", name, c.minArgs, c.maxArgs, len(args))
		}
		return c.run(a, args)
	}
	return "", newError(ECMDRUN, "unknown command %q", name)
}

type srunCommand struct {
	name             string
	minArgs, maxArgs int
	run              func(a *Augeas, args []string) (string, error)
}

var srunDispatch = []srunCommand{
	{"get", 1, 1, srunGet},
	{"set", 2, 2, srunSet},
	{"setm", 2, 3, srunSetM},
	{"insert", 2, 3, srunInsert},
	{"ins", 2, 3, srunInsert},
	{"move", 2, 2, srunMv},
	{"mv", 2, 2, srunMv},
	{"rename", 2, 2, srunRename},
	{"remove", 1, 1, srunRm},
	{"rm", 1, 1, srunRm},
	{"match", 1, 1, srunMatch},
	{"defvar", 2, 2, srunDefVar},
	{"defnode", 2, 3, srunDefNode},
	{"save", 0, 0, srunSave},
	{"load", 0, 0, srunLoad},
	{"span", 1, 1, srunSpan},
}

func srunGet(a *Augeas, args []string) (string, error) {
	v, err := a.Get(args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", args[0], v), nil
}

func srunSet(a *Augeas, args []string) (string, error) {
	return "", a.Set(args[0], args[1])
}

func srunSetM(a *Augeas, args []string) (string, error) {
	sub, val := "", args[1]
	if len(args) == 3 {
		sub, val = args[1], args[2]
	}
	n, err := a.SetM(args[0], sub, val)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n), nil
}

func srunInsert(a *Augeas, args []string) (string, error) {
	path, label := args[0], args[1]
	before := false
	if len(args) == 3 {
		switch args[2] {
		case "before":
			before = true
		case "after":
			before = false
		default:
			return "", newError(ECMDRUN, "insert: third argument must be \"before\" or \"after\", got %q", args[2])
		}
	}
	return "", a.Insert(path, label, before)
}

func srunMv(a *Augeas, args []string) (string, error) {
	return "", a.Mv(args[0], args[1])
}

func srunRename(a *Augeas, args []string) (string, error) {
	return "", a.Rename(args[0], args[1])
}

func srunRm(a *Augeas, args []string) (string, error) {
	n, err := a.Rm(args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n), nil
}

func srunMatch(a *Augeas, args []string) (string, error) {
	paths, err := a.Match(args[0])
	if err != nil {
		return "", err
	}
	lines := make([]string, len(paths))
	for i, p := range paths {
		v, _ := a.Get(p)
		lines[i] = fmt.Sprintf("%s = %s", p, v)
	}
	return strings.Join(lines, "\n"), nil
}

func srunDefVar(a *Augeas, args []string) (string, error) {
	return "", a.DefVar(args[0], args[1])
}

func srunDefNode(a *Augeas, args []string) (string, error) {
	value := ""
	if len(args) == 3 {
		value = args[2]
	}
	p, err := a.DefNode(args[0], args[1], value)
	if err != nil {
		return "", err
	}
	return p, nil
}

func srunSave(a *Augeas, _ []string) (string, error) {
	return "", a.Save()
}

func srunLoad(a *Augeas, _ []string) (string, error) {
	return "", a.Load()
}

func srunSpan(a *Augeas, args []string) (string, error) {
	sp, err := a.Span(args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %d-%d", sp.File, sp.SpanStart, sp.SpanEnd), nil
}

// srunTokenize splits command into words, honoring double-quoted strings
// (with backslash escapes) and treating a "[...]" predicate as opaque so
// path expressions with embedded spaces ([. = "foo"]) stay one token.
func srunTokenize(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	depth := 0
	inQuote := false
	quoteKept := false // quotes inside [...] stay verbatim for the pathx lexer
	hasCur := false

	flush := func() {
		if hasCur {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasCur = false
		}
	}

	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case inQuote:
			if c == '\\' && i+1 < len(line) {
				if quoteKept {
					cur.WriteByte('\\')
				}
				cur.WriteByte(line[i+1])
				i += 2
				continue
			}
			if c == '"' {
				if quoteKept {
					cur.WriteByte('"')
				}
				inQuote = false
				i++
				continue
			}
			cur.WriteByte(c)
			i++
		case c == '"':
			inQuote = true
			quoteKept = depth > 0
			if quoteKept {
				cur.WriteByte('"')
			}
			hasCur = true
			i++
		case c == '[':
			depth++
			cur.WriteByte(c)
			hasCur = true
			i++
		case c == ']':
			if depth == 0 {
				return nil, fmt.Errorf("unbalanced ']' at byte %d", i)
			}
			depth--
			cur.WriteByte(c)
			i++
		case (c == ' ' || c == '\t') && depth == 0:
			flush()
			i++
		default:
			cur.WriteByte(c)
			hasCur = true
			i++
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced '['")
	}
	flush()
	return tokens, nil
}
