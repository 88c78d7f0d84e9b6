// Package augeas implements the public API (spec Component I): the
// Augeas handle, its enter/exit call discipline, the path/tree mutators,
// and the load/save cycle built on transform, lens, pathx, and tree.
package augeas

import "fmt"

// ErrorCode names one of the fixed public error categories (spec §6
// "Error codes").
type ErrorCode int

const (
	NOERROR ErrorCode = iota
	ENOMEM
	EINTERNAL
	EPATHX
	ENOMATCH
	EMMATCH
	ESYNTAX
	ENOLENS
	EMXFM
	ENOSPAN
	EMVDESC
	ECMDRUN
	EBADARG
	ELABEL
)

var codeNames = map[ErrorCode]string{
	NOERROR:   "no error",
	ENOMEM:    "out of memory",
	EINTERNAL: "internal error",
	EPATHX:    "invalid path expression",
	ENOMATCH:  "no match for path expression",
	EMMATCH:   "multiple matches for path expression",
	ESYNTAX:   "syntax error in lens",
	ENOLENS:   "no such lens",
	EMXFM:     "multiple transforms match a file",
	ENOSPAN:   "span information not available",
	EMVDESC:   "cannot move node into its own descendant",
	ECMDRUN:   "failed to execute command",
	EBADARG:   "invalid argument",
	ELABEL:    "invalid label",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown error"
}

// Error is the value latched into the instance's error slot and returned
// from every fallible public method (spec §7 "the instance additionally
// carries a latched error slot... the error slot carries the first
// error"). Details and Pos mirror the per-cause annotations
// spec §6/§7 call out (the `|=|`-marked fragment for EPATHX, a byte
// position for a parse failure, and so on).
type Error struct {
	Code    ErrorCode
	Message string
	Details string
	Pos     int

	cause error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("augeas: %s: %s", e.Code, e.Details)
	}
	if e.Message != "" {
		return fmt.Sprintf("augeas: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("augeas: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrorCode, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: cause.Error(), cause: cause}
}
