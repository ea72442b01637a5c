// Package rerr implements the error taxonomy shared by the core packages:
// Io, CorruptArchive, Unsupported, Validation, Permission. It is a leaf
// package (internal/creator, internal/extractor and the root reftar package
// all import it) so that a single *Error type flows uniformly from deep
// inside the Creator/Extractor out to the CLI without each layer having to
// re-wrap it.
package rerr

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies the errors the core distinguishes.
type Kind int

const (
	// Io wraps a failed underlying read or write. Fatal to the current
	// operation.
	Io Kind = iota
	// CorruptArchive marks malformed or internally inconsistent archive
	// data: bad magic, impossible sizes, string overruns, unknown extent
	// types, CRC mismatches, unresolved references. Fatal; stops
	// extraction immediately.
	CorruptArchive
	// Unsupported marks a condition the raiser recovers from locally
	// (clone-range not possible, unknown input file type). Never
	// propagates out of Create/Extract.
	Unsupported
	// Validation marks a Creator parameter out of range before any I/O is
	// attempted (the block size). Fatal; refuses to proceed. A bad version
	// or block size read from an existing archive is reported as
	// CorruptArchive, not Validation.
	Validation
	// Permission marks a failure to apply metadata (chown, chmod, utimes)
	// the running user lacks privileges for. Warned, never fatal.
	Permission
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case CorruptArchive:
		return "corrupt archive"
	case Unsupported:
		return "unsupported"
	case Validation:
		return "validation"
	case Permission:
		return "permission"
	default:
		return "unknown"
	}
}

// Error is the error type the core returns for any failure that is not a
// bare wrapped I/O error. Path, when non-empty, names the archive entry the
// failure pertains to.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Newf constructs an *Error of the given kind, formatting the message with
// xerrors.Errorf so a %w verb keeps errors.Is/errors.As working across the
// wrap.
func Newf(kind Kind, path string, format string, args ...any) error {
	return &Error{Kind: kind, Path: path, Err: xerrors.Errorf(format, args...)}
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return xerrors.As(err, &e) && e.Kind == kind
}
