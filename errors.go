package reftar

import "github.com/hardwarebob/reftar/internal/rerr"

// Kind classifies the errors the core distinguishes, per the error
// taxonomy: Io, CorruptArchive and Validation are fatal to the current
// operation; Unsupported and Permission are always recovered locally by
// whichever internal package raises them and never escape a Create/Extract
// call.
type Kind = rerr.Kind

const (
	KindIo             = rerr.Io
	KindCorruptArchive = rerr.CorruptArchive
	KindUnsupported    = rerr.Unsupported
	KindValidation     = rerr.Validation
	KindPermission     = rerr.Permission
)

// Error is the error type returned by the core for any failure that is not
// purely a wrapped I/O error from the standard library. Path, when
// non-empty, names the archive entry the failure pertains to.
type Error = rerr.Error

// IsCorrupt reports whether err (or something it wraps) is a CorruptArchive
// error, the condition that must abort extraction immediately.
func IsCorrupt(err error) bool {
	return rerr.Is(err, rerr.CorruptArchive)
}
