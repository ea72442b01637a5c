// Package clonerange wraps the Linux FICLONERANGE ioctl, which clones a byte
// range between two files so that they physically share on-disk extents on
// copy-on-write filesystems (btrfs, XFS with reflink, ext4 with CoW). This is
// the only filesystem-specific primitive the core depends on; everything
// else in reftar is pure stream processing.
package clonerange

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Result classifies the outcome of a clone-range attempt.
type Result int

const (
	// Cloned means the destination range now physically shares extents
	// with the source range.
	Cloned Result = iota
	// Unsupported means the operation could not be performed for a
	// recoverable reason — non-CoW filesystem, cross-filesystem clone,
	// kernel without the ioctl, or the filesystem declining. Callers must
	// fall back to a byte copy.
	Unsupported
)

// fileCloneRange mirrors struct file_clone_range from linux/fs.h.
type fileCloneRange struct {
	srcFd      int64
	srcOffset  uint64
	srcLength  uint64
	destOffset uint64
}

// FICLONERANGE is _IOW(0x94, 13, struct file_clone_range), not currently
// exposed by golang.org/x/sys/unix; computed the same way distri's
// cmd/distri/pack.go hand-derives LOOP_SET_FD/LOOP_SET_STATUS64 for ioctls
// that package hasn't wrapped yet.
const ficloneRange = 0x4020940d

// Ranger is the injected capability internal/extractor depends on, so tests
// can stub Unsupported without a real CoW filesystem.
type Ranger interface {
	TryCloneRange(src *os.File, srcOffset int64, dst *os.File, dstOffset int64, length int64) (Result, error)
}

// Linux issues the real ioctl.
type Linux struct{}

var _ Ranger = Linux{}

// TryCloneRange clones length bytes from src at srcOffset into dst at
// dstOffset. All three of srcOffset, dstOffset and length must be multiples
// of the archive's block size; length must be > 0. Err is reserved for
// genuine I/O errors on the already-open descriptors; everything else
// recoverable comes back as Unsupported.
func (Linux) TryCloneRange(src *os.File, srcOffset int64, dst *os.File, dstOffset int64, length int64) (Result, error) {
	if length <= 0 {
		return Unsupported, xerrors.Errorf("clone-range length must be > 0, got %d", length)
	}
	fcr := fileCloneRange{
		srcFd:      int64(src.Fd()),
		srcOffset:  uint64(srcOffset),
		srcLength:  uint64(length),
		destOffset: uint64(dstOffset),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dst.Fd(), ficloneRange, uintptr(unsafe.Pointer(&fcr)))
	if errno == 0 {
		return Cloned, nil
	}
	switch errno {
	case unix.EOPNOTSUPP, unix.EXDEV, unix.EINVAL, unix.ENOTTY, unix.ENOSYS:
		// EOPNOTSUPP/ENOTTY/ENOSYS: filesystem or kernel lacks the ioctl.
		// EXDEV: source and destination are not on the same filesystem.
		// EINVAL: most commonly a non-CoW filesystem (e.g. ext4 without
		// the EXT4_FEATURE_INCOMPAT_COMPRESSION-adjacent reflink support),
		// or ranges this filesystem cannot represent as shared extents.
		return Unsupported, nil
	default:
		return Unsupported, xerrors.Errorf("FICLONERANGE(%s -> %s, off=%d/%d, len=%d): %w", src.Name(), dst.Name(), srcOffset, dstOffset, length, errno)
	}
}

// Stub always reports Unsupported, for platforms without the primitive or
// for tests that want to force the copy-fallback path.
type Stub struct{}

var _ Ranger = Stub{}

func (Stub) TryCloneRange(*os.File, int64, *os.File, int64, int64) (Result, error) {
	return Unsupported, nil
}
