package reftar

import (
	"github.com/hardwarebob/reftar/internal/clonerange"
	"github.com/hardwarebob/reftar/internal/creator"
)

// VerboseSink receives one formatted diagnostic line per call; both Create
// and Extract use it for non-fatal, recoverable conditions (unsupported
// input file type skipped, clone-range fallback to copy, metadata apply
// failure).
type VerboseSink func(format string, args ...any)

// SparsePolicy selects how Create decides a block of a regular file is a
// hole worth encoding as a Sparse extent rather than a Data extent.
type SparsePolicy = creator.SparsePolicy

const (
	SparsePolicyZero = creator.SparsePolicyZero
	SparsePolicySeek = creator.SparsePolicySeek
)

// CreateOptions configures Create.
type CreateOptions struct {
	// BlockSize is the archive-wide block size, default 4096 when zero.
	BlockSize uint32
	// SparsePolicy selects hole-detection strategy; zero value is
	// SparsePolicyZero.
	SparsePolicy SparsePolicy
	// Verbose, if non-nil, receives warning lines.
	Verbose VerboseSink
}

// DefaultBlockSize is used by Create when CreateOptions.BlockSize is zero.
const DefaultBlockSize = 4096

// ExtractOptions configures Extract.
type ExtractOptions struct {
	// CloneRanger supplies the clone-range capability. Defaults to the real
	// Linux ioctl implementation when nil; tests inject a stub to force the
	// copy-fallback path on platforms without a CoW filesystem handy.
	CloneRanger clonerange.Ranger
	// NoMetadata skips restoring ownership, mode and timestamps.
	NoMetadata bool
	// Verbose, if non-nil, receives warning lines.
	Verbose VerboseSink
}

// Result summarizes a completed Create or Extract call. Fields that don't
// apply to the call that produced a Result are left at zero.
type Result struct {
	Files             int
	BytesWritten      int64
	DataExtents       int
	ReferenceExtents  int
	SparseExtents     int
	HardlinksDetected int
	ClonedExtents     int
	CopiedExtents     int
	MetadataErrors    int
}

// Entry describes one archive member, as produced by List.
type Entry struct {
	Path      string
	Name      string
	FileType  byte
	FileSize  uint64
	Mode      uint32
	UID, GID  uint64
	Username  string
	Groupname string
	Linkname  string
	Atime     int64
	Mtime     int64
	Ctime     int64
	FSType    string
	FSID      uint64

	DataExtents      int
	SparseExtents    int
	ReferenceExtents int
	// ReferenceSources holds source_extent_start for each Reference extent,
	// in stream order. It is purely informational — spec.md reserves the
	// field without defining any consumer for it — and is not used to drive
	// extraction, which resolves reference extents by ExtentID instead.
	ReferenceSources []uint64
}

// ArchiveInfo summarizes an archive's header without scanning its entries.
type ArchiveInfo struct {
	Version   uint16
	BlockSize uint32
}
