// Package creator implements the reftar Creator: a single forward pass over
// a list of input paths that emits a block-aligned archive stream, deduping
// fixed-size blocks within and across files via a CRC32-keyed table.
package creator

import (
	"context"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/hardwarebob/reftar/internal/format"
	"github.com/hardwarebob/reftar/internal/frame"
	"github.com/hardwarebob/reftar/internal/fsprobe"
	"github.com/hardwarebob/reftar/internal/rerr"
)

// SparsePolicy selects how the Creator decides a block is a hole, per
// spec §9's Open Question on sparse-region detection.
type SparsePolicy int

const (
	// SparsePolicyZero treats any block whose block-padded payload is all
	// zero bytes as a hole. Works on any source, including non-regular
	// readers.
	SparsePolicyZero SparsePolicy = iota
	// SparsePolicySeek queries the source filesystem's extent map via
	// SEEK_HOLE/SEEK_DATA (Linux) instead of scanning content.
	SparsePolicySeek
)

const (
	seekData = 3 // Linux SEEK_DATA
	seekHole = 4 // Linux SEEK_HOLE
)

// Options configures a Creator run.
type Options struct {
	BlockSize    uint32
	SparsePolicy SparsePolicy
	// Verbose receives one line per warning (unsupported file type
	// skipped, etc). May be nil.
	Verbose func(format string, args ...any)
}

// Stats summarizes a completed Create call, useful for -v output.
type Stats struct {
	Files             int
	DataExtents       int
	ReferenceExtents  int
	SparseExtents     int
	HardlinksDetected int
	BytesWritten      int64
}

// Creator runs one archive-creation pass. It is not safe for concurrent use
// and is meant to be constructed fresh per archive.
type Creator struct {
	opts Options

	fw           *frame.Writer
	dedup        map[uint32]uint64 // CRC32(block-padded payload) -> extent id
	nextExtentID uint64
	hardlinks    map[hardlinkKey]string // (dev, ino) -> first archive path seen
	fsCache      map[uint64]fsprobe.Info
	userCache    map[uint64]string
	groupCache   map[uint64]string
	stats        Stats
}

type hardlinkKey struct {
	dev, ino uint64
}

// New constructs a Creator for one Create call.
func New(opts Options) *Creator {
	return &Creator{
		opts:       opts,
		dedup:      make(map[uint32]uint64),
		hardlinks:  make(map[hardlinkKey]string),
		fsCache:    make(map[uint64]fsprobe.Info),
		userCache:  make(map[uint64]string),
		groupCache: make(map[uint64]string),
	}
}

func (c *Creator) logf(format string, args ...any) {
	if c.opts.Verbose != nil {
		c.opts.Verbose(format, args...)
	}
}

// Create streams an archive of inputs to w. Inputs are visited in the order
// given; directories are recursed in directory-listing order. No temporary
// files are used and nothing is buffered beyond one block at a time, save
// for inline data of files smaller than the block size.
func (c *Creator) Create(ctx context.Context, w io.Writer, inputs []string) (Stats, error) {
	if !frame.ValidBlockSize(c.opts.BlockSize) {
		return Stats{}, rerr.Newf(rerr.Validation, "", "block size %d out of range [%d, %d]", c.opts.BlockSize, frame.MinBlockSize, frame.MaxBlockSize)
	}

	c.fw = frame.NewWriter(w, c.opts.BlockSize)
	ah := format.ArchiveHeader{BlockSize: c.opts.BlockSize}
	if err := c.fw.WriteRecord(ah.Encode()); err != nil {
		return c.stats, rerr.Newf(rerr.Io, "", "write archive header: %w", err)
	}

	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return c.stats, err
		}
		if err := c.addPath(ctx, input); err != nil {
			return c.stats, err
		}
	}
	c.stats.BytesWritten = c.fw.Pos()
	return c.stats, nil
}

// addPath walks one input argument, recording each entry's archive path
// relative to the input's parent directory: archiving "/a/b" yields entries
// rooted at "b/...", the same convention tar uses, so the archive stays
// portable across machines and extracts as a subtree of whatever output
// directory the caller names.
func (c *Creator) addPath(ctx context.Context, root string) error {
	info, err := os.Lstat(root)
	if err != nil {
		return rerr.Newf(rerr.Io, root, "lstat: %w", err)
	}
	if !info.IsDir() {
		return c.addEntry(root, filepath.Base(root), info)
	}
	parent := filepath.Dir(root)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return rerr.Newf(rerr.Io, path, "walk: %w", err)
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		fi, err := d.Info()
		if err != nil {
			return rerr.Newf(rerr.Io, path, "stat: %w", err)
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return rerr.Newf(rerr.Io, path, "relativize archive path: %w", err)
		}
		return c.addEntry(path, filepath.ToSlash(rel), fi)
	})
}

// addEntry emits the FileHeader (and, for regular files, extents) for one
// path. path is the real filesystem location used for all I/O; archivePath
// is what gets recorded in the stream. It never returns an error for a
// recoverable Unsupported condition: those are logged and skipped.
func (c *Creator) addEntry(path, archivePath string, info os.FileInfo) error {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return rerr.Newf(rerr.Io, path, "no platform stat_t available")
	}

	h := format.FileHeader{
		Path:      archivePath,
		Name:      filepath.Base(archivePath),
		Mode:      sys.Mode,
		UID:       uint64(sys.Uid),
		GID:       uint64(sys.Gid),
		Atime:     sys.Atim.Sec,
		Mtime:     sys.Mtim.Sec,
		Ctime:     sys.Ctim.Sec,
		Username:  c.lookupUser(uint64(sys.Uid)),
		Groupname: c.lookupGroup(uint64(sys.Gid)),
		XattrBlob: collectXattrs(path),
	}
	probe := c.probeFS(path, uint64(sys.Dev))
	h.FSType = probe.Type
	h.FSID = probe.ID

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return rerr.Newf(rerr.Io, path, "readlink: %w", err)
		}
		h.FileType = format.TypeSymlink
		h.Linkname = target
		return c.writeHeaderOnly(h)

	case mode.IsDir():
		h.FileType = format.TypeDirectory
		return c.writeHeaderOnly(h)

	case mode&os.ModeNamedPipe != 0:
		h.FileType = format.TypeFifo
		return c.writeHeaderOnly(h)

	case mode&os.ModeDevice != 0:
		h.DevMajor = unix.Major(uint64(sys.Rdev))
		h.DevMinor = unix.Minor(uint64(sys.Rdev))
		if mode&os.ModeCharDevice != 0 {
			h.FileType = format.TypeChardev
		} else {
			h.FileType = format.TypeBlockdev
		}
		return c.writeHeaderOnly(h)

	case mode.IsRegular():
		return c.addRegular(path, info, sys, h)

	default:
		c.logf("skipping unsupported file type at %s (mode %v)", path, mode)
		return nil
	}
}

func (c *Creator) writeHeaderOnly(h format.FileHeader) error {
	b, err := h.Encode(nil)
	if err != nil {
		return rerr.Newf(rerr.CorruptArchive, h.Path, "encode file header: %w", err)
	}
	if err := c.fw.WriteRecord(b); err != nil {
		return rerr.Newf(rerr.Io, h.Path, "write file header: %w", err)
	}
	c.stats.Files++
	return nil
}

func (c *Creator) addRegular(path string, info os.FileInfo, sys *syscall.Stat_t, h format.FileHeader) error {
	size := uint64(info.Size())
	h.FileSize = size

	if sys.Nlink > 1 {
		key := hardlinkKey{dev: uint64(sys.Dev), ino: uint64(sys.Ino)}
		if first, seen := c.hardlinks[key]; seen {
			h.FileType = format.TypeHardlink
			h.Linkname = first
			c.stats.HardlinksDetected++
			return c.writeHeaderOnly(h)
		}
		c.hardlinks[key] = h.Path
	}
	h.FileType = format.TypeRegular

	if size < uint64(c.opts.BlockSize) {
		data, err := os.ReadFile(path)
		if err != nil {
			return rerr.Newf(rerr.Io, path, "read inline file: %w", err)
		}
		b, err := h.Encode(data)
		if err != nil {
			return rerr.Newf(rerr.CorruptArchive, path, "encode file header: %w", err)
		}
		if err := c.fw.WriteRecord(b); err != nil {
			return rerr.Newf(rerr.Io, path, "write file header: %w", err)
		}
		c.stats.Files++
		return nil
	}

	b, err := h.Encode(nil)
	if err != nil {
		return rerr.Newf(rerr.CorruptArchive, path, "encode file header: %w", err)
	}
	if err := c.fw.WriteRecord(b); err != nil {
		return rerr.Newf(rerr.Io, path, "write file header: %w", err)
	}
	c.stats.Files++

	f, err := os.Open(path)
	if err != nil {
		return rerr.Newf(rerr.Io, path, "open: %w", err)
	}
	defer f.Close()

	return c.streamExtents(path, f, size)
}

func (c *Creator) streamExtents(path string, f *os.File, size uint64) error {
	bs := int64(c.opts.BlockSize)
	buf := make([]byte, bs)

	var sparseRun uint32
	var sparseStart int64
	flushSparse := func() error {
		if sparseRun == 0 {
			return nil
		}
		eh := format.ExtentHeader{
			ExtentType:        format.ExtentSparse,
			LengthBlocks:      sparseRun,
			SourceExtentStart: uint64(sparseStart),
		}
		if err := c.writeExtentHeader(path, eh); err != nil {
			return err
		}
		c.stats.SparseExtents++
		sparseRun = 0
		return nil
	}

	var offset int64
	for offset < int64(size) {
		n, err := io.ReadFull(f, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// Zero-pad the final partial block, per invariant I2.
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
		} else if err != nil {
			return rerr.Newf(rerr.Io, path, "read block at offset %d: %w", offset, err)
		}

		if c.blockIsHole(f, buf, offset) {
			if sparseRun == 0 {
				sparseStart = offset
			}
			sparseRun++
			offset += bs
			continue
		}
		if err := flushSparse(); err != nil {
			return err
		}

		sum := frame.CRC32(buf)
		if id, hit := c.dedup[sum]; hit {
			eh := format.ExtentHeader{
				ExtentID:          id,
				ExtentType:        format.ExtentReference,
				LengthBlocks:      1,
				SourceExtentStart: uint64(offset),
				Checksum:          sum,
			}
			if err := c.writeExtentHeader(path, eh); err != nil {
				return err
			}
			c.stats.ReferenceExtents++
			offset += bs
			continue
		}

		id := c.nextExtentID + 1
		c.nextExtentID = id
		c.dedup[sum] = id
		eh := format.ExtentHeader{
			ExtentID:          id,
			ExtentType:        format.ExtentData,
			LengthBlocks:      1,
			SourceExtentStart: uint64(offset),
			Checksum:          sum,
		}
		if err := c.writeExtentHeader(path, eh); err != nil {
			return err
		}
		if err := c.fw.WritePayload(buf); err != nil {
			return rerr.Newf(rerr.Io, path, "write data extent payload at offset %d: %w", offset, err)
		}
		c.stats.DataExtents++
		offset += bs
	}
	return flushSparse()
}

func (c *Creator) writeExtentHeader(path string, eh format.ExtentHeader) error {
	b, err := eh.Encode()
	if err != nil {
		return rerr.Newf(rerr.CorruptArchive, path, "encode extent header: %w", err)
	}
	if err := c.fw.WriteRecord(b); err != nil {
		return rerr.Newf(rerr.Io, path, "write extent header: %w", err)
	}
	return nil
}

// blockIsHole reports whether the block at offset should be emitted as
// Sparse. buf already holds the (zero-padded) block content, which is all
// SparsePolicyZero needs; SparsePolicySeek additionally consults the
// filesystem's hole/data extent map and falls back to the zero scan if the
// query fails (e.g. ENXIO at end of file, or an unsupported filesystem).
func (c *Creator) blockIsHole(f *os.File, buf []byte, offset int64) bool {
	if c.opts.SparsePolicy == SparsePolicySeek {
		end := offset + int64(len(buf))
		pos, err := unix.Seek(int(f.Fd()), offset, seekHole)
		if err == nil {
			// Restore the sequential read position SEEK_HOLE/SEEK_DATA disturbed.
			defer f.Seek(end, io.SeekStart)
			if pos != offset {
				return false
			}
			// The block starts in a hole; it is a hole only if no data
			// begins before its end.
			next, err := unix.Seek(int(f.Fd()), offset, seekData)
			if err == unix.ENXIO {
				return true
			}
			if err == nil {
				return next >= end
			}
		}
	}
	return allZero(buf)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (c *Creator) probeFS(path string, dev uint64) fsprobe.Info {
	if info, ok := c.fsCache[dev]; ok {
		return info
	}
	info := fsprobe.Probe(path)
	c.fsCache[dev] = info
	return info
}

func (c *Creator) lookupUser(uid uint64) string {
	if name, ok := c.userCache[uid]; ok {
		return name
	}
	name := ""
	if u, err := user.LookupId(strconv.FormatUint(uid, 10)); err == nil {
		name = u.Username
	}
	c.userCache[uid] = name
	return name
}

func (c *Creator) lookupGroup(gid uint64) string {
	if name, ok := c.groupCache[gid]; ok {
		return name
	}
	name := ""
	if g, err := user.LookupGroupId(strconv.FormatUint(gid, 10)); err == nil {
		name = g.Name
	}
	c.groupCache[gid] = name
	return name
}
