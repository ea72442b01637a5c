// Package extractor implements the reftar Extractor: a single forward pass
// over an archive stream that recreates files on disk, resolving Reference
// extents against extents already materialized earlier in the same pass and
// falling back from clone-range to a byte copy wherever the destination
// filesystem cannot share extents physically.
package extractor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"

	"github.com/hardwarebob/reftar/internal/clonerange"
	"github.com/hardwarebob/reftar/internal/format"
	"github.com/hardwarebob/reftar/internal/frame"
	"github.com/hardwarebob/reftar/internal/rerr"
)

// Options configures an Extractor run.
type Options struct {
	// Dir is the directory archive paths are extracted relative to.
	Dir string
	// Ranger supplies the clone-range primitive. Defaults to clonerange.Linux
	// when nil.
	Ranger clonerange.Ranger
	// NoMetadata skips restoring ownership, mode and timestamps, extracting
	// content only.
	NoMetadata bool
	// Verbose receives one line per warning (permission denied applying
	// metadata, clone-range fallback, etc). May be nil.
	Verbose func(format string, args ...any)
}

// Stats summarizes a completed Extract call.
type Stats struct {
	Files          int
	BytesWritten   int64
	ClonedExtents  int
	CopiedExtents  int
	MetadataErrors int
}

// sourceExtent records where an already-extracted extent's bytes live on
// disk, so a later Reference extent can clone or copy from it.
type sourceExtent struct {
	path   string
	offset int64
	length int64
}

// Extractor runs one archive-extraction pass. Not safe for concurrent use.
type Extractor struct {
	opts    Options
	extents map[uint64]sourceExtent
	stats   Stats
}

// New constructs an Extractor for one Extract call.
func New(opts Options) *Extractor {
	if opts.Ranger == nil {
		opts.Ranger = clonerange.Linux{}
	}
	return &Extractor{
		opts:    opts,
		extents: make(map[uint64]sourceExtent),
	}
}

func (e *Extractor) logf(format string, args ...any) {
	if e.opts.Verbose != nil {
		e.opts.Verbose(format, args...)
	}
}

// Extract reads a complete archive stream from r and recreates its entries
// under opts.Dir.
func (e *Extractor) Extract(ctx context.Context, r io.Reader) (Stats, error) {
	ahBytes, err := readAtLeast(r, 12)
	if err != nil {
		return e.stats, rerr.Newf(rerr.CorruptArchive, "", "read archive header: %w", err)
	}
	ah, err := format.DecodeArchiveHeader(ahBytes)
	if err != nil {
		return e.stats, rerr.Newf(rerr.CorruptArchive, "", "decode archive header: %w", err)
	}

	fr := frame.NewReader(io.MultiReader(newPrefixReader(ahBytes), r), ah.BlockSize)
	if _, err := fr.ReadExact(len(ahBytes)); err != nil {
		return e.stats, rerr.Newf(rerr.CorruptArchive, "", "re-read archive header: %w", err)
	}
	if err := fr.SkipToBlockBoundary(); err != nil {
		return e.stats, rerr.Newf(rerr.CorruptArchive, "", "align past archive header: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return e.stats, err
		}
		ok, err := fr.PeekMagic(format.FileMagic[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return e.stats, rerr.Newf(rerr.CorruptArchive, "", "peek next record: %w", err)
		}
		if !ok {
			return e.stats, rerr.Newf(rerr.CorruptArchive, "", "expected FILE magic at block boundary")
		}
		if err := e.readFile(ctx, fr, ah.BlockSize); err != nil {
			return e.stats, err
		}
	}
	return e.stats, nil
}

func (e *Extractor) readFile(ctx context.Context, fr *frame.Reader, blockSize uint32) error {
	prefix, err := fr.ReadExact(8)
	if err != nil {
		return rerr.Newf(rerr.CorruptArchive, "", "read file header prefix: %w", err)
	}
	headerSize := int(prefix[4]) | int(prefix[5])<<8 | int(prefix[6])<<16 | int(prefix[7])<<24
	if headerSize < 8 {
		return rerr.Newf(rerr.CorruptArchive, "", "file header_size %d too small", headerSize)
	}
	rest, err := fr.ReadExact(headerSize - 8)
	if err != nil {
		return rerr.Newf(rerr.CorruptArchive, "", "read file header body: %w", err)
	}
	h, inline, err := format.DecodeFileHeader(append(prefix, rest...))
	if err != nil {
		return rerr.Newf(rerr.CorruptArchive, h.Path, "decode file header: %w", err)
	}
	if err := fr.SkipToBlockBoundary(); err != nil {
		return rerr.Newf(rerr.CorruptArchive, h.Path, "align past file header: %w", err)
	}

	destPath, err := e.resolvePath(h.Path)
	if err != nil {
		return err
	}

	switch h.FileType {
	case format.TypeDirectory:
		if err := os.MkdirAll(destPath, 0755); err != nil {
			return rerr.Newf(rerr.Io, h.Path, "mkdir: %w", err)
		}
	case format.TypeSymlink:
		_ = os.Remove(destPath)
		if err := os.Symlink(h.Linkname, destPath); err != nil {
			return rerr.Newf(rerr.Io, h.Path, "symlink: %w", err)
		}
	case format.TypeFifo:
		_ = os.Remove(destPath)
		if err := unix.Mkfifo(destPath, h.Mode&0o7777); err != nil {
			return rerr.Newf(rerr.Io, h.Path, "mkfifo: %w", err)
		}
	case format.TypeChardev, format.TypeBlockdev:
		_ = os.Remove(destPath)
		mode := h.Mode & 0o7777
		if h.FileType == format.TypeChardev {
			mode |= unix.S_IFCHR
		} else {
			mode |= unix.S_IFBLK
		}
		dev := unix.Mkdev(uint32(h.DevMajor), uint32(h.DevMinor))
		if err := unix.Mknod(destPath, mode, int(dev)); err != nil {
			return rerr.Newf(rerr.Io, h.Path, "mknod: %w", err)
		}
	case format.TypeHardlink:
		linkTarget, err := e.resolvePath(h.Linkname)
		if err != nil {
			return err
		}
		_ = os.Remove(destPath)
		if err := os.Link(linkTarget, destPath); err != nil {
			return rerr.Newf(rerr.Io, h.Path, "link to %s: %w", h.Linkname, err)
		}
	case format.TypeRegular:
		if err := e.extractRegular(ctx, fr, blockSize, h, inline, destPath); err != nil {
			return err
		}
	default:
		return rerr.Newf(rerr.CorruptArchive, h.Path, "unknown file_type %q", byte(h.FileType))
	}

	e.stats.Files++
	e.applyMetadata(h, destPath)
	return nil
}

// resolvePath joins the archive's recorded path onto opts.Dir, rejecting any
// entry that would escape it.
func (e *Extractor) resolvePath(archivePath string) (string, error) {
	clean := filepath.Clean("/" + archivePath)
	full := filepath.Join(e.opts.Dir, clean)
	if full != e.opts.Dir && !hasPrefixDir(full, e.opts.Dir) {
		return "", rerr.Newf(rerr.CorruptArchive, archivePath, "path escapes extraction directory")
	}
	return full, nil
}

func hasPrefixDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".." && (len(rel) == 2 || rel[2] == os.PathSeparator)
}

func (e *Extractor) extractRegular(ctx context.Context, fr *frame.Reader, blockSize uint32, h format.FileHeader, inline []byte, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return rerr.Newf(rerr.Io, h.Path, "mkdir parent: %w", err)
	}

	// A header carrying its full content inline has len(inline) == FileSize
	// (true for FileSize == 0 too); anything else means extents follow, and
	// Encode never emits a partial inline payload.
	if len(inline) > 0 && uint64(len(inline)) != h.FileSize {
		return rerr.Newf(rerr.CorruptArchive, h.Path, "inline payload of %d bytes does not match file_size %d", len(inline), h.FileSize)
	}
	if uint64(len(inline)) == h.FileSize {
		t, err := renameio.TempFile("", destPath)
		if err != nil {
			return rerr.Newf(rerr.Io, h.Path, "create temp file: %w", err)
		}
		defer t.Cleanup()
		if _, err := t.Write(inline); err != nil {
			return rerr.Newf(rerr.Io, h.Path, "write inline payload: %w", err)
		}
		if err := t.CloseAtomicallyReplace(); err != nil {
			return rerr.Newf(rerr.Io, h.Path, "finalize file: %w", err)
		}
		e.stats.BytesWritten += int64(len(inline))
		return nil
	}

	t, err := renameio.TempFile("", destPath)
	if err != nil {
		return rerr.Newf(rerr.Io, h.Path, "create temp file: %w", err)
	}
	defer t.Cleanup()

	remainingBlocks := (h.FileSize + uint64(blockSize) - 1) / uint64(blockSize)
	var written int64
	for remainingBlocks > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, consumed, err := e.readExtent(fr, blockSize, h.Path, t.File, written)
		if err != nil {
			return err
		}
		written += n
		remainingBlocks -= consumed
	}

	if err := t.Truncate(int64(h.FileSize)); err != nil {
		return rerr.Newf(rerr.Io, h.Path, "truncate to declared size: %w", err)
	}
	tmpName := t.Name()
	if err := t.CloseAtomicallyReplace(); err != nil {
		return rerr.Newf(rerr.Io, h.Path, "finalize file: %w", err)
	}
	// This file's Data extents were recorded against the temporary file;
	// point them at its final location for later Reference extents.
	for id, src := range e.extents {
		if src.path == tmpName {
			src.path = destPath
			e.extents[id] = src
		}
	}
	e.stats.BytesWritten += written
	return nil
}

// readExtent reads one extent header (and, for Data, its payload), writes it
// to dst at writeOffset, and returns the logical bytes written plus the
// number of blocks this extent consumed.
func (e *Extractor) readExtent(fr *frame.Reader, blockSize uint32, path string, dst *os.File, writeOffset int64) (written int64, blocksConsumed uint64, err error) {
	raw, err := fr.ReadExact(format.ExtentHeaderSize)
	if err != nil {
		return 0, 0, rerr.Newf(rerr.CorruptArchive, path, "read extent header: %w", err)
	}
	eh, err := format.DecodeExtentHeader(raw)
	if err != nil {
		return 0, 0, rerr.Newf(rerr.CorruptArchive, path, "decode extent header: %w", err)
	}
	if err := fr.SkipToBlockBoundary(); err != nil {
		return 0, 0, rerr.Newf(rerr.CorruptArchive, path, "align past extent header: %w", err)
	}

	length := int64(eh.LengthBlocks) * int64(blockSize)

	switch eh.ExtentType {
	case format.ExtentSparse:
		if eh.Checksum != 0 {
			e.logf("sparse extent in %s carries non-zero checksum %08x, ignoring", path, eh.Checksum)
		}
		if err := dst.Truncate(writeOffset + length); err != nil {
			return 0, 0, rerr.Newf(rerr.Io, path, "extend for sparse extent: %w", err)
		}
		return length, uint64(eh.LengthBlocks), nil

	case format.ExtentData:
		buf, err := fr.ReadExact(int(length))
		if err != nil {
			return 0, 0, rerr.Newf(rerr.CorruptArchive, path, "read data extent payload: %w", err)
		}
		if sum := frame.CRC32(buf); sum != eh.Checksum {
			return 0, 0, rerr.Newf(rerr.CorruptArchive, path, "data extent %d checksum mismatch: got %08x, want %08x", eh.ExtentID, sum, eh.Checksum)
		}
		if _, err := dst.WriteAt(buf, writeOffset); err != nil {
			return 0, 0, rerr.Newf(rerr.Io, path, "write data extent: %w", err)
		}
		if eh.ExtentID != 0 {
			e.recordExtent(eh.ExtentID, dst.Name(), writeOffset, length)
		}
		return length, uint64(eh.LengthBlocks), nil

	case format.ExtentReference:
		src, ok := e.extents[eh.ExtentID]
		if !ok {
			return 0, 0, rerr.Newf(rerr.CorruptArchive, path, "reference extent %d names an unknown source extent", eh.ExtentID)
		}
		if src.length != length {
			return 0, 0, rerr.Newf(rerr.CorruptArchive, path, "reference extent %d length %d does not match source length %d", eh.ExtentID, length, src.length)
		}
		if err := e.materializeReference(src, dst, writeOffset, length, eh.Checksum, path); err != nil {
			return 0, 0, err
		}
		return length, uint64(eh.LengthBlocks), nil

	default:
		return 0, 0, rerr.Newf(rerr.CorruptArchive, path, "unknown extent_type %q", byte(eh.ExtentType))
	}
}

// materializeReference fills dst[writeOffset:writeOffset+length] with the
// bytes of src, preferring a physical clone and falling back to a read/write
// copy whenever the filesystem cannot share the extent.
func (e *Extractor) materializeReference(src sourceExtent, dst *os.File, writeOffset, length int64, wantChecksum uint32, path string) error {
	srcFile, err := os.Open(src.path)
	if err != nil {
		return rerr.Newf(rerr.Io, path, "open reference source %s: %w", src.path, err)
	}
	defer srcFile.Close()

	result, err := e.opts.Ranger.TryCloneRange(srcFile, src.offset, dst, writeOffset, length)
	if err != nil {
		return rerr.Newf(rerr.Io, path, "clone-range: %w", err)
	}
	if result == clonerange.Cloned {
		e.stats.ClonedExtents++
		return nil
	}

	e.logf("clone-range unsupported for %s, falling back to copy", path)
	buf := make([]byte, length)
	if _, err := io.ReadFull(io.NewSectionReader(srcFile, src.offset, length), buf); err != nil {
		return rerr.Newf(rerr.Io, path, "read reference source: %w", err)
	}
	if sum := frame.CRC32(buf); sum != wantChecksum {
		return rerr.Newf(rerr.CorruptArchive, path, "reference source content checksum mismatch: got %08x, want %08x", sum, wantChecksum)
	}
	if _, err := dst.WriteAt(buf, writeOffset); err != nil {
		return rerr.Newf(rerr.Io, path, "write reference copy: %w", err)
	}
	e.stats.CopiedExtents++
	return nil
}

func (e *Extractor) recordExtent(id uint64, path string, offset, length int64) {
	e.extents[id] = sourceExtent{path: path, offset: offset, length: length}
}

func (e *Extractor) applyMetadata(h format.FileHeader, destPath string) {
	if e.opts.NoMetadata {
		return
	}
	if h.FileType != format.TypeSymlink {
		if err := os.Chmod(destPath, os.FileMode(h.Mode&0o7777)); err != nil {
			e.stats.MetadataErrors++
			e.logf("chmod %s: %v", destPath, err)
		}
	}
	if err := os.Lchown(destPath, int(h.UID), int(h.GID)); err != nil {
		e.stats.MetadataErrors++
		e.logf("chown %s: %v", destPath, err)
	}
	if h.FileType != format.TypeSymlink {
		atime := time.Unix(h.Atime, 0)
		mtime := time.Unix(h.Mtime, 0)
		if err := os.Chtimes(destPath, atime, mtime); err != nil {
			e.stats.MetadataErrors++
			e.logf("chtimes %s: %v", destPath, err)
		}
	}
}

func readAtLeast(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// prefixReader replays bytes already consumed from the underlying stream
// (the archive header, read once to discover block_size) before continuing
// with the unread remainder, so frame.Reader can account for them in its
// block-position bookkeeping.
type prefixReader struct {
	b   []byte
	pos int
}

func newPrefixReader(b []byte) *prefixReader { return &prefixReader{b: b} }

func (p *prefixReader) Read(dst []byte) (int, error) {
	if p.pos >= len(p.b) {
		return 0, io.EOF
	}
	n := copy(dst, p.b[p.pos:])
	p.pos += n
	return n, nil
}
