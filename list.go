package reftar

import (
	"bytes"
	"io"

	"github.com/hardwarebob/reftar/internal/format"
	"github.com/hardwarebob/reftar/internal/frame"
	"github.com/hardwarebob/reftar/internal/rerr"
)

// Info parses just the archive header, without scanning any entries.
func Info(archiveIn io.Reader) (ArchiveInfo, error) {
	b := make([]byte, 12)
	if _, err := io.ReadFull(archiveIn, b); err != nil {
		return ArchiveInfo{}, rerr.Newf(rerr.CorruptArchive, "", "read archive header: %w", err)
	}
	ah, err := format.DecodeArchiveHeader(b)
	if err != nil {
		return ArchiveInfo{}, rerr.Newf(rerr.CorruptArchive, "", "decode archive header: %w", err)
	}
	return ArchiveInfo{Version: format.Version, BlockSize: ah.BlockSize}, nil
}

// List returns a pull iterator over archiveIn's entries, in archive order.
// Each call to iter returns either the next Entry (ok=true), end of archive
// (ok=false, err=nil), or a parse error. Extent payloads are skipped without
// being materialized; List never writes anything to disk.
func List(archiveIn io.Reader) (iter func() (Entry, bool, error)) {
	var fr *frame.Reader
	var blockSize uint32
	var initErr error

	init := func() bool {
		b := make([]byte, 12)
		if _, err := io.ReadFull(archiveIn, b); err != nil {
			initErr = rerr.Newf(rerr.CorruptArchive, "", "read archive header: %w", err)
			return false
		}
		ah, err := format.DecodeArchiveHeader(b)
		if err != nil {
			initErr = rerr.Newf(rerr.CorruptArchive, "", "decode archive header: %w", err)
			return false
		}
		blockSize = ah.BlockSize
		fr = frame.NewReader(io.MultiReader(bytes.NewReader(b), archiveIn), blockSize)
		if _, err := fr.ReadExact(len(b)); err != nil {
			initErr = rerr.Newf(rerr.CorruptArchive, "", "re-read archive header: %w", err)
			return false
		}
		if err := fr.SkipToBlockBoundary(); err != nil {
			initErr = rerr.Newf(rerr.CorruptArchive, "", "align past archive header: %w", err)
			return false
		}
		return true
	}
	initialized := false

	return func() (Entry, bool, error) {
		if initErr != nil {
			return Entry{}, false, initErr
		}
		if !initialized {
			initialized = true
			if !init() {
				return Entry{}, false, initErr
			}
		}

		ok, err := fr.PeekMagic(format.FileMagic[:])
		if err == io.EOF {
			return Entry{}, false, nil
		}
		if err != nil {
			return Entry{}, false, rerr.Newf(rerr.CorruptArchive, "", "peek next record: %w", err)
		}
		if !ok {
			return Entry{}, false, rerr.Newf(rerr.CorruptArchive, "", "expected FILE magic at block boundary")
		}

		entry, err := readOneEntry(fr, blockSize)
		if err != nil {
			return Entry{}, false, err
		}
		return entry, true, nil
	}
}

func readOneEntry(fr *frame.Reader, blockSize uint32) (Entry, error) {
	prefix, err := fr.ReadExact(8)
	if err != nil {
		return Entry{}, rerr.Newf(rerr.CorruptArchive, "", "read file header prefix: %w", err)
	}
	headerSize := int(prefix[4]) | int(prefix[5])<<8 | int(prefix[6])<<16 | int(prefix[7])<<24
	if headerSize < 8 {
		return Entry{}, rerr.Newf(rerr.CorruptArchive, "", "file header_size %d too small", headerSize)
	}
	rest, err := fr.ReadExact(headerSize - 8)
	if err != nil {
		return Entry{}, rerr.Newf(rerr.CorruptArchive, "", "read file header body: %w", err)
	}
	h, inline, err := format.DecodeFileHeader(append(prefix, rest...))
	if err != nil {
		return Entry{}, rerr.Newf(rerr.CorruptArchive, "", "decode file header: %w", err)
	}
	if err := fr.SkipToBlockBoundary(); err != nil {
		return Entry{}, rerr.Newf(rerr.CorruptArchive, h.Path, "align past file header: %w", err)
	}

	entry := Entry{
		Path:      h.Path,
		Name:      h.Name,
		FileType:  byte(h.FileType),
		FileSize:  h.FileSize,
		Mode:      h.Mode,
		UID:       h.UID,
		GID:       h.GID,
		Username:  h.Username,
		Groupname: h.Groupname,
		Linkname:  h.Linkname,
		Atime:     h.Atime,
		Mtime:     h.Mtime,
		Ctime:     h.Ctime,
		FSType:    h.FSType,
		FSID:      h.FSID,
	}

	if h.FileType != format.TypeRegular || uint64(len(inline)) == h.FileSize {
		return entry, nil
	}

	remainingBlocks := (h.FileSize + uint64(blockSize) - 1) / uint64(blockSize)
	for remainingBlocks > 0 {
		raw, err := fr.ReadExact(format.ExtentHeaderSize)
		if err != nil {
			return Entry{}, rerr.Newf(rerr.CorruptArchive, h.Path, "read extent header: %w", err)
		}
		eh, err := format.DecodeExtentHeader(raw)
		if err != nil {
			return Entry{}, rerr.Newf(rerr.CorruptArchive, h.Path, "decode extent header: %w", err)
		}
		if err := fr.SkipToBlockBoundary(); err != nil {
			return Entry{}, rerr.Newf(rerr.CorruptArchive, h.Path, "align past extent header: %w", err)
		}
		switch eh.ExtentType {
		case format.ExtentData:
			if _, err := fr.ReadExact(int(eh.LengthBlocks) * int(blockSize)); err != nil {
				return Entry{}, rerr.Newf(rerr.CorruptArchive, h.Path, "skip data extent payload: %w", err)
			}
			entry.DataExtents++
		case format.ExtentSparse:
			entry.SparseExtents++
		case format.ExtentReference:
			entry.ReferenceExtents++
			entry.ReferenceSources = append(entry.ReferenceSources, eh.SourceExtentStart)
		}
		remainingBlocks -= uint64(eh.LengthBlocks)
	}
	return entry, nil
}
