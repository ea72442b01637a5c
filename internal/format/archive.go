// Package format implements the pure data-carrier records of the reftar
// container format — ArchiveHeader, FileHeader, ExtentHeader — and their
// encoders/decoders. It contains no I/O logic of its own; internal/frame
// supplies block alignment and internal/creator and internal/extractor drive
// the stream.
package format

import (
	"golang.org/x/xerrors"

	"github.com/hardwarebob/reftar/internal/frame"
)

// Magic is the fixed 6-byte ASCII magic that opens every archive.
var Magic = [6]byte{'r', 'e', 'f', 't', 'a', 'r'}

// Version is the only archive format version this implementation produces
// or accepts.
const Version = 1

// ArchiveHeader is the one-per-archive record described in spec §3. Its
// encoded form is always padded by the caller to exactly one block.
type ArchiveHeader struct {
	BlockSize uint32
}

// Encode returns the ArchiveHeader's fixed 12-byte prefix (magic, version,
// block_size); the caller pads the remainder of the block with zeros.
func (h ArchiveHeader) Encode() []byte {
	b := make([]byte, 0, 12)
	b = append(b, Magic[:]...)
	b = append(b, byte(Version), byte(Version>>8))
	var bs [4]byte
	bs[0] = byte(h.BlockSize)
	bs[1] = byte(h.BlockSize >> 8)
	bs[2] = byte(h.BlockSize >> 16)
	bs[3] = byte(h.BlockSize >> 24)
	b = append(b, bs[:]...)
	return b
}

// DecodeArchiveHeader validates and decodes the fixed prefix of an
// ArchiveHeader record. b must contain at least the 12-byte prefix.
func DecodeArchiveHeader(b []byte) (ArchiveHeader, error) {
	if len(b) < 12 {
		return ArchiveHeader{}, xerrors.Errorf("archive header too short (%d bytes)", len(b))
	}
	if string(b[:6]) != string(Magic[:]) {
		return ArchiveHeader{}, xerrors.Errorf("bad archive magic %q", b[:6])
	}
	version := uint16(b[6]) | uint16(b[7])<<8
	if version != Version {
		return ArchiveHeader{}, xerrors.Errorf("unsupported archive version %d", version)
	}
	blockSize := uint32(b[8]) | uint32(b[9])<<8 | uint32(b[10])<<16 | uint32(b[11])<<24
	if !frame.ValidBlockSize(blockSize) {
		return ArchiveHeader{}, xerrors.Errorf("block size %d out of range [%d, %d]", blockSize, frame.MinBlockSize, frame.MaxBlockSize)
	}
	return ArchiveHeader{BlockSize: blockSize}, nil
}
