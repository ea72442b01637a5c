package format

import "golang.org/x/xerrors"

// ExtentType enumerates the extent_type byte values spec §3 defines.
type ExtentType byte

const (
	ExtentData      ExtentType = 'D'
	ExtentSparse    ExtentType = 'S'
	ExtentReference ExtentType = 'R'
)

func (t ExtentType) Valid() bool {
	switch t {
	case ExtentData, ExtentSparse, ExtentReference:
		return true
	default:
		return false
	}
}

// ExtentHeaderSize is the fixed, magic-less size of an ExtentHeader record
// before block padding: extent_id(8) + length_blocks(4) + extent_type(1) +
// source_extent_start(8) + checksum(4).
const ExtentHeaderSize = 8 + 4 + 1 + 8 + 4

// ExtentHeader is the per-extent record of spec §3. Unlike FileHeader it
// carries no magic: the Extractor knows to expect one from the file's
// remaining logical byte count, not from a sentinel in the stream.
type ExtentHeader struct {
	ExtentID          uint64
	LengthBlocks      uint32
	ExtentType        ExtentType
	SourceExtentStart uint64
	Checksum          uint32
}

// Encode serializes h to its fixed 25-byte form. The caller is responsible
// for block-padding and, for ExtentData, appending the payload.
func (h ExtentHeader) Encode() ([]byte, error) {
	if !h.ExtentType.Valid() {
		return nil, xerrors.Errorf("invalid extent_type %q", byte(h.ExtentType))
	}
	b := make([]byte, 0, ExtentHeaderSize)
	b = appendUint64(b, h.ExtentID)
	var lb [4]byte
	putUint32(lb[:], h.LengthBlocks)
	b = append(b, lb[:]...)
	b = append(b, byte(h.ExtentType))
	b = appendUint64(b, h.SourceExtentStart)
	var cs [4]byte
	putUint32(cs[:], h.Checksum)
	b = append(b, cs[:]...)
	return b, nil
}

// DecodeExtentHeader parses exactly ExtentHeaderSize bytes.
func DecodeExtentHeader(b []byte) (ExtentHeader, error) {
	if len(b) != ExtentHeaderSize {
		return ExtentHeader{}, xerrors.Errorf("extent header is %d bytes, want %d", len(b), ExtentHeaderSize)
	}
	off := 0
	id := getUint64(b, off)
	off += 8
	lengthBlocks := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
	off += 4
	typ := ExtentType(b[off])
	off++
	if !typ.Valid() {
		return ExtentHeader{}, xerrors.Errorf("unknown extent_type %q", byte(typ))
	}
	start := getUint64(b, off)
	off += 8
	checksum := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24

	return ExtentHeader{
		ExtentID:          id,
		LengthBlocks:      lengthBlocks,
		ExtentType:        typ,
		SourceExtentStart: start,
		Checksum:          checksum,
	}, nil
}
