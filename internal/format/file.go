package format

import (
	"golang.org/x/xerrors"

	"github.com/hardwarebob/reftar/internal/frame"
)

// FileMagic is the fixed 4-byte ASCII magic that opens every FileHeader
// record. Its absence at a block boundary, with a clean read of zero bytes,
// marks end-of-archive.
var FileMagic = [4]byte{'F', 'I', 'L', 'E'}

// FileType enumerates the file_type byte values spec §3 defines.
type FileType byte

const (
	TypeRegular   FileType = '0'
	TypeHardlink  FileType = '1'
	TypeSymlink   FileType = '2'
	TypeChardev   FileType = '3'
	TypeBlockdev  FileType = '4'
	TypeDirectory FileType = '5'
	TypeFifo      FileType = '6'
)

func (t FileType) Valid() bool {
	switch t {
	case TypeRegular, TypeHardlink, TypeSymlink, TypeChardev, TypeBlockdev, TypeDirectory, TypeFifo:
		return true
	default:
		return false
	}
}

// fsTypeFieldSize is the fixed, NUL-padded width of FileHeader.fs_type.
const fsTypeFieldSize = 128

// minFileHeaderSize is magic + header_size + file_size + file_type + mode +
// uid + gid + dev_major + dev_minor + atime + mtime + ctime + six empty
// string length prefixes + fs_type + fs_id: the smallest a FileHeader can be.
const minFileHeaderSize = 4 + 4 + 12 + 1 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 6*4 + fsTypeFieldSize + 8

// FileHeader is the per-entry metadata record of spec §3. Mode carries the
// raw permission bits (and, for devices/fifos, the format bits) a platform
// stat call reports; the container format has no separate notion of them
// beyond this field.
type FileHeader struct {
	FileSize  uint64
	FileType  FileType
	Mode      uint32
	UID, GID  uint64
	DevMajor  uint64
	DevMinor  uint64
	Atime     int64
	Mtime     int64
	Ctime     int64
	Username  string
	Groupname string
	Path      string
	Name      string
	Linkname  string
	XattrBlob []byte
	FSType    string
	FSID      uint64
}

// Encode serializes h followed by inline (which must be non-empty only when
// h.FileType == TypeRegular and h.FileSize < blockSize, per invariant I6),
// filling in header_size to equal the exact byte count produced, excluding
// any trailing block padding the caller adds.
func (h FileHeader) Encode(inline []byte) ([]byte, error) {
	if len(h.FSType) > fsTypeFieldSize {
		return nil, xerrors.Errorf("fs_type %q exceeds %d bytes", h.FSType, fsTypeFieldSize)
	}
	if !h.FileType.Valid() {
		return nil, xerrors.Errorf("invalid file_type %q", byte(h.FileType))
	}

	b := make([]byte, 8, minFileHeaderSize+len(h.Username)+len(h.Groupname)+len(h.Path)+len(h.Name)+len(h.Linkname)+len(h.XattrBlob)+len(inline))
	copy(b[:4], FileMagic[:])
	// header_size placeholder at b[4:8], filled in below.

	var fsz [12]byte
	frame.PutUint96(fsz[:], h.FileSize)
	b = append(b, fsz[:]...)
	b = append(b, byte(h.FileType))
	var mode [4]byte
	putUint32(mode[:], h.Mode)
	b = append(b, mode[:]...)
	b = appendUint64(b, h.UID)
	b = appendUint64(b, h.GID)
	b = appendUint64(b, h.DevMajor)
	b = appendUint64(b, h.DevMinor)
	b = appendUint64(b, uint64(h.Atime))
	b = appendUint64(b, uint64(h.Mtime))
	b = appendUint64(b, uint64(h.Ctime))

	b = frame.PutString(b, h.Username)
	b = frame.PutString(b, h.Groupname)
	b = frame.PutString(b, h.Path)
	b = frame.PutString(b, h.Name)
	b = frame.PutString(b, h.Linkname)
	b = frame.PutString(b, string(h.XattrBlob))

	var fsType [fsTypeFieldSize]byte
	copy(fsType[:], h.FSType)
	b = append(b, fsType[:]...)
	b = appendUint64(b, h.FSID)

	b = append(b, inline...)

	putUint32(b[4:8], uint32(len(b)))
	return b, nil
}

// DecodeFileHeader parses a complete FileHeader record (exactly header_size
// bytes, as read from the stream using the header_size field peeked from
// bytes [4:8]) and returns the header plus any trailing inline payload.
func DecodeFileHeader(b []byte) (FileHeader, []byte, error) {
	if len(b) < minFileHeaderSize {
		return FileHeader{}, nil, xerrors.Errorf("file header too short (%d bytes, need >= %d)", len(b), minFileHeaderSize)
	}
	if string(b[:4]) != string(FileMagic[:]) {
		return FileHeader{}, nil, xerrors.Errorf("bad file magic %q", b[:4])
	}
	headerSize := uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
	if int(headerSize) != len(b) {
		return FileHeader{}, nil, xerrors.Errorf("header_size %d does not match %d bytes read", headerSize, len(b))
	}

	off := 8
	fileSize, highNonZero := frame.Uint96(b[off : off+12])
	if highNonZero {
		return FileHeader{}, nil, xerrors.Errorf("file_size exceeds 64 bits")
	}
	off += 12

	ft := FileType(b[off])
	off++
	if !ft.Valid() {
		return FileHeader{}, nil, xerrors.Errorf("unknown file_type %q", byte(ft))
	}

	mode := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
	off += 4

	uid := getUint64(b, off)
	off += 8
	gid := getUint64(b, off)
	off += 8
	devMajor := getUint64(b, off)
	off += 8
	devMinor := getUint64(b, off)
	off += 8
	atime := int64(getUint64(b, off))
	off += 8
	mtime := int64(getUint64(b, off))
	off += 8
	ctime := int64(getUint64(b, off))
	off += 8

	var (
		username, groupname, path, name, linkname, xattrBlob string
		err                                                  error
	)
	username, off, err = frame.GetString(b, off)
	if err != nil {
		return FileHeader{}, nil, xerrors.Errorf("username: %w", err)
	}
	groupname, off, err = frame.GetString(b, off)
	if err != nil {
		return FileHeader{}, nil, xerrors.Errorf("groupname: %w", err)
	}
	path, off, err = frame.GetString(b, off)
	if err != nil {
		return FileHeader{}, nil, xerrors.Errorf("path: %w", err)
	}
	name, off, err = frame.GetString(b, off)
	if err != nil {
		return FileHeader{}, nil, xerrors.Errorf("name: %w", err)
	}
	linkname, off, err = frame.GetString(b, off)
	if err != nil {
		return FileHeader{}, nil, xerrors.Errorf("linkname: %w", err)
	}
	xattrBlob, off, err = frame.GetString(b, off)
	if err != nil {
		return FileHeader{}, nil, xerrors.Errorf("xattr_blob: %w", err)
	}

	if off+fsTypeFieldSize+8 > len(b) {
		return FileHeader{}, nil, xerrors.Errorf("fs_type/fs_id overrun header budget")
	}
	fsType := trimNUL(b[off : off+fsTypeFieldSize])
	off += fsTypeFieldSize
	fsID := getUint64(b, off)
	off += 8

	inline := b[off:]
	if len(inline) == 0 {
		inline = nil
	}
	var blob []byte
	if len(xattrBlob) > 0 {
		blob = []byte(xattrBlob)
	}

	h := FileHeader{
		FileSize:  fileSize,
		FileType:  ft,
		Mode:      mode,
		UID:       uid,
		GID:       gid,
		DevMajor:  devMajor,
		DevMinor:  devMinor,
		Atime:     atime,
		Mtime:     mtime,
		Ctime:     ctime,
		Username:  username,
		Groupname: groupname,
		Path:      path,
		Name:      name,
		Linkname:  linkname,
		XattrBlob: blob,
		FSType:    fsType,
		FSID:      fsID,
	}

	// Whether inline is actually legal for h (TypeRegular and FileSize <
	// block_size) depends on the archive's block size, which this function
	// does not know. The caller (internal/extractor) rejects a regular-file
	// inline payload that does not hold the whole file, so inline data and
	// extents never both apply (invariant I6).
	return h, inline, nil
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	tmp[0] = byte(v)
	tmp[1] = byte(v >> 8)
	tmp[2] = byte(v >> 16)
	tmp[3] = byte(v >> 24)
	tmp[4] = byte(v >> 32)
	tmp[5] = byte(v >> 40)
	tmp[6] = byte(v >> 48)
	tmp[7] = byte(v >> 56)
	return append(b, tmp[:]...)
}

func getUint64(b []byte, off int) uint64 {
	_ = b[off+7]
	return uint64(b[off]) | uint64(b[off+1])<<8 | uint64(b[off+2])<<16 | uint64(b[off+3])<<24 |
		uint64(b[off+4])<<32 | uint64(b[off+5])<<40 | uint64(b[off+6])<<48 | uint64(b[off+7])<<56
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
