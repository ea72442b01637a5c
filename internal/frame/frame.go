// Package frame implements the block-aligned record framing that underlies
// every reftar record: a writer that pads each record up to the next block
// boundary, a reader that mirrors it, CRC32 over block-padded payloads, and
// little-endian encode/decode helpers for the fixed-width integers and
// length-prefixed strings used by internal/format.
package frame

import (
	"bufio"
	"hash/crc32"
	"io"

	"golang.org/x/xerrors"
)

// MinBlockSize and MaxBlockSize bound the archive-wide block size, per the
// container format's Validation rules.
const (
	MinBlockSize = 512
	MaxBlockSize = 1 << 20
)

// ValidBlockSize reports whether size is an in-range multiple of 512, the
// format's block-size Validation rule.
func ValidBlockSize(size uint32) bool {
	return size >= MinBlockSize && size <= MaxBlockSize && size%512 == 0
}

// Writer writes block-aligned records to an underlying forward-only stream.
// It never seeks: the archive format is a single forward pass with no
// backpatched footer, so position is tracked purely as a running counter.
type Writer struct {
	w         io.Writer
	blockSize uint32
	pos       int64
	zeros     []byte
}

// NewWriter returns a Writer that pads every record written through it to a
// multiple of blockSize.
func NewWriter(w io.Writer, blockSize uint32) *Writer {
	return &Writer{w: w, blockSize: blockSize, zeros: make([]byte, blockSize)}
}

// Pos returns the number of bytes written so far, always a multiple of
// blockSize between calls to WriteRecord.
func (w *Writer) Pos() int64 { return w.pos }

// BlockSize returns the writer's configured block size.
func (w *Writer) BlockSize() uint32 { return w.blockSize }

// WriteRecord writes b verbatim, then zero-pads up to the next block
// boundary. b may itself already be a multiple of the block size (e.g. a
// Data extent payload), in which case no padding is written.
func (w *Writer) WriteRecord(b []byte) error {
	if _, err := w.w.Write(b); err != nil {
		return xerrors.Errorf("write record (%d bytes): %w", len(b), err)
	}
	w.pos += int64(len(b))
	return w.padToBlock()
}

// WritePayload writes an already block-aligned payload (a Data extent's raw
// bytes) without any additional padding, per invariant I2.
func (w *Writer) WritePayload(b []byte) error {
	if int64(len(b))%int64(w.blockSize) != 0 {
		return xerrors.Errorf("payload length %d is not a multiple of block size %d", len(b), w.blockSize)
	}
	if _, err := w.w.Write(b); err != nil {
		return xerrors.Errorf("write payload (%d bytes): %w", len(b), err)
	}
	w.pos += int64(len(b))
	return nil
}

func (w *Writer) padToBlock() error {
	rem := w.pos % int64(w.blockSize)
	if rem == 0 {
		return nil
	}
	pad := int64(w.blockSize) - rem
	if _, err := w.w.Write(w.zeros[:pad]); err != nil {
		return xerrors.Errorf("pad to block boundary: %w", err)
	}
	w.pos += pad
	return nil
}

// Reader reads block-aligned records from an underlying forward-only stream.
type Reader struct {
	r         *bufio.Reader
	blockSize uint32
	pos       int64
}

// NewReader returns a Reader expecting records aligned to blockSize.
func NewReader(r io.Reader, blockSize uint32) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, int(blockSize)), blockSize: blockSize}
}

// Pos returns the number of bytes consumed so far.
func (r *Reader) Pos() int64 { return r.pos }

// BlockSize returns the reader's configured block size.
func (r *Reader) BlockSize() uint32 { return r.blockSize }

// PeekMagic reports whether the next bytes in the stream equal magic,
// without consuming them. It reports io.EOF (unwrapped, for the caller to
// test with errors.Is) only when zero bytes are available at all, the clean
// end-of-archive condition; any other short read is a framing error.
func (r *Reader) PeekMagic(magic []byte) (bool, error) {
	b, err := r.r.Peek(len(magic))
	if err != nil {
		if err == io.EOF && len(b) == 0 {
			return false, io.EOF
		}
		if err == io.EOF || err == bufio.ErrBufferFull {
			// Fewer bytes available than the magic length: this is a
			// truncated trailing record, not clean EOF.
			return false, xerrors.Errorf("short read at block boundary: %w", io.ErrUnexpectedEOF)
		}
		return false, err
	}
	return string(b) == string(magic), nil
}

// ReadExact reads exactly n bytes, the known-length body of a record (e.g. a
// FileHeader's declared header_size, or a Data extent's length_blocks *
// block_size).
func (r *Reader) ReadExact(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, xerrors.Errorf("read %d bytes: %w", n, err)
	}
	r.pos += int64(n)
	return b, nil
}

// SkipToBlockBoundary discards the zero padding between the end of the
// record just read and the next block boundary.
func (r *Reader) SkipToBlockBoundary() error {
	rem := r.pos % int64(r.blockSize)
	if rem == 0 {
		return nil
	}
	pad := int64(r.blockSize) - rem
	n, err := io.CopyN(io.Discard, r.r, pad)
	r.pos += n
	if err != nil {
		return xerrors.Errorf("skip %d bytes of padding: %w", pad, err)
	}
	return nil
}

// CRC32 computes the IEEE CRC32 of b, the dedup/verification key used
// throughout the format. It is not a cryptographic hash: equal CRC32 values
// are treated as equal content by the Creator's dedup table. The Extractor
// recomputes it over each Data payload and compares it with that extent's
// header, and on a Reference's copy fallback recomputes it over the copied
// bytes and compares it with the Reference header's checksum.
func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// PutUint96 encodes v into the low 96 bits of a 12-byte little-endian field,
// the encoding FileHeader.file_size uses to exceed a 32-bit file size
// without the complexity of a full 128-bit type.
func PutUint96(b []byte, v uint64) {
	_ = b[11]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
	b[8] = 0
	b[9] = 0
	b[10] = 0
	b[11] = 0
}

// Uint96 decodes a 12-byte little-endian field written by PutUint96. The top
// 32 bits are required to be zero (file sizes fit in 64 bits in this
// implementation); a non-zero high word is a corrupt-archive condition the
// caller should reject.
func Uint96(b []byte) (v uint64, highNonZero bool) {
	_ = b[11]
	v = uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
	highNonZero = b[8] != 0 || b[9] != 0 || b[10] != 0 || b[11] != 0
	return v, highNonZero
}

// PutString encodes s as a uint32 length prefix followed by its raw bytes
// (no NUL terminator), appending to dst and returning the result.
func PutString(dst []byte, s string) []byte {
	var lenBuf [4]byte
	putUint32(lenBuf[:], uint32(len(s)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, s...)
	return dst
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// GetString decodes a length-prefixed string starting at offset off in b,
// returning the string and the offset of the byte following it. Validation
// accepts any byte sequence (round-tripping, not UTF-8 enforcement) since the
// blob may originate from an xattr or an exotic filesystem encoding;
// production of path/name fields from this implementation is always UTF-8.
func GetString(b []byte, off int) (s string, next int, err error) {
	if off+4 > len(b) {
		return "", 0, xerrors.Errorf("string length prefix overruns header budget")
	}
	n := int(uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24)
	off += 4
	if n < 0 || off+n > len(b) {
		return "", 0, xerrors.Errorf("string of length %d overruns header budget", n)
	}
	return string(b[off : off+n]), off + n, nil
}
