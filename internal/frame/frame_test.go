package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestWriterPadsToBlockBoundary(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 16)
	if err := w.WriteRecord([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 16 {
		t.Fatalf("buf.Len() = %d, want 16", buf.Len())
	}
	if w.Pos()%16 != 0 {
		t.Fatalf("Pos() = %d, not block aligned", w.Pos())
	}
	if got := buf.Bytes()[5:]; !bytes.Equal(got, make([]byte, 11)) {
		t.Errorf("padding not zero: %x", got)
	}
}

func TestWriterNoPaddingWhenAlreadyAligned(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 4)
	if err := w.WriteRecord([]byte("abcd")); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 4 {
		t.Fatalf("buf.Len() = %d, want 4", buf.Len())
	}
}

func TestWritePayloadRejectsUnalignedLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 16)
	if err := w.WritePayload(make([]byte, 17)); err == nil {
		t.Error("want error for unaligned payload, got nil")
	}
}

func TestReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 16)
	if err := w.WriteRecord([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord([]byte("world!!")); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf, 16)
	ok, err := r.PeekMagic([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected to peek \"hello\"")
	}
	got, err := r.ReadExact(5)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
	if err := r.SkipToBlockBoundary(); err != nil {
		t.Fatal(err)
	}
	if r.Pos() != 16 {
		t.Fatalf("Pos() = %d, want 16", r.Pos())
	}

	got, err = r.ReadExact(7)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "world!!" {
		t.Fatalf("got %q, want world!!", got)
	}
	if err := r.SkipToBlockBoundary(); err != nil {
		t.Fatal(err)
	}
	if r.Pos() != 32 {
		t.Fatalf("Pos() = %d, want 32", r.Pos())
	}
}

func TestPeekMagicCleanEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), 16)
	_, err := r.PeekMagic([]byte("FILE"))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestPeekMagicTruncatedIsNotCleanEOF(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("FI")), 16)
	_, err := r.PeekMagic([]byte("FILE"))
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want a non-EOF framing error", err)
	}
}

func TestCRC32DetectsBitFlip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 64)
	want := CRC32(payload)
	payload[30] ^= 0x01
	if got := CRC32(payload); got == want {
		t.Error("CRC32 did not change after bit flip")
	}
}

func TestUint96RoundTrip(t *testing.T) {
	var b [12]byte
	PutUint96(b[:], 1<<40+12345)
	v, highNonZero := Uint96(b[:])
	if highNonZero {
		t.Error("highNonZero = true, want false")
	}
	if v != 1<<40+12345 {
		t.Fatalf("v = %d, want %d", v, 1<<40+12345)
	}
}

func TestStringRoundTrip(t *testing.T) {
	b := PutString(nil, "hello")
	b = PutString(b, "")
	b = PutString(b, "wörld")

	s, off, err := GetString(b, 0)
	if err != nil || s != "hello" {
		t.Fatalf("GetString #1 = %q, %v", s, err)
	}
	s, off, err = GetString(b, off)
	if err != nil || s != "" {
		t.Fatalf("GetString #2 = %q, %v", s, err)
	}
	s, _, err = GetString(b, off)
	if err != nil || s != "wörld" {
		t.Fatalf("GetString #3 = %q, %v", s, err)
	}
}

func TestGetStringRejectsOverrun(t *testing.T) {
	b := PutString(nil, "hi")
	b[0] = 0xff // inflate the length prefix past the buffer
	b[1] = 0xff
	if _, _, err := GetString(b, 0); err == nil {
		t.Error("want error for overrunning length prefix, got nil")
	}
}

func TestValidBlockSize(t *testing.T) {
	cases := []struct {
		size uint32
		want bool
	}{
		{511, false},
		{512, true},
		{4096, true},
		{1 << 20, true},
		{1<<20 + 512, false},
		{513, false},
	}
	for _, tc := range cases {
		if got := ValidBlockSize(tc.size); got != tc.want {
			t.Errorf("ValidBlockSize(%d) = %v, want %v", tc.size, got, tc.want)
		}
	}
}
