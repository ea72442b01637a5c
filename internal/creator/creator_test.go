package creator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hardwarebob/reftar/internal/format"
	"github.com/hardwarebob/reftar/internal/frame"
)

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateRejectsInvalidBlockSize(t *testing.T) {
	c := New(Options{BlockSize: 100})
	var buf bytes.Buffer
	if _, err := c.Create(context.Background(), &buf, nil); err == nil {
		t.Error("want error for invalid block size, got nil")
	}
}

func TestCreateEmptyInputsYieldsOnlyArchiveHeader(t *testing.T) {
	c := New(Options{BlockSize: 512})
	var buf bytes.Buffer
	stats, err := c.Create(context.Background(), &buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 0 {
		t.Errorf("Files = %d, want 0", stats.Files)
	}
	if buf.Len() != 512 {
		t.Fatalf("archive is %d bytes, want exactly one block", buf.Len())
	}
}

func TestCreateInlineSmallFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "small.txt")
	mustWriteFile(t, p, []byte("hello world"))

	c := New(Options{BlockSize: 4096})
	var buf bytes.Buffer
	stats, err := c.Create(context.Background(), &buf, []string{p})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 1 || stats.DataExtents != 0 {
		t.Fatalf("stats = %+v, want 1 file, 0 data extents", stats)
	}
	if buf.Len()%4096 != 0 {
		t.Fatalf("archive length %d is not block aligned", buf.Len())
	}
}

func TestCreateDedupsIdenticalFiles(t *testing.T) {
	dir := t.TempDir()
	var content []byte
	for _, v := range []byte{0x7a, 0x7b, 0x7c} {
		content = append(content, bytes.Repeat([]byte{v}, 4096)...)
	}
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	mustWriteFile(t, a, content)
	mustWriteFile(t, b, content)

	c := New(Options{BlockSize: 4096})
	var buf bytes.Buffer
	stats, err := c.Create(context.Background(), &buf, []string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 2 {
		t.Fatalf("Files = %d, want 2", stats.Files)
	}
	// 3 unique blocks from a, then 3 references from b.
	if stats.DataExtents != 3 {
		t.Errorf("DataExtents = %d, want 3", stats.DataExtents)
	}
	if stats.ReferenceExtents != 3 {
		t.Errorf("ReferenceExtents = %d, want 3", stats.ReferenceExtents)
	}
}

func TestCreateDedupsWithinOneFile(t *testing.T) {
	dir := t.TempDir()
	block := bytes.Repeat([]byte{0x11}, 4096)
	var content []byte
	content = append(content, block...)
	content = append(content, bytes.Repeat([]byte{0x22}, 4096)...)
	content = append(content, block...) // repeats the first block
	p := filepath.Join(dir, "repeat.bin")
	mustWriteFile(t, p, content)

	c := New(Options{BlockSize: 4096})
	var buf bytes.Buffer
	stats, err := c.Create(context.Background(), &buf, []string{p})
	if err != nil {
		t.Fatal(err)
	}
	if stats.DataExtents != 2 {
		t.Errorf("DataExtents = %d, want 2", stats.DataExtents)
	}
	if stats.ReferenceExtents != 1 {
		t.Errorf("ReferenceExtents = %d, want 1", stats.ReferenceExtents)
	}
}

func TestCreateDetectsSparseZeroBlocks(t *testing.T) {
	dir := t.TempDir()
	var content []byte
	content = append(content, bytes.Repeat([]byte{0x33}, 4096)...)
	content = append(content, make([]byte, 4*4096)...) // zero blocks
	content = append(content, bytes.Repeat([]byte{0x44}, 4096)...)
	p := filepath.Join(dir, "sparse.bin")
	mustWriteFile(t, p, content)

	c := New(Options{BlockSize: 4096, SparsePolicy: SparsePolicyZero})
	var buf bytes.Buffer
	stats, err := c.Create(context.Background(), &buf, []string{p})
	if err != nil {
		t.Fatal(err)
	}
	if stats.SparseExtents != 1 {
		t.Errorf("SparseExtents = %d, want 1 (coalesced)", stats.SparseExtents)
	}
	if stats.DataExtents != 2 {
		t.Errorf("DataExtents = %d, want 2", stats.DataExtents)
	}
}

func TestCreateDetectsHardlinks(t *testing.T) {
	dir := t.TempDir()
	content := append(bytes.Repeat([]byte{0x55}, 4096), bytes.Repeat([]byte{0x56}, 4096)...)
	a := filepath.Join(dir, "a.bin")
	mustWriteFile(t, a, content)
	b := filepath.Join(dir, "b.bin")
	if err := os.Link(a, b); err != nil {
		t.Skipf("hardlinks unsupported on this filesystem: %v", err)
	}

	c := New(Options{BlockSize: 4096})
	var buf bytes.Buffer
	stats, err := c.Create(context.Background(), &buf, []string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if stats.HardlinksDetected != 1 {
		t.Errorf("HardlinksDetected = %d, want 1", stats.HardlinksDetected)
	}
	// The hardlink entry carries no extents of its own.
	if stats.DataExtents != 2 {
		t.Errorf("DataExtents = %d, want 2 (only from the first path)", stats.DataExtents)
	}
}

func TestCreateNestedDirectoryTree(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	mustWriteFile(t, filepath.Join(nested, "deep.txt"), []byte("fourteen bytes"))

	c := New(Options{BlockSize: 4096})
	var buf bytes.Buffer
	stats, err := c.Create(context.Background(), &buf, []string{dir})
	if err != nil {
		t.Fatal(err)
	}
	// dir itself, a, a/b, a/b/c, a/b/c/deep.txt
	if stats.Files != 5 {
		t.Errorf("Files = %d, want 5", stats.Files)
	}
}

func TestCreateStreamEndsBlockAligned(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "f"), bytes.Repeat([]byte{1}, 10000))

	c := New(Options{BlockSize: 4096})
	var buf bytes.Buffer
	if _, err := c.Create(context.Background(), &buf, []string{filepath.Join(dir, "f")}); err != nil {
		t.Fatal(err)
	}
	if buf.Len()%4096 != 0 {
		t.Fatalf("archive length %d not block aligned", buf.Len())
	}
}

func TestCreateSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	mustWriteFile(t, target, []byte("x"))
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	c := New(Options{BlockSize: 4096})
	var buf bytes.Buffer
	if _, err := c.Create(context.Background(), &buf, []string{link}); err != nil {
		t.Fatal(err)
	}

	r := frame.NewReader(&buf, 4096)
	if _, err := r.ReadExact(12); err != nil { // archive header
		t.Fatal(err)
	}
	if err := r.SkipToBlockBoundary(); err != nil {
		t.Fatal(err)
	}
	hdrPrefix, err := r.ReadExact(8)
	if err != nil {
		t.Fatal(err)
	}
	headerSize := int(hdrPrefix[4]) | int(hdrPrefix[5])<<8 | int(hdrPrefix[6])<<16 | int(hdrPrefix[7])<<24
	rest, err := r.ReadExact(headerSize - 8)
	if err != nil {
		t.Fatal(err)
	}
	fh, _, err := format.DecodeFileHeader(append(hdrPrefix, rest...))
	if err != nil {
		t.Fatal(err)
	}
	if fh.FileType != format.TypeSymlink {
		t.Errorf("FileType = %v, want symlink", fh.FileType)
	}
	if fh.Linkname != target {
		t.Errorf("Linkname = %q, want %q", fh.Linkname, target)
	}
}
