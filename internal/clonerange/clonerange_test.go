package clonerange

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStubAlwaysUnsupported(t *testing.T) {
	dir := t.TempDir()
	src := mustCreate(t, filepath.Join(dir, "src"), 4096)
	dst := mustCreate(t, filepath.Join(dir, "dst"), 4096)
	defer src.Close()
	defer dst.Close()

	res, err := Stub{}.TryCloneRange(src, 0, dst, 0, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if res != Unsupported {
		t.Errorf("res = %v, want Unsupported", res)
	}
}

func TestLinuxTryCloneRangeNeverFatalOnOrdinaryFilesystem(t *testing.T) {
	dir := t.TempDir()
	src := mustCreate(t, filepath.Join(dir, "src"), 4096)
	dst := mustCreate(t, filepath.Join(dir, "dst"), 4096)
	defer src.Close()
	defer dst.Close()

	// Whatever filesystem holds t.TempDir() here, the call must either
	// clone successfully or report Unsupported — it must never be fatal
	// for a well-formed, block-aligned request against two regular,
	// already-sized files.
	res, err := Linux{}.TryCloneRange(src, 0, dst, 0, 4096)
	if err != nil {
		t.Fatalf("TryCloneRange returned a fatal error on valid input: %v", err)
	}
	if res != Cloned && res != Unsupported {
		t.Errorf("res = %v, want Cloned or Unsupported", res)
	}
}

func TestLinuxTryCloneRangeRejectsZeroLength(t *testing.T) {
	dir := t.TempDir()
	src := mustCreate(t, filepath.Join(dir, "src"), 4096)
	dst := mustCreate(t, filepath.Join(dir, "dst"), 4096)
	defer src.Close()
	defer dst.Close()

	if _, err := (Linux{}).TryCloneRange(src, 0, dst, 0, 0); err == nil {
		t.Error("want error for zero-length clone-range, got nil")
	}
}

func mustCreate(t *testing.T, path string, size int64) *os.File {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	return f
}
