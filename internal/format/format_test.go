package format

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestArchiveHeaderRoundTrip(t *testing.T) {
	h := ArchiveHeader{BlockSize: 4096}
	b := h.Encode()
	got, err := DecodeArchiveHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveHeaderRejectsBadBlockSize(t *testing.T) {
	for _, bs := range []uint32{0, 511, 1<<20 + 1, 1000} {
		h := ArchiveHeader{BlockSize: bs}
		if _, err := DecodeArchiveHeader(h.Encode()); err == nil {
			t.Errorf("block size %d: want error, got nil", bs)
		}
	}
}

func TestArchiveHeaderBadMagic(t *testing.T) {
	b := ArchiveHeader{BlockSize: 4096}.Encode()
	b[0] = 'x'
	if _, err := DecodeArchiveHeader(b); err == nil {
		t.Error("want error for corrupted magic, got nil")
	}
}

func TestFileHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		h      FileHeader
		inline []byte
	}{
		{
			name: "directory",
			h: FileHeader{
				FileType:  TypeDirectory,
				Mode:      0755,
				UID:       1000,
				GID:       1000,
				Mtime:     1700000000,
				Username:  "user",
				Groupname: "group",
				Path:      "a/b/c",
				Name:      "c",
				FSType:    "btrfs",
				FSID:      0xdeadbeef,
			},
		},
		{
			name: "symlink",
			h: FileHeader{
				FileType: TypeSymlink,
				Path:     "a/link",
				Name:     "link",
				Linkname: "../target",
				FSType:   "xfs",
			},
		},
		{
			name: "regular with inline and xattrs",
			h: FileHeader{
				FileType:  TypeRegular,
				FileSize:  5,
				Path:      "a/small.txt",
				Name:      "small.txt",
				XattrBlob: []byte("user.comment\x00hello"),
				FSType:    "ext4",
			},
			inline: []byte("hello"),
		},
		{
			name: "empty strings and unicode name",
			h: FileHeader{
				FileType: TypeRegular,
				FileSize: 0,
				Name:     "héllo wörld",
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.h.Encode(tc.inline)
			if err != nil {
				t.Fatal(err)
			}
			gotH, gotInline, err := DecodeFileHeader(b)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.h, gotH); diff != "" {
				t.Errorf("header round trip mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.inline, gotInline); diff != "" {
				t.Errorf("inline round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileHeaderRejectsUnknownType(t *testing.T) {
	h := FileHeader{FileType: 'z'}
	if _, err := h.Encode(nil); err == nil {
		t.Error("want error for unknown file_type, got nil")
	}
}

func TestDecodeFileHeaderRejectsBadHeaderSize(t *testing.T) {
	h := FileHeader{FileType: TypeDirectory}
	b, err := h.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	b = append(b, 0, 0, 0, 0) // header_size no longer matches len(b)
	if _, _, err := DecodeFileHeader(b); err == nil {
		t.Error("want error for mismatched header_size, got nil")
	}
}

func TestExtentHeaderRoundTrip(t *testing.T) {
	tests := []ExtentHeader{
		{ExtentID: 1, LengthBlocks: 4, ExtentType: ExtentData, SourceExtentStart: 0, Checksum: 0x12345678},
		{ExtentID: 7, LengthBlocks: 12, ExtentType: ExtentSparse, SourceExtentStart: 4096, Checksum: 0},
		{ExtentID: 1, LengthBlocks: 4, ExtentType: ExtentReference, SourceExtentStart: 8192, Checksum: 0x12345678},
		{ExtentID: 0, LengthBlocks: 0, ExtentType: ExtentData, Checksum: 0}, // zero-length extent is legal
	}
	for _, want := range tests {
		b, err := want.Encode()
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeExtentHeader(b)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestExtentHeaderRejectsUnknownType(t *testing.T) {
	h := ExtentHeader{ExtentType: 'x'}
	if _, err := h.Encode(); err == nil {
		t.Error("want error for unknown extent_type, got nil")
	}
}

func TestExtentHeaderRejectsWrongSize(t *testing.T) {
	if _, err := DecodeExtentHeader(make([]byte, ExtentHeaderSize-1)); err == nil {
		t.Error("want error for short extent header, got nil")
	}
}
