package creator

import (
	"golang.org/x/sys/unix"
)

// encodeXattrBlob concatenates name/value pairs into the opaque blob that
// FileHeader.xattr_blob carries: a sequence of (uint32 namelen, name bytes,
// uint32 vallen, value bytes) tuples. The format never interprets this blob
// beyond round-tripping it; this encoding is purely an implementation detail
// private to the Creator/Extractor pair.
func encodeXattrBlob(names []string, values [][]byte) []byte {
	var b []byte
	for i, name := range names {
		b = appendLenPrefixed(b, []byte(name))
		b = appendLenPrefixed(b, values[i])
	}
	return b
}

func appendLenPrefixed(dst, b []byte) []byte {
	var l [4]byte
	n := uint32(len(b))
	l[0] = byte(n)
	l[1] = byte(n >> 8)
	l[2] = byte(n >> 16)
	l[3] = byte(n >> 24)
	dst = append(dst, l[:]...)
	dst = append(dst, b...)
	return dst
}

// collectXattrs gathers the extended attributes of path (without following a
// final symlink) into the blob encoding above. Missing xattr support
// (ENOTSUP/ENOSYS/EPERM) is not an error: the blob is simply empty, matching
// the spec's treatment of xattrs as best-effort opaque metadata.
func collectXattrs(path string) []byte {
	size, err := unix.Llistxattr(path, nil)
	if err != nil || size <= 0 {
		return nil
	}
	namesBuf := make([]byte, size)
	n, err := unix.Llistxattr(path, namesBuf)
	if err != nil || n <= 0 {
		return nil
	}
	var names []string
	for _, raw := range splitNUL(namesBuf[:n]) {
		if raw != "" {
			names = append(names, raw)
		}
	}
	if len(names) == 0 {
		return nil
	}
	values := make([][]byte, len(names))
	for i, name := range names {
		vsz, err := unix.Lgetxattr(path, name, nil)
		if err != nil || vsz <= 0 {
			continue
		}
		v := make([]byte, vsz)
		n, err := unix.Lgetxattr(path, name, v)
		if err != nil {
			continue
		}
		values[i] = v[:n]
	}
	return encodeXattrBlob(names, values)
}

func splitNUL(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == 0 {
			out = append(out, string(b[start:i]))
			start = i + 1
		}
	}
	return out
}
