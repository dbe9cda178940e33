package storage

import (
	"path"
	"strings"
)

// VirtualPath is the directory part of a storage key split into segments.
// It is nil for root-level objects.
type VirtualPath []string

// IsDirMarker reports whether key denotes a directory placeholder
func IsDirMarker(key string) bool {
	return strings.HasSuffix(key, "/")
}

// VirtualPathFromKey returns the non-empty directory segments of key
func VirtualPathFromKey(key string) VirtualPath {
	dir, _ := SplitKey(key)
	return ParseVirtualPath(dir)
}

// ParseVirtualPath splits a slash-separated path, dropping empty segments
func ParseVirtualPath(s string) VirtualPath {
	var vp VirtualPath
	for _, seg := range strings.Split(s, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			vp = append(vp, seg)
		}
	}
	return vp
}

// String joins the segments back into a path
func (vp VirtualPath) String() string {
	return strings.Join(vp, "/")
}

// SplitKey splits key into its directory and file name. The directory has
// no trailing slash and is empty for root-level keys.
func SplitKey(key string) (dir, file string) {
	key = strings.TrimLeft(key, "/")
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}

// JoinKey joins a directory and file name, omitting an empty directory
func JoinKey(dir, file string) string {
	if dir == "" {
		return file
	}
	return path.Join(dir, file)
}

// Ext returns the lower-cased file extension without the dot
func Ext(key string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
}

// Stem returns the file name without directory or extension
func Stem(key string) string {
	_, file := SplitKey(key)
	return strings.TrimSuffix(file, path.Ext(file))
}
