package responsive

import (
	"os"
	"path/filepath"
	"strings"
)

// PathResolver maps an image reference found in markup to a readable file.
type PathResolver interface {
	Resolve(ref string) (path string, ok bool)
}

// ResolverFunc adapts a function to PathResolver.
type ResolverFunc func(ref string) (string, bool)

func (f ResolverFunc) Resolve(ref string) (string, bool) { return f(ref) }

// FileResolver resolves references against Base. With an empty Base the
// reference is used as a path directly. Remote and data URLs never resolve,
// and neither do references escaping Base.
type FileResolver struct {
	Base string
}

func (r FileResolver) Resolve(ref string) (string, bool) {
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "//") || strings.Contains(ref, "://") {
		return "", false
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}

	path := filepath.FromSlash(ref)
	if r.Base != "" {
		base := filepath.Clean(r.Base)
		path = filepath.Join(base, strings.TrimPrefix(path, string(filepath.Separator)))
		if rel, err := filepath.Rel(base, path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", false
		}
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}
