package fsops

import (
	"os"
	"sort"
	"strings"

	"github.com/petasbytes/event-handler/internal/safety"
)

// ListFiles returns the sorted, non-recursive entries of a directory relative to
// the sandbox root. Directories carry a trailing "/"; hidden entries are omitted.
func (r *Reader) ListFiles(relDir string) ([]string, error) {
	if relDir == "" {
		relDir = "."
	}
	absDir, err := safety.ValidateRelPath(r.root, relDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
