// Package fsops implements read-only file operations confined to a sandbox root.
package fsops

import "github.com/petasbytes/event-handler/internal/safety"

// Reader serves files under a single resolved root.
type Reader struct {
	root string
}

// NewReader resolves root once; the returned Reader never looks outside it.
func NewReader(root string) (*Reader, error) {
	abs, err := safety.ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	return &Reader{root: abs}, nil
}

// Root returns the resolved sandbox root.
func (r *Reader) Root() string { return r.root }

