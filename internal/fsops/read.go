package fsops

import (
	"os"

	"github.com/petasbytes/event-handler/internal/safety"
)

// ReadFile reads a file addressed by a path relative to the sandbox root.
// Policy violations are returned as safety.ToolError; I/O failures are returned as-is.
func (r *Reader) ReadFile(relPath string) (string, error) {
	absPath, err := safety.ValidateRelPath(r.root, relPath)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(absPath)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", safety.ToolError{Code: safety.CodeNotAFile, Message: "path is a directory"}
	}
	b, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
