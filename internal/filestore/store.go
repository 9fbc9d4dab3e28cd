// Package filestore persists attachments, intermediate exports and finished
// archives behind a small path based interface.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotExist is returned when no object is stored at a path.
var ErrNotExist = errors.New("filestore: object does not exist")

// Folders used for report material.
const (
	ExpenseProofsDir   = "expenses-proofs"
	ProjectInvoicesDir = "projects-invoices"
	ReportsDir         = "reports"
)

// BuildDirPrefix marks per-build working folders. Local removes such a
// folder once its last object is deleted.
const BuildDirPrefix = ".build-"

// Layout lists the folders created at startup.
var Layout = []string{ExpenseProofsDir, ProjectInvoicesDir, ReportsDir}

// Store reads and writes objects addressed by slash separated paths.
type Store interface {
	// Write stores r at name. The object is visible only once Write returned
	// without error.
	Write(ctx context.Context, name string, r io.Reader) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
}

// Clean validates name and returns its canonical form. Absolute paths and
// parent references are rejected.
func Clean(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("filestore: empty path")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("filestore: invalid path %q", name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("filestore: invalid path %q", name)
	}
	return cleaned, nil
}

// Join builds a store path from parts.
func Join(parts ...string) string {
	return path.Join(parts...)
}

// Child joins dir with a single path segment. Names containing separators or
// dot segments are rejected so the result always stays inside dir.
func Child(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("filestore: invalid file name %q", name)
	}
	return path.Join(dir, name), nil
}
