// Package archive bundles a tax year's expenses, invoices and their source
// documents into a single zip stored in the file store.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/freelance-manager/freelance-api/internal/filestore"
	"github.com/freelance-manager/freelance-api/internal/shared"
	"github.com/freelance-manager/freelance-api/internal/taxyear"
)

// State tracks the progress of one archive build.
type State string

const (
	StateEmpty      State = "EMPTY"
	StateCollecting State = "COLLECTING"
	StateWriting    State = "WRITING"
	StateFinalizing State = "FINALIZING"
	StateComplete   State = "COMPLETE"
	StateFailed     State = "FAILED"
)

var transitions = map[State]State{
	StateEmpty:      StateCollecting,
	StateCollecting: StateWriting,
	StateWriting:    StateFinalizing,
	StateFinalizing: StateComplete,
}

// ErrInvalidTransition is returned for out of order state changes.
var ErrInvalidTransition = errors.New("archive: invalid state transition")

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// ValidateTransition allows each state to advance to its successor, and every
// non-terminal state to fail.
func ValidateTransition(from, to State) error {
	if to == StateFailed && !from.Terminal() {
		return nil
	}
	if next, ok := transitions[from]; ok && next == to {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Names holds the file names used inside and for the archive.
type Names struct {
	Expenses string
	Invoices string
	Archive  string
}

// NamesFor derives names from a scope such as "current-tax-year" or
// "2015-tax-year".
func NamesFor(scope string) Names {
	return Names{
		Expenses: scope + "-expenses.csv",
		Invoices: scope + "-invoices.csv",
		Archive:  scope + "-finance.zip",
	}
}

// YearScope is the scope used for explicit tax years.
func YearScope(year int) string {
	return strconv.Itoa(year) + "-tax-year"
}

// Request describes one archive build. Transient archives are stored under
// a per-build path so discarding them never touches a kept archive.
type Request struct {
	OwnerID   uuid.UUID
	Window    taxyear.Window
	Names     Names
	Transient bool
}

// Validate checks the request can be processed.
func (r Request) Validate() error {
	if r.OwnerID == uuid.Nil {
		return shared.ErrUnauthorized
	}
	if !r.Window.Start.Before(r.Window.End) {
		return shared.Validation("archive window is empty")
	}
	for _, name := range []string{r.Names.Expenses, r.Names.Invoices, r.Names.Archive} {
		if _, err := filestore.Clean(name); err != nil {
			return shared.Validation("archive file name %q invalid", name)
		}
	}
	return nil
}

// StoredPath is where the finished archive lives in the file store.
func StoredPath(owner uuid.UUID, archiveName string) string {
	return filestore.Join(filestore.ReportsDir, owner.String(), archiveName)
}

// Archive is a finished, stored bundle.
type Archive struct {
	Name    string
	Path    string
	Size    int64
	Entries []string
	Skipped []string

	store filestore.Store
}

// Open streams the stored zip.
func (a *Archive) Open(ctx context.Context) (io.ReadCloser, error) {
	if a == nil || a.store == nil {
		return nil, errors.New("archive: not built")
	}
	return a.store.Open(ctx, a.Path)
}

// Discard removes the stored zip.
func (a *Archive) Discard(ctx context.Context) error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Delete(ctx, a.Path)
}

// Stored returns a handle to a previously built archive.
func Stored(ctx context.Context, store filestore.Store, owner uuid.UUID, archiveName string) (*Archive, error) {
	path := StoredPath(owner, archiveName)
	ok, err := store.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.NotFound("archive %s not built", archiveName)
	}
	return &Archive{Name: archiveName, Path: path, store: store}, nil
}
