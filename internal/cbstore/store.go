// Package cbstore defines the board's document model and the contract its
// storage backends implement.
package cbstore

import (
	"context"
	"fmt"
)

// Content limits enforced when mutating the document. Inputs beyond the
// title/tag/note caps are truncated; a body beyond MaxPostLength or a file
// beyond MaxFileBytes is rejected outright.
const (
	MaxTitleLength = 80
	MaxTagLength   = 24
	MaxTags        = 12
	MaxPostLength  = 8000
	MaxFileBytes   = 8 * 1024 * 1024
)

// DefaultTitle is substituted for a thread title that's empty after
// trimming.
const DefaultTitle = "Untitled"

// DocumentStore is implemented by the board's storage backends.
type DocumentStore interface {
	// Load returns a snapshot of the document which the caller may mutate
	// freely. A backend with nothing persisted yet returns the empty
	// document; the file backend additionally treats unreadable or corrupt
	// files as empty and never returns an error. Remote backends may fail
	// on transport errors.
	Load(ctx context.Context) (*Document, error)

	// Save atomically replaces the entire persisted document. A reader can
	// never observe a partial write. Failures are reported as
	// *PersistenceError.
	Save(ctx context.Context, doc *Document) error
}

// PersistenceError wraps a failure to durably save the document. A caller
// that already applied its mutation in memory logs the error and keeps the
// in-memory result visible rather than rolling back.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("error persisting document: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
