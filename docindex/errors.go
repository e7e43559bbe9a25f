package docindex

import "errors"

var (
	// ErrNotFound unknown document id or unique id
	ErrNotFound = errors.New("docindex: document not found")

	// ErrClosed operate on a closed database, writer or searcher
	ErrClosed = errors.New("docindex: closed")

	// ErrLocked another writer already hold the write lock
	ErrLocked = errors.New("docindex: write lock held by another writer")

	// ErrDuplicateID unique id already used by another document
	ErrDuplicateID = errors.New("docindex: duplicate unique id")

	// ErrDatabaseModified the snapshot was superseded by a newer commit,
	// callers must reopen and retry the whole read
	ErrDatabaseModified = errors.New("docindex: database modified, reopen required")
)
