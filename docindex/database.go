package docindex

import (
	"fmt"
	"sync"

	"github.com/echoface/rankcache/applog"
)

type (
	Options struct {
		// Path sqlite file holding documents and metadata; empty keeps the
		// index in memory only
		Path string
	}

	// Database a document index with a single writer and snapshot readers.
	// commits publish a new immutable state, every snapshot of an older state
	// starts failing with ErrDatabaseModified
	Database struct {
		mu sync.Mutex

		current *state
		writing bool
		closed  bool

		store *persistStore
	}

	// Snapshot point-in-time read view of the database
	Snapshot struct {
		stateReader

		st *state
	}
)

func Open(opts Options) (*Database, error) {
	db := &Database{current: newState()}
	if opts.Path == "" {
		return db, nil
	}
	store, err := openPersistStore(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", opts.Path, err)
	}
	st, err := store.load()
	if err != nil {
		applog.LogIfErr(store.Close(), "close index store %s fail", opts.Path)
		return nil, fmt.Errorf("load index %s: %w", opts.Path, err)
	}
	db.current, db.store = st, store
	applog.LogInfo("index %s loaded, docs:%d revision:%d", opts.Path, len(st.docs), st.revision)
	return db, nil
}

// Snapshot return a read view of the latest committed state
func (db *Database) Snapshot() (*Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	return newSnapshot(db.current), nil
}

// OpenWriter acquire the single write lock, ErrLocked while another writer is open
func (db *Database) OpenWriter() (*Writer, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if db.writing {
		return nil, ErrLocked
	}
	db.writing = true
	return newWriter(db, db.current.clone()), nil
}

func (db *Database) Revision() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.current.revision
}

func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	db.current.superseded.Store(true)
	if db.store != nil {
		return db.store.Close()
	}
	return nil
}

// publish persist the changed documents and metadata then make st current
func (db *Database) publish(st *state, docs map[DocID]struct{}, meta map[string]struct{}) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	st.revision = db.current.revision + 1
	if db.store != nil {
		if err := db.store.save(st, docs, meta); err != nil {
			return fmt.Errorf("persist revision %d: %w", st.revision, err)
		}
	}
	prev := db.current
	db.current = st
	prev.superseded.Store(true)
	return nil
}

func (db *Database) releaseWriter() {
	db.mu.Lock()
	db.writing = false
	db.mu.Unlock()
}

func newSnapshot(st *state) *Snapshot {
	s := &Snapshot{st: st}
	s.stateReader = stateReader{acquire: s.acquire}
	return s
}

func (s *Snapshot) acquire() (*state, error) {
	if s.st.superseded.Load() {
		return nil, ErrDatabaseModified
	}
	return s.st, nil
}

func (s *Snapshot) Revision() uint64 {
	return s.st.revision
}
