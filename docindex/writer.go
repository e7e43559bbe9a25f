package docindex

import (
	"fmt"

	"github.com/echoface/rankcache/applog"
)

type (
	// Writer the single writer of a Database. changes are private until Commit,
	// a Writer is not safe for concurrent use
	Writer struct {
		stateReader

		db   *Database
		st   *state
		hook ChangeHook

		dirtyDocs map[DocID]struct{}
		dirtyMeta map[string]struct{}

		closed       bool
		warnedNoHook bool
	}
)

func newWriter(db *Database, st *state) *Writer {
	w := &Writer{
		db:        db,
		st:        st,
		dirtyDocs: make(map[DocID]struct{}),
		dirtyMeta: make(map[string]struct{}),
	}
	w.stateReader = stateReader{acquire: w.acquire}
	return w
}

func (w *Writer) acquire() (*state, error) {
	if w.closed {
		return nil, ErrClosed
	}
	return w.st, nil
}

// SetHook install the change hook, nil removes it
func (w *Writer) SetHook(hook ChangeHook) {
	w.hook = hook
}

func (w *Writer) Hook() ChangeHook {
	return w.hook
}

// Add index a copy of doc under a new docid. an empty unique id is replaced by
// the hex form of the docid
func (w *Writer) Add(doc *Document) (DocID, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if doc.ID != "" {
		if _, ok := w.st.ids[doc.ID]; ok {
			return 0, fmt.Errorf("add %q: %w", doc.ID, ErrDuplicateID)
		}
	}
	c := doc.Clone()
	if w.hook != nil {
		if err := w.hook.BeforeAdd(w, c); err != nil {
			return 0, err
		}
	}
	id := w.st.lastDocID + 1
	c.docID = id
	if c.ID == "" {
		c.ID = defaultID(id)
	}
	w.st.insert(c)
	w.dirtyDocs[id] = struct{}{}
	return id, nil
}

// Replace replace the document with the same unique id, or add it when absent
func (w *Writer) Replace(doc *Document) (DocID, error) {
	if w.closed {
		return 0, ErrClosed
	}
	id, ok := w.st.ids[doc.ID]
	if doc.ID == "" || !ok {
		return w.Add(doc)
	}
	return id, w.ReplaceByDocID(id, doc)
}

// ReplaceByDocID store doc under docid id, creating it when absent
func (w *Writer) ReplaceByDocID(id DocID, doc *Document) error {
	if w.closed {
		return ErrClosed
	}
	if id == 0 {
		return fmt.Errorf("replace docid 0: %w", ErrNotFound)
	}
	c := doc.Clone()
	c.docID = id
	if c.ID == "" {
		c.ID = defaultID(id)
	}
	if owner, ok := w.st.ids[c.ID]; ok && owner != id {
		return fmt.Errorf("replace docid %d with %q: %w", id, c.ID, ErrDuplicateID)
	}

	old, exist := w.st.docs[id]
	if w.hook != nil {
		var err error
		if exist {
			err = w.hook.BeforeReplace(w, old.Clone(), c)
		} else {
			err = w.hook.BeforeAdd(w, c)
		}
		if err != nil {
			return err
		}
	} else {
		w.warnWithoutHook()
	}
	w.st.remove(id)
	w.st.insert(c)
	w.dirtyDocs[id] = struct{}{}
	return nil
}

func (w *Writer) Delete(uniqueID string) error {
	if w.closed {
		return ErrClosed
	}
	id, ok := w.st.ids[uniqueID]
	if !ok {
		return fmt.Errorf("delete %q: %w", uniqueID, ErrNotFound)
	}
	return w.DeleteByDocID(id)
}

func (w *Writer) DeleteByDocID(id DocID) error {
	if w.closed {
		return ErrClosed
	}
	doc, ok := w.st.docs[id]
	if !ok {
		return fmt.Errorf("delete docid %d: %w", id, ErrNotFound)
	}
	if w.hook != nil {
		if err := w.hook.BeforeDelete(w, doc.Clone()); err != nil {
			return err
		}
	} else {
		w.warnWithoutHook()
	}
	w.st.remove(id)
	w.dirtyDocs[id] = struct{}{}
	return nil
}

// UpdateValues rewrite the value slots of one document without invoking the
// change hook, fn receives a private copy
func (w *Writer) UpdateValues(id DocID, fn func(doc *Document) error) error {
	if w.closed {
		return ErrClosed
	}
	doc, ok := w.st.docs[id]
	if !ok {
		return fmt.Errorf("update docid %d: %w", id, ErrNotFound)
	}
	c := doc.Clone()
	if err := fn(c); err != nil {
		return err
	}
	c.docID, c.ID = id, doc.ID
	c.terms = doc.terms

	for slot := range doc.values {
		if !c.HasValue(slot) {
			w.st.unmarkSlot(slot, id)
		}
	}
	for slot := range c.values {
		w.st.markSlot(slot, id)
	}
	w.st.docs[id] = c
	w.dirtyDocs[id] = struct{}{}
	return nil
}

func (w *Writer) SetMetadata(key, value string) error {
	if w.closed {
		return ErrClosed
	}
	if value == "" {
		delete(w.st.meta, key)
	} else {
		w.st.meta[key] = value
	}
	w.dirtyMeta[key] = struct{}{}
	return nil
}

// Commit publish all pending changes; snapshots opened before start failing
// with ErrDatabaseModified
func (w *Writer) Commit() error {
	if w.closed {
		return ErrClosed
	}
	if len(w.dirtyDocs) > 0 || len(w.dirtyMeta) > 0 {
		if err := w.db.publish(w.st, w.dirtyDocs, w.dirtyMeta); err != nil {
			return err
		}
		w.st = w.st.clone()
		w.dirtyDocs = make(map[DocID]struct{})
		w.dirtyMeta = make(map[string]struct{})
	}
	if w.hook != nil {
		return w.hook.AfterCommit()
	}
	return nil
}

// Close commit pending changes and release the write lock
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	err := w.Commit()
	w.closed = true
	w.db.releaseWriter()
	return err
}

func (w *Writer) warnWithoutHook() {
	if w.warnedNoHook || w.st.meta[CacheAppliedKey] != "1" {
		return
	}
	w.warnedNoHook = true
	applog.LogErr("index has applied rank caches but the writer has no change hook, cached ranks may go stale")
}
