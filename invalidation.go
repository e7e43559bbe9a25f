package rankcache

import (
	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/util"
)

type (
	// Manager what the index writer needs from one cache or a set of caches
	Manager interface {
		// RemoveCachedItems drop doc from every hit list its rank slots point to
		RemoveCachedItems(r docindex.MetadataReader, doc *docindex.Document) error

		ApplyCachedItems(w *docindex.Writer) error

		Flush() error

		Close() error
	}

	// InvalidationHook keeps the caches of a Manager in step with the
	// documents of a writer it is installed on
	InvalidationHook struct {
		m Manager
	}
)

var _ docindex.ChangeHook = (*InvalidationHook)(nil)

func NewInvalidationHook(m Manager) *InvalidationHook {
	util.PanicIf(m == nil, "invalidation hook need a cache manager")
	return &InvalidationHook{m: m}
}

// Install set a hook for m on w, the writer's previous hook is replaced
func Install(w *docindex.Writer, m Manager) *InvalidationHook {
	h := NewInvalidationHook(m)
	w.SetHook(h)
	return h
}

func (h *InvalidationHook) Manager() Manager {
	return h.m
}

func (h *InvalidationHook) BeforeAdd(*docindex.Writer, *docindex.Document) error {
	return nil
}

// BeforeReplace a document keeping its unique id keeps the cache slots the
// new version does not set; one taking over the docid under another id
// leaves the caches
func (h *InvalidationHook) BeforeReplace(w *docindex.Writer, old, doc *docindex.Document) error {
	if old.ID != doc.ID {
		return h.m.RemoveCachedItems(w, old)
	}
	for _, slot := range old.ValueSlots() {
		if slot < BaseCacheSlot || doc.HasValue(slot) {
			continue
		}
		v, _ := old.Value(slot)
		doc.SetValue(slot, v)
	}
	return nil
}

func (h *InvalidationHook) BeforeDelete(w *docindex.Writer, doc *docindex.Document) error {
	return h.m.RemoveCachedItems(w, doc)
}

func (h *InvalidationHook) AfterCommit() error {
	return h.m.Flush()
}
