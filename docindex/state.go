package docindex

import (
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/roaring64"
)

type (
	// state one revision of the index. a committed state is never mutated,
	// the writer mutates a private clone and publishes it on commit
	state struct {
		revision uint64

		docs     map[DocID]*Document
		ids      map[string]DocID
		postings map[string]*roaring64.Bitmap // term -> docs
		slots    map[Slot]*roaring64.Bitmap   // slot -> docs holding a value
		meta     map[string]string

		lastDocID   DocID
		totalLength uint64

		// superseded set when a newer revision is published
		superseded atomic.Bool
	}
)

func newState() *state {
	return &state{
		docs:     make(map[DocID]*Document),
		ids:      make(map[string]DocID),
		postings: make(map[string]*roaring64.Bitmap),
		slots:    make(map[Slot]*roaring64.Bitmap),
		meta:     make(map[string]string),
	}
}

func (st *state) clone() *state {
	c := &state{
		revision:    st.revision,
		docs:        make(map[DocID]*Document, len(st.docs)),
		ids:         make(map[string]DocID, len(st.ids)),
		postings:    make(map[string]*roaring64.Bitmap, len(st.postings)),
		slots:       make(map[Slot]*roaring64.Bitmap, len(st.slots)),
		meta:        make(map[string]string, len(st.meta)),
		lastDocID:   st.lastDocID,
		totalLength: st.totalLength,
	}
	for id, doc := range st.docs {
		c.docs[id] = doc
	}
	for k, v := range st.ids {
		c.ids[k] = v
	}
	for term, bm := range st.postings {
		c.postings[term] = bm.Clone()
	}
	for slot, bm := range st.slots {
		c.slots[slot] = bm.Clone()
	}
	for k, v := range st.meta {
		c.meta[k] = v
	}
	return c
}

// insert index doc under its docid, doc must not be shared with caller
func (st *state) insert(doc *Document) {
	id := doc.docID
	st.docs[id] = doc
	st.ids[doc.ID] = id
	for term := range doc.terms {
		bm, ok := st.postings[term]
		if !ok {
			bm = roaring64.New()
			st.postings[term] = bm
		}
		bm.Add(uint64(id))
	}
	for slot := range doc.values {
		st.markSlot(slot, id)
	}
	st.totalLength += doc.Length()
	if id > st.lastDocID {
		st.lastDocID = id
	}
}

func (st *state) remove(id DocID) *Document {
	doc, ok := st.docs[id]
	if !ok {
		return nil
	}
	delete(st.docs, id)
	if st.ids[doc.ID] == id {
		delete(st.ids, doc.ID)
	}
	for term := range doc.terms {
		if bm, ok := st.postings[term]; ok {
			bm.Remove(uint64(id))
			if bm.IsEmpty() {
				delete(st.postings, term)
			}
		}
	}
	for slot := range doc.values {
		st.unmarkSlot(slot, id)
	}
	st.totalLength -= doc.Length()
	return doc
}

func (st *state) markSlot(slot Slot, id DocID) {
	bm, ok := st.slots[slot]
	if !ok {
		bm = roaring64.New()
		st.slots[slot] = bm
	}
	bm.Add(uint64(id))
}

func (st *state) unmarkSlot(slot Slot, id DocID) {
	if bm, ok := st.slots[slot]; ok {
		bm.Remove(uint64(id))
		if bm.IsEmpty() {
			delete(st.slots, slot)
		}
	}
}

func (st *state) avgLength() float64 {
	if len(st.docs) == 0 {
		return 0
	}
	return float64(st.totalLength) / float64(len(st.docs))
}
