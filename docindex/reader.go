package docindex

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// CacheAppliedKey metadata key set once any rank cache was applied to the index
const CacheAppliedKey = "_rankcache_hascache"

type (
	MetadataReader interface {
		// Metadata return "" for an absent key
		Metadata(key string) (string, error)
	}

	MetadataWriter interface {
		MetadataReader

		// SetMetadata an empty value removes the key
		SetMetadata(key, value string) error
	}

	// Posting one document of a term posting list
	Posting struct {
		DocID  DocID
		WDF    uint32
		Length uint64
	}

	// Reader read access shared by Snapshot and Writer
	Reader interface {
		MetadataReader

		MetadataKeys(prefix string) ([]string, error)

		Document(id string) (*Document, error)

		DocumentByDocID(id DocID) (*Document, error)

		DocCount() (uint64, error)

		AvgLength() (float64, error)

		// AllDocs bitmap of every live docid, owned by caller
		AllDocs() (*roaring64.Bitmap, error)

		// Postings documents indexing term ordered by docid
		Postings(term string) ([]Posting, error)

		// DocsWithValue bitmap of documents holding a value in slot, owned by caller
		DocsWithValue(slot Slot) (*roaring64.Bitmap, error)

		Value(id DocID, slot Slot) ([]byte, bool, error)
	}

	// stateReader implements Reader over a state resolved per call
	stateReader struct {
		acquire func() (*state, error)
	}
)

func (r stateReader) Metadata(key string) (string, error) {
	st, err := r.acquire()
	if err != nil {
		return "", err
	}
	return st.meta[key], nil
}

func (r stateReader) MetadataKeys(prefix string) ([]string, error) {
	st, err := r.acquire()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	for k := range st.meta {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r stateReader) Document(id string) (*Document, error) {
	st, err := r.acquire()
	if err != nil {
		return nil, err
	}
	docID, ok := st.ids[id]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return st.docs[docID].Clone(), nil
}

func (r stateReader) DocumentByDocID(id DocID) (*Document, error) {
	st, err := r.acquire()
	if err != nil {
		return nil, err
	}
	doc, ok := st.docs[id]
	if !ok {
		return nil, fmt.Errorf("docid %d: %w", id, ErrNotFound)
	}
	return doc.Clone(), nil
}

func (r stateReader) DocCount() (uint64, error) {
	st, err := r.acquire()
	if err != nil {
		return 0, err
	}
	return uint64(len(st.docs)), nil
}

func (r stateReader) AvgLength() (float64, error) {
	st, err := r.acquire()
	if err != nil {
		return 0, err
	}
	return st.avgLength(), nil
}

func (r stateReader) AllDocs() (*roaring64.Bitmap, error) {
	st, err := r.acquire()
	if err != nil {
		return nil, err
	}
	bm := roaring64.New()
	for id := range st.docs {
		bm.Add(uint64(id))
	}
	return bm, nil
}

func (r stateReader) Postings(term string) ([]Posting, error) {
	st, err := r.acquire()
	if err != nil {
		return nil, err
	}
	bm, ok := st.postings[term]
	if !ok {
		return nil, nil
	}
	postings := make([]Posting, 0, bm.GetCardinality())
	iter := bm.Iterator()
	for iter.HasNext() {
		id := DocID(iter.Next())
		doc := st.docs[id]
		postings = append(postings, Posting{DocID: id, WDF: doc.terms[term], Length: doc.Length()})
	}
	return postings, nil
}

func (r stateReader) DocsWithValue(slot Slot) (*roaring64.Bitmap, error) {
	st, err := r.acquire()
	if err != nil {
		return nil, err
	}
	if bm, ok := st.slots[slot]; ok {
		return bm.Clone(), nil
	}
	return roaring64.New(), nil
}

func (r stateReader) Value(id DocID, slot Slot) ([]byte, bool, error) {
	st, err := r.acquire()
	if err != nil {
		return nil, false, err
	}
	doc, ok := st.docs[id]
	if !ok {
		return nil, false, fmt.Errorf("docid %d: %w", id, ErrNotFound)
	}
	v, ok := doc.Value(slot)
	return v, ok, nil
}
