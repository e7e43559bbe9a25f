package rankcache

import (
	"strconv"

	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/kvstore"
	"github.com/echoface/rankcache/util"
)

// buildFieldIndex docs "1".."5" at docids 1..5; doc i indexes field:term_a
// i times and field:term_b 6-i times, so term_a ranks 5,4,3,2,1 live
func buildFieldIndex() *docindex.Database {
	db, err := docindex.Open(docindex.Options{})
	util.PanicIfErr(err, "open index")
	w, err := db.OpenWriter()
	util.PanicIfErr(err, "open writer")
	for i := 1; i <= 5; i++ {
		doc := docindex.NewDocument(strconv.Itoa(i))
		doc.AddFieldTerm("field", "term_a", uint32(i))
		doc.AddFieldTerm("field", "term_b", uint32(6-i))
		doc.SetValue(1, []byte("plain"))
		_, err = w.Add(doc)
		util.PanicIfErr(err, "add doc:%d", i)
	}
	util.PanicIfErr(w.Close(), "commit index")
	return db
}

func newMemoryCache(id string, opts ...Option) *Cache {
	return NewCache(id, kvstore.NewMemoryStore(), opts...)
}

// mustHits register repr and set its hits, returns the query id
func mustHits(c *Cache, repr string, hits ...docindex.DocID) QueryID {
	qid, err := c.GetOrMakeQueryID(repr)
	if err != nil {
		panic(err)
	}
	if err = c.SetHits(qid, hits); err != nil {
		panic(err)
	}
	return qid
}

func mustApply(db *docindex.Database, m Manager) {
	w, err := db.OpenWriter()
	if err != nil {
		panic(err)
	}
	if err = m.ApplyCachedItems(w); err != nil {
		panic(err)
	}
	if err = w.Close(); err != nil {
		panic(err)
	}
}

func searchIDs(db *docindex.Database, q docindex.Query) []string {
	s, err := docindex.NewSearcher(db)
	if err != nil {
		panic(err)
	}
	res, err := s.Search(q, 0, -1)
	if err != nil {
		panic(err)
	}
	return res.IDs()
}

func termA() docindex.Query {
	return docindex.NewFieldQuery("field", "term_a")
}

// slotValues every value slot of every document, for whole-index comparison
func slotValues(db *docindex.Database) map[docindex.DocID]map[docindex.Slot]string {
	snap, err := db.Snapshot()
	if err != nil {
		panic(err)
	}
	all, _ := snap.AllDocs()
	res := make(map[docindex.DocID]map[docindex.Slot]string)
	iter := all.Iterator()
	for iter.HasNext() {
		id := docindex.DocID(iter.Next())
		doc, _ := snap.DocumentByDocID(id)
		values := make(map[docindex.Slot]string)
		for _, slot := range doc.ValueSlots() {
			v, _ := doc.Value(slot)
			values[slot] = string(v)
		}
		res[id] = values
	}
	return res
}
