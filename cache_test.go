package rankcache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/kvstore"
)

func TestCacheQueryIDs(t *testing.T) {
	convey.Convey("query id allocation", t, func() {
		c := newMemoryCache("a")
		empty, err := c.IsEmpty()
		convey.So(err, convey.ShouldBeNil)
		convey.So(empty, convey.ShouldBeTrue)

		qa, err := c.GetOrMakeQueryID("term_a")
		convey.So(err, convey.ShouldBeNil)
		convey.So(qa, convey.ShouldEqual, QueryID(0))
		qb, _ := c.GetOrMakeQueryID("term_b")
		convey.So(qb, convey.ShouldEqual, QueryID(1))
		again, _ := c.GetOrMakeQueryID("term_a")
		convey.So(again, convey.ShouldEqual, qa)

		qid, ok, err := c.QueryID("term_b")
		convey.So(err, convey.ShouldBeNil)
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(qid, convey.ShouldEqual, qb)
		_, ok, _ = c.QueryID("term_c")
		convey.So(ok, convey.ShouldBeFalse)

		_, err = c.GetOrMakeQueryID("")
		convey.So(errors.Is(err, ErrUsage), convey.ShouldBeTrue)

		convey.So(c.SetQueryID("term_z", 5), convey.ShouldBeNil)
		n, _ := c.NumQueries()
		convey.So(n, convey.ShouldEqual, 6)
		next, _ := c.GetOrMakeQueryID("term_y")
		convey.So(next, convey.ShouldEqual, QueryID(6))
		convey.So(c.SetQueryID("term_low", 2), convey.ShouldBeNil)
		n, _ = c.NumQueries()
		convey.So(n, convey.ShouldEqual, 7)

		ids, _ := c.QueryIDs()
		convey.So(ids, convey.ShouldResemble, []QueryID{0, 1, 2, 3, 4, 5, 6})
		reprs, _ := c.QueryReprs()
		convey.So(reprs, convey.ShouldResemble, map[string]QueryID{
			"term_a": 0, "term_b": 1, "term_z": 5, "term_y": 6, "term_low": 2,
		})
		empty, _ = c.IsEmpty()
		convey.So(empty, convey.ShouldBeFalse)
	})
}

func TestCacheHits(t *testing.T) {
	convey.Convey("hit lists are chunked", t, func() {
		store := kvstore.NewMemoryStore()
		c := NewCache("a", store, WithChunkSize(3))
		qid := mustHits(c, "q", 10, 11, 12, 13, 14, 15, 16)

		keys, _ := store.Keys("H")
		convey.So(keys, convey.ShouldResemble, []string{"H0:0", "H0:1", "H0:2"})
		hits, err := c.Hits(qid)
		convey.So(err, convey.ShouldBeNil)
		convey.So(hits, convey.ShouldResemble, docindex.DocIDList{10, 11, 12, 13, 14, 15, 16})

		hits, _ = c.HitRange(qid, 2, 5)
		convey.So(hits, convey.ShouldResemble, docindex.DocIDList{12, 13, 14})
		hits, _ = c.HitRange(qid, 4, -1)
		convey.So(hits, convey.ShouldResemble, docindex.DocIDList{14, 15, 16})
		hits, _ = c.HitRange(qid, 3, 3)
		convey.So(hits, convey.ShouldBeEmpty)
		hits, _ = c.HitRange(qid, 20, -1)
		convey.So(hits, convey.ShouldBeEmpty)

		convey.Convey("shorter lists drop stale chunks", func() {
			convey.So(c.SetHits(qid, []docindex.DocID{1, 2}), convey.ShouldBeNil)
			keys, _ := store.Keys("H")
			convey.So(keys, convey.ShouldResemble, []string{"H0:0"})
			convey.So(c.SetHits(qid, nil), convey.ShouldBeNil)
			keys, _ = store.Keys("H")
			convey.So(keys, convey.ShouldBeEmpty)
			hits, _ := c.Hits(qid)
			convey.So(hits, convey.ShouldBeEmpty)
		})

		convey.Convey("mutations bump the generation", func() {
			gen := c.Generation()
			_ = c.SetHits(qid, []docindex.DocID{1})
			convey.So(c.Generation(), convey.ShouldBeGreaterThan, gen)
			gen = c.Generation()
			_, _ = c.Hits(qid)
			convey.So(c.Generation(), convey.ShouldEqual, gen)
		})
	})
}

func TestCacheRemoveHits(t *testing.T) {
	convey.Convey("remove hits with rank hints", t, func() {
		c := newMemoryCache("a", WithChunkSize(2))
		qid := mustHits(c, "q", 10, 11, 12, 13, 14, 15)

		convey.Convey("exact ranks", func() {
			err := c.RemoveHits(qid, []RankedDoc{{Rank: 1, DocID: 11}, {Rank: 4, DocID: 14}})
			convey.So(err, convey.ShouldBeNil)
			hits, _ := c.Hits(qid)
			convey.So(hits, convey.ShouldResemble, docindex.DocIDList{10, 12, 13, 15})
		})

		convey.Convey("overestimated ranks are searched backwards", func() {
			err := c.RemoveHits(qid, []RankedDoc{{Rank: 5, DocID: 12}, {Rank: 100, DocID: 10}})
			convey.So(err, convey.ShouldBeNil)
			hits, _ := c.Hits(qid)
			convey.So(hits, convey.ShouldResemble, docindex.DocIDList{11, 13, 14, 15})
		})

		convey.Convey("absent docids are ignored", func() {
			err := c.RemoveHits(qid, []RankedDoc{{Rank: 3, DocID: 99}, {Rank: 5, DocID: 15}})
			convey.So(err, convey.ShouldBeNil)
			hits, _ := c.Hits(qid)
			convey.So(hits, convey.ShouldResemble, docindex.DocIDList{10, 11, 12, 13, 14})
		})

		convey.Convey("removing everything", func() {
			items := make([]RankedDoc, 0)
			for i := 0; i < 6; i++ {
				items = append(items, RankedDoc{Rank: Rank(i), DocID: docindex.DocID(10 + i)})
			}
			convey.So(c.RemoveHits(qid, items), convey.ShouldBeNil)
			hits, _ := c.Hits(qid)
			convey.So(hits, convey.ShouldBeEmpty)
		})
	})
}

func TestCacheClose(t *testing.T) {
	convey.Convey("closed cache rejects every operation", t, func() {
		c := newMemoryCache("a")
		mustHits(c, "q", 1)
		convey.So(c.Close(), convey.ShouldBeNil)
		convey.So(c.Close(), convey.ShouldBeNil)

		_, err := c.Hits(0)
		convey.So(errors.Is(err, ErrUsage), convey.ShouldBeTrue)
		_, err = c.GetOrMakeQueryID("q")
		convey.So(errors.Is(err, ErrUsage), convey.ShouldBeTrue)
		convey.So(errors.Is(c.Flush(), ErrUsage), convey.ShouldBeTrue)
		_, err = c.Invert()
		convey.So(errors.Is(err, ErrUsage), convey.ShouldBeTrue)
	})

	convey.Convey("constructor guards", t, func() {
		convey.So(func() { NewCache("", kvstore.NewMemoryStore()) }, convey.ShouldPanic)
		convey.So(func() { NewCache("a", nil) }, convey.ShouldPanic)
		convey.So(func() { newMemoryCache("a", WithChunkSize(0)) }, convey.ShouldPanic)
	})
}

func TestCacheDurability(t *testing.T) {
	convey.Convey("flushed cache survives reopen on sqlite", t, func() {
		path := filepath.Join(t.TempDir(), "caches.db")
		store, err := kvstore.OpenSQLStore(kvstore.SQLite, path, "a")
		convey.So(err, convey.ShouldBeNil)
		c := NewCache("a", store)
		qid := mustHits(c, "term_a", 4, 2)
		convey.So(c.Close(), convey.ShouldBeNil)

		store, _ = kvstore.OpenSQLStore(kvstore.SQLite, path, "a")
		c = NewCache("a", store)
		defer c.Close()
		got, ok, _ := c.QueryID("term_a")
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(got, convey.ShouldEqual, qid)
		hits, _ := c.Hits(qid)
		convey.So(hits, convey.ShouldResemble, docindex.DocIDList{4, 2})
	})
}
