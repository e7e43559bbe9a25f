package rankcache

import (
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/echoface/rankcache/docindex"
)

func TestApplyCache(t *testing.T) {
	convey.Convey("apply writes decodable ranks", t, func() {
		db := buildFieldIndex()
		defer db.Close()
		c := newMemoryCache("A")
		qa := mustHits(c, "term_a", 4, 2)
		qb := mustHits(c, "term_b", 2, 4)

		w, _ := db.OpenWriter()
		stats, err := ApplyCache(w, c)
		convey.So(err, convey.ShouldBeNil)
		convey.So(stats, convey.ShouldResemble, ApplyStats{Documents: 2, Values: 4})
		convey.So(w.Close(), convey.ShouldBeNil)

		snap, _ := db.Snapshot()
		applied, _ := snap.Metadata(docindex.CacheAppliedKey)
		convey.So(applied, convey.ShouldEqual, "1")
		for qid, hits := range map[QueryID][]docindex.DocID{qa: {4, 2}, qb: {2, 4}} {
			for rank, id := range hits {
				got, ok, err := CachedRank(snap, "A", qid, id)
				convey.So(err, convey.ShouldBeNil)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(got, convey.ShouldEqual, Rank(rank))
			}
		}
		_, ok, err := CachedRank(snap, "A", qa, 5)
		convey.So(err, convey.ShouldBeNil)
		convey.So(ok, convey.ShouldBeFalse)
		_, _, err = CachedRank(snap, "other", qa, 5)
		convey.So(errors.Is(err, ErrNotFound), convey.ShouldBeTrue)

		doc, _ := snap.Document("4")
		v, _ := doc.Value(1)
		convey.So(string(v), convey.ShouldEqual, "plain")

		convey.Convey("applying again changes nothing", func() {
			before := slotValues(db)
			w, _ := db.OpenWriter()
			again, err := ApplyCache(w, c)
			convey.So(err, convey.ShouldBeNil)
			convey.So(again, convey.ShouldResemble, stats)
			_ = w.Close()
			convey.So(slotValues(db), convey.ShouldResemble, before)
		})

		convey.Convey("ranks dropped from the cache are cleared", func() {
			_ = c.SetHits(qa, []docindex.DocID{2})
			_ = c.SetHits(qb, []docindex.DocID{2})
			w, _ := db.OpenWriter()
			again, err := ApplyCache(w, c)
			convey.So(err, convey.ShouldBeNil)
			convey.So(again.Cleared, convey.ShouldEqual, 1)
			_ = w.Close()

			snap, _ := db.Snapshot()
			_, ok, _ := CachedRank(snap, "A", qa, 4)
			convey.So(ok, convey.ShouldBeFalse)
			_, ok, _ = CachedRank(snap, "A", qb, 4)
			convey.So(ok, convey.ShouldBeFalse)
			rank, ok, _ := CachedRank(snap, "A", qb, 2)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(rank, convey.ShouldEqual, Rank(0))
		})

		convey.Convey("a cache cannot outgrow its slots", func() {
			mustHits(c, "term_c", 1)
			w, _ := db.OpenWriter()
			defer w.Close()
			_, err := ApplyCache(w, c)
			convey.So(errors.Is(err, ErrUsage), convey.ShouldBeTrue)
		})
	})

	convey.Convey("documents missing from the index are skipped", t, func() {
		db := buildFieldIndex()
		defer db.Close()
		c := newMemoryCache("global")
		qid := mustHits(c, "term_a", 99, 3, 42, 1)

		w, _ := db.OpenWriter()
		stats, err := ApplyCache(w, c)
		convey.So(err, convey.ShouldBeNil)
		convey.So(stats.Skipped, convey.ShouldEqual, 2)
		convey.So(stats.Documents, convey.ShouldEqual, 2)
		rank, ok, _ := CachedRank(w, "global", qid, 1)
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(rank, convey.ShouldEqual, Rank(3))
		_ = w.Close()
	})

	convey.Convey("reserved headroom lets the cache grow", t, func() {
		db := buildFieldIndex()
		defer db.Close()
		c := newMemoryCache("A", WithSlotReserve(4))
		mustHits(c, "term_a", 1)
		mustApply(db, c)
		qid := mustHits(c, "term_b", 2)
		mustApply(db, c)

		snap, _ := db.Snapshot()
		rng, _ := NewSlotAllocator(snap).Range("A")
		convey.So(rng.Size(), convey.ShouldEqual, 4)
		rank, ok, _ := CachedRank(snap, "A", qid, 2)
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(rank, convey.ShouldEqual, Rank(0))
	})

	convey.Convey("a registered range smaller than the cache is rejected", t, func() {
		db := buildFieldIndex()
		defer db.Close()
		c := newMemoryCache("A")
		mustHits(c, "term_a", 1)
		mustHits(c, "term_b", 2)

		w, _ := db.OpenWriter()
		defer w.Close()
		_ = w.SetMetadata(MetaCaches, `{"A":0,"B":1}`)
		_ = w.SetMetadata(MetaNumCacheSlots, "3")

		_, err := ApplyCache(w, c)
		convey.So(errors.Is(err, ErrUsage), convey.ShouldBeTrue)
	})
}
