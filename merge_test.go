package rankcache

import (
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/echoface/rankcache/docindex"
)

func TestMerge(t *testing.T) {
	convey.Convey("cached ranks come first, the rest follow the live order", t, func() {
		db := buildFieldIndex()
		defer db.Close()
		c := newMemoryCache("A")
		qa := mustHits(c, "term_a", 4, 2)
		qb := mustHits(c, "term_b", 2, 4)
		mustApply(db, c)

		convey.So(searchIDs(db, termA()), convey.ShouldResemble, []string{"5", "4", "3", "2", "1"})
		convey.So(searchIDs(db, Merge(termA(), c, qa)), convey.ShouldResemble, []string{"4", "2", "5", "3", "1"})
		convey.So(searchIDs(db, Merge(termA(), c, qb)), convey.ShouldResemble, []string{"2", "4", "5", "3", "1"})

		convey.Convey("only cached documents reach weight one", func() {
			s, _ := docindex.NewSearcher(db)
			res, err := s.Search(Merge(termA(), c, qa), 0, -1)
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.Hits[0].Weight, convey.ShouldBeGreaterThanOrEqualTo, MaxRank)
			convey.So(res.Hits[1].Weight, convey.ShouldBeGreaterThanOrEqualTo, MaxRank-1)
			for _, h := range res.Hits[2:] {
				convey.So(h.Weight, convey.ShouldBeLessThan, 1)
			}
		})

		convey.Convey("cached rank query alone", func() {
			ids := searchIDs(db, NewCachedRankQuery("A", qa))
			convey.So(ids, convey.ShouldResemble, []string{"4", "2"})
			ids = searchIDs(db, NewCachedRankQuery("A", 7))
			convey.So(ids, convey.ShouldBeEmpty)
		})

		convey.Convey("an unregistered cache is reported", func() {
			s, _ := docindex.NewSearcher(db)
			_, err := s.Search(Merge(termA(), newMemoryCache("B"), 0), 0, -1)
			convey.So(errors.Is(err, ErrNotFound), convey.ShouldBeTrue)
		})
	})

	convey.Convey("a search racing an apply retries on the new snapshot", t, func() {
		db := buildFieldIndex()
		defer db.Close()
		c := newMemoryCache("A")
		qa := mustHits(c, "term_a", 1)
		mustApply(db, c)

		s, _ := docindex.NewSearcher(db)
		_ = c.SetHits(qa, []docindex.DocID{3})
		mustApply(db, c)

		res, err := s.Search(Merge(termA(), c, qa), 0, -1)
		convey.So(err, convey.ShouldBeNil)
		convey.So(res.Retries, convey.ShouldEqual, 1)
		convey.So(res.IDs(), convey.ShouldResemble, []string{"3", "5", "4", "2", "1"})
	})
}
