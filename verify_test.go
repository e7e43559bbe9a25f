package rankcache

import (
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/echoface/rankcache/docindex"
)

func TestVerify(t *testing.T) {
	convey.Convey("with a cache applied", t, func() {
		db := buildFieldIndex()
		defer db.Close()
		c := newMemoryCache("A")
		qa := mustHits(c, "term_a", 4, 2, 99)
		mustHits(c, "term_b", 2, 4)
		mustApply(db, c)

		convey.Convey("a consistent cache passes", func() {
			snap, _ := db.Snapshot()
			rep, err := Verify(snap, c)
			convey.So(err, convey.ShouldBeNil)
			convey.So(rep.OK(), convey.ShouldBeTrue)
			convey.So(rep.Queries, convey.ShouldEqual, 2)
			convey.So(rep.Checked, convey.ShouldEqual, 4)
			convey.So(rep.Absent, convey.ShouldEqual, 1)
		})

		convey.Convey("a tampered rank is reported", func() {
			w, _ := db.OpenWriter()
			err := w.UpdateValues(2, func(doc *docindex.Document) error {
				v, _ := EncodeRank(0)
				doc.SetValue(BaseCacheSlot+docindex.Slot(qa), v)
				return nil
			})
			convey.So(err, convey.ShouldBeNil)
			_ = w.Close()

			snap, _ := db.Snapshot()
			rep, err := Verify(snap, c)
			convey.So(errors.Is(err, ErrConsistency), convey.ShouldBeTrue)
			convey.So(rep.OK(), convey.ShouldBeFalse)
		})

		convey.Convey("a missing rank is reported", func() {
			w, _ := db.OpenWriter()
			_ = w.UpdateValues(2, func(doc *docindex.Document) error {
				doc.RemoveValue(BaseCacheSlot + docindex.Slot(qa))
				return nil
			})
			_ = w.Close()

			snap, _ := db.Snapshot()
			rep, err := Verify(snap, c)
			convey.So(errors.Is(err, ErrConsistency), convey.ShouldBeTrue)
			convey.So(rep.Failures[0], convey.ShouldContainSubstring, "missing values")
		})

		convey.Convey("a query id bound twice is reported", func() {
			convey.So(c.SetQueryID("term_c", qa), convey.ShouldBeNil)
			snap, _ := db.Snapshot()
			rep, err := Verify(snap, c)
			convey.So(errors.Is(err, ErrConsistency), convey.ShouldBeTrue)
			convey.So(rep.Failures[0], convey.ShouldContainSubstring, "used by both")
		})
	})

	convey.Convey("a cache never applied is reported", t, func() {
		db := buildFieldIndex()
		defer db.Close()
		c := newMemoryCache("A")
		mustHits(c, "term_a", 4, 2)

		snap, _ := db.Snapshot()
		rep, err := Verify(snap, c)
		convey.So(errors.Is(err, ErrConsistency), convey.ShouldBeTrue)
		convey.So(rep.Failures, convey.ShouldHaveLength, 1)
	})
}
