package rankcache

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/smartystreets/goconvey/convey"

	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/kvstore"
)

type hitFixture map[string][]docindex.DocID

func fixtureCache(inv Inverter, hits hitFixture) *Cache {
	c := NewCache("inv", kvstore.NewMemoryStore(), WithInverter(inv), WithChunkSize(4))
	for _, repr := range []string{"q0", "q1", "q2", "q3"} {
		if ids, ok := hits[repr]; ok {
			mustHits(c, repr, ids...)
		}
	}
	return c
}

func TestInvertersAgree(t *testing.T) {
	fixtures := map[string]hitFixture{
		"no queries":     {},
		"empty hit list": {"q0": nil},
		"single hit":     {"q0": {7}},
		"overlapping": {
			"q0": {4, 2},
			"q1": {2, 4},
			"q2": {3, 4, 1, 9, 8, 7, 6, 5, 11, 12},
			"q3": {12},
		},
		"duplicate docid": {"q0": {5, 1, 5}},
	}

	convey.Convey("memory and disk inversion yield the same entries", t, func() {
		for name, fixture := range fixtures {
			mem := fixtureCache(NewMemoryInverter(), fixture)
			disk := fixtureCache(NewDiskInverter(t.TempDir()), fixture)

			it, err := mem.Invert()
			convey.So(err, convey.ShouldBeNil)
			want, err := CollectInverted(it)
			convey.So(err, convey.ShouldBeNil)

			it, err = disk.Invert()
			convey.So(err, convey.ShouldBeNil)
			got, err := CollectInverted(it)
			convey.So(err, convey.ShouldBeNil)

			diff := cmp.Diff(want, got)
			if diff != "" {
				t.Logf("fixture %s diff (-memory +disk):\n%s", name, diff)
			}
			convey.So(diff, convey.ShouldBeEmpty)
			_ = disk.Close()
		}
	})

	convey.Convey("inversion groups by docid ordered by query then rank", t, func() {
		c := fixtureCache(NewMemoryInverter(), fixtures["overlapping"])
		it, _ := c.Invert()
		entries, _ := CollectInverted(it)
		convey.So(entries[:3], convey.ShouldResemble, []InvertedEntry{
			{DocID: 1, Items: []QueryRank{{QueryID: 2, Rank: 2}}},
			{DocID: 2, Items: []QueryRank{{QueryID: 0, Rank: 1}, {QueryID: 1, Rank: 0}}},
			{DocID: 3, Items: []QueryRank{{QueryID: 2, Rank: 0}}},
		})
		convey.So(entries[3], convey.ShouldResemble, InvertedEntry{
			DocID: 4, Items: []QueryRank{{QueryID: 0, Rank: 0}, {QueryID: 1, Rank: 1}, {QueryID: 2, Rank: 1}},
		})
		convey.So(len(entries), convey.ShouldEqual, 11)
	})
}

func TestDiskInverterLifecycle(t *testing.T) {
	convey.Convey("disk inversion is rebuilt after every change", t, func() {
		inv := NewDiskInverter(t.TempDir())
		c := fixtureCache(inv, hitFixture{"q0": {1, 2}})
		defer c.Close()

		it, err := c.Invert()
		convey.So(err, convey.ShouldBeNil)
		first, _ := CollectInverted(it)
		path := inv.Path()
		convey.So(path, convey.ShouldNotBeEmpty)
		_, err = os.Stat(path)
		convey.So(err, convey.ShouldBeNil)

		it, _ = c.Invert()
		again, _ := CollectInverted(it)
		convey.So(again, convey.ShouldResemble, first)
		convey.So(inv.Path(), convey.ShouldEqual, path)

		mustHits(c, "q1", 2)
		convey.So(inv.Path(), convey.ShouldBeEmpty)
		_, err = os.Stat(path)
		convey.So(os.IsNotExist(err), convey.ShouldBeTrue)

		it, _ = c.Invert()
		rebuilt, _ := CollectInverted(it)
		convey.So(rebuilt, convey.ShouldResemble, []InvertedEntry{
			{DocID: 1, Items: []QueryRank{{QueryID: 0, Rank: 0}}},
			{DocID: 2, Items: []QueryRank{{QueryID: 0, Rank: 1}, {QueryID: 1, Rank: 0}}},
		})
		convey.So(inv.Path(), convey.ShouldNotEqual, path)
	})

	convey.Convey("a structure built for another generation is stale", t, func() {
		for _, inv := range []Inverter{NewMemoryInverter(), NewDiskInverter(t.TempDir())} {
			c := fixtureCache(inv, hitFixture{"q0": {1}})
			it, err := inv.Invert(c)
			convey.So(err, convey.ShouldBeNil)
			_ = it.Close()

			other := fixtureCache(NewMemoryInverter(), hitFixture{"q0": {1}, "q1": {2}})
			_, err = inv.Invert(other)
			convey.So(errors.Is(err, ErrConsistency), convey.ShouldBeTrue)
			_ = inv.Close()
		}
	})
}

func TestInverterOpenIterators(t *testing.T) {
	convey.Convey("a second iterator can be read while the first is open", t, func() {
		for _, inv := range []Inverter{NewMemoryInverter(), NewDiskInverter(t.TempDir())} {
			c := fixtureCache(inv, hitFixture{"q0": {4, 2}, "q1": {2, 9}, "q2": {7}})
			want, err := invertNaive(c)
			convey.So(err, convey.ShouldBeNil)

			first, err := c.Invert()
			convey.So(err, convey.ShouldBeNil)
			convey.So(first.Next(), convey.ShouldBeTrue)
			head := first.Entry()

			done := make(chan []InvertedEntry, 1)
			go func() {
				second, err := c.Invert()
				if err != nil {
					done <- nil
					return
				}
				entries, _ := CollectInverted(second)
				done <- entries
			}()

			var got []InvertedEntry
			select {
			case got = <-done:
			case <-time.After(10 * time.Second):
				t.Fatal("second iterator blocked by the first")
			}
			convey.So(got, convey.ShouldResemble, want)

			rest, err := CollectInverted(first)
			convey.So(err, convey.ShouldBeNil)
			convey.So(append([]InvertedEntry{head}, rest...), convey.ShouldResemble, want)
			convey.So(c.Close(), convey.ShouldBeNil)
		}
	})
}

func TestInvertWhileMutating(t *testing.T) {
	convey.Convey("inverting and writing on separate goroutines always finishes", t, func() {
		for _, inv := range []Inverter{NewMemoryInverter(), NewDiskInverter(t.TempDir())} {
			c := fixtureCache(inv, hitFixture{"q0": {1, 2}, "q1": {3}})

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					if it, err := c.Invert(); err == nil {
						_, _ = CollectInverted(it)
					}
				}
			}()
			go func() {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					qid, err := c.GetOrMakeQueryID(fmt.Sprintf("extra%d", i))
					if err != nil {
						continue
					}
					_ = c.SetHits(qid, []docindex.DocID{docindex.DocID(i), 3})
					_ = c.SetHits(0, []docindex.DocID{docindex.DocID(i + 100)})
				}
			}()

			finished := make(chan struct{})
			go func() {
				wg.Wait()
				close(finished)
			}()
			select {
			case <-finished:
			case <-time.After(30 * time.Second):
				t.Fatal("invert and mutate deadlocked")
			}

			want, err := invertNaive(c)
			convey.So(err, convey.ShouldBeNil)
			it, err := c.Invert()
			convey.So(err, convey.ShouldBeNil)
			got, err := CollectInverted(it)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got, convey.ShouldResemble, want)
			convey.So(c.Close(), convey.ShouldBeNil)
		}
	})
}
