package rankcache

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/echoface/rankcache/applog"
	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/util"
)

// MaxVerifyFailures failures recorded before verification stops
const MaxVerifyFailures = 100

type (
	VerifyReport struct {
		CacheID string `json:"cache_id"`
		Queries int    `json:"queries"`
		// Checked hits found in the index and checked
		Checked int `json:"checked"`
		// Absent hits not in the index, not a failure
		Absent    int      `json:"absent"`
		Failures  []string `json:"failures,omitempty"`
		Truncated bool     `json:"truncated,omitempty"`
	}
)

var errTooManyFailures = errors.New("too many verify failures")

func (rep *VerifyReport) fail(format string, v ...interface{}) error {
	rep.Failures = append(rep.Failures, fmt.Sprintf(format, v...))
	if len(rep.Failures) >= MaxVerifyFailures {
		rep.Truncated = true
		return errTooManyFailures
	}
	return nil
}

func (rep *VerifyReport) OK() bool {
	return len(rep.Failures) == 0
}

// Verify check that the ranks applied to the index match the hit lists of c.
// failures are collected in the report, any failure makes the error wrap
// ErrConsistency
func Verify(r docindex.Reader, c *Cache) (*VerifyReport, error) {
	rep := &VerifyReport{CacheID: c.ID()}
	err := verify(r, c, rep)
	if errors.Is(err, errTooManyFailures) {
		err = nil
	}
	if err != nil {
		return rep, err
	}
	if !rep.OK() {
		return rep, fmt.Errorf("cache %s: %d verify failures: %w", c.ID(), len(rep.Failures), ErrConsistency)
	}
	return rep, nil
}

func verify(r docindex.Reader, c *Cache, rep *VerifyReport) error {
	applog.LogInfo("verify cache:%s, checking query representations", c.ID())
	reprs, err := c.QueryReprs()
	if err != nil {
		return err
	}
	owners := make(map[QueryID]string, len(reprs))
	for _, repr := range util.SortedKeys(reprs) {
		qid := reprs[repr]
		if prev, ok := owners[qid]; ok {
			if err = rep.fail("queryid %d used by both %q and %q", qid, prev, repr); err != nil {
				return err
			}
			continue
		}
		owners[qid] = repr
	}

	qids, err := c.QueryIDs()
	if err != nil {
		return err
	}
	rep.Queries = len(qids)
	for _, qid := range qids {
		if _, ok := owners[qid]; !ok {
			if err = rep.fail("queryid %d has no query representation", qid); err != nil {
				return err
			}
		}
	}

	applog.LogInfo("verify cache:%s, checking stored ranks", c.ID())
	rng, err := NewSlotAllocator(r).Range(c.ID())
	if isNotFound(err) {
		return rep.fail("cache %s was never applied to the index", c.ID())
	}
	if err != nil {
		return err
	}
	for _, qid := range qids {
		if err = verifyQuery(r, c, rng, qid, rep); err != nil {
			return err
		}
	}
	return nil
}

func verifyQuery(r docindex.Reader, c *Cache, rng SlotRange, qid QueryID, rep *VerifyReport) error {
	slot, ok := rng.SlotFor(qid)
	if !ok {
		return rep.fail("queryid %d outside slot range %s", qid, rng)
	}
	hits, err := c.Hits(qid)
	if err != nil {
		return err
	}

	present := make(docindex.DocIDList, 0, len(hits))
	var missing docindex.DocIDList
	var prev []byte
	for _, id := range hits {
		v, ok, err := r.Value(id, slot)
		if errors.Is(err, docindex.ErrNotFound) {
			rep.Absent++
			continue
		}
		if err != nil {
			return err
		}
		rep.Checked++
		present = append(present, id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		if prev != nil && bytes.Compare(v, prev) >= 0 {
			if err = rep.fail("queryid %d values out of order at docid %d", qid, id); err != nil {
				return err
			}
			continue
		}
		prev = v
	}
	if len(missing) > 0 {
		shown := missing
		if len(shown) > 10 {
			shown = shown[:10]
		}
		if err = rep.fail("%d/%d missing values in slot %d for queryid %d: %v",
			len(missing), len(hits), slot, qid, shown); err != nil {
			return err
		}
	}

	stored, err := storedOrder(r, slot)
	if err != nil {
		return err
	}
	if !equalDocIDs(stored, present) {
		return rep.fail("queryid %d stored hits %v do not match cached hits %v", qid, stored, present)
	}
	return nil
}

// storedOrder the documents holding slot ordered by stored value desc
func storedOrder(r docindex.Reader, slot docindex.Slot) (docindex.DocIDList, error) {
	bm, err := r.DocsWithValue(slot)
	if err != nil {
		return nil, err
	}
	type stored struct {
		id    docindex.DocID
		value []byte
	}
	docs := util.CastIntegers[uint64, docindex.DocID](bm.ToArray())
	items := make([]stored, 0, len(docs))
	for _, id := range docs {
		v, _, err := r.Value(id, slot)
		if err != nil {
			return nil, err
		}
		items = append(items, stored{id: id, value: v})
	}
	sort.SliceStable(items, func(i, j int) bool { return bytes.Compare(items[i].value, items[j].value) > 0 })
	ids := make(docindex.DocIDList, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.id)
	}
	return ids, nil
}

func equalDocIDs(a, b docindex.DocIDList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
