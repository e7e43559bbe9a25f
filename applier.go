package rankcache

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/echoface/rankcache/applog"
	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/util"
)

type (
	ApplyStats struct {
		// Documents documents whose rank slots were written
		Documents int `json:"documents"`
		// Values rank values written
		Values int `json:"values"`
		// Skipped hit-listed documents absent from the index
		Skipped int `json:"skipped"`
		// OutOfRange (query, rank) items whose slot lies outside the range
		OutOfRange int `json:"out_of_range"`
		// Cleared documents whose stale ranks of this cache were removed
		Cleared int `json:"cleared"`
	}
)

// ApplyCache write the ranks of c into the value slots of the indexed
// documents. documents absent from the index are skipped, ranks left by a
// previous apply on documents no longer ranked are cleared. applying an
// unchanged cache again leaves the slots unchanged
func ApplyCache(w *docindex.Writer, c *Cache) (stats ApplyStats, err error) {
	n, err := c.NumQueries()
	if err != nil {
		return stats, err
	}
	rng, err := NewSlotAllocator(w).Reserve(c.ID(), util.MaxInt(n, c.SlotReserve()))
	if err != nil {
		return stats, err
	}
	if err = w.SetMetadata(docindex.CacheAppliedKey, "1"); err != nil {
		return stats, err
	}

	stale := roaring64.New()
	for slot := rng.Base; slot < rng.Limit; slot++ {
		bm, err := w.DocsWithValue(slot)
		if err != nil {
			return stats, err
		}
		stale.Or(bm)
	}

	it, err := c.Invert()
	if err != nil {
		return stats, err
	}
	defer it.Close()

	touched := roaring64.New()
	for it.Next() {
		entry := it.Entry()
		err = w.UpdateValues(entry.DocID, func(doc *docindex.Document) error {
			clearRange(doc, rng)
			for _, item := range entry.Items {
				slot, ok := rng.SlotFor(item.QueryID)
				if !ok {
					stats.OutOfRange++
					continue
				}
				v, err := EncodeRank(item.Rank)
				if err != nil {
					return err
				}
				doc.SetValue(slot, v)
				stats.Values++
			}
			return nil
		})
		if errors.Is(err, docindex.ErrNotFound) {
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("apply cache %s to docid %d: %w", c.ID(), entry.DocID, err)
		}
		touched.Add(uint64(entry.DocID))
		stats.Documents++
	}
	if err = it.Err(); err != nil {
		return stats, err
	}

	stale.AndNot(touched)
	iter := stale.Iterator()
	for iter.HasNext() {
		id := docindex.DocID(iter.Next())
		err = w.UpdateValues(id, func(doc *docindex.Document) error {
			clearRange(doc, rng)
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("clear cache %s ranks of docid %d: %w", c.ID(), id, err)
		}
		stats.Cleared++
	}

	applog.LogInfo("cache:%s applied to slots %s, stats:%s", c.ID(), rng, util.JSONString(stats))
	applog.LogInfoIf(stats.OutOfRange > 0, "cache:%s %d ranks outside slot range %s skipped",
		c.ID(), stats.OutOfRange, rng)
	return stats, nil
}

func clearRange(doc *docindex.Document, rng SlotRange) {
	for _, slot := range doc.ValueSlots() {
		if rng.Contains(slot) {
			doc.RemoveValue(slot)
		}
	}
}
