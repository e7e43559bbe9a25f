package rankcache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/echoface/rankcache/docindex"
)

type (
	// HitSource what an Inverter reads, implemented by *Cache
	HitSource interface {
		QueryIDs() ([]QueryID, error)

		Hits(qid QueryID) (docindex.DocIDList, error)

		Generation() uint64
	}

	// InvertedIterator yields InvertedEntry ordered by DocID
	InvertedIterator interface {
		Next() bool

		Entry() InvertedEntry

		Err() error

		Close() error
	}

	// Inverter turns query -> hits into docid -> (query, rank). the prepared
	// structure is kept until Invalidate; each Invert call returns a fresh
	// iterator over it
	Inverter interface {
		Invert(src HitSource) (InvertedIterator, error)

		Invalidate()

		Close() error
	}

	// MemoryInverter builds the whole inversion as a sorted slice in memory
	MemoryInverter struct {
		mu         sync.Mutex
		built      bool
		generation uint64
		entries    []InvertedEntry
	}

	sliceIterator struct {
		entries []InvertedEntry
		cursor  int
	}
)

func NewMemoryInverter() *MemoryInverter {
	return &MemoryInverter{}
}

func (inv *MemoryInverter) Invert(src HitSource) (InvertedIterator, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	gen := src.Generation()
	if inv.built && inv.generation != gen {
		return nil, fmt.Errorf("memory inversion built at generation %d, source at %d: %w",
			inv.generation, gen, ErrConsistency)
	}
	if !inv.built {
		entries, err := invertNaive(src)
		if err != nil {
			return nil, err
		}
		inv.entries, inv.generation, inv.built = entries, gen, true
	}
	return &sliceIterator{entries: inv.entries, cursor: -1}, nil
}

func (inv *MemoryInverter) Invalidate() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.entries, inv.built = nil, false
}

func (inv *MemoryInverter) Close() error {
	inv.Invalidate()
	return nil
}

// invertNaive one pass over every hit list
func invertNaive(src HitSource) ([]InvertedEntry, error) {
	qids, err := src.QueryIDs()
	if err != nil {
		return nil, err
	}
	byDoc := make(map[docindex.DocID][]QueryRank)
	for _, qid := range qids {
		hits, err := src.Hits(qid)
		if err != nil {
			return nil, err
		}
		for rank, id := range hits {
			byDoc[id] = append(byDoc[id], QueryRank{QueryID: qid, Rank: Rank(rank)})
		}
	}
	entries := make([]InvertedEntry, 0, len(byDoc))
	for id, items := range byDoc {
		sort.Slice(items, func(i, j int) bool {
			if items[i].QueryID != items[j].QueryID {
				return items[i].QueryID < items[j].QueryID
			}
			return items[i].Rank < items[j].Rank
		})
		entries = append(entries, InvertedEntry{DocID: id, Items: items})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DocID < entries[j].DocID })
	return entries, nil
}

func (it *sliceIterator) Next() bool {
	if it.cursor+1 >= len(it.entries) {
		it.cursor = len(it.entries)
		return false
	}
	it.cursor++
	return true
}

func (it *sliceIterator) Entry() InvertedEntry {
	e := it.entries[it.cursor]
	return InvertedEntry{DocID: e.DocID, Items: append([]QueryRank(nil), e.Items...)}
}

func (it *sliceIterator) Err() error {
	return nil
}

func (it *sliceIterator) Close() error {
	return nil
}

// CollectInverted drain it into a slice and close it
func CollectInverted(it InvertedIterator) ([]InvertedEntry, error) {
	defer it.Close()
	entries := make([]InvertedEntry, 0)
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries, it.Err()
}
