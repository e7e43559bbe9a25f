package rankcache

import (
	"errors"

	"github.com/echoface/rankcache/docindex"
)

type (
	// Named anything identifying a cache: *Cache, a cache config
	Named interface {
		ID() string
	}

	// CachedRankQuery matches the documents ranked for QueryID in cache
	// CacheID, weighted MaxRank-rank. the slot is resolved on the reader the
	// query runs on, so a retried search sees the current slot table
	CachedRankQuery struct {
		CacheID string
		QueryID QueryID
	}
)

func NewCachedRankQuery(cacheID string, qid QueryID) *CachedRankQuery {
	return &CachedRankQuery{CacheID: cacheID, QueryID: qid}
}

func (q *CachedRankQuery) slotQuery(r docindex.Reader) (*docindex.ValueWeightQuery, error) {
	rng, err := NewSlotAllocator(r).Range(q.CacheID)
	if err != nil {
		return nil, err
	}
	slot, ok := rng.SlotFor(q.QueryID)
	if !ok {
		return nil, nil
	}
	return &docindex.ValueWeightQuery{Slot: slot, Max: MaxRank}, nil
}

func (q *CachedRankQuery) Match(r docindex.Reader) (docindex.Matches, error) {
	vq, err := q.slotQuery(r)
	if err != nil || vq == nil {
		return docindex.Matches{}, err
	}
	return vq.Match(r)
}

func (q *CachedRankQuery) MaxWeight(docindex.Reader) (float64, error) {
	return MaxRank, nil
}

// Merge live combined with the cached ranks of qid: live weights are
// normalised below 1 and every cached weight is at least 1, so ranked
// documents come first in rank order and the rest follow in live order
func Merge(live docindex.Query, cache Named, qid QueryID) docindex.Query {
	return docindex.Or(docindex.Norm(live, 1), NewCachedRankQuery(cache.ID(), qid))
}

// CachedRank read back the rank docid holds for qid of cacheID
func CachedRank(r docindex.Reader, cacheID string, qid QueryID, docid docindex.DocID) (Rank, bool, error) {
	rng, err := NewSlotAllocator(r).Range(cacheID)
	if err != nil {
		return 0, false, err
	}
	slot, ok := rng.SlotFor(qid)
	if !ok {
		return 0, false, nil
	}
	v, ok, err := r.Value(docid, slot)
	if err != nil || !ok {
		if errors.Is(err, docindex.ErrNotFound) {
			err = nil
		}
		return 0, false, err
	}
	rank, err := DecodeRank(v)
	return rank, err == nil, err
}
