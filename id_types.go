package rankcache

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/echoface/rankcache/docindex"
)

const (
	// BaseCacheSlot slots below are ordinary document values, slots from here
	// up belong to the rank caches
	BaseCacheSlot docindex.Slot = 10000

	// MaxRank upper bound (exclusive) of a rank ever stored for one query
	MaxRank = 1000000

	// MaxQueryReprLength max bytes of a query representation
	MaxQueryReprLength = 240
)

type (
	// QueryID dense id of a query inside one cache, allocated from 0
	QueryID uint32

	// Rank position of a document in a hit list, 0 is best
	Rank uint32

	QueryRank struct {
		QueryID QueryID `json:"qid"`
		Rank    Rank    `json:"rank"`
	}

	// RankedDoc a (rank, docid) pair of one hit list. the rank may
	// overestimate the real position of docid but never underestimate it
	RankedDoc struct {
		Rank  Rank
		DocID docindex.DocID
	}

	// InvertedEntry the queries one document is ranked by, ordered by
	// QueryID then Rank
	InvertedEntry struct {
		DocID docindex.DocID `json:"docid"`
		Items []QueryRank    `json:"items"`
	}

	// SlotRange [Base, Limit) the value slots reserved for one cache; slot
	// Base+qid holds the rank for query qid
	SlotRange struct {
		CacheID string        `json:"cache_id"`
		Base    docindex.Slot `json:"base"`
		Limit   docindex.Slot `json:"limit"`
	}
)

// EncodeRank the stored value of rank: MaxRank-rank sortable encoded, so a
// better rank is a larger value
func EncodeRank(rank Rank) ([]byte, error) {
	if rank >= MaxRank {
		return nil, fmt.Errorf("rank %d exceed max rank %d: %w", rank, MaxRank, ErrUsage)
	}
	return docindex.SortableSerialise(float64(MaxRank - rank)), nil
}

// DecodeRank inverse of EncodeRank
func DecodeRank(value []byte) (Rank, error) {
	f, err := docindex.SortableUnserialise(value)
	if err != nil {
		return 0, fmt.Errorf("decode rank: %v: %w", err, ErrConsistency)
	}
	if f < 1 || f > MaxRank || f != math.Trunc(f) {
		return 0, fmt.Errorf("stored rank weight %v out of range: %w", f, ErrConsistency)
	}
	return Rank(MaxRank - uint32(f)), nil
}

// ValidQueryRepr a representation must be valid utf-8, non-empty and at
// most MaxQueryReprLength bytes
func ValidQueryRepr(repr string) error {
	if len(repr) == 0 || len(repr) > MaxQueryReprLength {
		return fmt.Errorf("query representation length %d not in [1,%d]: %w",
			len(repr), MaxQueryReprLength, ErrUsage)
	}
	if !utf8.ValidString(repr) {
		return fmt.Errorf("query representation %q not valid utf-8: %w", repr, ErrUsage)
	}
	return nil
}

func (r SlotRange) Size() int {
	return int(r.Limit - r.Base)
}

func (r SlotRange) Contains(slot docindex.Slot) bool {
	return slot >= r.Base && slot < r.Limit
}

// SlotFor the slot of qid, ok=false when qid lies outside the range
func (r SlotRange) SlotFor(qid QueryID) (docindex.Slot, bool) {
	slot := r.Base + docindex.Slot(qid)
	if slot < r.Base || slot >= r.Limit {
		return 0, false
	}
	return slot, true
}

// QueryID the query whose rank slot holds, slot must be contained
func (r SlotRange) QueryID(slot docindex.Slot) QueryID {
	return QueryID(slot - r.Base)
}

func (r SlotRange) String() string {
	return fmt.Sprintf("<%s,[%d,%d)>", r.CacheID, r.Base, r.Limit)
}
