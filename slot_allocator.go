package rankcache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/util"
)

const (
	// MetaCaches index metadata key holding {cache_id: slot offset}
	MetaCaches = "caches"
	// MetaNumCacheSlots index metadata key holding the slot high-water mark
	MetaNumCacheSlots = "num_cache_slots"
)

type (
	// SlotAllocator hands out disjoint slot ranges to caches. the table lives
	// in the index metadata; new caches are appended at the high-water mark and
	// ranges are never moved or reused
	SlotAllocator struct {
		meta docindex.MetadataReader

		loaded  bool
		offsets map[string]uint32
		high    uint32
	}
)

func NewSlotAllocator(meta docindex.MetadataReader) *SlotAllocator {
	util.PanicIf(meta == nil, "slot allocator need a metadata reader")
	return &SlotAllocator{meta: meta}
}

// Reload drop the parsed table, the next call reads the metadata again
func (a *SlotAllocator) Reload() {
	a.loaded = false
	a.offsets = nil
	a.high = 0
}

func (a *SlotAllocator) load() error {
	if a.loaded {
		return nil
	}
	raw, err := a.meta.Metadata(MetaCaches)
	if err != nil {
		return err
	}
	offsets := make(map[string]uint32)
	if raw != "" {
		if err = json.Unmarshal([]byte(raw), &offsets); err != nil {
			return fmt.Errorf("parse %s metadata: %v: %w", MetaCaches, err, ErrConsistency)
		}
	}
	var high uint64
	if raw, err = a.meta.Metadata(MetaNumCacheSlots); err != nil {
		return err
	}
	if raw != "" {
		if high, err = strconv.ParseUint(raw, 10, 32); err != nil {
			return fmt.Errorf("parse %s metadata: %v: %w", MetaNumCacheSlots, err, ErrConsistency)
		}
	}
	a.offsets, a.high, a.loaded = offsets, uint32(high), true
	return nil
}

// Ranges all registered ranges sorted by base. the limit of a range is the
// next offset, or the high-water mark for the last one
func (a *SlotAllocator) Ranges() ([]SlotRange, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	ranges := make([]SlotRange, 0, len(a.offsets))
	for id, off := range a.offsets {
		ranges = append(ranges, SlotRange{CacheID: id, Base: BaseCacheSlot + docindex.Slot(off)})
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Base != ranges[j].Base {
			return ranges[i].Base < ranges[j].Base
		}
		return ranges[i].CacheID < ranges[j].CacheID
	})
	for i := range ranges {
		if i+1 < len(ranges) {
			ranges[i].Limit = ranges[i+1].Base
		} else {
			ranges[i].Limit = BaseCacheSlot + docindex.Slot(a.high)
		}
		if ranges[i].Limit <= ranges[i].Base {
			return nil, fmt.Errorf("slot range %s overlap or empty, high-water:%d: %w",
				ranges[i], a.high, ErrConsistency)
		}
	}
	return ranges, nil
}

// Range the slots reserved for cacheID, ErrNotFound when unregistered
func (a *SlotAllocator) Range(cacheID string) (SlotRange, error) {
	ranges, err := a.Ranges()
	if err != nil {
		return SlotRange{}, err
	}
	for _, r := range ranges {
		if r.CacheID == cacheID {
			return r, nil
		}
	}
	return SlotRange{}, fmt.Errorf("cache %s has no slot range: %w", cacheID, ErrNotFound)
}

func (a *SlotAllocator) SlotBase(cacheID string) (docindex.Slot, error) {
	r, err := a.Range(cacheID)
	return r.Base, err
}

// Reserve register cacheID with max(n, 1) slots, a registered cache keeps its
// range and must fit in it. the metadata must be writable
func (a *SlotAllocator) Reserve(cacheID string, n int) (SlotRange, error) {
	if cacheID == "" || n < 0 {
		return SlotRange{}, fmt.Errorf("reserve %d slots for cache %q: %w", n, cacheID, ErrUsage)
	}
	r, err := a.Range(cacheID)
	if err == nil {
		if n > r.Size() {
			return r, fmt.Errorf("cache %s need %d slots, %d reserved, growing a cache is unsupported: %w",
				cacheID, n, r.Size(), ErrUsage)
		}
		return r, nil
	}
	if !isNotFound(err) {
		return r, err
	}

	mw, ok := a.meta.(docindex.MetadataWriter)
	if !ok {
		return r, fmt.Errorf("reserve slots for cache %s on read-only metadata: %w", cacheID, ErrUsage)
	}
	if n < 1 {
		n = 1
	}
	offset := a.high
	high := uint64(offset) + uint64(n)
	if uint64(BaseCacheSlot)+high > uint64(^docindex.Slot(0)) {
		return r, fmt.Errorf("slot space exhausted reserving %d for cache %s: %w", n, cacheID, ErrUsage)
	}

	offsets := make(map[string]uint32, len(a.offsets)+1)
	for k, v := range a.offsets {
		offsets[k] = v
	}
	offsets[cacheID] = offset
	raw, err := json.Marshal(offsets)
	if err != nil {
		return r, err
	}
	if err = mw.SetMetadata(MetaCaches, string(raw)); err != nil {
		return r, err
	}
	if err = mw.SetMetadata(MetaNumCacheSlots, strconv.FormatUint(high, 10)); err != nil {
		return r, err
	}
	a.offsets, a.high = offsets, uint32(high)
	return SlotRange{
		CacheID: cacheID,
		Base:    BaseCacheSlot + docindex.Slot(offset),
		Limit:   BaseCacheSlot + docindex.Slot(high),
	}, nil
}
