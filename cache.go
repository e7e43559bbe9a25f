package rankcache

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/echoface/rankcache/applog"
	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/kvstore"
	"github.com/echoface/rankcache/util"
)

const (
	DefaultChunkSize = 1000

	keyNextQueryID = "I"
	keyQueryPrefix = "Q"
	keyHitsPrefix  = "H"
)

type (
	// Cache one named rank cache: query representation -> query id and
	// query id -> ordered hit list, kept in a kvstore namespace
	Cache struct {
		mu sync.Mutex

		id          string
		store       kvstore.Store
		chunkSize   int
		inverter    Inverter
		slotReserve int

		// generation bumped by every mutation
		generation uint64
		closed     bool
	}

	Option func(c *Cache)
)

// WithChunkSize number of hits stored under one key
func WithChunkSize(size int) Option {
	return func(c *Cache) {
		util.PanicIf(size <= 0, "chunk size must be positive, got:%d", size)
		c.chunkSize = size
	}
}

// WithInverter replace the default MemoryInverter
func WithInverter(inv Inverter) Option {
	return func(c *Cache) {
		c.inverter = inv
	}
}

// WithSlotReserve reserve at least n slots when the cache is first applied,
// leaving room for queries added later
func WithSlotReserve(n int) Option {
	return func(c *Cache) {
		c.slotReserve = n
	}
}

func NewCache(id string, store kvstore.Store, opts ...Option) *Cache {
	util.PanicIf(id == "", "cache id must not be empty")
	util.PanicIf(store == nil, "cache %s need a store", id)

	c := &Cache{
		id:        id,
		store:     store,
		chunkSize: DefaultChunkSize,
	}
	for _, fn := range opts {
		fn(c)
	}
	if c.inverter == nil {
		c.inverter = NewMemoryInverter()
	}
	return c
}

func (c *Cache) ID() string {
	return c.id
}

func (c *Cache) SlotReserve() int {
	return c.slotReserve
}

// Generation changes whenever the query ids or hit lists change
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Cache) checkOpen() error {
	if c.closed {
		return fmt.Errorf("cache %s closed: %w", c.id, ErrUsage)
	}
	return nil
}

// mutate run fn under c.mu on an open cache. when fn reports a store write
// the generation is bumped and, once c.mu is released, the inverter is
// invalidated: inverters call back into the cache while holding their own
// lock, so c.mu is never held while taking theirs
func (c *Cache) mutate(fn func() (bool, error)) error {
	c.mu.Lock()
	err := c.checkOpen()
	wrote := false
	if err == nil {
		wrote, err = fn()
		if wrote {
			c.generation++
		}
	}
	c.mu.Unlock()

	if wrote {
		c.inverter.Invalidate()
	}
	return err
}

func (c *Cache) getInt(key string) (uint64, bool, error) {
	data, ok, err := c.store.Get(key)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := decodeInt(data)
	if err != nil {
		return 0, false, fmt.Errorf("cache %s key %q: %w", c.id, key, err)
	}
	return v, true, nil
}

func (c *Cache) IsEmpty() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	_, ok, err := c.store.Get(keyNextQueryID)
	return !ok, err
}

// NumQueries the number of query ids allocated, ids are [0, NumQueries)
func (c *Cache) NumQueries() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	next, _, err := c.getInt(keyNextQueryID)
	return int(next), err
}

// QueryIDs all allocated query ids ascending
func (c *Cache) QueryIDs() ([]QueryID, error) {
	n, err := c.NumQueries()
	if err != nil {
		return nil, err
	}
	ids := make([]QueryID, n)
	for i := range ids {
		ids[i] = QueryID(i)
	}
	return ids, nil
}

// QueryID lookup only, ok=false when repr was never registered
func (c *Cache) QueryID(repr string) (QueryID, bool, error) {
	if err := ValidQueryRepr(repr); err != nil {
		return 0, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, false, err
	}
	v, ok, err := c.getInt(keyQueryPrefix + repr)
	return QueryID(v), ok, err
}

// GetOrMakeQueryID allocate the next id on first use of repr
func (c *Cache) GetOrMakeQueryID(repr string) (QueryID, error) {
	if err := ValidQueryRepr(repr); err != nil {
		return 0, err
	}
	var qid QueryID
	err := c.mutate(func() (bool, error) {
		v, ok, err := c.getInt(keyQueryPrefix + repr)
		if err != nil || ok {
			qid = QueryID(v)
			return false, err
		}
		next, _, err := c.getInt(keyNextQueryID)
		if err != nil {
			return false, err
		}
		if err = c.store.Set(keyQueryPrefix+repr, encodeInt(next)); err != nil {
			return true, err
		}
		qid = QueryID(next)
		return true, c.store.Set(keyNextQueryID, encodeInt(next+1))
	})
	return qid, err
}

// SetQueryID bind repr to an explicit id
func (c *Cache) SetQueryID(repr string, qid QueryID) error {
	if err := ValidQueryRepr(repr); err != nil {
		return err
	}
	return c.mutate(func() (bool, error) {
		if err := c.store.Set(keyQueryPrefix+repr, encodeInt(uint64(qid))); err != nil {
			return true, err
		}
		next, _, err := c.getInt(keyNextQueryID)
		if err != nil || uint64(qid) < next {
			return true, err
		}
		return true, c.store.Set(keyNextQueryID, encodeInt(uint64(qid)+1))
	})
}

// QueryReprs every registered representation with its id
func (c *Cache) QueryReprs() (map[string]QueryID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	keys, err := c.store.Keys(keyQueryPrefix)
	if err != nil {
		return nil, err
	}
	reprs := make(map[string]QueryID, len(keys))
	for _, k := range keys {
		v, ok, err := c.getInt(k)
		if err != nil {
			return nil, err
		}
		if ok {
			reprs[strings.TrimPrefix(k, keyQueryPrefix)] = QueryID(v)
		}
	}
	return reprs, nil
}

func hitChunkKey(qid QueryID, chunk int) string {
	return keyHitsPrefix + strconv.FormatUint(uint64(qid), 10) + ":" + strconv.Itoa(chunk)
}

// Hits the whole hit list of qid, empty for a query without hits
func (c *Cache) Hits(qid QueryID) (docindex.DocIDList, error) {
	return c.HitRange(qid, 0, -1)
}

// HitRange hits ranked [start, end), end < 0 means to the end
func (c *Cache) HitRange(qid QueryID, start, end int) (docindex.DocIDList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.hitRange(qid, start, end)
}

func (c *Cache) hitRange(qid QueryID, start, end int) (docindex.DocIDList, error) {
	if start < 0 {
		start = 0
	}
	hits := make(docindex.DocIDList, 0)
	chunk := start / c.chunkSize
	offset := start - chunk*c.chunkSize
	for end < 0 || chunk*c.chunkSize < end {
		data, ok, err := c.store.Get(hitChunkKey(qid, chunk))
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		ids, err := decodeDocIDs(data)
		if err != nil {
			return nil, fmt.Errorf("cache %s qid %d chunk %d: %w", c.id, qid, chunk, err)
		}
		stop := len(ids)
		if end >= 0 && end-chunk*c.chunkSize < stop {
			stop = end - chunk*c.chunkSize
		}
		if offset < stop {
			hits = append(hits, ids[offset:stop]...)
		}
		offset = 0
		chunk++
	}
	return hits, nil
}

// SetHits replace the hit list of qid wholesale
func (c *Cache) SetHits(qid QueryID, ids []docindex.DocID) error {
	return c.mutate(func() (bool, error) {
		return true, c.writeHits(qid, ids, 0)
	})
}

// writeHits store ids as the hits from chunk on and delete any chunk after
func (c *Cache) writeHits(qid QueryID, ids []docindex.DocID, chunk int) error {
	for offset := 0; offset < len(ids); offset += c.chunkSize {
		end := offset + c.chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := c.store.Set(hitChunkKey(qid, chunk), encodeDocIDs(ids[offset:end])); err != nil {
			return err
		}
		chunk++
	}
	for ; ; chunk++ {
		key := hitChunkKey(qid, chunk)
		_, ok, err := c.store.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err = c.store.Delete(key); err != nil {
			return err
		}
	}
}

// RemoveHits drop the given (rank, docid) entries from the hit list of qid.
// an entry is looked up at its rank first, then searched backwards from it;
// a docid not in the list is ignored
func (c *Cache) RemoveHits(qid QueryID, items []RankedDoc) error {
	if len(items) == 0 {
		return nil
	}
	return c.mutate(func() (bool, error) {
		return true, c.removeHits(qid, items)
	})
}

func (c *Cache) removeHits(qid QueryID, items []RankedDoc) error {
	items = append([]RankedDoc(nil), items...)
	sort.Slice(items, func(i, j int) bool {
		if items[i].Rank != items[j].Rank {
			return items[i].Rank > items[j].Rank
		}
		return items[i].DocID > items[j].DocID
	})

	startChunk := int(items[len(items)-1].Rank) / c.chunkSize
	startRank := startChunk * c.chunkSize
	hits, err := c.hitRange(qid, startRank, -1)
	if err != nil {
		return err
	}

	var unmatched []RankedDoc
	for _, item := range items {
		pos := int(item.Rank) - startRank
		if pos < len(hits) && hits[pos] == item.DocID {
			hits = append(hits[:pos], hits[pos+1:]...)
			continue
		}
		unmatched = append(unmatched, item)
	}

	if len(unmatched) > 0 {
		head, err := c.hitRange(qid, 0, startRank)
		if err != nil {
			return err
		}
		hits = append(head, hits...)
		startChunk = 0

		for _, item := range unmatched {
			pos := int(item.Rank)
			if pos > len(hits)-1 {
				pos = len(hits) - 1
			}
			for ; pos >= 0; pos-- {
				if hits[pos] == item.DocID {
					hits = append(hits[:pos], hits[pos+1:]...)
					break
				}
			}
			applog.LogDebugIf(pos < 0, "cache:%s qid:%d docid:%d rank:%d not in hit list",
				c.id, qid, item.DocID, item.Rank)
		}
	}

	return c.writeHits(qid, hits, startChunk)
}

// Invert the document -> (query, rank) view of the cache; the iterator must be
// closed before the cache is mutated again
func (c *Cache) Invert() (InvertedIterator, error) {
	c.mu.Lock()
	if err := c.checkOpen(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()
	return c.inverter.Invert(c)
}

// RemoveCachedItems drop doc from the hit lists of the queries whose slots it
// carries; nothing to do before the cache was first applied
func (c *Cache) RemoveCachedItems(r docindex.MetadataReader, doc *docindex.Document) error {
	rng, err := NewSlotAllocator(r).Range(c.id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	removals, err := collectRemovals(doc, rng)
	if err != nil {
		return err
	}
	return c.removeAll(removals)
}

func (c *Cache) removeAll(removals map[QueryID][]RankedDoc) error {
	for _, qid := range util.SortedKeys(removals) {
		if err := c.RemoveHits(qid, removals[qid]); err != nil {
			return err
		}
	}
	return nil
}

// collectRemovals the (rank, docid) entries doc holds inside rng, per query
func collectRemovals(doc *docindex.Document, rng SlotRange) (map[QueryID][]RankedDoc, error) {
	removals := make(map[QueryID][]RankedDoc)
	for _, slot := range doc.ValueSlots() {
		if !rng.Contains(slot) {
			continue
		}
		v, _ := doc.Value(slot)
		rank, err := DecodeRank(v)
		if err != nil {
			return nil, fmt.Errorf("docid %d slot %d: %w", doc.DocID(), slot, err)
		}
		qid := rng.QueryID(slot)
		removals[qid] = append(removals[qid], RankedDoc{Rank: rank, DocID: doc.DocID()})
	}
	return removals, nil
}

// ApplyCachedItems write the cache ranks into the index value slots
func (c *Cache) ApplyCachedItems(w *docindex.Writer) error {
	_, err := ApplyCache(w, c)
	return err
}

func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.store.Flush()
}

// Close flush and close the store and the inverter
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := errors.Join(c.store.Flush(), c.store.Close())
	c.mu.Unlock()

	return errors.Join(err, c.inverter.Close())
}
