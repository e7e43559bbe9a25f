package rankcache

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/echoface/rankcache/applog"
	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/util"
)

type (
	// CacheOpener open (or create) the cache named id
	CacheOpener func(id string) (*Cache, error)

	// Coordinator a set of named caches sharing one index. reads go to the
	// selected cache; apply, flush, close and invalidation go to all of them
	Coordinator struct {
		mu sync.Mutex

		opener   CacheOpener
		caches   map[string]*Cache
		order    []string
		selected *Cache

		// slot table sorted by base, nil until first needed. tableKey is the
		// slot metadata it was built from
		table    []slotEntry
		tableKey string
	}

	slotEntry struct {
		rng   SlotRange
		cache *Cache
	}
)

var (
	_ Manager = (*Cache)(nil)
	_ Manager = (*Coordinator)(nil)
)

func NewCoordinator(opener CacheOpener) *Coordinator {
	return &Coordinator{
		opener: opener,
		caches: make(map[string]*Cache),
	}
}

// AddCache open cache id through the opener, the first cache added is selected
func (c *Coordinator) AddCache(id string) (*Cache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cache, ok := c.caches[id]; ok {
		return cache, nil
	}
	if c.opener == nil {
		return nil, fmt.Errorf("add cache %s without an opener: %w", id, ErrUsage)
	}
	cache, err := c.opener(id)
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", id, err)
	}
	c.attach(cache)
	return cache, nil
}

// Attach add an already opened cache, replacing any cache with the same id
func (c *Coordinator) Attach(cache *Cache) {
	util.PanicIf(cache == nil, "attach nil cache")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attach(cache)
}

func (c *Coordinator) attach(cache *Cache) {
	id := cache.ID()
	if _, ok := c.caches[id]; !ok {
		c.order = append(c.order, id)
	}
	c.caches[id] = cache
	if c.selected == nil || c.selected.ID() == id {
		c.selected = cache
	}
	c.table = nil
}

func (c *Coordinator) SelectCache(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cache, ok := c.caches[id]
	if !ok {
		return fmt.Errorf("select cache %s: %w", id, ErrNotFound)
	}
	c.selected = cache
	return nil
}

// Selected the cache reads go to, nil when none was added
func (c *Coordinator) Selected() *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Coordinator) Cache(id string) (*Cache, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache, ok := c.caches[id]
	return cache, ok
}

// CacheIDs in the order they were added
func (c *Coordinator) CacheIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *Coordinator) all() []*Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	caches := make([]*Cache, 0, len(c.order))
	for _, id := range c.order {
		caches = append(caches, c.caches[id])
	}
	return caches
}

func (c *Coordinator) mustSelected() (*Cache, error) {
	cache := c.Selected()
	if cache == nil {
		return nil, fmt.Errorf("no cache selected: %w", ErrUsage)
	}
	return cache, nil
}

func (c *Coordinator) ID() string {
	if cache := c.Selected(); cache != nil {
		return cache.ID()
	}
	return ""
}

func (c *Coordinator) QueryID(repr string) (QueryID, bool, error) {
	cache, err := c.mustSelected()
	if err != nil {
		return 0, false, err
	}
	return cache.QueryID(repr)
}

func (c *Coordinator) Hits(qid QueryID) (docindex.DocIDList, error) {
	cache, err := c.mustSelected()
	if err != nil {
		return nil, err
	}
	return cache.Hits(qid)
}

func (c *Coordinator) QueryIDs() ([]QueryID, error) {
	cache, err := c.mustSelected()
	if err != nil {
		return nil, err
	}
	return cache.QueryIDs()
}

func (c *Coordinator) NumQueries() (int, error) {
	cache, err := c.mustSelected()
	if err != nil {
		return 0, err
	}
	return cache.NumQueries()
}

// Merge live with the ranks of qid in the selected cache
func (c *Coordinator) Merge(live docindex.Query, qid QueryID) (docindex.Query, error) {
	cache, err := c.mustSelected()
	if err != nil {
		return nil, err
	}
	return Merge(live, cache, qid), nil
}

// ResetSlotTable forget the slot table, rebuilt from the metadata on next use
func (c *Coordinator) ResetSlotTable() {
	c.mu.Lock()
	c.table = nil
	c.mu.Unlock()
}

// slotMetadataKey the raw slot metadata, any cache applied or grown since
// the table was built changes it
func slotMetadataKey(r docindex.MetadataReader) (string, error) {
	caches, err := r.Metadata(MetaCaches)
	if err != nil {
		return "", err
	}
	high, err := r.Metadata(MetaNumCacheSlots)
	if err != nil {
		return "", err
	}
	return caches + "\x00" + high, nil
}

func (c *Coordinator) slotTable(r docindex.MetadataReader) ([]slotEntry, error) {
	key, err := slotMetadataKey(r)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.table != nil && c.tableKey == key {
		return c.table, nil
	}
	ranges, err := NewSlotAllocator(r).Ranges()
	if err != nil {
		return nil, err
	}
	table := make([]slotEntry, 0, len(ranges))
	for _, rng := range ranges {
		if cache, ok := c.caches[rng.CacheID]; ok {
			table = append(table, slotEntry{rng: rng, cache: cache})
		}
	}
	sort.Slice(table, func(i, j int) bool { return table[i].rng.Base < table[j].rng.Base })
	c.table, c.tableKey = table, key
	return table, nil
}

// RemoveCachedItems route every cache slot of doc to the cache owning it. slots
// are visited ascending so the table pointer only moves forward
func (c *Coordinator) RemoveCachedItems(r docindex.MetadataReader, doc *docindex.Document) error {
	table, err := c.slotTable(r)
	if err != nil || len(table) == 0 {
		return err
	}

	removals := make([]map[QueryID][]RankedDoc, len(table))
	idx := 0
	for _, slot := range doc.ValueSlots() {
		for idx < len(table) && slot >= table[idx].rng.Limit {
			idx++
		}
		if idx == len(table) {
			break
		}
		rng := table[idx].rng
		if !rng.Contains(slot) {
			continue
		}
		v, _ := doc.Value(slot)
		rank, err := DecodeRank(v)
		if err != nil {
			return fmt.Errorf("docid %d slot %d: %w", doc.DocID(), slot, err)
		}
		if removals[idx] == nil {
			removals[idx] = make(map[QueryID][]RankedDoc)
		}
		qid := rng.QueryID(slot)
		removals[idx][qid] = append(removals[idx][qid], RankedDoc{Rank: rank, DocID: doc.DocID()})
	}

	for i, items := range removals {
		if items == nil {
			continue
		}
		if err = table[i].cache.removeAll(items); err != nil {
			return err
		}
	}
	return nil
}

// ApplyCachedItems apply every cache in the order added
func (c *Coordinator) ApplyCachedItems(w *docindex.Writer) error {
	defer c.ResetSlotTable()
	for _, cache := range c.all() {
		if _, err := ApplyCache(w, cache); err != nil {
			return fmt.Errorf("apply cache %s: %w", cache.ID(), err)
		}
	}
	return nil
}

func (c *Coordinator) Flush() error {
	var errs []error
	for _, cache := range c.all() {
		if err := cache.Flush(); err != nil {
			applog.LogErr("flush cache:%s fail:%v", cache.ID(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) Close() error {
	var errs []error
	for _, cache := range c.all() {
		if err := cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache %s: %w", cache.ID(), err))
		}
	}
	c.mu.Lock()
	c.selected, c.table = nil, nil
	c.mu.Unlock()
	return errors.Join(errs...)
}
