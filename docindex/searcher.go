package docindex

import (
	"errors"
	"sort"

	"github.com/echoface/rankcache/applog"
)

type (
	Hit struct {
		DocID  DocID   `json:"docid"`
		ID     string  `json:"id"`
		Weight float64 `json:"weight"`
	}

	Results struct {
		Hits []Hit `json:"hits"`
		// Matched total number of matching documents
		Matched int `json:"matched"`
		// Retries reopen count spent on this search
		Retries int `json:"retries"`
	}

	// Searcher runs reads against a snapshot, reopening the snapshot and
	// retrying the whole read whenever a concurrent commit superseded it
	Searcher struct {
		db   *Database
		snap *Snapshot
	}
)

func NewSearcher(db *Database) (*Searcher, error) {
	snap, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	return &Searcher{db: db, snap: snap}, nil
}

// Reopen switch to the latest committed state
func (s *Searcher) Reopen() error {
	snap, err := s.db.Snapshot()
	if err != nil {
		return err
	}
	s.snap = snap
	return nil
}

func (s *Searcher) Snapshot() *Snapshot {
	return s.snap
}

// Do run fn against the current snapshot, reopening and rerunning it as long
// as it fails with ErrDatabaseModified. returns the number of retries
func (s *Searcher) Do(fn func(r Reader) error) (int, error) {
	for retries := 0; ; retries++ {
		err := fn(s.snap)
		if !errors.Is(err, ErrDatabaseModified) {
			return retries, err
		}
		applog.LogDebug("snapshot revision:%d superseded, reopen and retry", s.snap.Revision())
		if err = s.Reopen(); err != nil {
			return retries, err
		}
	}
}

// Search evaluate q and return the hits ranked [start, end) ordered by weight
// desc then docid asc; end < 0 means all
func (s *Searcher) Search(q Query, start, end int) (*Results, error) {
	var res *Results
	retries, err := s.Do(func(r Reader) (err error) {
		res, err = search(r, q, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Retries = retries
	return res, nil
}

func search(r Reader, q Query, start, end int) (*Results, error) {
	matches, err := q.Match(r)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(matches))
	for id, w := range matches {
		hits = append(hits, Hit{DocID: id, Weight: w})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Weight != hits[j].Weight {
			return hits[i].Weight > hits[j].Weight
		}
		return hits[i].DocID < hits[j].DocID
	})

	if start < 0 {
		start = 0
	}
	if end < 0 || end > len(hits) {
		end = len(hits)
	}
	if start > end {
		start = end
	}
	res := &Results{Hits: hits[start:end], Matched: len(hits)}
	for i := range res.Hits {
		doc, err := r.DocumentByDocID(res.Hits[i].DocID)
		if err != nil {
			return nil, err
		}
		res.Hits[i].ID = doc.ID
	}
	return res, nil
}

// DocIDs the docids of the hits in rank order
func (res *Results) DocIDs() DocIDList {
	ids := make(DocIDList, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.DocID)
	}
	return ids
}

// IDs the unique ids of the hits in rank order
func (res *Results) IDs() []string {
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids
}
