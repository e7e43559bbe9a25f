package docindex

import (
	"fmt"
	"math"
)

const (
	// BM25 parameters
	BM25K1 = 1.2
	BM25B  = 0.75
)

type (
	// Matches matched docid -> weight
	Matches map[DocID]float64

	// Query evaluated against one Reader; a Reader returning
	// ErrDatabaseModified must make the query fail with it
	Query interface {
		Match(r Reader) (Matches, error)

		// MaxWeight upper bound of any weight Match can produce on r
		MaxWeight(r Reader) (float64, error)
	}

	// TermQuery documents indexing Term, weighted by BM25
	TermQuery struct {
		Term string
	}

	orQuery struct {
		subs []Query
	}

	andQuery struct {
		subs []Query
	}

	scaleQuery struct {
		q      Query
		factor float64
	}

	normQuery struct {
		q   Query
		max float64
	}

	allQuery struct{}

	// ValueWeightQuery documents holding a value in Slot, weighted by the
	// sortable-decoded value. Max is the declared upper bound of the values
	ValueWeightQuery struct {
		Slot Slot
		Max  float64
	}
)

func NewTermQuery(term string) *TermQuery {
	return &TermQuery{Term: term}
}

// NewFieldQuery a term query over FieldTerm(field, term)
func NewFieldQuery(field, term string) *TermQuery {
	return &TermQuery{Term: FieldTerm(field, term)}
}

func bm25IDF(total, df uint64) float64 {
	return math.Log(1 + (float64(total)-float64(df)+0.5)/(float64(df)+0.5))
}

func (q *TermQuery) Match(r Reader) (Matches, error) {
	postings, err := r.Postings(q.Term)
	if err != nil {
		return nil, err
	}
	if len(postings) == 0 {
		return Matches{}, nil
	}
	total, err := r.DocCount()
	if err != nil {
		return nil, err
	}
	avg, err := r.AvgLength()
	if err != nil {
		return nil, err
	}
	idf := bm25IDF(total, uint64(len(postings)))
	matches := make(Matches, len(postings))
	for _, p := range postings {
		tf := float64(p.WDF)
		norm := 1 - BM25B + BM25B*float64(p.Length)/avg
		matches[p.DocID] = idf * tf * (BM25K1 + 1) / (tf + BM25K1*norm)
	}
	return matches, nil
}

// MaxWeight the BM25 limit for an unbounded term frequency, never reached
func (q *TermQuery) MaxWeight(r Reader) (float64, error) {
	postings, err := r.Postings(q.Term)
	if err != nil {
		return 0, err
	}
	total, err := r.DocCount()
	if err != nil {
		return 0, err
	}
	return bm25IDF(total, uint64(len(postings))) * (BM25K1 + 1), nil
}

// Or union of subs, weights summed
func Or(subs ...Query) Query {
	return &orQuery{subs: subs}
}

func (q *orQuery) Match(r Reader) (Matches, error) {
	res := make(Matches)
	for _, sub := range q.subs {
		m, err := sub.Match(r)
		if err != nil {
			return nil, err
		}
		for id, w := range m {
			res[id] += w
		}
	}
	return res, nil
}

func (q *orQuery) MaxWeight(r Reader) (float64, error) {
	return sumMaxWeight(r, q.subs)
}

// And intersection of subs, weights summed
func And(subs ...Query) Query {
	return &andQuery{subs: subs}
}

func (q *andQuery) Match(r Reader) (Matches, error) {
	var res Matches
	for i, sub := range q.subs {
		m, err := sub.Match(r)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			res = m
			continue
		}
		for id, w := range res {
			if sw, ok := m[id]; ok {
				res[id] = w + sw
			} else {
				delete(res, id)
			}
		}
	}
	if res == nil {
		res = Matches{}
	}
	return res, nil
}

func (q *andQuery) MaxWeight(r Reader) (float64, error) {
	return sumMaxWeight(r, q.subs)
}

// Scale multiply every weight of q by factor
func Scale(q Query, factor float64) Query {
	return &scaleQuery{q: q, factor: factor}
}

func (q *scaleQuery) Match(r Reader) (Matches, error) {
	m, err := q.q.Match(r)
	if err != nil {
		return nil, err
	}
	for id, w := range m {
		m[id] = w * q.factor
	}
	return m, nil
}

func (q *scaleQuery) MaxWeight(r Reader) (float64, error) {
	w, err := q.q.MaxWeight(r)
	return w * q.factor, err
}

// Norm rescale q so its weights stay below max, a query whose max weight
// is 0 is left as is
func Norm(q Query, max float64) Query {
	return &normQuery{q: q, max: max}
}

func (q *normQuery) factor(r Reader) (float64, error) {
	w, err := q.q.MaxWeight(r)
	if err != nil || w <= 0 {
		return 1, err
	}
	return q.max / w, nil
}

func (q *normQuery) Match(r Reader) (Matches, error) {
	f, err := q.factor(r)
	if err != nil {
		return nil, err
	}
	m, err := q.q.Match(r)
	if err != nil {
		return nil, err
	}
	for id, w := range m {
		m[id] = w * f
	}
	return m, nil
}

func (q *normQuery) MaxWeight(r Reader) (float64, error) {
	w, err := q.q.MaxWeight(r)
	if err != nil || w <= 0 {
		return w, err
	}
	return q.max, nil
}

// All every document with weight 0
func All() Query {
	return allQuery{}
}

func (allQuery) Match(r Reader) (Matches, error) {
	bm, err := r.AllDocs()
	if err != nil {
		return nil, err
	}
	m := make(Matches, bm.GetCardinality())
	iter := bm.Iterator()
	for iter.HasNext() {
		m[DocID(iter.Next())] = 0
	}
	return m, nil
}

func (allQuery) MaxWeight(Reader) (float64, error) {
	return 0, nil
}

func (q *ValueWeightQuery) Match(r Reader) (Matches, error) {
	bm, err := r.DocsWithValue(q.Slot)
	if err != nil {
		return nil, err
	}
	m := make(Matches, bm.GetCardinality())
	iter := bm.Iterator()
	for iter.HasNext() {
		id := DocID(iter.Next())
		v, ok, err := r.Value(id, q.Slot)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		f, err := SortableUnserialise(v)
		if err != nil {
			return nil, fmt.Errorf("slot %d of docid %d: %w", q.Slot, id, err)
		}
		m[id] = f
	}
	return m, nil
}

func (q *ValueWeightQuery) MaxWeight(Reader) (float64, error) {
	return q.Max, nil
}

func sumMaxWeight(r Reader, subs []Query) (float64, error) {
	var total float64
	for _, sub := range subs {
		w, err := sub.MaxWeight(r)
		if err != nil {
			return 0, err
		}
		total += w
	}
	return total, nil
}
