package docindex

import (
	"sort"
	"strconv"
)

type (
	// DocID internal document number, assigned by the index, never 0
	DocID     uint64
	DocIDList []DocID

	// Slot number of a per-document value slot
	Slot uint32

	// Document a processed document: unique id, weighted terms, value slots and
	// stored data. documents held by the index are immutable, all accessors
	// return copies
	Document struct {
		ID string `json:"id"`

		docID  DocID
		terms  map[string]uint32
		values map[Slot][]byte
		data   map[string]string
	}
)

func NewDocument(id string) *Document {
	return &Document{
		ID:     id,
		terms:  make(map[string]uint32),
		values: make(map[Slot][]byte),
		data:   make(map[string]string),
	}
}

// FieldTerm the term a field value is indexed as
func FieldTerm(field, term string) string {
	return field + ":" + term
}

func (doc *Document) DocID() DocID {
	return doc.docID
}

// AddTerm add wdf occurrences of term
func (doc *Document) AddTerm(term string, wdf uint32) *Document {
	if wdf == 0 {
		wdf = 1
	}
	doc.terms[term] += wdf
	return doc
}

func (doc *Document) AddFieldTerm(field, term string, wdf uint32) *Document {
	return doc.AddTerm(FieldTerm(field, term), wdf)
}

func (doc *Document) TermFreq(term string) uint32 {
	return doc.terms[term]
}

// Terms return all terms in lexicographic order
func (doc *Document) Terms() []string {
	terms := make([]string, 0, len(doc.terms))
	for t := range doc.terms {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// Length sum of wdf of all terms
func (doc *Document) Length() uint64 {
	var l uint64
	for _, wdf := range doc.terms {
		l += uint64(wdf)
	}
	return l
}

func (doc *Document) SetValue(slot Slot, value []byte) *Document {
	doc.values[slot] = append([]byte(nil), value...)
	return doc
}

func (doc *Document) Value(slot Slot) ([]byte, bool) {
	v, ok := doc.values[slot]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (doc *Document) HasValue(slot Slot) bool {
	_, ok := doc.values[slot]
	return ok
}

func (doc *Document) RemoveValue(slot Slot) {
	delete(doc.values, slot)
}

// ValueSlots return the occupied slots in ascending order
func (doc *Document) ValueSlots() []Slot {
	slots := make([]Slot, 0, len(doc.values))
	for s := range doc.values {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

func (doc *Document) SetData(key, value string) *Document {
	doc.data[key] = value
	return doc
}

func (doc *Document) Data(key string) string {
	return doc.data[key]
}

// Clone deep copy, the internal docid is kept
func (doc *Document) Clone() *Document {
	c := NewDocument(doc.ID)
	c.docID = doc.docID
	for t, wdf := range doc.terms {
		c.terms[t] = wdf
	}
	for s, v := range doc.values {
		c.values[s] = append([]byte(nil), v...)
	}
	for k, v := range doc.data {
		c.data[k] = v
	}
	return c
}

// defaultID the unique id assigned when a document is added without one
func defaultID(id DocID) string {
	return strconv.FormatUint(uint64(id), 16)
}

func (s DocIDList) Contain(id DocID) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

//Len sort API
func (s DocIDList) Len() int           { return len(s) }
func (s DocIDList) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s DocIDList) Less(i, j int) bool { return s[i] < s[j] }
