package docindex

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

var persistSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (docid INTEGER PRIMARY KEY, body BLOB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS counters (name TEXT PRIMARY KEY, value INTEGER NOT NULL)`,
}

type (
	persistStore struct {
		db *sql.DB
	}

	// documentRecord stored body of one document
	documentRecord struct {
		ID     string            `json:"id"`
		Terms  map[string]uint32 `json:"terms,omitempty"`
		Values map[Slot][]byte   `json:"values,omitempty"`
		Data   map[string]string `json:"data,omitempty"`
	}
)

func openPersistStore(path string) (*persistStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// the database/sql pool must not hand a second connection to sqlite
	db.SetMaxOpenConns(1)
	for _, ddl := range persistSchema {
		if _, err = db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &persistStore{db: db}, nil
}

func (s *persistStore) load() (*state, error) {
	st := newState()

	rows, err := s.db.Query(`SELECT docid, body FROM documents ORDER BY docid`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id int64
		var body []byte
		if err = rows.Scan(&id, &body); err != nil {
			_ = rows.Close()
			return nil, err
		}
		var rec documentRecord
		if err = json.Unmarshal(body, &rec); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("decode docid %d: %w", id, err)
		}
		st.insert(rec.document(DocID(id)))
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT key, value FROM metadata`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var k, v string
		if err = rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return nil, err
		}
		st.meta[k] = v
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}

	var counter int64
	err = s.db.QueryRow(`SELECT value FROM counters WHERE name = 'last_docid'`).Scan(&counter)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	case DocID(counter) > st.lastDocID:
		st.lastDocID = DocID(counter)
	}
	err = s.db.QueryRow(`SELECT value FROM counters WHERE name = 'revision'`).Scan(&counter)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	default:
		st.revision = uint64(counter)
	}
	return st, nil
}

// save write the listed documents and metadata keys of st in one transaction,
// listed entries absent from st are deleted
func (s *persistStore) save(st *state, docs map[DocID]struct{}, meta map[string]struct{}) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for id := range docs {
		doc, ok := st.docs[id]
		if !ok {
			if _, err = tx.Exec(`DELETE FROM documents WHERE docid = ?`, int64(id)); err != nil {
				return err
			}
			continue
		}
		var body []byte
		if body, err = json.Marshal(newDocumentRecord(doc)); err != nil {
			return err
		}
		if _, err = tx.Exec(`INSERT INTO documents (docid, body) VALUES (?, ?)
			ON CONFLICT(docid) DO UPDATE SET body = excluded.body`, int64(id), body); err != nil {
			return err
		}
	}
	for key := range meta {
		value, ok := st.meta[key]
		if !ok {
			if _, err = tx.Exec(`DELETE FROM metadata WHERE key = ?`, key); err != nil {
				return err
			}
			continue
		}
		if _, err = tx.Exec(`INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
			return err
		}
	}
	counters := map[string]int64{"last_docid": int64(st.lastDocID), "revision": int64(st.revision)}
	for name, value := range counters {
		if _, err = tx.Exec(`INSERT INTO counters (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *persistStore) Close() error {
	return s.db.Close()
}

func newDocumentRecord(doc *Document) *documentRecord {
	return &documentRecord{ID: doc.ID, Terms: doc.terms, Values: doc.values, Data: doc.data}
}

func (rec *documentRecord) document(id DocID) *Document {
	doc := NewDocument(rec.ID)
	doc.docID = id
	for t, wdf := range rec.Terms {
		doc.terms[t] = wdf
	}
	for s, v := range rec.Values {
		doc.values[s] = v
	}
	for k, v := range rec.Data {
		doc.data[k] = v
	}
	return doc
}
