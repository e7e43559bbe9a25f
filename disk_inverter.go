package rankcache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/echoface/rankcache/applog"
	"github.com/echoface/rankcache/docindex"
)

const invertBatchSize = 5000

type (
	// DiskInverter inverts through a disposable sqlite database holding one
	// (docid, queryid, rank) row per hit, read back ordered by docid. the
	// database is built on first use and removed on Invalidate
	DiskInverter struct {
		mu  sync.Mutex
		dir string

		db         *sql.DB
		path       string
		generation uint64
	}

	rowsIterator struct {
		rows *sql.Rows

		cur     InvertedEntry
		next    *invertedRow
		err     error
		drained bool
	}

	invertedRow struct {
		docID docindex.DocID
		item  QueryRank
	}
)

// NewDiskInverter keep the auxiliary databases under dir, os.TempDir() when empty
func NewDiskInverter(dir string) *DiskInverter {
	if dir == "" {
		dir = os.TempDir()
	}
	return &DiskInverter{dir: dir}
}

// Path the current auxiliary database, empty when not built
func (inv *DiskInverter) Path() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.path
}

// Invert build the auxiliary database when needed and open a cursor on it.
// several iterators may be open at once, each holds its own connection
func (inv *DiskInverter) Invert(src HitSource) (InvertedIterator, error) {
	db, path, err := inv.prepare(src)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT docid, queryid, rank FROM hits ORDER BY docid, queryid, rank`)
	if err != nil {
		return nil, fmt.Errorf("read inversion %s: %w", path, err)
	}
	return &rowsIterator{rows: rows}, nil
}

func (inv *DiskInverter) prepare(src HitSource) (*sql.DB, string, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	gen := src.Generation()
	if inv.db != nil && inv.generation != gen {
		return nil, "", fmt.Errorf("disk inversion %s built at generation %d, source at %d: %w",
			inv.path, inv.generation, gen, ErrConsistency)
	}
	if inv.db == nil {
		if err := inv.build(src, gen); err != nil {
			inv.teardown()
			return nil, "", err
		}
	}
	return inv.db, inv.path, nil
}

func (inv *DiskInverter) build(src HitSource, gen uint64) error {
	if err := os.MkdirAll(inv.dir, 0o755); err != nil {
		return err
	}
	inv.path = filepath.Join(inv.dir, "rankcache-inv-"+uuid.NewString()+".db")
	db, err := sql.Open("sqlite", inv.path)
	if err != nil {
		return err
	}
	inv.db = db

	if _, err = db.Exec(`CREATE TABLE hits (docid INTEGER NOT NULL, queryid INTEGER NOT NULL, rank INTEGER NOT NULL)`); err != nil {
		return err
	}
	qids, err := src.QueryIDs()
	if err != nil {
		return err
	}

	var tx *sql.Tx
	var stmt *sql.Stmt
	pending, total := 0, 0
	commit := func() error {
		if tx == nil {
			return nil
		}
		_ = stmt.Close()
		err := tx.Commit()
		tx, stmt, pending = nil, nil, 0
		return err
	}
	for _, qid := range qids {
		hits, err := src.Hits(qid)
		if err != nil {
			return err
		}
		for rank, id := range hits {
			if tx == nil {
				if tx, err = db.Begin(); err != nil {
					return err
				}
				if stmt, err = tx.Prepare(`INSERT INTO hits (docid, queryid, rank) VALUES (?, ?, ?)`); err != nil {
					_ = tx.Rollback()
					tx = nil
					return err
				}
			}
			if _, err = stmt.Exec(int64(id), int64(qid), int64(rank)); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				tx = nil
				return err
			}
			pending++
			total++
			if pending >= invertBatchSize {
				if err = commit(); err != nil {
					return err
				}
			}
		}
	}
	if err = commit(); err != nil {
		return err
	}
	if _, err = db.Exec(`CREATE INDEX hits_docid ON hits (docid, queryid, rank)`); err != nil {
		return err
	}
	inv.generation = gen
	applog.LogDebug("inversion %s built, queries:%d hits:%d", inv.path, len(qids), total)
	return nil
}

func (inv *DiskInverter) teardown() {
	if inv.db != nil {
		applog.LogIfErr(inv.db.Close(), "close inversion %s fail", inv.path)
		inv.db = nil
	}
	if inv.path != "" {
		if err := os.Remove(inv.path); err != nil && !os.IsNotExist(err) {
			applog.LogErr("remove inversion %s fail:%v", inv.path, err)
		}
		inv.path = ""
	}
}

// Invalidate delete the auxiliary database, open iterators must be closed first
func (inv *DiskInverter) Invalidate() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.teardown()
}

func (inv *DiskInverter) Close() error {
	inv.Invalidate()
	return nil
}

func (it *rowsIterator) read() bool {
	if !it.rows.Next() {
		it.err = it.rows.Err()
		it.drained = true
		return false
	}
	var docID, qid, rank int64
	if it.err = it.rows.Scan(&docID, &qid, &rank); it.err != nil {
		it.drained = true
		return false
	}
	it.next = &invertedRow{
		docID: docindex.DocID(docID),
		item:  QueryRank{QueryID: QueryID(qid), Rank: Rank(rank)},
	}
	return true
}

func (it *rowsIterator) Next() bool {
	if it.next == nil && (it.drained || !it.read()) {
		return false
	}
	it.cur = InvertedEntry{DocID: it.next.docID, Items: []QueryRank{it.next.item}}
	it.next = nil
	for it.read() {
		if it.next.docID != it.cur.DocID {
			return true
		}
		it.cur.Items = append(it.cur.Items, it.next.item)
		it.next = nil
	}
	return it.err == nil
}

func (it *rowsIterator) Entry() InvertedEntry {
	return it.cur
}

func (it *rowsIterator) Err() error {
	return it.err
}

func (it *rowsIterator) Close() error {
	return it.rows.Close()
}
