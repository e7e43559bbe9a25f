package kvstore

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/echoface/rankcache/applog"
)

type (
	// Dialect the SQL flavour of a SQLStore
	Dialect struct {
		Name   string
		Driver string

		createTable string
		get         string
		upsert      string
		del         string
		keys        string
		reset       string
	}

	// SQLStore a namespace of the shared rankcache_kv table. writes go through
	// one transaction opened lazily and committed on Flush
	SQLStore struct {
		mu sync.Mutex

		db        *sql.DB
		dialect   *Dialect
		namespace string
		ownDB     bool

		tx     *sql.Tx
		closed bool
	}

	queryer interface {
		Exec(query string, args ...interface{}) (sql.Result, error)
		Query(query string, args ...interface{}) (*sql.Rows, error)
		QueryRow(query string, args ...interface{}) *sql.Row
	}
)

var (
	SQLite = &Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		createTable: `CREATE TABLE IF NOT EXISTS rankcache_kv (
			namespace TEXT NOT NULL,
			key       TEXT NOT NULL,
			value     BLOB NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		get: `SELECT value FROM rankcache_kv WHERE namespace = ? AND key = ?`,
		upsert: `INSERT INTO rankcache_kv (namespace, key, value) VALUES (?, ?, ?)
			ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`,
		del:   `DELETE FROM rankcache_kv WHERE namespace = ? AND key = ?`,
		keys:  `SELECT key FROM rankcache_kv WHERE namespace = ? AND key LIKE ? ESCAPE '\' ORDER BY key`,
		reset: `DELETE FROM rankcache_kv WHERE namespace = ?`,
	}

	Postgres = &Dialect{
		Name:   "postgres",
		Driver: "postgres",
		createTable: `CREATE TABLE IF NOT EXISTS rankcache_kv (
			namespace TEXT  NOT NULL,
			key       TEXT  NOT NULL,
			value     BYTEA NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
		get: `SELECT value FROM rankcache_kv WHERE namespace = $1 AND key = $2`,
		upsert: `INSERT INTO rankcache_kv (namespace, key, value) VALUES ($1, $2, $3)
			ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value`,
		del:   `DELETE FROM rankcache_kv WHERE namespace = $1 AND key = $2`,
		keys:  `SELECT key FROM rankcache_kv WHERE namespace = $1 AND key LIKE $2 ESCAPE '\' ORDER BY key`,
		reset: `DELETE FROM rankcache_kv WHERE namespace = $1`,
	}
)

// DialectByName sqlite or postgres
func DialectByName(name string) (*Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	}
	return nil, fmt.Errorf("unknown sql dialect:%s", name)
}

// OpenSQLStore open dsn with the dialect driver, the store owns the connection
func OpenSQLStore(dialect *Dialect, dsn, namespace string) (*SQLStore, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", dialect.Name, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLStore(db, dialect, namespace)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownDB = true
	return s, nil
}

// NewSQLStore use an opened db, closing the store leaves db open
func NewSQLStore(db *sql.DB, dialect *Dialect, namespace string) (*SQLStore, error) {
	if _, err := db.Exec(dialect.createTable); err != nil {
		return nil, fmt.Errorf("create rankcache_kv table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, namespace: namespace}, nil
}

// conn the pending transaction if any; reads must see unflushed writes
func (s *SQLStore) conn() (queryer, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}
	return s.db, nil
}

func (s *SQLStore) writeTx() (*sql.Tx, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.tx == nil {
		tx, err := s.db.Begin()
		if err != nil {
			return nil, err
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (s *SQLStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.conn()
	if err != nil {
		return nil, false, err
	}
	var value []byte
	err = q.QueryRow(s.dialect.get, s.namespace, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.writeTx()
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if _, err = tx.Exec(s.dialect.upsert, s.namespace, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.writeTx()
	if err != nil {
		return err
	}
	if _, err = tx.Exec(s.dialect.del, s.namespace, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(s.dialect.keys, s.namespace, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list keys %s: %w", prefix, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err = rows.Scan(&k); err != nil {
			return nil, err
		}
		// sqlite LIKE ignores ascii case
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	// byte order whatever the server collation
	sort.Strings(keys)
	return keys, nil
}

func (s *SQLStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.writeTx()
	if err != nil {
		return err
	}
	_, err = tx.Exec(s.dialect.reset, s.namespace)
	return err
}

// Flush commit the pending transaction
func (s *SQLStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *SQLStore) flush() error {
	if s.closed {
		return ErrClosed
	}
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s namespace %s: %w", s.dialect.Name, s.namespace, err)
	}
	return nil
}

// Close flush then release the connection when owned
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	err := s.flush()
	s.closed = true
	if s.ownDB {
		applog.LogIfErr(s.db.Close(), "close %s store namespace:%s fail", s.dialect.Name, s.namespace)
	}
	return err
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
