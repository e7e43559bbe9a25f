package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/smartystreets/goconvey/convey"

	"github.com/echoface/rankcache"
	"github.com/echoface/rankcache/docindex"
)

const tomlConfig = `
log_level = "DEBUG"

[index]
path = "%s"

[redis]
addr = "%s"

[[caches]]
id = "A"
chunk_size = 2
slot_reserve = 4

[[caches]]
id = "B"
backend = "sqlite"
inverter = "disk"

[[caches]]
id = "C"
backend = "redis"
`

const yamlConfig = `
log_format: json
caches:
  - id: A
    backend: memory
  - id: B
    backend: postgres
    dsn: postgres://localhost/rankcache
`

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	convey.Convey("toml", t, func() {
		index := filepath.Join(t.TempDir(), "index.db")
		path := writeFile(t, "rankcache.toml", fmt.Sprintf(tomlConfig, index, "localhost:6379"))
		cfg, err := Load(path)
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.LogLevel, convey.ShouldEqual, "debug")
		convey.So(cfg.LogFormat, convey.ShouldEqual, "text")
		convey.So(cfg.Redis.Timeout().Seconds(), convey.ShouldEqual, 3)
		convey.So(cfg.CacheIDs(), convey.ShouldResemble, []string{"A", "B", "C"})

		a, _ := cfg.Cache("A")
		convey.So(a.Backend, convey.ShouldEqual, BackendMetadata)
		convey.So(a.Inverter, convey.ShouldEqual, InverterMemory)
		convey.So(a.Prefix, convey.ShouldEqual, "_rankcache_kv_A_")
		convey.So(a.SlotReserve, convey.ShouldEqual, 4)
		b, _ := cfg.Cache("B")
		convey.So(b.DSN, convey.ShouldEqual, index+".cache-B.db")
		c, _ := cfg.Cache("C")
		convey.So(c.Prefix, convey.ShouldEqual, "rankcache:C:")
		_, ok := cfg.Cache("D")
		convey.So(ok, convey.ShouldBeFalse)
	})

	convey.Convey("yaml", t, func() {
		cfg, err := Load(writeFile(t, "rankcache.yaml", yamlConfig))
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.LogFormat, convey.ShouldEqual, "json")
		b, _ := cfg.Cache("B")
		convey.So(b.Backend, convey.ShouldEqual, BackendPostgres)
		convey.So(b.DSN, convey.ShouldEqual, "postgres://localhost/rankcache")
	})

	convey.Convey("environment overrides the file", t, func() {
		t.Setenv("RANKCACHE_LOG_LEVEL", "error")
		t.Setenv("RANKCACHE_REDIS_DB", "3")
		t.Setenv("RANKCACHE_REDIS_TIMEOUT_MS", "500")
		cfg, err := Load(writeFile(t, "rankcache.yml", yamlConfig))
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.LogLevel, convey.ShouldEqual, "error")
		convey.So(cfg.Redis.DB, convey.ShouldEqual, 3)
		convey.So(cfg.Redis.Timeout().Milliseconds(), convey.ShouldEqual, 500)
	})

	convey.Convey("no file gives the defaults", t, func() {
		cfg, err := Load("")
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.Caches, convey.ShouldBeEmpty)
	})

	convey.Convey("bad files", t, func() {
		_, err := Load(writeFile(t, "rankcache.json", "{}"))
		convey.So(err, convey.ShouldNotBeNil)
		_, err = Load(writeFile(t, "rankcache.toml", "caches = 1"))
		convey.So(err, convey.ShouldNotBeNil)
		_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
		convey.So(err, convey.ShouldNotBeNil)
	})

	convey.Convey("validation joins every problem", t, func() {
		cfg := Default()
		cfg.Caches = []CacheConfig{
			{ID: "A", Backend: "memcached"},
			{ID: "A"},
			{ID: "B", Backend: BackendSQLite},
			{ID: "C", Backend: BackendRedis},
			{ID: "D", Backend: BackendPostgres},
			{ID: "E", Inverter: "tape", ChunkSize: -1},
			{},
		}
		cfg.normalize()
		err := cfg.Validate()
		convey.So(err, convey.ShouldNotBeNil)
		msg := err.Error()
		for _, want := range []string{
			`unknown backend "memcached"`,
			"cache A: duplicate id",
			"sqlite backend needs dsn",
			"redis backend needs redis.addr",
			"postgres backend needs dsn",
			`unknown inverter "tape"`,
			"chunk_size must not be negative",
			"caches[6]: id is required",
		} {
			convey.So(msg, convey.ShouldContainSubstring, want)
		}
	})

	convey.Convey("two sqlite caches may not share a file", t, func() {
		cfg := Default()
		cfg.Caches = []CacheConfig{
			{ID: "A", Backend: BackendSQLite, DSN: "x.db"},
			{ID: "B", Backend: BackendSQLite, DSN: "x.db"},
		}
		cfg.normalize()
		convey.So(cfg.Validate().Error(), convey.ShouldContainSubstring, "already used by cache A")
	})
}

func TestOpenCaches(t *testing.T) {
	convey.Convey("every backend opens and round trips", t, func() {
		mr := miniredis.RunT(t)
		dir := t.TempDir()
		cfg := Default()
		cfg.Index.Path = filepath.Join(dir, "index.db")
		cfg.Redis.Addr = mr.Addr()
		cfg.Caches = []CacheConfig{
			{ID: "mem", Backend: BackendMemory},
			{ID: "lite", Backend: BackendSQLite, Inverter: InverterDisk, InvertDir: dir},
			{ID: "red", Backend: BackendRedis},
			{ID: "meta", ChunkSize: 2},
		}
		cfg.normalize()
		convey.So(cfg.Validate(), convey.ShouldBeNil)

		db, err := cfg.OpenIndex()
		convey.So(err, convey.ShouldBeNil)
		defer db.Close()
		w, err := db.OpenWriter()
		convey.So(err, convey.ShouldBeNil)

		caches, err := cfg.OpenCaches(w)
		convey.So(err, convey.ShouldBeNil)
		convey.So(caches.CacheIDs(), convey.ShouldResemble, []string{"mem", "lite", "red", "meta"})
		for _, id := range caches.CacheIDs() {
			c, _ := caches.Cache(id)
			qid, err := c.GetOrMakeQueryID("term_a")
			convey.So(err, convey.ShouldBeNil)
			convey.So(c.SetHits(qid, []docindex.DocID{3, 1, 2}), convey.ShouldBeNil)
			hits, err := c.Hits(qid)
			convey.So(err, convey.ShouldBeNil)
			convey.So(hits, convey.ShouldResemble, docindex.DocIDList{3, 1, 2})
		}
		convey.So(caches.Flush(), convey.ShouldBeNil)
		convey.So(caches.Close(), convey.ShouldBeNil)
		convey.So(w.Close(), convey.ShouldBeNil)

		convey.Convey("persistent backends survive a reopen", func() {
			w, _ := db.OpenWriter()
			defer w.Close()
			caches, err := cfg.OpenCaches(w, "lite", "red", "meta")
			convey.So(err, convey.ShouldBeNil)
			defer caches.Close()
			for _, id := range caches.CacheIDs() {
				c, _ := caches.Cache(id)
				qid, ok, _ := c.QueryID("term_a")
				convey.So(ok, convey.ShouldBeTrue)
				hits, _ := c.Hits(qid)
				convey.So(hits, convey.ShouldResemble, docindex.DocIDList{3, 1, 2})
			}
		})
	})

	convey.Convey("unknown cache and metadata without a writer", t, func() {
		cfg := Default()
		cfg.Caches = []CacheConfig{{ID: "meta"}}
		cfg.normalize()

		_, err := cfg.OpenCaches(nil, "nope")
		convey.So(errors.Is(err, rankcache.ErrNotFound), convey.ShouldBeTrue)
		_, err = cfg.OpenCaches(nil)
		convey.So(errors.Is(err, rankcache.ErrUsage), convey.ShouldBeTrue)
	})
}
