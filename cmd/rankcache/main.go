// Command rankcache loads precomputed hit lists into rank caches, applies them
// to a document index and checks the result.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/echoface/rankcache"
	"github.com/echoface/rankcache/applog"
	"github.com/echoface/rankcache/config"
	"github.com/echoface/rankcache/docindex"
	"github.com/echoface/rankcache/util"
)

const usage = `usage: rankcache [-config file] <command> [flags]

commands:
  index -file docs.jsonl                 add or replace documents, one {"id","fields","data"} object per line
  load-hits -cache ID -file hits.jsonl   store hit lists, one {"query","docids"} object per line
  apply [-cache ID]                      apply one or every configured cache to the index
  verify -cache ID                       check the applied ranks against the cache
  stats                                  print slot ranges and query counts
`

// exit codes
const (
	exitOK = iota
	exitErr
	exitVerifyFailed
)

type hitLine struct {
	Query  string           `json:"query"`
	DocIDs []docindex.DocID `json:"docids"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rankcache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }

	var cfgPath string
	fs.StringVar(&cfgPath, "config", "rankcache.toml", "Path to the configuration file (toml or yaml)")
	if err := fs.Parse(args); err != nil {
		return exitErr
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitErr
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "rankcache: %v\n", err)
		return exitErr
	}
	logger := applog.Init(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: stderr})
	defer func() { _ = logger.Sync() }()

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	var code int
	switch cmd {
	case "index":
		code, err = index(cfg, cmdArgs, stderr)
	case "load-hits":
		code, err = loadHits(cfg, cmdArgs, stderr)
	case "apply":
		code, err = apply(cfg, cmdArgs, stdout, stderr)
	case "verify":
		code, err = verify(cfg, cmdArgs, stdout, stderr)
	case "stats":
		code, err = stats(cfg, stdout)
	default:
		_, _ = fmt.Fprintf(stderr, "rankcache: unknown command %q\n", cmd)
		fs.Usage()
		return exitErr
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "rankcache %s: %v\n", cmd, err)
		return exitErr
	}
	return code
}

// session the index, a writer on it and the caches opened against that writer
type session struct {
	db     *docindex.Database
	w      *docindex.Writer
	caches *config.Caches
}

func openSession(cfg *config.Config, ids ...string) (*session, error) {
	db, err := cfg.OpenIndex()
	if err != nil {
		return nil, err
	}
	w, err := db.OpenWriter()
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	caches, err := cfg.OpenCaches(w, ids...)
	if err != nil {
		return nil, errors.Join(err, w.Close(), db.Close())
	}
	rankcache.Install(w, caches)
	return &session{db: db, w: w, caches: caches}, nil
}

// close commit the writer, metadata backed caches are written with it
func (s *session) close() error {
	err := s.caches.Flush()
	err = errors.Join(err, s.w.Close())
	err = errors.Join(err, s.caches.Close())
	return errors.Join(err, s.db.Close())
}

// openInput file, or stdin for -
func openInput(file string) (io.ReadCloser, error) {
	if file == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(file)
}

func index(cfg *config.Config, args []string, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file string
	fs.StringVar(&file, "file", "", "JSON lines file of documents, - for stdin")
	if err := fs.Parse(args); err != nil {
		return exitErr, nil
	}
	if file == "" {
		return exitErr, fmt.Errorf("-file is required: %w", rankcache.ErrUsage)
	}
	in, err := openInput(file)
	if err != nil {
		return exitErr, err
	}
	defer in.Close()

	// every configured cache is opened so replaced documents keep their ranks
	// and deleted ones leave the hit lists
	s, err := openSession(cfg)
	if err != nil {
		return exitErr, err
	}
	n, err := eachLine(in, func(line []byte) error {
		doc, err := docindex.DocumentFromJSON(line)
		if err != nil {
			return err
		}
		_, err = s.w.Replace(doc)
		return err
	})
	applog.LogInfo("indexed %d documents", n)
	return exitOK, errors.Join(err, s.close())
}

func loadHits(cfg *config.Config, args []string, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("load-hits", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cacheID, file string
	fs.StringVar(&cacheID, "cache", "", "Cache to load into")
	fs.StringVar(&file, "file", "", "JSON lines file of hit lists, - for stdin")
	if err := fs.Parse(args); err != nil {
		return exitErr, nil
	}
	if cacheID == "" || file == "" {
		return exitErr, fmt.Errorf("-cache and -file are required: %w", rankcache.ErrUsage)
	}

	in, err := openInput(file)
	if err != nil {
		return exitErr, err
	}
	defer in.Close()

	s, err := openSession(cfg, cacheID)
	if err != nil {
		return exitErr, err
	}
	cache := s.caches.Selected()

	n, err := readHits(in, cache)
	applog.LogInfo("cache:%s loaded %d hit lists", cacheID, n)
	return exitOK, errors.Join(err, s.close())
}

func readHits(in io.Reader, cache *rankcache.Cache) (int, error) {
	return eachLine(in, func(data []byte) error {
		var line hitLine
		if err := json.Unmarshal(data, &line); err != nil {
			return err
		}
		qid, err := cache.GetOrMakeQueryID(line.Query)
		if err != nil {
			return err
		}
		return cache.SetHits(qid, line.DocIDs)
	})
}

// eachLine call fn with every non blank line, stops at the first error
func eachLine(in io.Reader, fn func(line []byte) error) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	n, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		n++
	}
	return n, scanner.Err()
}

func apply(cfg *config.Config, args []string, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cacheID string
	fs.StringVar(&cacheID, "cache", "", "Comma separated caches to apply, every configured cache when empty")
	if err := fs.Parse(args); err != nil {
		return exitErr, nil
	}

	var ids []string
	if cacheID != "" {
		ids = util.Distinct(strings.Split(cacheID, ","))
	}
	s, err := openSession(cfg, ids...)
	if err != nil {
		return exitErr, err
	}

	all := make(map[string]rankcache.ApplyStats)
	for _, id := range s.caches.CacheIDs() {
		cache, _ := s.caches.Cache(id)
		st, err := rankcache.ApplyCache(s.w, cache)
		if err != nil {
			return exitErr, errors.Join(fmt.Errorf("apply cache %s: %w", id, err), s.close())
		}
		all[id] = st
	}
	if err = s.close(); err != nil {
		return exitErr, err
	}
	_, _ = fmt.Fprintln(stdout, util.JSONPretty(all))
	return exitOK, nil
}

func verify(cfg *config.Config, args []string, stdout, stderr io.Writer) (int, error) {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var cacheID string
	fs.StringVar(&cacheID, "cache", "", "Cache to verify")
	if err := fs.Parse(args); err != nil {
		return exitErr, nil
	}
	if cacheID == "" {
		return exitErr, fmt.Errorf("-cache is required: %w", rankcache.ErrUsage)
	}

	s, err := openSession(cfg, cacheID)
	if err != nil {
		return exitErr, err
	}
	rep, err := rankcache.Verify(s.w, s.caches.Selected())
	if closeErr := s.close(); closeErr != nil {
		return exitErr, closeErr
	}
	_, _ = fmt.Fprintln(stdout, util.JSONPretty(rep))
	if errors.Is(err, rankcache.ErrConsistency) {
		return exitVerifyFailed, nil
	}
	if err != nil {
		return exitErr, err
	}
	return exitOK, nil
}

type cacheStats struct {
	Queries int    `json:"queries"`
	Range   string `json:"range,omitempty"`
}

func stats(cfg *config.Config, stdout io.Writer) (int, error) {
	s, err := openSession(cfg)
	if err != nil {
		return exitErr, err
	}

	out := struct {
		Revision uint64                `json:"revision"`
		Slots    string                `json:"num_cache_slots"`
		Caches   map[string]cacheStats `json:"caches"`
	}{
		Revision: s.db.Revision(),
		Caches:   make(map[string]cacheStats),
	}
	out.Slots, err = s.w.Metadata(rankcache.MetaNumCacheSlots)
	if err != nil {
		return exitErr, errors.Join(err, s.close())
	}

	ranges, err := rankcache.NewSlotAllocator(s.w).Ranges()
	if err != nil {
		return exitErr, errors.Join(err, s.close())
	}
	for _, rng := range ranges {
		out.Caches[rng.CacheID] = cacheStats{Range: rng.String()}
	}
	for _, id := range s.caches.CacheIDs() {
		cache, _ := s.caches.Cache(id)
		n, err := cache.NumQueries()
		if err != nil {
			return exitErr, errors.Join(err, s.close())
		}
		st := out.Caches[id]
		st.Queries = n
		out.Caches[id] = st
	}
	if err = s.close(); err != nil {
		return exitErr, err
	}
	_, _ = fmt.Fprintln(stdout, util.JSONPretty(out))
	return exitOK, nil
}
