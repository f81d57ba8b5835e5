// Package store provides the transactional persistence layer described in
// §4.B: one exclusive writer, many concurrent readers, a commit-then-notify
// guarantee, and a watchdog that flags long-running transactions. It is
// backed by go.etcd.io/bbolt, the maintained fork of the teacher's
// github.com/boltdb/bolt, so the bucket/cursor idioms below read the same
// way cellstate-treedb's fs.go and layerfs/layerfs.go do.
package store

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// DefaultWatchdogInterval is how long a transaction may stay open before the
// watchdog logs a warning, per §5's "lifetime watchdog logs any transaction
// older than ~3s".
const DefaultWatchdogInterval = 3 * time.Second

// Table names, matching the schema named in §6.
var (
	BucketBlocks            = []byte("blocks")
	BucketSnapshotRootNodes = []byte("snapshot_root_nodes")
	BucketSnapshotInner     = []byte("snapshot_inner_nodes")
	BucketSnapshotLeaf      = []byte("snapshot_leaf_nodes")
	BucketMetadataPublic    = []byte("metadata_public")
	BucketMetadataSecret    = []byte("metadata_secret")

	// BucketBlockExpiry supplements the schema named in §6 with the trash
	// worker's TTL bookkeeping (§4.G): block id -> expires-at timestamp.
	BucketBlockExpiry = []byte("block_expiry")
)

var allBuckets = [][]byte{
	BucketBlocks,
	BucketBlockExpiry,
	BucketSnapshotRootNodes,
	BucketSnapshotInner,
	BucketSnapshotLeaf,
	BucketMetadataPublic,
	BucketMetadataSecret,
}

// Store is a single repository's persistent database.
type Store struct {
	db       *bolt.DB
	log      zerolog.Logger
	watchdog time.Duration

	writeMu sync.Mutex // serializes WriteTx; held across CommitAndThen's callback
}

// Options configures Open/Create.
type Options struct {
	WatchdogInterval time.Duration
	Logger           zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = DefaultWatchdogInterval
	}
	return o
}

// Create opens a brand-new store file, failing if one already exists.
func Create(path string, opts Options) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("store: %s already exists: %w", path, os.ErrExist)
	}
	return open(path, opts, true)
}

// Open opens an existing store file, failing if it does not exist.
func Open(path string, opts Options) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store: %s does not exist: %w", path, os.ErrNotExist)
	}
	return open(path, opts, false)
}

func open(path string, opts Options, fresh bool) (*Store, error) {
	opts = opts.withDefaults()

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	s := &Store{db: db, log: opts.Logger, watchdog: opts.WatchdogInterval}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	wtx, err := s.BeginWrite()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(wtx); err != nil {
		wtx.Rollback()
		db.Close()
		return nil, err
	}
	if err := wtx.Commit(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	_ = fresh // retained for callers that branch on create-vs-open semantics upstream
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is the common read surface shared by ReadTx and WriteTx, letting
// callers that only need to read a bucket (block/index lookups, mostly)
// accept either kind of transaction.
type Tx interface {
	Bucket(name []byte) *bolt.Bucket
}

// ReadTx is a snapshot transaction: it sees no concurrent commits made after
// it began (§4.B "begin_read").
type ReadTx struct {
	tx   *bolt.Tx
	done chan struct{}
}

// WriteTx is the single writable transaction a Store admits at a time
// (§4.B "begin_write").
type WriteTx struct {
	tx    *bolt.Tx
	store *Store
	done  chan struct{}
}

func (s *Store) watch(kind string, done chan struct{}, start time.Time) {
	t := time.NewTimer(s.watchdog)
	go func() {
		defer t.Stop()
		select {
		case <-done:
			return
		case <-t.C:
			s.log.Warn().
				Str("tx_kind", kind).
				Dur("age", time.Since(start)).
				Msg("store: long-running transaction")
		}
	}()
}

// BeginRead starts a read-only snapshot transaction.
func (s *Store) BeginRead() (*ReadTx, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	rtx := &ReadTx{tx: tx, done: make(chan struct{})}
	s.watch("read", rtx.done, time.Now())
	return rtx, nil
}

// Bucket returns the named bucket within this read transaction.
func (r *ReadTx) Bucket(name []byte) *bolt.Bucket { return r.tx.Bucket(name) }

// Rollback ends a read transaction. Read transactions are always "rolled
// back" in bbolt's terms even on the success path; there is nothing to
// commit.
func (r *ReadTx) Rollback() error {
	close(r.done)
	return r.tx.Rollback()
}

// BeginWrite serializes against any other writer: it blocks until the
// previous WriteTx's Commit/Rollback (and, for CommitAndThen, its callback)
// has fully returned.
func (s *Store) BeginWrite() (*WriteTx, error) {
	s.writeMu.Lock()
	tx, err := s.db.Begin(true)
	if err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	wtx := &WriteTx{tx: tx, store: s, done: make(chan struct{})}
	s.watch("write", wtx.done, time.Now())
	return wtx, nil
}

// Bucket returns the named bucket within this write transaction.
func (w *WriteTx) Bucket(name []byte) *bolt.Bucket { return w.tx.Bucket(name) }

// Commit persists the transaction's writes.
func (w *WriteTx) Commit() error {
	defer func() {
		close(w.done)
		w.store.writeMu.Unlock()
	}()
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Rollback discards the transaction's writes.
func (w *WriteTx) Rollback() error {
	defer func() {
		close(w.done)
		w.store.writeMu.Unlock()
	}()
	return w.tx.Rollback()
}

// CommitAndThen commits the transaction and, only if that succeeds, runs f
// before returning. Because the store's write mutex is held until f
// returns, no subsequent WriteTx can begin until f has run to completion —
// even if whatever goroutine is awaiting this call is cancelled in the
// meantime, since f runs synchronously here rather than being scheduled
// separately.
func (w *WriteTx) CommitAndThen(f func()) error {
	defer func() {
		close(w.done)
		w.store.writeMu.Unlock()
	}()
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if f != nil {
		f()
	}
	return nil
}
