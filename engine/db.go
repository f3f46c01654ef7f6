package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/danthegoodman1/sstkit/metrics"
	"github.com/danthegoodman1/sstkit/tuple"
)

// DefaultColumnFamily always exists.
const DefaultColumnFamily = "default"

var (
	ErrNotFound            = errors.New("not found")
	ErrColumnFamilyExists  = errors.New("column family already exists")
	ErrInvalidColumnFamily = errors.New("invalid column family handle")
)

type (
	// DB is an ordered key-value store partitioned into column families. All column families share one pebble
	// store, each owning the keyspace prefixed by its tuple encoded name.
	DB struct {
		dir string
		env *Env
		pdb *pebble.DB

		cfMu sync.RWMutex
		cfs  map[string]*ColumnFamilyHandle
	}

	ColumnFamilyHandle struct {
		name    string
		options ColumnFamilyOptions
	}

	DBOptions struct {
		// nil means DefaultEnv
		Env *Env
		// column families to create at open, DefaultColumnFamily is added when missing
		ColumnFamilies map[string]ColumnFamilyOptions
	}
)

func (h *ColumnFamilyHandle) Name() string {
	return h.name
}

func Open(dir string, opts DBOptions) (*DB, error) {
	env := opts.Env
	if env == nil {
		env = DefaultEnv()
	}
	if err := env.FS().MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error in MkdirAll: %w", err)
	}
	pdb, err := pebble.Open(dir, &pebble.Options{FS: env.FS()})
	if err != nil {
		return nil, fmt.Errorf("error in pebble.Open: %w", err)
	}

	db := &DB{
		dir: dir,
		env: env,
		pdb: pdb,
		cfs: map[string]*ColumnFamilyHandle{},
	}
	for name, cfOpts := range opts.ColumnFamilies {
		db.addColumnFamily(name, cfOpts)
	}
	if _, ok := db.cfs[DefaultColumnFamily]; !ok {
		db.addColumnFamily(DefaultColumnFamily, NewColumnFamilyOptions())
	}
	logger.Debug().Str("dir", dir).Int("columnFamilies", len(db.cfs)).Msg("opened db")

	return db, nil
}

func (db *DB) addColumnFamily(name string, opts ColumnFamilyOptions) *ColumnFamilyHandle {
	opts = opts.Clone()
	if opts.Env == nil {
		opts.Env = db.env
	}
	h := &ColumnFamilyHandle{name: name, options: opts}
	db.cfs[name] = h
	return h
}

func (db *DB) CreateColumnFamily(name string, opts ColumnFamilyOptions) (*ColumnFamilyHandle, error) {
	db.cfMu.Lock()
	defer db.cfMu.Unlock()
	if _, ok := db.cfs[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnFamilyExists, name)
	}
	return db.addColumnFamily(name, opts), nil
}

// CFHandle looks up a column family by name. Safe for concurrent use.
func (db *DB) CFHandle(name string) (*ColumnFamilyHandle, bool) {
	db.cfMu.RLock()
	defer db.cfMu.RUnlock()
	h, ok := db.cfs[name]
	return h, ok
}

// OptionsCF returns a copy of the column family's options.
func (db *DB) OptionsCF(h *ColumnFamilyHandle) ColumnFamilyOptions {
	return h.options.Clone()
}

// Env is the environment the database files live in.
func (db *DB) Env() *Env {
	return db.env
}

func (db *DB) checkHandle(h *ColumnFamilyHandle) error {
	if h == nil {
		return ErrInvalidColumnFamily
	}
	if current, ok := db.CFHandle(h.name); !ok || current != h {
		return fmt.Errorf("%w: %s", ErrInvalidColumnFamily, h.name)
	}
	return nil
}

func cfKey(h *ColumnFamilyHandle, key []byte) []byte {
	return tuple.Pack(h.name, key).Encode()
}

func (db *DB) Put(h *ColumnFamilyHandle, key, value []byte) error {
	if err := db.checkHandle(h); err != nil {
		return err
	}
	return db.pdb.Set(cfKey(h, key), value, pebble.Sync)
}

func (db *DB) Delete(h *ColumnFamilyHandle, key []byte) error {
	if err := db.checkHandle(h); err != nil {
		return err
	}
	return db.pdb.Delete(cfKey(h, key), pebble.Sync)
}

// Get returns a copy of the value, ErrNotFound if key is absent.
func (db *DB) Get(h *ColumnFamilyHandle, key []byte) ([]byte, error) {
	if err := db.checkHandle(h); err != nil {
		return nil, err
	}
	val, closer, err := db.pdb.Get(cfKey(h, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error in pebble Get: %w", err)
	}
	defer closer.Close()
	return append([]byte{}, val...), nil
}

// IngestExternalFile bulk loads finished files into a column family. Files are verified, then applied in the
// order given in one atomic batch, so later files win on overlapping keys. Tombstones delete.
func (db *DB) IngestExternalFile(h *ColumnFamilyHandle, paths []string) error {
	if err := db.checkHandle(h); err != nil {
		return err
	}
	batch := db.pdb.NewBatch()
	defer batch.Close()

	for _, path := range paths {
		if err := db.applyFile(batch, h, path); err != nil {
			return fmt.Errorf("error ingesting %s: %w", path, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("error in batch.Commit: %w", err)
	}
	metrics.DefaultRegistry().FilesIngestedTotal.Add(float64(len(paths)))
	logger.Debug().Str("cf", h.name).Strs("paths", paths).Msg("ingested external files")
	return nil
}

func (db *DB) applyFile(batch *pebble.Batch, h *ColumnFamilyHandle, path string) error {
	r := NewSstFileReader(h.options)
	if err := r.Open(path); err != nil {
		return err
	}
	defer r.Close()
	if err := r.VerifyChecksum(); err != nil {
		return err
	}

	it := r.NewIterator()
	for it.First(); it.Valid(); it.Next() {
		var err error
		if it.IsDeletion() {
			err = batch.Delete(cfKey(h, it.Key()), nil)
		} else {
			err = batch.Set(cfKey(h, it.Key()), it.Value(), nil)
		}
		if err != nil {
			return err
		}
	}
	return it.Error()
}

func (db *DB) Close() error {
	return db.pdb.Close()
}
