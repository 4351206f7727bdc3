package kv

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	dbMode    = 0600
	dbDirMode = 0700
	lockTime  = 10 * time.Second
)

var (
	dbMap = map[string]*DB{}
	dbMut sync.Mutex
)

// DB represents a key-value database shared by all users of one
// facility in one directory
type DB struct {
	name     string
	path     string
	facility string
	refs     int
	bolt     *bolt.DB
	mu       sync.Mutex
}

// Supported returns true on supported OSes
func Supported() bool { return true }

// makeName makes a store name
func makeName(facility string, dir string) string {
	return filepath.Join(dir, facility+".db")
}

// Start a new key-value database for facility in dir, or return the
// one which is already running
func Start(ctx context.Context, facility string, dir string) (*DB, error) {
	dbMut.Lock()
	defer dbMut.Unlock()
	if dir == "" {
		dir = os.TempDir()
	}
	name := makeName(facility, dir)
	if db := dbMap[name]; db != nil {
		db.refs++
		return db, nil
	}
	if err := os.MkdirAll(dir, dbDirMode); err != nil {
		return nil, errors.Wrapf(err, "failed to create state directory %q", dir)
	}

	db := &DB{
		name:     name,
		path:     name,
		facility: facility,
		refs:     1,
	}
	if err := db.open(ctx); err != nil {
		return nil, errors.Wrapf(err, "cannot open db: %s", db.path)
	}
	dbMap[name] = db
	fs.Debugf(name, "Opened %s database", facility)
	return db, nil
}

func (db *DB) open(ctx context.Context) (err error) {
	opt := &bolt.Options{Timeout: lockTime}
	db.bolt, err = bolt.Open(db.path, dbMode, opt)
	if err != nil {
		return err
	}
	return db.bolt.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(db.facility))
		return err
	})
}

// Path returns database path
func (db *DB) Path() string { return db.path }

// Do a key-value operation on the facility bucket
func (db *DB) Do(write bool, op Op) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.bolt == nil {
		return ErrInactive
	}
	ctx := context.Background()
	fn := func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(db.facility))
		if b == nil {
			return ErrEmpty
		}
		return op.Do(ctx, &bucketAdapter{b})
	}
	if write {
		return db.bolt.Update(fn)
	}
	return db.bolt.View(fn)
}

// Stop a database, closing it when the last reference goes, optionally
// removing the file
func (db *DB) Stop(remove bool) error {
	dbMut.Lock()
	defer dbMut.Unlock()
	if db.refs == 0 {
		return ErrInactive
	}
	db.refs--
	if db.refs > 0 {
		return nil
	}
	delete(dbMap, db.name)
	return db.close(remove)
}

func (db *DB) close(remove bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	err := db.bolt.Close()
	db.bolt = nil
	if remove {
		if rmErr := os.Remove(db.path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	fs.Debugf(db.name, "Closed %s database", db.facility)
	return err
}

// Exit stops all databases
func Exit() {
	dbMut.Lock()
	defer dbMut.Unlock()
	for name, db := range dbMap {
		db.refs = 0
		if err := db.close(false); err != nil {
			fs.Errorf(name, "Failed to close database: %v", err)
		}
		delete(dbMap, name)
	}
}

// bucketAdapter is a thin wrapper adapting kv.Bucket to bbolt.Bucket
type bucketAdapter struct {
	*bolt.Bucket
}

func (b *bucketAdapter) Cursor() Cursor {
	return b.Bucket.Cursor()
}
