package branch

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ddn-lixi/mtfs/lib/kv"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

// FlagStore persists the per entry flags of one branch.  Entries
// with no stored flags have flags 0.
type FlagStore interface {
	Get(path string) (uint32, error)
	Set(path string, flag uint32) error
	Delete(path string) error
	Close() error
}

// memFlags keeps flags in memory
type memFlags struct {
	mu    sync.Mutex
	flags map[string]uint32
}

func newMemFlags() *memFlags {
	return &memFlags{flags: map[string]uint32{}}
}

func (m *memFlags) Get(path string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[path], nil
}

func (m *memFlags) Set(path string, flag uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if flag == 0 {
		delete(m.flags, path)
	} else {
		m.flags[path] = flag
	}
	return nil
}

func (m *memFlags) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, path)
	return nil
}

func (m *memFlags) Close() error {
	return nil
}

// kvFlags keeps flags in a bbolt database
type kvFlags struct {
	db *kv.DB
}

func newKVFlags(ctx context.Context, facility, dir string) (*kvFlags, error) {
	db, err := kv.Start(ctx, facility, dir)
	if err != nil {
		return nil, err
	}
	return &kvFlags{db: db}, nil
}

func (k *kvFlags) Get(path string) (flag uint32, err error) {
	err = k.db.Do(false, kv.OpFunc(func(ctx context.Context, b kv.Bucket) error {
		value := b.Get([]byte(path))
		if value == nil {
			return nil
		}
		if len(value) != 4 {
			return errors.Errorf("corrupt flag record for %q", path)
		}
		flag = binary.BigEndian.Uint32(value)
		return nil
	}))
	return flag, err
}

func (k *kvFlags) Set(path string, flag uint32) error {
	return k.db.Do(true, kv.OpFunc(func(ctx context.Context, b kv.Bucket) error {
		if flag == 0 {
			return b.Delete([]byte(path))
		}
		value := make([]byte, 4)
		binary.BigEndian.PutUint32(value, flag)
		return b.Put([]byte(path), value)
	}))
}

func (k *kvFlags) Delete(path string) error {
	return k.db.Do(true, kv.OpFunc(func(ctx context.Context, b kv.Bucket) error {
		return b.Delete([]byte(path))
	}))
}

func (k *kvFlags) Close() error {
	return k.db.Stop(false)
}

// cachedFlags puts an expiring cache in front of a FlagStore.
//
// Misses refill the cache under mu so a refill can't put back a value
// which a concurrent Set has replaced.
type cachedFlags struct {
	mu    sync.Mutex
	store FlagStore
	cache *cache.Cache
}

func newCachedFlags(store FlagStore, expire time.Duration) *cachedFlags {
	return &cachedFlags{
		store: store,
		cache: cache.New(expire, 2*expire),
	}
}

func (c *cachedFlags) Get(path string) (uint32, error) {
	if v, found := c.cache.Get(path); found {
		return v.(uint32), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, found := c.cache.Get(path); found {
		return v.(uint32), nil
	}
	flag, err := c.store.Get(path)
	if err != nil {
		return 0, err
	}
	c.cache.SetDefault(path, flag)
	return flag, nil
}

func (c *cachedFlags) Set(path string, flag uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Delete(path)
	err := c.store.Set(path, flag)
	if err == nil {
		c.cache.SetDefault(path, flag)
	}
	return err
}

func (c *cachedFlags) Delete(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Delete(path)
	return c.store.Delete(path)
}

func (c *cachedFlags) Close() error {
	c.cache.Flush()
	return c.store.Close()
}
