package kv

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKvConcurrency(t *testing.T) {
	require.Equal(t, 0, len(dbMap), "no databases can be started initially")

	dir := t.TempDir()
	const threadNum = 5
	var wg sync.WaitGroup
	ctx := context.Background()
	results := make([]*DB, threadNum)
	wg.Add(threadNum)
	for i := 0; i < threadNum; i++ {
		go func(i int) {
			defer wg.Done()
			db, err := Start(ctx, "test", dir)
			assert.NoError(t, err)
			results[i] = db
		}(i)
	}
	wg.Wait()

	// must have a single multi-referenced db
	db := results[0]
	require.NotNil(t, db)
	assert.Equal(t, 1, len(dbMap))
	assert.Equal(t, threadNum, db.refs)
	for i := 0; i < threadNum; i++ {
		assert.Equal(t, db, results[i])
	}

	for i := 0; i < threadNum; i++ {
		assert.Equal(t, 1, len(dbMap))
		err := db.Stop(false)
		assert.NoError(t, err, "unexpected error %v at retry %d", err, i)
	}

	assert.Equal(t, 0, len(dbMap), "must be closed in the end")
	err := db.Stop(false)
	assert.ErrorIs(t, err, ErrInactive, "missing expected stop indication")
}

func TestKvExit(t *testing.T) {
	require.Equal(t, 0, len(dbMap), "no databases can be started initially")
	dir := t.TempDir()
	const dbNum = 5
	ctx := context.Background()
	for i := 0; i < dbNum; i++ {
		facility := fmt.Sprintf("test-%d", i)
		for j := 0; j <= i; j++ {
			db, err := Start(ctx, facility, dir)
			require.NoError(t, err)
			require.NotNil(t, db)
		}
	}
	assert.Equal(t, dbNum, len(dbMap))
	Exit()
	assert.Equal(t, 0, len(dbMap))
}

func TestKvDo(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := Start(ctx, "flags", dir)
	require.NoError(t, err)

	put := OpFunc(func(ctx context.Context, b Bucket) error {
		value := make([]byte, 4)
		binary.BigEndian.PutUint32(value, 3)
		return b.Put([]byte("/dir/file"), value)
	})
	require.NoError(t, db.Do(true, put))

	var got uint32
	var found bool
	get := OpFunc(func(ctx context.Context, b Bucket) error {
		value := b.Get([]byte("/dir/file"))
		if value != nil {
			found = true
			got = binary.BigEndian.Uint32(value)
		}
		return nil
	})
	require.NoError(t, db.Do(false, get))
	assert.True(t, found)
	assert.Equal(t, uint32(3), got)

	// writes inside a read transaction fail
	assert.Error(t, db.Do(false, put))

	// the value survives a restart
	require.NoError(t, db.Stop(false))
	assert.ErrorIs(t, db.Do(false, get), ErrInactive)
	db, err = Start(ctx, "flags", dir)
	require.NoError(t, err)
	found = false
	require.NoError(t, db.Do(false, get))
	assert.True(t, found)

	require.NoError(t, db.Do(true, OpFunc(func(ctx context.Context, b Bucket) error {
		return b.Delete([]byte("/dir/file"))
	})))
	found = false
	require.NoError(t, db.Do(false, get))
	assert.False(t, found)
	require.NoError(t, db.Stop(true))
}
