package masync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/lib/interval"
	"github.com/ddn-lixi/mtfs/lib/mlock"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// object is a file replicated over some memory branches
type object struct {
	branches []afero.Fs
	name     string
	opens    int
	wrap     func(i int, f afero.File) afero.File
	err      error
}

func newObject(t *testing.T, name string, n int, data []byte) *object {
	o := &object{name: name}
	for i := 0; i < n; i++ {
		b := afero.NewMemMapFs()
		content := data
		if i > 0 {
			content = nil
		}
		require.NoError(t, afero.WriteFile(b, name, content, 0644))
		o.branches = append(o.branches, b)
	}
	return o
}

func (o *object) OpenBranchFiles() (files []afero.File, err error) {
	if o.err != nil {
		return nil, o.err
	}
	o.opens++
	for i, b := range o.branches {
		f, err := b.OpenFile(o.name, os.O_RDWR, 0)
		if err != nil {
			closeFiles(files)
			return nil, err
		}
		if o.wrap != nil {
			f = o.wrap(i, f)
		}
		files = append(files, f)
	}
	return files, nil
}

func (o *object) content(t *testing.T, i int) []byte {
	data, err := afero.ReadFile(o.branches[i], o.name)
	require.NoError(t, err)
	return data
}

func newTestInfo(opt Options) *Info {
	if opt.BulkSize == 0 {
		opt.BulkSize = 7
	}
	return NewInfo(opt, NewMetrics("test"))
}

func ext(start, end uint64) interval.Extent {
	return interval.Extent{Start: start, End: end}
}

func TestAddMerge(t *testing.T) {
	info := newTestInfo(Options{})
	o := newObject(t, "file", 2, nil)
	b := info.NewBucket("file", nil)

	require.NoError(t, b.Add(o, 0, 99))
	require.NoError(t, b.Add(o, 50, 149))
	assert.Equal(t, []interval.Extent{ext(0, 149)}, b.Ranges())
	assert.Equal(t, 1, b.NR())

	require.NoError(t, b.Add(o, 200, 299))
	assert.Equal(t, []interval.Extent{ext(0, 149), ext(200, 299)}, b.Ranges())
	assert.Equal(t, 2, info.Total())

	// touching ends merge
	require.NoError(t, b.Add(o, 149, 200))
	assert.Equal(t, []interval.Extent{ext(0, 299)}, b.Ranges())
	assert.Equal(t, 1, info.Total())
	assert.Equal(t, 1, info.TotalSlow())
	assert.Equal(t, 1, o.opens)
	assert.Equal(t, 1, info.Buckets())
}

func TestAddBadRange(t *testing.T) {
	info := newTestInfo(Options{})
	o := newObject(t, "file", 2, nil)
	b := info.NewBucket("file", nil)
	assert.Error(t, b.Add(o, 10, 5))
	assert.Equal(t, 0, info.Buckets())
}

func TestAddOpenError(t *testing.T) {
	info := newTestInfo(Options{})
	o := newObject(t, "file", 2, nil)
	o.err = fs.ErrorBranchAbsent
	b := info.NewBucket("file", nil)
	err := b.Add(o, 0, 10)
	require.Error(t, err)
	assert.Equal(t, fs.ErrorBranchAbsent, errors.Cause(err))
	assert.False(t, b.Dirty())
	assert.Equal(t, 0, info.Total())

	one := newObject(t, "one", 1, nil)
	err = info.NewBucket("one", nil).Add(one, 0, 10)
	assert.Equal(t, fs.ErrorBranchCount, errors.Cause(err))
}

func TestCleanup(t *testing.T) {
	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	info := newTestInfo(Options{})
	o := newObject(t, "file", 3, data)
	b := info.NewBucket("file", nil)

	require.NoError(t, b.Add(o, 0, 3))
	require.NoError(t, b.Add(o, 10, 19))
	require.NoError(t, b.Add(o, 30, interval.EOF))
	assert.Equal(t, 3, b.NR())

	assert.Equal(t, 3, b.Cleanup(context.Background()))
	assert.Equal(t, 0, b.NR())
	assert.Equal(t, 0, info.Total())
	assert.Equal(t, 0, info.Buckets())
	assert.Nil(t, b.files)

	want := make([]byte, len(data))
	copy(want[0:4], data[0:4])
	copy(want[10:20], data[10:20])
	copy(want[30:], data[30:])
	for i := 1; i < 3; i++ {
		assert.Equal(t, want, o.content(t, i), fmt.Sprintf("branch %d", i))
	}

	// bucket can be dirtied again
	require.NoError(t, b.Add(o, 4, 9))
	assert.Equal(t, 2, o.opens)
	assert.Equal(t, 1, b.Cleanup(context.Background()))
}

func TestCancel(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 100)
	info := newTestInfo(Options{})
	var objects []*object
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("file%d", i)
		o := newObject(t, name, 2, data)
		b := info.NewBucket(name, nil)
		require.NoError(t, b.Add(o, 0, 9))
		require.NoError(t, b.Add(o, 20, 29))
		objects = append(objects, o)
	}
	assert.Equal(t, 6, info.Total())

	assert.Equal(t, 3, info.Cancel(context.Background(), 3))
	assert.Equal(t, 3, info.Total())
	assert.Equal(t, 2, info.Buckets())

	// oldest bucket went first
	got := objects[0].content(t, 1)
	assert.Equal(t, data[:10], got[:10])
	assert.Equal(t, make([]byte, 10), got[10:20])
	assert.Equal(t, data[20:30], got[20:30])
	assert.Empty(t, objects[2].content(t, 1))

	assert.Equal(t, 3, info.Cancel(context.Background(), 10))
	assert.Equal(t, 0, info.Total())
	assert.Equal(t, 0, info.Buckets())
	assert.Equal(t, 0, info.Cancel(context.Background(), 10))
}

func TestCancelDegrade(t *testing.T) {
	info := newTestInfo(Options{})
	busy := info.NewBucket("busy", nil)
	idle := info.NewBucket("idle", nil)
	require.NoError(t, busy.Add(newObject(t, "busy", 2, []byte("busy")), 0, 3))
	require.NoError(t, idle.Add(newObject(t, "idle", 2, []byte("idle")), 0, 3))

	busy.mu.Lock()
	assert.Equal(t, 1, info.Cancel(context.Background(), 2))
	busy.mu.Unlock()

	assert.Equal(t, 1, info.Total())
	assert.Equal(t, 1, busy.NR())
	assert.Equal(t, 0, idle.NR())

	var out strings.Builder
	require.NoError(t, info.Dump(&out))
	assert.Equal(t, "Bucket: busy, NR: 1\n", out.String())
}

func TestDump(t *testing.T) {
	info := newTestInfo(Options{})
	a := info.NewBucket("a", nil)
	b := info.NewBucket("b", nil)
	require.NoError(t, a.Add(newObject(t, "a", 2, nil), 0, 1))
	require.NoError(t, b.Add(newObject(t, "b", 2, nil), 0, 1))
	require.NoError(t, b.Add(newObject(t, "b", 2, nil), 5, 6))

	var out strings.Builder
	require.NoError(t, info.Dump(&out))
	assert.Equal(t, "Bucket: a, NR: 1\nBucket: b, NR: 2\n", out.String())

	// adding touches the bucket
	require.NoError(t, a.Add(nil, 10, 11))
	out.Reset()
	require.NoError(t, info.Dump(&out))
	assert.Equal(t, "Bucket: b, NR: 2\nBucket: a, NR: 2\n", out.String())
}

// shortFile writes one byte less than asked
type shortFile struct {
	afero.File
}

func (f shortFile) WriteAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return f.File.WriteAt(p[:len(p)-1], off)
}

func TestSyncRangeShortWrite(t *testing.T) {
	info := newTestInfo(Options{})
	o := newObject(t, "file", 2, []byte("hello world"))
	o.wrap = func(i int, f afero.File) afero.File {
		if i == 1 {
			return shortFile{f}
		}
		return f
	}
	b := info.NewBucket("file", nil)
	require.NoError(t, b.Add(o, 0, 10))

	buf := make([]byte, 16)
	b.mu.Lock()
	err := b.syncRange(context.Background(), ext(0, 10), buf, 0)
	b.mu.Unlock()
	assert.Equal(t, fs.ErrorShortWrite, errors.Cause(err))

	// the range is dropped and counted
	assert.Equal(t, 1, info.Cancel(context.Background(), 1))
	assert.Equal(t, 0, info.Total())
}

func TestSyncRangeFlushLock(t *testing.T) {
	info := newTestInfo(Options{})
	res := mlock.NewResource("file", mlock.TypeExtent)
	o := newObject(t, "file", 2, []byte("0123456789"))
	b := info.NewBucket("file", res)
	require.NoError(t, b.Add(o, 0, 9))

	// a writer on the range holds up the copy
	w, err := mlock.Enqueue(context.Background(), res, mlock.EnqueueInfo{Mode: mlock.ModeWrite, Extent: ext(0, 4)})
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		done <- b.Cleanup(context.Background())
	}()
	select {
	case <-done:
		t.Fatal("cleanup didn't wait for the writer")
	case <-time.After(50 * time.Millisecond):
	}
	mlock.Cancel(w)
	assert.Equal(t, 1, <-done)
	assert.Equal(t, []byte("0123456789"), o.content(t, 1))
	assert.Empty(t, res.Granted())
}

func TestCancelSkipsLockedRange(t *testing.T) {
	info := newTestInfo(Options{})
	res := mlock.NewResource("locked", mlock.TypeExtent)
	locked := newObject(t, "locked", 2, []byte("0123456789"))
	lb := info.NewBucket("locked", res)
	require.NoError(t, lb.Add(locked, 0, 9))

	w, err := mlock.Enqueue(context.Background(), res, mlock.EnqueueInfo{Mode: mlock.ModeWrite, Extent: ext(0, 99)})
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		done <- info.Cancel(context.Background(), 10)
	}()
	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel waited for a locked range")
	}
	assert.Equal(t, 1, lb.NR())
	assert.Empty(t, locked.content(t, 1))

	// other files can still be dirtied and drained
	other := newObject(t, "other", 2, []byte("other"))
	ob := info.NewBucket("other", nil)
	added := make(chan error, 1)
	go func() {
		added <- ob.Add(other, 0, 4)
	}()
	select {
	case err := <-added:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("add stalled behind a locked range")
	}
	assert.Equal(t, 1, info.Cancel(context.Background(), 10))
	assert.Equal(t, []byte("other"), other.content(t, 1))
	assert.Equal(t, 1, info.Total())

	mlock.Cancel(w)
	assert.Equal(t, 1, info.Cancel(context.Background(), 10))
	assert.Equal(t, []byte("0123456789"), locked.content(t, 1))
	assert.Equal(t, 0, info.Total())
	assert.Equal(t, 0, info.Buckets())
	assert.Empty(t, res.Granted())
}

func TestServiceKick(t *testing.T) {
	info := newTestInfo(Options{Threads: 2, Batch: 1, Interval: time.Hour})
	ctx := context.Background()
	require.NoError(t, info.Start(ctx))
	assert.Error(t, info.Start(ctx))

	o := newObject(t, "file", 2, []byte("0123456789"))
	b := info.NewBucket("file", nil)
	require.NoError(t, b.Add(o, 0, 1))
	require.NoError(t, b.Add(o, 5, 6))

	require.Eventually(t, func() bool {
		return info.Total() == 0
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, info.Stop())
	require.NoError(t, info.Stop())
	assert.Equal(t, []byte("01\x00\x00\x0056"), o.content(t, 1))
}

func TestServicePressure(t *testing.T) {
	oldUsed := memoryUsedPercent
	defer func() { memoryUsedPercent = oldUsed }()
	memoryUsedPercent = func(context.Context) (float64, error) {
		return 95, nil
	}

	info := newTestInfo(Options{Batch: 1, MemoryPressure: 90})
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("file%d", i)
		b := info.NewBucket(name, nil)
		require.NoError(t, b.Add(newObject(t, name, 2, []byte(name)), 0, 4))
	}
	assert.True(t, info.underPressure(context.Background()))
	info.service(context.Background())
	assert.Equal(t, 0, info.Total())

	memoryUsedPercent = func(context.Context) (float64, error) {
		return 10, nil
	}
	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("again%d", i)
		b := info.NewBucket(name, nil)
		require.NoError(t, b.Add(newObject(t, name, 2, []byte(name)), 0, 4))
	}
	assert.False(t, info.underPressure(context.Background()))
	info.service(context.Background())
	assert.Equal(t, 1, info.Total())
}

func TestShutdown(t *testing.T) {
	info := newTestInfo(Options{Interval: time.Hour, Batch: 1})
	require.NoError(t, info.Start(context.Background()))
	o := newObject(t, "file", 2, []byte("abc"))
	b := info.NewBucket("file", nil)
	require.NoError(t, b.Add(o, 0, 2))
	require.NoError(t, info.Shutdown(context.Background()))
	assert.Equal(t, 0, info.Total())
	assert.Equal(t, []byte("abc"), o.content(t, 1))
}
