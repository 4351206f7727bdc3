package heal

import (
	"context"
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/ddn-lixi/mtfs/backend/replica/branch"
	"github.com/ddn-lixi/mtfs/backend/replica/oplist"
	"github.com/ddn-lixi/mtfs/fs"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tree is a set of memory branches where the first latest branches
// are valid
type tree struct {
	branches []*branch.Branch
	latest   int
	lookups  []string
	lookErr  error
}

func newTree(t *testing.T, bnum, latest int) *tree {
	tr := &tree{latest: latest}
	for i := 0; i < bnum; i++ {
		b, err := branch.New(context.Background(), i, fmt.Sprintf("mem:%d", i), branch.Options{})
		require.NoError(t, err)
		tr.branches = append(tr.branches, b)
	}
	return tr
}

func (tr *tree) Branch(i int) *branch.Branch {
	return tr.branches[i]
}

func (tr *tree) Relookup(i int, p string) error {
	tr.lookups = append(tr.lookups, fmt.Sprintf("%d:%s", i, p))
	return tr.lookErr
}

func (tr *tree) BranchCount() int {
	return len(tr.branches)
}

func (tr *tree) BranchPresent(i int) bool {
	return true
}

func (tr *tree) IsBranchValid(i int, class fs.ValidClass) bool {
	return i < tr.latest
}

func (tr *tree) InvalidateBranch(i int, class fs.ValidClass) error {
	return nil
}

func writeFile(t *testing.T, b *branch.Branch, p, content string) {
	require.NoError(t, b.Fs().MkdirAll(path.Dir(p), 0755))
	require.NoError(t, afero.WriteFile(b.Fs(), p, []byte(content), 0644))
}

func readFile(t *testing.T, b *branch.Branch, p string) string {
	data, err := afero.ReadFile(b.Fs(), p)
	require.NoError(t, err)
	return string(data)
}

func inoName(b *branch.Branch, p string) string {
	fi, err := b.Lstat(p)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s:%x", p, b.Ino(p, fi))
}

func TestUnderRecover(t *testing.T) {
	for _, test := range []struct {
		in       string
		recover  bool
		reserved bool
	}{
		{"/", false, false},
		{"/a/b", false, false},
		{"/.mtfs", false, true},
		{".mtfs/RECOVER", true, true},
		{"/.mtfs/RECOVER/a", true, true},
		{"/.mtfs/RECOVERED", false, true},
		{"/.mtfsx", false, false},
	} {
		assert.Equal(t, test.recover, UnderRecover(test.in), test.in)
		assert.Equal(t, test.reserved, Reserved(test.in), test.in)
	}
}

func TestBackupBranch(t *testing.T) {
	tr := newTree(t, 1, 1)
	b := tr.Branch(0)
	writeFile(t, b, "/a/b/file", "stale")
	require.NoError(t, b.SetFlag("/a/b/file", fs.FlagDataBad))

	require.NoError(t, BackupBranch(b, "/a/b/file"))

	exists, err := b.Exists("/a/b/file")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, "stale", readFile(t, b, RecoverDir+"/a/b/file"))

	fi, err := b.Lstat(RecoverDir + "/a/b")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	// flags follow the entry
	flag, err := b.Flag("/a/b/file")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), flag)
	flag, err = b.Flag(RecoverDir + "/a/b/file")
	require.NoError(t, err)
	assert.Equal(t, fs.FlagDataBad, flag)
}

func TestBackupBranchTwice(t *testing.T) {
	tr := newTree(t, 1, 1)
	b := tr.Branch(0)

	writeFile(t, b, "/file", "first")
	require.NoError(t, BackupBranch(b, "/file"))
	first := inoName(b, RecoverDir+"/file")
	require.NotEmpty(t, first)

	writeFile(t, b, "/file", "second")
	require.NoError(t, BackupBranch(b, "/file"))

	assert.Equal(t, "second", readFile(t, b, RecoverDir+"/file"))
	assert.Equal(t, "first", readFile(t, b, first))
}

func TestBackupBranchFileInTheWay(t *testing.T) {
	tr := newTree(t, 1, 1)
	b := tr.Branch(0)

	// a file where a recover directory has to go
	writeFile(t, b, RecoverDir+"/dir", "in the way")
	moved := inoName(b, RecoverDir+"/dir")

	writeFile(t, b, "/dir/file", "data")
	require.NoError(t, BackupBranch(b, "/dir/file"))

	assert.Equal(t, "data", readFile(t, b, RecoverDir+"/dir/file"))
	assert.Equal(t, "in the way", readFile(t, b, moved))
}

func TestBackupBranchSkip(t *testing.T) {
	tr := newTree(t, 1, 1)
	b := tr.Branch(0)
	writeFile(t, b, RecoverDir+"/file", "kept")

	require.NoError(t, BackupBranch(b, RecoverDir+"/file"))
	assert.Equal(t, "kept", readFile(t, b, RecoverDir+"/file"))

	assert.Error(t, BackupBranch(b, "/"))

	err := BackupBranch(b, "/missing")
	assert.True(t, fs.IsNotFound(err), "%v", err)
}

func TestDiscardDentry(t *testing.T) {
	tr := newTree(t, 3, 1)
	for i := 1; i < 3; i++ {
		writeFile(t, tr.Branch(i), "/dir/name", fmt.Sprintf("stale %d", i))
	}

	l, err := oplist.New(tr, oplist.Flag)
	require.NoError(t, err)
	require.Equal(t, 1, l.Latest())
	l.SetBranch(0, 0, oplist.Result{Err: os.ErrNotExist})
	l.SetBranch(1, oplist.Success, oplist.Result{})
	l.SetBranch(2, 0, oplist.Result{Err: os.ErrNotExist})
	require.Equal(t, 0, l.SuccessLatest())
	require.Equal(t, 1, l.SuccessNonlatest())

	require.NoError(t, DiscardDentry(tr, "/dir", "name", l))

	// only the branch where the operation succeeded is cleaned up
	b1 := tr.Branch(l.Branch(1))
	assert.Equal(t, fmt.Sprintf("stale %d", l.Branch(1)), readFile(t, b1, RecoverDir+"/dir/name"))
	b2 := tr.Branch(l.Branch(2))
	assert.Equal(t, fmt.Sprintf("stale %d", l.Branch(2)), readFile(t, b2, "/dir/name"))
	assert.Equal(t, []string{fmt.Sprintf("%d:/dir/name", l.Branch(1))}, tr.lookups)
}

func TestDiscardDentryErrors(t *testing.T) {
	tr := newTree(t, 3, 1)
	tr.lookErr = errors.New("lookup failed")

	l, err := oplist.New(tr, oplist.Flag)
	require.NoError(t, err)
	l.SetBranch(0, 0, oplist.Result{Err: os.ErrNotExist})
	l.SetBranch(1, oplist.Success, oplist.Result{})
	l.SetBranch(2, oplist.Success, oplist.Result{})

	err = DiscardDentry(tr, "/", "gone", l)
	require.Error(t, err)
	assert.Equal(t, "lookup failed", errors.Cause(err).Error())

	// both branches were tried
	assert.Len(t, tr.lookups, 2)
}
