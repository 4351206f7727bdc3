package rc

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	err := WriteJSON(&buf, Params{
		"String": "hello",
		"Int":    42,
	})
	require.NoError(t, err)
	assert.Equal(t, `{
	"Int": 42,
	"String": "hello"
}
`, buf.String())
}

func TestReadJSON(t *testing.T) {
	in, err := ReadJSON(strings.NewReader(`{"path":"/a","start":18446744073709551615}`))
	require.NoError(t, err)
	path, err := in.GetString("path")
	require.NoError(t, err)
	assert.Equal(t, "/a", path)
	start, err := in.GetUint64("start")
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), start)

	in, err = ReadJSON(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Params{}, in)

	_, err = ReadJSON(strings.NewReader("{"))
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	out, err := Run(ctx, "/rc/noop/", Params{"potato": 1})
	require.NoError(t, err)
	assert.Equal(t, Params{"potato": 1}, out)

	_, err = Run(ctx, "rc/error", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arbitrary error")

	_, err = Run(ctx, "rc/notfound", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "couldn't find method")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Add(Call{Path: "/b/call/", Title: "b"})
	r.Add(Call{Path: "a/call", Title: "a"})
	require.NotNil(t, r.Get("b/call"))
	assert.Nil(t, r.Get("c/call"))
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a/call", list[0].Path)
	assert.Equal(t, "b/call", list[1].Path)
}

func TestInternalCalls(t *testing.T) {
	ctx := context.Background()
	out, err := Run(ctx, "core/pid", nil)
	require.NoError(t, err)
	assert.NotNil(t, out["pid"])

	out, err = Run(ctx, "rc/list", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out["commands"])
}
