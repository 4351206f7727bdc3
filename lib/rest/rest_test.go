package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/rc/noop", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("q"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "potato", r.Header.Get("X-Test"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		_, _ = w.Write(body)
	}))
	defer ts.Close()

	api := NewClient(ts.Client()).SetRoot(ts.URL + "/").SetHeader("X-Test", "potato")
	var out map[string]interface{}
	_, err := api.CallJSON(context.Background(), &Opts{
		Method:     "POST",
		Path:       "rc/noop",
		Parameters: url.Values{"q": {"1"}},
	}, map[string]interface{}{"a": 1}, &out)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), out["a"])
}

func TestCallErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer ts.Close()
	ctx := context.Background()

	_, err := NewClient(ts.Client()).Call(ctx, &Opts{Method: "GET"})
	assert.EqualError(t, err, "RootURL not set")

	api := NewClient(ts.Client()).SetRoot(ts.URL + "/")
	_, err = api.Call(ctx, nil)
	assert.Error(t, err)

	resp, err := api.Call(ctx, &Opts{Method: "GET"})
	require.Error(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Contains(t, err.Error(), "short and stout")

	sentinel := errors.New("decoded")
	api.SetErrorHandler(func(resp *http.Response) error {
		_ = resp.Body.Close()
		return sentinel
	})
	_, err = api.Call(ctx, &Opts{Method: "GET"})
	assert.Equal(t, sentinel, err)
}
