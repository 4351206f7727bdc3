package rcserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ddn-lixi/mtfs/fs/rc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	rc.Add(rc.Call{
		Path: "rcserver/test/param",
		Fn: func(ctx context.Context, in rc.Params) (rc.Params, error) {
			x, err := in.GetString("x")
			if err != nil {
				return nil, err
			}
			return rc.Params{"x": x}, nil
		},
		Title: "Test call needing a parameter",
	})
}

func newTestServer(t *testing.T) *httptest.Server {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "rcserver_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	s := New(DefaultOpt, reg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestRcServer(t *testing.T) {
	ts := newTestServer(t)
	for _, test := range []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
		status      int
		contains    []string
	}{
		{
			name:     "noop query",
			method:   "POST",
			path:     "/rc/noop?a=1",
			status:   http.StatusOK,
			contains: []string{`"a": "1"`},
		}, {
			name:        "noop json",
			method:      "POST",
			path:        "/rc/noop",
			contentType: "application/json",
			body:        `{"b": 2}`,
			status:      http.StatusOK,
			contains:    []string{`"b": 2`},
		}, {
			name:        "bad json",
			method:      "POST",
			path:        "/rc/noop",
			contentType: "application/json",
			body:        `{"b":`,
			status:      http.StatusBadRequest,
			contains:    []string{"failed to read input JSON"},
		}, {
			name:     "error",
			method:   "POST",
			path:     "/rc/error",
			status:   http.StatusInternalServerError,
			contains: []string{"arbitrary error", `"errno": 5`, `"path": "rc/error"`},
		}, {
			name:     "missing param",
			method:   "POST",
			path:     "/rcserver/test/param",
			status:   http.StatusBadRequest,
			contains: []string{`Didn't find key \"x\" in input`, `"status": 400`},
		}, {
			name:     "with param",
			method:   "POST",
			path:     "/rcserver/test/param?x=potato",
			status:   http.StatusOK,
			contains: []string{`"x": "potato"`},
		}, {
			name:     "unknown",
			method:   "POST",
			path:     "/no/such/call",
			status:   http.StatusNotFound,
			contains: []string{`couldn't find method \"no/such/call\"`},
		}, {
			name:     "wrong method",
			method:   "PUT",
			path:     "/rc/noop",
			status:   http.StatusMethodNotAllowed,
			contains: []string{`method \"PUT\" not allowed`},
		}, {
			name:     "metrics",
			method:   "GET",
			path:     "/metrics",
			status:   http.StatusOK,
			contains: []string{"rcserver_test_total 1"},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			req, err := http.NewRequest(test.method, ts.URL+test.path, strings.NewReader(test.body))
			require.NoError(t, err)
			if test.contentType != "" {
				req.Header.Set("Content-Type", test.contentType)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, test.status, resp.StatusCode, string(body))
			for _, want := range test.contains {
				assert.Contains(t, string(body), want)
			}
		})
	}
}

func TestServeShutdown(t *testing.T) {
	opt := DefaultOpt
	opt.ListenAddr = "localhost:0"
	s := New(opt, nil)
	require.NoError(t, s.Listen())
	assert.NotEqual(t, "http://localhost:0/", s.URL())

	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	resp, err := http.Post(s.URL()+"core/pid", "", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}
