// Package rcserver implements the HTTP endpoint to serve the remote control
package rcserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ddn-lixi/mtfs/fs"
	"github.com/ddn-lixi/mtfs/fs/rc"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPath = "/metrics"

// Options contains options for the remote control server
type Options struct {
	ListenAddr         string        // Port to listen on
	ServerReadTimeout  time.Duration // Timeout for server reading data
	ServerWriteTimeout time.Duration // Timeout for server writing data
	MaxHeaderBytes     int           // Maximum size of request header
}

// DefaultOpt is the default values used for Options
var DefaultOpt = Options{
	ListenAddr:         "localhost:5573",
	ServerReadTimeout:  1 * time.Hour,
	ServerWriteTimeout: 1 * time.Hour,
	MaxHeaderBytes:     4096,
}

// Server contains everything to run the rc server
type Server struct {
	opt        Options
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	listener   net.Listener
}

// New makes a Server serving the registered calls and the metrics
// from gatherer
func New(opt Options, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		opt:      opt,
		gatherer: gatherer,
	}
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    opt.ServerReadTimeout,
		WriteTimeout:   opt.ServerWriteTimeout,
		MaxHeaderBytes: opt.MaxHeaderBytes,
	}
	return s
}

// Handler returns the router for the server
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	if s.gatherer != nil {
		router.Method(http.MethodGet, metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	router.Post("/*", s.handlePost)
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(r.URL.Path, "/")
		writeError(path, nil, w, errors.Errorf("method %q not allowed", r.Method), http.StatusMethodNotAllowed)
	})
	return router
}

// Listen opens the listening socket so that URL is valid before Serve
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.opt.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %q", s.opt.ListenAddr)
	}
	s.listener = listener
	return nil
}

// URL returns the address the server is listening on
func (s *Server) URL() string {
	if s.listener == nil {
		return "http://" + s.opt.ListenAddr + "/"
	}
	return "http://" + s.listener.Addr().String() + "/"
}

// Serve runs the server until it is shut down
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	fs.Logf(nil, "Serving remote control on %s", s.URL())
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		err = nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// errorStatus returns the HTTP status for an error from a call
func errorStatus(err error) int {
	cause := errors.Cause(err)
	if rc.IsErrParamNotFound(cause) || rc.IsErrParamInvalid(cause) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError writes a formatted error to the output
func writeError(path string, in rc.Params, w http.ResponseWriter, err error, status int) {
	fs.Errorf(nil, "rc: %q: error: %v", path, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err = rc.WriteJSON(w, rc.Params{
		"status": status,
		"error":  err.Error(),
		"errno":  int(fs.Errno(err)),
		"input":  in,
		"path":   path,
	})
	if err != nil {
		// can't return the error at this point
		fs.Errorf(nil, "rc: failed to write JSON output: %v", err)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")

	// Read the POST and URL parameters into in
	in := make(rc.Params)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			in[k] = vs[len(vs)-1]
		}
	}

	// Parse a JSON blob from the input
	if r.Header.Get("Content-Type") == "application/json" {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		err := dec.Decode(&in)
		if err != nil {
			writeError(path, in, w, errors.Wrap(err, "failed to read input JSON"), http.StatusBadRequest)
			return
		}
	}

	call := rc.Calls.Get(path)
	if call == nil {
		writeError(path, in, w, errors.Errorf("couldn't find method %q", path), http.StatusNotFound)
		return
	}

	fs.Debugf(nil, "rc: %q: with parameters %+v", path, in)
	inOrig := make(rc.Params, len(in))
	for k, v := range in {
		inOrig[k] = v
	}
	out, err := call.Fn(r.Context(), in)
	if err != nil {
		writeError(path, inOrig, w, err, errorStatus(err))
		return
	}
	if out == nil {
		out = make(rc.Params)
	}

	fs.Debugf(nil, "rc: %q: reply %+v: %v", path, out, err)
	w.Header().Set("Content-Type", "application/json")
	err = rc.WriteJSON(w, out)
	if err != nil {
		// can't return the error at this point
		fs.Errorf(nil, "rc: handlePost: failed to write JSON output: %v", err)
	}
}
