// Package rest implements a simple JSON over HTTP client for the
// remote control server
//
// All methods are safe for concurrent calling.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/errors"
)

// Client contains the info to sustain the API
type Client struct {
	mu           sync.RWMutex
	c            *http.Client
	rootURL      string
	errorHandler func(resp *http.Response) error
	headers      map[string]string
}

// NewClient makes a new api instance using the http.Client passed in
func NewClient(c *http.Client) *Client {
	return &Client{
		c:            c,
		errorHandler: defaultErrorHandler,
		headers:      make(map[string]string),
	}
}

// ReadBody reads resp.Body into result, closing the body
func ReadBody(resp *http.Response) (result []byte, err error) {
	defer closeBody(resp, &err)
	return io.ReadAll(resp.Body)
}

// closeBody closes resp.Body keeping the first error in *err
func closeBody(resp *http.Response, err *error) {
	cerr := resp.Body.Close()
	if *err == nil {
		*err = cerr
	}
}

// defaultErrorHandler doesn't attempt to parse the http body, just
// returns it in the error message closing resp.Body
func defaultErrorHandler(resp *http.Response) (err error) {
	body, err := ReadBody(resp)
	if err != nil {
		return errors.Wrap(err, "error reading error out of body")
	}
	return errors.Errorf("HTTP error %v (%v) returned body: %q", resp.StatusCode, resp.Status, body)
}

// SetErrorHandler sets the handler to decode an error response when
// the HTTP status code is not 2xx.  The handler should close resp.Body.
func (api *Client) SetErrorHandler(fn func(resp *http.Response) error) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.errorHandler = fn
	return api
}

// SetRoot sets the default RootURL
func (api *Client) SetRoot(RootURL string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.rootURL = RootURL
	return api
}

// SetHeader sets a header for all requests
func (api *Client) SetHeader(key, value string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.headers[key] = value
	return api
}

// Opts contains parameters for Call and CallJSON
type Opts struct {
	Method      string // GET, POST, etc.
	Path        string // relative to RootURL
	Body        io.Reader
	NoResponse  bool // set to close Body
	ContentType string
	Parameters  url.Values // any parameters for the final URL
}

// Copy creates a copy of the options
func (o *Opts) Copy() *Opts {
	newOpts := *o
	return &newOpts
}

// DecodeJSON decodes resp.Body into result
func DecodeJSON(resp *http.Response, result interface{}) (err error) {
	defer closeBody(resp, &err)
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	return decoder.Decode(result)
}

// Call makes the call and returns the http.Response
//
// if err == nil then resp.Body will need to be closed unless
// opt.NoResponse is set
//
// if err != nil then resp.Body will have been closed
func (api *Client) Call(ctx context.Context, opts *Opts) (resp *http.Response, err error) {
	if opts == nil {
		return nil, errors.New("call() called with nil opts")
	}
	api.mu.RLock()
	u := api.rootURL
	headers := make(map[string]string, len(api.headers)+1)
	for k, v := range api.headers {
		headers[k] = v
	}
	errorHandler := api.errorHandler
	api.mu.RUnlock()
	if u == "" {
		return nil, errors.New("RootURL not set")
	}
	u += opts.Path
	if len(opts.Parameters) > 0 {
		u += "?" + opts.Parameters.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, u, opts.Body)
	if err != nil {
		return nil, err
	}
	if opts.ContentType != "" {
		headers["Content-Type"] = opts.ContentType
	}
	for k, v := range headers {
		if k != "" && v != "" {
			req.Header.Add(k, v)
		}
	}
	resp, err = api.c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = errorHandler(resp)
		if err.Error() == "" {
			// replace empty errors with something
			err = errors.Errorf("http error %d: %v", resp.StatusCode, resp.Status)
		}
		return resp, err
	}
	if opts.NoResponse {
		return resp, resp.Body.Close()
	}
	return resp, nil
}

// CallJSON runs Call and decodes the body as a JSON object into response (if not nil)
//
// If request is not nil then it will be JSON encoded as the body of the request
//
// It will return resp if at all possible, even if err is set
func (api *Client) CallJSON(ctx context.Context, opts *Opts, request interface{}, response interface{}) (resp *http.Response, err error) {
	if request != nil {
		requestBody, err := json.Marshal(request)
		if err != nil {
			return nil, err
		}
		if opts.Body == nil {
			opts = opts.Copy()
			opts.ContentType = "application/json"
			opts.Body = bytes.NewBuffer(requestBody)
		}
	}
	resp, err = api.Call(ctx, opts)
	if err != nil {
		return resp, err
	}
	if response == nil || opts.NoResponse {
		if !opts.NoResponse {
			_ = resp.Body.Close()
		}
		return resp, nil
	}
	err = DecodeJSON(resp, response)
	return resp, err
}
