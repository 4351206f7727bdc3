// Package rc implements the control registry for mtfs
//
// To register your internal calls, call rc.Add(path, function).  Your
// function should take and return a Param.  It can also return an
// error.
package rc

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// WriteJSON writes JSON in out to w
func WriteJSON(w io.Writer, out Params) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	return enc.Encode(out)
}

// ReadJSON reads JSON from r into a new Params
func ReadJSON(r io.Reader) (Params, error) {
	in := Params{}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	err := dec.Decode(&in)
	if err == io.EOF {
		return in, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read input JSON")
	}
	return in, nil
}

// Run looks up path in the registry and calls it with in
func Run(ctx context.Context, path string, in Params) (out Params, err error) {
	call := Calls.Get(path)
	if call == nil {
		return nil, errors.Errorf("couldn't find method %q", path)
	}
	if in == nil {
		in = Params{}
	}
	out, err = call.Fn(ctx, in)
	if err != nil {
		return nil, errors.Wrapf(err, "%s failed", path)
	}
	if out == nil {
		out = Params{}
	}
	return out, nil
}
