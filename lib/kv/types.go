// Package kv provides key/value database.
package kv

import (
	"context"

	"github.com/pkg/errors"
)

// package errors
var (
	ErrEmpty    = errors.New("database empty")
	ErrInactive = errors.New("database stopped")
)

// Op represents a database operation
type Op interface {
	Do(context.Context, Bucket) error
}

// Bucket decouples bbolt.Bucket from key-val operations
type Bucket interface {
	Get([]byte) []byte
	Put([]byte, []byte) error
	Delete([]byte) error
	ForEach(func(bkey, data []byte) error) error
	Cursor() Cursor
}

// Cursor decouples bbolt.Cursor from key-val operations
type Cursor interface {
	First() ([]byte, []byte)
	Next() ([]byte, []byte)
	Seek([]byte) ([]byte, []byte)
}

// OpFunc adapts an ordinary function into an Op
type OpFunc func(ctx context.Context, b Bucket) error

// Do calls f(ctx, b)
func (f OpFunc) Do(ctx context.Context, b Bucket) error {
	return f(ctx, b)
}
