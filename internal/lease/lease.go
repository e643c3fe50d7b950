// Package lease provides the cross-instance lock held around a retrain.
// Concurrent requests inside one process are already collapsed by the
// generator; a Locker only matters when several instances share a database.
package lease

import (
	"context"
	"errors"
)

var ErrNotHeld = errors.New("lease is not held")

// Locker acquires exclusive leases by key. Acquire blocks until the lease is
// obtained or ctx is done. The returned release function is safe to call
// more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Nop grants every lease immediately.
type Nop struct{}

func (Nop) Acquire(ctx context.Context, _ string) (func(context.Context) error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func(context.Context) error { return nil }, nil
}
