// Package workgroup runs a set of independent units of work and joins on
// their completion. A group may be bounded, in which case at most `limit`
// units run concurrently; submission blocks until a slot frees up.
package workgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type workgroup struct {
	ctx   context.Context
	group errgroup.Group
	slots chan struct{}
}

// WithContext creates an unbounded group whose units receive ctx.
func WithContext(ctx context.Context) *workgroup {
	return &workgroup{
		ctx:   ctx,
		group: errgroup.Group{},
	}
}

// Bounded creates a group that runs at most limit units at a time. A limit
// of zero or less means unbounded.
func Bounded(ctx context.Context, limit int) *workgroup {
	g := WithContext(ctx)
	if limit > 0 {
		g.slots = make(chan struct{}, limit)
	}
	return g
}

// Work submits a unit of work to the group.
func (g *workgroup) Work(fn func(context.Context) error) {
	g.group.Go(func() error {
		if g.slots != nil {
			select {
			case g.slots <- struct{}{}:
				defer func() { <-g.slots }()
			case <-g.ctx.Done():
				return g.ctx.Err()
			}
		}
		return fn(g.ctx)
	})
}

// Wait blocks until all submitted work has finished and returns the first
// error observed, if any.
func (g *workgroup) Wait() error {
	return g.group.Wait()
}
