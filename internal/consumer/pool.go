package consumer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs several runtimes of one consumer group. The group assigns each
// member a disjoint set of partitions.
type Pool struct {
	runtimes []*Runtime
}

func NewPool(n int, build func(i int) *Runtime) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{runtimes: make([]*Runtime, n)}
	for i := range p.runtimes {
		p.runtimes[i] = build(i)
	}
	return p
}

func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, rt := range p.runtimes {
		g.Go(func() error { return rt.Run(ctx) })
	}
	return g.Wait()
}

func (p *Pool) States() []State {
	out := make([]State, len(p.runtimes))
	for i, rt := range p.runtimes {
		out[i] = rt.State()
	}
	return out
}

// Ready reports whether every runtime holds a group membership.
func (p *Pool) Ready() bool {
	for _, rt := range p.runtimes {
		if !rt.State().Live() {
			return false
		}
	}
	return true
}
