// Package swarm runs one control sequence per vehicle in parallel.
package swarm

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// Member is anything addressed by a vehicle URI.
type Member interface {
	URI() string
}

// Run calls fn once per member, all in parallel, and waits for every call.
// A failing member never cancels its siblings: a vehicle already in the air
// must finish its own sequence. Errors are joined, each prefixed with the
// member's URI.
func Run[M Member](ctx context.Context, members []M, fn func(context.Context, M) error) error {
	p := pool.New().WithErrors()
	for _, m := range members {
		p.Go(func() error {
			if err := fn(ctx, m); err != nil {
				return fmt.Errorf("%s: %w", m.URI(), err)
			}
			return nil
		})
	}
	return p.Wait()
}

// Each is Run for ground-side steps such as preflight: the first failure
// cancels the context passed to the remaining calls.
func Each[M Member](ctx context.Context, members []M, fn func(context.Context, M) error) error {
	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	for _, m := range members {
		p.Go(func(ctx context.Context) error {
			if err := fn(ctx, m); err != nil {
				return fmt.Errorf("%s: %w", m.URI(), err)
			}
			return nil
		})
	}
	return p.Wait()
}
