package nodesync

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Each calls fn for every session. With parallel <= 1 sessions run one at a
// time in order; otherwise up to parallel run at once. Every session is
// attempted and all failures are returned joined.
func Each(ctx context.Context, sessions []Session, parallel int, fn func(context.Context, Session) error) error {
	if parallel < 1 {
		parallel = 1
	}
	errs := make([]error, len(sessions))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, sess := range sessions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(ctx, sess)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
