// Package scheduler runs periodic maintenance over the whole server fleet.
package scheduler

import (
	"context"

	"cloudcubes/internal/lease"
	"cloudcubes/internal/lifecycle"
	"cloudcubes/internal/logging"
	"cloudcubes/internal/store"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// Lister enumerates server records.
type Lister interface {
	List(ctx context.Context) ([]store.Summary, error)
}

// ServerFactory builds a lifecycle manager for one server id.
type ServerFactory func(ctx context.Context, id int) (lifecycle.Server, error)

// Result is the outcome of reconciling one server during a sweep.
type Result struct {
	ID    int
	State store.ServerState
	Err   error
}

// Sweep reconciles every record left in UNKNOWN, each under its own lease,
// on a bounded worker pool. Individual failures are reported per server and
// do not abort the sweep.
func Sweep(ctx context.Context, lister Lister, locker lease.Locker, factory ServerFactory, maxWorkers int) ([]Result, error) {
	summaries, err := lister.List(ctx)
	if err != nil {
		return nil, err
	}

	var unknown []store.Summary
	for _, s := range summaries {
		if s.State == store.StateUnknown {
			unknown = append(unknown, s)
		}
	}
	if len(unknown) == 0 {
		return nil, nil
	}

	if maxWorkers < 1 {
		maxWorkers = 1
	}
	workers := min(maxWorkers, len(unknown))
	logging.Logger().Info("sweeping unverified servers",
		zap.Int("servers", len(unknown)),
		zap.Int("workers", workers))

	pool := pond.NewPool(workers)
	results := make([]Result, len(unknown))
	for i, summary := range unknown {
		pool.Submit(func() {
			results[i] = sweepOne(ctx, locker, factory, summary.ID)
		})
	}
	pool.StopAndWait()

	return results, nil
}

func sweepOne(ctx context.Context, locker lease.Locker, factory ServerFactory, id int) Result {
	held, err := locker.Acquire(ctx, id)
	if err != nil {
		// A held lease means someone else is already working on this server.
		return Result{ID: id, State: store.StateUnknown, Err: err}
	}
	defer func() {
		if err := held.Release(ctx); err != nil {
			logging.Logger().Warn("failed to release server lease",
				zap.Int("server_id", id), zap.Error(err))
		}
	}()

	server, err := factory(ctx, id)
	if err != nil {
		return Result{ID: id, State: store.StateUnknown, Err: err}
	}

	state, err := server.Reconcile(ctx)
	if err != nil {
		logging.Logger().Error("failed to reconcile server",
			zap.Int("server_id", id), zap.Error(err))
		return Result{ID: id, State: state, Err: err}
	}

	logging.Logger().Info("server reconciled",
		zap.Int("server_id", id), zap.String("state", string(state)))
	return Result{ID: id, State: state}
}
