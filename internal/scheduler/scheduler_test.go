package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cloudcubes/internal/lease"
	"cloudcubes/internal/lifecycle"
	"cloudcubes/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	summaries []store.Summary
}

func (f *fakeLister) List(context.Context) ([]store.Summary, error) {
	return f.summaries, nil
}

type fakeServer struct {
	id           int
	reconcileTo  store.ServerState
	reconcileErr error
	reconciled   bool
}

func (f *fakeServer) ID() int                                               { return f.id }
func (f *fakeServer) State(context.Context) (store.ServerState, error)      { return f.reconcileTo, nil }
func (f *fakeServer) Online(context.Context) (bool, error)                  { return false, nil }
func (f *fakeServer) Start(context.Context) error                           { return nil }
func (f *fakeServer) Stop(context.Context) error                            { return nil }
func (f *fakeServer) SetDesiredState(context.Context, store.ServerState) (bool, error) {
	return false, nil
}

func (f *fakeServer) Reconcile(context.Context) (store.ServerState, error) {
	f.reconciled = true
	if f.reconcileErr != nil {
		return store.StateUnknown, f.reconcileErr
	}
	return f.reconcileTo, nil
}

type fakeFactory struct {
	mu      sync.Mutex
	servers map[int]*fakeServer
	asked   []int
}

func (f *fakeFactory) build(_ context.Context, id int) (lifecycle.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, id)
	server, ok := f.servers[id]
	if !ok {
		return nil, errors.New("no such server")
	}
	return server, nil
}

func TestSweepReconcilesOnlyUnknownRecords(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{summaries: []store.Summary{
		{ID: 1, State: store.StateOffline},
		{ID: 2, State: store.StateUnknown},
		{ID: 3, State: store.StateUnknown},
		{ID: 4, State: store.StateOnline},
	}}
	factory := &fakeFactory{servers: map[int]*fakeServer{
		2: {id: 2, reconcileTo: store.StateOffline},
		3: {id: 3, reconcileErr: errors.New("describe failed")},
	}}

	results, err := Sweep(ctx, lister, lease.NewLocalLocker(), factory.build, 4)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.ElementsMatch(t, []int{2, 3}, factory.asked)
	assert.True(t, factory.servers[2].reconciled)
	assert.True(t, factory.servers[3].reconciled)

	byID := map[int]Result{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.NoError(t, byID[2].Err)
	assert.Equal(t, store.StateOffline, byID[2].State)
	assert.Error(t, byID[3].Err, "one failing server must not abort the sweep")
}

func TestSweepSkipsLeasedServers(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{summaries: []store.Summary{
		{ID: 2, State: store.StateUnknown},
	}}
	factory := &fakeFactory{servers: map[int]*fakeServer{
		2: {id: 2, reconcileTo: store.StateOffline},
	}}

	locker := lease.NewLocalLocker()
	held, err := locker.Acquire(ctx, 2)
	require.NoError(t, err)
	defer held.Release(ctx)

	results, err := Sweep(ctx, lister, locker, factory.build, 2)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, lease.ErrLeaseHeld)
	assert.False(t, factory.servers[2].reconciled)
}

func TestSweepWithNothingToDo(t *testing.T) {
	ctx := context.Background()
	lister := &fakeLister{summaries: []store.Summary{
		{ID: 1, State: store.StateOffline},
	}}
	factory := &fakeFactory{servers: map[int]*fakeServer{}}

	results, err := Sweep(ctx, lister, lease.NewLocalLocker(), factory.build, 2)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, factory.asked)
}
