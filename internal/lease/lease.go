// Package lease provides per-server mutual exclusion so that two actors
// cannot drive the same server through a lifecycle transition at once.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// ErrLeaseHeld is returned when another operation currently holds the
// server's lease. The caller should back off and retry later.
var ErrLeaseHeld = errors.New("server lease is held by another operation")

// Lease is a held per-server lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out per-server leases.
type Locker interface {
	Acquire(ctx context.Context, serverID int) (Lease, error)
	Close() error
}

// sessionTTL bounds how long a crashed holder can block a server.
const sessionTTL = 30 // seconds

// NewLocker returns an etcd-backed locker when endpoints are configured and
// a process-local one otherwise.
func NewLocker(endpoints []string) (Locker, error) {
	if len(endpoints) == 0 {
		return NewLocalLocker(), nil
	}
	return NewEtcdLocker(endpoints)
}

// EtcdLocker implements Locker over etcd concurrency sessions.
type EtcdLocker struct {
	client *clientv3.Client
}

// NewEtcdLocker connects to etcd.
func NewEtcdLocker(endpoints []string) (*EtcdLocker, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdLocker{client: cli}, nil
}

// Acquire takes the server's lease without blocking. A lease held elsewhere
// fails fast with ErrLeaseHeld.
func (l *EtcdLocker) Acquire(ctx context.Context, serverID int) (Lease, error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(sessionTTL), concurrency.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	mutex := concurrency.NewMutex(session, fmt.Sprintf("/cloudcubes/servers/%d/lock", serverID))
	if err := mutex.TryLock(ctx); err != nil {
		_ = session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, fmt.Errorf("server %d: %w", serverID, ErrLeaseHeld)
		}
		return nil, fmt.Errorf("failed to lock server %d: %w", serverID, err)
	}

	return &etcdLease{mutex: mutex, session: session}, nil
}

// Close closes the etcd client connection.
func (l *EtcdLocker) Close() error {
	return l.client.Close()
}

type etcdLease struct {
	mutex   *concurrency.Mutex
	session *concurrency.Session
}

func (e *etcdLease) Release(ctx context.Context) error {
	err := e.mutex.Unlock(ctx)
	if closeErr := e.session.Close(); err == nil {
		err = closeErr
	}
	return err
}

// LocalLocker implements Locker inside a single process. Used when no etcd
// endpoints are configured, and by tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[int]bool
}

// NewLocalLocker creates an empty process-local locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[int]bool)}
}

func (l *LocalLocker) Acquire(_ context.Context, serverID int) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[serverID] {
		return nil, fmt.Errorf("server %d: %w", serverID, ErrLeaseHeld)
	}
	l.held[serverID] = true
	return &localLease{locker: l, serverID: serverID}, nil
}

func (l *LocalLocker) Close() error {
	return nil
}

type localLease struct {
	locker   *LocalLocker
	serverID int
	once     sync.Once
}

func (e *localLease) Release(context.Context) error {
	e.once.Do(func() {
		e.locker.mu.Lock()
		delete(e.locker.held, e.serverID)
		e.locker.mu.Unlock()
	})
	return nil
}
