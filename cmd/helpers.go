package cmd

import (
	"context"

	"cloudcubes/internal/config"
	"cloudcubes/internal/lease"
	"cloudcubes/internal/lifecycle"
	"cloudcubes/internal/logging"
	"cloudcubes/internal/store"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"
)

// environment bundles everything a command needs to talk to the deployment.
type environment struct {
	cfg     *config.Config
	clients lifecycle.Clients
	store   *store.Store
}

func newEnvironment(ctx context.Context) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	awsCfg, err := cfg.AWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg: cfg,
		clients: lifecycle.Clients{
			EC2: ec2.NewFromConfig(awsCfg),
			SSM: ssm.NewFromConfig(awsCfg),
		},
		store: store.New(dynamodb.NewFromConfig(awsCfg), cfg.ServerDatabaseName),
	}, nil
}

func (e *environment) server(ctx context.Context, id int) (lifecycle.Server, error) {
	record, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return lifecycle.NewServer(record, e.clients, e.cfg)
}

// withLease runs fn while holding the server's lease.
func (e *environment) withLease(ctx context.Context, id int, fn func() error) error {
	locker, err := lease.NewLocker(e.cfg.Etcd.Endpoints)
	if err != nil {
		return err
	}
	defer func() {
		if err := locker.Close(); err != nil {
			logging.Logger().Warn("failed to close lease store", zap.Error(err))
		}
	}()

	held, err := locker.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Release(ctx); err != nil {
			logging.Logger().Warn("failed to release server lease",
				zap.Int("server_id", id), zap.Error(err))
		}
	}()

	return fn()
}
