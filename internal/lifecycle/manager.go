package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"cloudcubes/internal/config"
	"cloudcubes/internal/store"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

var (
	// ErrServerOnline is returned by Start when the server is already online.
	ErrServerOnline = errors.New("server is currently online")
	// ErrServerOffline is returned by Stop when the server is not online.
	ErrServerOffline = errors.New("server is not online")
	// ErrInstanceUnknown is returned by Stop when no instance id has been
	// recorded yet; reconciling first resolves it.
	ErrInstanceUnknown = errors.New("no instance id recorded for server")
	// ErrProvisioningContract is returned when the provisioning backend
	// breaks its acknowledgment contract (anything but exactly one spot
	// request for a count-1 request).
	ErrProvisioningContract = errors.New("provisioning backend violated request contract")
)

// Server manages the lifecycle of one logical game server.
//
// State reads are pure record reads and never fail on malformed data; the
// UNKNOWN state means the last transition may not have completed and
// Reconcile must be called before the observed state can be trusted.
type Server interface {
	// ID returns the numeric id of the server.
	ID() int

	// State returns the persisted server state.
	State(ctx context.Context) (store.ServerState, error)

	// Online reports whether the persisted state is ONLINE. UNKNOWN counts
	// as not online.
	Online(ctx context.Context) (bool, error)

	// Start launches the server. Fails with ErrServerOnline, without side
	// effects, if the server is already online.
	Start(ctx context.Context) error

	// Stop gracefully shuts the server down and releases its instance.
	// Fails with ErrServerOffline if the server is not online.
	Stop(ctx context.Context) error

	// Reconcile verifies an UNKNOWN record against the provisioning backend
	// and settles it to ONLINE or OFFLINE where possible. Records already in
	// a settled state are returned unchanged.
	Reconcile(ctx context.Context) (store.ServerState, error)

	// SetDesiredState drives the server toward the target state. It returns
	// true when a transition was initiated and false when the target was
	// already satisfied.
	SetDesiredState(ctx context.Context, target store.ServerState) (bool, error)
}

// EC2API is the subset of the EC2 client used by the spot manager.
type EC2API interface {
	RequestSpotInstances(ctx context.Context, params *ec2.RequestSpotInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error)
	DescribeSpotInstanceRequests(ctx context.Context, params *ec2.DescribeSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotInstanceRequestsOutput, error)
	CancelSpotInstanceRequests(ctx context.Context, params *ec2.CancelSpotInstanceRequestsInput, optFns ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// SSMAPI is the subset of the SSM client used for in-instance commands.
type SSMAPI interface {
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
}

// Clients bundles the AWS service clients a lifecycle manager talks to.
type Clients struct {
	EC2 EC2API
	SSM SSMAPI
}

// LaunchParams is the static deployment configuration attached to every
// launched instance.
type LaunchParams struct {
	InstanceProfileArn string
	SubnetID           string
	SecurityGroupID    string
	ImageID            string
	InstanceType       string
}

// LaunchParamsFromConfig extracts launch parameters from the configuration.
func LaunchParamsFromConfig(cfg *config.Config) LaunchParams {
	return LaunchParams{
		InstanceProfileArn: cfg.InstanceProfileArn,
		SubnetID:           cfg.SubnetID,
		SecurityGroupID:    cfg.SecurityGroupID,
		ImageID:            cfg.ImageID,
		InstanceType:       cfg.InstanceType,
	}
}

// NewServer creates a lifecycle manager for the configured launch type
// (factory dispatch over the deployment target).
func NewServer(record store.Record, clients Clients, cfg *config.Config) (Server, error) {
	switch cfg.LaunchType {
	case "", "spot":
		return NewSpotInstanceManager(record, clients, cfg, LaunchParamsFromConfig(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported launch type: %s", cfg.LaunchType)
	}
}
