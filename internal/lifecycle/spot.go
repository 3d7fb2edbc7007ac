package lifecycle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"cloudcubes/internal/config"
	"cloudcubes/internal/logging"
	"cloudcubes/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SpotInstanceManager runs a server on EC2 spot capacity, reconciling the
// persisted record against the spot request lifecycle. It is constructed
// per logical operation and caches nothing across calls except the rendered
// user data.
type SpotInstanceManager struct {
	record  store.Record
	clients Clients
	cfg     *config.Config
	params  LaunchParams

	// rendered once per manager instance, see UserData
	userData string
}

// NewSpotInstanceManager creates a manager bound to one server record.
func NewSpotInstanceManager(record store.Record, clients Clients, cfg *config.Config, params LaunchParams) *SpotInstanceManager {
	return &SpotInstanceManager{
		record:  record,
		clients: clients,
		cfg:     cfg,
		params:  params,
	}
}

func (m *SpotInstanceManager) ID() int {
	return m.record.ID()
}

// State reads the persisted server state. Missing or garbage values report
// UNKNOWN, never an error.
func (m *SpotInstanceManager) State(ctx context.Context) (store.ServerState, error) {
	return m.record.State(ctx)
}

// Online reports whether the persisted state is ONLINE. An UNKNOWN record is
// treated as not online; callers that need certainty run Reconcile first.
func (m *SpotInstanceManager) Online(ctx context.Context) (bool, error) {
	state, err := m.State(ctx)
	if err != nil {
		return false, err
	}
	return state == store.StateOnline, nil
}

// Start requests spot capacity for the server.
//
// The record is moved to UNKNOWN before the provisioning call is made: if
// the request fails or the process dies mid-flight, the record demands
// re-verification instead of falsely claiming OFFLINE or ONLINE. The record
// is never set to ONLINE here; that happens when Reconcile observes the
// instance running.
func (m *SpotInstanceManager) Start(ctx context.Context) error {
	online, err := m.Online(ctx)
	if err != nil {
		return err
	}
	if online {
		return fmt.Errorf("server %d: %w", m.ID(), ErrServerOnline)
	}

	if err := m.record.SetState(ctx, store.StateUnknown); err != nil {
		return err
	}

	userData, err := m.UserData()
	if err != nil {
		return err
	}

	out, err := m.clients.EC2.RequestSpotInstances(ctx, &ec2.RequestSpotInstancesInput{
		InstanceCount: aws.Int32(1),
		ClientToken:   aws.String(uuid.NewString()),
		LaunchSpecification: &ec2types.RequestSpotLaunchSpecification{
			InstanceType: ec2types.InstanceType(m.params.InstanceType),
			ImageId:      aws.String(m.params.ImageID),
			SubnetId:     aws.String(m.params.SubnetID),
			IamInstanceProfile: &ec2types.IamInstanceProfileSpecification{
				Arn: aws.String(m.params.InstanceProfileArn),
			},
			SecurityGroupIds: []string{m.params.SecurityGroupID},
			UserData:         aws.String(base64.StdEncoding.EncodeToString([]byte(userData))),
		},
	})
	if err != nil {
		// The record stays UNKNOWN on purpose; the next read forces
		// re-verification instead of trusting a failed launch.
		return fmt.Errorf("failed to request spot capacity for server %d: %w", m.ID(), err)
	}

	if n := len(out.SpotInstanceRequests); n != 1 {
		return fmt.Errorf("requested one spot instance, got %d acknowledgments: %w", n, ErrProvisioningContract)
	}

	requestID := aws.ToString(out.SpotInstanceRequests[0].SpotInstanceRequestId)
	logging.Logger().Info("spot capacity requested",
		zap.Int("server_id", m.ID()),
		zap.String("spot_request_id", requestID))

	return m.record.SetStringValue(ctx, store.FieldSpotRequestID, requestID)
}

// Reconcile settles an UNKNOWN record by asking EC2 what became of the
// stored spot request. ONLINE and OFFLINE records are returned as-is.
func (m *SpotInstanceManager) Reconcile(ctx context.Context) (store.ServerState, error) {
	state, err := m.State(ctx)
	if err != nil {
		return store.StateUnknown, err
	}
	if state != store.StateUnknown {
		return state, nil
	}

	requestID, ok, err := m.record.GetStringValue(ctx, store.FieldSpotRequestID)
	if err != nil {
		return store.StateUnknown, err
	}
	if !ok || requestID == "" {
		// UNKNOWN without an in-flight request means a launch never made it
		// to the backend.
		return m.settleOffline(ctx, false)
	}

	out, err := m.clients.EC2.DescribeSpotInstanceRequests(ctx, &ec2.DescribeSpotInstanceRequestsInput{
		SpotInstanceRequestIds: []string{requestID},
	})
	if err != nil {
		if isAPIError(err, "InvalidSpotInstanceRequestID.NotFound") {
			return m.settleOffline(ctx, true)
		}
		return store.StateUnknown, fmt.Errorf("failed to describe spot request %s: %w", requestID, err)
	}
	if len(out.SpotInstanceRequests) == 0 {
		return m.settleOffline(ctx, true)
	}

	request := out.SpotInstanceRequests[0]
	switch request.State {
	case ec2types.SpotInstanceStateOpen:
		// Still being evaluated or fulfilled.
		return store.StateUnknown, nil
	case ec2types.SpotInstanceStateActive:
		return m.reconcileInstance(ctx, aws.ToString(request.InstanceId))
	default:
		// closed, cancelled or failed
		logging.Logger().Info("spot request is no longer live",
			zap.Int("server_id", m.ID()),
			zap.String("spot_request_id", requestID),
			zap.String("request_state", string(request.State)))
		return m.settleOffline(ctx, true)
	}
}

func (m *SpotInstanceManager) reconcileInstance(ctx context.Context, instanceID string) (store.ServerState, error) {
	if instanceID == "" {
		return store.StateUnknown, nil
	}

	out, err := m.clients.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if isAPIError(err, "InvalidInstanceID.NotFound") {
			return m.settleOffline(ctx, true)
		}
		return store.StateUnknown, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return m.settleOffline(ctx, true)
	}

	instance := out.Reservations[0].Instances[0]
	switch instance.State.Name {
	case ec2types.InstanceStateNamePending:
		return store.StateUnknown, nil
	case ec2types.InstanceStateNameRunning:
		if err := m.record.SetStringValue(ctx, store.FieldInstanceID, instanceID); err != nil {
			return store.StateUnknown, err
		}
		if err := m.record.SetState(ctx, store.StateOnline); err != nil {
			return store.StateUnknown, err
		}
		logging.Logger().Info("server verified online",
			zap.Int("server_id", m.ID()),
			zap.String("instance_id", instanceID))
		return store.StateOnline, nil
	default:
		// shutting-down, terminated, stopping, stopped
		return m.settleOffline(ctx, true)
	}
}

func (m *SpotInstanceManager) settleOffline(ctx context.Context, clearRequest bool) (store.ServerState, error) {
	if clearRequest {
		if err := m.record.ClearValue(ctx, store.FieldSpotRequestID); err != nil {
			return store.StateUnknown, err
		}
	}
	if err := m.record.SetState(ctx, store.StateOffline); err != nil {
		return store.StateUnknown, err
	}
	return store.StateOffline, nil
}

// Stop gracefully shuts down the server: world save and backup inside the
// instance over SSM, then spot request cancellation and instance
// termination. The record passes through UNKNOWN so a crash mid-stop forces
// re-verification, and lands at OFFLINE with both instance fields cleared.
func (m *SpotInstanceManager) Stop(ctx context.Context) error {
	online, err := m.Online(ctx)
	if err != nil {
		return err
	}
	if !online {
		return fmt.Errorf("server %d: %w", m.ID(), ErrServerOffline)
	}

	instanceID, ok, err := m.record.GetStringValue(ctx, store.FieldInstanceID)
	if err != nil {
		return err
	}
	if !ok || instanceID == "" {
		return fmt.Errorf("server %d: %w", m.ID(), ErrInstanceUnknown)
	}
	requestID, _, err := m.record.GetStringValue(ctx, store.FieldSpotRequestID)
	if err != nil {
		return err
	}

	command, err := shutdownCommand(m.cfg)
	if err != nil {
		return err
	}

	if err := m.record.SetState(ctx, store.StateUnknown); err != nil {
		return err
	}

	_, err = m.clients.SSM.SendCommand(ctx, &ssm.SendCommandInput{
		DocumentName: aws.String("AWS-RunShellScript"),
		InstanceIds:  []string{instanceID},
		Parameters:   map[string][]string{"commands": {command}},
		Comment:      aws.String(fmt.Sprintf("cloudcubes stop server %d", m.ID())),
	})
	if err != nil {
		// The instance may already be unreachable (spot interruption); keep
		// going so it is still released.
		logging.Logger().Warn("graceful shutdown command failed",
			zap.Int("server_id", m.ID()),
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}

	if requestID != "" {
		_, err = m.clients.EC2.CancelSpotInstanceRequests(ctx, &ec2.CancelSpotInstanceRequestsInput{
			SpotInstanceRequestIds: []string{requestID},
		})
		if err != nil && !isAPIError(err, "InvalidSpotInstanceRequestID.NotFound") {
			return fmt.Errorf("failed to cancel spot request %s: %w", requestID, err)
		}
	}

	_, err = m.clients.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil && !isAPIError(err, "InvalidInstanceID.NotFound") {
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}

	if err := m.record.ClearValue(ctx, store.FieldInstanceID); err != nil {
		return err
	}
	if err := m.record.ClearValue(ctx, store.FieldSpotRequestID); err != nil {
		return err
	}
	if err := m.record.SetState(ctx, store.StateOffline); err != nil {
		return err
	}

	logging.Logger().Info("server stopped",
		zap.Int("server_id", m.ID()),
		zap.String("instance_id", instanceID))
	return nil
}

// SetDesiredState drives the server toward the target state. Only ONLINE
// and OFFLINE are valid targets.
func (m *SpotInstanceManager) SetDesiredState(ctx context.Context, target store.ServerState) (bool, error) {
	online, err := m.Online(ctx)
	if err != nil {
		return false, err
	}

	switch target {
	case store.StateOnline:
		if online {
			return false, nil
		}
		return true, m.Start(ctx)
	case store.StateOffline:
		if !online {
			return false, nil
		}
		return true, m.Stop(ctx)
	default:
		return false, fmt.Errorf("invalid target state: %s", target)
	}
}

func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
