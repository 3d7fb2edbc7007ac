package lifecycle

import (
	"context"
	"fmt"

	"cloudcubes/internal/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
)

// fakeRecord is an in-memory store.Record that remembers write order.
type fakeRecord struct {
	id     int
	fields map[string]string
	writes []string
}

func newFakeRecord(id int, fields map[string]string) *fakeRecord {
	if fields == nil {
		fields = map[string]string{}
	}
	return &fakeRecord{id: id, fields: fields}
}

func (r *fakeRecord) ID() int { return r.id }

func (r *fakeRecord) GetStringValue(_ context.Context, field string) (string, bool, error) {
	v, ok := r.fields[field]
	return v, ok, nil
}

func (r *fakeRecord) SetStringValue(_ context.Context, field, value string) error {
	r.fields[field] = value
	r.writes = append(r.writes, field+"="+value)
	return nil
}

func (r *fakeRecord) ClearValue(_ context.Context, field string) error {
	delete(r.fields, field)
	r.writes = append(r.writes, "clear:"+field)
	return nil
}

func (r *fakeRecord) State(ctx context.Context) (store.ServerState, error) {
	v, _, _ := r.GetStringValue(ctx, store.FieldServerState)
	return store.ParseServerState(v), nil
}

func (r *fakeRecord) SetState(ctx context.Context, state store.ServerState) error {
	return r.SetStringValue(ctx, store.FieldServerState, string(state))
}

// fakeAPIError satisfies smithy.APIError for error-code classification.
type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string                 { return e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

// fakeEC2 scripts the provisioning backend.
type fakeEC2 struct {
	record *fakeRecord

	requestErr     error
	ackCount       int
	requestID      string
	stateAtRequest store.ServerState
	requestCalls   int
	lastLaunch     *ec2types.RequestSpotLaunchSpecification

	describeSpotErr error
	spotState       ec2types.SpotInstanceState
	spotInstanceID  string

	describeInstErr error
	instanceState   ec2types.InstanceStateName

	cancelled  []string
	terminated []string
}

func (f *fakeEC2) RequestSpotInstances(ctx context.Context, params *ec2.RequestSpotInstancesInput, _ ...func(*ec2.Options)) (*ec2.RequestSpotInstancesOutput, error) {
	f.requestCalls++
	f.lastLaunch = params.LaunchSpecification
	if f.record != nil {
		f.stateAtRequest, _ = f.record.State(ctx)
	}
	if f.requestErr != nil {
		return nil, f.requestErr
	}

	acks := make([]ec2types.SpotInstanceRequest, f.ackCount)
	for i := range acks {
		acks[i] = ec2types.SpotInstanceRequest{
			SpotInstanceRequestId: aws.String(fmt.Sprintf("%s-%d", f.requestID, i)),
		}
	}
	if f.ackCount == 1 {
		acks[0].SpotInstanceRequestId = aws.String(f.requestID)
	}
	return &ec2.RequestSpotInstancesOutput{SpotInstanceRequests: acks}, nil
}

func (f *fakeEC2) DescribeSpotInstanceRequests(_ context.Context, params *ec2.DescribeSpotInstanceRequestsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSpotInstanceRequestsOutput, error) {
	if f.describeSpotErr != nil {
		return nil, f.describeSpotErr
	}
	req := ec2types.SpotInstanceRequest{
		SpotInstanceRequestId: aws.String(params.SpotInstanceRequestIds[0]),
		State:                 f.spotState,
	}
	if f.spotInstanceID != "" {
		req.InstanceId = aws.String(f.spotInstanceID)
	}
	return &ec2.DescribeSpotInstanceRequestsOutput{
		SpotInstanceRequests: []ec2types.SpotInstanceRequest{req},
	}, nil
}

func (f *fakeEC2) DescribeInstances(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.describeInstErr != nil {
		return nil, f.describeInstErr
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				InstanceId: aws.String(params.InstanceIds[0]),
				State:      &ec2types.InstanceState{Name: f.instanceState},
			}},
		}},
	}, nil
}

func (f *fakeEC2) CancelSpotInstanceRequests(_ context.Context, params *ec2.CancelSpotInstanceRequestsInput, _ ...func(*ec2.Options)) (*ec2.CancelSpotInstanceRequestsOutput, error) {
	f.cancelled = append(f.cancelled, params.SpotInstanceRequestIds...)
	return &ec2.CancelSpotInstanceRequestsOutput{}, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, params *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminated = append(f.terminated, params.InstanceIds...)
	return &ec2.TerminateInstancesOutput{}, nil
}

// fakeSSM captures in-instance commands.
type fakeSSM struct {
	sendErr  error
	commands []*ssm.SendCommandInput
}

func (f *fakeSSM) SendCommand(_ context.Context, params *ssm.SendCommandInput, _ ...func(*ssm.Options)) (*ssm.SendCommandOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.commands = append(f.commands, params)
	return &ssm.SendCommandOutput{}, nil
}
