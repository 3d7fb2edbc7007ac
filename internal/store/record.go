package store

import (
	"context"
	"errors"
)

// Attribute names of a server record item.
const (
	AttrID      = "Id"
	AttrVersion = "RecordVersion"

	FieldName          = "Name"
	FieldServerState   = "ServerState"
	FieldInstanceID    = "EC2InstanceId"
	FieldSpotRequestID = "EC2SpotRequestId"
)

var (
	// ErrRecordNotFound is returned when no record exists for a server id.
	ErrRecordNotFound = errors.New("server record not found")
	// ErrRecordExists is returned by Create when the id is already taken.
	ErrRecordExists = errors.New("server record already exists")
	// ErrRecordConflict is returned when a write lost a version race and the
	// caller must re-read before retrying.
	ErrRecordConflict = errors.New("server record was modified concurrently")
)

// Record is a handle to one server's persisted entry. Reads always hit the
// backing store; the handle caches nothing except the concurrency token
// observed at the last read, which conditions every write.
type Record interface {
	// ID returns the numeric id of the server.
	ID() int

	// GetStringValue reads a string field. The second return value is false
	// when the field is absent.
	GetStringValue(ctx context.Context, field string) (string, bool, error)

	// SetStringValue writes a string field, conditioned on the record version
	// observed at the last read. Returns ErrRecordConflict if the record
	// moved underneath the caller.
	SetStringValue(ctx context.Context, field, value string) error

	// State reads the persisted server state. Missing or unrecognized values
	// report StateUnknown; this never fails due to malformed data.
	State(ctx context.Context) (ServerState, error)

	// SetState persists the server state.
	SetState(ctx context.Context, state ServerState) error

	// ClearValue removes a string field from the record.
	ClearValue(ctx context.Context, field string) error
}

// Summary is the projection returned by Store.List, enough for the
// reconciliation sweep to decide which servers need attention.
type Summary struct {
	ID    int
	State ServerState
}
