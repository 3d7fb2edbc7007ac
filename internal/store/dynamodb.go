package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store accesses server records in a DynamoDB table keyed by numeric id.
type Store struct {
	client DynamoDBAPI
	table  string
}

// New creates a Store over an existing table.
func New(client DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table}
}

// Create registers a new offline server record. Fails with ErrRecordExists
// if the id is already taken.
func (s *Store) Create(ctx context.Context, id int, name string) (Record, error) {
	item := map[string]types.AttributeValue{
		AttrID:           &types.AttributeValueMemberN{Value: strconv.Itoa(id)},
		AttrVersion:      &types.AttributeValueMemberN{Value: "1"},
		FieldServerState: &types.AttributeValueMemberS{Value: string(StateOffline)},
	}
	if name != "" {
		item[FieldName] = &types.AttributeValueMemberS{Value: name}
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": AttrID,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("server %d: %w", id, ErrRecordExists)
		}
		return nil, fmt.Errorf("failed to create server record %d: %w", id, err)
	}

	return &dynamoRecord{store: s, id: id, version: 1}, nil
}

// Get returns a handle to an existing server record.
func (s *Store) Get(ctx context.Context, id int) (Record, error) {
	out, err := s.getItem(ctx, id)
	if err != nil {
		return nil, err
	}

	rec := &dynamoRecord{store: s, id: id}
	rec.observeVersion(out)
	return rec, nil
}

// List scans the table and returns the id and state of every server record.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	var (
		summaries []Summary
		startKey  map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.table),
			ProjectionExpression: aws.String("#id, #state"),
			ExpressionAttributeNames: map[string]string{
				"#id":    AttrID,
				"#state": FieldServerState,
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan server records: %w", err)
		}

		for _, item := range out.Items {
			idAttr, ok := item[AttrID].(*types.AttributeValueMemberN)
			if !ok {
				continue
			}
			id, err := strconv.Atoi(idAttr.Value)
			if err != nil {
				continue
			}
			state := ""
			if s, ok := item[FieldServerState].(*types.AttributeValueMemberS); ok {
				state = s.Value
			}
			summaries = append(summaries, Summary{ID: id, State: ParseServerState(state)})
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return summaries, nil
}

func (s *Store) getItem(ctx context.Context, id int) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			AttrID: &types.AttributeValueMemberN{Value: strconv.Itoa(id)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read server record %d: %w", id, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("server %d: %w", id, ErrRecordNotFound)
	}
	return out.Item, nil
}

// dynamoRecord implements Record. It tracks the RecordVersion observed at
// the last read and conditions every write on it, so two actors mutating the
// same record cannot silently interleave.
type dynamoRecord struct {
	store *Store
	id    int

	mu      sync.Mutex
	version int64
}

func (r *dynamoRecord) ID() int {
	return r.id
}

func (r *dynamoRecord) GetStringValue(ctx context.Context, field string) (string, bool, error) {
	item, err := r.store.getItem(ctx, r.id)
	if err != nil {
		return "", false, err
	}
	r.observeVersion(item)

	attr, ok := item[field]
	if !ok {
		return "", false, nil
	}
	s, ok := attr.(*types.AttributeValueMemberS)
	if !ok {
		return "", false, nil
	}
	return s.Value, true, nil
}

func (r *dynamoRecord) SetStringValue(ctx context.Context, field, value string) error {
	return r.update(ctx,
		"SET #f = :v, #ver = :newver",
		map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
		field,
	)
}

func (r *dynamoRecord) ClearValue(ctx context.Context, field string) error {
	return r.update(ctx, "REMOVE #f SET #ver = :newver", nil, field)
}

func (r *dynamoRecord) State(ctx context.Context) (ServerState, error) {
	value, _, err := r.GetStringValue(ctx, FieldServerState)
	if err != nil {
		return StateUnknown, err
	}
	return ParseServerState(value), nil
}

func (r *dynamoRecord) SetState(ctx context.Context, state ServerState) error {
	return r.SetStringValue(ctx, FieldServerState, string(state))
}

func (r *dynamoRecord) update(ctx context.Context, expr string, values map[string]types.AttributeValue, field string) error {
	r.mu.Lock()
	version := r.version
	r.mu.Unlock()

	if values == nil {
		values = map[string]types.AttributeValue{}
	}
	values[":newver"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version+1, 10)}

	condition := "#ver = :ver"
	if version == 0 {
		// Records written before versioning was introduced have no token yet.
		condition = "attribute_not_exists(#ver)"
	} else {
		values[":ver"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)}
	}

	_, err := r.store.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.store.table),
		Key: map[string]types.AttributeValue{
			AttrID: &types.AttributeValueMemberN{Value: strconv.Itoa(r.id)},
		},
		UpdateExpression:    aws.String(expr),
		ConditionExpression: aws.String(condition),
		ExpressionAttributeNames: map[string]string{
			"#f":   field,
			"#ver": AttrVersion,
		},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("server %d field %s: %w", r.id, field, ErrRecordConflict)
		}
		return fmt.Errorf("failed to update server record %d: %w", r.id, err)
	}

	r.mu.Lock()
	r.version = version + 1
	r.mu.Unlock()
	return nil
}

func (r *dynamoRecord) observeVersion(item map[string]types.AttributeValue) {
	attr, ok := item[AttrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return
	}
	v, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.version = v
	r.mu.Unlock()
}
