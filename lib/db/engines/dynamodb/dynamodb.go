package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/konceiver/dockv/lib/db"
)

const (
	spaceAttr   = "Space"
	keyAttr     = "Key"
	revAttr     = "Rev"
	valueAttr   = "Value"
	deletedAttr = "Deleted"
	seqAttr     = "Seq"

	// metaSuffix marks the item holding the update sequence of a space
	metaSuffix = "#meta"

	// DefaultSpace is used when a connection names no space
	DefaultSpace = "default"
)

// API is the subset of the DynamoDB client used by the engine
type API interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// dynamoImpl stores the documents of one space as items of a shared table.
// The table is keyed by (Space, Key), several spaces can share one table.
// Every write is a transaction that also bumps the Seq attribute of the
// space's meta item.
type dynamoImpl struct {
	client API
	table  string
	space  string
	closed atomic.Bool

	spaceValue *types.AttributeValueMemberS
	metaKey    map[string]types.AttributeValue
}

// NewDynamoDB returns a database storing its documents under space in table.
// The table must exist, see CreateTable.
func NewDynamoDB(client API, table, space string) (db.KVDB, error) {
	if table == "" {
		return nil, db.NewError(db.CodeInvalid, "dynamodb table name must not be empty")
	}
	if space == "" || strings.Contains(space, "#") {
		return nil, db.NewError(db.CodeInvalid, "invalid dynamodb space %q", space)
	}

	return &dynamoImpl{
		client:     client,
		table:      table,
		space:      space,
		spaceValue: &types.AttributeValueMemberS{Value: space},
		metaKey: map[string]types.AttributeValue{
			spaceAttr: &types.AttributeValueMemberS{Value: space + metaSuffix},
			keyAttr:   &types.AttributeValueMemberS{Value: metaSuffix},
		},
	}, nil
}

func (d *dynamoImpl) check(ctx context.Context) error {
	if d.closed.Load() {
		return db.ErrClosed
	}
	return ctx.Err()
}

func (d *dynamoImpl) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		spaceAttr: d.spaceValue,
		keyAttr:   &types.AttributeValueMemberS{Value: key},
	}
}

// item is the decoded form of a stored document or tombstone
type item struct {
	rev     string
	value   []byte
	deleted bool
}

// load reads the current item of key, found is false if the key was never written
func (d *dynamoImpl) load(ctx context.Context, key string) (it item, found bool, err error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return item{}, false, wrapAWSError(err, "get %q", key)
	}
	if out.Item == nil {
		return item{}, false, nil
	}

	it, err = decodeItem(out.Item)
	if err != nil {
		return item{}, false, db.WrapError(db.CodeInternal, err, "decode %q", key)
	}
	return it, true, nil
}

// write stores it under key if the stored revision still equals prev,
// an empty prev means the key must not exist yet
func (d *dynamoImpl) write(ctx context.Context, key, prev string, it item) error {
	attrs := map[string]types.AttributeValue{
		spaceAttr:   d.spaceValue,
		keyAttr:     &types.AttributeValueMemberS{Value: key},
		revAttr:     &types.AttributeValueMemberS{Value: it.rev},
		deletedAttr: &types.AttributeValueMemberBOOL{Value: it.deleted},
	}
	if !it.deleted {
		attrs[valueAttr] = &types.AttributeValueMemberB{Value: it.value}
	}

	put := &types.Put{
		TableName:                aws.String(d.table),
		Item:                     attrs,
		ExpressionAttributeNames: map[string]string{"#K": keyAttr},
		ConditionExpression:      aws.String("attribute_not_exists(#K)"),
	}
	if prev != "" {
		put.ExpressionAttributeNames = map[string]string{"#R": revAttr}
		put.ConditionExpression = aws.String("#R = :prev")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberS{Value: prev},
		}
	}

	_, err := d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: put},
			{Update: &types.Update{
				TableName:                 aws.String(d.table),
				Key:                       d.metaKey,
				UpdateExpression:          aws.String("ADD #S :one"),
				ExpressionAttributeNames:  map[string]string{"#S": seqAttr},
				ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
			}},
		},
	})
	if isConditionFailure(err) {
		return db.ErrConflict(key, prev)
	}
	return wrapAWSError(err, "write %q", key)
}

// query pages through all items of the space, fn is called once per page
func (d *dynamoImpl) query(ctx context.Context, in *dynamodb.QueryInput, fn func(*dynamodb.QueryOutput) error) error {
	in.TableName = aws.String(d.table)
	in.KeyConditionExpression = aws.String("#P = :space")
	in.FilterExpression = aws.String("#D = :deleted")
	in.ConsistentRead = aws.Bool(true)
	if in.ExpressionAttributeNames == nil {
		in.ExpressionAttributeNames = map[string]string{}
	}
	in.ExpressionAttributeNames["#P"] = spaceAttr
	in.ExpressionAttributeNames["#D"] = deletedAttr
	if in.ExpressionAttributeValues == nil {
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":deleted": &types.AttributeValueMemberBOOL{Value: false},
		}
	}
	in.ExpressionAttributeValues[":space"] = d.spaceValue

	in.ExclusiveStartKey = nil
	for {
		out, err := d.client.Query(ctx, in)
		if err != nil {
			return wrapAWSError(err, "query space %q", d.space)
		}
		if err := fn(out); err != nil {
			return err
		}
		if out.LastEvaluatedKey == nil {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// count returns the number of live documents (or tombstones if deleted is set)
func (d *dynamoImpl) count(ctx context.Context, deleted bool) (uint64, error) {
	var n uint64
	err := d.query(ctx, &dynamodb.QueryInput{
		Select: types.SelectCount,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":deleted": &types.AttributeValueMemberBOOL{Value: deleted},
		},
	}, func(out *dynamodb.QueryOutput) error {
		n += uint64(out.Count)
		return nil
	})
	return n, err
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.KVDB)
// --------------------------------------------------------------------------

func (d *dynamoImpl) Get(ctx context.Context, key string) (db.Doc, error) {
	if err := d.check(ctx); err != nil {
		return db.Doc{}, err
	}
	if key == "" {
		return db.Doc{}, db.ErrNotFound(key)
	}

	it, found, err := d.load(ctx, key)
	if err != nil {
		return db.Doc{}, err
	}
	if !found || it.deleted {
		return db.Doc{}, db.ErrNotFound(key)
	}
	return db.Doc{Key: key, Rev: it.rev, Value: it.value}, nil
}

func (d *dynamoImpl) Put(ctx context.Context, doc db.Doc) (string, error) {
	if err := d.check(ctx); err != nil {
		return "", err
	}
	if doc.Key == "" {
		return "", db.NewError(db.CodeInvalid, "key must not be empty")
	}

	curr, found, err := d.load(ctx, doc.Key)
	if err != nil {
		return "", err
	}

	live := found && !curr.deleted
	if live && doc.Rev != curr.rev || !live && doc.Rev != "" {
		return "", db.ErrConflict(doc.Key, doc.Rev)
	}

	value := doc.Value
	if value == nil {
		value = []byte{}
	}

	next := item{rev: db.NextRev(curr.rev, value), value: value}
	if err := d.write(ctx, doc.Key, curr.rev, next); err != nil {
		return "", err
	}
	return next.rev, nil
}

func (d *dynamoImpl) Remove(ctx context.Context, key, rev string) error {
	if err := d.check(ctx); err != nil {
		return err
	}
	if key == "" {
		return db.ErrNotFound(key)
	}

	curr, found, err := d.load(ctx, key)
	if err != nil {
		return err
	}
	if !found || curr.deleted {
		return db.ErrNotFound(key)
	}
	if curr.rev != rev {
		return db.ErrConflict(key, rev)
	}

	return d.write(ctx, key, curr.rev, item{rev: db.NextRev(curr.rev, nil), deleted: true})
}

// Erase is not supported natively, wrap the database with db.WithErase
func (d *dynamoImpl) Erase(context.Context) error {
	return db.NewError(db.CodeUnsupported, "dynamodb databases are erased document by document")
}

func (d *dynamoImpl) AllKeys(ctx context.Context) ([]string, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}

	// the range key keeps items of a space in byte order
	keys := []string{}
	err := d.query(ctx, &dynamodb.QueryInput{
		ProjectionExpression:     aws.String("#K"),
		ExpressionAttributeNames: map[string]string{"#K": keyAttr},
	}, func(out *dynamodb.QueryOutput) error {
		for _, it := range out.Items {
			key, err := getAttr[*types.AttributeValueMemberS](it, keyAttr)
			if err != nil {
				return db.WrapError(db.CodeInternal, err, "list keys")
			}
			keys = append(keys, key.Value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (d *dynamoImpl) Info(ctx context.Context) (db.DatabaseInfo, error) {
	if err := d.check(ctx); err != nil {
		return db.DatabaseInfo{}, err
	}

	docCount, err := d.count(ctx, false)
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	tombstones, err := d.count(ctx, true)
	if err != nil {
		return db.DatabaseInfo{}, err
	}

	meta, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.metaKey,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return db.DatabaseInfo{}, wrapAWSError(err, "read update sequence")
	}
	var updateSeq uint64
	if meta.Item != nil {
		seq, err := getAttr[*types.AttributeValueMemberN](meta.Item, seqAttr)
		if err != nil {
			return db.DatabaseInfo{}, db.WrapError(db.CodeInternal, err, "read update sequence")
		}
		if updateSeq, err = strconv.ParseUint(seq.Value, 10, 64); err != nil {
			return db.DatabaseInfo{}, db.WrapError(db.CodeInternal, err, "read update sequence")
		}
	}

	// the table size is refreshed by DynamoDB about every six hours
	var tableSize int64
	if desc, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)}); err == nil && desc.Table != nil {
		tableSize = aws.ToInt64(desc.Table.TableSizeBytes)
	}

	return db.DatabaseInfo{
		DocCount:          docCount,
		UpdateSeq:         updateSeq,
		SizeBytes:         int(tableSize),
		DbType:            db.ImplDynamoDB,
		SupportedFeatures: supportedFeatures.Split(),
		Metadata: map[string]interface{}{
			"table":      d.table,
			"space":      d.space,
			"tombstones": tombstones,
		},
	}, nil
}

func (d *dynamoImpl) Save(io.Writer) error {
	return db.NewError(db.CodeUnsupported, "dynamodb databases use table backups")
}

func (d *dynamoImpl) Load(io.Reader) error {
	return db.NewError(db.CodeUnsupported, "dynamodb databases use table backups")
}

const supportedFeatures = db.FeatureCRUD

func (d *dynamoImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

func (d *dynamoImpl) Close() error {
	d.closed.Store(true)
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func decodeItem(attrs map[string]types.AttributeValue) (item, error) {
	rev, err := getAttr[*types.AttributeValueMemberS](attrs, revAttr)
	if err != nil {
		return item{}, err
	}
	deleted, err := getAttr[*types.AttributeValueMemberBOOL](attrs, deletedAttr)
	if err != nil {
		return item{}, err
	}
	it := item{rev: rev.Value, deleted: deleted.Value}
	if it.deleted {
		return it, nil
	}

	value, err := getAttr[*types.AttributeValueMemberB](attrs, valueAttr)
	if err != nil {
		return item{}, err
	}
	it.value = append([]byte{}, value.Value...)
	return it, nil
}

func getAttr[T types.AttributeValue](
	attrs map[string]types.AttributeValue,
	name string,
) (v T, err error) {
	a, ok := attrs[name]
	if !ok {
		return v, fmt.Errorf("item is corrupt: missing %q attribute", name)
	}

	v, ok = a.(T)
	if !ok {
		return v, fmt.Errorf(
			"item is corrupt: %q attribute should be %s not %s",
			name,
			reflect.TypeOf(v).Elem().Name(),
			reflect.TypeOf(a).Elem().Name(),
		)
	}

	return v, nil
}

// isConditionFailure reports whether a write was rejected by its condition
func isConditionFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.As(err, new(*types.ConditionalCheckFailedException)) {
		return true
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

// wrapAWSError maps throttling and transaction conflicts to transient errors
func wrapAWSError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.As(err, new(*types.ProvisionedThroughputExceededException)),
		errors.As(err, new(*types.RequestLimitExceeded)),
		errors.As(err, new(*types.TransactionConflictException)),
		errors.As(err, new(*types.TransactionCanceledException)),
		errors.As(err, new(*types.InternalServerError)):
		return db.WrapError(db.CodeUnavailable, err, format, args...)
	case errors.As(err, new(*types.ResourceNotFoundException)):
		return db.WrapError(db.CodeUnavailable, err, format+" (missing table)", args...)
	}
	return db.WrapError(db.CodeInternal, err, format, args...)
}
