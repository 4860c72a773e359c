package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/konceiver/dockv/lib/db"
	dbtesting "github.com/konceiver/dockv/lib/db/testing"
)

// --------------------------------------------------------------------------
// In-memory table
// --------------------------------------------------------------------------

// fakeTable understands exactly the requests issued by dynamoImpl
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue // space -> key -> item
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]map[string]types.AttributeValue{}}
}

func keyOf(attrs map[string]types.AttributeValue) (string, string) {
	return attrs[spaceAttr].(*types.AttributeValueMemberS).Value, attrs[keyAttr].(*types.AttributeValueMemberS).Value
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	space, key := keyOf(in.Key)
	return &dynamodb.GetItemOutput{Item: f.items[space][key]}, nil
}

func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	space := in.ExpressionAttributeValues[":space"].(*types.AttributeValueMemberS).Value
	deleted := in.ExpressionAttributeValues[":deleted"].(*types.AttributeValueMemberBOOL).Value

	keys := make([]string, 0, len(f.items[space]))
	for key, it := range f.items[space] {
		if it[deletedAttr].(*types.AttributeValueMemberBOOL).Value == deleted {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &dynamodb.QueryOutput{Count: int32(len(keys))}
	if in.Select != types.SelectCount {
		for _, key := range keys {
			out.Items = append(out.Items, f.items[space][key])
		}
	}
	return out, nil
}

func (f *fakeTable) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	put := in.TransactItems[0].Put
	update := in.TransactItems[1].Update

	space, key := keyOf(put.Item)
	existing := f.items[space][key]
	if prev, ok := put.ExpressionAttributeValues[":prev"]; ok {
		if existing == nil || existing[revAttr].(*types.AttributeValueMemberS).Value != prev.(*types.AttributeValueMemberS).Value {
			return nil, canceled()
		}
	} else if existing != nil {
		return nil, canceled()
	}

	if f.items[space] == nil {
		f.items[space] = map[string]map[string]types.AttributeValue{}
	}
	f.items[space][key] = put.Item

	metaSpace, metaKey := keyOf(update.Key)
	if f.items[metaSpace] == nil {
		f.items[metaSpace] = map[string]map[string]types.AttributeValue{}
	}
	seq := uint64(0)
	if meta := f.items[metaSpace][metaKey]; meta != nil {
		seq, _ = strconv.ParseUint(meta[seqAttr].(*types.AttributeValueMemberN).Value, 10, 64)
	}
	f.items[metaSpace][metaKey] = map[string]types.AttributeValue{
		seqAttr: &types.AttributeValueMemberN{Value: strconv.FormatUint(seq+1, 10)},
	}

	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeTable) DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableSizeBytes: aws.Int64(0)}}, nil
}

func canceled() error {
	return &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func Test(t *testing.T) {
	table := newFakeTable()
	dbtesting.RunKVDBTests(t, "DynamoDB(fake)", func(t testing.TB) db.KVDB {
		database, err := NewDynamoDB(table, "docs", "space-"+uuid.NewString()[:8])
		if err != nil {
			t.Fatal(err)
		}
		return database
	})
}

// TestAgainstDynamoDB runs the suite against DynamoDB Local, e.g.
// DOCKV_TEST_DYNAMODB_ENDPOINT=http://localhost:28000
func TestAgainstDynamoDB(t *testing.T) {
	endpoint := os.Getenv("DOCKV_TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("DOCKV_TEST_DYNAMODB_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClient(ctx, "us-east-1", endpoint, "id", "secret")
	if err != nil {
		t.Fatal(err)
	}

	table := "dockv-test-" + uuid.NewString()[:8]
	if err := CreateTable(ctx, client, table); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, err := client.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{TableName: aws.String(table)})
		if err != nil && !errors.As(err, new(*types.ResourceNotFoundException)) {
			t.Error(err)
		}
	})

	dbtesting.RunKVDBTests(t, "DynamoDB", func(t testing.TB) db.KVDB {
		database, err := NewDynamoDB(client, table, "space-"+uuid.NewString()[:8])
		if err != nil {
			t.Fatal(err)
		}
		return database
	})
}

func TestSpacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	table := newFakeTable()

	a, _ := NewDynamoDB(table, "docs", "a")
	b, _ := NewDynamoDB(table, "docs", "b")

	if _, err := a.Put(ctx, db.Doc{Key: "key", Value: []byte("v")}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ctx, "key"); !db.IsNotFound(err) {
		t.Errorf("expected key to be absent in another space, got %v", err)
	}

	info, err := a.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.DocCount != 1 || info.UpdateSeq != 1 {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestNewDynamoDBValidation(t *testing.T) {
	for _, tc := range []struct{ table, space string }{
		{"", "space"},
		{"table", ""},
		{"table", "with#hash"},
	} {
		if _, err := NewDynamoDB(newFakeTable(), tc.table, tc.space); db.CodeOf(err) != db.CodeInvalid {
			t.Errorf("NewDynamoDB(%q, %q): expected invalid, got %v", tc.table, tc.space, err)
		}
	}
}

func TestDecodeItem(t *testing.T) {
	it, err := decodeItem(map[string]types.AttributeValue{
		revAttr:     &types.AttributeValueMemberS{Value: "1-a"},
		deletedAttr: &types.AttributeValueMemberBOOL{Value: false},
		valueAttr:   &types.AttributeValueMemberB{Value: []byte("v")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if it.rev != "1-a" || string(it.value) != "v" || it.deleted {
		t.Errorf("unexpected item %+v", it)
	}

	_, err = decodeItem(map[string]types.AttributeValue{
		revAttr:     &types.AttributeValueMemberN{Value: "1"},
		deletedAttr: &types.AttributeValueMemberBOOL{Value: false},
	})
	if err == nil {
		t.Error("expected an error for a wrongly typed revision")
	}

	_, err = decodeItem(map[string]types.AttributeValue{
		revAttr:     &types.AttributeValueMemberS{Value: "1-a"},
		deletedAttr: &types.AttributeValueMemberBOOL{Value: false},
	})
	if err == nil {
		t.Error("expected an error for a live item without value")
	}
}

func TestErrorMapping(t *testing.T) {
	if !isConditionFailure(canceled()) {
		t.Error("canceled transaction with a failed condition must be a condition failure")
	}
	if !isConditionFailure(fmt.Errorf("wrapped: %w", &types.ConditionalCheckFailedException{})) {
		t.Error("wrapped ConditionalCheckFailedException must be a condition failure")
	}
	if isConditionFailure(&types.TransactionCanceledException{}) {
		t.Error("canceled transaction without reasons is not a condition failure")
	}

	if code := db.CodeOf(wrapAWSError(&types.ProvisionedThroughputExceededException{}, "op")); code != db.CodeUnavailable {
		t.Errorf("throttling should be unavailable, got %v", code)
	}
	if code := db.CodeOf(wrapAWSError(errors.New("boom"), "op")); code != db.CodeInternal {
		t.Errorf("unknown errors should be internal, got %v", code)
	}
	if wrapAWSError(nil, "op") != nil {
		t.Error("nil must stay nil")
	}
}
