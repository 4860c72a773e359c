package dynamodb

import (
	"context"
	"errors"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/konceiver/dockv/lib/db"
)

// CreateTable creates a DynamoDB table usable by NewDynamoDB.
// An already existing table is not an error.
func CreateTable(
	ctx context.Context,
	client *dynamodb.Client,
	table string,
) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String(spaceAttr),
				AttributeType: types.ScalarAttributeTypeS,
			},
			{
				AttributeName: aws.String(keyAttr),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String(spaceAttr),
				KeyType:       types.KeyTypeHash,
			},
			{
				AttributeName: aws.String(keyAttr),
				KeyType:       types.KeyTypeRange,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})

	if errors.As(err, new(*types.ResourceInUseException)) {
		return nil
	}

	return err
}

// NewClient builds a DynamoDB client from the default AWS configuration chain.
// A non-empty endpoint overrides the service endpoint (DynamoDB Local),
// accessKey and secretKey replace the credential chain with static credentials.
func NewClient(ctx context.Context, region, endpoint, accessKey, secretKey string) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if endpoint != "" {
		opts = append(opts, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...any) (aws.Endpoint, error) {
					return aws.Endpoint{URL: endpoint}, nil
				},
			),
		))
	}
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// Open opens the database for a dynamodb:// connection, the target is the table name.
//
//	dynamodb://documents?space=users&region=eu-central-1&endpoint=http://localhost:8000&create=true
func Open(ctx context.Context, conn db.Connection) (db.KVDB, error) {
	if conn.Target == "" {
		return nil, db.NewError(db.CodeInvalid, "dynamodb connection %q has no table", conn.Raw)
	}

	create, err := strconv.ParseBool(conn.Option("create", "false"))
	if err != nil {
		return nil, db.WrapError(db.CodeInvalid, err, "dynamodb option create")
	}

	client, err := NewClient(ctx,
		conn.Option("region", ""),
		conn.Option("endpoint", ""),
		conn.Option("access_key", ""),
		conn.Option("secret_key", ""),
	)
	if err != nil {
		return nil, db.WrapError(db.CodeUnavailable, err, "load aws configuration")
	}

	if create {
		if err := CreateTable(ctx, client, conn.Target); err != nil {
			return nil, wrapAWSError(err, "create table %q", conn.Target)
		}
	}

	return NewDynamoDB(client, conn.Target, conn.Option("space", DefaultSpace))
}
