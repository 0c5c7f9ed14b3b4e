// Package dynamo stores meetings in a single DynamoDB table.
//
// Meeting items are keyed by their id. A lock item keyed CODE#<code> points at
// the newest meeting holding the code and records whether it is still active;
// creating and closing a meeting write both items in one transaction. The
// sparse host-index GSI (hostId, createdAt) serves listings.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

const (
	attrPK        = "pk"
	attrHostID    = "hostId"
	attrCreatedAt = "createdAt"
	hostIndex     = "host-index"
)

type Config struct {
	Table    string
	Region   string
	Endpoint string // local endpoints (dynamodb-local, localstack)

	// static credentials; empty uses the default provider chain
	AccessKeyID     string
	SecretAccessKey string
}

func NewClient(cfg Config) (dynamodbiface.DynamoDBAPI, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return dynamodb.New(sess), nil
}

// EnsureTable creates the table and its index when missing and waits until it
// is usable.
func EnsureTable(ctx context.Context, db dynamodbiface.DynamoDBAPI, table string) error {
	_, err := db.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	if err == nil {
		return nil
	}
	var nf *dynamodb.ResourceNotFoundException
	if !errors.As(err, &nf) {
		return fmt.Errorf("describe table %s: %w", table, err)
	}

	_, err = db.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(attrPK), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String(attrHostID), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String(attrCreatedAt), AttributeType: aws.String(dynamodb.ScalarAttributeTypeN)},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(attrPK), KeyType: aws.String(dynamodb.KeyTypeHash)},
		},
		GlobalSecondaryIndexes: []*dynamodb.GlobalSecondaryIndex{{
			IndexName: aws.String(hostIndex),
			KeySchema: []*dynamodb.KeySchemaElement{
				{AttributeName: aws.String(attrHostID), KeyType: aws.String(dynamodb.KeyTypeHash)},
				{AttributeName: aws.String(attrCreatedAt), KeyType: aws.String(dynamodb.KeyTypeRange)},
			},
			Projection: &dynamodb.Projection{ProjectionType: aws.String(dynamodb.ProjectionTypeAll)},
		}},
	})
	if err != nil {
		var inUse *dynamodb.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	return db.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
}

func isConditionalCheckFailed(err error) bool {
	var ccf *dynamodb.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}

	var tce *dynamodb.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if r != nil && aws.StringValue(r.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}

	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

func isTransactionConflict(err error) bool {
	var tce *dynamodb.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if r != nil && aws.StringValue(r.Code) == "TransactionConflict" {
				return true
			}
		}
	}

	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeTransactionConflictException
}
