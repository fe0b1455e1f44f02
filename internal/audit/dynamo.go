package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/pisafe/pisafe/internal/types"
)

const auditRetention = 90 * 24 * time.Hour

// PutItemAPI is the part of the DynamoDB client the sink needs
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type channelItem struct {
	OK        bool   `dynamodbav:"ok"`
	Error     string `dynamodbav:"error,omitempty"`
	Targets   int    `dynamodbav:"targets"`
	Delivered int    `dynamodbav:"delivered"`
}

type auditItem struct {
	AlertID    string                 `dynamodbav:"alert_id"`
	Timestamp  int64                  `dynamodbav:"timestamp"`
	CreatedAt  string                 `dynamodbav:"created_at"`
	Ciphertext []byte                 `dynamodbav:"ciphertext"`
	Source     string                 `dynamodbav:"source"`
	Area       string                 `dynamodbav:"area,omitempty"`
	Channels   map[string]channelItem `dynamodbav:"channels"`
	ExpiresAt  int64                  `dynamodbav:"expires_at"`
}

// DynamoSink persists audit entries to a DynamoDB table
type DynamoSink struct {
	Client    PutItemAPI
	TableName string
}

// NewDynamoSink creates a sink using the default AWS credential chain
func NewDynamoSink(ctx context.Context, table, region string) (*DynamoSink, error) {
	if table == "" {
		return nil, fmt.Errorf("dynamodb table name is not set")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &DynamoSink{
		Client:    dynamodb.NewFromConfig(cfg),
		TableName: table,
	}, nil
}

// Name implements Sink
func (d *DynamoSink) Name() string { return "dynamodb" }

// Record implements Sink
func (d *DynamoSink) Record(ctx context.Context, entry types.AuditEntry) error {
	channels := make(map[string]channelItem, len(entry.Report.Channels))
	for name, r := range entry.Report.Channels {
		channels[name] = channelItem{OK: r.OK, Error: r.Error, Targets: r.Targets, Delivered: r.Delivered}
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(auditItem{
		AlertID:    entry.AlertID,
		Timestamp:  ts.UnixNano(),
		CreatedAt:  entry.Encrypted.CreatedAt.UTC().Format(time.RFC3339Nano),
		Ciphertext: entry.Encrypted.Ciphertext,
		Source:     string(entry.Source),
		Area:       entry.Area,
		Channels:   channels,
		ExpiresAt:  ts.Add(auditRetention).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	_, err = d.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.TableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store audit entry in dynamodb: %w", err)
	}
	return nil
}
