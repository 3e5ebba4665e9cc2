package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/DrSkyle/grandiso/pkg/jobs"
	"github.com/DrSkyle/grandiso/pkg/results"
)

// SQSAPI is the queue administration subset.
type SQSAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	DeleteQueue(ctx context.Context, params *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
}

// DynamoDBAPI is the table administration subset.
type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
}

// S3API is the bucket administration subset.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// Resources names the infrastructure of one deployment. Empty names are
// skipped.
type Resources struct {
	Queue        string
	Lease        time.Duration
	ResultsTable string
	JobsTable    string
	Bucket       string
}

// Change records one action the provisioner took or, when dry, would take.
type Change struct {
	Kind   string
	Name   string
	Action string
}

func (c Change) String() string { return fmt.Sprintf("%s %s: %s", c.Kind, c.Name, c.Action) }

// Provisioner creates and deletes the queue, tables and bucket. Existing
// resources are left alone.
type Provisioner struct {
	SQS      SQSAPI
	DynamoDB DynamoDBAPI
	S3       S3API
	Region   string
	Dry      bool
	Logger   *slog.Logger
	// TableWait bounds how long Provision waits for a new table.
	TableWait time.Duration
}

// NewProvisioner wires a provisioner from a session.
func NewProvisioner(c *Client, dry bool, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		SQS:       c.SQS(),
		DynamoDB:  c.DynamoDB(),
		S3:        c.S3(),
		Region:    c.Config.Region,
		Dry:       dry,
		Logger:    logger,
		TableWait: 2 * time.Minute,
	}
}

// Provision creates whatever is missing.
func (p *Provisioner) Provision(ctx context.Context, r Resources) ([]Change, error) {
	var changes []Change
	steps := []func(context.Context, Resources) (*Change, error){
		p.ensureQueue,
		func(ctx context.Context, r Resources) (*Change, error) {
			return p.ensureTable(ctx, r.ResultsTable, results.AttrJobID, results.AttrResultKey)
		},
		func(ctx context.Context, r Resources) (*Change, error) {
			return p.ensureTable(ctx, r.JobsTable, jobs.AttrJobID, "")
		},
		p.ensureBucket,
	}
	for _, step := range steps {
		c, err := step(ctx, r)
		if err != nil {
			return changes, err
		}
		if c != nil {
			p.Logger.Info("Provision", "kind", c.Kind, "name", c.Name, "action", c.Action, "dry", p.Dry)
			changes = append(changes, *c)
		}
	}
	return changes, nil
}

// Teardown deletes every named resource that exists.
func (p *Provisioner) Teardown(ctx context.Context, r Resources) ([]Change, error) {
	var changes []Change
	record := func(c *Change, err error) error {
		if err != nil {
			return err
		}
		if c != nil {
			p.Logger.Info("Teardown", "kind", c.Kind, "name", c.Name, "action", c.Action, "dry", p.Dry)
			changes = append(changes, *c)
		}
		return nil
	}
	if err := record(p.deleteQueue(ctx, r.Queue)); err != nil {
		return changes, err
	}
	if err := record(p.deleteTable(ctx, r.ResultsTable)); err != nil {
		return changes, err
	}
	if err := record(p.deleteTable(ctx, r.JobsTable)); err != nil {
		return changes, err
	}
	if err := record(p.deleteBucket(ctx, r.Bucket)); err != nil {
		return changes, err
	}
	return changes, nil
}

func (p *Provisioner) action(create string) string {
	if p.Dry {
		return "would " + create
	}
	return create
}

func (p *Provisioner) ensureQueue(ctx context.Context, r Resources) (*Change, error) {
	if r.Queue == "" || p.SQS == nil {
		return nil, nil
	}
	_, err := p.SQS.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(r.Queue)})
	if err == nil {
		return &Change{Kind: "queue", Name: r.Queue, Action: "exists"}, nil
	}
	var missing *sqstypes.QueueDoesNotExist
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("look up queue %s: %w", r.Queue, err)
	}
	c := &Change{Kind: "queue", Name: r.Queue, Action: p.action("create")}
	if p.Dry {
		return c, nil
	}

	attrs := map[string]string{}
	if r.Lease > 0 {
		attrs[string(sqstypes.QueueAttributeNameVisibilityTimeout)] = strconv.Itoa(int(r.Lease / time.Second))
	}
	if _, err := p.SQS.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(r.Queue), Attributes: attrs}); err != nil {
		return nil, fmt.Errorf("create queue %s: %w", r.Queue, err)
	}
	return c, nil
}

func (p *Provisioner) ensureTable(ctx context.Context, name, hash, rng string) (*Change, error) {
	if name == "" || p.DynamoDB == nil {
		return nil, nil
	}
	_, err := p.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err == nil {
		return &Change{Kind: "table", Name: name, Action: "exists"}, nil
	}
	var missing *dtypes.ResourceNotFoundException
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("describe table %s: %w", name, err)
	}
	c := &Change{Kind: "table", Name: name, Action: p.action("create")}
	if p.Dry {
		return c, nil
	}

	in := &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: dtypes.BillingModePayPerRequest,
		AttributeDefinitions: []dtypes.AttributeDefinition{
			{AttributeName: aws.String(hash), AttributeType: dtypes.ScalarAttributeTypeS},
		},
		KeySchema: []dtypes.KeySchemaElement{
			{AttributeName: aws.String(hash), KeyType: dtypes.KeyTypeHash},
		},
	}
	if rng != "" {
		in.AttributeDefinitions = append(in.AttributeDefinitions,
			dtypes.AttributeDefinition{AttributeName: aws.String(rng), AttributeType: dtypes.ScalarAttributeTypeS})
		in.KeySchema = append(in.KeySchema,
			dtypes.KeySchemaElement{AttributeName: aws.String(rng), KeyType: dtypes.KeyTypeRange})
	}
	if _, err := p.DynamoDB.CreateTable(ctx, in); err != nil {
		return nil, fmt.Errorf("create table %s: %w", name, err)
	}
	if p.TableWait > 0 {
		w := dynamodb.NewTableExistsWaiter(p.DynamoDB)
		if err := w.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, p.TableWait); err != nil {
			return nil, fmt.Errorf("wait for table %s: %w", name, err)
		}
	}
	return c, nil
}

func (p *Provisioner) ensureBucket(ctx context.Context, r Resources) (*Change, error) {
	if r.Bucket == "" || p.S3 == nil {
		return nil, nil
	}
	_, err := p.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.Bucket)})
	if err == nil {
		return &Change{Kind: "bucket", Name: r.Bucket, Action: "exists"}, nil
	}
	var missing *s3types.NotFound
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("head bucket %s: %w", r.Bucket, err)
	}
	c := &Change{Kind: "bucket", Name: r.Bucket, Action: p.action("create")}
	if p.Dry {
		return c, nil
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(r.Bucket)}
	if p.Region != "" && p.Region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.Region),
		}
	}
	if _, err := p.S3.CreateBucket(ctx, in); err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", r.Bucket, err)
	}
	return c, nil
}

func (p *Provisioner) deleteQueue(ctx context.Context, name string) (*Change, error) {
	if name == "" || p.SQS == nil {
		return nil, nil
	}
	out, err := p.SQS.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	var missing *sqstypes.QueueDoesNotExist
	if errors.As(err, &missing) {
		return &Change{Kind: "queue", Name: name, Action: "absent"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up queue %s: %w", name, err)
	}
	c := &Change{Kind: "queue", Name: name, Action: p.action("delete")}
	if p.Dry {
		return c, nil
	}
	if _, err := p.SQS.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: out.QueueUrl}); err != nil {
		return nil, fmt.Errorf("delete queue %s: %w", name, err)
	}
	return c, nil
}

func (p *Provisioner) deleteTable(ctx context.Context, name string) (*Change, error) {
	if name == "" || p.DynamoDB == nil {
		return nil, nil
	}
	_, err := p.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	var missing *dtypes.ResourceNotFoundException
	if errors.As(err, &missing) {
		return &Change{Kind: "table", Name: name, Action: "absent"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", name, err)
	}
	c := &Change{Kind: "table", Name: name, Action: p.action("delete")}
	if p.Dry {
		return c, nil
	}
	if _, err := p.DynamoDB.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)}); err != nil {
		return nil, fmt.Errorf("delete table %s: %w", name, err)
	}
	return c, nil
}

func (p *Provisioner) deleteBucket(ctx context.Context, name string) (*Change, error) {
	if name == "" || p.S3 == nil {
		return nil, nil
	}
	_, err := p.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	var missing *s3types.NotFound
	if errors.As(err, &missing) {
		return &Change{Kind: "bucket", Name: name, Action: "absent"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("head bucket %s: %w", name, err)
	}
	c := &Change{Kind: "bucket", Name: name, Action: p.action("delete")}
	if p.Dry {
		return c, nil
	}
	if _, err := p.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)}); err != nil {
		return nil, fmt.Errorf("delete bucket %s: %w", name, err)
	}
	return c, nil
}
