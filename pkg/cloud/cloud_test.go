package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsThrottle(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, true},
		{"dynamo capacity", &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException"}, true},
		{"wrapped", fmt.Errorf("push: %w", &smithy.GenericAPIError{Code: "RequestThrottled"}), true},
		{"joined", errors.Join(errors.New("a"), &smithy.GenericAPIError{Code: "SlowDown"}), true},
		{"other api error", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsThrottle(tt.err); got != tt.want {
				t.Fatalf("IsThrottle(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type fakeAdmin struct {
	queues  map[string]bool
	tables  map[string]*dynamodb.CreateTableInput
	buckets map[string]bool
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{queues: map[string]bool{}, tables: map[string]*dynamodb.CreateTableInput{}, buckets: map[string]bool{}}
}

func (f *fakeAdmin) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	if !f.queues[aws.ToString(in.QueueName)] {
		return nil, &sqstypes.QueueDoesNotExist{}
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: in.QueueName}, nil
}

func (f *fakeAdmin) CreateQueue(_ context.Context, in *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	f.queues[aws.ToString(in.QueueName)] = true
	return &sqs.CreateQueueOutput{}, nil
}

func (f *fakeAdmin) DeleteQueue(_ context.Context, in *sqs.DeleteQueueInput, _ ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error) {
	delete(f.queues, aws.ToString(in.QueueUrl))
	return &sqs.DeleteQueueOutput{}, nil
}

func (f *fakeAdmin) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if _, ok := f.tables[aws.ToString(in.TableName)]; !ok {
		return nil, &dtypes.ResourceNotFoundException{}
	}
	return &dynamodb.DescribeTableOutput{Table: &dtypes.TableDescription{
		TableName:   in.TableName,
		TableStatus: dtypes.TableStatusActive,
	}}, nil
}

func (f *fakeAdmin) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.tables[aws.ToString(in.TableName)] = in
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeAdmin) DeleteTable(_ context.Context, in *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	delete(f.tables, aws.ToString(in.TableName))
	return &dynamodb.DeleteTableOutput{}, nil
}

func (f *fakeAdmin) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.buckets[aws.ToString(in.Bucket)] {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeAdmin) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.buckets[aws.ToString(in.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeAdmin) DeleteBucket(_ context.Context, in *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	delete(f.buckets, aws.ToString(in.Bucket))
	return &s3.DeleteBucketOutput{}, nil
}

func provisioner(f *fakeAdmin, dry bool) *Provisioner {
	return &Provisioner{
		SQS: f, DynamoDB: f, S3: f,
		Region: "us-east-1",
		Dry:    dry,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

var testResources = Resources{
	Queue:        "motif-search-queue",
	ResultsTable: "motif-search-results",
	JobsTable:    "motif-search-jobs",
	Bucket:       "motif-search",
}

func TestProvision_DryRunChangesNothing(t *testing.T) {
	f := newFakeAdmin()
	changes, err := provisioner(f, true).Provision(context.Background(), testResources)
	require.NoError(t, err)
	require.Len(t, changes, 4)
	for _, c := range changes {
		assert.Equal(t, "would create", c.Action, c.String())
	}
	assert.Empty(t, f.queues)
	assert.Empty(t, f.tables)
	assert.Empty(t, f.buckets)
}

func TestProvision_CreatesThenTearsDown(t *testing.T) {
	ctx := context.Background()
	f := newFakeAdmin()
	p := provisioner(f, false)

	_, err := p.Provision(ctx, testResources)
	require.NoError(t, err)
	assert.True(t, f.queues["motif-search-queue"])
	assert.True(t, f.buckets["motif-search"])

	results := f.tables["motif-search-results"]
	require.NotNil(t, results)
	assert.Len(t, results.KeySchema, 2)
	assert.Equal(t, dtypes.BillingModePayPerRequest, results.BillingMode)
	require.NotNil(t, f.tables["motif-search-jobs"])
	assert.Len(t, f.tables["motif-search-jobs"].KeySchema, 1)

	again, err := p.Provision(ctx, testResources)
	require.NoError(t, err)
	for _, c := range again {
		assert.Equal(t, "exists", c.Action, c.String())
	}

	_, err = p.Teardown(ctx, testResources)
	require.NoError(t, err)
	assert.Empty(t, f.queues)
	assert.Empty(t, f.tables)
	assert.Empty(t, f.buckets)
}
