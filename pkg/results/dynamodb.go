package results

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/DrSkyle/grandiso/pkg/backbone"
)

// Table attribute names. job_id is the hash key, result_key the range key.
const (
	AttrJobID     = "job_id"
	AttrResultKey = "result_key"
	attrMapping   = "mapping"
)

const dynamoBatchLimit = 25

// DynamoDBClient is the subset of the DynamoDB API the store uses.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoDB stores one item per result. Re-putting a duplicate overwrites
// an identical item.
type DynamoDB struct {
	client DynamoDBClient
	table  string
}

func NewDynamoDB(client DynamoDBClient, table string) *DynamoDB {
	return &DynamoDB{client: client, table: table}
}

func (d *DynamoDB) Put(ctx context.Context, r backbone.Result) error {
	mapping := make(map[string]types.AttributeValue, len(r.Mapping))
	for m, h := range r.Mapping {
		mapping[m] = &types.AttributeValueMemberS{Value: h}
	}
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item: map[string]types.AttributeValue{
			AttrJobID:     &types.AttributeValueMemberS{Value: r.JobID},
			AttrResultKey: &types.AttributeValueMemberS{Value: r.Key()},
			attrMapping:   &types.AttributeValueMemberM{Value: mapping},
		},
	})
	if err != nil {
		return fmt.Errorf("put result into %s: %w", d.table, err)
	}
	return nil
}

func (d *DynamoDB) query(jobID string, projection string) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("#job = :job"),
		ExpressionAttributeNames: map[string]string{
			"#job": AttrJobID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":job": &types.AttributeValueMemberS{Value: jobID},
		},
	}
	if projection != "" {
		in.ProjectionExpression = aws.String(projection)
	}
	return in
}

// Scan pages through the job's partition with Query.
func (d *DynamoDB) Scan(ctx context.Context, jobID string, fn ScanFunc) error {
	paginator := dynamodb.NewQueryPaginator(d.client, d.query(jobID, ""))
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("query results of %s: %w", jobID, err)
		}
		for _, item := range page.Items {
			r, err := decodeItem(item)
			if err != nil {
				return err
			}
			if err := fn(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeItem(item map[string]types.AttributeValue) (backbone.Result, error) {
	var r backbone.Result
	job, ok := item[AttrJobID].(*types.AttributeValueMemberS)
	if !ok {
		return r, fmt.Errorf("result item without %s", AttrJobID)
	}
	m, ok := item[attrMapping].(*types.AttributeValueMemberM)
	if !ok {
		return r, fmt.Errorf("result item of %s without %s", job.Value, attrMapping)
	}
	r.JobID = job.Value
	r.Mapping = make(map[string]string, len(m.Value))
	for k, v := range m.Value {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return r, fmt.Errorf("result of %s: mapping value for %s is not a string", job.Value, k)
		}
		r.Mapping[k] = s.Value
	}
	return r, nil
}

// Delete removes the job's items in batches of 25, retrying unprocessed
// items with exponential backoff.
func (d *DynamoDB) Delete(ctx context.Context, jobID string) error {
	var pending []types.WriteRequest
	paginator := dynamodb.NewQueryPaginator(d.client, d.query(jobID, "#job, "+AttrResultKey))
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("query results of %s: %w", jobID, err)
		}
		for _, item := range page.Items {
			pending = append(pending, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{
					AttrJobID:     item[AttrJobID],
					AttrResultKey: item[AttrResultKey],
				},
			}})
		}
	}

	for start := 0; start < len(pending); start += dynamoBatchLimit {
		end := start + dynamoBatchLimit
		if end > len(pending) {
			end = len(pending)
		}
		if err := d.writeBatch(ctx, pending[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *DynamoDB) writeBatch(ctx context.Context, reqs []types.WriteRequest) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	return backoff.Retry(func() error {
		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{d.table: reqs},
		})
		if err != nil {
			return fmt.Errorf("batch delete from %s: %w", d.table, err)
		}
		reqs = out.UnprocessedItems[d.table]
		if len(reqs) > 0 {
			return fmt.Errorf("%d unprocessed deletes in %s", len(reqs), d.table)
		}
		return nil
	}, policy)
}
