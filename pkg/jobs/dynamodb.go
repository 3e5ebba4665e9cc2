package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// AttrJobID is the jobs table hash key.
	AttrJobID     = "job_id"
	attrRecord    = "record"
	attrStatus    = "status"
	attrVersion   = "version"
	maxCASRetries = 5
)

// DynamoDBClient is the subset of the DynamoDB API the registry uses.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDB stores each job as one item holding the JSON record. Updates
// are compare-and-swap on the version attribute.
type DynamoDB struct {
	client DynamoDBClient
	table  string
}

func NewDynamoDB(client DynamoDBClient, table string) *DynamoDB {
	return &DynamoDB{client: client, table: table}
}

func (d *DynamoDB) item(j Job) (map[string]types.AttributeValue, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return map[string]types.AttributeValue{
		AttrJobID:   &types.AttributeValueMemberS{Value: j.ID},
		attrRecord:  &types.AttributeValueMemberS{Value: string(raw)},
		attrStatus:  &types.AttributeValueMemberS{Value: string(j.Status)},
		attrVersion: &types.AttributeValueMemberN{Value: strconv.FormatInt(j.Version, 10)},
	}, nil
}

func decodeJob(item map[string]types.AttributeValue) (Job, error) {
	rec, ok := item[attrRecord].(*types.AttributeValueMemberS)
	if !ok {
		return Job{}, fmt.Errorf("job item without %s", attrRecord)
	}
	var j Job
	if err := json.Unmarshal([]byte(rec.Value), &j); err != nil {
		return Job{}, fmt.Errorf("decode job record: %w", err)
	}
	return j, nil
}

func (d *DynamoDB) Create(ctx context.Context, j Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	item, err := d.item(j)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": AttrJobID},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrJobExists
	}
	if err != nil {
		return fmt.Errorf("create job %s: %w", j.ID, err)
	}
	return nil
}

func (d *DynamoDB) Get(ctx context.Context, id string) (Job, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            map[string]types.AttributeValue{AttrJobID: &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return Job{}, ErrJobNotFound
	}
	return decodeJob(out.Item)
}

func (d *DynamoDB) Update(ctx context.Context, id string, fn func(*Job) error) (Job, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		cur, err := d.Get(ctx, id)
		if err != nil {
			return Job{}, err
		}
		next := cur
		if err := fn(&next); err != nil {
			return Job{}, err
		}
		next.ID = id
		next.Version = cur.Version + 1
		next.UpdatedAt = time.Now().UTC()
		if err := next.Validate(); err != nil {
			return Job{}, err
		}
		item, err := d.item(next)
		if err != nil {
			return Job{}, err
		}

		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(d.table),
			Item:                     item,
			ConditionExpression:      aws.String("#v = :v"),
			ExpressionAttributeNames: map[string]string{"#v": attrVersion},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(cur.Version, 10)},
			},
		})
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			continue
		}
		if err != nil {
			return Job{}, fmt.Errorf("update job %s: %w", id, err)
		}
		return next, nil
	}
	return Job{}, fmt.Errorf("update job %s: too many concurrent writers", id)
}

func (d *DynamoDB) Delete(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       map[string]types.AttributeValue{AttrJobID: &types.AttributeValueMemberS{Value: id}},
	})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (d *DynamoDB) List(ctx context.Context) ([]Job, error) {
	var out []Job
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{TableName: aws.String(d.table)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		for _, item := range page.Items {
			j, err := decodeJob(item)
			if err != nil {
				return nil, err
			}
			out = append(out, j)
		}
	}
	return out, nil
}
