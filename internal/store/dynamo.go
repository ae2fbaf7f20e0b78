package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design. All items of a run
// share PK RUN#<id>; the run summary is SK META and each completed stage
// is SK STAGE#NN.
const (
	pkPrefix = "RUN#"
	skMeta   = "META"
	skStage  = "STAGE#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25
)

// dynamoAPI is the subset of *dynamodb.Client used by DynamoIndex.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// RunItem is the META item of a run.
type RunItem struct {
	ID               string    `dynamodbav:"-"`
	Name             string    `dynamodbav:"name"`
	Status           string    `dynamodbav:"status"`
	StartedAt        time.Time `dynamodbav:"startedAt"`
	FinishedAt       time.Time `dynamodbav:"finishedAt"`
	SourceSHA256     string    `dynamodbav:"sourceSha256"`
	SourcePath       string    `dynamodbav:"sourcePath,omitempty"`
	StagesCompleted  int       `dynamodbav:"stagesCompleted"`
	StagesTotal      int       `dynamodbav:"stagesTotal"`
	StagesBestEffort int       `dynamodbav:"stagesBestEffort"`
	AverageScore     float64   `dynamodbav:"averageScore"`
	TotalAttempts    int       `dynamodbav:"totalAttempts"`
	Location         string    `dynamodbav:"location,omitempty"`
	FailureKind      string    `dynamodbav:"failureKind,omitempty"`
	FailureStage     int       `dynamodbav:"failureStage,omitempty"`
	FailureMessage   string    `dynamodbav:"failureMessage,omitempty"`
}

// StageItem is the STAGE#NN item of a completed stage.
type StageItem struct {
	Index       int      `dynamodbav:"-"`
	Name        string   `dynamodbav:"name"`
	State       string   `dynamodbav:"state"`
	Attempts    int      `dynamodbav:"attempts"`
	Accepted    int      `dynamodbav:"acceptedAttempt"`
	Score       float64  `dynamodbav:"score"`
	BestEffort  bool     `dynamodbav:"bestEffort"`
	ImageSHA256 string   `dynamodbav:"imageSha256,omitempty"`
	ImageMIME   string   `dynamodbav:"imageMime,omitempty"`
	Issues      []string `dynamodbav:"issues,omitempty"`
	FailedCalls int      `dynamodbav:"failedCalls"`
}

// DynamoIndex records finished runs in a DynamoDB table so they can be
// listed and summarised without reading the session files.
type DynamoIndex struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
}

var _ Publisher = (*DynamoIndex)(nil)

// NewDynamoIndex creates a DynamoIndex for the given table. A positive ttl
// adds an expiresAt attribute to every item.
func NewDynamoIndex(client *dynamodb.Client, tableName string, ttl time.Duration) *DynamoIndex {
	return newDynamoIndex(client, tableName, ttl)
}

func newDynamoIndex(client dynamoAPI, tableName string, ttl time.Duration) *DynamoIndex {
	return &DynamoIndex{client: client, tableName: tableName, ttl: ttl}
}

// Name implements Publisher.
func (d *DynamoIndex) Name() string {
	return "dynamodb"
}

// runPK returns the partition key for a run.
func runPK(runID string) string {
	return pkPrefix + runID
}

func stageSK(index int) string {
	return fmt.Sprintf("%s%02d", skStage, index)
}

// Publish writes the META item and one item per completed stage.
func (d *DynamoIndex) Publish(ctx context.Context, session *LocalSession, res *Results) error {
	rec := res.Record
	pk := runPK(rec.ID)

	meta, err := d.item(pk, skMeta, newRunItem(res))
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", rec.ID, err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.tableName,
		Item:      meta,
	}); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, skMeta, err)
	}

	items := make([]map[string]types.AttributeValue, 0, len(rec.Stages))
	for i := range rec.Stages {
		stage := &rec.Stages[i]
		item, err := d.item(pk, stageSK(stage.Index), newStageItem(stage))
		if err != nil {
			return fmt.Errorf("marshal stage %d: %w", stage.Index, err)
		}
		items = append(items, item)
	}
	if err := d.batchPut(ctx, items); err != nil {
		return err
	}

	log.Info().
		Str("table", d.tableName).
		Str("run_id", rec.ID).
		Str("status", string(rec.Status)).
		Int("stages", len(rec.Stages)).
		Msg("Run indexed in DynamoDB")
	return nil
}

// GetRun returns the META item and stage items of a run, or nil when the
// run is not indexed.
func (d *DynamoIndex) GetRun(ctx context.Context, runID string) (*RunItem, []StageItem, error) {
	pk := runPK(runID)
	input := &dynamodb.QueryInput{
		TableName:              &d.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}

	var run *RunItem
	var stages []StageItem

	// Handle pagination: DynamoDB returns up to 1MB per Query call.
	for {
		result, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, nil, fmt.Errorf("Query PK=%s: %w", pk, err)
		}
		for _, item := range result.Items {
			sk := stringAttr(item, "SK")
			switch {
			case sk == skMeta:
				var r RunItem
				if err := attributevalue.UnmarshalMap(item, &r); err != nil {
					return nil, nil, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
				}
				r.ID = runID
				run = &r
			case strings.HasPrefix(sk, skStage):
				var s StageItem
				if err := attributevalue.UnmarshalMap(item, &s); err != nil {
					return nil, nil, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
				}
				s.Index, _ = strconv.Atoi(strings.TrimPrefix(sk, skStage))
				stages = append(stages, s)
			}
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	if run == nil {
		return nil, nil, nil
	}
	return run, stages, nil
}

// item marshals a domain object and adds PK, SK and the optional TTL.
// Domain objects use dynamodbav:"-" for fields derived from the keys.
func (d *DynamoIndex) item(pk, sk string, data any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, err
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	if d.ttl > 0 {
		item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(d.ttl).Unix(), 10)}
	}
	return item, nil
}

// batchPut writes items in chunks of maxBatchWrite.
func (d *DynamoIndex) batchPut(ctx context.Context, items []map[string]types.AttributeValue) error {
	for i := 0; i < len(items); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(items))

		requests := make([]types.WriteRequest, 0, end-i)
		for _, item := range items[i:end] {
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		}

		out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				d.tableName: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem put (%d items): %w", len(requests), err)
		}
		if out != nil && len(out.UnprocessedItems[d.tableName]) > 0 {
			return fmt.Errorf("BatchWriteItem left %d items unprocessed", len(out.UnprocessedItems[d.tableName]))
		}
	}
	return nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func newRunItem(res *Results) RunItem {
	rec := res.Record
	r := RunItem{
		ID:               rec.ID,
		Name:             rec.Name,
		Status:           string(rec.Status),
		StartedAt:        rec.StartedAt,
		FinishedAt:       rec.FinishedAt,
		SourceSHA256:     rec.Source.Image.SHA256,
		SourcePath:       rec.Source.Path,
		StagesCompleted:  res.Summary.StagesCompleted,
		StagesTotal:      res.Summary.StagesTotal,
		StagesBestEffort: res.Summary.StagesBestEffort,
		AverageScore:     res.Summary.AverageScore,
		TotalAttempts:    res.Summary.TotalAttempts,
		Location:         res.Location,
	}
	if f := res.Failure; f != nil {
		r.FailureKind = f.Kind
		r.FailureStage = f.Stage
		r.FailureMessage = f.Message
	}
	return r
}

func newStageItem(stage *pipeline.StageResult) StageItem {
	s := StageItem{
		Index:      stage.Index,
		Name:       stage.Name,
		State:      stage.State.String(),
		Attempts:   len(stage.Attempts),
		BestEffort: stage.BestEffort,
	}
	for _, a := range stage.Attempts {
		if a.Failure != nil {
			s.FailedCalls++
		}
	}
	if a := stage.Accepted(); a != nil {
		s.Accepted = a.Number
		if a.Image != nil {
			s.ImageSHA256 = a.Image.SHA256
			s.ImageMIME = a.Image.MIMEType
		}
		if a.Critique != nil {
			s.Score = a.Critique.Score
			s.Issues = a.Critique.Issues
		}
	}
	return s
}
