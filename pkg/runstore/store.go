// Package runstore tracks copy-out runs in a DynamoDB table keyed by RunId.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/elsa-data/copy-out-service/pkg/copyout"
	log "github.com/sirupsen/logrus"
)

// Status is the lifecycle status of a tracked run.
type Status string

const (
	Pending        Status = "PENDING"
	Running        Status = "RUNNING"
	Succeeded      Status = Status(copyout.RunSucceeded)
	PartialFailure Status = Status(copyout.RunPartialFailure)
	Failed         Status = Status(copyout.RunFailed)
)

// Terminal reports whether the run has finished.
func (s Status) Terminal() bool {
	return s == Succeeded || s == PartialFailure || s == Failed
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunId            string `dynamodbav:"RunId" json:"runId"`
	Status           string `dynamodbav:"Status" json:"status"`
	Request          string `dynamodbav:"Request" json:"request"`
	TotalItems       int    `dynamodbav:"TotalItems" json:"totalItems"`
	TotalBatches     int    `dynamodbav:"TotalBatches" json:"totalBatches"`
	SucceededBatches int    `dynamodbav:"SucceededBatches" json:"succeededBatches"`
	FailedBatches    int    `dynamodbav:"FailedBatches" json:"failedBatches"`
	Message          string `dynamodbav:"Message,omitempty" json:"message,omitempty"`
	ReportLocation   string `dynamodbav:"ReportLocation,omitempty" json:"reportLocation,omitempty"`
	TaskArn          string `dynamodbav:"TaskArn,omitempty" json:"taskArn,omitempty"`
	DateCreated      int64  `dynamodbav:"DateCreated" json:"dateCreated"`
	DateUpdated      int64  `dynamodbav:"DateUpdated" json:"dateUpdated"`
}

// RunNotExistError is returned when no record exists for a run id.
type RunNotExistError struct {
	RunId string
}

func (e *RunNotExistError) Error() string {
	return fmt.Sprintf("copy-out run %s does not exist", e.RunId)
}

// RunExistsError is returned when creating a run whose id is already taken.
type RunExistsError struct {
	RunId string
}

func (e *RunExistsError) Error() string {
	return fmt.Sprintf("copy-out run %s already exists", e.RunId)
}

// DynamoDBAPI is the subset of the DynamoDB client used by the Store.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store reads and writes run records.
type Store struct {
	db    DynamoDBAPI
	table string
	now   func() time.Time
}

// NewStore returns a Store for the given table.
func NewStore(db DynamoDBAPI, table string) *Store {
	return &Store{db: db, table: table, now: time.Now}
}

// CreateRun records a new PENDING run for the merged request document.
func (s *Store) CreateRun(ctx context.Context, runId string, request []byte) (*RunRecord, error) {
	now := s.now().Unix()
	record := RunRecord{
		RunId:       runId,
		Status:      string(Pending),
		Request:     string(request),
		DateCreated: now,
		DateUpdated: now,
	}

	data, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("MarshalMap: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                data,
		ConditionExpression: aws.String("attribute_not_exists(RunId)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, &RunExistsError{RunId: runId}
		}
		return nil, fmt.Errorf("PutItem: %w", err)
	}

	log.WithField("run_id", runId).Debug("run recorded")
	return &record, nil
}

// GetRun returns the record of a run.
func (s *Store) GetRun(ctx context.Context, runId string) (*RunRecord, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            runKey(runId),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, &RunNotExistError{RunId: runId}
	}

	var record RunRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("UnmarshalMap: %w", err)
	}
	return &record, nil
}

// SetTaskArn stores the orchestrator task that executes the run.
func (s *Store) SetTaskArn(ctx context.Context, runId string, taskArn string) error {
	return s.update(ctx, runId, "SET TaskArn = :taskArn, DateUpdated = :updated",
		map[string]types.AttributeValue{
			":taskArn": &types.AttributeValueMemberS{Value: taskArn},
		})
}

// MarkRunning moves a run to RUNNING.
func (s *Store) MarkRunning(ctx context.Context, runId string) error {
	return s.updateStatus(ctx, runId, Running, "SET #status = :status, DateUpdated = :updated", nil)
}

// CompleteRun stores the outcome of a run that reached dispatch.
func (s *Store) CompleteRun(ctx context.Context, result *copyout.RunResult, reportLocation string) error {
	expr := "SET #status = :status, TotalItems = :items, TotalBatches = :batches, " +
		"SucceededBatches = :succeeded, FailedBatches = :failed, DateUpdated = :updated"
	values := map[string]types.AttributeValue{
		":items":     numberValue(result.TotalItems),
		":batches":   numberValue(result.TotalBatches),
		":succeeded": numberValue(result.SucceededBatches),
		":failed":    numberValue(result.FailedBatches),
	}
	if reportLocation != "" {
		expr += ", ReportLocation = :report"
		values[":report"] = &types.AttributeValueMemberS{Value: reportLocation}
	}
	return s.updateStatus(ctx, result.RunID, Status(result.Status), expr, values)
}

// FailRun marks a run FAILED with the error that aborted it.
func (s *Store) FailRun(ctx context.Context, runId string, cause error) error {
	return s.updateStatus(ctx, runId, Failed, "SET #status = :status, Message = :message, DateUpdated = :updated",
		map[string]types.AttributeValue{
			":message": &types.AttributeValueMemberS{Value: cause.Error()},
		})
}

func (s *Store) updateStatus(ctx context.Context, runId string, status Status, expr string,
	values map[string]types.AttributeValue) error {

	if values == nil {
		values = map[string]types.AttributeValue{}
	}
	values[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	err := s.update(ctx, runId, expr, values)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"run_id": runId, "status": status}).Info("run status updated")
	return nil
}

func (s *Store) update(ctx context.Context, runId string, expr string, values map[string]types.AttributeValue) error {
	values[":updated"] = numberValue(s.now().Unix())

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       runKey(runId),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(RunId)"),
		ExpressionAttributeValues: values,
	}
	if _, ok := values[":status"]; ok {
		input.ExpressionAttributeNames = map[string]string{"#status": "Status"}
	}

	_, err := s.db.UpdateItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return &RunNotExistError{RunId: runId}
		}
		return fmt.Errorf("UpdateItem: %w", err)
	}
	return nil
}

func runKey(runId string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"RunId": &types.AttributeValueMemberS{Value: runId},
	}
}

func numberValue[T int | int64](n T) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}
