// Package notify publishes run completion messages to SNS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	log "github.com/sirupsen/logrus"
)

// SNSAPI is the subset of the SNS client used by the Notifier.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Completion is the message sent when a run finishes.
type Completion struct {
	RunID            string  `json:"runId"`
	Status           string  `json:"status"`
	TotalItems       int     `json:"totalItems"`
	TotalBatches     int     `json:"totalBatches"`
	SucceededBatches int     `json:"succeededBatches"`
	FailedBatches    int     `json:"failedBatches"`
	FailurePercent   float64 `json:"failurePercentage"`
	ReportLocation   string  `json:"reportLocation,omitempty"`
	Message          string  `json:"message,omitempty"`
}

// Notifier publishes completions to a topic. A Notifier without topic does nothing.
type Notifier struct {
	client   SNSAPI
	topicArn string
}

// NewNotifier returns a Notifier for topicArn.
func NewNotifier(client SNSAPI, topicArn string) *Notifier {
	return &Notifier{client: client, topicArn: topicArn}
}

// Publish sends c with the run id and status as message attributes so subscribers can filter.
func (n *Notifier) Publish(ctx context.Context, c Completion) error {
	if n.topicArn == "" {
		return nil
	}

	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("error encoding completion: %w", err)
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Message:  aws.String(string(body)),
		Subject:  aws.String(fmt.Sprintf("copy-out %s", c.Status)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"runId":  {DataType: aws.String("String"), StringValue: aws.String(c.RunID)},
			"status": {DataType: aws.String("String"), StringValue: aws.String(c.Status)},
		},
	})
	if err != nil {
		log.WithField("run_id", c.RunID).Error("Error publishing to SNS: ", err)
		return err
	}
	return nil
}
