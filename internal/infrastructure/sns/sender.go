package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/go-paynotify/internal/domain"
)

type publishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher pushes every stored notification record to the dashboard topic.
type Publisher struct {
	client   publishAPI
	topicARN string
}

func NewClient(awsCfg aws.Config, endpoint string) *sns.Client {
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func NewPublisher(client publishAPI, topicARN string) *Publisher {
	return &Publisher{client: client, topicARN: topicARN}
}

// PublishNotification sends rec as JSON. Subscribers can filter on the
// commerce_id, source_app and is_duplicate message attributes.
func (p *Publisher) PublishNotification(ctx context.Context, rec *domain.NotificationRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	dup := "false"
	if rec.IsDuplicate {
		dup = "true"
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String("notification.stored"),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"commerce_id":  stringAttr(rec.CommerceID),
			"source_app":   stringAttr(string(rec.SourceApp)),
			"is_duplicate": stringAttr(dup),
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}
