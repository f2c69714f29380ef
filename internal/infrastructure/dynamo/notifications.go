package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/go-paynotify/internal/domain"
)

// Records of one (device, source app) stream share a partition and sort by
// receive time. The head item of each stream carries a version that every
// insert bumps, so a duplicate check and the insert that follows it can be
// committed together only if no other insert landed in between.
const (
	headSortKey = "#head"
	// receivedLayout has a fixed width so lexical order equals time order.
	receivedLayout = "2006-01-02T15:04:05.000000000Z"
)

func StreamKey(deviceID string, source domain.SourceApp) string {
	return deviceID + "#" + string(source)
}

func ReceivedKey(at time.Time, notificationID string) string {
	return at.UTC().Format(receivedLayout) + "#" + notificationID
}

// NotificationRepo provides typed DynamoDB operations for the notifications table.
type NotificationRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewNotificationRepo(client *dynamodb.Client, tableName string) *NotificationRepo {
	return &NotificationRepo{client: client, tableName: tableName}
}

// StreamVersion reads the stream head with a strongly consistent read. A
// stream with no inserts yet is at version 0.
func (r *NotificationRepo) StreamVersion(ctx context.Context, deviceID string, source domain.SourceApp) (int64, error) {
	streamKey := StreamKey(deviceID, source)
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.tableName),
		Key:                  compositeKey(attrStreamKey, streamKey, attrReceivedKey, headSortKey),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("#v"),
		ExpressionAttributeNames: map[string]string{
			"#v": attrVersion,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("read stream head: %w", err)
	}
	n, ok := out.Item[attrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

// ListWindow returns the stream's records received in [from, to], read
// strongly consistent.
func (r *NotificationRepo) ListWindow(ctx context.Context, deviceID string, source domain.SourceApp, from, to time.Time) ([]domain.NotificationRecord, error) {
	streamKey := StreamKey(deviceID, source)
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("#pk = :s AND #sk BETWEEN :from AND :to"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrStreamKey,
			"#sk": attrReceivedKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":    &types.AttributeValueMemberS{Value: streamKey},
			":from": &types.AttributeValueMemberS{Value: from.UTC().Format(receivedLayout)},
			":to":   &types.AttributeValueMemberS{Value: to.UTC().Format(receivedLayout) + "#~"},
		},
		ConsistentRead: aws.Bool(true),
	}

	records := []domain.NotificationRecord{}
	paginator := dynamodb.NewQueryPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query window: %w", err)
		}
		var batch []domain.NotificationRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}
	return records, nil
}

// InsertGuarded writes rec and advances the stream head from expectedVersion
// in one transaction. If another insert moved the head first, nothing is
// written and domain.ErrConflict is returned.
func (r *NotificationRepo) InsertGuarded(ctx context.Context, rec *domain.NotificationRecord, expectedVersion int64) error {
	rec.StreamKey = StreamKey(rec.DeviceID, rec.SourceApp)
	rec.ReceivedKey = ReceivedKey(rec.ReceivedAt, rec.NotificationID)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	headCond := "#v = :expected"
	headValues := map[string]types.AttributeValue{
		":next":     &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion+1, 10)},
		":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		":now":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	if expectedVersion == 0 {
		headCond = "attribute_not_exists(#v)"
		delete(headValues, ":expected")
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                 aws.String(r.tableName),
				Key:                       compositeKey(attrStreamKey, rec.StreamKey, attrReceivedKey, headSortKey),
				UpdateExpression:          aws.String("SET #v = :next, #u = :now"),
				ConditionExpression:       aws.String(headCond),
				ExpressionAttributeNames:  map[string]string{"#v": attrVersion, "#u": attrUpdatedAt},
				ExpressionAttributeValues: headValues,
			}},
			{Put: &types.Put{
				TableName:                aws.String(r.tableName),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
				ExpressionAttributeNames: map[string]string{"#pk": attrStreamKey},
			}},
		},
	})
	if isConditionFailure(err) {
		return fmt.Errorf("stream %s moved past version %d: %w", rec.StreamKey, expectedVersion, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepo) Get(ctx context.Context, notificationID string) (*domain.NotificationRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexNotificationID),
		KeyConditionExpression: aws.String("notification_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: notificationID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("notification not found: %w", domain.ErrNotFound)
	}
	var n domain.NotificationRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListByCommerce pages through a commerce's records, newest first. cursor
// is the value returned by the previous page; "" starts from the top.
func (r *NotificationRepo) ListByCommerce(ctx context.Context, commerceID string, limit int32, cursor string) ([]domain.NotificationRecord, string, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexCommerceReceived),
		KeyConditionExpression: aws.String("commerce_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: commerceID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	}
	if cursor != "" {
		start, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", domain.ErrBadRequest)
		}
		input.ExclusiveStartKey = start
	}

	out, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, "", err
	}
	records := []domain.NotificationRecord{}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, "", err
	}
	next, err := encodeCursor(out.LastEvaluatedKey)
	if err != nil {
		return nil, "", err
	}
	return records, next, nil
}
