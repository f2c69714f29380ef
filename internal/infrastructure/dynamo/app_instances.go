package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/go-paynotify/internal/domain"
)

// AppInstanceRepo stores app instances keyed by domain.AppInstanceKey, which
// makes (device, package, android user) unique.
type AppInstanceRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewAppInstanceRepo(client *dynamodb.Client, tableName string) *AppInstanceRepo {
	return &AppInstanceRepo{client: client, tableName: tableName}
}

// Upsert finds or creates the instance in a single UpdateItem call. Fields
// already present keep their values, so concurrent first sightings converge
// on whichever id was written first. Label is never touched.
func (r *AppInstanceRepo) Upsert(ctx context.Context, inst *domain.AppInstance) (*domain.AppInstance, error) {
	now, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	key := domain.AppInstanceKey(inst.DeviceID, inst.PackageName, inst.AndroidUserID)
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(attrInstanceKey, key),
		UpdateExpression: aws.String("SET app_instance_id = if_not_exists(app_instance_id, :id), " +
			"commerce_id = if_not_exists(commerce_id, :c), " +
			"device_id = if_not_exists(device_id, :d), " +
			"package_name = if_not_exists(package_name, :p), " +
			"android_user_id = if_not_exists(android_user_id, :u), " +
			"created_at = if_not_exists(created_at, :now), " +
			"updated_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":  &types.AttributeValueMemberS{Value: inst.AppInstanceID},
			":c":   &types.AttributeValueMemberS{Value: inst.CommerceID},
			":d":   &types.AttributeValueMemberS{Value: inst.DeviceID},
			":p":   &types.AttributeValueMemberS{Value: inst.PackageName},
			":u":   &types.AttributeValueMemberN{Value: fmt.Sprint(inst.AndroidUserID)},
			":now": now,
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert app instance: %w", err)
	}
	var stored domain.AppInstance
	if err := attributevalue.UnmarshalMap(out.Attributes, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *AppInstanceRepo) Get(ctx context.Context, appInstanceID string) (*domain.AppInstance, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexAppInstanceID),
		KeyConditionExpression: aws.String("app_instance_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: appInstanceID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("app instance not found: %w", domain.ErrNotFound)
	}
	var inst domain.AppInstance
	if err := attributevalue.UnmarshalMap(out.Items[0], &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *AppInstanceRepo) ListByDevice(ctx context.Context, deviceID string) ([]domain.AppInstance, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexDeviceID),
		KeyConditionExpression: aws.String("device_id = :d"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberS{Value: deviceID},
		},
	})
	if err != nil {
		return nil, err
	}
	instances := []domain.AppInstance{}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// UpdateLabel sets or, for a nil label, clears the operator label.
func (r *AppInstanceRepo) UpdateLabel(ctx context.Context, appInstanceID string, label *string) (*domain.AppInstance, error) {
	inst, err := r.Get(ctx, appInstanceID)
	if err != nil {
		return nil, err
	}
	ue, err := buildUpdateExpr(map[string]any{attrLabel: label, attrUpdatedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	ue.Names["#pk"] = attrInstanceKey
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(attrInstanceKey, inst.InstanceKey),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionFailure(err) {
		return nil, fmt.Errorf("app instance not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var updated domain.AppInstance
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
