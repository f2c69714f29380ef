package dynamo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/go-paynotify/internal/config"
)

// Bootstrap creates the tables and GSIs if they don't already exist and
// waits for them to become active. Safe to call on every startup.
func Bootstrap(ctx context.Context, client *dynamodb.Client, tables config.DynamoTables) error {
	inputs := []*dynamodb.CreateTableInput{
		{
			TableName:   aws.String(tables.Devices),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				strAttr(attrDeviceUUID),
				strAttr(attrDeviceID),
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrDeviceUUID), KeyType: types.KeyTypeHash},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(indexDeviceID, attrDeviceID, ""),
			},
		},
		{
			TableName:   aws.String(tables.AppInstances),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				strAttr(attrInstanceKey),
				strAttr(attrAppInstanceID),
				strAttr(attrDeviceID),
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrInstanceKey), KeyType: types.KeyTypeHash},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(indexAppInstanceID, attrAppInstanceID, ""),
				gsi(indexDeviceID, attrDeviceID, ""),
			},
		},
		{
			TableName:   aws.String(tables.Notifications),
			BillingMode: types.BillingModePayPerRequest,
			AttributeDefinitions: []types.AttributeDefinition{
				strAttr(attrStreamKey),
				strAttr(attrReceivedKey),
				strAttr(attrNotificationID),
				strAttr(attrCommerceID),
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(attrStreamKey), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(attrReceivedKey), KeyType: types.KeyTypeRange},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				gsi(indexNotificationID, attrNotificationID, ""),
				gsi(indexCommerceReceived, attrCommerceID, attrReceivedKey),
			},
		},
	}

	var errs []error
	for _, in := range inputs {
		if err := createTable(ctx, client, in); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func strAttr(name string) types.AttributeDefinition {
	return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
}

// gsi builds a GSI descriptor. If sortKey is empty, only a hash key is added.
func gsi(indexName, hashKey, sortKey string) types.GlobalSecondaryIndex {
	ks := []types.KeySchemaElement{
		{AttributeName: aws.String(hashKey), KeyType: types.KeyTypeHash},
	}
	if sortKey != "" {
		ks = append(ks, types.KeySchemaElement{
			AttributeName: aws.String(sortKey), KeyType: types.KeyTypeRange,
		})
	}
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(indexName),
		KeySchema:  ks,
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

func createTable(ctx context.Context, client *dynamodb.Client, input *dynamodb.CreateTableInput) error {
	_, err := client.CreateTable(ctx, input)
	if err != nil {
		// ResourceInUseException means the table already exists.
		var riue *types.ResourceInUseException
		if !errors.As(err, &riue) {
			slog.Warn("could not create table", "table", *input.TableName, "err", err)
			return err
		}
		return nil
	}
	slog.Info("created table", "table", *input.TableName)

	waiter := dynamodb.NewTableExistsWaiter(client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName}, 2*time.Minute)
}
