package dynamo

// DynamoDB attribute and index names shared by the repos and Bootstrap.
const (
	attrDeviceUUID     = "device_uuid"
	attrDeviceID       = "device_id"
	attrInstanceKey    = "instance_key"
	attrAppInstanceID  = "app_instance_id"
	attrStreamKey      = "stream_key"
	attrReceivedKey    = "received_key"
	attrNotificationID = "notification_id"
	attrCommerceID     = "commerce_id"
	attrVersion        = "version"
	attrLabel          = "label"
	attrUpdatedAt      = "updated_at"

	indexDeviceID         = "device_id-index"
	indexAppInstanceID    = "app_instance_id-index"
	indexNotificationID   = "notification_id-index"
	indexCommerceReceived = "commerce_id-received_key-index"
)
