package domain

import (
	"strconv"
	"time"
)

// AppInstance is one logical account of a monitored package on a device.
// Android work profiles and dual-app clones run the same package under
// different user ids, so the identity is (device, package, android user).
type AppInstance struct {
	InstanceKey   string    `json:"-" dynamodbav:"instance_key"`
	AppInstanceID string    `json:"id" dynamodbav:"app_instance_id"`
	CommerceID    string    `json:"commerce_id" dynamodbav:"commerce_id"`
	DeviceID      string    `json:"device_id" dynamodbav:"device_id"`
	PackageName   string    `json:"package_name" dynamodbav:"package_name"`
	AndroidUserID int       `json:"android_user_id" dynamodbav:"android_user_id"`
	Label         *string   `json:"label" dynamodbav:"label"`
	CreatedAt     time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt     time.Time `json:"updated" dynamodbav:"updated_at"`
}

// AppInstanceKey is the storage key enforcing uniqueness of an instance.
func AppInstanceKey(deviceID, packageName string, androidUserID int) string {
	return deviceID + "#" + packageName + "#" + strconv.Itoa(androidUserID)
}

type LabelAppInstanceRequest struct {
	Label *string `json:"label" validate:"omitempty,max=80"`
}
