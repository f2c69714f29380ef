package domain

import "time"

// Device is one phone running the capture agent. UUID is generated on the
// phone and never changes once registered.
type Device struct {
	DeviceID     string          `json:"id" dynamodbav:"device_id"`
	UUID         string          `json:"uuid" dynamodbav:"device_uuid"`
	CommerceID   string          `json:"commerce_id" dynamodbav:"commerce_id"`
	LastSeenAt   *time.Time      `json:"last_seen_at" dynamodbav:"last_seen_at"`
	BatteryLevel *int            `json:"battery_level,omitempty" dynamodbav:"battery_level"`
	Permissions  map[string]bool `json:"permissions,omitempty" dynamodbav:"permissions"`
	CreatedAt    time.Time       `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time       `json:"updated" dynamodbav:"updated_at"`
}

type RegisterDeviceRequest struct {
	UUID       string `json:"uuid" validate:"required,uuid"`
	CommerceID string `json:"commerce_id" validate:"required,max=64"`
}

// DeviceHealthRequest is the periodic best-effort report sent by the agent.
type DeviceHealthRequest struct {
	BatteryLevel *int            `json:"battery_level" validate:"omitempty,gte=0,lte=100"`
	Permissions  map[string]bool `json:"permissions"`
}

// DeviceRegistration is returned by registration. Token is empty when the
// backend has no signing key configured.
type DeviceRegistration struct {
	Device *Device `json:"device"`
	Token  string  `json:"token,omitempty"`
}
