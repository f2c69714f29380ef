package domain

import (
	"encoding/json"
	"time"
)

// SourceApp is the canonical banking/wallet app a notification came from.
type SourceApp string

const (
	SourceYape       SourceApp = "yape"
	SourcePlin       SourceApp = "plin"
	SourceBCP        SourceApp = "bcp"
	SourceInterbank  SourceApp = "interbank"
	SourceBBVA       SourceApp = "bbva"
	SourceScotiabank SourceApp = "scotiabank"
)

// NotificationStatus is the operator-facing validation state of a record.
// It is independent of IsDuplicate.
type NotificationStatus string

const (
	NotificationPending      NotificationStatus = "pending"
	NotificationValidated    NotificationStatus = "validated"
	NotificationInconsistent NotificationStatus = "inconsistent"
)

const (
	CurrencyPEN = "PEN"
	CurrencyUSD = "USD"
)

// NotificationRecord is one stored ingestion call. Duplicates are stored too,
// flagged with IsDuplicate.
type NotificationRecord struct {
	StreamKey      string             `json:"-" dynamodbav:"stream_key"`
	ReceivedKey    string             `json:"-" dynamodbav:"received_key"`
	NotificationID string             `json:"id" dynamodbav:"notification_id"`
	DeviceID       string             `json:"device_id" dynamodbav:"device_id"`
	CommerceID     string             `json:"commerce_id" dynamodbav:"commerce_id"`
	AppInstanceID  *string            `json:"app_instance_id" dynamodbav:"app_instance_id"`
	SourceApp      SourceApp          `json:"source_app" dynamodbav:"source_app"`
	PackageName    string             `json:"package_name" dynamodbav:"package_name"`
	AndroidUserID  *int               `json:"android_user_id" dynamodbav:"android_user_id"`
	Title          string             `json:"title" dynamodbav:"title"`
	Body           string             `json:"body" dynamodbav:"body"`
	Amount         *float64           `json:"amount" dynamodbav:"amount"`
	Currency       *string            `json:"currency" dynamodbav:"currency"`
	PayerName      *string            `json:"payer_name" dynamodbav:"payer_name"`
	PostedAt       *time.Time         `json:"posted_at" dynamodbav:"posted_at"`
	ReceivedAt     time.Time          `json:"received_at" dynamodbav:"received_at"`
	Status         NotificationStatus `json:"status" dynamodbav:"status"`
	IsDuplicate    bool               `json:"is_duplicate" dynamodbav:"is_duplicate"`
	RawJSON        json.RawMessage    `json:"raw_json,omitempty" dynamodbav:"raw_json"`
	CreatedAt      time.Time          `json:"created" dynamodbav:"created_at"`
}

// IngestNotificationRequest is the wire shape accepted by the ingestion endpoint.
type IngestNotificationRequest struct {
	DeviceID      string             `json:"device_id" validate:"required,uuid"`
	SourceApp     SourceApp          `json:"source_app" validate:"required,oneof=yape plin bcp interbank bbva scotiabank"`
	PackageName   *string            `json:"package_name" validate:"omitempty,max=255"`
	AndroidUserID *int               `json:"android_user_id" validate:"omitempty,gte=0"`
	Title         *string            `json:"title" validate:"omitempty,max=255"`
	Body          string             `json:"body" validate:"required,max=4096"`
	Amount        *float64           `json:"amount" validate:"omitempty,gte=0"`
	Currency      *string            `json:"currency" validate:"omitempty,len=3"`
	PayerName     *string            `json:"payer_name" validate:"omitempty,max=255"`
	PostedAt      *time.Time         `json:"posted_at"`
	ReceivedAt    *time.Time         `json:"received_at"`
	RawJSON       json.RawMessage    `json:"raw_json"`
	Status        NotificationStatus `json:"status" validate:"omitempty,oneof=pending validated inconsistent"`
}
