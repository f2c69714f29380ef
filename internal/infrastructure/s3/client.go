package s3infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/go-paynotify/internal/domain"
)

// objectAPI is the subset of *s3.Client the archive uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archive keeps the raw body of every ingestion call as an audit trail,
// independent of what the notifications table stores.
type Archive struct {
	client objectAPI
	bucket string
}

// NewClient creates an S3 client. When endpoint is set (LocalStack), it
// overrides the endpoint and enables path-style addressing.
func NewClient(awsCfg aws.Config, endpoint string) *s3.Client {
	clientOpts := []func(*s3.Options){}
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, clientOpts...)
}

func NewArchive(client objectAPI, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

// ArchiveKey is raw/<commerce>/<yyyy-mm-dd>/<notification id>.json, dated by
// receive time.
func ArchiveKey(rec *domain.NotificationRecord) string {
	return fmt.Sprintf("raw/%s/%s/%s.json",
		rec.CommerceID, rec.ReceivedAt.UTC().Format(time.DateOnly), rec.NotificationID)
}

// Put stores the submission exactly as received, wrapped with the identifiers
// the record was stored under.
func (a *Archive) Put(ctx context.Context, rec *domain.NotificationRecord, raw json.RawMessage) (string, error) {
	body, err := json.Marshal(archivedSubmission{
		NotificationID: rec.NotificationID,
		DeviceID:       rec.DeviceID,
		CommerceID:     rec.CommerceID,
		ReceivedAt:     rec.ReceivedAt,
		IsDuplicate:    rec.IsDuplicate,
		Request:        raw,
	})
	if err != nil {
		return "", fmt.Errorf("marshal archive entry: %w", err)
	}
	key := ArchiveKey(rec)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// Get returns the archived entry for rec.
func (a *Archive) Get(ctx context.Context, rec *domain.NotificationRecord) (json.RawMessage, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(ArchiveKey(rec)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read archived object: %w", err)
	}
	return b, nil
}

type archivedSubmission struct {
	NotificationID string          `json:"notification_id"`
	DeviceID       string          `json:"device_id"`
	CommerceID     string          `json:"commerce_id"`
	ReceivedAt     time.Time       `json:"received_at"`
	IsDuplicate    bool            `json:"is_duplicate"`
	Request        json.RawMessage `json:"request"`
}
