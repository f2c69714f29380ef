// Package ingestion stores payment notifications submitted by devices. Every
// accepted submission is stored; likely re-reports are flagged, never dropped.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-paynotify/internal/application/dedup"
	"github.com/go-paynotify/internal/domain"
	"github.com/go-paynotify/internal/pkg/id"
	"github.com/go-paynotify/internal/pkg/validate"
)

const DefaultMaxRetries = 5

type Service interface {
	// Ingest validates req, resolves its app instance, flags it as a
	// duplicate when a record of the same stream falls within the window,
	// and stores it. raw is the request body as received, kept for audit.
	Ingest(ctx context.Context, req domain.IngestNotificationRequest, raw json.RawMessage) (*domain.NotificationRecord, error)
}

type deviceStore interface {
	GetByUUID(ctx context.Context, uuid string) (*domain.Device, error)
	Touch(ctx context.Context, uuid string, seenAt time.Time) error
}

type instanceResolver interface {
	Resolve(ctx context.Context, commerceID, deviceID, packageName string, androidUserID int) (*domain.AppInstance, error)
}

type notificationStore interface {
	StreamVersion(ctx context.Context, deviceID string, source domain.SourceApp) (int64, error)
	ListWindow(ctx context.Context, deviceID string, source domain.SourceApp, from, to time.Time) ([]domain.NotificationRecord, error)
	InsertGuarded(ctx context.Context, rec *domain.NotificationRecord, expectedVersion int64) error
}

type publisher interface {
	PublishNotification(ctx context.Context, rec *domain.NotificationRecord) error
}

type archiver interface {
	Put(ctx context.Context, rec *domain.NotificationRecord, raw json.RawMessage) (string, error)
}

// ServiceDeps holds the collaborators of the ingestion service. Publisher
// and Archive are optional.
type ServiceDeps struct {
	Devices       deviceStore
	Instances     instanceResolver
	Notifications notificationStore
	Detector      *dedup.Detector
	Publisher     publisher
	Archive       archiver
	Logger        *slog.Logger
	MaxRetries    int
	Now           func() time.Time
}

type service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) Service {
	if deps.Detector == nil {
		deps.Detector = dedup.New(dedup.Config{})
	}
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = DefaultMaxRetries
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Logger = deps.Logger.With("module", "ingestion")
	return &service{deps: deps}
}

func (s *service) Ingest(ctx context.Context, req domain.IngestNotificationRequest, raw json.RawMessage) (*domain.NotificationRecord, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	device, err := s.deps.Devices.GetByUUID(ctx, req.DeviceID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, validate.Field("device_id", "unknown")
	}
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	rec := s.newRecord(device, req)

	// Older agents omit the android user id; the record then stays without
	// an instance.
	if req.AndroidUserID != nil && rec.PackageName != "" {
		inst, err := s.deps.Instances.Resolve(ctx, device.CommerceID, device.DeviceID, rec.PackageName, *req.AndroidUserID)
		if err != nil {
			return nil, err
		}
		rec.AppInstanceID = &inst.AppInstanceID
	}

	if err := s.insert(ctx, rec); err != nil {
		return nil, err
	}
	s.afterCommit(ctx, device, rec, raw)
	return rec, nil
}

// insert runs the windowed duplicate check and the insert as one optimistic
// unit against the stream head, retrying when a concurrent insert moved it.
func (s *service) insert(ctx context.Context, rec *domain.NotificationRecord) error {
	window := s.deps.Detector.Window()
	for attempt := 1; attempt <= s.deps.MaxRetries; attempt++ {
		version, err := s.deps.Notifications.StreamVersion(ctx, rec.DeviceID, rec.SourceApp)
		if err != nil {
			return err
		}
		recent, err := s.deps.Notifications.ListWindow(ctx, rec.DeviceID, rec.SourceApp,
			rec.ReceivedAt.Add(-window), rec.ReceivedAt.Add(window))
		if err != nil {
			return err
		}
		rec.IsDuplicate = s.deps.Detector.IsDuplicate(*rec, recent)

		err = s.deps.Notifications.InsertGuarded(ctx, rec, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		s.deps.Logger.Debug("stream moved, retrying", "operation", "insert", "attempt", attempt, "device_id", rec.DeviceID)
	}
	return fmt.Errorf("insert notification after %d attempts: %w", s.deps.MaxRetries, domain.ErrContention)
}

// afterCommit runs the side effects that must never fail the request.
func (s *service) afterCommit(ctx context.Context, device *domain.Device, rec *domain.NotificationRecord, raw json.RawMessage) {
	log := s.deps.Logger.With("notification_id", rec.NotificationID)
	if err := s.deps.Devices.Touch(ctx, device.UUID, rec.CreatedAt); err != nil {
		log.Warn("touch device failed", "operation", "touch", "err", err)
	}
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishNotification(ctx, rec); err != nil {
			log.Warn("publish failed", "operation", "publish", "err", err)
		}
	}
	if s.deps.Archive != nil {
		if _, err := s.deps.Archive.Put(ctx, rec, raw); err != nil {
			log.Warn("archive failed", "operation", "archive", "err", err)
		}
	}
	log.Info("notification stored", "operation", "ingest", "outcome", "stored",
		"source_app", rec.SourceApp, "is_duplicate", rec.IsDuplicate)
}

func (s *service) newRecord(device *domain.Device, req domain.IngestNotificationRequest) *domain.NotificationRecord {
	now := s.deps.Now().UTC()
	receivedAt := now
	if req.ReceivedAt != nil {
		receivedAt = req.ReceivedAt.UTC()
	}
	status := req.Status
	if status == "" {
		status = domain.NotificationPending
	}

	rec := &domain.NotificationRecord{
		NotificationID: id.New(),
		DeviceID:       device.DeviceID,
		CommerceID:     device.CommerceID,
		SourceApp:      req.SourceApp,
		AndroidUserID:  req.AndroidUserID,
		Title:          deref(req.Title),
		Body:           req.Body,
		Amount:         req.Amount,
		PayerName:      trimmed(req.PayerName),
		ReceivedAt:     receivedAt,
		Status:         status,
		RawJSON:        req.RawJSON,
		CreatedAt:      now,
	}
	if req.PackageName != nil {
		rec.PackageName = strings.ToLower(strings.TrimSpace(*req.PackageName))
	}
	if req.Currency != nil {
		c := strings.ToUpper(*req.Currency)
		rec.Currency = &c
	}
	if req.PostedAt != nil {
		p := req.PostedAt.UTC()
		rec.PostedAt = &p
	}
	return rec
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
