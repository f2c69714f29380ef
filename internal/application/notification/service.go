// Package notification is the operator read side over stored records.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-paynotify/internal/domain"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Service interface {
	List(ctx context.Context, commerceID string, limit int32, cursor string) ([]domain.NotificationRecord, string, error)
	Get(ctx context.Context, commerceID, notificationID string) (*domain.NotificationRecord, error)
	// Raw returns the archived request body of a record.
	Raw(ctx context.Context, commerceID, notificationID string) (json.RawMessage, error)
}

type notificationStore interface {
	Get(ctx context.Context, notificationID string) (*domain.NotificationRecord, error)
	ListByCommerce(ctx context.Context, commerceID string, limit int32, cursor string) ([]domain.NotificationRecord, string, error)
}

type archiveReader interface {
	Get(ctx context.Context, rec *domain.NotificationRecord) (json.RawMessage, error)
}

type service struct {
	repo    notificationStore
	archive archiveReader
}

// NewService builds the operator service. archive may be nil, in which case
// Raw reports not found.
func NewService(repo notificationStore, archive archiveReader) Service {
	return &service{repo: repo, archive: archive}
}

func (s *service) List(ctx context.Context, commerceID string, limit int32, cursor string) ([]domain.NotificationRecord, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return s.repo.ListByCommerce(ctx, commerceID, limit, cursor)
}

func (s *service) Get(ctx context.Context, commerceID, notificationID string) (*domain.NotificationRecord, error) {
	n, err := s.repo.Get(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.CommerceID != commerceID {
		return nil, fmt.Errorf("notification not found: %w", domain.ErrNotFound)
	}
	return n, nil
}

func (s *service) Raw(ctx context.Context, commerceID, notificationID string) (json.RawMessage, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("archive disabled: %w", domain.ErrNotFound)
	}
	n, err := s.Get(ctx, commerceID, notificationID)
	if err != nil {
		return nil, err
	}
	return s.archive.Get(ctx, n)
}
