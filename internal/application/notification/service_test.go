package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-paynotify/internal/domain"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) Get(ctx context.Context, notificationID string) (*domain.NotificationRecord, error) {
	args := m.Called(ctx, notificationID)
	if n, _ := args.Get(0).(*domain.NotificationRecord); n != nil {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockStore) ListByCommerce(ctx context.Context, commerceID string, limit int32, cursor string) ([]domain.NotificationRecord, string, error) {
	args := m.Called(ctx, commerceID, limit, cursor)
	return args.Get(0).([]domain.NotificationRecord), args.String(1), args.Error(2)
}

type mockArchive struct{ mock.Mock }

func (m *mockArchive) Get(ctx context.Context, rec *domain.NotificationRecord) (json.RawMessage, error) {
	args := m.Called(ctx, rec)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func TestList_ClampsLimit(t *testing.T) {
	store := &mockStore{}
	store.On("ListByCommerce", mock.Anything, "com-1", int32(DefaultPageSize), "").Return([]domain.NotificationRecord{}, "", nil)
	store.On("ListByCommerce", mock.Anything, "com-1", int32(MaxPageSize), "abc").Return([]domain.NotificationRecord{{NotificationID: "n1"}}, "next", nil)

	svc := NewService(store, nil)
	_, _, err := svc.List(context.Background(), "com-1", 0, "")
	require.NoError(t, err)

	list, next, err := svc.List(context.Background(), "com-1", 10_000, "abc")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, "next", next)
	store.AssertExpectations(t)
}

func TestGet_ScopedToCommerce(t *testing.T) {
	store := &mockStore{}
	store.On("Get", mock.Anything, "n1").Return(&domain.NotificationRecord{NotificationID: "n1", CommerceID: "com-1"}, nil)

	svc := NewService(store, nil)
	n, err := svc.Get(context.Background(), "com-1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", n.NotificationID)

	_, err = svc.Get(context.Background(), "com-2", "n1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRaw(t *testing.T) {
	rec := &domain.NotificationRecord{NotificationID: "n1", CommerceID: "com-1"}
	store := &mockStore{}
	store.On("Get", mock.Anything, "n1").Return(rec, nil)
	arc := &mockArchive{}
	arc.On("Get", mock.Anything, rec).Return(json.RawMessage(`{"request":{}}`), nil)

	raw, err := NewService(store, arc).Raw(context.Background(), "com-1", "n1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"request":{}}`, string(raw))

	_, err = NewService(store, nil).Raw(context.Background(), "com-1", "n1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
