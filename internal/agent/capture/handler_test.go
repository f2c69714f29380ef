package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-paynotify/internal/agent/outbox"
	"github.com/go-paynotify/internal/classifier"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newStore(t *testing.T) *outbox.Store {
	t.Helper()
	s, err := outbox.Open(context.Background(), filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadAllowlist_DefaultsUntilSynced(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, err := LoadAllowlist(ctx, s)
	require.NoError(t, err)
	for _, p := range classifier.DefaultPackages() {
		assert.True(t, a.Contains(p), p)
	}
	assert.False(t, a.Contains("com.whatsapp"))

	require.NoError(t, a.Replace(ctx, []string{" PE.Plin.Wallet ", "com.bcp.bank.bcp"}))
	assert.True(t, a.Contains("pe.plin.wallet"))
	assert.False(t, a.Contains("com.bbva.nxt_peru"))

	reloaded, err := LoadAllowlist(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.bcp.bank.bcp", "pe.plin.wallet"}, reloaded.Packages())
}

func TestAllowlist_ReplaceIgnoresEmpty(t *testing.T) {
	a, err := LoadAllowlist(context.Background(), newStore(t))
	require.NoError(t, err)

	require.NoError(t, a.Replace(context.Background(), []string{" ", ""}))
	assert.ElementsMatch(t, classifier.DefaultPackages(), a.Packages())
}

func TestOnNotification(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a, err := LoadAllowlist(ctx, s)
	require.NoError(t, err)
	h := NewHandler(discard(), s, a, 0)

	uid := 10
	captured, err := h.OnNotification(ctx, RawNotification{
		PackageName:     "com.bcp.innovacxion.yape.movil",
		Title:           "Yape",
		Text:            "Hasta $150 dscto. Solo hoy",
		PostedAtEpochMs: 1_700_000_000_000,
		AndroidUserID:   &uid,
	})
	require.NoError(t, err)
	assert.True(t, captured, "capture does not classify")

	captured, err = h.OnNotification(ctx, RawNotification{PackageName: "com.whatsapp", Text: "hola"})
	require.NoError(t, err)
	assert.False(t, captured)

	recs, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Hasta $150 dscto. Solo hoy", recs[0].Body)
	assert.EqualValues(t, 1_700_000_000_000, recs[0].PostedAtEpochMs)
	require.NotNil(t, recs[0].AndroidUserID)
	assert.Equal(t, 10, *recs[0].AndroidUserID)
}

func TestOnNotification_RetentionCap(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a, err := LoadAllowlist(ctx, s)
	require.NoError(t, err)
	h := NewHandler(discard(), s, a, 3)

	for i := 0; i < 5; i++ {
		_, err := h.OnNotification(ctx, RawNotification{PackageName: "com.bcp.bank.bcp", Text: strings.Repeat("x", i+1)})
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) Insert(ctx context.Context, rec outbox.CapturedRecord) (int64, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) Trim(ctx context.Context, keep int) (int64, error) {
	args := m.Called(ctx, keep)
	return args.Get(0).(int64), args.Error(1)
}

func TestOnNotification_TrimFailureStillCaptured(t *testing.T) {
	a, err := LoadAllowlist(context.Background(), newStore(t))
	require.NoError(t, err)
	ms := new(mockStore)
	ms.On("Insert", mock.Anything, mock.Anything).Return(int64(7), nil)
	ms.On("Trim", mock.Anything, 100).Return(int64(0), errors.New("disk busy"))
	h := NewHandler(discard(), ms, a, 100)

	captured, err := h.OnNotification(context.Background(), RawNotification{PackageName: "com.bcp.bank.bcp", Text: "x"})

	require.NoError(t, err)
	assert.True(t, captured)
	ms.AssertExpectations(t)
}

func TestOnNotification_InsertFailure(t *testing.T) {
	a, err := LoadAllowlist(context.Background(), newStore(t))
	require.NoError(t, err)
	ms := new(mockStore)
	ms.On("Insert", mock.Anything, mock.Anything).Return(int64(0), errors.New("disk full"))
	h := NewHandler(discard(), ms, a, 100)

	captured, err := h.OnNotification(context.Background(), RawNotification{PackageName: "com.bcp.bank.bcp", Text: "x"})

	assert.Error(t, err)
	assert.False(t, captured)
	ms.AssertNotCalled(t, "Trim", mock.Anything, mock.Anything)
}

func TestRouter(t *testing.T) {
	s := newStore(t)
	a, err := LoadAllowlist(context.Background(), s)
	require.NoError(t, err)
	router := NewRouter(NewHandler(discard(), s, a, 0))

	rec := httptest.NewRecorder()
	body := `{"package_name":"com.bcp.bank.bcp","title":"BCP","text":"Recibiste S/ 5"}`
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(body)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"captured":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/packages", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "com.bcp.bank.bcp")
}
