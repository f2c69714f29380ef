package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-paynotify/internal/config"
	"github.com/go-paynotify/internal/domain"
	jwtinfra "github.com/go-paynotify/internal/infrastructure/jwt"
	"github.com/go-paynotify/internal/pkg/validate"
	"github.com/go-paynotify/internal/transport/http/middleware"
)

const deviceUUID = "3f0c2a5e-8b7d-4c1e-9f1a-0d2b3c4e5f60"

// --- mocks ---

type mockIngest struct{ mock.Mock }

func (m *mockIngest) Ingest(ctx context.Context, req domain.IngestNotificationRequest, raw json.RawMessage) (*domain.NotificationRecord, error) {
	args := m.Called(ctx, req, raw)
	if rec, _ := args.Get(0).(*domain.NotificationRecord); rec != nil {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockNotificationSvc struct{ mock.Mock }

func (m *mockNotificationSvc) List(ctx context.Context, commerceID string, limit int32, cursor string) ([]domain.NotificationRecord, string, error) {
	args := m.Called(ctx, commerceID, limit, cursor)
	return args.Get(0).([]domain.NotificationRecord), args.String(1), args.Error(2)
}
func (m *mockNotificationSvc) Get(ctx context.Context, commerceID, notificationID string) (*domain.NotificationRecord, error) {
	args := m.Called(ctx, commerceID, notificationID)
	if rec, _ := args.Get(0).(*domain.NotificationRecord); rec != nil {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockNotificationSvc) Raw(ctx context.Context, commerceID, notificationID string) (json.RawMessage, error) {
	args := m.Called(ctx, commerceID, notificationID)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

type mockDeviceSvc struct{ mock.Mock }

func (m *mockDeviceSvc) Register(ctx context.Context, req domain.RegisterDeviceRequest) (*domain.DeviceRegistration, bool, error) {
	args := m.Called(ctx, req)
	if reg, _ := args.Get(0).(*domain.DeviceRegistration); reg != nil {
		return reg, args.Bool(1), args.Error(2)
	}
	return nil, false, args.Error(2)
}
func (m *mockDeviceSvc) Get(ctx context.Context, commerceID, deviceID string) (*domain.Device, error) {
	args := m.Called(ctx, commerceID, deviceID)
	if d, _ := args.Get(0).(*domain.Device); d != nil {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDeviceSvc) ReportHealth(ctx context.Context, uuid string, req domain.DeviceHealthRequest) error {
	return m.Called(ctx, uuid, req).Error(0)
}

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve(ctx context.Context, commerceID, deviceID, packageName string, androidUserID int) (*domain.AppInstance, error) {
	args := m.Called(ctx, commerceID, deviceID, packageName, androidUserID)
	if i, _ := args.Get(0).(*domain.AppInstance); i != nil {
		return i, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockResolver) ListByDevice(ctx context.Context, commerceID, deviceID string) ([]domain.AppInstance, error) {
	args := m.Called(ctx, commerceID, deviceID)
	return args.Get(0).([]domain.AppInstance), args.Error(1)
}
func (m *mockResolver) Label(ctx context.Context, commerceID, appInstanceID string, req domain.LabelAppInstanceRequest) (*domain.AppInstance, error) {
	args := m.Called(ctx, commerceID, appInstanceID, req)
	if i, _ := args.Get(0).(*domain.AppInstance); i != nil {
		return i, args.Error(1)
	}
	return nil, args.Error(1)
}

// --- helpers ---

// newTestJWTProvider generates a fresh RSA key pair and returns a *jwtinfra.Provider.
func newTestJWTProvider(t *testing.T) *jwtinfra.Provider {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privKey)})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	p, err := jwtinfra.NewProvider(config.JWTConfig{PrivateKeyPath: privPath, PublicKeyPath: pubPath, ExpiryDays: 1})
	require.NoError(t, err)
	return p
}

// bearerReq builds a request with a signed Bearer token.
func bearerReq(t *testing.T, p *jwtinfra.Provider, method, target, deviceID, commerceID, role string, body []byte) *http.Request {
	t.Helper()
	token, err := p.Sign(deviceID, commerceID, role)
	require.NoError(t, err)
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

// withChiParam injects a chi URL param into the request context.
func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// serveAuthed wraps the handler with middleware.Auth before serving.
func serveAuthed(p *jwtinfra.Provider, h http.Handler, w http.ResponseWriter, r *http.Request) {
	middleware.Auth(p)(h).ServeHTTP(w, r)
}

func ingestBody(t *testing.T) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"device_id":  deviceUUID,
		"source_app": "yape",
		"body":       "MARIA GARCIA te ha plineado S/ 99.99",
		"amount":     99.99,
		"currency":   "PEN",
		"raw_json":   map[string]any{"package_name": "com.bcp.innovacxion.yape.movil"},
	})
	require.NoError(t, err)
	return b
}

// --- ingestion ---

func TestIngest_Created(t *testing.T) {
	svc := &mockIngest{}
	amount := 99.99
	rec := &domain.NotificationRecord{NotificationID: "n1", Amount: &amount, IsDuplicate: false}
	body := ingestBody(t)
	svc.On("Ingest", mock.Anything, mock.MatchedBy(func(req domain.IngestNotificationRequest) bool {
		return req.DeviceID == deviceUUID && req.SourceApp == domain.SourceYape && *req.Amount == 99.99
	}), json.RawMessage(body)).Return(rec, nil)

	h := NewNotificationHandler(svc, nil)
	rr := httptest.NewRecorder()
	h.Ingest(rr, httptest.NewRequest(http.MethodPost, "/v1/notifications", bytes.NewReader(body)))

	assert.Equal(t, http.StatusCreated, rr.Code)
	var got map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "n1", got["id"])
	assert.Equal(t, false, got["is_duplicate"])
	svc.AssertExpectations(t)
}

func TestIngest_InvalidBody(t *testing.T) {
	h := NewNotificationHandler(&mockIngest{}, nil)
	rr := httptest.NewRecorder()
	h.Ingest(rr, httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader("not-json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIngest_WrongTypeIs422WithField(t *testing.T) {
	cases := map[string]string{
		"amount":          `{"device_id":"` + deviceUUID + `","source_app":"yape","body":"x","amount":"abc"}`,
		"android_user_id": `{"device_id":"` + deviceUUID + `","source_app":"yape","body":"x","android_user_id":"x"}`,
	}
	for field, body := range cases {
		svc := &mockIngest{}
		h := NewNotificationHandler(svc, nil)
		rr := httptest.NewRecorder()
		h.Ingest(rr, httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(body)))

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, field)
		var got ValidationEnvelope
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.Equal(t, "type", got.Fields[field])
		svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestIngest_TooLarge(t *testing.T) {
	h := NewNotificationHandler(&mockIngest{}, nil)
	big := `{"body":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rr := httptest.NewRecorder()
	h.Ingest(rr, httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestIngest_ValidationIs422WithFields(t *testing.T) {
	svc := &mockIngest{}
	svc.On("Ingest", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, validate.FieldErrors{"device_id": "unknown"})

	h := NewNotificationHandler(svc, nil)
	rr := httptest.NewRecorder()
	h.Ingest(rr, httptest.NewRequest(http.MethodPost, "/v1/notifications", bytes.NewReader(ingestBody(t))))

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var got ValidationEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "unknown", got.Fields["device_id"])
}

func TestIngest_ContentionIs503(t *testing.T) {
	svc := &mockIngest{}
	svc.On("Ingest", mock.Anything, mock.Anything, mock.Anything).Return(nil, domain.ErrContention)

	h := NewNotificationHandler(svc, nil)
	rr := httptest.NewRecorder()
	h.Ingest(rr, httptest.NewRequest(http.MethodPost, "/v1/notifications", bytes.NewReader(ingestBody(t))))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestIngest_DeviceTokenForOtherDeviceIsForbidden(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockIngest{}
	h := NewNotificationHandler(svc, nil)

	r := bearerReq(t, p, http.MethodPost, "/v1/notifications", "another-device", "com-1", jwtinfra.RoleDevice, ingestBody(t))
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Ingest), rr, r)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_MatchingDeviceTokenPasses(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockIngest{}
	svc.On("Ingest", mock.Anything, mock.Anything, mock.Anything).Return(&domain.NotificationRecord{NotificationID: "n1"}, nil)
	h := NewNotificationHandler(svc, nil)

	r := bearerReq(t, p, http.MethodPost, "/v1/notifications", deviceUUID, "com-1", jwtinfra.RoleDevice, ingestBody(t))
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Ingest), rr, r)

	assert.Equal(t, http.StatusCreated, rr.Code)
}

// --- operator reads ---

func TestListNotifications(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	svc.On("List", mock.Anything, "com-1", int32(20), "cur").
		Return([]domain.NotificationRecord{{NotificationID: "n1"}}, "next", nil)
	h := NewNotificationHandler(nil, svc)

	r := bearerReq(t, p, http.MethodGet, "/v1/notifications?limit=20&cursor=cur", "", "com-1", jwtinfra.RoleOperator, nil)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.List), rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var got PageEnvelope[domain.NotificationRecord]
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "next", got.NextCursor)
	require.Len(t, got.Data, 1)
	svc.AssertExpectations(t)
}

func TestListNotifications_BadLimit(t *testing.T) {
	p := newTestJWTProvider(t)
	h := NewNotificationHandler(nil, &mockNotificationSvc{})

	r := bearerReq(t, p, http.MethodGet, "/v1/notifications?limit=abc", "", "com-1", jwtinfra.RoleOperator, nil)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.List), rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListNotifications_BadCursor(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	svc.On("List", mock.Anything, "com-1", int32(0), "%%").
		Return([]domain.NotificationRecord(nil), "", domain.ErrBadRequest)
	h := NewNotificationHandler(nil, svc)

	r := bearerReq(t, p, http.MethodGet, "/v1/notifications?cursor=%25%25", "", "com-1", jwtinfra.RoleOperator, nil)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.List), rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetNotification_NotFound(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	svc.On("Get", mock.Anything, "com-1", "n9").Return(nil, domain.ErrNotFound)
	h := NewNotificationHandler(nil, svc)

	r := bearerReq(t, p, http.MethodGet, "/v1/notifications/n9", "", "com-1", jwtinfra.RoleOperator, nil)
	r = withChiParam(r, "id", "n9")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Get), rr, r)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetNotification_MissingClaims(t *testing.T) {
	h := NewNotificationHandler(nil, &mockNotificationSvc{})
	rr := httptest.NewRecorder()
	h.Get(rr, withChiParam(httptest.NewRequest(http.MethodGet, "/v1/notifications/n1", nil), "id", "n1"))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRawNotification(t *testing.T) {
	p := newTestJWTProvider(t)
	svc := &mockNotificationSvc{}
	svc.On("Raw", mock.Anything, "com-1", "n1").Return(json.RawMessage(`{"request":{"body":"x"}}`), nil)
	h := NewNotificationHandler(nil, svc)

	r := withChiParam(bearerReq(t, p, http.MethodGet, "/v1/notifications/n1/raw", "", "com-1", jwtinfra.RoleOperator, nil), "id", "n1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.Raw), rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"request":{"body":"x"}}`, rr.Body.String())
}

// --- devices ---

func TestRegisterDevice_CreatedThenOK(t *testing.T) {
	svc := &mockDeviceSvc{}
	reg := &domain.DeviceRegistration{Device: &domain.Device{DeviceID: "dev-1", UUID: deviceUUID}, Token: "tok"}
	req := domain.RegisterDeviceRequest{UUID: deviceUUID, CommerceID: "com-1"}
	svc.On("Register", mock.Anything, req).Return(reg, true, nil).Once()
	svc.On("Register", mock.Anything, req).Return(reg, false, nil).Once()
	h := NewDeviceHandler(svc, nil)

	body, _ := json.Marshal(req)
	rr := httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest(http.MethodPost, "/v1/devices", bytes.NewReader(body)))
	assert.Equal(t, http.StatusCreated, rr.Code)
	var got domain.DeviceRegistration
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "tok", got.Token)

	rr = httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest(http.MethodPost, "/v1/devices", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRegisterDevice_Conflict(t *testing.T) {
	svc := &mockDeviceSvc{}
	svc.On("Register", mock.Anything, mock.Anything).Return(nil, false, domain.ErrConflict)
	h := NewDeviceHandler(svc, nil)

	rr := httptest.NewRecorder()
	h.Register(rr, httptest.NewRequest(http.MethodPost, "/v1/devices", strings.NewReader(`{"uuid":"`+deviceUUID+`","commerce_id":"com-2"}`)))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestReportHealth(t *testing.T) {
	battery := 80
	svc := &mockDeviceSvc{}
	svc.On("ReportHealth", mock.Anything, deviceUUID, domain.DeviceHealthRequest{BatteryLevel: &battery}).Return(nil)
	h := NewDeviceHandler(svc, nil)

	r := withChiParam(httptest.NewRequest(http.MethodPost, "/v1/devices/"+deviceUUID+"/health", strings.NewReader(`{"battery_level":80}`)), "id", deviceUUID)
	rr := httptest.NewRecorder()
	h.ReportHealth(rr, r)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	svc.AssertExpectations(t)
}

func TestReportHealth_OtherDeviceToken(t *testing.T) {
	p := newTestJWTProvider(t)
	h := NewDeviceHandler(&mockDeviceSvc{}, nil)

	r := bearerReq(t, p, http.MethodPost, "/v1/devices/"+deviceUUID+"/health", "someone-else", "com-1", jwtinfra.RoleDevice, []byte(`{}`))
	r = withChiParam(r, "id", deviceUUID)
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.ReportHealth), rr, r)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestListAppInstances(t *testing.T) {
	p := newTestJWTProvider(t)
	res := &mockResolver{}
	res.On("ListByDevice", mock.Anything, "com-1", "dev-1").Return([]domain.AppInstance{{AppInstanceID: "i1"}, {AppInstanceID: "i2"}}, nil)
	h := NewDeviceHandler(&mockDeviceSvc{}, res)

	r := withChiParam(bearerReq(t, p, http.MethodGet, "/v1/devices/dev-1/app-instances", "", "com-1", jwtinfra.RoleOperator, nil), "id", "dev-1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.ListAppInstances), rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var got []domain.AppInstance
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Len(t, got, 2)
}

func TestLabelAppInstance(t *testing.T) {
	p := newTestJWTProvider(t)
	label := "Caja 1"
	res := &mockResolver{}
	res.On("Label", mock.Anything, "com-1", "i1", domain.LabelAppInstanceRequest{Label: &label}).
		Return(&domain.AppInstance{AppInstanceID: "i1", Label: &label}, nil)
	h := NewDeviceHandler(&mockDeviceSvc{}, res)

	r := bearerReq(t, p, http.MethodPut, "/v1/app-instances/i1/label", "", "com-1", jwtinfra.RoleOperator, []byte(`{"label":"Caja 1"}`))
	r = withChiParam(r, "id", "i1")
	rr := httptest.NewRecorder()
	serveAuthed(p, http.HandlerFunc(h.LabelAppInstance), rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	res.AssertExpectations(t)
}

// --- misc ---

func TestPing(t *testing.T) {
	h := NewHealthHandler()
	rr := httptest.NewRecorder()
	h.Ping(rr, withChiParam(httptest.NewRequest(http.MethodGet, "/v1/health-check/ping", nil), "action", "ping"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.Ping(rr, withChiParam(httptest.NewRequest(http.MethodGet, "/v1/health-check/x", nil), "action", "x"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPackages(t *testing.T) {
	h := NewPackagesHandler([]string{"pe.plin.wallet"})
	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/v1/monitored-packages", nil))
	assert.JSONEq(t, `{"packages":["pe.plin.wallet"]}`, rr.Body.String())
}
