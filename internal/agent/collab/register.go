package collab

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/go-paynotify/internal/domain"
)

// Register enrolls this device with the backend. An empty deviceUUID gets a
// fresh random one; registering the same UUID twice returns the same device.
func Register(ctx context.Context, baseURL string, hc *http.Client, commerceID, deviceUUID string) (*domain.DeviceRegistration, error) {
	deviceUUID = strings.TrimSpace(deviceUUID)
	if deviceUUID == "" {
		deviceUUID = uuid.NewString()
	} else if _, err := uuid.Parse(deviceUUID); err != nil {
		return nil, err
	}

	var out domain.DeviceRegistration
	req := domain.RegisterDeviceRequest{UUID: deviceUUID, CommerceID: commerceID}
	if err := newBackend(baseURL, "", hc).do(ctx, http.MethodPost, "/v1/devices", req, &out); err != nil {
		return nil, err
	}
	if out.Device == nil {
		return nil, errors.New("register: empty response")
	}
	return &out, nil
}
