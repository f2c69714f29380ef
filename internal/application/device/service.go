package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-paynotify/internal/domain"
	"github.com/go-paynotify/internal/pkg/id"
	"github.com/go-paynotify/internal/pkg/validate"
)

const roleDevice = "device"

type Service interface {
	// Register is idempotent on the device UUID. created is false when the
	// device was already registered to the same commerce.
	Register(ctx context.Context, req domain.RegisterDeviceRequest) (reg *domain.DeviceRegistration, created bool, err error)
	Get(ctx context.Context, commerceID, deviceID string) (*domain.Device, error)
	ReportHealth(ctx context.Context, uuid string, req domain.DeviceHealthRequest) error
}

type deviceStore interface {
	Create(ctx context.Context, d *domain.Device) error
	GetByUUID(ctx context.Context, uuid string) (*domain.Device, error)
	Get(ctx context.Context, deviceID string) (*domain.Device, error)
	Update(ctx context.Context, uuid string, updates map[string]any) error
}

type tokenSigner interface {
	Sign(deviceID, commerceID, role string) (string, error)
}

type service struct {
	repo   deviceStore
	signer tokenSigner
	now    func() time.Time
}

// NewService builds the device service. signer may be nil.
func NewService(repo deviceStore, signer tokenSigner) Service {
	return &service{repo: repo, signer: signer, now: time.Now}
}

func (s *service) Register(ctx context.Context, req domain.RegisterDeviceRequest) (*domain.DeviceRegistration, bool, error) {
	if err := validate.Struct(req); err != nil {
		return nil, false, err
	}

	d, created, err := s.findOrCreate(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if d.CommerceID != req.CommerceID {
		return nil, false, fmt.Errorf("device registered to another commerce: %w", domain.ErrConflict)
	}

	reg := &domain.DeviceRegistration{Device: d}
	if s.signer != nil {
		tok, err := s.signer.Sign(d.UUID, d.CommerceID, roleDevice)
		if err != nil {
			return nil, false, fmt.Errorf("sign device token: %w", err)
		}
		reg.Token = tok
	}
	return reg, created, nil
}

func (s *service) findOrCreate(ctx context.Context, req domain.RegisterDeviceRequest) (*domain.Device, bool, error) {
	existing, err := s.repo.GetByUUID(ctx, req.UUID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	now := s.now().UTC()
	d := &domain.Device{
		DeviceID:   id.New(),
		UUID:       req.UUID,
		CommerceID: req.CommerceID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.repo.Create(ctx, d)
	if errors.Is(err, domain.ErrConflict) {
		// Lost a registration race for the same UUID.
		existing, err := s.repo.GetByUUID(ctx, req.UUID)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (s *service) Get(ctx context.Context, commerceID, deviceID string) (*domain.Device, error) {
	d, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d.CommerceID != commerceID {
		return nil, fmt.Errorf("device not found: %w", domain.ErrNotFound)
	}
	return d, nil
}

func (s *service) ReportHealth(ctx context.Context, uuid string, req domain.DeviceHealthRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	updates := map[string]any{"last_seen_at": s.now().UTC()}
	if req.BatteryLevel != nil {
		updates["battery_level"] = *req.BatteryLevel
	}
	if req.Permissions != nil {
		updates["permissions"] = req.Permissions
	}
	return s.repo.Update(ctx, uuid, updates)
}
