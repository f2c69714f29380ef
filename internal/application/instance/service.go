// Package instance resolves the logical app account a notification came from.
package instance

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-paynotify/internal/domain"
	"github.com/go-paynotify/internal/pkg/id"
	"github.com/go-paynotify/internal/pkg/validate"
)

type Resolver interface {
	// Resolve finds or creates the instance for (deviceID, packageName,
	// androidUserID). Repeated and concurrent calls with the same key return
	// the same instance.
	Resolve(ctx context.Context, commerceID, deviceID, packageName string, androidUserID int) (*domain.AppInstance, error)
	ListByDevice(ctx context.Context, commerceID, deviceID string) ([]domain.AppInstance, error)
	Label(ctx context.Context, commerceID, appInstanceID string, req domain.LabelAppInstanceRequest) (*domain.AppInstance, error)
}

type instanceStore interface {
	Upsert(ctx context.Context, inst *domain.AppInstance) (*domain.AppInstance, error)
	Get(ctx context.Context, appInstanceID string) (*domain.AppInstance, error)
	ListByDevice(ctx context.Context, deviceID string) ([]domain.AppInstance, error)
	UpdateLabel(ctx context.Context, appInstanceID string, label *string) (*domain.AppInstance, error)
}

type resolver struct {
	repo instanceStore
}

func NewResolver(repo instanceStore) Resolver {
	return &resolver{repo: repo}
}

func (r *resolver) Resolve(ctx context.Context, commerceID, deviceID, packageName string, androidUserID int) (*domain.AppInstance, error) {
	packageName = strings.ToLower(strings.TrimSpace(packageName))
	if packageName == "" {
		return nil, validate.Field("package_name", "required")
	}
	if androidUserID < 0 {
		return nil, validate.Field("android_user_id", "gte")
	}
	inst, err := r.repo.Upsert(ctx, &domain.AppInstance{
		AppInstanceID: id.New(),
		CommerceID:    commerceID,
		DeviceID:      deviceID,
		PackageName:   packageName,
		AndroidUserID: androidUserID,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve app instance: %w", err)
	}
	return inst, nil
}

func (r *resolver) ListByDevice(ctx context.Context, commerceID, deviceID string) ([]domain.AppInstance, error) {
	all, err := r.repo.ListByDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, inst := range all {
		if inst.CommerceID == commerceID {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Label sets or clears the operator label. Instances of another commerce
// are reported as not found.
func (r *resolver) Label(ctx context.Context, commerceID, appInstanceID string, req domain.LabelAppInstanceRequest) (*domain.AppInstance, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	inst, err := r.repo.Get(ctx, appInstanceID)
	if err != nil {
		return nil, err
	}
	if inst.CommerceID != commerceID {
		return nil, fmt.Errorf("app instance not found: %w", domain.ErrNotFound)
	}
	label := req.Label
	if label != nil {
		trimmed := strings.TrimSpace(*label)
		if trimmed == "" {
			label = nil
		} else {
			label = &trimmed
		}
	}
	return r.repo.UpdateLabel(ctx, appInstanceID, label)
}
