package fleet

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
)

// VehicleFilter narrows List. Zero values match everything.
type VehicleFilter struct {
	Status  lifecycle.VehicleStatus
	Unbound bool
}

// VehicleRepository persists vehicles. Update is a compare-and-set on
// Version: it fails with apperr.ErrStale when the stored version differs,
// and on success bumps v.Version and v.UpdatedAt.
type VehicleRepository interface {
	Create(ctx context.Context, v *Vehicle) error
	GetByID(ctx context.Context, id uuid.UUID) (*Vehicle, error)
	Update(ctx context.Context, v *Vehicle) error
	List(ctx context.Context, f VehicleFilter, limit, offset int) ([]*Vehicle, int, error)
}
