package incident

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
)

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status    lifecycle.IncidentStatus
	Priority  Priority
	VehicleID uuid.UUID
}

// Repository persists incidents. Update is a compare-and-set on Version and
// fails with apperr.ErrStale when another writer got there first.
type Repository interface {
	Create(ctx context.Context, in *Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*Incident, error)
	Update(ctx context.Context, in *Incident) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error)
}
