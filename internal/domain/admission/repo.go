package admission

import (
	"context"

	"github.com/google/uuid"
)

type Filter struct {
	Status Status
}

// Repository persists admissions. Update is a compare-and-set on Version.
type Repository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	Update(ctx context.Context, a *Admission) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error)
}
