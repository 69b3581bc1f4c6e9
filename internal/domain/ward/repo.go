package ward

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
)

// WardRepository persists wards. GetForUpdate locks the ward row for the
// rest of the transaction so concurrent capacity refreshes queue up.
type WardRepository interface {
	Create(ctx context.Context, w *Ward) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ward, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Ward, error)
	Update(ctx context.Context, w *Ward) error
	List(ctx context.Context, limit, offset int) ([]*Ward, int, error)
}

// BedFilter narrows List. Zero values match everything.
type BedFilter struct {
	WardID uuid.UUID
	Status lifecycle.BedStatus
}

// BedRepository persists beds. Update is a compare-and-set on Version and
// fails with apperr.ErrStale when another writer got there first.
type BedRepository interface {
	Create(ctx context.Context, b *Bed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	Update(ctx context.Context, b *Bed) error
	List(ctx context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error)
	CountByStatus(ctx context.Context, wardID uuid.UUID) (map[lifecycle.BedStatus]int, error)
}
