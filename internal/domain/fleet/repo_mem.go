package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/pkg/apperr"
	"github.com/ehr/caredispatch/pkg/pagination"
)

// MemoryVehicleRepo keeps vehicles in process. Records are copied in and
// out so callers never share state with the store.
type MemoryVehicleRepo struct {
	mu       sync.RWMutex
	vehicles map[uuid.UUID]*Vehicle
}

func NewMemoryVehicleRepo() *MemoryVehicleRepo {
	return &MemoryVehicleRepo{vehicles: make(map[uuid.UUID]*Vehicle)}
}

func (r *MemoryVehicleRepo) Create(ctx context.Context, v *Vehicle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.vehicles {
		if existing.CallSign == v.CallSign {
			return apperr.Conflict("call sign %q already registered", v.CallSign)
		}
	}
	now := time.Now().UTC()
	v.ID = uuid.New()
	v.Version = 1
	v.CreatedAt, v.UpdatedAt = now, now
	r.vehicles[v.ID] = v.Clone()

	id := v.ID
	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.vehicles, id)
	})
	return nil
}

func (r *MemoryVehicleRepo) GetByID(_ context.Context, id uuid.UUID) (*Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vehicles[id]
	if !ok {
		return nil, apperr.NotFound("vehicle", id)
	}
	return v.Clone(), nil
}

func (r *MemoryVehicleRepo) Update(ctx context.Context, v *Vehicle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.vehicles[v.ID]
	if !ok {
		return apperr.NotFound("vehicle", v.ID)
	}
	if prev.Version != v.Version {
		return fmt.Errorf("update vehicle %s: %w", v.ID, apperr.ErrStale)
	}
	v.Version++
	v.UpdatedAt = time.Now().UTC()
	r.vehicles[v.ID] = v.Clone()

	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.vehicles[prev.ID] = prev
	})
	return nil
}

func (r *MemoryVehicleRepo) List(_ context.Context, f VehicleFilter, limit, offset int) ([]*Vehicle, int, error) {
	r.mu.RLock()
	var items []*Vehicle
	for _, v := range r.vehicles {
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		if f.Unbound && v.CurrentIncidentID != nil {
			continue
		}
		items = append(items, v.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].CallSign < items[j].CallSign })
	return pagination.Window(items, limit, offset), len(items), nil
}
