package incident

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

// MemoryRepo keeps incidents in process, copying records in and out.
type MemoryRepo struct {
	mu        sync.RWMutex
	incidents map[uuid.UUID]*Incident
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{incidents: make(map[uuid.UUID]*Incident)}
}

func (r *MemoryRepo) Create(ctx context.Context, in *Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.incidents {
		if existing.IncidentNumber == in.IncidentNumber {
			return apperr.Conflict("incident number %s already used", in.IncidentNumber)
		}
	}
	now := time.Now().UTC()
	in.ID = uuid.New()
	in.Version = 1
	in.CreatedAt, in.UpdatedAt = now, now
	r.incidents[in.ID] = in.Clone()

	id := in.ID
	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.incidents, id)
	})
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.incidents[id]
	if !ok {
		return nil, apperr.NotFound("incident", id)
	}
	return in.Clone(), nil
}

func (r *MemoryRepo) Update(ctx context.Context, in *Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.incidents[in.ID]
	if !ok {
		return apperr.NotFound("incident", in.ID)
	}
	if prev.Version != in.Version {
		return fmt.Errorf("update incident %s: %w", in.ID, apperr.ErrStale)
	}
	in.Version++
	in.UpdatedAt = time.Now().UTC()
	r.incidents[in.ID] = in.Clone()

	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.incidents[prev.ID] = prev
	})
	return nil
}

func (r *MemoryRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Incident, int, error) {
	r.mu.RLock()
	var items []*Incident
	for _, in := range r.incidents {
		if f.Status != "" && in.Status != f.Status {
			continue
		}
		if f.Priority != "" && in.Priority != f.Priority {
			continue
		}
		if f.VehicleID != uuid.Nil && (in.VehicleID == nil || *in.VehicleID != f.VehicleID) {
			continue
		}
		items = append(items, in.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].IncidentNumber < items[j].IncidentNumber
	})
	return pagination.Window(items, limit, offset), len(items), nil
}
