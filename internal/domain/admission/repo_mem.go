package admission

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

// MemoryRepo keeps admissions in process, copying records in and out.
type MemoryRepo struct {
	mu         sync.RWMutex
	admissions map[uuid.UUID]*Admission
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{admissions: make(map[uuid.UUID]*Admission)}
}

func (r *MemoryRepo) Create(ctx context.Context, a *Admission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	a.ID = uuid.New()
	a.Version = 1
	a.CreatedAt, a.UpdatedAt = now, now
	r.admissions[a.ID] = a.Clone()

	id := a.ID
	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.admissions, id)
	})
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Admission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.admissions[id]
	if !ok {
		return nil, apperr.NotFound("admission", id)
	}
	return a.Clone(), nil
}

func (r *MemoryRepo) Update(ctx context.Context, a *Admission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.admissions[a.ID]
	if !ok {
		return apperr.NotFound("admission", a.ID)
	}
	if prev.Version != a.Version {
		return fmt.Errorf("update admission %s: %w", a.ID, apperr.ErrStale)
	}
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	r.admissions[a.ID] = a.Clone()

	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.admissions[prev.ID] = prev
	})
	return nil
}

func (r *MemoryRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	r.mu.RLock()
	var items []*Admission
	for _, a := range r.admissions {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		items = append(items, a.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].AdmittedAt.Equal(items[j].AdmittedAt) {
			return items[i].AdmittedAt.After(items[j].AdmittedAt)
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return pagination.Window(items, limit, offset), len(items), nil
}
