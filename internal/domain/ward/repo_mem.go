package ward

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/pkg/apperr"
	"github.com/ehr/caredispatch/pkg/pagination"
)

// MemoryWardRepo keeps wards in process, copying records in and out.
type MemoryWardRepo struct {
	mu    sync.RWMutex
	wards map[uuid.UUID]*Ward
}

func NewMemoryWardRepo() *MemoryWardRepo {
	return &MemoryWardRepo{wards: make(map[uuid.UUID]*Ward)}
}

func (r *MemoryWardRepo) Create(ctx context.Context, w *Ward) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.wards {
		if existing.Name == w.Name {
			return apperr.Conflict("ward %q already exists", w.Name)
		}
	}
	now := time.Now().UTC()
	w.ID = uuid.New()
	w.Version = 1
	w.CreatedAt, w.UpdatedAt = now, now
	r.wards[w.ID] = w.Clone()

	id := w.ID
	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.wards, id)
	})
	return nil
}

func (r *MemoryWardRepo) GetByID(_ context.Context, id uuid.UUID) (*Ward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wards[id]
	if !ok {
		return nil, apperr.NotFound("ward", id)
	}
	return w.Clone(), nil
}

// GetForUpdate is GetByID: the local transactor already serializes writers.
func (r *MemoryWardRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryWardRepo) Update(ctx context.Context, w *Ward) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.wards[w.ID]
	if !ok {
		return apperr.NotFound("ward", w.ID)
	}
	if prev.Version != w.Version {
		return fmt.Errorf("update ward %s: %w", w.ID, apperr.ErrStale)
	}
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	r.wards[w.ID] = w.Clone()

	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.wards[prev.ID] = prev
	})
	return nil
}

func (r *MemoryWardRepo) List(_ context.Context, limit, offset int) ([]*Ward, int, error) {
	r.mu.RLock()
	items := make([]*Ward, 0, len(r.wards))
	for _, w := range r.wards {
		items = append(items, w.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return pagination.Window(items, limit, offset), len(items), nil
}

// MemoryBedRepo keeps beds in process, copying records in and out.
type MemoryBedRepo struct {
	mu   sync.RWMutex
	beds map[uuid.UUID]*Bed
}

func NewMemoryBedRepo() *MemoryBedRepo {
	return &MemoryBedRepo{beds: make(map[uuid.UUID]*Bed)}
}

func (r *MemoryBedRepo) Create(ctx context.Context, b *Bed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.beds {
		if existing.WardID == b.WardID && existing.Label == b.Label {
			return apperr.Conflict("bed %q already exists in ward %s", b.Label, b.WardID)
		}
	}
	now := time.Now().UTC()
	b.ID = uuid.New()
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = now, now
	r.beds[b.ID] = b.Clone()

	id := b.ID
	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.beds, id)
	})
	return nil
}

func (r *MemoryBedRepo) GetByID(_ context.Context, id uuid.UUID) (*Bed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed", id)
	}
	return b.Clone(), nil
}

func (r *MemoryBedRepo) Update(ctx context.Context, b *Bed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.beds[b.ID]
	if !ok {
		return apperr.NotFound("bed", b.ID)
	}
	if prev.Version != b.Version {
		return fmt.Errorf("update bed %s: %w", b.ID, apperr.ErrStale)
	}
	b.Version++
	b.UpdatedAt = time.Now().UTC()
	r.beds[b.ID] = b.Clone()

	db.Journal(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.beds[prev.ID] = prev
	})
	return nil
}

func (r *MemoryBedRepo) List(_ context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	r.mu.RLock()
	var items []*Bed
	for _, b := range r.beds {
		if f.WardID != uuid.Nil && b.WardID != f.WardID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		items = append(items, b.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].WardID != items[j].WardID {
			return items[i].WardID.String() < items[j].WardID.String()
		}
		return items[i].Label < items[j].Label
	})
	return pagination.Window(items, limit, offset), len(items), nil
}

func (r *MemoryBedRepo) CountByStatus(_ context.Context, wardID uuid.UUID) (map[lifecycle.BedStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[lifecycle.BedStatus]int)
	for _, b := range r.beds {
		if b.WardID == wardID {
			counts[b.Status]++
		}
	}
	return counts, nil
}
