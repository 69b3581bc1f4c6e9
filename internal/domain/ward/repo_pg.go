package ward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/caredispatch/internal/domain/lifecycle"
	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/pkg/apperr"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// =========== Ward Repository ===========

type wardRepoPG struct{ pool *pgxpool.Pool }

func NewWardRepoPG(pool *pgxpool.Pool) WardRepository { return &wardRepoPG{pool: pool} }

const wardCols = `id, name, department, capacity, capacity_refreshed_at, version, created_at, updated_at`

func (r *wardRepoPG) scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	err := row.Scan(&w.ID, &w.Name, &w.Department, &w.Capacity, &w.CapacityRefreshedAt,
		&w.Version, &w.CreatedAt, &w.UpdatedAt)
	return &w, err
}

func (r *wardRepoPG) Create(ctx context.Context, w *Ward) error {
	w.ID = uuid.New()
	w.Version = 1
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO wards (id, name, department, capacity, capacity_refreshed_at, version)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		w.ID, w.Name, w.Department, w.Capacity, w.CapacityRefreshedAt, w.Version,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("ward %q already exists", w.Name)
	}
	return db.Classify(err, "ward", w.ID)
}

func (r *wardRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ward, error) {
	w, err := r.scanWard(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+wardCols+` FROM wards WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "ward", id)
	}
	return w, nil
}

func (r *wardRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Ward, error) {
	w, err := r.scanWard(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+wardCols+` FROM wards WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.Classify(err, "ward", id)
	}
	return w, nil
}

func (r *wardRepoPG) Update(ctx context.Context, w *Ward) error {
	var (
		version   int
		updatedAt time.Time
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE wards SET name=$3, department=$4, capacity=$5, capacity_refreshed_at=$6,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		w.ID, w.Version, w.Name, w.Department, w.Capacity, w.CapacityRefreshedAt,
	).Scan(&version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update ward %s: %w", w.ID, apperr.ErrStale)
	}
	if err != nil {
		return db.Classify(err, "ward", w.ID)
	}
	w.Version, w.UpdatedAt = version, updatedAt
	return nil
}

func (r *wardRepoPG) List(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM wards`).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count wards", err)
	}
	rows, err := conn.Query(ctx, `SELECT `+wardCols+` FROM wards ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("list wards", err)
	}
	defer rows.Close()
	var items []*Ward
	for rows.Next() {
		w, err := r.scanWard(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scan ward", err)
		}
		items = append(items, w)
	}
	return items, total, rows.Err()
}

// =========== Bed Repository ===========

type bedRepoPG struct{ pool *pgxpool.Pool }

func NewBedRepoPG(pool *pgxpool.Pool) BedRepository { return &bedRepoPG{pool: pool} }

const bedCols = `id, ward_id, label, bed_type, status, current_occupant_id, occupancy_history,
	housekeeping, version, created_at, updated_at`

func (r *bedRepoPG) scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.WardID, &b.Label, &b.BedType, &b.Status, &b.CurrentOccupantID,
		&b.OccupancyHistory, &b.Housekeeping, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *bedRepoPG) Create(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	b.Version = 1
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO beds (id, ward_id, label, bed_type, status, current_occupant_id,
			occupancy_history, housekeeping, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		b.ID, b.WardID, b.Label, b.BedType, b.Status, b.CurrentOccupantID,
		b.OccupancyHistory, b.Housekeeping, b.Version,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Conflict("bed %q already exists in ward %s", b.Label, b.WardID)
	}
	return db.Classify(err, "bed", b.ID)
}

func (r *bedRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := r.scanBed(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bedCols+` FROM beds WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "bed", id)
	}
	return b, nil
}

func (r *bedRepoPG) Update(ctx context.Context, b *Bed) error {
	var (
		version   int
		updatedAt time.Time
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE beds SET label=$3, bed_type=$4, status=$5, current_occupant_id=$6,
			occupancy_history=$7, housekeeping=$8, version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		b.ID, b.Version, b.Label, b.BedType, b.Status, b.CurrentOccupantID,
		b.OccupancyHistory, b.Housekeeping,
	).Scan(&version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update bed %s: %w", b.ID, apperr.ErrStale)
	}
	if err != nil {
		return db.Classify(err, "bed", b.ID)
	}
	b.Version, b.UpdatedAt = version, updatedAt
	return nil
}

func (r *bedRepoPG) List(ctx context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.WardID != uuid.Nil {
		where += fmt.Sprintf(` AND ward_id = $%d`, idx)
		args = append(args, f.WardID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM beds`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count beds", err)
	}

	query := `SELECT ` + bedCols + ` FROM beds` + where +
		fmt.Sprintf(` ORDER BY ward_id, label LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Internal("list beds", err)
	}
	defer rows.Close()
	var items []*Bed
	for rows.Next() {
		b, err := r.scanBed(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scan bed", err)
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *bedRepoPG) CountByStatus(ctx context.Context, wardID uuid.UUID) (map[lifecycle.BedStatus]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT status, COUNT(*) FROM beds WHERE ward_id = $1 GROUP BY status`, wardID)
	if err != nil {
		return nil, apperr.Internal("count beds by status", err)
	}
	defer rows.Close()
	counts := make(map[lifecycle.BedStatus]int)
	for rows.Next() {
		var (
			status lifecycle.BedStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Internal("scan bed count", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
