package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/pkg/apperr"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const admissionCols = `id, patient, diagnosis, incident_id, assigned_bed_id, status, admitted_at,
	discharged_at, discharge_reason, version, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.Patient, &a.Diagnosis, &a.IncidentID, &a.AssignedBedID, &a.Status,
		&a.AdmittedAt, &a.DischargedAt, &a.DischargeReason, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	a.Version = 1
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO admissions (id, patient, diagnosis, incident_id, assigned_bed_id, status,
			admitted_at, discharged_at, discharge_reason, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.Patient, a.Diagnosis, a.IncidentID, a.AssignedBedID, a.Status,
		a.AdmittedAt, a.DischargedAt, a.DischargeReason, a.Version,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return db.Classify(err, "admission", a.ID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := r.scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+admissionCols+` FROM admissions WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "admission", id)
	}
	return a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Admission) error {
	var (
		version   int
		updatedAt time.Time
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE admissions SET patient=$3, diagnosis=$4, incident_id=$5, assigned_bed_id=$6,
			status=$7, admitted_at=$8, discharged_at=$9, discharge_reason=$10,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		a.ID, a.Version, a.Patient, a.Diagnosis, a.IncidentID, a.AssignedBedID,
		a.Status, a.AdmittedAt, a.DischargedAt, a.DischargeReason,
	).Scan(&version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update admission %s: %w", a.ID, apperr.ErrStale)
	}
	if err != nil {
		return db.Classify(err, "admission", a.ID)
	}
	a.Version, a.UpdatedAt = version, updatedAt
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Admission, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM admissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count admissions", err)
	}

	query := `SELECT ` + admissionCols + ` FROM admissions` + where +
		fmt.Sprintf(` ORDER BY admitted_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Internal("list admissions", err)
	}
	defer rows.Close()
	var items []*Admission
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scan admission", err)
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
