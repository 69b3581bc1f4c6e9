package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/caredispatch/internal/platform/db"
	"github.com/ehr/caredispatch/pkg/apperr"
)

type vehicleRepoPG struct{ pool *pgxpool.Pool }

func NewVehicleRepoPG(pool *pgxpool.Pool) VehicleRepository { return &vehicleRepoPG{pool: pool} }

const vehicleCols = `id, call_sign, vehicle_type, status, crew, equipment, current_incident_id,
	location, out_of_service_reason, last_check, version, created_at, updated_at`

func (r *vehicleRepoPG) scanVehicle(row pgx.Row) (*Vehicle, error) {
	var v Vehicle
	err := row.Scan(&v.ID, &v.CallSign, &v.Type, &v.Status, &v.Crew, &v.Equipment, &v.CurrentIncidentID,
		&v.Location, &v.OutOfServiceReason, &v.LastCheck, &v.Version, &v.CreatedAt, &v.UpdatedAt)
	return &v, err
}

func (r *vehicleRepoPG) Create(ctx context.Context, v *Vehicle) error {
	v.ID = uuid.New()
	v.Version = 1
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO vehicles (id, call_sign, vehicle_type, status, crew, equipment, current_incident_id,
			location, out_of_service_reason, last_check, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		v.ID, v.CallSign, v.Type, v.Status, v.Crew, v.Equipment, v.CurrentIncidentID,
		v.Location, v.OutOfServiceReason, v.LastCheck, v.Version,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Conflict("call sign %q already registered", v.CallSign)
	}
	return db.Classify(err, "vehicle", v.ID)
}

func (r *vehicleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Vehicle, error) {
	v, err := r.scanVehicle(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "vehicle", id)
	}
	return v, nil
}

func (r *vehicleRepoPG) Update(ctx context.Context, v *Vehicle) error {
	var (
		version   int
		updatedAt time.Time
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE vehicles SET call_sign=$3, vehicle_type=$4, status=$5, crew=$6, equipment=$7,
			current_incident_id=$8, location=$9, out_of_service_reason=$10, last_check=$11,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		v.ID, v.Version, v.CallSign, v.Type, v.Status, v.Crew, v.Equipment,
		v.CurrentIncidentID, v.Location, v.OutOfServiceReason, v.LastCheck,
	).Scan(&version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update vehicle %s: %w", v.ID, apperr.ErrStale)
	}
	if err != nil {
		return db.Classify(err, "vehicle", v.ID)
	}
	v.Version, v.UpdatedAt = version, updatedAt
	return nil
}

func (r *vehicleRepoPG) List(ctx context.Context, f VehicleFilter, limit, offset int) ([]*Vehicle, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Unbound {
		where += ` AND current_incident_id IS NULL`
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM vehicles`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count vehicles", err)
	}

	query := `SELECT ` + vehicleCols + ` FROM vehicles` + where +
		fmt.Sprintf(` ORDER BY call_sign LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Internal("list vehicles", err)
	}
	defer rows.Close()
	var items []*Vehicle
	for rows.Next() {
		v, err := r.scanVehicle(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scan vehicle", err)
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}
