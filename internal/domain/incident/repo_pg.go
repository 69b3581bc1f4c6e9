package incident

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const incidentCols = `id, incident_number, incident_type, priority, status, description, caller, patient,
	location, reported_at, dispatched_at, responded_at, on_scene_at, transport_started_at,
	arrived_hospital_at, treatment_started_at, completed_at, cancel_reason, vehicle_id,
	destination_facility, vital_signs, treatments, handover, version, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Incident, error) {
	var in Incident
	err := row.Scan(&in.ID, &in.IncidentNumber, &in.Type, &in.Priority, &in.Status, &in.Description,
		&in.Caller, &in.Patient, &in.Location, &in.ReportedAt, &in.DispatchedAt, &in.RespondedAt,
		&in.OnSceneAt, &in.TransportStartedAt, &in.ArrivedHospitalAt, &in.TreatmentStartedAt,
		&in.CompletedAt, &in.CancelReason, &in.VehicleID, &in.DestinationFacility,
		&in.VitalSigns, &in.Treatments, &in.Handover, &in.Version, &in.CreatedAt, &in.UpdatedAt)
	return &in, err
}

func (r *repoPG) Create(ctx context.Context, in *Incident) error {
	in.ID = uuid.New()
	in.Version = 1
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO incidents (id, incident_number, incident_type, priority, status, description,
			caller, patient, location, reported_at, destination_facility, vital_signs, treatments,
			handover, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		in.ID, in.IncidentNumber, in.Type, in.Priority, in.Status, in.Description,
		in.Caller, in.Patient, in.Location, in.ReportedAt, in.DestinationFacility,
		in.VitalSigns, in.Treatments, in.Handover, in.Version,
	).Scan(&in.CreatedAt, &in.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.Conflict("incident number %s already used", in.IncidentNumber)
	}
	return db.Classify(err, "incident", in.ID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Incident, error) {
	in, err := r.scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+incidentCols+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "incident", id)
	}
	return in, nil
}

func (r *repoPG) Update(ctx context.Context, in *Incident) error {
	var (
		version   int
		updatedAt time.Time
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE incidents SET incident_type=$3, priority=$4, status=$5, description=$6, caller=$7,
			patient=$8, location=$9, reported_at=$10, dispatched_at=$11, responded_at=$12,
			on_scene_at=$13, transport_started_at=$14, arrived_hospital_at=$15,
			treatment_started_at=$16, completed_at=$17, cancel_reason=$18, vehicle_id=$19,
			destination_facility=$20, vital_signs=$21, treatments=$22, handover=$23,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		in.ID, in.Version, in.Type, in.Priority, in.Status, in.Description, in.Caller,
		in.Patient, in.Location, in.ReportedAt, in.DispatchedAt, in.RespondedAt,
		in.OnSceneAt, in.TransportStartedAt, in.ArrivedHospitalAt,
		in.TreatmentStartedAt, in.CompletedAt, in.CancelReason, in.VehicleID,
		in.DestinationFacility, in.VitalSigns, in.Treatments, in.Handover,
	).Scan(&version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update incident %s: %w", in.ID, apperr.ErrStale)
	}
	if err != nil {
		return db.Classify(err, "incident", in.ID)
	}
	in.Version, in.UpdatedAt = version, updatedAt
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Priority != "" {
		where += fmt.Sprintf(` AND priority = $%d`, idx)
		args = append(args, f.Priority)
		idx++
	}
	if f.VehicleID != uuid.Nil {
		where += fmt.Sprintf(` AND vehicle_id = $%d`, idx)
		args = append(args, f.VehicleID)
		idx++
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM incidents`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count incidents", err)
	}

	query := `SELECT ` + incidentCols + ` FROM incidents` + where +
		fmt.Sprintf(` ORDER BY reported_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Internal("list incidents", err)
	}
	defer rows.Close()
	var items []*Incident
	for rows.Next() {
		in, err := r.scan(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scan incident", err)
		}
		items = append(items, in)
	}
	return items, total, rows.Err()
}
