package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanPhysician(row pgx.Row) (*Physician, error) {
	var p Physician

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Department,
		&p.ConsultationFeeCents,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPhysicianNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var date time.Time

	err := row.Scan(
		&s.ID,
		&s.PhysicianID,
		&date,
		&s.TimeLabel,
		&s.Status,
		&s.BlockReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = date.Format(DateLayout)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PhysicianID,
		&date,
		&a.TimeLabel,
		&a.DurationMinutes,
		&a.AppointmentType,
		&a.ChiefComplaint,
		&a.Department,
		&a.Status,
		&a.PaymentStatus,
		&a.ConsultationFeeCents,
		&a.CancellationReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = date.Format(DateLayout)
	return &a, nil
}

func scanRefundRequest(row pgx.Row) (*RefundRequest, error) {
	var r RefundRequest

	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.Reason,
		&r.Description,
		&r.AmountCents,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}

	return &r, nil
}

func scanTreatmentPlan(row pgx.Row) (*TreatmentPlan, error) {
	var p TreatmentPlan

	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.PhysicianID,
		&p.Diagnosis,
		&p.Treatment,
		&p.Medications,
		&p.Allergies,
		&p.Conditions,
		&p.FollowUpDate,
		&p.Priority,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreatmentPlanNotFound
		}
		return nil, err
	}

	return &p, nil
}

const slotColumns = "id, physician_id, slot_date, time_label, status, block_reason, created_at, updated_at"
const appointmentColumns = "id, patient_id, physician_id, slot_date, time_label, duration_minutes, appointment_type, chief_complaint, department, status, payment_status, consultation_fee_cents, cancellation_reason, created_at, updated_at"
const refundColumns = "id, appointment_id, reason, description, amount_cents, status, created_at, updated_at"
const treatmentColumns = "id, appointment_id, physician_id, diagnosis, treatment, medications, allergies, conditions, follow_up_date, priority, created_at, updated_at"

// Directory

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPhysicianByID(ctx context.Context, id uuid.UUID) (*Physician, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, department, consultation_fee_cents, created_at, updated_at
		FROM physicians
		WHERE id = $1
	`, id)
	return scanPhysician(row)
}

// Slot inventory

func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for _, s := range slots {
		tag, err := tx.Exec(ctx, `
			INSERT INTO slots (id, physician_id, slot_date, time_label, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (physician_id, slot_date, time_label) DO NOTHING
		`, s.ID, s.PhysicianID, s.Date, s.TimeLabel, s.Status)
		if err != nil {
			return 0, err
		}
		inserted += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *PgRepository) GetSlotsByIDs(ctx context.Context, ids []uuid.UUID) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = ANY($1)
		ORDER BY slot_date, time_label
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func (r *PgRepository) ListSlotsByLabels(ctx context.Context, physicianID uuid.UUID, date string, labels []string) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE physician_id = $1 AND slot_date = $2 AND time_label = ANY($3)
		ORDER BY time_label
	`, physicianID, date, labels)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func (r *PgRepository) ListSlots(ctx context.Context, physicianID uuid.UUID, date string, status *SlotStatus) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE physician_id = $1 AND slot_date = $2 AND ($3::text IS NULL OR status = $3)
		ORDER BY time_label
	`, physicianID, date, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ReserveSlot is the linearizable compare-and-set at the heart of booking:
// only one writer can move a given slot open -> booked.
func (r *PgRepository) ReserveSlot(ctx context.Context, physicianID uuid.UUID, date, timeLabel string) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE slots
		SET status = 'booked',
		    updated_at = now()
		WHERE physician_id = $1
		  AND slot_date = $2
		  AND time_label = $3
		  AND status = 'open'
		RETURNING `+slotColumns+`
	`, physicianID, date, timeLabel)

	slot, err := scanSlot(row)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	// Zero rows: tell a missing slot apart from a taken one.
	var status SlotStatus
	checkErr := r.db.QueryRow(ctx, `
		SELECT status FROM slots
		WHERE physician_id = $1 AND slot_date = $2 AND time_label = $3
	`, physicianID, date, timeLabel).Scan(&status)
	if checkErr != nil {
		if errors.Is(checkErr, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, checkErr
	}
	return nil, fmt.Errorf("%w: currently %s", ErrSlotNotOpen, status)
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, physicianID uuid.UUID, date, timeLabel string) error {
	// booked -> open only; idempotent when already open, and a blocked
	// slot stays blocked.
	_, err := r.db.Exec(ctx, `
		UPDATE slots
		SET status = 'open',
		    updated_at = now()
		WHERE physician_id = $1
		  AND slot_date = $2
		  AND time_label = $3
		  AND status = 'booked'
	`, physicianID, date, timeLabel)
	return err
}

func (r *PgRepository) BlockSlots(ctx context.Context, ids []uuid.UUID, reason string) ([]Slot, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the rows so a concurrent booking cannot slip between the
	// booked-check and the flip.
	rows, err := tx.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = ANY($1)
		ORDER BY slot_date, time_label
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	current, err := collectSlots(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range current {
		if s.Status == SlotBooked {
			return nil, fmt.Errorf("%w: %s %s", ErrSlotHasAppointment, s.Date, s.TimeLabel)
		}
	}

	rows, err = tx.Query(ctx, `
		UPDATE slots
		SET status = 'blocked',
		    block_reason = $2,
		    updated_at = now()
		WHERE id = ANY($1)
		RETURNING `+slotColumns+`
	`, ids, reason)
	if err != nil {
		return nil, err
	}
	blocked, err := collectSlots(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return blocked, nil
}

func (r *PgRepository) UnblockSlots(ctx context.Context, ids []uuid.UUID) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE slots
		SET status = 'open',
		    block_reason = NULL,
		    updated_at = now()
		WHERE id = ANY($1)
		  AND status = 'blocked'
		RETURNING `+slotColumns+`
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSlots(rows)
}

// FindDepartmentAlternatives returns one open slot per other physician in
// the department that date, preferring the requested time label.
func (r *PgRepository) FindDepartmentAlternatives(ctx context.Context, department, date, timeLabel string, exclude uuid.UUID) ([]AlternativePhysician, error) {
	rows, err := r.db.Query(ctx, `
		SELECT alt.id, alt.name, alt.department, alt.time_label FROM (
			SELECT DISTINCT ON (p.id) p.id, p.name, p.department, s.time_label
			FROM physicians p
			JOIN slots s ON s.physician_id = p.id
			WHERE p.department = $1
			  AND s.slot_date = $2
			  AND s.status = 'open'
			  AND p.id <> $4
			ORDER BY p.id, (s.time_label <> $3), s.time_label
		) alt
		ORDER BY (alt.time_label <> $3), alt.time_label, alt.name
	`, department, date, timeLabel, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AlternativePhysician
	for rows.Next() {
		var a AlternativePhysician
		if err := rows.Scan(&a.PhysicianID, &a.Name, &a.Department, &a.TimeLabel); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Appointments

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, physician_id, slot_date, time_label, duration_minutes,
			appointment_type, chief_complaint, department, status, payment_status,
			consultation_fee_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.PhysicianID, a.Date, a.TimeLabel, a.DurationMinutes,
		a.AppointmentType, a.ChiefComplaint, a.Department, a.Status, a.PaymentStatus,
		a.ConsultationFeeCents)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY slot_date DESC, time_label DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateAppointmentStatus is a compare-and-set; ErrAppointmentNotFound
// means the expected status no longer holds (or the row is gone).
func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, cancellationReason *string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = COALESCE($4, cancellation_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, cancellationReason)

	return scanAppointment(row)
}

func (r *PgRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) FindOverdueAppointments(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND (slot_date + time_label::time) < $1
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

// Refunds

func (r *PgRepository) InsertRefundRequest(ctx context.Context, req *RefundRequest) (*RefundRequest, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO refund_requests (id, appointment_id, reason, description, amount_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+refundColumns+`
	`, req.ID, req.AppointmentID, req.Reason, req.Description, req.AmountCents, req.Status)

	created, err := scanRefundRequest(row)
	if err != nil {
		if isUniqueViolation(err) {
			// Partial unique index on active requests per appointment.
			return nil, ErrDuplicateRefund
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetRefundRequestByID(ctx context.Context, id uuid.UUID) (*RefundRequest, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+refundColumns+`
		FROM refund_requests
		WHERE id = $1
	`, id)
	return scanRefundRequest(row)
}

func (r *PgRepository) GetActiveRefundByAppointment(ctx context.Context, appointmentID uuid.UUID) (*RefundRequest, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+refundColumns+`
		FROM refund_requests
		WHERE appointment_id = $1
		  AND status IN ('pending', 'approved')
	`, appointmentID)
	return scanRefundRequest(row)
}

func (r *PgRepository) UpdateRefundStatus(ctx context.Context, id uuid.UUID, from, to RefundStatus) (*RefundRequest, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE refund_requests
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+refundColumns+`
	`, id, to, from)

	return scanRefundRequest(row)
}

// Treatment plans

func (r *PgRepository) InsertTreatmentPlan(ctx context.Context, p *TreatmentPlan) (*TreatmentPlan, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO treatment_plans (id, appointment_id, physician_id, diagnosis, treatment,
			medications, allergies, conditions, follow_up_date, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+treatmentColumns+`
	`, p.ID, p.AppointmentID, p.PhysicianID, p.Diagnosis, p.Treatment,
		p.Medications, p.Allergies, p.Conditions, p.FollowUpDate, p.Priority)

	created, err := scanTreatmentPlan(row)
	if err != nil {
		if isUniqueViolation(err) {
			// Unique index on appointment_id: one plan per appointment.
			return nil, ErrDuplicateTreatmentPlan
		}
		return nil, err
	}
	return created, nil
}

func (r *PgRepository) GetTreatmentPlanByAppointment(ctx context.Context, appointmentID uuid.UUID) (*TreatmentPlan, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+treatmentColumns+`
		FROM treatment_plans
		WHERE appointment_id = $1
	`, appointmentID)
	return scanTreatmentPlan(row)
}

// UpdateTreatmentPlan writes clinical fields only; appointment_id is never
// part of the SET list.
func (r *PgRepository) UpdateTreatmentPlan(ctx context.Context, p *TreatmentPlan) (*TreatmentPlan, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE treatment_plans
		SET diagnosis = $2,
		    treatment = $3,
		    medications = $4,
		    allergies = $5,
		    conditions = $6,
		    follow_up_date = $7,
		    priority = $8,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+treatmentColumns+`
	`, p.ID, p.Diagnosis, p.Treatment, p.Medications, p.Allergies, p.Conditions, p.FollowUpDate, p.Priority)

	return scanTreatmentPlan(row)
}

// Audit trail

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
