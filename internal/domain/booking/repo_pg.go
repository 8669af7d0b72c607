package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

// appointmentSlotKey is the UNIQUE (doctor_name, scheduled_date, scheduled_time)
// constraint created by migration 001.
const appointmentSlotKey = "appointment_doctor_slot_key"

const microsPerMinute = 60_000_000

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * microsPerMinute, Valid: true}
}

func fromPGTime(t pgtype.Time) TimeOfDay { return TimeOfDay(t.Microseconds / microsPerMinute) }

func pgDate(d Date) pgtype.Date { return pgtype.Date{Time: d.Time(), Valid: true} }

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const availCols = `id, doctor_name, weekday, start_time, end_time, created_at`

func (r *availabilityRepoPG) scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var (
		s          AvailabilitySlot
		weekday    string
		start, end pgtype.Time
	)
	if err := row.Scan(&s.ID, &s.DoctorName, &weekday, &start, &end, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	w, err := ParseWeekday(weekday)
	if err != nil {
		return nil, fmt.Errorf("availability %d: %w", s.ID, err)
	}
	s.Weekday, s.StartTime, s.EndTime = w, fromPGTime(start), fromPGTime(end)
	return &s, nil
}

func (r *availabilityRepoPG) GetAvailability(ctx context.Context, doctorName string, weekday Weekday) ([]TimeRange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT start_time, end_time FROM doctor_availability
		WHERE doctor_name = $1 AND weekday = $2
		ORDER BY start_time`, doctorName, weekday.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeRange
	for rows.Next() {
		var start, end pgtype.Time
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		out = append(out, TimeRange{Start: fromPGTime(start), End: fromPGTime(end)})
	}
	return out, rows.Err()
}

func (r *availabilityRepoPG) Create(ctx context.Context, s *AvailabilitySlot) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_availability (doctor_name, weekday, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		s.DoctorName, s.Weekday.String(), pgTime(s.StartTime), pgTime(s.EndTime),
	).Scan(&s.ID, &s.CreatedAt)
}

func (r *availabilityRepoPG) GetByID(ctx context.Context, id int64) (*AvailabilitySlot, error) {
	return r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+availCols+` FROM doctor_availability WHERE id = $1`, id))
}

func (r *availabilityRepoPG) Update(ctx context.Context, s *AvailabilitySlot) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_availability SET doctor_name=$2, weekday=$3, start_time=$4, end_time=$5
		WHERE id = $1`,
		s.ID, s.DoctorName, s.Weekday.String(), pgTime(s.StartTime), pgTime(s.EndTime))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *availabilityRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_availability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *availabilityRepoPG) ListByDoctor(ctx context.Context, doctorName string) ([]*AvailabilitySlot, error) {
	query := `SELECT ` + availCols + ` FROM doctor_availability`
	var args []interface{}
	if doctorName != "" {
		query += ` WHERE doctor_name = $1`
		args = append(args, doctorName)
	}
	query += ` ORDER BY doctor_name, array_position(ARRAY['Monday','Tuesday','Wednesday','Thursday','Friday','Saturday','Sunday'], weekday), start_time`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AvailabilitySlot
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *availabilityRepoPG) ListDoctors(ctx context.Context, weekday Weekday) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT doctor_name FROM doctor_availability
		WHERE weekday = $1 ORDER BY doctor_name`, weekday.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_name, specialty, doctor_name, scheduled_date, scheduled_time,
	owner_id, created_at, updated_at`

var apptColumns = []interface{}{
	"id", "patient_name", "specialty", "doctor_name", "scheduled_date", "scheduled_time",
	"owner_id", "created_at", "updated_at",
}

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a         Appointment
		specialty string
		date      pgtype.Date
		tod       pgtype.Time
	)
	err := row.Scan(&a.ID, &a.PatientName, &specialty, &a.DoctorName, &date, &tod,
		&a.OwnerID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Specialty = Specialty(specialty)
	a.Date = DateOf(date.Time)
	a.Time = fromPGTime(tod)
	return &a, nil
}

func (r *appointmentRepoPG) collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) GetConflictingAppointment(ctx context.Context, doctorName string, date Date, t TimeOfDay, excludingID *int64) (*Appointment, error) {
	query := `SELECT ` + apptCols + ` FROM appointment
		WHERE doctor_name = $1 AND scheduled_date = $2 AND scheduled_time = $3`
	args := []interface{}{doctorName, pgDate(date), pgTime(t)}
	if excludingID != nil {
		query += ` AND id <> $4`
		args = append(args, *excludingID)
	}
	query += ` LIMIT 1`

	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func slotTaken(err error) error {
	if db.IsUniqueViolation(err, appointmentSlotKey) {
		return fmt.Errorf("%w: %v", ErrSlotAlreadyBooked, err)
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (patient_name, specialty, doctor_name, scheduled_date, scheduled_time, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		a.PatientName, string(a.Specialty), a.DoctorName, pgDate(a.Date), pgTime(a.Time), a.OwnerID,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return slotTaken(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET patient_name=$2, specialty=$3, doctor_name=$4,
			scheduled_date=$5, scheduled_time=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING owner_id, created_at, updated_at`,
		a.ID, a.PatientName, string(a.Specialty), a.DoctorName, pgDate(a.Date), pgTime(a.Time),
	).Scan(&a.OwnerID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return slotTaken(err)
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) ListByOwner(ctx context.Context, ownerID string) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE owner_id = $1 ORDER BY scheduled_date, scheduled_time`, ownerID)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) ListByDate(ctx context.Context, date Date) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE scheduled_date = $1 ORDER BY scheduled_time, doctor_name`, pgDate(date))
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchDataset builds the dashboard filter: a case-insensitive substring
// match on patient, specialty or doctor.
func searchDataset(term string) *goqu.SelectDataset {
	ds := goqu.Dialect("postgres").From("appointment").Prepared(true)
	if term = strings.TrimSpace(term); term != "" {
		pattern := "%" + likeEscaper.Replace(term) + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("patient_name").ILike(pattern),
			goqu.C("specialty").ILike(pattern),
			goqu.C("doctor_name").ILike(pattern),
		))
	}
	return ds
}

func (r *appointmentRepoPG) Search(ctx context.Context, term string, limit, offset int) ([]*Appointment, int, error) {
	ds := searchDataset(term)

	countSQL, countArgs, err := ds.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args, err := ds.Select(apptColumns...).
		Order(goqu.C("scheduled_date").Asc(), goqu.C("scheduled_time").Asc(), goqu.C("id").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build search query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

// =========== Transactions ===========

const serializableAttempts = 3

type txRunnerPG struct{ pool *pgxpool.Pool }

// NewTxRunnerPG runs units of work in SERIALIZABLE transactions, retrying
// serialization failures a few times before giving up.
func NewTxRunnerPG(pool *pgxpool.Pool) TxRunner { return &txRunnerPG{pool: pool} }

func (r *txRunnerPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithRetry(ctx, r.pool, db.Serializable, serializableAttempts, fn)
}
