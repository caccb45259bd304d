package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dp62042/duty-platform/internal/apperr"
	"github.com/dp62042/duty-platform/internal/store"
)

const recordColumns = `id, session_id, student_id, registration_number, student_name, marked_at, status, joined_via, verified`

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new record. A unique violation on (session, student) is
// translated to the same ConflictError the fast-path check produces, so a
// lost race looks identical to the client.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, registration_number, student_name, marked_at, status, joined_via, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.SessionID, rec.StudentID, rec.RegistrationNumber, rec.StudentName, rec.MarkedAt, rec.Status, rec.JoinedVia, rec.Verified)
	if err != nil {
		if store.IsUniqueViolation(err, "attendance_records_session_student_key") {
			return Record{}, apperr.Conflict("Attendance already marked for this session")
		}
		return Record{}, err
	}
	return rec, nil
}

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.RegistrationNumber,
		&rec.StudentName, &rec.MarkedAt, &rec.Status, &rec.JoinedVia, &rec.Verified)
	return rec, err
}

// FindBySessionStudent returns the record for (session, student), or nil.
func (r *Repository) FindBySessionStudent(ctx context.Context, sessionID, studentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// BySession returns all records for a session in mark order.
func (r *Repository) BySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records WHERE session_id = $1 ORDER BY marked_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// ByStudent returns a student's history, most recent first, optionally
// bounded to a date range.
func (r *Repository) ByStudent(ctx context.Context, studentID string, from, to *time.Time) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE student_id = $1`
	args := []any{studentID}
	if from != nil && to != nil {
		query += ` AND marked_at >= $2 AND marked_at <= $3`
		args = append(args, *from, *to)
	}
	query += ` ORDER BY marked_at DESC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReportRow is one attendance record joined with its session start, used to
// build the per-student class report.
type ReportRow struct {
	StudentID          string
	StudentName        string
	RegistrationNumber string
	SessionStart       time.Time
	Status             Status
}

// ClassReportRows returns every record for a class's sessions, optionally
// bounded by session start date, ordered by student then session start.
func (r *Repository) ClassReportRows(ctx context.Context, classID string, from, to *time.Time) ([]ReportRow, error) {
	query := `
		SELECT a.student_id, a.student_name, a.registration_number, s.start_time, a.status
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		WHERE s.class_id = $1`
	args := []any{classID}
	if from != nil && to != nil {
		query += ` AND s.start_time >= $2 AND s.start_time <= $3`
		args = append(args, *from, *to)
	}
	query += ` ORDER BY a.registration_number, s.start_time`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReportRow
	for rows.Next() {
		var row ReportRow
		if err := rows.Scan(&row.StudentID, &row.StudentName, &row.RegistrationNumber, &row.SessionStart, &row.Status); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
