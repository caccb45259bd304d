package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dp62042/duty-platform/internal/apperr"
	"github.com/dp62042/duty-platform/internal/store"
)

// ErrCodeCollision signals that an insert lost the race on the session-code
// unique index. The service retries with a fresh code.
var ErrCodeCollision = errors.New("session code already in use")

const sessionColumns = `id, class_id, faculty_id, start_time, end_time, status, session_code, qr_code, qr_code_expiry, location`

// Repository persists sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new active session. Unique-index violations are translated:
// a taken code becomes ErrCodeCollision, a second active session for the same
// (class, faculty) becomes a ConflictError.
func (r *Repository) Insert(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, class_id, faculty_id, start_time, status, session_code, qr_code, qr_code_expiry, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.ClassID, s.FacultyID, s.StartTime, s.Status, s.SessionCode, s.QRCode, s.QRCodeExpiry, s.Location)
	if err != nil {
		if store.IsUniqueViolation(err, "sessions_session_code_key") {
			return ErrCodeCollision
		}
		if store.IsUniqueViolation(err, "sessions_one_active_per_class") {
			return apperr.Conflict("An active session already exists for this class")
		}
		return err
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var endTime sql.NullTime
	err := row.Scan(&s.ID, &s.ClassID, &s.FacultyID, &s.StartTime, &endTime, &s.Status,
		&s.SessionCode, &s.QRCode, &s.QRCodeExpiry, &s.Location)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		s.EndTime = &t
	}
	return &s, nil
}

// FindActiveByCode returns the active session with the given code, or nil. An
// ended session's code never matches.
func (r *Repository) FindActiveByCode(ctx context.Context, code string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE session_code = $1 AND status = 'active'
	`, code)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// FindByCode returns the session with the given code regardless of status, or nil.
func (r *Repository) FindByCode(ctx context.Context, code string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE session_code = $1
	`, code)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetByID returns a session by id, or nil.
func (r *Repository) GetByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// MarkEnded flips an active session to ended and stamps the end time.
func (r *Repository) MarkEnded(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'ended', end_time = $2 WHERE id = $1 AND status = 'active'
	`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Conflict("Session already ended")
	}
	return nil
}

// UpdateQR replaces the payload and expiry, leaving the code untouched.
func (r *Repository) UpdateQR(ctx context.Context, id, payload string, expiry time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET qr_code = $2, qr_code_expiry = $3 WHERE id = $1
	`, id, payload, expiry)
	return err
}

// AppendConnectedStudent records that a student joined the live session. The
// list is append-only audit data; repeats are ignored.
func (r *Repository) AppendConnectedStudent(ctx context.Context, sessionID, studentID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_connected_students (session_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, sessionID, studentID)
	return err
}

// ConnectedStudents returns the ids of students who joined the session live.
func (r *Repository) ConnectedStudents(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT student_id FROM session_connected_students
		WHERE session_id = $1 ORDER BY joined_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByFaculty returns a faculty member's sessions, most recent first.
func (r *Repository) ListByFaculty(ctx context.Context, facultyID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE faculty_id = $1 ORDER BY start_time DESC
	`, facultyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
