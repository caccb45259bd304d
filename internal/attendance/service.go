package attendance

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dp62042/duty-platform/internal/apperr"
	"github.com/dp62042/duty-platform/internal/metrics"
	"github.com/dp62042/duty-platform/internal/qr"
	"github.com/dp62042/duty-platform/internal/queue"
	"github.com/dp62042/duty-platform/internal/roster"
	"github.com/dp62042/duty-platform/internal/session"
)

// SessionResolver resolves an active session by code.
type SessionResolver interface {
	FindActiveByCode(ctx context.Context, code string) (*session.Session, error)
}

// RosterReader loads the enrolled-student set of a class. Read-only.
type RosterReader interface {
	EnrolledStudents(ctx context.Context, classID string) ([]roster.Student, error)
}

// RecordStore is the persistence surface for attendance records.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	FindBySessionStudent(ctx context.Context, sessionID, studentID string) (*Record, error)
	BySession(ctx context.Context, sessionID string) ([]Record, error)
	ByStudent(ctx context.Context, studentID string, from, to *time.Time) ([]Record, error)
	ClassReportRows(ctx context.Context, classID string, from, to *time.Time) ([]ReportRow, error)
}

// MarkResult carries everything a caller needs after a successful mark: the
// persisted record plus the resolved roster entry and session for broadcast.
type MarkResult struct {
	Record  Record
	Student roster.Student
	Session *session.Session
}

// Service is the single authority turning a join attempt into an attendance
// record, enforcing enrollment and at-most-once marking.
type Service struct {
	sessions SessionResolver
	roster   RosterReader
	records  RecordStore
	audit    queue.Queue
	now      func() time.Time
}

// NewService creates a recorder service.
func NewService(sessions SessionResolver, rosterReader RosterReader, records RecordStore, audit queue.Queue) *Service {
	return &Service{
		sessions: sessions,
		roster:   rosterReader,
		records:  records,
		audit:    audit,
		now:      time.Now,
	}
}

// Mark validates a join attempt against the active session and its roster and
// persists a present record. The persisted name is the canonical roster name,
// never the caller-supplied text.
func (s *Service) Mark(ctx context.Context, sessionCode, registrationNumber, claimedName string, via Channel) (*MarkResult, error) {
	if sessionCode == "" || registrationNumber == "" || claimedName == "" {
		return nil, apperr.Validation("sessionCode, registrationNumber and studentName are required")
	}

	sess, err := s.sessions.FindActiveByCode(ctx, sessionCode)
	if err != nil {
		return nil, s.fail(err)
	}

	// A scanned payload is only honored inside its expiry window. Typed-in
	// codes stay valid for the session's whole life.
	if via == ChannelQR && !qr.IsValid(sess.QRCodeExpiry, s.now()) {
		return nil, s.fail(apperr.Validation("QR code has expired"))
	}

	students, err := s.roster.EnrolledStudents(ctx, sess.ClassID)
	if err != nil {
		return nil, err
	}

	// Double-keyed identity check: registration number exact, name
	// case-insensitive. There is no password-gated student login.
	var student *roster.Student
	for i := range students {
		if students[i].RegistrationNumber == registrationNumber &&
			strings.EqualFold(students[i].Name, claimedName) {
			student = &students[i]
			break
		}
	}
	if student == nil {
		return nil, s.fail(apperr.Forbidden("Student not enrolled in this class or information mismatch"))
	}

	// Fast-path check. The unique index on (session, student) is the actual
	// safety net under concurrent marks; Insert maps a late violation to the
	// same conflict.
	existing, err := s.records.FindBySessionStudent(ctx, sess.ID, student.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, s.fail(apperr.Conflict("Attendance already marked for this session"))
	}

	rec := Record{
		ID:                 uuid.NewString(),
		SessionID:          sess.ID,
		StudentID:          student.ID,
		RegistrationNumber: student.RegistrationNumber,
		StudentName:        student.Name,
		MarkedAt:           s.now().UTC(),
		Status:             StatusPresent,
		JoinedVia:          via,
	}
	rec, err = s.records.Insert(ctx, rec)
	if err != nil {
		return nil, s.fail(err)
	}

	metrics.AttendanceMarked.WithLabelValues(string(via)).Inc()
	s.publishAudit(ctx, rec)

	return &MarkResult{Record: rec, Student: *student, Session: sess}, nil
}

// fail bumps the failure counter for classified errors before returning them.
func (s *Service) fail(err error) error {
	var reason string
	switch {
	case apperr.IsCode(err, apperr.CodeNotFound):
		reason = "session_not_found"
	case apperr.IsCode(err, apperr.CodeForbidden):
		reason = "not_enrolled"
	case apperr.IsCode(err, apperr.CodeConflict):
		reason = "already_marked"
	case apperr.IsCode(err, apperr.CodeValidation):
		reason = "invalid_request"
	default:
		reason = "internal"
	}
	metrics.JoinFailures.WithLabelValues(reason).Inc()
	return err
}

func (s *Service) publishAudit(ctx context.Context, rec Record) {
	if s.audit == nil {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.audit.Publish(ctx, queue.Message{Type: queue.TypeAttendanceMarked, Body: body}); err != nil {
		log.Printf("audit publish failed for record %s: %v", rec.ID, err)
	}
}

// SessionAttendance lists a session's records in mark order.
func (s *Service) SessionAttendance(ctx context.Context, sessionID string) ([]Record, error) {
	return s.records.BySession(ctx, sessionID)
}

// StudentHistory lists a student's records, most recent first.
func (s *Service) StudentHistory(ctx context.Context, studentID string, from, to *time.Time) ([]Record, error) {
	return s.records.ByStudent(ctx, studentID, from, to)
}

// ReportEntry is one session's outcome inside a student's report line.
type ReportEntry struct {
	Date   time.Time `json:"date"`
	Status Status    `json:"status"`
}

// StudentReport is the per-student grouped summary of a class report.
type StudentReport struct {
	Student       roster.Student `json:"student"`
	TotalSessions int            `json:"totalSessions"`
	Attended      int            `json:"attended"`
	Attendance    []ReportEntry  `json:"attendance"`
}

// ClassReport groups a class's attendance per student over an optional
// session-start date range.
func (s *Service) ClassReport(ctx context.Context, classID string, from, to *time.Time) ([]StudentReport, error) {
	rows, err := s.records.ClassReportRows(ctx, classID, from, to)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	report := make([]StudentReport, 0)
	for _, row := range rows {
		i, ok := index[row.StudentID]
		if !ok {
			i = len(report)
			index[row.StudentID] = i
			report = append(report, StudentReport{
				Student: roster.Student{
					ID:                 row.StudentID,
					Name:               row.StudentName,
					RegistrationNumber: row.RegistrationNumber,
				},
			})
		}
		report[i].TotalSessions++
		if row.Status == StatusPresent {
			report[i].Attended++
		}
		report[i].Attendance = append(report[i].Attendance, ReportEntry{Date: row.SessionStart, Status: row.Status})
	}
	return report, nil
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }
