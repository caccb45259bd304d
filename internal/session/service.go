package session

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dp62042/duty-platform/internal/apperr"
	"github.com/dp62042/duty-platform/internal/metrics"
	"github.com/dp62042/duty-platform/internal/qr"
	"github.com/dp62042/duty-platform/internal/queue"
	"github.com/dp62042/duty-platform/internal/roster"
)

// codeAttempts bounds retries when a generated code loses the unique-index race.
const codeAttempts = 5

// Store is the persistence surface the service needs.
type Store interface {
	Insert(ctx context.Context, s *Session) error
	FindActiveByCode(ctx context.Context, code string) (*Session, error)
	FindByCode(ctx context.Context, code string) (*Session, error)
	GetByID(ctx context.Context, id string) (*Session, error)
	MarkEnded(ctx context.Context, id string, at time.Time) error
	UpdateQR(ctx context.Context, id, payload string, expiry time.Time) error
	AppendConnectedStudent(ctx context.Context, sessionID, studentID string) error
	ConnectedStudents(ctx context.Context, sessionID string) ([]string, error)
	ListByFaculty(ctx context.Context, facultyID string) ([]Session, error)
}

// ClassDirectory is the read-only class/assignment lookup the service consumes.
type ClassDirectory interface {
	GetClass(ctx context.Context, classID string) (*roster.Class, error)
	IsFacultyAssigned(ctx context.Context, classID, facultyID string) (bool, error)
}

// EndNotifier receives session-ended events for room broadcast.
type EndNotifier interface {
	SessionEnded(sessionCode string, endedAt time.Time)
}

// Service owns the session lifecycle: start, lookup, QR refresh, end.
type Service struct {
	store    Store
	classes  ClassDirectory
	qrgen    *qr.Generator
	codeLen  int
	notifier EndNotifier
	audit    queue.Queue
	now      func() time.Time
}

// NewService creates a session service.
func NewService(store Store, classes ClassDirectory, qrgen *qr.Generator, codeLen int, audit queue.Queue) *Service {
	if codeLen <= 0 {
		codeLen = 8
	}
	return &Service{
		store:   store,
		classes: classes,
		qrgen:   qrgen,
		codeLen: codeLen,
		audit:   audit,
		now:     time.Now,
	}
}

// SetNotifier wires the real-time gateway in after construction. The gateway
// depends on the service for end-session events, so this breaks the cycle.
func (s *Service) SetNotifier(n EndNotifier) { s.notifier = n }

// Start creates an active session for the class with a fresh code and QR
// payload generated before the session is considered created.
func (s *Service) Start(ctx context.Context, classID, facultyID, location string) (*Session, error) {
	class, err := s.classes.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class == nil {
		return nil, apperr.NotFound("Class not found")
	}
	assigned, err := s.classes.IsFacultyAssigned(ctx, classID, facultyID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		return nil, apperr.Forbidden("Faculty is not assigned to this class")
	}

	if location == "" {
		location = "Not specified"
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		now := s.now().UTC()
		code := qr.GenerateCode(s.codeLen)
		payload, expiry, err := s.qrgen.NewPayload(code, classID, now)
		if err != nil {
			return nil, err
		}
		sess := &Session{
			ID:           uuid.NewString(),
			ClassID:      classID,
			FacultyID:    facultyID,
			StartTime:    now,
			Status:       StatusActive,
			SessionCode:  code,
			QRCode:       payload,
			QRCodeExpiry: expiry,
			Location:     location,
		}
		err = s.store.Insert(ctx, sess)
		if err == ErrCodeCollision {
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.SessionsStarted.Inc()
		return sess, nil
	}
	return nil, apperr.Conflict("Could not allocate a unique session code")
}

// FindActiveByCode resolves the active session behind a code. Ended sessions
// never match, even before their QR expiry.
func (s *Service) FindActiveByCode(ctx context.Context, code string) (*Session, error) {
	sess, err := s.store.FindActiveByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotFound("Session not found or not active")
	}
	return sess, nil
}

// End terminates a session by id, stamps the end time, and notifies the room.
func (s *Service) End(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotFound("Session not found")
	}
	return s.end(ctx, sess)
}

// EndByCode terminates a session looked up by code regardless of its status,
// so re-ending reports a precise conflict rather than "not found".
func (s *Service) EndByCode(ctx context.Context, code string) (*Session, error) {
	sess, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotFound("Session not found")
	}
	return s.end(ctx, sess)
}

func (s *Service) end(ctx context.Context, sess *Session) (*Session, error) {
	if !sess.Active() {
		return nil, apperr.Conflict("Session already ended")
	}
	endedAt := s.now().UTC()
	if err := s.store.MarkEnded(ctx, sess.ID, endedAt); err != nil {
		return nil, err
	}
	sess.Status = StatusEnded
	sess.EndTime = &endedAt
	metrics.SessionsEnded.Inc()
	if s.notifier != nil {
		s.notifier.SessionEnded(sess.SessionCode, endedAt)
	}
	s.publishEnded(ctx, sess)
	return sess, nil
}

func (s *Service) publishEnded(ctx context.Context, sess *Session) {
	if s.audit == nil {
		return
	}
	body, err := json.Marshal(map[string]any{
		"sessionId":   sess.ID,
		"sessionCode": sess.SessionCode,
		"classId":     sess.ClassID,
		"endedAt":     sess.EndTime,
	})
	if err != nil {
		return
	}
	if err := s.audit.Publish(ctx, queue.Message{Type: queue.TypeSessionEnded, Body: body}); err != nil {
		log.Printf("audit publish failed for session %s: %v", sess.ID, err)
	}
}

// RefreshQR regenerates the payload and pushes the expiry back one window.
// The session code never changes.
func (s *Service) RefreshQR(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotFound("Session not found")
	}
	if !sess.Active() {
		return nil, apperr.Conflict("Session already ended")
	}
	payload, expiry, err := s.qrgen.NewPayload(sess.SessionCode, sess.ClassID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateQR(ctx, sess.ID, payload, expiry); err != nil {
		return nil, err
	}
	sess.QRCode = payload
	sess.QRCodeExpiry = expiry
	return sess, nil
}

// Connect records a student on the session's connected list. Append-only
// audit data; attendance dedup is handled separately.
func (s *Service) Connect(ctx context.Context, sessionID, studentID string) error {
	return s.store.AppendConnectedStudent(ctx, sessionID, studentID)
}

// GetByID returns a session with its connected-student list resolved.
func (s *Service) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotFound("Session not found")
	}
	connected, err := s.store.ConnectedStudents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.ConnectedStudents = connected
	return sess, nil
}

// ListByFaculty returns a faculty member's sessions, most recent first.
func (s *Service) ListByFaculty(ctx context.Context, facultyID string) ([]Session, error) {
	return s.store.ListByFaculty(ctx, facultyID)
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }
