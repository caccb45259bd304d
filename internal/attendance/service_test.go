package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/dp62042/duty-platform/internal/apperr"
	"github.com/dp62042/duty-platform/internal/queue"
	"github.com/dp62042/duty-platform/internal/roster"
	"github.com/dp62042/duty-platform/internal/session"
)

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeSessions struct {
	sessions map[string]*session.Session
}

func (f *fakeSessions) FindActiveByCode(_ context.Context, code string) (*session.Session, error) {
	s, ok := f.sessions[code]
	if !ok || !s.Active() {
		return nil, apperr.NotFound("Session not found or not active")
	}
	return s, nil
}

type fakeRoster struct {
	students map[string][]roster.Student
}

func (f *fakeRoster) EnrolledStudents(_ context.Context, classID string) ([]roster.Student, error) {
	return f.students[classID], nil
}

type fakeRecords struct {
	records    []Record
	insertErr  error
	reportRows []ReportRow
}

func (f *fakeRecords) Insert(_ context.Context, rec Record) (Record, error) {
	if f.insertErr != nil {
		return Record{}, f.insertErr
	}
	for _, r := range f.records {
		if r.SessionID == rec.SessionID && r.StudentID == rec.StudentID {
			return Record{}, apperr.Conflict("Attendance already marked for this session")
		}
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeRecords) FindBySessionStudent(_ context.Context, sessionID, studentID string) (*Record, error) {
	for i := range f.records {
		if f.records[i].SessionID == sessionID && f.records[i].StudentID == studentID {
			return &f.records[i], nil
		}
	}
	return nil, nil
}

func (f *fakeRecords) BySession(_ context.Context, sessionID string) ([]Record, error) {
	var out []Record
	for _, r := range f.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecords) ByStudent(_ context.Context, studentID string, _, _ *time.Time) ([]Record, error) {
	var out []Record
	for _, r := range f.records {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecords) ClassReportRows(_ context.Context, _ string, _, _ *time.Time) ([]ReportRow, error) {
	return f.reportRows, nil
}

func newTestService(records *fakeRecords) *Service {
	sessions := &fakeSessions{sessions: map[string]*session.Session{
		"MATHAB12": {
			ID:           "sess-1",
			ClassID:      "class-1",
			SessionCode:  "MATHAB12",
			Status:       session.StatusActive,
			QRCodeExpiry: fixedNow.Add(15 * time.Minute),
		},
		"ENDED001": {
			ID:          "sess-2",
			ClassID:     "class-1",
			SessionCode: "ENDED001",
			Status:      session.StatusEnded,
		},
		"EXPIRED1": {
			ID:           "sess-3",
			ClassID:      "class-1",
			SessionCode:  "EXPIRED1",
			Status:       session.StatusActive,
			QRCodeExpiry: fixedNow.Add(-time.Minute),
		},
	}}
	classRoster := &fakeRoster{students: map[string][]roster.Student{
		"class-1": {
			{ID: "stu-1", Name: "John Doe", RegistrationNumber: "STU001"},
			{ID: "stu-2", Name: "Jane Roe", RegistrationNumber: "STU002"},
		},
	}}
	svc := NewService(sessions, classRoster, records, queue.NewInMemory(16))
	svc.SetClock(func() time.Time { return fixedNow })
	return svc
}

func TestMark_UsesCanonicalRosterName(t *testing.T) {
	svc := newTestService(&fakeRecords{})

	res, err := svc.Mark(context.Background(), "MATHAB12", "STU001", "john doe", ChannelDirect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.StudentName != "John Doe" {
		t.Errorf("persisted name %q, want canonical roster name %q", res.Record.StudentName, "John Doe")
	}
	if res.Record.Status != StatusPresent {
		t.Errorf("status = %q, want present", res.Record.Status)
	}
	if res.Record.JoinedVia != ChannelDirect {
		t.Errorf("joinedVia = %q, want direct", res.Record.JoinedVia)
	}
	if res.Record.Verified {
		t.Error("new records must not be verified")
	}
}

func TestMark_SecondMarkConflicts(t *testing.T) {
	svc := newTestService(&fakeRecords{})

	if _, err := svc.Mark(context.Background(), "MATHAB12", "STU001", "John Doe", ChannelDirect); err != nil {
		t.Fatalf("first mark failed: %v", err)
	}
	_, err := svc.Mark(context.Background(), "MATHAB12", "STU001", "John Doe", ChannelDirect)
	if !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("expected ConflictError on duplicate mark, got %v", err)
	}
}

func TestMark_LateUniqueViolationBecomesSameConflict(t *testing.T) {
	// Simulates losing the check-then-create race: the fast-path check sees
	// nothing but the insert hits the unique index.
	records := &fakeRecords{insertErr: apperr.Conflict("Attendance already marked for this session")}
	svc := newTestService(records)

	_, err := svc.Mark(context.Background(), "MATHAB12", "STU001", "John Doe", ChannelDirect)
	if !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("expected ConflictError from late unique violation, got %v", err)
	}
	if apperr.Message(err) != "Attendance already marked for this session" {
		t.Errorf("message = %q, want the fast-path conflict message", apperr.Message(err))
	}
}

func TestMark_EndedSessionNotFound(t *testing.T) {
	svc := newTestService(&fakeRecords{})

	_, err := svc.Mark(context.Background(), "ENDED001", "STU001", "John Doe", ChannelDirect)
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected NotFoundError for ended session, got %v", err)
	}
}

func TestMark_NameMismatchForbidden(t *testing.T) {
	svc := newTestService(&fakeRecords{})

	_, err := svc.Mark(context.Background(), "MATHAB12", "STU001", "Someone Else", ChannelDirect)
	if !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Fatalf("expected ForbiddenError for mismatched name, got %v", err)
	}
}

func TestMark_WrongRegistrationNumberForbidden(t *testing.T) {
	svc := newTestService(&fakeRecords{})

	_, err := svc.Mark(context.Background(), "MATHAB12", "STU999", "John Doe", ChannelDirect)
	if !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Fatalf("expected ForbiddenError for unknown registration number, got %v", err)
	}
}

func TestMark_ChannelsDifferOnlyInJoinedVia(t *testing.T) {
	svc := newTestService(&fakeRecords{})

	direct, err := svc.Mark(context.Background(), "MATHAB12", "STU001", "John Doe", ChannelDirect)
	if err != nil {
		t.Fatalf("direct mark failed: %v", err)
	}
	viaQR, err := svc.Mark(context.Background(), "MATHAB12", "STU002", "Jane Roe", ChannelQR)
	if err != nil {
		t.Fatalf("qr mark failed: %v", err)
	}
	if direct.Record.JoinedVia != ChannelDirect || viaQR.Record.JoinedVia != ChannelQR {
		t.Errorf("joinedVia mismatch: %q vs %q", direct.Record.JoinedVia, viaQR.Record.JoinedVia)
	}
	if direct.Record.Status != viaQR.Record.Status {
		t.Errorf("status should not depend on channel: %q vs %q", direct.Record.Status, viaQR.Record.Status)
	}
}

func TestMark_ExpiredQRRejected(t *testing.T) {
	svc := newTestService(&fakeRecords{})

	_, err := svc.Mark(context.Background(), "EXPIRED1", "STU001", "John Doe", ChannelQR)
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected ValidationError for expired QR, got %v", err)
	}

	// The same session still accepts a typed-in code.
	if _, err := svc.Mark(context.Background(), "EXPIRED1", "STU001", "John Doe", ChannelDirect); err != nil {
		t.Fatalf("direct join should not be expiry-gated: %v", err)
	}
}

func TestClassReport_GroupsPerStudent(t *testing.T) {
	day1 := fixedNow
	day2 := fixedNow.Add(24 * time.Hour)
	records := &fakeRecords{reportRows: []ReportRow{
		{StudentID: "stu-1", StudentName: "John Doe", RegistrationNumber: "STU001", SessionStart: day1, Status: StatusPresent},
		{StudentID: "stu-1", StudentName: "John Doe", RegistrationNumber: "STU001", SessionStart: day2, Status: StatusLate},
		{StudentID: "stu-2", StudentName: "Jane Roe", RegistrationNumber: "STU002", SessionStart: day1, Status: StatusPresent},
	}}
	svc := newTestService(records)

	report, err := svc.ClassReport(context.Background(), "class-1", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 student lines, got %d", len(report))
	}
	john := report[0]
	if john.Student.RegistrationNumber != "STU001" {
		t.Fatalf("unexpected first line: %+v", john.Student)
	}
	if john.TotalSessions != 2 || john.Attended != 1 {
		t.Errorf("john: total=%d attended=%d, want 2/1", john.TotalSessions, john.Attended)
	}
	if len(john.Attendance) != 2 || !john.Attendance[0].Date.Equal(day1) || john.Attendance[1].Status != StatusLate {
		t.Errorf("john attendance entries wrong: %+v", john.Attendance)
	}
	if report[1].Student.RegistrationNumber != "STU002" || report[1].Attended != 1 {
		t.Errorf("jane line wrong: %+v", report[1])
	}
}

func TestMark_MissingFieldsValidation(t *testing.T) {
	svc := newTestService(&fakeRecords{})

	_, err := svc.Mark(context.Background(), "MATHAB12", "", "John Doe", ChannelDirect)
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected ValidationError for missing registration number, got %v", err)
	}
}
