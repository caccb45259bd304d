package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is one time-boxed class meeting during which attendance can be marked.
type Session struct {
	ID                string     `json:"id"`
	ClassID           string     `json:"class"`
	FacultyID         string     `json:"faculty"`
	StartTime         time.Time  `json:"startTime"`
	EndTime           *time.Time `json:"endTime,omitempty"`
	Status            Status     `json:"status"`
	SessionCode       string     `json:"sessionCode"`
	QRCode            string     `json:"qrCode"`
	QRCodeExpiry      time.Time  `json:"qrCodeExpiry"`
	Location          string     `json:"location"`
	ConnectedStudents []string   `json:"connectedStudents"`
}

// Active reports whether attendance may still be recorded against the session.
func (s *Session) Active() bool {
	return s.Status == StatusActive
}
