package gateway

import (
	"encoding/json"
	"time"

	"github.com/dp62042/duty-platform/internal/attendance"
)

// Client→server events.
const (
	EventJoinSession = "join-session"
	EventQRJoin      = "qr-join"
	EventEndSession  = "end-session"
)

// Server→client events.
const (
	EventJoinSuccess       = "join-success"
	EventJoinError         = "join-error"
	EventQRJoinSuccess     = "qr-join-success"
	EventQRJoinError       = "qr-join-error"
	EventStudentJoined     = "student-joined"
	EventStudentJoinedQR   = "student-joined-qr"
	EventSessionEnded      = "session-ended"
	EventEndSessionSuccess = "end-session-success"
	EventEndSessionError   = "end-session-error"
)

// envelope is the wire frame for every gateway message.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinRequest struct {
	SessionCode        string `json:"sessionCode"`
	RegistrationNumber string `json:"registrationNumber"`
	StudentName        string `json:"studentName"`
}

type qrJoinRequest struct {
	QRData string `json:"qrData"`
}

type endSessionRequest struct {
	SessionCode string `json:"sessionCode"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinSuccessPayload struct {
	Message    string            `json:"message"`
	Attendance attendance.Record `json:"attendance"`
}

type joinedStudent struct {
	Name               string    `json:"name"`
	RegistrationNumber string    `json:"registrationNumber"`
	JoinedAt           time.Time `json:"joinedAt"`
}

type studentJoinedPayload struct {
	Student joinedStudent `json:"student"`
}

type sessionEndedPayload struct {
	Message string    `json:"message"`
	EndedAt time.Time `json:"endedAt"`
}

type endSuccessPayload struct {
	Message string `json:"message"`
}
