package attendance

import "time"

// Status of a persisted attendance record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
)

// Channel is the join path an attendance record came through.
type Channel string

const (
	ChannelDirect Channel = "direct"
	ChannelQR     Channel = "qr_code"
)

// Record is one student's presence marker for one session. The pair
// (SessionID, StudentID) is unique; a student marks at most once per session.
type Record struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session"`
	StudentID          string    `json:"student"`
	RegistrationNumber string    `json:"registrationNumber"`
	StudentName        string    `json:"studentName"`
	MarkedAt           time.Time `json:"markedAt"`
	Status             Status    `json:"status"`
	JoinedVia          Channel   `json:"joinedVia"`
	Verified           bool      `json:"verified"`
}
