package qr

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/dp62042/duty-platform/internal/apperr"
)

const codeCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateCode produces a short uppercase alphanumeric session code. Uniqueness
// is enforced by the session store's unique index, not here.
func GenerateCode(n int) string {
	if n <= 0 {
		n = 8
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeCharset[int(b)%len(codeCharset)]
	}
	return string(buf)
}

// Payload is the machine-scannable content embedded in a session QR code.
type Payload struct {
	SessionCode string    `json:"sessionCode"`
	Expiry      time.Time `json:"expiry"`
	ClassID     string    `json:"classId"`
}

// Scan is what a client submits after scanning: the payload triple plus the
// student identity entered alongside it.
type Scan struct {
	SessionCode        string    `json:"sessionCode"`
	RegistrationNumber string    `json:"registrationNumber"`
	StudentName        string    `json:"studentName"`
	Expiry             time.Time `json:"expiry,omitempty"`
	ClassID            string    `json:"classId,omitempty"`
}

// Generator produces QR payloads with a fixed expiry window.
type Generator struct {
	TTL  time.Duration
	Size int
}

// NewGenerator returns a generator with the policy window for payload expiry.
func NewGenerator(ttl time.Duration) *Generator {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Generator{TTL: ttl, Size: 256}
}

// NewPayload encodes {sessionCode, expiry, classId} into a base64 PNG data URL
// and returns it together with the expiry it embedded.
func (g *Generator) NewPayload(sessionCode, classID string, now time.Time) (string, time.Time, error) {
	expiry := now.Add(g.TTL)
	data, err := json.Marshal(Payload{SessionCode: sessionCode, Expiry: expiry, ClassID: classID})
	if err != nil {
		return "", time.Time{}, err
	}
	size := g.Size
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(string(data), qrcode.Medium, size)
	if err != nil {
		return "", time.Time{}, err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), expiry, nil
}

// IsValid reports whether a payload generated with the given expiry is still
// acceptable at now.
func IsValid(expiry, now time.Time) bool {
	return now.Before(expiry)
}

// DecodeScan parses the JSON a client submits on a QR join. The session code,
// registration number and student name are all required.
func DecodeScan(qrData string) (Scan, error) {
	var s Scan
	dec := json.NewDecoder(strings.NewReader(qrData))
	if err := dec.Decode(&s); err != nil {
		return Scan{}, apperr.Validation("Invalid QR code data")
	}
	if s.SessionCode == "" || s.RegistrationNumber == "" || s.StudentName == "" {
		return Scan{}, apperr.Validation("Invalid QR code data")
	}
	return s, nil
}
