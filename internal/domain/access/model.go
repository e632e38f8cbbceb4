package access

import (
	"time"

	"github.com/carelink/portal/internal/platform/store"
)

// PatientCollection holds patient master records; the broker resolves the
// human-entered public identifier against their public_id field.
const PatientCollection = "patients"

// RecordCollections are the per-patient sub-collections a granted session may
// read.
var RecordCollections = map[string]bool{
	"history":       true,
	"prescriptions": true,
	"lab_reports":   true,
}

// State tracks one lookup-and-challenge attempt.
type State string

const (
	StateSearching       State = "searching"
	StateChallengeIssued State = "challenge_issued"
	StateGranted         State = "granted"
)

// Session is the ephemeral record of a clinician's attempt to open one
// patient's cross-tenant record set. It lives in broker memory only and is
// discarded on grant consumption or expiry.
type Session struct {
	ID            string    `json:"id"`
	DoctorID      string    `json:"doctor_id"`
	PatientKey    store.Key `json:"patient_record_key"`
	State         State     `json:"state"`
	IssuedAt      time.Time `json:"issued_at"`
	Attempts      int       `json:"attempts"`
	challengeCode string
}

// Expired reports whether the challenge has outlived ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.IssuedAt) > ttl
}

// snapshot copies the session for use outside the broker's lock. The live
// map entry keeps mutating under the lock; callers only ever see copies. The
// challenge code never leaves the broker.
func (s *Session) snapshot() *Session {
	cp := *s
	cp.challengeCode = ""
	return &cp
}
