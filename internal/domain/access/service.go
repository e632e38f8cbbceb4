package access

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/portal/internal/platform/store"
)

var (
	// ErrChallengeMismatch is reported on a wrong code; the session stays in
	// ChallengeIssued and the clinician may retry.
	ErrChallengeMismatch = errors.New("challenge code mismatch")
	// ErrChallengeExpired is reported once the code's TTL has passed.
	ErrChallengeExpired = errors.New("challenge code expired")
	// ErrTooManyAttempts is reported after the attempt budget is spent.
	ErrTooManyAttempts = errors.New("too many challenge attempts")
	// ErrNotGranted is reported when a session is used as a capability token
	// before verification succeeded.
	ErrNotGranted = errors.New("session not granted")
	// ErrClinicianNotTrusted is reported when the requesting clinician's
	// credential profile is not verified.
	ErrClinicianNotTrusted = errors.New("clinician profile not verified")
)

// CodeSender delivers the one-time code to the patient out of band. The
// broker only ever compares codes; delivery is an external collaborator.
type CodeSender interface {
	SendAccessCode(ctx context.Context, patient store.Document, code string) error
}

// ProfileVerifier reports whether a clinician's credential profile counts as
// trusted. The verification state machine implements it.
type ProfileVerifier interface {
	Trusted(ctx context.Context, ownerID string) (bool, error)
}

// Broker gates clinician access to a patient's record sub-collections behind
// a one-time code challenge. The grant check runs here, server side, on every
// record read; it is not a client-side UI state.
type Broker struct {
	st       store.Store
	sender   CodeSender
	verifier ProfileVerifier
	log      zerolog.Logger

	ttl         time.Duration
	maxAttempts int

	mu       sync.Mutex
	sessions map[string]*Session
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithTTL sets the challenge time-to-live.
func WithTTL(ttl time.Duration) BrokerOption {
	return func(b *Broker) { b.ttl = ttl }
}

// WithMaxAttempts bounds how many wrong codes a session tolerates.
func WithMaxAttempts(n int) BrokerOption {
	return func(b *Broker) { b.maxAttempts = n }
}

// WithProfileVerifier gates lookups on the clinician's verified status.
func WithProfileVerifier(v ProfileVerifier) BrokerOption {
	return func(b *Broker) { b.verifier = v }
}

// NewBroker creates a Broker with a 10 minute TTL and 5 attempts by default.
func NewBroker(st store.Store, sender CodeSender, log zerolog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		st:          st,
		sender:      sender,
		log:         log,
		ttl:         10 * time.Minute,
		maxAttempts: 5,
		sessions:    make(map[string]*Session),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Lookup resolves a human-entered patient identifier to a record key, issues
// a one-time code, and hands it to the delivery channel. A miss is terminal
// for the attempt; the clinician may simply look up again.
func (b *Broker) Lookup(ctx context.Context, doctorID, identifier string) (*Session, error) {
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	if b.verifier != nil {
		trusted, err := b.verifier.Trusted(ctx, doctorID)
		if err != nil {
			return nil, fmt.Errorf("verify clinician profile: %w", err)
		}
		if !trusted {
			return nil, ErrClinicianNotTrusted
		}
	}

	docs, err := b.st.Query(ctx, PatientCollection, store.Where{Field: "public_id", Op: store.OpEq, Value: identifier})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	patient := docs[0]

	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate challenge code: %w", err)
	}

	s := &Session{
		ID:            uuid.NewString(),
		DoctorID:      doctorID,
		PatientKey:    store.Key{Collection: PatientCollection, ID: store.Str(patient, "id")},
		State:         StateChallengeIssued,
		IssuedAt:      time.Now(),
		challengeCode: code,
	}

	if err := b.sender.SendAccessCode(ctx, patient, code); err != nil {
		return nil, fmt.Errorf("deliver challenge code: %w", err)
	}

	b.mu.Lock()
	b.sweepLocked(time.Now())
	b.sessions[s.ID] = s
	out := s.snapshot()
	b.mu.Unlock()

	b.log.Info().
		Str("session_id", out.ID).
		Str("doctor_id", doctorID).
		Str("patient_key", out.PatientKey.String()).
		Msg("access challenge issued")
	return out, nil
}

// Verify grants the session iff the submitted code matches exactly. A
// mismatch is reported but leaves the session re-enterable until the TTL or
// attempt budget runs out. The returned session is a copy; live state only
// mutates under the broker's lock.
func (b *Broker) Verify(ctx context.Context, sessionID, submittedCode string) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.State == StateGranted {
		return s.snapshot(), nil
	}
	now := time.Now()
	if s.Expired(b.ttl, now) {
		delete(b.sessions, sessionID)
		return nil, ErrChallengeExpired
	}
	if s.Attempts >= b.maxAttempts {
		delete(b.sessions, sessionID)
		return nil, ErrTooManyAttempts
	}
	s.Attempts++
	if subtle.ConstantTimeCompare([]byte(s.challengeCode), []byte(submittedCode)) != 1 {
		b.log.Warn().
			Str("session_id", s.ID).
			Str("doctor_id", s.DoctorID).
			Int("attempts", s.Attempts).
			Msg("challenge code mismatch")
		return s.snapshot(), ErrChallengeMismatch
	}
	s.State = StateGranted
	b.log.Info().
		Str("session_id", s.ID).
		Str("doctor_id", s.DoctorID).
		Msg("access granted")
	return s.snapshot(), nil
}

// Records reads a granted session's patient sub-collection. The grant check
// happens here, at the data boundary.
func (b *Broker) Records(ctx context.Context, sessionID, doctorID, collection string) ([]store.Document, error) {
	if !RecordCollections[collection] {
		return nil, fmt.Errorf("unknown record collection: %q", collection)
	}

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if ok && s.Expired(b.ttl, time.Now()) {
		delete(b.sessions, sessionID)
		ok = false
	}
	if !ok {
		b.mu.Unlock()
		return nil, store.ErrNotFound
	}
	// Check and copy under the lock; a concurrent Verify mutates this entry.
	granted := s.DoctorID == doctorID && s.State == StateGranted
	patientID := s.PatientKey.ID
	b.mu.Unlock()

	if !granted {
		return nil, ErrNotGranted
	}
	return b.st.Query(ctx, collection, store.Where{Field: "patient_id", Op: store.OpEq, Value: patientID})
}

// Discard drops an abandoned session.
func (b *Broker) Discard(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// sweepLocked drops expired sessions; callers hold b.mu.
func (b *Broker) sweepLocked(now time.Time) {
	for id, s := range b.sessions {
		if s.Expired(b.ttl, now) {
			delete(b.sessions, id)
		}
	}
}

// generateCode produces a 6-digit one-time code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
