package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/portal/internal/platform/store"
)

var (
	// ErrInvalidTransition rejects an illegal state-machine edge outright,
	// with no partial effect.
	ErrInvalidTransition = errors.New("invalid verification transition")
	// ErrReasonRequired rejects a rejection or suspension without a reason.
	ErrReasonRequired = errors.New("a reason is required")
)

// Service runs the credential document lifecycle. All transitions are
// synchronous store writes so an illegal edge leaves nothing behind, and
// every applied edge lands in the append-only audit log.
type Service struct {
	st store.Store
	// requiredSlots are the credential slots a profile must have verified to
	// count as trusted.
	requiredSlots []string
}

func NewService(st store.Store, requiredSlots []string) *Service {
	return &Service{st: st, requiredSlots: requiredSlots}
}

// Submit files a replacement document into a slot. A fresh slot moves
// not_submitted → pending; a rejected or suspended slot resubmits back to
// pending, clearing the active reason only; the audit trail keeps the old
// one.
func (s *Service) Submit(ctx context.Context, ownerID, slotID, blobURL, actor string) (*Document, error) {
	if ownerID == "" || slotID == "" {
		return nil, fmt.Errorf("owner_id and slot_id are required")
	}
	if blobURL == "" {
		return nil, fmt.Errorf("blob_url is required")
	}

	d, err := s.bySlot(ctx, ownerID, slotID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if d == nil {
		d = &Document{
			ID:      uuid.NewString(),
			OwnerID: ownerID,
			SlotID:  slotID,
			Status:  StatusNotSubmitted,
		}
	}
	if !canTransition(d.Status, StatusPending) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, StatusPending)
	}

	from := d.Status
	now := time.Now()
	d.Status = StatusPending
	d.BlobURL = blobURL
	d.Reason = ""
	d.SubmittedAt = &now
	d.ReviewedAt = nil

	if err := s.st.Put(ctx, store.Key{Collection: DocumentCollection, ID: d.ID}, d.doc()); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, d, actor, from, ""); err != nil {
		return nil, err
	}
	return d, nil
}

// Approve moves a pending document to verified.
func (s *Service) Approve(ctx context.Context, documentID, reviewer string) (*Document, error) {
	return s.review(ctx, documentID, reviewer, StatusVerified, "")
}

// Reject moves a pending document to rejected; the reason is mandatory.
func (s *Service) Reject(ctx context.Context, documentID, reviewer, reason string) (*Document, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	return s.review(ctx, documentID, reviewer, StatusRejected, reason)
}

// Suspend moves a verified document to suspended; the reason is mandatory.
func (s *Service) Suspend(ctx context.Context, documentID, reviewer, reason string) (*Document, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	return s.review(ctx, documentID, reviewer, StatusSuspended, reason)
}

func (s *Service) review(ctx context.Context, documentID, reviewer string, to Status, reason string) (*Document, error) {
	d, err := s.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !canTransition(d.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}

	from := d.Status
	now := time.Now()
	d.Status = to
	d.Reason = reason
	d.ReviewedAt = &now

	if err := s.st.Put(ctx, store.Key{Collection: DocumentCollection, ID: d.ID}, d.doc()); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, d, reviewer, from, reason); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, documentID string) (*Document, error) {
	doc, err := s.st.Get(ctx, store.Key{Collection: DocumentCollection, ID: documentID})
	if err != nil {
		return nil, err
	}
	return documentFromDoc(doc), nil
}

// ListByOwner returns all of a profile's credential documents.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Document, error) {
	docs, err := s.st.Query(ctx, DocumentCollection, store.Where{Field: "owner_id", Op: store.OpEq, Value: ownerID})
	if err != nil {
		return nil, err
	}
	out := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentFromDoc(doc))
	}
	return out, nil
}

// Trusted reports whether every required credential slot is verified.
// Suspended or merely pending slots never count.
func (s *Service) Trusted(ctx context.Context, ownerID string) (bool, error) {
	docs, err := s.ListByOwner(ctx, ownerID)
	if err != nil {
		return false, err
	}
	verified := make(map[string]bool, len(docs))
	for _, d := range docs {
		if d.Status == StatusVerified {
			verified[d.SlotID] = true
		}
	}
	if len(s.requiredSlots) == 0 {
		// No policy configured: a single verified credential is enough.
		return len(verified) > 0, nil
	}
	for _, slot := range s.requiredSlots {
		if !verified[slot] {
			return false, nil
		}
	}
	return true, nil
}

// Audit returns a document's transition history, oldest first.
func (s *Service) Audit(ctx context.Context, documentID string) ([]*AuditEntry, error) {
	docs, err := s.st.Query(ctx, AuditCollection, store.Where{Field: "document_id", Op: store.OpEq, Value: documentID})
	if err != nil {
		return nil, err
	}
	out := make([]*AuditEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, auditFromDoc(doc))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (s *Service) audit(ctx context.Context, d *Document, actor string, from Status, reason string) error {
	entry := &AuditEntry{
		ID:         uuid.NewString(),
		DocumentID: d.ID,
		OwnerID:    d.OwnerID,
		SlotID:     d.SlotID,
		Actor:      actor,
		From:       from,
		To:         d.Status,
		Reason:     reason,
		At:         time.Now(),
	}
	return s.st.Put(ctx, store.Key{Collection: AuditCollection, ID: entry.ID}, entry.doc())
}

func (s *Service) bySlot(ctx context.Context, ownerID, slotID string) (*Document, error) {
	docs, err := s.st.Query(ctx, DocumentCollection,
		store.Where{Field: "owner_id", Op: store.OpEq, Value: ownerID},
		store.Where{Field: "slot_id", Op: store.OpEq, Value: slotID})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return documentFromDoc(docs[0]), nil
}
