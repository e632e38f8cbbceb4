package verification

import (
	"time"

	"github.com/carelink/portal/internal/platform/store"
)

const (
	// DocumentCollection holds credential documents; AuditCollection holds
	// the immutable transition log.
	DocumentCollection = "verification_documents"
	AuditCollection    = "verification_audit"
)

// Status is a credential document's review state.
type Status string

const (
	StatusNotSubmitted Status = "not_submitted"
	StatusPending      Status = "pending"
	StatusVerified     Status = "verified"
	StatusRejected     Status = "rejected"
	StatusSuspended    Status = "suspended"
)

// transitions is the full edge set of the lifecycle. No edge skips a state;
// a reviewer cannot move not_submitted straight to verified.
var transitions = map[Status][]Status{
	StatusNotSubmitted: {StatusPending},
	StatusPending:      {StatusVerified, StatusRejected},
	StatusVerified:     {StatusSuspended},
	StatusRejected:     {StatusPending},
	StatusSuspended:    {StatusPending},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Document is one credential slot's active submission plus review status.
// Reason holds the active rejection/suspension note only; history lives in
// the audit log.
type Document struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	SlotID      string     `json:"slot_id"`
	Status      Status     `json:"status"`
	BlobURL     string     `json:"blob_url,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
}

// AuditEntry records one transition. Entries are append-only; resubmission
// never erases them.
type AuditEntry struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"`
	SlotID     string    `json:"slot_id"`
	Actor      string    `json:"actor"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

func (d *Document) doc() store.Document {
	out := store.Document{
		"id":       d.ID,
		"owner_id": d.OwnerID,
		"slot_id":  d.SlotID,
		"status":   string(d.Status),
		"blob_url": d.BlobURL,
		"reason":   d.Reason,
	}
	if d.SubmittedAt != nil {
		out["submitted_at"] = d.SubmittedAt.UTC().Format(time.RFC3339Nano)
	}
	if d.ReviewedAt != nil {
		out["reviewed_at"] = d.ReviewedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func documentFromDoc(doc store.Document) *Document {
	d := &Document{
		ID:      store.Str(doc, "id"),
		OwnerID: store.Str(doc, "owner_id"),
		SlotID:  store.Str(doc, "slot_id"),
		Status:  Status(store.Str(doc, "status")),
		BlobURL: store.Str(doc, "blob_url"),
		Reason:  store.Str(doc, "reason"),
	}
	if raw := store.Str(doc, "submitted_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			d.SubmittedAt = &t
		}
	}
	if raw := store.Str(doc, "reviewed_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			d.ReviewedAt = &t
		}
	}
	return d
}

func (a *AuditEntry) doc() store.Document {
	return store.Document{
		"id":          a.ID,
		"document_id": a.DocumentID,
		"owner_id":    a.OwnerID,
		"slot_id":     a.SlotID,
		"actor":       a.Actor,
		"from":        string(a.From),
		"to":          string(a.To),
		"reason":      a.Reason,
		"at":          a.At.UTC().Format(time.RFC3339Nano),
	}
}

func auditFromDoc(doc store.Document) *AuditEntry {
	a := &AuditEntry{
		ID:         store.Str(doc, "id"),
		DocumentID: store.Str(doc, "document_id"),
		OwnerID:    store.Str(doc, "owner_id"),
		SlotID:     store.Str(doc, "slot_id"),
		Actor:      store.Str(doc, "actor"),
		From:       Status(store.Str(doc, "from")),
		To:         Status(store.Str(doc, "to")),
		Reason:     store.Str(doc, "reason"),
	}
	a.At, _ = time.Parse(time.RFC3339Nano, store.Str(doc, "at"))
	return a
}
