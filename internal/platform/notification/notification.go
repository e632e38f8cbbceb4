// Package notification delivers portal messages over email and SMS with
// template rendering, in-memory storage, and retry support. It also provides
// the out-of-band channel for patient access codes.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/portal/internal/platform/store"
)

// NotificationType represents the channel used to deliver a notification.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypeSMS   NotificationType = "sms"
)

// Notification represents a single outbound notification.
type Notification struct {
	ID           string            `json:"id"`
	Type         NotificationType  `json:"type"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Subject string           `json:"subject"`
	Body    string           `json:"body"`
	Type    NotificationType `json:"type"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "access-code",
			Name:    "Record Access Code",
			Subject: "",
			Body:    "Dr. {{doctor_name}} is requesting access to your medical records. Share the code {{code}} only if you are with them now. The code expires in {{ttl_minutes}} minutes.",
			Type:    TypeSMS,
		},
		{
			ID:      "credential-approved",
			Name:    "Credential Approved",
			Subject: "Your credential was verified",
			Body:    "Dear {{name}}, your {{slot}} document has been verified. Your profile now reflects the updated status.",
			Type:    TypeEmail,
		},
		{
			ID:      "credential-rejected",
			Name:    "Credential Rejected",
			Subject: "Your credential needs attention",
			Body:    "Dear {{name}}, your {{slot}} document was rejected: {{reason}}. Please upload a corrected document.",
			Type:    TypeEmail,
		},
		{
			ID:      "reply-received",
			Name:    "Reply Received",
			Subject: "New reply to your discussion",
			Body:    "{{author}} replied to your post \"{{title}}\". Log in to continue the discussion.",
			Type:    TypeEmail,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LogEmailSender writes email messages to the application log instead of a
// mail gateway. Used in environments without an SMTP relay configured.
type LogEmailSender struct {
	Log zerolog.Logger
}

func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Log.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email notification")
	return nil
}

// LogSMSSender writes SMS messages to the application log instead of an SMS
// gateway.
type LogSMSSender struct {
	Log zerolog.Logger
}

func (s *LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.Log.Info().Str("to", to).Str("body", body).Msg("sms notification")
	return nil
}

// Manager orchestrates sending, storage, and retrieval of notifications.
type Manager struct {
	emailSender   EmailSender
	smsSender     SMSSender
	templates     *TemplateEngine
	mu            sync.RWMutex
	notifications map[string]*Notification
}

// NewManager constructs a Manager.
func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine) *Manager {
	return &Manager{
		emailSender:   email,
		smsSender:     sms,
		templates:     tpl,
		notifications: make(map[string]*Notification),
	}
}

// Send dispatches a notification through the appropriate channel, assigns an ID
// and timestamps, and persists the result in-memory.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	n.CreatedAt = now
	n.Status = "pending"

	sendErr := m.deliver(ctx, n)
	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}

	m.mu.Lock()
	m.notifications[n.ID] = n
	m.mu.Unlock()

	return sendErr
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	switch n.Type {
	case TypeEmail:
		return m.emailSender.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case TypeSMS:
		return m.smsSender.SendSMS(ctx, n.Recipient, n.Body)
	default:
		return fmt.Errorf("unsupported notification type: %s", n.Type)
	}
}

// SendFromTemplate renders a template and sends the resulting notification.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	m.templates.mu.RLock()
	tpl := m.templates.templates[templateID]
	nType := tpl.Type
	m.templates.mu.RUnlock()

	n := &Notification{
		Type:         nType,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}

	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Get retrieves a notification by ID.
func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	n, ok := m.notifications[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	return n, nil
}

// ListByRecipient returns notifications for a given recipient, up to limit.
func (m *Manager) ListByRecipient(_ context.Context, recipient string, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Notification
	for _, n := range m.notifications {
		if n.Recipient == recipient {
			result = append(result, n)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Retry re-sends a failed notification. Returns an error if the notification is
// not in "failed" status.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.notifications[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q not found", id)
	}
	if n.Status != "failed" {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, n.Status)
	}

	sendErr := m.deliver(ctx, n)

	m.mu.Lock()
	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
		n.Error = ""
	}
	m.mu.Unlock()

	return sendErr
}

// Stats returns counts of notifications grouped by status.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}

// AccessCodeSender delivers one-time record access codes to patients through
// the notification pipeline. The patient document's phone field selects SMS
// delivery; email is the fallback.
type AccessCodeSender struct {
	manager    *Manager
	ttlMinutes int
}

// NewAccessCodeSender creates an AccessCodeSender that mentions the given
// code lifetime in the message text.
func NewAccessCodeSender(manager *Manager, ttl time.Duration) *AccessCodeSender {
	minutes := int(ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return &AccessCodeSender{manager: manager, ttlMinutes: minutes}
}

// SendAccessCode renders the access-code template and sends it to the
// patient's phone, or their email when no phone is on file.
func (s *AccessCodeSender) SendAccessCode(ctx context.Context, patient store.Document, code string) error {
	data := map[string]string{
		"code":        code,
		"doctor_name": store.Str(patient, "requesting_doctor"),
		"ttl_minutes": fmt.Sprintf("%d", s.ttlMinutes),
	}

	_, body, err := s.manager.templates.Render("access-code", data)
	if err != nil {
		return err
	}

	n := &Notification{TemplateID: "access-code", TemplateData: data, Body: body}
	switch {
	case store.Str(patient, "phone") != "":
		n.Type = TypeSMS
		n.Recipient = store.Str(patient, "phone")
	case store.Str(patient, "email") != "":
		n.Type = TypeEmail
		n.Recipient = store.Str(patient, "email")
		n.Subject = "Your record access code"
	default:
		return fmt.Errorf("patient %s has no contact channel on file", store.Str(patient, "id"))
	}

	return s.manager.Send(ctx, n)
}

// Handler exposes notification operations over HTTP via Echo. These are
// operator endpoints; route registration should sit behind an admin guard.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers all notification routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.GET("/notifications", h.HandleList)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

// HandleGet handles GET /notifications/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	id := c.Param("id")
	n, err := h.manager.Get(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, n)
}

// HandleList handles GET /notifications?recipient=...
func (h *Handler) HandleList(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "recipient query parameter is required"})
	}

	list, err := h.manager.ListByRecipient(c.Request().Context(), recipient, 100)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, list)
}

// HandleRetry handles POST /notifications/:id/retry.
func (h *Handler) HandleRetry(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.Retry(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	n, _ := h.manager.Get(c.Request().Context(), id)
	return c.JSON(http.StatusOK, n)
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats := h.manager.Stats(c.Request().Context())
	return c.JSON(http.StatusOK, stats)
}
