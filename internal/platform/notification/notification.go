// Package notification renders and sends clinic staff emails, keeping a short
// in-memory history so failed deliveries can be inspected and retried.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Template IDs registered by NewTemplateEngine.
const (
	TemplateAppointmentBooked    = "appointment-booked"
	TemplateAppointmentUpdated   = "appointment-updated"
	TemplateAppointmentCancelled = "appointment-cancelled"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNotRetryable         = errors.New("notification is not in failed status")
)

// Notification is one outbound email.
type Notification struct {
	ID         string            `json:"id"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// EmailSender delivers one plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateAppointmentBooked,
			Subject: "New appointment: {{patient_name}}",
			Body: "A new appointment was booked.\n\n" +
				"Appointment ID: {{id}}\nPatient: {{patient_name}}\nSpecialty: {{specialty}}\n" +
				"Doctor: {{doctor_name}}\nDate: {{date}}\nTime: {{time}}\n\n" +
				"Please check the schedule and confirm with the patient.",
		},
		{
			ID:      TemplateAppointmentUpdated,
			Subject: "Appointment changed: {{patient_name}}",
			Body: "Appointment {{id}} was changed.\n\n" +
				"Patient: {{patient_name}}\nSpecialty: {{specialty}}\n" +
				"Doctor: {{doctor_name}}\nDate: {{date}}\nTime: {{time}}",
		},
		{
			ID:      TemplateAppointmentCancelled,
			Subject: "Appointment cancelled: {{patient_name}}",
			Body: "An appointment was cancelled.\n\n" +
				"Appointment ID: {{id}}\nPatient: {{patient_name}}\nSpecialty: {{specialty}}\n" +
				"Doctor: {{doctor_name}}\nDate: {{date}}\nTime: {{time}}\n\n" +
				"Please check the schedule and free the slot.",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render replaces {{key}} with data[key]. Unknown placeholders are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// DefaultHistorySize bounds how many notifications the Manager remembers.
const DefaultHistorySize = 500

// Manager sends notifications and keeps the most recent ones in memory.
type Manager struct {
	sender    EmailSender
	templates *TemplateEngine
	limit     int

	mu            sync.RWMutex
	notifications map[string]*Notification
	order         []string
}

func NewManager(sender EmailSender, tpl *TemplateEngine) *Manager {
	return &Manager{
		sender:        sender,
		templates:     tpl,
		limit:         DefaultHistorySize,
		notifications: make(map[string]*Notification),
	}
}

// Send delivers n and records the outcome. The returned error is the
// delivery error; n is recorded either way.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	err := m.deliver(ctx, n)
	m.store(n)
	return err
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	err := m.sender.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	m.mu.Lock()
	defer m.mu.Unlock()
	n.Attempts++
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		return err
	}
	sentAt := time.Now().UTC()
	n.Status = StatusSent
	n.SentAt = &sentAt
	n.Error = ""
	return nil
}

func (m *Manager) store(n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		m.order = append(m.order, n.ID)
	}
	m.notifications[n.ID] = n
	for len(m.order) > m.limit {
		delete(m.notifications, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
		Data:       data,
	}
	return n, m.Send(ctx, n)
}

func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

// List returns recorded notifications, newest first, optionally filtered by status.
func (m *Manager) List(_ context.Context, status string) []*Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Notification
	for _, n := range m.notifications {
		if status == "" || n.Status == status {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.notifications[id]
	var status string
	if ok {
		status = n.Status
	}
	m.mu.RUnlock()
	if !ok {
		return ErrNotificationNotFound
	}
	if status != StatusFailed {
		return fmt.Errorf("%w: %q is %s", ErrNotRetryable, id, status)
	}
	return m.deliver(ctx, n)
}

// Stats counts recorded notifications by status.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes mounts the read and retry endpoints on g. Callers apply auth.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleList)
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

func (h *Handler) HandleList(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.List(c.Request().Context(), c.QueryParam("status")))
}

func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) HandleRetry(c echo.Context) error {
	id := c.Param("id")
	err := h.manager.Retry(c.Request().Context(), id)
	switch {
	case errors.Is(err, ErrNotificationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotRetryable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	n, _ := h.manager.Get(c.Request().Context(), id)
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats(c.Request().Context()))
}
