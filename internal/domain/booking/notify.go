package booking

import (
	"context"
	"strconv"

	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/notification"
)

// Change is an appointment lifecycle change the Service reports to its
// notifiers after the write has committed.
type Change struct {
	Type        events.Type
	Appointment Appointment
}

// Notifier reacts to committed changes. Errors are logged by the Service and
// never undo the change.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

// AppointmentPayload is the wire form of an appointment in events.
type AppointmentPayload struct {
	ID          int64     `json:"id"`
	PatientName string    `json:"patient_name"`
	Specialty   Specialty `json:"specialty"`
	DoctorName  string    `json:"doctor_name"`
	Date        Date      `json:"date"`
	Time        TimeOfDay `json:"time"`
}

func PayloadOf(a *Appointment) AppointmentPayload {
	return AppointmentPayload{
		ID:          a.ID,
		PatientName: a.PatientName,
		Specialty:   a.Specialty,
		DoctorName:  a.DoctorName,
		Date:        a.Date,
		Time:        a.Time,
	}
}

// EventNotifier forwards changes to an event publisher.
type EventNotifier struct {
	Publisher events.Publisher
}

func (n EventNotifier) Notify(ctx context.Context, c Change) error {
	ev, err := events.New(c.Type, c.Appointment.OwnerID, PayloadOf(&c.Appointment))
	if err != nil {
		return err
	}
	return n.Publisher.Publish(ctx, ev)
}

// EmailNotifier emails clinic staff about changes.
type EmailNotifier struct {
	Manager   *notification.Manager
	Recipient string
}

var emailTemplates = map[events.Type]string{
	events.AppointmentBooked:    notification.TemplateAppointmentBooked,
	events.AppointmentUpdated:   notification.TemplateAppointmentUpdated,
	events.AppointmentCancelled: notification.TemplateAppointmentCancelled,
}

func (n EmailNotifier) Notify(ctx context.Context, c Change) error {
	tpl, ok := emailTemplates[c.Type]
	if !ok || n.Recipient == "" {
		return nil
	}
	a := c.Appointment
	_, err := n.Manager.SendFromTemplate(ctx, tpl, map[string]string{
		"id":           strconv.FormatInt(a.ID, 10),
		"patient_name": a.PatientName,
		"specialty":    string(a.Specialty),
		"doctor_name":  a.DoctorName,
		"date":         a.Date.Format(ChatDateLayout),
		"time":         a.Time.String(),
	}, n.Recipient)
	return err
}
