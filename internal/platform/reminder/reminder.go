// Package reminder publishes a reminder.due event for every appointment
// booked for the next day. The chat transport turns these into messages.
package reminder

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/booking"
	"github.com/clinic/clinic/internal/platform/events"
)

// AppointmentLister is satisfied by *booking.Service.
type AppointmentLister interface {
	ListByDate(ctx context.Context, date booking.Date) ([]*booking.Appointment, error)
}

type Scheduler struct {
	appts     AppointmentLister
	publisher events.Publisher
	logger    zerolog.Logger

	// Hour of day, in Location, at which the daily pass runs.
	Hour     int
	Location *time.Location
	now      func() time.Time
}

func NewScheduler(appts AppointmentLister, pub events.Publisher, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		appts:     appts,
		publisher: pub,
		logger:    logger,
		Location:  time.UTC,
		now:       time.Now,
	}
}

// Result summarizes one pass.
type Result struct {
	Date   booking.Date
	Found  int
	Sent   int
	Failed int
}

// RunOnce publishes reminders for tomorrow's appointments. A failed publish
// is logged and the pass moves on; only a failure to list is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	tomorrow := booking.DateOf(s.now().In(s.Location)).AddDays(1)
	res := Result{Date: tomorrow}

	items, err := s.appts.ListByDate(ctx, tomorrow)
	if err != nil {
		s.logger.Error().Err(err).Str("date", tomorrow.String()).Msg("reminder pass: listing appointments failed")
		return res, err
	}
	res.Found = len(items)
	if len(items) == 0 {
		s.logger.Info().Str("date", tomorrow.String()).Msg("no appointments for tomorrow")
		return res, nil
	}

	for _, a := range items {
		ev, err := events.New(events.ReminderDue, a.OwnerID, booking.PayloadOf(a))
		if err == nil {
			err = s.publisher.Publish(ctx, ev)
		}
		if err != nil {
			res.Failed++
			s.logger.Error().Err(err).Int64("appointment_id", a.ID).Str("owner_id", a.OwnerID).
				Msg("failed to publish reminder")
			continue
		}
		res.Sent++
		s.logger.Debug().Int64("appointment_id", a.ID).Str("owner_id", a.OwnerID).Msg("reminder published")
	}

	s.logger.Info().Str("date", tomorrow.String()).Int("sent", res.Sent).Int("failed", res.Failed).
		Msg("reminder pass complete")
	return res, nil
}

// NextRun is the first time strictly after now when the daily pass is due.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, 0, 0, 0, s.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start runs a pass every day at Hour. It blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		next := s.NextRun(s.now())
		s.logger.Info().Time("next_run", next).Msg("reminder scheduler waiting")
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}
