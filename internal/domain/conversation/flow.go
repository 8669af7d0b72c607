package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/booking"
)

// Button labels the transport renders as a reply keyboard.
const (
	OptionBook         = "Book appointment"
	OptionAppointments = "My appointments"
)

const tryLater = "We could not reach the booking system right now. Please try again later."

// Booker is the part of booking.Service the dialogue needs.
type Booker interface {
	Today() booking.Date
	Check(ctx context.Context, doctorName string, date booking.Date, t booking.TimeOfDay, excludingID *int64) (booking.Decision, error)
	DoctorsOn(ctx context.Context, date booking.Date) ([]string, error)
	Book(ctx context.Context, a *booking.Appointment) error
	ListByOwner(ctx context.Context, ownerID string) ([]*booking.Appointment, error)
	Cancel(ctx context.Context, id int64, ownerID string) (*booking.Appointment, error)
}

// Message is one inbound chat message. UserID is the transport's stable id
// for the sender and becomes the appointment owner.
type Message struct {
	UserID string `json:"user_id" validate:"notblank,max=100"`
	Text   string `json:"text" validate:"max=1000"`
}

// Reply is plain text plus optional keyboard options. Formatting is left to
// the transport.
type Reply struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

func text(format string, args ...interface{}) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

type Flow struct {
	svc    Booker
	store  Store
	faq    []FAQEntry
	logger zerolog.Logger
}

func NewFlow(svc Booker, store Store, logger zerolog.Logger) *Flow {
	return &Flow{svc: svc, store: store, faq: DefaultFAQ, logger: logger}
}

// WithFAQ replaces the canned answers used for free text.
func (f *Flow) WithFAQ(entries []FAQEntry) *Flow {
	f.faq = entries
	return f
}

// Handle advances userID's conversation by one message. The returned error is
// reserved for conversation store failures; booking outcomes, including an
// unavailable booking store, are replies.
func (f *Flow) Handle(ctx context.Context, msg Message) (Reply, error) {
	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		return Reply{}, errors.New("conversation: user id is required")
	}
	input := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(input, "/") {
		return f.command(ctx, userID, input)
	}

	st, err := f.store.Get(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	if st != nil {
		return f.step(ctx, st, input)
	}

	switch {
	case strings.EqualFold(input, OptionBook):
		return f.startBooking(ctx, userID)
	case strings.EqualFold(input, OptionAppointments):
		return f.listAppointments(ctx, userID), nil
	}
	if answer, ok := matchFAQ(f.faq, input); ok {
		return Reply{Text: answer}, nil
	}
	return Reply{Text: "Sorry, I did not understand that. Try rephrasing, or send /help to see what I can do."}, nil
}

func (f *Flow) command(ctx context.Context, userID, input string) (Reply, error) {
	fields := strings.Fields(input)
	name, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch name {
	case "/start":
		if err := f.store.Delete(ctx, userID); err != nil {
			return Reply{}, err
		}
		return f.greet(ctx, userID), nil
	case "/help":
		return Reply{Text: helpText}, nil
	case "/book":
		return f.startBooking(ctx, userID)
	case "/appointments":
		return f.listAppointments(ctx, userID), nil
	case "/cancel":
		if len(args) > 0 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return Reply{Text: "Please use the right format, for example: /cancel 123"}, nil
			}
			return f.cancel(ctx, userID, id)
		}
		if err := f.store.Put(ctx, &State{UserID: userID, Step: StepCancel}); err != nil {
			return Reply{}, err
		}
		return Reply{Text: "To cancel an appointment, send its ID. You can see your IDs with /appointments."}, nil
	}
	return Reply{Text: "Unknown command. Send /help to see what I can do."}, nil
}

const helpText = `Here are the commands you can use:
/book - start booking an appointment
/appointments - list your booked appointments
/cancel [ID] - cancel one of your appointments
You can also ask about our opening hours, specialties and accepted health plans.`

func (f *Flow) greet(ctx context.Context, userID string) Reply {
	items, err := f.svc.ListByOwner(ctx, userID)
	if err != nil {
		f.logger.Warn().Err(err).Str("user_id", userID).Msg("looking up returning user")
	}
	if len(items) > 0 {
		first := strings.Fields(items[0].PatientName)
		if len(first) > 0 {
			return Reply{
				Text:    fmt.Sprintf("Hello, %s! Welcome back. How can I help you today?", first[0]),
				Options: []string{OptionBook, OptionAppointments},
			}
		}
	}
	return Reply{Text: "Hello! Welcome to our clinic. How can I help?", Options: []string{OptionBook}}
}

func specialtyOptions() []string {
	out := make([]string, len(booking.Specialties))
	for i, s := range booking.Specialties {
		out[i] = string(s)
	}
	return out
}

func (f *Flow) startBooking(ctx context.Context, userID string) (Reply, error) {
	if err := f.store.Put(ctx, &State{UserID: userID, Step: StepSpecialty}); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "To book your appointment, please choose a specialty:", Options: specialtyOptions()}, nil
}

func (f *Flow) step(ctx context.Context, st *State, input string) (Reply, error) {
	var (
		reply Reply
		done  bool
	)
	switch st.Step {
	case StepSpecialty:
		reply = f.onSpecialty(st, input)
	case StepDate:
		reply = f.onDate(st, input)
	case StepTime:
		reply = f.onTime(ctx, st, input)
	case StepDoctor:
		reply, done = f.onDoctor(ctx, st, input)
	case StepName:
		reply, done = f.onName(ctx, st, input)
	case StepCancel:
		id, err := strconv.ParseInt(input, 10, 64)
		if err != nil {
			return Reply{Text: "Invalid input. Please send only the appointment ID."}, nil
		}
		return f.cancel(ctx, st.UserID, id)
	default:
		done = true
		reply = Reply{Text: helpText}
	}

	if done {
		if err := f.store.Delete(ctx, st.UserID); err != nil {
			return Reply{}, err
		}
		return reply, nil
	}
	if err := f.store.Put(ctx, st); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

func (f *Flow) onSpecialty(st *State, input string) Reply {
	sp, err := booking.ParseSpecialty(input)
	if err != nil {
		return Reply{Text: "Please choose a specialty from the list.", Options: specialtyOptions()}
	}
	st.Specialty = sp
	st.Step = StepDate
	return text("You chose %s. Please enter the date you would like (DD/MM/YYYY).", sp)
}

func (f *Flow) onDate(st *State, input string) Reply {
	d, err := booking.ParseChatDate(input)
	if err != nil {
		return Reply{Text: "Invalid date format. Please use DD/MM/YYYY."}
	}
	if d.Before(f.svc.Today()) {
		return Reply{Text: "The date must be today or later."}
	}
	st.Date = &d
	st.Step = StepTime
	return text("Date registered: %s. What time would you like? For example: 14:30", d.Format(booking.ChatDateLayout))
}

func (f *Flow) onTime(ctx context.Context, st *State, input string) Reply {
	t, err := booking.ParseTimeOfDay(input)
	if err != nil {
		return Reply{Text: "Invalid time format. Please use HH:MM."}
	}
	st.Time = &t
	st.Step = StepDoctor
	return Reply{
		Text:    fmt.Sprintf("Time registered: %s. Which doctor would you like to see?", t),
		Options: f.doctorOptions(ctx, *st.Date),
	}
}

func (f *Flow) doctorOptions(ctx context.Context, d booking.Date) []string {
	names, err := f.svc.DoctorsOn(ctx, d)
	if err != nil {
		f.logger.Warn().Err(err).Msg("listing doctors for chat options")
		return nil
	}
	return names
}

func rejectionText(d booking.Decision) string {
	switch d.Reason {
	case booking.ReasonOutsideWorkingHours:
		return fmt.Sprintf("%s does not see patients on %s at %s. Please try another time or day.", d.DoctorName, d.Weekday, d.Time)
	case booking.ReasonSlotAlreadyBooked:
		return fmt.Sprintf("The %s slot with %s is already taken. Please try another time or date.", d.Time, d.DoctorName)
	}
	return d.Message()
}

// onDoctor runs the availability check. A rejection keeps the user at this
// step; an unreachable store ends the conversation.
func (f *Flow) onDoctor(ctx context.Context, st *State, input string) (Reply, bool) {
	name := booking.CanonicalDoctorName(input)
	if name == "" {
		return Reply{Text: "Please tell me the doctor's name."}, false
	}
	d, err := f.svc.Check(ctx, name, *st.Date, *st.Time, nil)
	if err != nil {
		if errors.Is(err, booking.ErrStoreUnavailable) {
			f.logger.Error().Err(err).Str("user_id", st.UserID).Msg("availability check failed")
			return Reply{Text: tryLater}, true
		}
		return Reply{Text: "Please tell me the doctor's name."}, false
	}
	if !d.Accepted {
		return Reply{Text: rejectionText(d), Options: f.doctorOptions(ctx, *st.Date)}, false
	}
	st.Doctor = name
	st.Step = StepName
	return text("Great, %s. Now please enter your full name to finish the booking.", name), false
}

func (f *Flow) onName(ctx context.Context, st *State, input string) (Reply, bool) {
	if input == "" {
		return Reply{Text: "Please enter your full name."}, false
	}
	a := &booking.Appointment{
		PatientName: input,
		Specialty:   st.Specialty,
		DoctorName:  st.Doctor,
		Date:        *st.Date,
		Time:        *st.Time,
		OwnerID:     st.UserID,
	}
	err := f.svc.Book(ctx, a)

	var rejected *booking.RejectedError
	switch {
	case err == nil:
		return text("Booking confirmed, %s! Your appointment with %s (%s) is on %s at %s. Appointment ID: %d.",
			a.PatientName, a.DoctorName, a.Specialty, a.Date.Format(booking.ChatDateLayout), a.Time, a.ID), true
	case errors.As(err, &rejected):
		// someone else took the slot between the check and the insert
		st.Step = StepDoctor
		st.Doctor = ""
		return Reply{Text: rejectionText(rejected.Decision), Options: f.doctorOptions(ctx, *st.Date)}, false
	case errors.Is(err, booking.ErrInvalidInput):
		return text("We could not book this appointment: %v. Send /book to start again.", err), true
	}
	f.logger.Error().Err(err).Str("user_id", st.UserID).Msg("chat booking failed")
	return Reply{Text: tryLater}, true
}

func (f *Flow) listAppointments(ctx context.Context, userID string) Reply {
	items, err := f.svc.ListByOwner(ctx, userID)
	if err != nil {
		f.logger.Error().Err(err).Str("user_id", userID).Msg("listing chat appointments")
		return Reply{Text: tryLater}
	}
	if len(items) == 0 {
		return Reply{Text: "You have no appointments booked.", Options: []string{OptionBook}}
	}
	var b strings.Builder
	b.WriteString("Your appointments:\n\n")
	for _, a := range items {
		fmt.Fprintf(&b, "ID: %d\nSpecialty: %s\nDoctor: %s\nDate: %s at %s\n\n",
			a.ID, a.Specialty, a.DoctorName, a.Date.Format(booking.ChatDateLayout), a.Time)
	}
	b.WriteString("Use /cancel [ID] to cancel an appointment, for example: /cancel 123")
	return Reply{Text: b.String()}
}

// cancel always ends any conversation the user had open.
func (f *Flow) cancel(ctx context.Context, userID string, id int64) (Reply, error) {
	if err := f.store.Delete(ctx, userID); err != nil {
		return Reply{}, err
	}
	a, err := f.svc.Cancel(ctx, id, userID)
	switch {
	case errors.Is(err, booking.ErrNotFound):
		return text("No appointment found with ID %d.", id), nil
	case err != nil:
		f.logger.Error().Err(err).Str("user_id", userID).Int64("appointment_id", id).Msg("chat cancel failed")
		return Reply{Text: tryLater}, nil
	}
	return text("Your %s appointment with %s on %s at %s has been cancelled.",
		a.Specialty, a.DoctorName, a.Date.Format(booking.ChatDateLayout), a.Time), nil
}
