package booking

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Dashboard: staff only
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/appointments", h.ListAppointments)
	admin.GET("/appointments/:id", h.GetAppointment)
	admin.PUT("/appointments/:id", h.UpdateAppointment)
	admin.DELETE("/appointments/:id", h.DeleteAppointment)
	admin.GET("/availability", h.ListAvailability)
	admin.GET("/availability/:id", h.GetAvailability)
	admin.POST("/availability", h.CreateAvailability)
	admin.PUT("/availability/:id", h.UpdateAvailability)
	admin.DELETE("/availability/:id", h.DeleteAvailability)

	// Booking API: end users and the chat transport
	callers := api.Group("", auth.RequireRole(auth.RoleUser, auth.RoleBot))
	callers.POST("/appointments", h.CreateAppointment)
	callers.POST("/appointments/validate", h.ValidateSlot)
	callers.GET("/me/appointments", h.ListMyAppointments)
	callers.DELETE("/me/appointments/:id", h.CancelMyAppointment)
}

// -- Request bodies --

type appointmentRequest struct {
	PatientName string `json:"patient_name" validate:"notblank,max=200"`
	Specialty   string `json:"specialty" validate:"required,oneof=Cardiology Dermatology Gynecology Pediatrics"`
	DoctorName  string `json:"doctor_name" validate:"notblank,max=200"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Time        string `json:"time" validate:"required,hhmm"`
	// OwnerID lets the chat transport book on behalf of a chat user.
	OwnerID string `json:"owner_id" validate:"omitempty,max=100"`
}

func (r *appointmentRequest) appointment() (*Appointment, error) {
	date, err := ParseDate(DateLayout, r.Date)
	if err != nil {
		return nil, invalid("%v", err)
	}
	t, err := ParseTimeOfDay(r.Time)
	if err != nil {
		return nil, invalid("%v", err)
	}
	return &Appointment{
		PatientName: r.PatientName,
		Specialty:   Specialty(r.Specialty),
		DoctorName:  CanonicalDoctorName(r.DoctorName),
		Date:        date,
		Time:        t,
	}, nil
}

type slotRequest struct {
	DoctorName string `json:"doctor_name" validate:"notblank,max=200"`
	Weekday    string `json:"weekday" validate:"required,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	StartTime  string `json:"start_time" validate:"required,hhmm"`
	EndTime    string `json:"end_time" validate:"required,hhmm"`
}

func (r *slotRequest) slot() (*AvailabilitySlot, error) {
	w, err := ParseWeekday(r.Weekday)
	if err != nil {
		return nil, invalid("%v", err)
	}
	start, err := ParseTimeOfDay(r.StartTime)
	if err != nil {
		return nil, invalid("%v", err)
	}
	end, err := ParseTimeOfDay(r.EndTime)
	if err != nil {
		return nil, invalid("%v", err)
	}
	return &AvailabilitySlot{DoctorName: CanonicalDoctorName(r.DoctorName), Weekday: w, StartTime: start, EndTime: end}, nil
}

type validateRequest struct {
	DoctorName  string `json:"doctor_name" validate:"notblank"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Time        string `json:"time" validate:"required,hhmm"`
	ExcludingID *int64 `json:"excluding_id"`
}

func bindValid(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// fail maps service errors onto HTTP responses. Rejections are 409 with the
// decision as body so clients can tell the two reasons apart.
func (h *Handler) fail(c echo.Context, err error) error {
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		return c.JSON(http.StatusConflict, rejectionBody(rejected.Decision))
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrStoreUnavailable):
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("booking store unavailable")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "booking temporarily unavailable, try again later")
	}
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("unexpected booking error")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func rejectionBody(d Decision) map[string]interface{} {
	body := map[string]interface{}{
		"reason":      d.Reason,
		"message":     d.Message(),
		"doctor_name": d.DoctorName,
	}
	switch d.Reason {
	case ReasonOutsideWorkingHours:
		body["weekday"] = d.Weekday
	case ReasonSlotAlreadyBooked:
		body["date"] = d.Date
		body["time"] = d.Time
	}
	return body
}

// -- Appointment Handlers --

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req appointmentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	a, err := req.appointment()
	if err != nil {
		return h.fail(c, err)
	}
	ctx := c.Request().Context()
	a.OwnerID = auth.UserIDFromContext(ctx)
	if req.OwnerID != "" && auth.HasRole(auth.RolesFromContext(ctx), auth.RoleBot) {
		a.OwnerID = req.OwnerID
	}
	if err := h.svc.Book(ctx, a); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ValidateSlot(c echo.Context) error {
	var req validateRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	date, err := ParseDate(DateLayout, req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := ParseTimeOfDay(req.Time)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.Check(c.Request().Context(), CanonicalDoctorName(req.DoctorName), date, t, req.ExcludingID)
	if err != nil {
		return h.fail(c, err)
	}
	if !d.Accepted {
		return c.JSON(http.StatusOK, rejectionBody(d))
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// ListAppointments is the dashboard list; ?search= filters on patient,
// specialty and doctor.
func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithNext(c.Request().URL))
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req appointmentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	a, err := req.appointment()
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.Reschedule(c.Request().Context(), id, a); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if _, err := h.svc.Cancel(c.Request().Context(), id, ""); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMyAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.ListByOwner(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return h.fail(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CancelMyAppointment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	a, err := h.svc.Cancel(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Availability Handlers --

func (h *Handler) ListAvailability(c echo.Context) error {
	items, err := h.svc.ListAvailability(c.Request().Context(), c.QueryParam("doctor"))
	if err != nil {
		return h.fail(c, err)
	}
	if items == nil {
		items = []*AvailabilitySlot{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	sl, err := h.svc.GetAvailabilitySlot(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) CreateAvailability(c echo.Context) error {
	var req slotRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	sl, err := req.slot()
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.AddAvailability(c.Request().Context(), sl); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, sl)
}

func (h *Handler) UpdateAvailability(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req slotRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	sl, err := req.slot()
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.svc.ReplaceAvailability(c.Request().Context(), id, sl); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAvailability(c.Request().Context(), id); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
