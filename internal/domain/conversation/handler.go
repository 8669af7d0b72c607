package conversation

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

// Handler exposes the dialogue to the external chat transport.
type Handler struct {
	flow   *Flow
	logger zerolog.Logger
}

func NewHandler(flow *Flow, logger zerolog.Logger) *Handler {
	return &Handler{flow: flow, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/chat", auth.RequireRole(auth.RoleBot))
	g.POST("/messages", h.HandleMessage)
}

func (h *Handler) HandleMessage(c echo.Context) error {
	var msg Message
	if err := c.Bind(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reply, err := h.flow.Handle(c.Request().Context(), msg)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", msg.UserID).Msg("conversation store failed")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "conversation temporarily unavailable")
	}
	return c.JSON(http.StatusOK, reply)
}
