package livefeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/events"
)

func mustEvent(t *testing.T, typ events.Type) events.Event {
	t.Helper()
	ev, err := events.New(typ, "chat-1", map[string]int64{"id": 1})
	require.NoError(t, err)
	return ev
}

func TestHub_PublishFiltersByTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	all := newClient("admin-1", nil)
	booked := newClient("admin-2", []string{string(events.AppointmentBooked)})
	hub.Register(all)
	hub.Register(booked)

	require.NoError(t, hub.Publish(context.Background(), mustEvent(t, events.AppointmentCancelled)))
	require.NoError(t, hub.Publish(context.Background(), mustEvent(t, events.AppointmentBooked)))

	assert.Len(t, all.Send, 2)
	require.Len(t, booked.Send, 1)
	var got events.Event
	require.NoError(t, json.Unmarshal(<-booked.Send, &got))
	assert.Equal(t, events.AppointmentBooked, got.Type)
}

func TestHub_ApplySubscriptions(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("admin-1", []string{string(events.ReminderDue)})
	hub.Register(c)

	hub.Apply(c, ClientMessage{Action: "subscribe", Topics: []string{string(events.AppointmentBooked)}})
	hub.Apply(c, ClientMessage{Action: "unsubscribe", Topics: []string{string(events.ReminderDue)}})

	assert.True(t, c.wants(events.AppointmentBooked))
	assert.False(t, c.wants(events.ReminderDue))
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("admin-1", nil)
	hub.Register(c)

	for i := 0; i < sendBuffer+5; i++ {
		require.NoError(t, hub.Publish(context.Background(), mustEvent(t, events.AppointmentUpdated)))
	}
	assert.Len(t, c.Send, sendBuffer)
	assert.Equal(t, 5, hub.Dropped())
}

func TestHub_UnregisterAndClose(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a, b := newClient("a", nil), newClient("b", nil)
	hub.Register(a)
	hub.Register(b)

	hub.Unregister(a)
	hub.Unregister(a)
	assert.Equal(t, 1, hub.ClientCount())
	_, open := <-a.Send
	assert.False(t, open)

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.ClientCount())
	_, open = <-b.Send
	assert.False(t, open)
}

func newLiveServer(t *testing.T, hub *Hub, roles ...string) *httptest.Server {
	t.Helper()
	e := echo.New()
	g := e.Group("/api/v1/admin", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), "admin-1", roles)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(hub, nil).RegisterRoutes(g)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newLiveServer(t, hub, auth.RoleAdmin)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/admin/live?topics=appointment.booked"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), mustEvent(t, events.AppointmentCancelled)))
	booked := mustEvent(t, events.AppointmentBooked)
	require.NoError(t, hub.Publish(context.Background(), booked))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var got events.Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, booked.ID, got.ID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandler_RequiresAdmin(t *testing.T) {
	srv := newLiveServer(t, NewHub(zerolog.Nop()), auth.RoleBot)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/v1/admin/live"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), []string{"https://dash.example.com"})
	req := httptest.NewRequest("GET", "/api/v1/admin/live", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, h.upgrader.CheckOrigin(req))
	req.Header.Set("Origin", "https://dash.example.com")
	assert.True(t, h.upgrader.CheckOrigin(req))
}
