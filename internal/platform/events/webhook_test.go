package events

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"id":"1"}`)
	sig := SignPayload(payload, "s3cret")
	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature(payload, "s3cret", sig))
	assert.True(t, VerifySignature(payload, "s3cret", "sha256="+sig))
	assert.False(t, VerifySignature(payload, "other", sig))
	assert.False(t, VerifySignature([]byte(`{"id":"2"}`), "s3cret", sig))
}

func TestNewWebhookPublisher_InvalidURL(t *testing.T) {
	for _, u := range []string{"ftp://example.com/hook", "http://", "::bad"} {
		_, err := NewWebhookPublisher(u, "k")
		assert.Error(t, err, u)
	}
}

func TestWebhookPublisher_DeliversSignedEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !VerifySignature(body, "s3cret", r.Header.Get(SignatureHeader)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "reminder.due", r.Header.Get(EventTypeHeader))
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p, err := NewWebhookPublisher(srv.URL, "s3cret")
	require.NoError(t, err)
	ev, _ := New(ReminderDue, "chat-9", map[string]string{"doctor_name": "Ana Souza"})

	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "chat-9", got.OwnerID)
}

func TestWebhookPublisher_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, _ := NewWebhookPublisher(srv.URL, "k", WithRetryDelays(time.Millisecond, time.Millisecond))
	ev, _ := New(AppointmentBooked, "", nil)
	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookPublisher_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := NewWebhookPublisher(srv.URL, "k", WithRetryDelays(time.Millisecond, time.Millisecond))
	ev, _ := New(AppointmentCancelled, "", nil)
	err := p.Publish(context.Background(), ev)
	assert.ErrorContains(t, err, "status 401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookPublisher_ContextCancelledBetweenAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := NewWebhookPublisher(srv.URL, "k", WithRetryDelays(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	ev, _ := New(AppointmentUpdated, "", nil)
	err := p.Publish(ctx, ev)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type stubPublisher struct {
	err    error
	count  int
	closed bool
}

func (s *stubPublisher) Publish(context.Context, Event) error { s.count++; return s.err }
func (s *stubPublisher) Close() error                         { s.closed = true; return nil }

func TestFanout(t *testing.T) {
	ok := &stubPublisher{}
	bad := &stubPublisher{err: errors.New("broker down")}
	f := Fanout{bad, ok}

	ev, _ := New(AppointmentBooked, "", nil)
	err := f.Publish(context.Background(), ev)
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 1, ok.count, "later publishers still receive the event")

	require.NoError(t, f.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
}
