package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/clinic/internal/domain/booking"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DefaultTTL)

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	d := booking.Date{Year: 2025, Month: 1, Day: 6}
	require.NoError(t, s.Put(ctx, &State{UserID: "u1", Step: StepTime, Date: &d}))
	got, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StepTime, got.Step)
	assert.Equal(t, d, *got.Date)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.Delete(ctx, "u1"))
	got, _ = s.Get(ctx, "u1")
	assert.Nil(t, got)
}

func TestMemoryStore_ExpiresIdleConversations(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(30 * time.Minute)
	s.now = clock.now

	require.NoError(t, s.Put(ctx, &State{UserID: "u1", Step: StepDate}))
	require.NoError(t, s.Put(ctx, &State{UserID: "u2", Step: StepDate}))
	created := clock.t

	// activity on u2 keeps it alive and preserves its creation time
	clock.advance(20 * time.Minute)
	st, _ := s.Get(ctx, "u2")
	require.NoError(t, s.Put(ctx, st))

	clock.advance(15 * time.Minute)
	got, _ := s.Get(ctx, "u1")
	assert.Nil(t, got, "u1 should have expired on read")

	got, _ = s.Get(ctx, "u2")
	require.NotNil(t, got)
	assert.Equal(t, created, got.CreatedAt)

	clock.advance(31 * time.Minute)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, s.Len())
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore(time.Nanosecond)
	require.NoError(t, s.Put(ctx, &State{UserID: "u1"}))

	swept := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, s, time.Millisecond, func(n int, _ error) {
			if n > 0 {
				select {
				case swept <- n:
				default:
				}
			}
		})
		close(done)
	}()

	select {
	case n := <-swept:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, DefaultTTL)

	d := booking.Date{Year: 2025, Month: 1, Day: 6}
	tm := booking.TimeOfDay(14*60 + 30)
	in := &State{UserID: "u1", Step: StepDoctor, Specialty: booking.Pediatrics, Date: &d, Time: &tm}
	require.NoError(t, s.Put(ctx, in))

	assert.True(t, mr.Exists("clinic:conversation:u1"))
	assert.Equal(t, DefaultTTL, mr.TTL("clinic:conversation:u1"))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StepDoctor, got.Step)
	assert.Equal(t, booking.Pediatrics, got.Specialty)
	assert.Equal(t, d, *got.Date)
	assert.Equal(t, tm, *got.Time)

	require.NoError(t, s.Delete(ctx, "u1"))
	got, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_KeyExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, 30*time.Minute)
	require.NoError(t, s.Put(ctx, &State{UserID: "u1", Step: StepDate}))

	mr.FastForward(31 * time.Minute)
	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_UnreadableValueIsDropped(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t, DefaultTTL)
	require.NoError(t, mr.Set("clinic:conversation:u1", "{not json"))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("clinic:conversation:u1"))
}

func TestRedisStore_ServerDown(t *testing.T) {
	s, mr := newRedisStore(t, DefaultTTL)
	mr.Close()

	_, err := s.Get(context.Background(), "u1")
	assert.Error(t, err)
	assert.Error(t, s.Put(context.Background(), &State{UserID: "u1"}))
}
