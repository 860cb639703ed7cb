package broadcast

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Name)
	}
	return out
}

func TestPublishReachesCurrentSubscribersOnly(t *testing.T) {
	b := New(8, zerolog.Nop())
	a1, a2, other := &recordingSink{}, &recordingSink{}, &recordingSink{}
	b.Subscribe("A", a1)
	b.Subscribe("A", a2)
	b.Subscribe("B", other)

	b.Publish("A", "qr", "code-1")

	require.Eventually(t, func() bool {
		return len(a1.names()) == 1 && len(a2.names()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, other.names())

	late := &recordingSink{}
	b.Subscribe("A", late)
	b.Publish("A", "connected", nil)
	require.Eventually(t, func() bool { return len(late.names()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"connected"}, late.names())
	require.Equal(t, []string{"qr", "connected"}, a1.names())
}

func TestFailingSinkRemovedWithoutAffectingOthers(t *testing.T) {
	b := New(8, zerolog.Nop())
	good := &recordingSink{}
	bad := b.Subscribe("A", SinkFunc(func(Event) error { return errors.New("broken pipe") }))
	b.Subscribe("A", good)

	b.Publish("A", "message", 1)

	select {
	case <-bad.Done():
	case <-time.After(time.Second):
		t.Fatal("failing subscriber was not removed")
	}
	require.Eventually(t, func() bool { return b.Count("A") == 1 }, time.Second, 5*time.Millisecond)

	b.Publish("A", "message", 2)
	require.Eventually(t, func() bool { return len(good.names()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSlowSinkDoesNotBlockPublisher(t *testing.T) {
	b := New(2, zerolog.Nop())
	release := make(chan struct{})
	defer close(release)
	slow := b.Subscribe("A", SinkFunc(func(Event) error {
		<-release
		return nil
	}))
	fast := &recordingSink{}
	b.Subscribe("A", fast)

	for i := 0; i < 10; i++ {
		start := time.Now()
		b.Publish("A", "presence", i)
		require.Less(t, time.Since(start), 500*time.Millisecond, "publish blocked on a slow sink")
		want := i + 1
		require.Eventually(t, func() bool { return len(fast.names()) == want }, time.Second, time.Millisecond)
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("overflowing subscriber was not dropped")
	}
	require.Equal(t, 1, b.Count("A"))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(1, zerolog.Nop())
	sub := b.Subscribe("A", &recordingSink{})
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
	require.Equal(t, 0, b.Count("A"))
	select {
	case <-sub.Done():
	default:
		t.Fatal("expected done to be closed")
	}
}

func TestCloseTenant(t *testing.T) {
	b := New(1, zerolog.Nop())
	s1 := b.Subscribe("A", &recordingSink{})
	s2 := b.Subscribe("B", &recordingSink{})
	b.CloseTenant("A")
	<-s1.Done()
	require.Equal(t, 0, b.Count("A"))
	require.Equal(t, 1, b.Count("B"))
	b.Close()
	<-s2.Done()
}
