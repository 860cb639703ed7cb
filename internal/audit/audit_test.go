package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	block   chan struct{}
}

func (m *memWriter) Write(_ context.Context, e Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func (m *memWriter) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestAsyncRecordFillsDefaultsAndDrains(t *testing.T) {
	w := &memWriter{}
	a := NewAsync(w, 4, zerolog.Nop())
	a.Record(context.Background(), Entry{TenantID: "t1", Kind: "command.sendText"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	require.Equal(t, 1, w.len())
	e := w.entries[0]
	require.NotEmpty(t, e.ID)
	require.False(t, e.Timestamp.IsZero())
	require.Equal(t, StatusOK, e.Status)

	// Records after close are discarded silently.
	a.Record(context.Background(), Entry{TenantID: "t1", Kind: "late"})
	require.Equal(t, 1, w.len())
}

func TestAsyncWriterErrorsAreSwallowed(t *testing.T) {
	w := &memWriter{err: errors.New("disk full")}
	a := NewAsync(w, 4, zerolog.Nop())
	a.Record(context.Background(), Entry{TenantID: "t1", Kind: "x"})
	a.Record(context.Background(), Entry{TenantID: "t1", Kind: "y"})
	require.NoError(t, a.Close(context.Background()))
	require.Equal(t, 2, w.len())
}

func TestAsyncDropsWhenFull(t *testing.T) {
	w := &memWriter{block: make(chan struct{})}
	a := NewAsync(w, 1, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			a.Record(context.Background(), Entry{TenantID: "t", Kind: "k"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	require.Greater(t, a.Dropped(), uint64(0))
	close(w.block)
	require.NoError(t, a.Close(context.Background()))
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &memWriter{}
	bad := &memWriter{err: errors.New("nope")}
	err := Multi{bad, ok}.Write(context.Background(), Entry{Kind: "k"})
	require.Error(t, err)
	require.Equal(t, 1, ok.len())
}

func TestStoreWriteAndList(t *testing.T) {
	s, err := OpenStore("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	entries := []Entry{
		{ID: "1", TenantID: "a", Kind: "command.sendText", Status: StatusOK, Summary: map[string]any{"to": "123"}, Timestamp: base},
		{ID: "2", TenantID: "a", Kind: "command.sendMedia", Status: StatusError, Error: "boom", Timestamp: base.Add(time.Second)},
		{ID: "3", TenantID: "b", Kind: "command.sendText", Status: StatusOK, Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, s.Write(ctx, e))
	}
	require.NoError(t, s.Write(ctx, entries[0]), "duplicate IDs are ignored")

	got, err := s.List(ctx, Filter{TenantID: "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2", got[0].ID)
	require.Equal(t, "boom", got[0].Error)
	require.Equal(t, "123", got[1].Summary["to"])

	got, err = s.List(ctx, Filter{Kind: "command.sendText", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "3", got[0].ID)
}

type fakeKafka struct {
	msgs []kafka.Message
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error { return nil }

func TestKafkaWriterKeysByTenant(t *testing.T) {
	fk := &fakeKafka{}
	k := &KafkaWriter{w: fk}
	require.NoError(t, k.Write(context.Background(), Entry{ID: "e1", TenantID: "tenant-9", Kind: "command.block", Status: StatusOK}))
	require.Len(t, fk.msgs, 1)
	require.Equal(t, "tenant-9", string(fk.msgs[0].Key))
	var decoded Entry
	require.NoError(t, json.Unmarshal(fk.msgs[0].Value, &decoded))
	require.Equal(t, "e1", decoded.ID)
	require.Equal(t, "kind", fk.msgs[0].Headers[0].Key)
	require.Equal(t, "command.block", string(fk.msgs[0].Headers[0].Value))
}

func TestKafkaWriterProducesInBackground(t *testing.T) {
	var buf bytes.Buffer
	k := NewKafkaWriter([]string{"127.0.0.1:1"}, "wagate.audit", zerolog.New(&buf))
	w, ok := k.w.(*kafka.Writer)
	require.True(t, ok)
	require.True(t, w.Async, "a slow broker must not hold up the audit queue")
	require.Equal(t, "wagate.audit", w.Topic)

	w.Completion([]kafka.Message{{}, {}}, errors.New("broker down"))
	require.Contains(t, buf.String(), "kafka audit batch failed")
	require.Contains(t, buf.String(), `"entries":2`)

	buf.Reset()
	w.Completion([]kafka.Message{{}}, nil)
	require.Empty(t, buf.String())
}

func TestSlackNotifierPostsAlertsOnly(t *testing.T) {
	var (
		mu    sync.Mutex
		posts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		posts = append(posts, r.URL.Path+" "+r.Form.Get("channel")+" "+r.Form.Get("text"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1.0"}`))
	}))
	defer srv.Close()

	n := NewSlackNotifier("xoxb-test", "C1", srv.URL)
	require.NoError(t, n.Write(context.Background(), Entry{TenantID: "a", Kind: "command.sendText"}))
	require.NoError(t, n.Write(context.Background(), Entry{TenantID: "a", Kind: "session.logged_out"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, posts, 1)
	require.True(t, strings.HasPrefix(posts[0], "/chat.postMessage C1 "), posts[0])
	require.Contains(t, posts[0], "session.logged_out")
}
