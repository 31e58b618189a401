package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/pagesnap/capture/report"
)

func event(id, typ string) report.Event {
	return report.Event{SessionID: id, Type: typ, Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	ctx := context.Background()
	if err := s.Send(ctx, event("cap_1", report.EventStatus)); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(ctx, report.Event{SessionID: "cap_1", Type: report.EventProgress, Done: 3, Total: 9}); err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var ev report.Event
	if err := json.Unmarshal(lines[1], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Done != 3 || ev.Total != 9 || ev.Type != report.EventProgress {
		t.Errorf("decoded = %+v", ev)
	}
}

func TestRouter_FirstErrorAndFanOut(t *testing.T) {
	var got []string
	record := func(name string, err error) Sink {
		return NewCallback(func(_ context.Context, ev report.Event) error {
			got = append(got, name+":"+ev.Type)
			return err
		})
	}
	errA := errors.New("a failed")
	r := NewRouter(nil, record("a", errA), record("b", errors.New("b failed")), record("c", nil))
	err := r.Send(context.Background(), event("cap_1", report.EventDone))
	if !errors.Is(err, errA) {
		t.Errorf("err = %v, want first error", err)
	}
	if len(got) != 3 {
		t.Errorf("delivered to %v, want all three sinks", got)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCallback_NilFunc(t *testing.T) {
	if err := NewCallback(nil).Send(context.Background(), event("x", report.EventStatus)); err != nil {
		t.Fatal(err)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev report.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.SessionID != "cap_1" {
			t.Errorf("bad body: %v %+v", err, ev)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond), WithWebhookClient(srv.Client()))
	if err := w.Send(context.Background(), event("cap_1", report.EventDone)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), event("cap_1", report.EventDone)); err == nil {
		t.Fatal("expected error")
	}
}

func TestHub_FilterAndUnsubscribe(t *testing.T) {
	h := NewHub(4)
	one, cancelOne := h.Subscribe("cap_1")
	all, cancelAll := h.Subscribe("")
	defer cancelAll()

	ctx := context.Background()
	h.Send(ctx, event("cap_1", report.EventStatus))
	h.Send(ctx, event("cap_2", report.EventStatus))

	if ev := <-one; ev.SessionID != "cap_1" {
		t.Errorf("session channel got %s", ev.SessionID)
	}
	select {
	case ev := <-one:
		t.Errorf("unexpected event for %s", ev.SessionID)
	default:
	}
	if a, b := <-all, <-all; a.SessionID != "cap_1" || b.SessionID != "cap_2" {
		t.Errorf("wildcard got %s, %s", a.SessionID, b.SessionID)
	}

	cancelOne()
	cancelOne()
	if _, ok := <-one; ok {
		t.Error("channel not closed after cancel")
	}
}

func TestHub_DropsWhenFull(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("cap_1")
	defer cancel()
	for range 3 {
		h.Send(context.Background(), event("cap_1", report.EventProgress))
	}
	if h.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", h.Dropped())
	}
	<-ch
}

func TestHub_Close(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("cap_1")
	h.Close()
	if _, ok := <-ch; ok {
		t.Error("channel open after Close")
	}
	cancel()
	late, _ := h.Subscribe("cap_1")
	if _, ok := <-late; ok {
		t.Error("subscription after Close is open")
	}
}

func TestQueue_SendNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	var delivered atomic.Int32
	q := NewQueue(NewCallback(func(ctx context.Context, _ report.Event) error {
		<-release
		delivered.Add(1)
		return nil
	}), WithQueueSize(1))

	start := time.Now()
	for range 5 {
		if err := q.Send(context.Background(), event("cap_1", report.EventProgress)); err != nil {
			t.Fatal(err)
		}
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Errorf("Send blocked for %s", d)
	}
	if q.Dropped() < 3 {
		t.Errorf("dropped = %d, want at least 3", q.Dropped())
	}
	close(release)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if got := delivered.Load(); got < 1 || got > 2 {
		t.Errorf("delivered = %d", got)
	}
}

func TestQueue_CloseFlushesInOrder(t *testing.T) {
	var got []string
	q := NewQueue(NewCallback(func(_ context.Context, ev report.Event) error {
		got = append(got, ev.Type)
		return nil
	}))
	for _, typ := range []string{report.EventStatus, report.EventProgress, report.EventDone} {
		q.Send(context.Background(), event("cap_1", typ))
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != report.EventStatus || got[2] != report.EventDone {
		t.Errorf("delivered %v", got)
	}
	q.Send(context.Background(), event("cap_1", report.EventStatus))
	if err := q.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestQueue_CloseAbortsFailingWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := NewQueue(NewWebhook(srv.URL, WithWebhookBackoff(time.Second)), WithQueueGrace(20*time.Millisecond))
	for range 3 {
		q.Send(context.Background(), event("cap_1", report.EventStatus))
	}
	start := time.Now()
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d > 900*time.Millisecond {
		t.Errorf("Close took %s", d)
	}
}
