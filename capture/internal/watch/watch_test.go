package watch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/pagesnap/capture/internal/store"
	"github.com/hazyhaar/pagesnap/dbopen"
)

// counter is a Detector whose token the test controls.
type counter struct{ v atomic.Int64 }

func (c *counter) detect(context.Context) (int64, error) { return c.v.Load(), nil }

func TestOnChange_FiresOnVersionChange(t *testing.T) {
	var tok counter
	var reloads atomic.Int32
	w := New(tok.detect, Options{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		reloads.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	tok.v.Store(1)
	time.Sleep(80 * time.Millisecond)
	if got := reloads.Load(); got != 1 {
		t.Fatalf("expected 1 reload, got %d", got)
	}

	tok.v.Store(2)
	time.Sleep(80 * time.Millisecond)
	if got := reloads.Load(); got != 2 {
		t.Fatalf("expected 2 reloads, got %d", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := reloads.Load(); got != 2 {
		t.Fatalf("expected still 2, got %d", got)
	}
	if w.Version() != 2 {
		t.Errorf("version = %d", w.Version())
	}
}

func TestOnChange_Debounce(t *testing.T) {
	var tok counter
	var reloads atomic.Int32
	w := New(tok.detect, Options{Interval: 20 * time.Millisecond, Debounce: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		reloads.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	for i := int64(1); i <= 5; i++ {
		tok.v.Store(i)
		time.Sleep(15 * time.Millisecond)
	}
	if got := reloads.Load(); got != 0 {
		t.Fatalf("expected 0 reloads during debounce, got %d", got)
	}

	time.Sleep(200 * time.Millisecond)
	if got := reloads.Load(); got != 1 {
		t.Fatalf("expected exactly 1 debounced reload, got %d", got)
	}
	if w.Version() != 5 {
		t.Errorf("version = %d, want 5", w.Version())
	}
}

func TestOnChange_FailedReloadRetries(t *testing.T) {
	var tok counter
	var calls atomic.Int32
	w := New(tok.detect, Options{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		if calls.Add(1) == 1 {
			return errors.New("bad setting")
		}
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	tok.v.Store(1)
	time.Sleep(120 * time.Millisecond)

	if got := calls.Load(); got < 2 {
		t.Fatalf("expected a retry after the failed reload, got %d calls", got)
	}
	if v := w.Version(); v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
	if s := w.Stats(); s.Errors == 0 || s.Reloads == 0 || s.Checks == 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestOnChange_StoreFingerprint(t *testing.T) {
	st := &store.Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))}
	var reloads atomic.Int32
	w := New(st.Fingerprint, Options{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.OnChange(ctx, func() error {
		reloads.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	if err := st.AddDenyPattern(ctx, `/example\.com/`); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := reloads.Load(); got != 1 {
		t.Fatalf("reloads after denylist edit = %d, want 1", got)
	}
}
