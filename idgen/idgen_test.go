package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("cap_", UUIDv7())
	id := gen()
	if !strings.HasPrefix(id, "cap_") {
		t.Fatalf("Prefixed: expected prefix 'cap_', got %q", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "cap_")); err != nil {
		t.Fatalf("Prefixed: suffix is not a UUID: %v", err)
	}
}

func TestSequence_Concurrent(t *testing.T) {
	gen := Sequence("s")
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 50 {
		t.Fatalf("Sequence: got %d unique ids, want 50", len(seen))
	}
	if !seen["s-1"] || !seen["s-50"] {
		t.Errorf("Sequence: expected s-1 and s-50 in %v", seen)
	}
}

func TestTimestamped(t *testing.T) {
	id := Timestamped(Sequence("x"))()
	if !strings.Contains(id, "T") || !strings.HasSuffix(id, "Z_x-1") {
		t.Fatalf("Timestamped: bad format %q", id)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("Parse: expected error for invalid UUID")
	}
}
