// Package idgen provides pluggable ID generation for capture sessions and
// archive bookkeeping.
//
// Constructors that mint identifiers (session.Guard, store.Store) accept a
// Generator so tests can swap in a deterministic sequence.
package idgen

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so capture history lists in start order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID
// (e.g. "cap_" for capture sessions).
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator producing prefix-1, prefix-2, ... Safe for
// concurrent use. Intended for tests and reproducible runs.
func Sequence(prefix string) Generator {
	var n atomic.Uint64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

// Timestamped returns a Generator that produces IDs in the format
// "20060102T150405Z_<suffix>". Used for archive file names.
func Timestamped(gen Generator) Generator {
	return func() string {
		return time.Now().UTC().Format("20060102T150405Z") + "_" + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string and returns it or an error.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return u.String(), nil
}
