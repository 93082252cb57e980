// Package types holds the data model shared across every tier: points,
// series keys, and the abstract error kinds the engine surfaces to callers.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// Point is an immutable (timestamp, value) pair. Timestamps are milliseconds
// since the Unix epoch and must be strictly positive; values may be any
// IEEE-754 double, including NaN and ±Inf.
type Point struct {
	Timestamp int64
	Value     float64
}

// SeriesKey canonicalizes a caller-supplied series name: trimmed, rejected
// if empty or if it contains a path separator unsafe for the local
// filesystem or blob-store key space.
func SeriesKey(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("series name: %w", ErrInvalidInput)
	}
	if strings.ContainsAny(trimmed, "/\\\x00") {
		return "", fmt.Errorf("series name %q contains an unsafe path separator: %w", name, ErrInvalidInput)
	}
	return trimmed, nil
}

// Tier identifies one of the three storage levels a point or block can live in.
type Tier int

const (
	TierMemory Tier = iota
	TierDisk
	TierArchive
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	case TierArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// TierStats reports usage for a single tier.
type TierStats struct {
	Tier        Tier
	SeriesCount int64
	BlockCount  int64
	PointCount  int64
	TotalBytes  int64
}

// Abstract error kinds per the engine's error handling design. These are
// sentinels, not concrete types: callers match with errors.Is.
var (
	// ErrInvalidInput is caller-facing: empty series name, negative
	// timestamp, inverted range. Reported synchronously.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCorruptBlock marks a block that failed magic/version/length
	// checks during decode. The block is excluded from the answer.
	ErrCorruptBlock = errors.New("corrupt block")

	// ErrTierUnavailable marks a blob-store or filesystem I/O failure.
	ErrTierUnavailable = errors.New("tier unavailable")

	// ErrConflict is returned when a data directory is already locked
	// by another engine instance.
	ErrConflict = errors.New("conflict")

	// ErrShutdown is returned to callers of insert/query after
	// shutdown() begins.
	ErrShutdown = errors.New("engine is shutting down")

	// ErrNotFound is returned by BlobStore.Get for a missing key. Delete is
	// idempotent and returns nil for a missing key.
	ErrNotFound = errors.New("not found")
)

// ValidatePoint enforces the Point invariant: strictly positive timestamps.
// NaN and ±Inf values are always valid.
func ValidatePoint(p Point) error {
	if p.Timestamp <= 0 {
		return fmt.Errorf("timestamp %d must be strictly positive: %w", p.Timestamp, ErrInvalidInput)
	}
	return nil
}

// ValidateRange enforces t_lo <= t_hi.
func ValidateRange(tLo, tHi int64) error {
	if tLo > tHi {
		return fmt.Errorf("t_lo (%d) > t_hi (%d): %w", tLo, tHi, ErrInvalidInput)
	}
	return nil
}
