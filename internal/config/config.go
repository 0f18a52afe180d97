// Package config holds the tunable retention and size limits for the
// run-state store. Limits arrive as a URL query string (the producer's
// dashboards embed them in links), so parsing is lenient: a malformed
// field keeps its default and produces a warning instead of failing the
// whole parse.
package config

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Options bounds per-run retention and snapshot sizes.
type Options struct {
	// MaxEventsPerRun caps the per-run event buffer; the oldest events are
	// evicted first once exceeded.
	MaxEventsPerRun int

	// MaxRuns caps how many runs the store observes at once.
	MaxRuns int

	// CheckpointInterval is the number of applied events between automatic
	// state snapshots.
	CheckpointInterval int

	// MaxCheckpointsPerRun caps the per-run checkpoint list.
	MaxCheckpointsPerRun int

	// MaxCheckpointStateSizeBytes rejects checkpoint snapshots whose
	// canonical form exceeds this many bytes.
	MaxCheckpointStateSizeBytes int64

	// MaxFullStateSizeBytes rejects full-state replacements (snapshot and
	// producer-checkpoint events) above this size.
	MaxFullStateSizeBytes int64

	// MaxSchemaJSONSizeBytes caps the declared-schema payload accepted
	// from graph_start events.
	MaxSchemaJSONSizeBytes int64
}

// Defaults returns the limits used when no tuning is supplied.
func Defaults() Options {
	return Options{
		MaxEventsPerRun:             5000,
		MaxRuns:                     25,
		CheckpointInterval:          50,
		MaxCheckpointsPerRun:        20,
		MaxCheckpointStateSizeBytes: 2 << 20,
		MaxFullStateSizeBytes:       8 << 20,
		MaxSchemaJSONSizeBytes:      1 << 20,
	}
}

// FromQuery reads recognized options out of q, starting from Defaults.
// Integer fields must be positive; size fields take an optional
// case-insensitive K, M, or G suffix (multiples of 1024). Each malformed
// or non-positive value yields one warning and leaves its default in
// place. Unrecognized keys are ignored silently.
func FromQuery(q url.Values) (Options, []string) {
	opts := Defaults()
	var warnings []string

	intFields := []struct {
		key string
		dst *int
	}{
		{"maxEventsPerRun", &opts.MaxEventsPerRun},
		{"maxRuns", &opts.MaxRuns},
		{"checkpointInterval", &opts.CheckpointInterval},
		{"maxCheckpointsPerRun", &opts.MaxCheckpointsPerRun},
	}
	for _, f := range intFields {
		raw := q.Get(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || v <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s: ignoring %q, keeping %d", f.key, raw, *f.dst))
			continue
		}
		*f.dst = v
	}

	sizeFields := []struct {
		key string
		dst *int64
	}{
		{"maxCheckpointStateSizeBytes", &opts.MaxCheckpointStateSizeBytes},
		{"maxFullStateSizeBytes", &opts.MaxFullStateSizeBytes},
		{"maxSchemaJsonSizeBytes", &opts.MaxSchemaJSONSizeBytes},
	}
	for _, f := range sizeFields {
		raw := q.Get(f.key)
		if raw == "" {
			continue
		}
		v, err := parseByteSize(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: ignoring %q, keeping %d", f.key, raw, *f.dst))
			continue
		}
		*f.dst = v
	}

	return opts, warnings
}

// parseByteSize parses a positive byte count with an optional K, M, or G
// suffix. "2M" is 2 MiB, not 2 MB.
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	mult := int64(1)
	if n := len(s); n > 0 {
		switch s[n-1] {
		case 'k', 'K':
			mult, s = 1<<10, s[:n-1]
		case 'm', 'M':
			mult, s = 1<<20, s[:n-1]
		case 'g', 'G':
			mult, s = 1<<30, s[:n-1]
		}
	}

	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse byte size: %w", err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("parse byte size: %d is not positive", v)
	}
	if v > math.MaxInt64/mult {
		return 0, fmt.Errorf("parse byte size: %d%s overflows", v, suffixName(mult))
	}
	return v * mult, nil
}

func suffixName(mult int64) string {
	switch mult {
	case 1 << 10:
		return "K"
	case 1 << 20:
		return "M"
	case 1 << 30:
		return "G"
	default:
		return ""
	}
}
