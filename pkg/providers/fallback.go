package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/mstrella/skyfeed/pkg/aviation"
)

// FallbackWindow is one historical time range retried when the primary
// arrivals query yields no records. Start and End are offsets back from
// the moment of the query; the window is [now-Start, now-End].
type FallbackWindow struct {
	Start time.Duration
	End   time.Duration
}

// DefaultFallbackWindows returns the window sequence tuned against the
// reference provider's observed batch-processing delay. These are
// heuristic constants, configurable per adapter, not a contract.
func DefaultFallbackWindows() []FallbackWindow {
	day := 24 * time.Hour
	return []FallbackWindow{
		{Start: day, End: 0},
		{Start: 3 * day, End: day},
		{Start: 2 * day, End: day},
		{Start: 7 * day, End: 2 * day},
	}
}

// fetchWindowFunc runs one schedule query for an absolute time range,
// going through the full adapter path (auth, pacing, normalization).
type fetchWindowFunc func(ctx context.Context, from, to time.Time) ([]aviation.Flight, error)

// searchFallbackWindows retries the query across the window sequence,
// stopping at the first window that returns at least one record. A
// retry's transport failure is swallowed and the loop moves on.
func searchFallbackWindows(ctx context.Context, provider string, windows []FallbackWindow, fetch fetchWindowFunc) []aviation.Flight {
	now := time.Now()
	for _, w := range windows {
		if ctx.Err() != nil {
			return nil
		}

		flights, err := fetch(ctx, now.Add(-w.Start), now.Add(-w.End))
		if err != nil {
			slog.Debug("fallback window query failed, trying next window",
				"provider", provider, "start_ago", w.Start, "end_ago", w.End, "error", err)
			continue
		}
		if len(flights) > 0 {
			slog.Debug("fallback window produced records",
				"provider", provider, "start_ago", w.Start, "end_ago", w.End, "count", len(flights))
			return flights
		}
	}
	return nil
}
