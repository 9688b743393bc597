// fetch-flights queries arrivals or departures for an airport over a
// time window and prints the normalized board.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/config"
	"github.com/mstrella/skyfeed/pkg/credstore"
	"github.com/mstrella/skyfeed/pkg/manager"
)

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file")
	airport := flag.String("airport", "", "airport ICAO or IATA code (required)")
	direction := flag.String("direction", "arrival", "arrival or departure")
	hours := flag.Int("hours", 24, "how many hours back to search")
	service := flag.String("service", "", "flight service to use (defaults to the stored selection)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	if *airport == "" {
		fatal("the -airport flag is required")
	}

	dir := aviation.FlightDirection(*direction)
	if dir != aviation.DirectionArrival && dir != aviation.DirectionDeparture {
		fatal("direction must be arrival or departure, got %q", *direction)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load configuration: %v", err)
	}

	store, err := credstore.NewFileStore(cfg.Providers.CredentialFile)
	if err != nil {
		fatal("open credential store: %v", err)
	}

	mgr, err := manager.New(store)
	if err != nil {
		fatal("initialize provider manager: %v", err)
	}
	if *service != "" {
		if err := mgr.SwitchFlightService(*service, nil); err != nil {
			fatal("switch flight service: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	now := time.Now()
	from := now.Add(-time.Duration(*hours) * time.Hour)

	flights, err := mgr.FetchFlights(ctx, *airport, dir, from, now)
	if err != nil {
		fatal("fetch flights (%s): %v", aviation.KindOf(err), err)
	}

	sort.Slice(flights, func(i, j int) bool {
		return boardTime(flights[i]).Before(boardTime(flights[j]))
	})

	fmt.Printf("%ss at %s via %s: %d flights\n\n", title(dir), *airport, mgr.FlightService(), len(flights))
	for _, f := range flights {
		number := f.FlightNumber
		if number == "" {
			number = f.Callsign
		}
		route := fmt.Sprintf("%s → %s", orDash(f.OriginICAO), orDash(f.DestinationICAO))
		when := "--:--"
		if t := boardTime(f); !t.IsZero() {
			when = t.Local().Format("Jan 02 15:04")
		}
		fmt.Printf("  %-8s %-12s %-20s %-10s %s\n", number, when, route, f.Status, f.Airline)
	}
}

// boardTime picks the best movement time for sorting and display,
// preferring actual over estimated over scheduled.
func boardTime(f aviation.Flight) time.Time {
	switch {
	case f.Actual != nil:
		return *f.Actual
	case f.Estimated != nil:
		return *f.Estimated
	case f.Scheduled != nil:
		return *f.Scheduled
	}
	return time.Time{}
}

func title(dir aviation.FlightDirection) string {
	if dir == aviation.DirectionArrival {
		return "Arrival"
	}
	return "Departure"
}

func orDash(s string) string {
	if s == "" {
		return "----"
	}
	return s
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
