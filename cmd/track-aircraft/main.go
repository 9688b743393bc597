// track-aircraft polls the selected provider for live aircraft around a
// point and prints each snapshot to stdout.
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
	lat := flag.Float64("lat", 0, "center latitude in degrees")
	lon := flag.Float64("lon", 0, "center longitude in degrees")
	radius := flag.Float64("radius", 1.0, "search radius in degrees")
	interval := flag.Duration("interval", 10*time.Second, "polling interval")
	provider := flag.String("provider", "", "aircraft provider to use (defaults to the stored selection)")
	once := flag.Bool("once", false, "fetch a single snapshot and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

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
	if *provider != "" {
		if err := mgr.SwitchAircraftProvider(*provider, nil); err != nil {
			fatal("switch provider: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	center := aviation.Position{Latitude: *lat, Longitude: *lon}
	fmt.Printf("Tracking aircraft around %.4f, %.4f (radius %.2f°) via %s\n\n",
		*lat, *lon, *radius, mgr.AircraftProvider())

	for {
		printSnapshot(ctx, mgr, center, *radius)
		if *once {
			return
		}

		select {
		case <-ctx.Done():
			fmt.Println("\nStopped.")
			return
		case <-time.After(*interval):
		}
	}
}

func printSnapshot(ctx context.Context, mgr *manager.Manager, center aviation.Position, radius float64) {
	aircraft, err := mgr.FetchAircraft(ctx, center, radius)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(os.Stderr, "fetch failed (%s): %v\n", aviation.KindOf(err), err)
		return
	}

	sort.Slice(aircraft, func(i, j int) bool { return aircraft[i].Callsign < aircraft[j].Callsign })

	fmt.Printf("[%s] %d aircraft\n", time.Now().Format("15:04:05"), len(aircraft))
	for _, a := range aircraft {
		callsign := a.Callsign
		if callsign == "" {
			callsign = "(no callsign)"
		}
		line := fmt.Sprintf("  %-8s %s  %8.4f, %9.4f", callsign, a.ICAO24, a.Latitude, a.Longitude)
		if a.OnGround {
			line += "  on ground"
		} else if a.BaroAltitude != nil {
			line += fmt.Sprintf("  %6.0fm", *a.BaroAltitude)
		}
		if a.Velocity != nil {
			line += fmt.Sprintf("  %5.1fm/s", *a.Velocity)
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
