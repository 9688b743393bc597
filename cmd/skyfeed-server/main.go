// skyfeed-server exposes the acquisition engine over HTTP: live
// aircraft queries, arrival/departure boards, and provider management.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/mstrella/skyfeed/internal/db"
	"github.com/mstrella/skyfeed/pkg/aviation"
	"github.com/mstrella/skyfeed/pkg/config"
	"github.com/mstrella/skyfeed/pkg/credstore"
	"github.com/mstrella/skyfeed/pkg/manager"
	"github.com/mstrella/skyfeed/pkg/providers"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type server struct {
	mgr          *manager.Manager
	pollInterval time.Duration
}

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	// Optional; secrets usually arrive through the environment.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded environment from .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	mgr, err := manager.New(store, managerOptions(cfg)...)
	if err != nil {
		slog.Error("failed to initialize provider manager", "error", err)
		os.Exit(1)
	}

	pollInterval := time.Duration(cfg.Server.PollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	srv := &server{mgr: mgr, pollInterval: pollInterval}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", srv.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/aircraft", srv.handleAircraft)
		r.Get("/aircraft/stream", srv.handleAircraftStream)
		r.Get("/flights", srv.handleFlights)
		r.Get("/provider", srv.handleGetProvider)
		r.Put("/provider", srv.handlePutProvider)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("starting skyfeed server", "addr", addr,
		"aircraft_provider", mgr.AircraftProvider(), "flight_service", mgr.FlightService())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// openStore picks the Postgres credential store when a database host is
// configured, the JSON file store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (credstore.Store, func(), error) {
	if cfg.Database.Host == "" {
		fs, err := credstore.NewFileStore(cfg.Providers.CredentialFile)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}

	conn, err := db.ConnectWithRetry(ctx, cfg.Database, 5, time.Second)
	if err != nil {
		return nil, nil, err
	}
	if err := conn.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return db.NewCredentialStore(conn), func() { conn.Close() }, nil
}

// managerOptions forwards per-provider tuning from the config file.
func managerOptions(cfg *config.Config) []manager.Option {
	all := []string{
		providers.AircraftOpenSkyAnonymous,
		providers.AircraftOpenSky,
		providers.AircraftFlightRadar,
		providers.AircraftADSBExchange,
	}
	var opts []manager.Option
	for _, p := range all {
		if adapterOpts := cfg.Providers.AdapterOptions(p); len(adapterOpts) > 0 {
			opts = append(opts, manager.WithAdapterOptions(p, adapterOpts...))
		}
	}
	return opts
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleAircraft(w http.ResponseWriter, r *http.Request) {
	center, radius, err := parseAircraftQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	aircraft, err := s.mgr.FetchAircraft(r.Context(), center, radius)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(aircraft),
		"aircraft": aircraft,
	})
}

// handleAircraftStream pushes periodic aircraft snapshots over a
// websocket until the client disconnects.
func (s *server) handleAircraftStream(w http.ResponseWriter, r *http.Request) {
	center, radius, err := parseAircraftQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		aircraft, err := s.mgr.FetchAircraft(ctx, center, radius)
		if err != nil {
			_ = conn.WriteJSON(map[string]any{"error": err.Error(), "kind": aviation.KindOf(err).String()})
		} else {
			_ = conn.WriteJSON(map[string]any{"count": len(aircraft), "aircraft": aircraft})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *server) handleFlights(w http.ResponseWriter, r *http.Request) {
	airport := r.URL.Query().Get("airport")

	direction := aviation.DirectionArrival
	if d := r.URL.Query().Get("direction"); d != "" {
		switch aviation.FlightDirection(d) {
		case aviation.DirectionArrival, aviation.DirectionDeparture:
			direction = aviation.FlightDirection(d)
		default:
			writeError(w, aviation.NewError(aviation.KindInvalidInput, "", "parse query",
				"direction must be arrival or departure"))
			return
		}
	}

	now := time.Now()
	from, to := now.Add(-time.Hour), now
	if v := r.URL.Query().Get("from"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, aviation.NewError(aviation.KindInvalidInput, "", "parse query", "from must be a unix timestamp"))
			return
		}
		from = time.Unix(ts, 0)
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, aviation.NewError(aviation.KindInvalidInput, "", "parse query", "to must be a unix timestamp"))
			return
		}
		to = time.Unix(ts, 0)
	}

	flights, err := s.mgr.FetchFlights(r.Context(), airport, direction, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(flights),
		"flights": flights,
	})
}

func (s *server) handleGetProvider(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"aircraft_provider": s.mgr.AircraftProvider(),
		"flight_service":    s.mgr.FlightService(),
	})
}

type providerUpdate struct {
	AircraftProvider string            `json:"aircraft_provider,omitempty"`
	FlightService    string            `json:"flight_service,omitempty"`
	Credentials      map[string]string `json:"credentials,omitempty"`
}

func (s *server) handlePutProvider(w http.ResponseWriter, r *http.Request) {
	var update providerUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, aviation.NewError(aviation.KindInvalidInput, "", "parse body", "request body is not valid JSON"))
		return
	}

	var creds credstore.Credentials
	if update.Credentials != nil {
		creds = credstore.Credentials(update.Credentials)
	}

	if update.AircraftProvider != "" {
		if err := s.mgr.SwitchAircraftProvider(update.AircraftProvider, creds); err != nil {
			writeError(w, err)
			return
		}
	}
	if update.FlightService != "" {
		if err := s.mgr.SwitchFlightService(update.FlightService, creds); err != nil {
			writeError(w, err)
			return
		}
	}
	if update.AircraftProvider == "" && update.FlightService == "" && creds != nil {
		if err := s.mgr.UpdateCredentials(creds); err != nil {
			writeError(w, err)
			return
		}
	}

	s.handleGetProvider(w, r)
}

func parseAircraftQuery(r *http.Request) (aviation.Position, float64, error) {
	q := r.URL.Query()

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return aviation.Position{}, 0, aviation.NewError(aviation.KindInvalidInput, "", "parse query", "lat must be a number")
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return aviation.Position{}, 0, aviation.NewError(aviation.KindInvalidInput, "", "parse query", "lon must be a number")
	}

	radius := 1.0
	if v := q.Get("radius"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return aviation.Position{}, 0, aviation.NewError(aviation.KindInvalidInput, "", "parse query", "radius must be a number")
		}
	}
	return aviation.Position{Latitude: lat, Longitude: lon}, radius, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps engine error kinds to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch aviation.KindOf(err) {
	case aviation.KindInvalidInput:
		status = http.StatusBadRequest
	case aviation.KindMissingCredentials, aviation.KindInvalidCredentialsFormat:
		status = http.StatusUnauthorized
	case aviation.KindAuthenticationFailed:
		status = http.StatusBadGateway
	case aviation.KindRateLimited:
		status = http.StatusTooManyRequests
	case aviation.KindNetwork, aviation.KindParse:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  aviation.KindOf(err).String(),
	})
}
