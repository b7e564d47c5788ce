package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/auth"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/config"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/db"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/kv"
	mw "github.com/PrakarshaKondour/ETracking-sub000/internal/middleware"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/notifications"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/orders"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/vendors"
)

func newServeCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event consumer and delayed-order sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.Load(), !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply pending migrations on startup")
	return cmd
}

// openKV connects to Redis when REDIS_URL is set. A nil client selects the
// in-memory notification store.
func openKV(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	client, err := kv.New(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func serve(cfg *config.Config, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()
	if migrate {
		if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			log.Printf("WARNING: migrations failed: %v", err)
		}
	}

	// Notification store
	kvClient, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	if kvClient != nil {
		defer kvClient.Close()
	}
	store := notifications.NewStore(kvClient)

	// Event log
	broker, err := notifications.NewBroker(cfg)
	if err != nil {
		return err
	}
	defer broker.Close() //nolint:errcheck // best-effort cleanup on shutdown

	// Live fan-out
	registry := notifications.NewRegistry()
	var live notifications.Broadcaster = registry
	var relay *notifications.Relay
	if cfg.LiveRelay {
		relay = notifications.NewRelay(broker, registry, uuid.New().String())
		live = relay
	}

	// JWT & Auth
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	verifier := auth.NewVerifier(jwtService, auth.NewRevocationList(store))
	authHandlers := auth.NewHandlers(verifier)

	// Pipeline
	orderStore := orders.NewStore(database.Pool)
	producer := notifications.NewProducer(broker, store, live)
	consumer := notifications.NewConsumer(broker, cfg.KafkaConsumerGroup, store, notifications.NewGuard(store, cfg.IdempotencyTTL), live)
	sweeper := notifications.NewSweeper(orderStore, store, producer, cfg.DelayThreshold, cfg.SweepInterval)

	svc := notifications.NewService(store, orderStore, cfg.DelayThreshold)
	origins := notifications.ParseOrigins(cfg.AllowedOrigins)
	notifHandlers := notifications.NewHandlers(svc, registry, cfg.SSEHeartbeat, origins)
	orderHandlers := orders.NewHandlers(orderStore, producer)
	vendorHandlers := vendors.NewHandlers(vendors.NewStore(database.Pool), producer)

	// Router
	r := mux.NewRouter()

	// Rate limiting: 100 req/s per IP with burst of 200
	r.Use(mw.RateLimitMiddleware(100, 200))

	// Health check (no auth)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)

	// Vendor self-registration (no auth)
	vendorHandlers.RegisterPublicRoutes(r)

	// Live streams accept ?token= since EventSource cannot set headers.
	streams := r.NewRoute().Subrouter()
	streams.Use(mw.StreamAuthMiddleware(verifier))
	notifHandlers.RegisterStreamRoutes(streams)

	// Protected routes
	protected := r.PathPrefix("").Subrouter()
	protected.Use(mw.AuthMiddleware(verifier))
	authHandlers.RegisterProtectedRoutes(protected)

	admin := protected.NewRoute().Subrouter()
	admin.Use(mw.RequireRole(auth.RoleAdmin))
	notifHandlers.RegisterAdminRoutes(admin)

	vendor := protected.NewRoute().Subrouter()
	vendor.Use(mw.RequireRole(auth.RoleVendor))
	notifHandlers.RegisterRecipientRoutes(vendor, auth.RoleVendor)
	orderHandlers.RegisterVendorRoutes(vendor)
	vendorHandlers.RegisterProtectedRoutes(vendor)

	customer := protected.NewRoute().Subrouter()
	customer.Use(mw.RequireRole(auth.RoleCustomer))
	notifHandlers.RegisterRecipientRoutes(customer, auth.RoleCustomer)

	// HTTP Server: CORS wraps the entire router so OPTIONS preflight
	// requests are handled before mux routing (which would 404 on OPTIONS).
	// Streams set their own per-write deadlines.
	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        corsMiddleware(origins, r),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	g, gctx := errgroup.WithContext(ctx)

	if relay != nil {
		if err := relay.Start(gctx); err != nil {
			return err
		}
	}
	if err := consumer.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		// Open streams would otherwise hold Shutdown until its deadline.
		registry.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Println("Server stopped")
	return err
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if len(allowed) == 1 {
			// Single origin mode: always set it (for dev convenience)
			w.Header().Set("Access-Control-Allow-Origin", allowed[0])
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
