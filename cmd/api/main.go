package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"certiscan.io/internal/audit"
	"certiscan.io/internal/auth"
	"certiscan.io/internal/config"
	"certiscan.io/internal/httpapi"
	"certiscan.io/internal/obs"
	"certiscan.io/internal/product"
	"certiscan.io/internal/ratelimit"
	"certiscan.io/internal/store/pg"
	"certiscan.io/internal/stream"
)

var (
	version = "0.4.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	// Token signing reads the secret from the environment; propagate the
	// configured value so file-based config works too.
	if os.Getenv("CERTISCAN_AUTH_SECRET") == "" {
		os.Setenv("CERTISCAN_AUTH_SECRET", cfg.Auth.Secret)
	}

	// Fail fast if any route references a permission no role grants.
	if err := auth.ValidateCatalog(httpapi.RoutePermissions...); err != nil {
		log.Fatalf("permission catalog: %v", err)
	}

	// Persistent store when a DSN is configured; otherwise an in-memory
	// store that loses everything on restart.
	var (
		store      product.Store
		users      auth.UserStore
		readyProbe httpapi.ReadyProbe
	)
	if dsn := cfg.Database.DSN; dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		audit.SetSink(pgStore)
		store = pgStore
		users = pgStore
		readyProbe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Println("no database DSN configured, using in-memory store")
		mem := product.NewInMemory()
		store = mem
		users = mem
	}

	svc, err := product.NewService(store)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	// Shared rate-limit counters via Redis when configured, per-process
	// memory otherwise.
	var limiterStore ratelimit.Store
	if addr := cfg.RateLimit.RedisAddr; addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		limiterStore = ratelimit.NewRedis(client)
	} else {
		limiterStore = ratelimit.NewMemory()
	}

	api := httpapi.New(httpapi.Options{
		Service:    svc,
		Users:      users,
		Limiter:    ratelimit.New(limiterStore),
		Stream:     stream.New(),
		ReadyProbe: readyProbe,
		Version:    version,
		TokenTTL:   cfg.Auth.AccessTTL,

		BackstopPerSecond: cfg.RateLimit.BackstopPerSecond,
		BackstopBurst:     cfg.RateLimit.BackstopBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting certiscan-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
