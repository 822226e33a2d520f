package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gatehouse.org/internal/authz"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/session"
	"gatehouse.org/internal/store/memory"
	"gatehouse.org/internal/store/pg"
	"gatehouse.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("GATEHOUSE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("GATEHOUSE_AUTH_SECRET is required")
	}

	issuerOpts := []token.Option{}
	if ttl := durationEnv("GATEHOUSE_ACCESS_TTL"); ttl > 0 {
		issuerOpts = append(issuerOpts, token.WithAccessTTL(ttl))
	}
	issuer, err := token.New([]byte(secret), issuerOpts...)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	var (
		directory identity.Directory
		tokens    session.TokenStore
		db        *sql.DB
	)
	if dsn := os.Getenv("GATEHOUSE_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		db = store.DB()
		directory = store.Directory()
		tokens = store.Tokens()
	} else {
		log.Println("GATEHOUSE_PG_DSN not set; using in-memory stores")
		directory = memory.NewDirectory()
		tokens = memory.NewTokenStore()
	}

	managerOpts := []session.ManagerOption{}
	if ttl := durationEnv("GATEHOUSE_REFRESH_TTL"); ttl > 0 {
		managerOpts = append(managerOpts, session.WithRefreshTTL(ttl))
	}
	sessions, err := session.NewManager(directory, tokens, issuer, managerOpts...)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}
	gateway, err := authz.NewGateway(issuer)
	if err != nil {
		log.Fatalf("authz gateway: %v", err)
	}

	if err := bootstrapSuperAdmin(context.Background(), directory); err != nil {
		log.Fatalf("bootstrap superadmin: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, sessions, gateway, directory)

	srv := &http.Server{
		Addr:              envOr("GATEHOUSE_HTTP_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	grpcAddr := envOr("GATEHOUSE_GRPC_ADDR", ":8081")
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	log.Printf("Starting gatehouse-api %s on %s (grpc health on %s)", version, srv.Addr, grpcAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	log.Println("Stopped")
}

// bootstrapSuperAdmin seeds the initial top-tier principal from env so a
// fresh deployment has an operator account. No-op when the address is
// already registered or the variables are unset.
func bootstrapSuperAdmin(ctx context.Context, directory identity.Directory) error {
	email := identity.NormalizeEmail(os.Getenv("GATEHOUSE_BOOTSTRAP_EMAIL"))
	password := os.Getenv("GATEHOUSE_BOOTSTRAP_PASSWORD")
	if email == "" || password == "" {
		return nil
	}
	if _, err := directory.FindByEmail(ctx, email); err == nil {
		return nil
	}
	hash, err := identity.HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	p := &identity.Principal{
		ID:           ids.New(),
		Email:        email,
		DisplayName:  "Superadmin",
		PasswordHash: hash,
		Roles:        []identity.Role{identity.RoleSuperAdmin},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := directory.Create(ctx, p); err != nil {
		return err
	}
	log.Printf("bootstrapped superadmin %s", email)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("parse %s: %v", key, err)
	}
	return d
}
