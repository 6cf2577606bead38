package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authgate.org/internal/access"
	"authgate.org/internal/auth"
	"authgate.org/internal/httpapi"
	"authgate.org/internal/obs"
	"authgate.org/internal/store/pg"
	"authgate.org/internal/stream"
	"authgate.org/internal/token"
	"authgate.org/internal/verify"
)

var version = "0.1.0"

func main() {
	obs.Init()

	dsn := os.Getenv("AUTHGATE_PG_DSN")
	if dsn == "" {
		log.Fatal("AUTHGATE_PG_DSN is required")
	}
	accessSecret := os.Getenv("AUTHGATE_ACCESS_SECRET")
	refreshSecret := os.Getenv("AUTHGATE_REFRESH_SECRET")
	if accessSecret == "" || refreshSecret == "" {
		log.Fatal("AUTHGATE_ACCESS_SECRET and AUTHGATE_REFRESH_SECRET are required")
	}
	addr := os.Getenv("AUTHGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
	})
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	verifier, err := verify.NewService(store, verify.LogMailer{})
	if err != nil {
		log.Fatalf("verify service: %v", err)
	}

	events := stream.New()

	orch, err := auth.NewOrchestrator(store, store, store, issuer, verifier, nil, events)
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}

	resolver, err := access.NewResolver(store, store, store, store)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, orch, resolver, events)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: the session event stream holds its response open.
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting authgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}
