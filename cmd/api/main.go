package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contractflow.org/internal/audit"
	"contractflow.org/internal/auth"
	"contractflow.org/internal/contract"
	"contractflow.org/internal/httpapi"
	"contractflow.org/internal/migrate"
	"contractflow.org/internal/obs"
	"contractflow.org/internal/offer"
	"contractflow.org/internal/store/pg"
	"contractflow.org/internal/stream"
	"contractflow.org/migrations"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("SOURCE_COMMIT"))

	addr := os.Getenv("CONTRACTFLOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	var (
		contractStore contract.Store
		offerStore    offer.Store
		providerStore offer.ProviderStore
		auditStore    audit.Store
		userStore     auth.UserStore
		probe         httpapi.ReadyProbe
	)

	if dsn := os.Getenv("CONTRACTFLOW_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := migrate.NewManager(store.DB(), migrations.FS).Up(ctx); err != nil {
			cancel()
			log.Fatalf("migrate: %v", err)
		}
		cancel()

		contractStore = store.Contracts()
		offerStore = store.Offers()
		providerStore = store.Providers()
		auditStore = store.Audit()
		userStore = store.Users()
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		// In-memory stores: development and tests only, nothing survives restart.
		log.Println("CONTRACTFLOW_PG_DSN not set, using in-memory stores")
		contractStore = contract.NewMemoryStore()
		offerMem := offer.NewMemoryStore()
		offerStore = offerMem
		providerStore = offerMem
		auditStore = audit.NewMemoryStore()
		userStore = auth.NewMemoryStore()
	}

	recorder, err := audit.NewRecorder(auditStore)
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}
	events := stream.New()
	engine, err := contract.NewEngine(contractStore, recorder, events)
	if err != nil {
		log.Fatalf("workflow engine: %v", err)
	}
	manager, err := offer.NewManager(offerStore, providerStore, engine, recorder)
	if err != nil {
		log.Fatalf("offer manager: %v", err)
	}
	users, err := auth.NewService(userStore)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(probe, version, engine, manager, users, recorder, events)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting contractflow-api %s on %s", version, srv.Addr)

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
	log.Println("Stopped")
}
