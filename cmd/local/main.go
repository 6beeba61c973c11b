package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	backend "datafactory/internal/api"
	"datafactory/internal/config"
	"datafactory/internal/database"
	"datafactory/internal/generator"
	"datafactory/internal/messaging"
	"datafactory/internal/storage"
	"datafactory/internal/submitter"
	"datafactory/internal/worker"
)

// Config for the single-process deployment: queue, worker, store, and
// API all run in one binary with no external services. Queue and
// worker knobs come from the shared config.
type Config struct {
	Root string `env:"ROOT" envDefault:"./datafactory"`
	Port int    `env:"PORT" envDefault:"3001"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "datafactory.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func createServer(db *gorm.DB, queue messaging.TaskQueue, registry *generator.Registry, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := backend.NewBackendService(db, submitter.New(queue, registry), registry)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	sharedCfg, err := config.Load()
	if err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	slog.Info("starting local datafactory", "root", cfg.Root, "port", cfg.Port, "concurrency", sharedCfg.WorkerConcurrency)

	db := createDatabase(cfg.Root)

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	queue := messaging.NewInMemoryQueue(sharedCfg.VisibilityTimeout(), sharedCfg.MaxReceiveCount)

	registry := generator.Builtin()

	executor := worker.NewExecutor(registry, store, sharedCfg.ExecutionTimeout()).
		WithDedup(database.NewDedupStore(db))

	w := worker.Worker{
		Queue:       queue,
		Executor:    executor,
		Concurrency: sharedCfg.WorkerConcurrency,
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	w.Start(ctx, &wg)

	server := createServer(db, queue, registry, cfg.Port)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("local server listening on port %d", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	cancel()
	wg.Wait()

	log.Println("Server stopped.")
}
