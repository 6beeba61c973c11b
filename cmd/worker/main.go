package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"datafactory/cmd"
	"datafactory/internal/config"
	"datafactory/internal/database"
	"datafactory/internal/generator"
	"datafactory/internal/messaging"
	"datafactory/internal/worker"
)

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := cmd.CreateObjectStore(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	queue, err := messaging.NewRabbitMQQueue(cfg.RabbitMQURL, cfg.QueueName, cfg.DeadLetterQueue, cfg.MaxReceiveCount)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer queue.Close()

	executor := worker.NewExecutor(generator.Builtin(), store, cfg.ExecutionTimeout())

	// The dedup ledger is optional: without a database every task
	// still runs, duplicate sample ids just land as overwrites.
	if cfg.DatabaseURL != "" {
		db, err := database.NewDatabase(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		executor = executor.WithDedup(database.NewDedupStore(db))
	}

	w := worker.Worker{
		Queue:       queue,
		Executor:    executor,
		Concurrency: cfg.WorkerConcurrency,
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	w.Start(ctx, &wg)

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, waiting for workers to finish...")
	cancel()
	wg.Wait()

	log.Println("Worker process stopped.")
}
