//go:build integration
// +build integration

package integrationtests

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	backend "datafactory/internal/api"
	"datafactory/internal/database"
	"datafactory/internal/generator"
	"datafactory/internal/messaging"
	"datafactory/internal/storage"
	"datafactory/internal/submitter"
	"datafactory/internal/worker"
	"datafactory/pkg/api"
	"datafactory/pkg/models"
)

const outputBucket = "synthetic-samples"

func createStore(t *testing.T, ctx context.Context, endpoint string) *storage.S3ObjectStore {
	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		EndpointURL:     endpoint,
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
		Region:          "us-east-2",
		Bucket:          outputBucket,
	})
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket(ctx))
	return store
}

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

func waitForKeys(t *testing.T, ctx context.Context, store *storage.S3ObjectStore, prefix string, want int) []string {
	deadline := time.After(2 * time.Minute)
	for {
		keys, err := store.ListKeys(ctx, prefix)
		require.NoError(t, err)
		if len(keys) >= want {
			return keys
		}

		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d keys under %s, have %d", want, prefix, len(keys))
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	amqpURL := setupRabbitMQContainer(t, ctx)
	minioURL := setupMinioContainer(t, ctx)

	store := createStore(t, ctx, minioURL)
	db := createDB(t)

	queue, err := messaging.NewRabbitMQQueue(amqpURL, "generation_tasks", "generation_tasks_dlq", 3)
	require.NoError(t, err)
	defer queue.Close()

	registry := generator.Builtin()

	executor := worker.NewExecutor(registry, store, time.Minute).
		WithDedup(database.NewDedupStore(db))

	w := worker.Worker{Queue: queue, Executor: executor, Concurrency: 2}

	workerCtx, stopWorker := context.WithCancel(ctx)
	var wg sync.WaitGroup
	w.Start(workerCtx, &wg)
	t.Cleanup(func() {
		stopWorker()
		wg.Wait()
	})

	router := chi.NewRouter()
	backend.NewBackendService(db, submitter.New(queue, registry), registry).AddRoutes(router)

	seed := int64(42)
	var res api.SubmitJobResponse
	require.NoError(t, httpRequest(router, "POST", "/jobs", api.SubmitJobRequest{
		Generators: []string{"maze"},
		Samples:    10,
		BatchSize:  4,
		Seed:       &seed,
	}, &res))
	assert.Equal(t, 3, res.TasksEnqueued)

	// 10 samples, 4 assets each.
	keys := waitForKeys(t, ctx, store, "maze/", 40)

	assert.Contains(t, keys, "maze/0/maze-00000000/prompt.txt")
	assert.Contains(t, keys, "maze/4/maze-00000007/final_frame.pgm")
	assert.Contains(t, keys, "maze/8/maze-00000009/solution.txt")
	for _, key := range keys {
		assert.True(t, strings.HasPrefix(key, "maze/"))
	}

	var job api.Job
	require.NoError(t, httpRequest(router, "GET", "/jobs/"+res.JobId.String(), nil, &job))
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, 3, job.TasksEnqueued)
}

func TestPipelineTarOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	amqpURL := setupRabbitMQContainer(t, ctx)
	minioURL := setupMinioContainer(t, ctx)

	store := createStore(t, ctx, minioURL)

	queue, err := messaging.NewRabbitMQQueue(amqpURL, "generation_tasks", "generation_tasks_dlq", 3)
	require.NoError(t, err)
	defer queue.Close()

	registry := generator.Builtin()
	w := worker.Worker{
		Queue:       queue,
		Executor:    worker.NewExecutor(registry, store, time.Minute),
		Concurrency: 1,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	var wg sync.WaitGroup
	w.Start(workerCtx, &wg)
	t.Cleanup(func() {
		stopWorker()
		wg.Wait()
	})

	seed := int64(7)
	require.NoError(t, queue.Enqueue(ctx, models.TaskMessage{
		Type:         "projectile",
		StartIndex:   4,
		NumSamples:   2,
		Seed:         &seed,
		OutputFormat: models.OutputFormatTar,
	}))

	keys := waitForKeys(t, ctx, store, "projectile/", 1)
	assert.Equal(t, []string{"projectile/4.tar"}, keys)
}
