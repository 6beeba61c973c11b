package api_test

import (
	"bytes"
	"encoding/json"
	backend "datafactory/internal/api"
	"datafactory/internal/database"
	"datafactory/internal/generator"
	"datafactory/internal/messaging"
	"datafactory/internal/submitter"
	"datafactory/pkg/api"
	"datafactory/pkg/models"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func createService(t *testing.T, db *gorm.DB) (*chi.Mux, *messaging.InMemoryQueue) {
	queue := messaging.NewInMemoryQueue(time.Minute, 3)
	registry := generator.Builtin()

	service := backend.NewBackendService(db, submitter.New(queue, registry), registry)
	router := chi.NewRouter()
	service.AddRoutes(router)

	return router, queue
}

func TestSubmitJob(t *testing.T) {
	db := createDB(t)
	router, queue := createService(t, db)

	body, err := json.Marshal(api.SubmitJobRequest{
		Generators: []string{"maze"},
		Samples:    10,
		BatchSize:  4,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response api.SubmitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 3, response.TasksEnqueued)
	assert.Equal(t, 3, queue.Depth())

	var job database.Job
	require.NoError(t, db.First(&job, "id = ?", response.JobId).Error)
	assert.Equal(t, database.JobQueued, job.Status)
	assert.Equal(t, []string{"maze"}, job.GeneratorList())
	assert.Equal(t, 10, job.Samples)
	assert.Equal(t, 3, job.TasksEnqueued)
}

func TestSubmitJobInvalidRequest(t *testing.T) {
	db := createDB(t)
	router, queue := createService(t, db)

	body, err := json.Marshal(api.SubmitJobRequest{
		Generators: []string{"fractal"},
		Samples:    10,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, queue.Depth())

	var count int64
	require.NoError(t, db.Model(&database.Job{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "invalid requests should not be recorded")
}

func TestGetJob(t *testing.T) {
	jobId := uuid.New()
	db := createDB(t, &database.Job{
		Id:            jobId,
		Status:        database.JobQueued,
		Generators:    "maze,arith",
		Samples:       20,
		BatchSize:     5,
		OutputFormat:  models.OutputFormatTar,
		TasksEnqueued: 4,
		CreationTime:  time.Now(),
	})
	router, _ := createService(t, db)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobId.String(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var job api.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, jobId, job.Id)
	assert.Equal(t, []string{"maze", "arith"}, job.Generators)
	assert.Equal(t, models.OutputFormatTar, job.OutputFormat)
	assert.Equal(t, 4, job.TasksEnqueued)
}

func TestGetJobNotFound(t *testing.T) {
	db := createDB(t)
	router, _ := createService(t, db)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsFilteredByStatus(t *testing.T) {
	db := createDB(t,
		&database.Job{Id: uuid.New(), Status: database.JobQueued, Generators: "maze", Samples: 5, CreationTime: time.Now()},
		&database.Job{Id: uuid.New(), Status: database.JobPartial, Generators: "arith", Samples: 5, CreationTime: time.Now()},
	)
	router, _ := createService(t, db)

	req := httptest.NewRequest(http.MethodGet, "/jobs?status="+database.JobPartial, nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []api.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, database.JobPartial, jobs[0].Status)
	assert.Equal(t, []string{"arith"}, jobs[0].Generators)
}

func TestListGenerators(t *testing.T) {
	db := createDB(t)
	router, _ := createService(t, db)

	req := httptest.NewRequest(http.MethodGet, "/generators", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var generators []api.Generator
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generators))
	require.Len(t, generators, 3)
	assert.Equal(t, "arith", generators[0].Type)
	assert.Equal(t, "maze", generators[1].Type)
	assert.Equal(t, "projectile", generators[2].Type)
	for _, g := range generators {
		assert.LessOrEqual(t, g.DefaultBatchSize, g.MaxBatchSize)
	}
}
