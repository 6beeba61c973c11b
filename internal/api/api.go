package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"datafactory/internal/database"
	"datafactory/internal/generator"
	"datafactory/internal/submitter"
	"datafactory/pkg/api"
)

// BackendService is the submission boundary: it validates and splits
// jobs onto the queue and keeps the submission ledger. Workers never
// talk to it; job progress is only observable through queue depth.
type BackendService struct {
	db        *gorm.DB
	submitter *submitter.Submitter
	registry  *generator.Registry
}

func NewBackendService(db *gorm.DB, sub *submitter.Submitter, registry *generator.Registry) *BackendService {
	return &BackendService{db: db, submitter: sub, registry: registry}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", RestHandler(s.SubmitJob))
		r.Get("/", RestHandler(s.ListJobs))
		r.Get("/{job_id}", RestHandler(s.GetJob))
	})
	r.Get("/generators", RestHandler(s.ListGenerators))
}

func (s *BackendService) SubmitJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SubmitJobRequest](r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()

	job := &database.Job{
		Id:           uuid.New(),
		Status:       database.JobQueued,
		Generators:   strings.Join(req.Generators, ","),
		Samples:      req.Samples,
		BatchSize:    req.BatchSize,
		OutputFormat: req.OutputFormat,
		CreationTime: time.Now(),
	}

	enqueued, submitErr := s.submitter.Submit(ctx, req)
	if submitErr != nil && errors.Is(submitErr, submitter.ErrInvalidRequest) {
		return nil, CodedErrorf(http.StatusBadRequest, "%v", submitErr)
	}

	job.TasksEnqueued = enqueued
	if submitErr != nil {
		job.Status = database.JobPartial
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		slog.Error("error creating job record", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create job entry")
	}

	if submitErr != nil {
		// Some tasks are already on the queue; report how many so the
		// caller can resume from the correct offset.
		slog.Error("partial job submission", "job_id", job.Id, "tasks_enqueued", enqueued, "error", submitErr)
		return nil, CodedErrorf(http.StatusInternalServerError,
			"job %s partially submitted: %v", job.Id, submitErr)
	}

	slog.Info("job submitted", "job_id", job.Id, "tasks_enqueued", enqueued)
	return api.SubmitJobResponse{JobId: job.Id, TasksEnqueued: enqueued}, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.Job
	if err := s.db.WithContext(r.Context()).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}

	return convertJob(job), nil
}

func (s *BackendService) ListJobs(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListJobsParams](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Order("creation_time desc")
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}

	var jobs []database.Job
	if err := query.Find(&jobs).Error; err != nil {
		slog.Error("error listing jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing job records")
	}

	out := make([]api.Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, convertJob(job))
	}
	return out, nil
}

func (s *BackendService) ListGenerators(r *http.Request) (any, error) {
	descriptors := s.registry.Descriptors()
	out := make([]api.Generator, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, api.Generator{
			Type:             d.Type,
			ResourceClass:    d.ResourceClass,
			DefaultBatchSize: d.DefaultBatchSize,
			MaxBatchSize:     d.MaxBatchSize,
		})
	}
	return out, nil
}

func convertJob(job database.Job) api.Job {
	return api.Job{
		Id:            job.Id,
		Status:        job.Status,
		Generators:    job.GeneratorList(),
		Samples:       job.Samples,
		BatchSize:     job.BatchSize,
		OutputFormat:  job.OutputFormat,
		TasksEnqueued: job.TasksEnqueued,
		CreationTime:  job.CreationTime,
	}
}
