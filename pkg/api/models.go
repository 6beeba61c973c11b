package api

import (
	"time"

	"github.com/google/uuid"
)

// SubmitJobRequest is the job submission payload. StartOffsets lets a
// caller resume a partially submitted job by supplying per-type
// high-water marks for the first start index.
type SubmitJobRequest struct {
	Generators   []string       `json:"generators"`
	Samples      int            `json:"samples"`
	BatchSize    int            `json:"batch_size,omitempty"`
	Seed         *int64         `json:"seed,omitempty"`
	OutputFormat string         `json:"output_format,omitempty"`
	StartOffsets map[string]int `json:"start_offsets,omitempty"`
}

type SubmitJobResponse struct {
	JobId         uuid.UUID `json:"job_id"`
	TasksEnqueued int       `json:"tasks_enqueued"`
}

type Job struct {
	Id            uuid.UUID `json:"id"`
	Status        string    `json:"status"`
	Generators    []string  `json:"generators"`
	Samples       int       `json:"samples"`
	BatchSize     int       `json:"batch_size"`
	OutputFormat  string    `json:"output_format"`
	TasksEnqueued int       `json:"tasks_enqueued"`
	CreationTime  time.Time `json:"creation_time"`
}

type ListJobsParams struct {
	Status string `schema:"status"`
}

type Generator struct {
	Type             string `json:"type"`
	ResourceClass    string `json:"resource_class"`
	DefaultBatchSize int    `json:"default_batch_size"`
	MaxBatchSize     int    `json:"max_batch_size"`
}
