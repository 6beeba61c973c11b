package database

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// All tasks enqueued.
	JobQueued string = "QUEUED"
	// Some tasks enqueued before an enqueue error; TasksEnqueued holds
	// the actual count so the caller can resume from the right offset.
	JobPartial string = "PARTIAL"
)

// Job is the submission ledger row kept by the API server. It records
// what was asked for and how many tasks actually made it onto the
// queue; it is not consulted by workers, who stay stateless.
type Job struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Status string `gorm:"size:20;not null"`

	// Comma-separated generator types, in request order.
	Generators string `gorm:"not null"`

	Samples      int
	BatchSize    int
	OutputFormat string `gorm:"size:10"`

	TasksEnqueued int `gorm:"default:0"`

	CreationTime time.Time
}

func (j *Job) GeneratorList() []string {
	if j.Generators == "" {
		return nil
	}
	return strings.Split(j.Generators, ",")
}

// SampleHash registers a generated sample's parameter hash. The
// composite primary key makes registration a conditional insert:
// a second sample producing the same hash fails to register and is
// treated as a duplicate, unless it is the same sample arriving again
// through redelivery.
type SampleHash struct {
	Generator string `gorm:"primaryKey;size:64"`
	ParamHash string `gorm:"primaryKey;size:64"`
	SampleId  string `gorm:"size:64;not null"`
}
