package models

import "fmt"

// Output formats for a task's artifact.
const (
	OutputFormatFiles = "files"
	OutputFormatTar   = "tar"
)

const MaxBatchSize = 100

// TaskMessage is the queue payload for one bounded unit of generation
// work. It is immutable once enqueued: (Type, StartIndex, NumSamples,
// Seed) functionally determines the produced output, which is what
// makes redelivery safe.
type TaskMessage struct {
	Type         string `json:"type"`
	StartIndex   int    `json:"start_index"`
	NumSamples   int    `json:"num_samples"`
	Seed         *int64 `json:"seed,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

// Format returns the effective output format, defaulting to files mode
// when the field was omitted on the wire.
func (m TaskMessage) Format() string {
	if m.OutputFormat == "" {
		return OutputFormatFiles
	}
	return m.OutputFormat
}

func (m TaskMessage) Validate() error {
	if m.Type == "" {
		return fmt.Errorf("task message missing generator type")
	}
	if m.StartIndex < 0 {
		return fmt.Errorf("invalid start_index %d: must be >= 0", m.StartIndex)
	}
	if m.NumSamples < 1 || m.NumSamples > MaxBatchSize {
		return fmt.Errorf("invalid num_samples %d: must be in [1,%d]", m.NumSamples, MaxBatchSize)
	}
	switch m.Format() {
	case OutputFormatFiles, OutputFormatTar:
	default:
		return fmt.Errorf("invalid output_format %q", m.OutputFormat)
	}
	return nil
}

// SampleID derives the deterministic sample identifier for one sample
// index of this task's generator type. Store keys and tar entry paths
// are built from it.
func SampleID(generatorType string, index int) string {
	return fmt.Sprintf("%s-%08d", generatorType, index)
}
