package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"datafactory/internal/generator"
	"datafactory/internal/messaging"
	"datafactory/pkg/api"
	"datafactory/pkg/models"
)

// ErrInvalidRequest marks a malformed job request, rejected
// synchronously with nothing enqueued.
var ErrInvalidRequest = errors.New("invalid job request")

type Submitter struct {
	queue    messaging.TaskQueue
	registry *generator.Registry
}

func New(queue messaging.TaskQueue, registry *generator.Registry) *Submitter {
	return &Submitter{queue: queue, registry: registry}
}

// Submit splits the job into bounded task messages and enqueues them.
// On a partial enqueue failure it returns the count actually enqueued
// together with the error; already-enqueued messages are not rolled
// back, and the caller can resume from the right offset via
// StartOffsets on a follow-up request.
func (s *Submitter) Submit(ctx context.Context, req api.SubmitJobRequest) (int, error) {
	tasks, err := PlanTasks(req, s.registry)
	if err != nil {
		return 0, err
	}

	for i, task := range tasks {
		if err := s.queue.Enqueue(ctx, task); err != nil {
			slog.Error("enqueue failed mid-job", "enqueued", i, "planned", len(tasks), "error", err)
			return i, fmt.Errorf("enqueued %d of %d tasks: %w", i, len(tasks), err)
		}
	}

	slog.Info("job submitted", "generators", req.Generators, "samples", req.Samples, "tasks_enqueued", len(tasks))
	return len(tasks), nil
}

// PlanTasks validates the request and computes the task list without
// side effects. Samples are partitioned evenly across the requested
// types, remainder to the earliest types in request order; each type's
// batch size is capped by its generator's descriptor.
func PlanTasks(req api.SubmitJobRequest, registry *generator.Registry) ([]models.TaskMessage, error) {
	if len(req.Generators) == 0 {
		return nil, fmt.Errorf("%w: no generator types requested", ErrInvalidRequest)
	}
	if req.Samples <= 0 {
		return nil, fmt.Errorf("%w: samples must be > 0, got %d", ErrInvalidRequest, req.Samples)
	}
	if req.BatchSize < 0 || req.BatchSize > models.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch_size must be in [1,%d], got %d", ErrInvalidRequest, models.MaxBatchSize, req.BatchSize)
	}
	switch req.OutputFormat {
	case "", models.OutputFormatFiles, models.OutputFormatTar:
	default:
		return nil, fmt.Errorf("%w: invalid output_format %q", ErrInvalidRequest, req.OutputFormat)
	}

	seen := make(map[string]bool, len(req.Generators))
	descriptors := make([]generator.Descriptor, 0, len(req.Generators))
	for _, generatorType := range req.Generators {
		if seen[generatorType] {
			return nil, fmt.Errorf("%w: duplicate generator type %q", ErrInvalidRequest, generatorType)
		}
		seen[generatorType] = true

		g, err := registry.Resolve(generatorType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		descriptors = append(descriptors, g.Descriptor())
	}

	var tasks []models.TaskMessage
	for i, descriptor := range descriptors {
		count := samplesForType(req.Samples, len(descriptors), i)
		if count == 0 {
			continue
		}

		batch := effectiveBatchSize(req.BatchSize, descriptor)
		start := req.StartOffsets[descriptor.Type]

		for offset := 0; offset < count; offset += batch {
			n := batch
			if remaining := count - offset; remaining < n {
				n = remaining
			}
			tasks = append(tasks, models.TaskMessage{
				Type:         descriptor.Type,
				StartIndex:   start + offset,
				NumSamples:   n,
				Seed:         req.Seed,
				OutputFormat: req.OutputFormat,
			})
		}
	}

	return tasks, nil
}

// samplesForType partitions total evenly across n types, assigning the
// remainder to the earliest types in request order.
func samplesForType(total, n, index int) int {
	count := total / n
	if index < total%n {
		count++
	}
	return count
}

// effectiveBatchSize caps the requested batch by the generator's
// default and hard ceiling; heavy generators bound worker memory this
// way regardless of what the request asked for.
func effectiveBatchSize(requested int, descriptor generator.Descriptor) int {
	batch := descriptor.DefaultBatchSize
	if requested > 0 && requested < batch {
		batch = requested
	}
	if batch > descriptor.MaxBatchSize {
		batch = descriptor.MaxBatchSize
	}
	if batch < 1 {
		batch = 1
	}
	return batch
}
