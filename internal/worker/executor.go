package worker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"datafactory/internal/database"
	"datafactory/internal/generator"
	"datafactory/internal/packager"
	"datafactory/internal/storage"
	"datafactory/pkg/models"
)

// Executor runs one task to completion: resolve the generator, produce
// the samples, package them and upload the artifact. Packaging and
// upload are one logical step: any failure fails the whole task, and
// the retry overwrites whatever objects were already written.
type Executor struct {
	registry         *generator.Registry
	store            storage.ObjectStore
	executionTimeout time.Duration

	// Optional: cross-task sample dedup. Nil disables the check.
	dedup *database.DedupStore
}

func NewExecutor(registry *generator.Registry, store storage.ObjectStore, executionTimeout time.Duration) *Executor {
	return &Executor{
		registry:         registry,
		store:            store,
		executionTimeout: executionTimeout,
	}
}

func (e *Executor) WithDedup(dedup *database.DedupStore) *Executor {
	e.dedup = dedup
	return e
}

// Execute returns nil on full success. Terminal errors (unknown type,
// oversized batch, malformed message) satisfy IsTerminal; everything
// else is transient and eligible for redelivery.
func (e *Executor) Execute(ctx context.Context, msg models.TaskMessage) error {
	if err := msg.Validate(); err != nil {
		return Terminal("invalid task message: %v", err)
	}

	gen, err := e.registry.Resolve(msg.Type)
	if err != nil {
		return Terminal("resolving task type: %v", err)
	}

	descriptor := gen.Descriptor()
	if msg.NumSamples > descriptor.MaxBatchSize {
		return Terminal("%w: %d samples requested, %s generator %q allows at most %d",
			ErrBatchTooLarge, msg.NumSamples, descriptor.ResourceClass, descriptor.Type, descriptor.MaxBatchSize)
	}

	seed := e.taskSeed(msg)

	if e.executionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.executionTimeout)
		defer cancel()
	}

	samples, err := gen.Generate(ctx, msg.StartIndex, msg.NumSamples, seed)
	if err != nil {
		return fmt.Errorf("generation failed for type %s: %w", msg.Type, err)
	}

	if e.dedup != nil {
		samples, err = e.filterDuplicates(ctx, msg.Type, samples)
		if err != nil {
			return err
		}
	}

	artifact, err := packager.Package(msg, samples)
	if err != nil {
		return fmt.Errorf("packaging failed for type %s: %w", msg.Type, err)
	}

	for _, obj := range artifact.Objects {
		if err := e.store.PutObject(ctx, obj.Key, bytes.NewReader(obj.Body)); err != nil {
			return fmt.Errorf("artifact upload failed: %w", err)
		}
	}

	slog.Info("task completed", "type", msg.Type, "start_index", msg.StartIndex,
		"samples", len(samples), "objects", len(artifact.Objects), "format", msg.Format())

	return nil
}

// taskSeed returns the message seed, drawing a random one when absent.
// Seedless tasks give up reproducibility; the drawn value is logged so
// a run can still be replayed by hand.
func (e *Executor) taskSeed(msg models.TaskMessage) int64 {
	if msg.Seed != nil {
		return *msg.Seed
	}
	seed := rand.Int63n(1<<31-1) + 1
	slog.Info("no seed provided, using random seed", "type", msg.Type, "start_index", msg.StartIndex, "seed", seed)
	return seed
}

func (e *Executor) filterDuplicates(ctx context.Context, generatorType string, samples []generator.Sample) ([]generator.Sample, error) {
	kept := samples[:0]
	dropped := 0
	for _, sample := range samples {
		unique, err := e.dedup.CheckAndRegister(ctx, generatorType, sampleParamHash(sample), sample.ID)
		if err != nil {
			return nil, fmt.Errorf("dedup check failed for sample %s: %w", sample.ID, err)
		}
		if !unique {
			dropped++
			continue
		}
		kept = append(kept, sample)
	}
	if dropped > 0 {
		slog.Warn("dropped duplicate samples", "type", generatorType, "dropped", dropped, "kept", len(kept))
	}
	return kept, nil
}

// sampleParamHash digests a sample's content in sorted asset order.
func sampleParamHash(sample generator.Sample) string {
	names := make([]string, 0, len(sample.Assets))
	for name := range sample.Assets {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(sample.Assets[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}
