package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// Resource classes bound a generator's concurrent memory footprint.
// Heavy generators hold every sample's intermediate frames in memory
// at once, so their batch ceilings are lower.
const (
	ResourceClassLight = "light"
	ResourceClassHeavy = "heavy"
)

var ErrUnknownType = errors.New("unknown generator type")

type Descriptor struct {
	Type             string
	ResourceClass    string
	DefaultBatchSize int
	MaxBatchSize     int
}

// Sample is one generated data point. Assets map asset names to their
// content (first frame, final frame, prompt text, and so on).
type Sample struct {
	ID     string
	Assets map[string][]byte
}

// Generator produces deterministic samples: the same (startIndex,
// numSamples, seed) must always yield bit-identical output. That
// invariant is what makes at-least-once delivery safe downstream.
type Generator interface {
	Descriptor() Descriptor

	Generate(ctx context.Context, startIndex, numSamples int, seed int64) ([]Sample, error)
}

// Registry is a flat capability table mapping a generator type to its
// implementation. Populated at process start, never mutated afterward.
type Registry struct {
	generators map[string]Generator
}

func NewRegistry(gens ...Generator) *Registry {
	r := &Registry{generators: make(map[string]Generator)}
	for _, g := range gens {
		r.Register(g)
	}
	return r
}

func (r *Registry) Register(g Generator) {
	r.generators[g.Descriptor().Type] = g
}

func (r *Registry) Resolve(generatorType string) (Generator, error) {
	g, ok := r.generators[generatorType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, generatorType)
	}
	return g, nil
}

func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.generators))
	for _, g := range r.generators {
		out = append(out, g.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Builtin returns a registry with the built-in sample generators.
func Builtin() *Registry {
	return NewRegistry(
		NewMazeGenerator(),
		NewProjectileGenerator(),
		NewArithGenerator(),
	)
}

// sampleRand returns the RNG for one sample index. Mixing the index
// into the task seed keeps every sample independent of batch
// boundaries: sample 7 is the same whether generated in a batch
// starting at 0 or at 4.
func sampleRand(seed int64, index int) *rand.Rand {
	mixed := seed ^ int64((uint64(index)+1)*0x9E3779B97F4A7C15)
	return rand.New(rand.NewSource(mixed))
}
