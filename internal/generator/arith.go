package generator

import (
	"context"
	"fmt"
	"math/rand"

	"datafactory/pkg/models"
)

// ArithGenerator produces small arithmetic word problems. It exists
// mostly as the cheap light-class counterpart for exercising the
// pipeline end to end.
type ArithGenerator struct{}

func NewArithGenerator() *ArithGenerator { return &ArithGenerator{} }

func (g *ArithGenerator) Descriptor() Descriptor {
	return Descriptor{
		Type:             "arith",
		ResourceClass:    ResourceClassLight,
		DefaultBatchSize: 100,
		MaxBatchSize:     models.MaxBatchSize,
	}
}

func (g *ArithGenerator) Generate(ctx context.Context, startIndex, numSamples int, seed int64) ([]Sample, error) {
	samples := make([]Sample, 0, numSamples)
	for i := 0; i < numSamples; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		index := startIndex + i
		rng := sampleRand(seed, index)
		expr, answer := buildExpression(rng)

		samples = append(samples, Sample{
			ID: models.SampleID("arith", index),
			Assets: map[string][]byte{
				"prompt.txt": []byte(fmt.Sprintf("Compute %s.\n", expr)),
				"answer.txt": []byte(fmt.Sprintf("%d\n", answer)),
			},
		})
	}
	return samples, nil
}

func buildExpression(rng *rand.Rand) (string, int) {
	a, b, c := rng.Intn(90)+10, rng.Intn(90)+10, rng.Intn(9)+2

	switch rng.Intn(3) {
	case 0:
		return fmt.Sprintf("(%d + %d) * %d", a, b, c), (a + b) * c
	case 1:
		return fmt.Sprintf("%d * %d - %d", a, c, b), a*c - b
	default:
		return fmt.Sprintf("%d + %d * %d", a, b, c), a + b*c
	}
}
