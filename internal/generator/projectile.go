package generator

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"datafactory/pkg/models"
)

const (
	projFrameDim  = 64
	projTimeStep  = 0.01
	projGravity   = 9.81
	projFrameStep = 10 // simulation steps per rendered frame
)

// ProjectileGenerator produces ballistic-motion samples by continuous
// simulation. It renders and holds every frame of every sample in
// memory until packaging, which is why it is classed heavy and carries
// a low batch ceiling.
type ProjectileGenerator struct{}

func NewProjectileGenerator() *ProjectileGenerator { return &ProjectileGenerator{} }

func (g *ProjectileGenerator) Descriptor() Descriptor {
	return Descriptor{
		Type:             "projectile",
		ResourceClass:    ResourceClassHeavy,
		DefaultBatchSize: 4,
		MaxBatchSize:     8,
	}
}

func (g *ProjectileGenerator) Generate(ctx context.Context, startIndex, numSamples int, seed int64) ([]Sample, error) {
	samples := make([]Sample, 0, numSamples)
	for i := 0; i < numSamples; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		index := startIndex + i
		rng := sampleRand(seed, index)

		v0 := 10 + rng.Float64()*40                    // launch speed, m/s
		angle := (20 + rng.Float64()*50) * math.Pi / 180 // launch angle, rad
		drag := 0.001 + rng.Float64()*0.004            // quadratic drag coefficient

		frames, trajectory := simulateFlight(v0, angle, drag)
		if len(frames) == 0 {
			return nil, fmt.Errorf("projectile sample %d produced no frames", index)
		}

		samples = append(samples, Sample{
			ID: models.SampleID("projectile", index),
			Assets: map[string][]byte{
				"first_frame.pgm": frames[0],
				"final_frame.pgm": frames[len(frames)-1],
				"trajectory.csv":  trajectory,
				"prompt.txt": []byte(fmt.Sprintf(
					"A projectile is launched at %.2f m/s and %.1f degrees with quadratic drag. "+
						"Estimate the horizontal distance travelled when it returns to the ground, in meters.\n",
					v0, angle*180/math.Pi)),
			},
		})
	}
	return samples, nil
}

// simulateFlight integrates 2D motion under gravity and quadratic drag
// until the projectile lands, rendering a raster frame every
// projFrameStep steps. All frames stay resident until return.
func simulateFlight(v0, angle, drag float64) ([][]byte, []byte) {
	const maxSteps = 20000

	vx := v0 * math.Cos(angle)
	vy := v0 * math.Sin(angle)
	x, y := 0.0, 0.0

	var frames [][]byte
	var trajectory strings.Builder
	trajectory.WriteString("t,x,y\n")

	// World extent for rendering: generous fixed bounds keep the
	// raster layout independent of the trajectory.
	const worldW, worldH = 300.0, 120.0

	for step := 0; step < maxSteps; step++ {
		if step%projFrameStep == 0 {
			frames = append(frames, renderPoint(x, y, worldW, worldH))
			t := float64(step) * projTimeStep
			trajectory.WriteString(strconv.FormatFloat(t, 'f', 2, 64))
			trajectory.WriteByte(',')
			trajectory.WriteString(strconv.FormatFloat(x, 'f', 4, 64))
			trajectory.WriteByte(',')
			trajectory.WriteString(strconv.FormatFloat(y, 'f', 4, 64))
			trajectory.WriteByte('\n')
		}

		speed := math.Sqrt(vx*vx + vy*vy)
		vx -= drag * speed * vx * projTimeStep
		vy -= (projGravity + drag*speed*vy) * projTimeStep
		x += vx * projTimeStep
		y += vy * projTimeStep

		if y < 0 && step > 0 {
			frames = append(frames, renderPoint(x, 0, worldW, worldH))
			break
		}
	}

	return frames, []byte(trajectory.String())
}

func renderPoint(x, y, worldW, worldH float64) []byte {
	pixels := make([]byte, projFrameDim*projFrameDim)

	px := int(x / worldW * float64(projFrameDim))
	py := projFrameDim - 1 - int(y/worldH*float64(projFrameDim))
	if px >= 0 && px < projFrameDim && py >= 0 && py < projFrameDim {
		pixels[py*projFrameDim+px] = 255
	}
	// Ground line.
	for i := 0; i < projFrameDim; i++ {
		if pixels[(projFrameDim-1)*projFrameDim+i] == 0 {
			pixels[(projFrameDim-1)*projFrameDim+i] = 64
		}
	}

	return encodePGM(projFrameDim, projFrameDim, pixels)
}
