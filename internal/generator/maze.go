package generator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"datafactory/pkg/models"
)

const mazeDim = 15 // odd: cells at odd coordinates, walls between

const (
	mazeWall    = byte(0)
	mazePassage = byte(255)
	mazePath    = byte(128)
)

// MazeGenerator produces grid-maze puzzles: an unsolved maze image, the
// same maze with the solution path drawn, a prompt, and the move
// sequence of the solution.
type MazeGenerator struct{}

func NewMazeGenerator() *MazeGenerator { return &MazeGenerator{} }

func (g *MazeGenerator) Descriptor() Descriptor {
	return Descriptor{
		Type:             "maze",
		ResourceClass:    ResourceClassLight,
		DefaultBatchSize: 50,
		MaxBatchSize:     models.MaxBatchSize,
	}
}

func (g *MazeGenerator) Generate(ctx context.Context, startIndex, numSamples int, seed int64) ([]Sample, error) {
	samples := make([]Sample, 0, numSamples)
	for i := 0; i < numSamples; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		index := startIndex + i
		grid := carveMaze(sampleRand(seed, index))
		path := solveMaze(grid)
		if path == nil {
			return nil, fmt.Errorf("maze sample %d has no solution", index)
		}

		solved := make([]byte, len(grid))
		copy(solved, grid)
		for _, p := range path {
			solved[p] = mazePath
		}

		samples = append(samples, Sample{
			ID: models.SampleID("maze", index),
			Assets: map[string][]byte{
				"first_frame.pgm": encodePGM(mazeDim, mazeDim, grid),
				"final_frame.pgm": encodePGM(mazeDim, mazeDim, solved),
				"prompt.txt": []byte(fmt.Sprintf(
					"Navigate the %dx%d maze from the top-left corner to the bottom-right corner. "+
						"Walls are black, passages are white. Answer with a sequence of moves (U, D, L, R).\n",
					mazeDim, mazeDim)),
				"solution.txt": []byte(pathToMoves(path) + "\n"),
			},
		})
	}
	return samples, nil
}

// carveMaze runs an iterative recursive-backtracker over the cell grid.
func carveMaze(rng *rand.Rand) []byte {
	grid := make([]byte, mazeDim*mazeDim)
	for i := range grid {
		grid[i] = mazeWall
	}

	at := func(x, y int) int { return y*mazeDim + x }
	grid[at(1, 1)] = mazePassage

	type cell struct{ x, y int }
	stack := []cell{{1, 1}}
	dirs := [4][2]int{{0, -2}, {0, 2}, {-2, 0}, {2, 0}}

	for len(stack) > 0 {
		c := stack[len(stack)-1]

		order := rng.Perm(4)
		carved := false
		for _, d := range order {
			nx, ny := c.x+dirs[d][0], c.y+dirs[d][1]
			if nx < 1 || ny < 1 || nx >= mazeDim-1 || ny >= mazeDim-1 {
				continue
			}
			if grid[at(nx, ny)] != mazeWall {
				continue
			}
			grid[at(c.x+dirs[d][0]/2, c.y+dirs[d][1]/2)] = mazePassage
			grid[at(nx, ny)] = mazePassage
			stack = append(stack, cell{nx, ny})
			carved = true
			break
		}
		if !carved {
			stack = stack[:len(stack)-1]
		}
	}
	return grid
}

// solveMaze finds the shortest path from (1,1) to (dim-2,dim-2) by BFS,
// returned as grid offsets from start to goal.
func solveMaze(grid []byte) []int {
	start := 1*mazeDim + 1
	goal := (mazeDim-2)*mazeDim + (mazeDim - 2)

	prev := make([]int, len(grid))
	for i := range prev {
		prev[i] = -1
	}
	prev[start] = start

	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == goal {
			break
		}
		x, y := cur%mazeDim, cur/mazeDim
		for _, d := range [4][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}} {
			nx, ny := x+d[0], y+d[1]
			if nx < 0 || ny < 0 || nx >= mazeDim || ny >= mazeDim {
				continue
			}
			next := ny*mazeDim + nx
			if grid[next] == mazeWall || prev[next] != -1 {
				continue
			}
			prev[next] = cur
			queue = append(queue, next)
		}
	}

	if prev[goal] == -1 {
		return nil
	}

	var path []int
	for cur := goal; cur != start; cur = prev[cur] {
		path = append(path, cur)
	}
	path = append(path, start)
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func pathToMoves(path []int) string {
	var moves strings.Builder
	for i := 1; i < len(path); i++ {
		switch path[i] - path[i-1] {
		case -mazeDim:
			moves.WriteByte('U')
		case mazeDim:
			moves.WriteByte('D')
		case -1:
			moves.WriteByte('L')
		case 1:
			moves.WriteByte('R')
		}
	}
	return moves.String()
}
