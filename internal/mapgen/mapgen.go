// Package mapgen produces the starting board: a bordered grid with
// indestructible pillars, guaranteed-free spawn pockets in the corners, and a
// random soft-block fill smoothed by a couple of cellular-automaton passes.
package mapgen

import (
	"math/rand"

	"github.com/cedricfoucault/bomberman/internal/protocol"
)

const (
	empty = 0
	wall  = 1

	// softFillPercent is the chance an unconstrained cell starts as a wall.
	softFillPercent = 39
	// generations of automaton smoothing applied to the random fill.
	generations = 2
)

// Generate returns the flattened width*height tile array for a fresh board,
// row-major, using the package-level random source.
func Generate(width, height int) []byte {
	return GenerateRand(width, height, nil)
}

// GenerateRand is Generate with an explicit source, for deterministic boards
// in tests. A nil rng falls back to the shared source.
func GenerateRand(width, height int, rng *rand.Rand) []byte {
	intn := rand.Intn
	if rng != nil {
		intn = rng.Intn
	}

	// The working grid is padded by one ring of border wall so every inner
	// cell has a full neighborhood.
	g := newGrid(width+2, height+2)
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			switch {
			case g.fixedWall(x, y):
				g.set(x, y, wall)
			case g.fixedEmpty(x, y):
				g.set(x, y, empty)
			case intn(100) < softFillPercent:
				g.set(x, y, wall)
			default:
				g.set(x, y, empty)
			}
		}
	}
	for i := 0; i < generations; i++ {
		g.step()
	}

	tiles := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var t byte
			switch {
			case g.fixedWall(x+1, y+1):
				t = protocol.TileHardBlock
			case g.at(x+1, y+1) == wall:
				t = protocol.TileSoftBlock
			default:
				t = protocol.TileFree
			}
			tiles[y*width+x] = t
		}
	}
	return tiles
}

type grid struct {
	w, h  int
	cells []int
}

func newGrid(w, h int) *grid {
	return &grid{w: w, h: h, cells: make([]int, w*h)}
}

func (g *grid) at(x, y int) int { return g.cells[y*g.w+x] }
func (g *grid) set(x, y, v int) { g.cells[y*g.w+x] = v }

func (g *grid) border(x, y int) bool {
	return x == 0 || x == g.w-1 || y == 0 || y == g.h-1
}

// pillar cells are the classic indestructible lattice.
func (g *grid) pillar(x, y int) bool {
	return x%2 == 0 && y%2 == 0
}

func (g *grid) fixedWall(x, y int) bool {
	return g.border(x, y) || g.pillar(x, y)
}

// fixedEmpty keeps the four corner pockets clear so every spawn position has
// room to make a first move: the corner tile plus its two neighbors.
func (g *grid) fixedEmpty(x, y int) bool {
	topLeft := (y == 1 && (x == 1 || x == 2)) || (y == 2 && x == 1)
	topRight := (y == 1 && (x == g.w-2 || x == g.w-3)) || (y == 2 && x == g.w-2)
	bottomLeft := (y == g.h-2 && (x == 1 || x == 2)) || (y == g.h-3 && x == 1)
	bottomRight := (y == g.h-2 && (x == g.w-2 || x == g.w-3)) || (y == g.h-3 && x == g.w-2)
	return topLeft || topRight || bottomLeft || bottomRight
}

func (g *grid) fixed(x, y int) bool {
	return g.fixedWall(x, y) || g.fixedEmpty(x, y)
}

func (g *grid) emptyNeighbors(x, y int) int {
	n := 0
	for yy := y - 1; yy <= y+1; yy++ {
		for xx := x - 1; xx <= x+1; xx++ {
			if g.at(xx, yy) == empty {
				n++
			}
		}
	}
	return n
}

// step applies one automaton generation to the free cells: a cell survives as
// empty with 2 or 4 empty cells in its 3x3 neighborhood, otherwise it walls
// up. Fixed cells never change.
func (g *grid) step() {
	next := make([]int, len(g.cells))
	copy(next, g.cells)
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			if g.fixed(x, y) {
				continue
			}
			switch g.emptyNeighbors(x, y) {
			case 2, 4:
				next[y*g.w+x] = empty
			default:
				next[y*g.w+x] = wall
			}
		}
	}
	g.cells = next
}
