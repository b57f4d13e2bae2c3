package environment

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/boristopalov/mapd/pkg/agent"
	"github.com/boristopalov/mapd/pkg/core"
)

const (
	numRowWalls      = 2
	numColWalls      = 2
	numRowPartitions = 12
	numColPartitions = 12
)

// wallLayout is the placement of every wall, indexed by construction order:
// row walls, col walls, row partitions, col partitions.
var wallLayout = []r2.Vec{
	{X: 0, Y: -3}, {X: 0, Y: 3}, {X: -3, Y: 0}, {X: 3, Y: 0},
	{X: -2.7, Y: 1}, {X: -1.3, Y: 1}, {X: -0.7, Y: 1}, {X: 0.7, Y: 1}, {X: 1.3, Y: 1}, {X: 2.7, Y: 1},
	{X: -2.7, Y: -1}, {X: -1.3, Y: -1}, {X: -0.7, Y: -1}, {X: 0.7, Y: -1}, {X: 1.3, Y: -1}, {X: 2.7, Y: -1},
	{X: -1, Y: -2.7}, {X: -1, Y: -1.3}, {X: -1, Y: -0.7}, {X: -1, Y: 0.7}, {X: -1, Y: 1.3}, {X: -1, Y: 2.7},
	{X: 1, Y: -2.7}, {X: 1, Y: -1.3}, {X: 1, Y: -0.7}, {X: 1, Y: 0.7}, {X: 1, Y: 1.3}, {X: 1, Y: 2.7},
}

// WallLayout returns a copy of the wall placement table
func WallLayout() []r2.Vec {
	layout := make([]r2.Vec, len(wallLayout))
	copy(layout, wallLayout)
	return layout
}

// Params configures MapdScenario. The zero value is not usable; start from
// DefaultParams.
type Params struct {
	ArenaHalfWidth        float64 // positions are sampled from [-h, h] on both axes
	AgentSize             float64
	EntitySize            float64 // landmark and wall size
	CaptureRadius         float64 // landmark counts as occupied below this distance
	DimC                  int
	Boundary              BoundaryRule
	ObserveLandmarkColors bool
}

// DefaultParams returns the reference task constants
func DefaultParams() Params {
	return Params{
		ArenaHalfWidth: 2,
		AgentSize:      0.02,
		EntitySize:     0.02,
		CaptureRadius:  0.1,
		DimC:           2,
		Boundary:       BoundaryRule{Mode: BoundaryReference, Margin: DefaultReferenceMargin},
	}
}

// MapdScenario is the landmark coverage task in a walled maze
type MapdScenario struct {
	params Params
	layout []r2.Vec
}

// NewMapdScenario creates a scenario with the given parameters
func NewMapdScenario(params Params) *MapdScenario {
	return &MapdScenario{
		params: params,
		layout: wallLayout,
	}
}

// Params returns the scenario parameters
func (s *MapdScenario) Params() Params {
	return s.params
}

// MakeWorld builds n agents, n landmarks and the fixed maze of walls
func (s *MapdScenario) MakeWorld(n int) (*World, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAgentCount, n)
	}

	world := NewWorld()
	world.DimC = s.params.DimC
	world.Collaborative = true

	for i := 0; i < n; i++ {
		a, err := agent.New(
			agent.WithName(fmt.Sprintf("agent_%d", i)),
			agent.WithSize(s.params.AgentSize),
			agent.WithCollide(true),
			agent.WithSilent(true),
			agent.WithCommDim(world.DimC),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create agent %d: %w", i, err)
		}
		world.Agents = append(world.Agents, a)
	}

	for i := 0; i < n; i++ {
		world.Landmarks = append(world.Landmarks, core.NewLandmark(fmt.Sprintf("landmark %d", i), s.params.EntitySize))
	}

	groups := []struct {
		kind   core.WallKind
		count  int
		extent core.Extent
	}{
		{core.RowWall, numRowWalls, core.Extent{A: r2.Vec{X: -3}, B: r2.Vec{X: 3}}},
		{core.ColWall, numColWalls, core.Extent{A: r2.Vec{Y: -3}, B: r2.Vec{Y: 3}}},
		{core.RowPartitionWall, numRowPartitions, core.Extent{A: r2.Vec{X: -0.3}, B: r2.Vec{X: 0.3}}},
		{core.ColPartitionWall, numColPartitions, core.Extent{A: r2.Vec{Y: -0.3}, B: r2.Vec{Y: 0.3}}},
	}
	for _, g := range groups {
		for i := 0; i < g.count; i++ {
			name := fmt.Sprintf("%s %d", g.kind, i)
			world.Walls = append(world.Walls, core.NewWall(name, g.kind, s.params.EntitySize, g.extent))
		}
	}

	if len(world.Walls) != len(s.layout) {
		return nil, fmt.Errorf("%w: %d walls, %d placements", ErrWallLayoutMismatch, len(world.Walls), len(s.layout))
	}
	return world, nil
}

// ResetWorld samples agent and landmark positions uniformly inside the arena,
// zeroes velocities and communication, and places every wall from the
// layout table. Walls do not consume randomness.
func (s *MapdScenario) ResetWorld(w *World, src rand.Source) error {
	if src == nil {
		return ErrNilRandomSource
	}
	if len(w.Walls) != len(s.layout) {
		return fmt.Errorf("%w: %d walls, %d placements", ErrWallLayoutMismatch, len(w.Walls), len(s.layout))
	}

	h := s.params.ArenaHalfWidth
	uniform := distuv.Uniform{Min: -h, Max: h, Src: src}

	for _, a := range w.Agents {
		a.Color = core.AgentColor
	}
	for _, l := range w.Landmarks {
		l.Color = core.LandmarkColor
	}

	for _, a := range w.Agents {
		a.State.Pos = r2.Vec{X: uniform.Rand(), Y: uniform.Rand()}
		a.ResetState(w.DimC)
	}
	for _, l := range w.Landmarks {
		l.State.Pos = r2.Vec{X: uniform.Rand(), Y: uniform.Rand()}
		l.State.Vel = r2.Vec{}
	}
	for i, wall := range w.Walls {
		wall.State.Pos = s.layout[i]
		wall.State.Vel = r2.Vec{}
	}
	return nil
}

var _ Scenario = (*MapdScenario)(nil)
