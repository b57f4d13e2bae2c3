package core

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// Color is an RGB triple with components in [0, 1]
type Color [3]float64

var (
	AgentColor    = Color{0.35, 0.35, 0.85}
	LandmarkColor = Color{0.15, 0.15, 0.45}
	WallColor     = Color{0.25, 0.25, 0.25}
)

// State is the kinematic state of an entity
type State struct {
	Pos r2.Vec // position
	Vel r2.Vec // velocity
}

// Entity holds the fields shared by agents, landmarks and walls
type Entity struct {
	Name    string
	Size    float64 // radius
	Collide bool    // takes part in collision and boundary checks
	Movable bool
	Color   Color
	State   State
}

// Position implements Body
func (e *Entity) Position() r2.Vec {
	return e.State.Pos
}

// Radius implements Body
func (e *Entity) Radius() float64 {
	return e.Size
}

// Collidable implements Body
func (e *Entity) Collidable() bool {
	return e.Collide
}

// Landmark is a static target agents try to cover
type Landmark struct {
	Entity
}

// NewLandmark creates a non-colliding, immovable landmark
func NewLandmark(name string, size float64) *Landmark {
	return &Landmark{
		Entity: Entity{
			Name:    name,
			Size:    size,
			Collide: false,
			Movable: false,
			Color:   LandmarkColor,
		},
	}
}

// Extent is the two-point construction-time attribute of a wall. It
// describes the segment relative to the wall's placement.
type Extent struct {
	A r2.Vec
	B r2.Vec
}

// Horizontal reports whether the extent runs along the x axis
func (e Extent) Horizontal() bool {
	d := r2.Sub(e.B, e.A)
	return abs(d.X) >= abs(d.Y)
}

// HalfLength returns half of the extent's length
func (e Extent) HalfLength() float64 {
	return r2.Norm(r2.Sub(e.B, e.A)) / 2
}

// WallKind groups walls by role in the maze
type WallKind int

const (
	RowWall WallKind = iota
	ColWall
	RowPartitionWall
	ColPartitionWall
)

func (k WallKind) String() string {
	switch k {
	case RowWall:
		return "row wall"
	case ColWall:
		return "col wall"
	case RowPartitionWall:
		return "row p wall"
	case ColPartitionWall:
		return "col p wall"
	default:
		return "wall"
	}
}

// Wall is an immovable collidable segment. Extent is fixed at construction;
// State.Pos is the placement assigned on every reset.
type Wall struct {
	Entity
	Kind   WallKind
	Extent Extent
}

// NewWall creates a collidable, immovable wall with the given extent
func NewWall(name string, kind WallKind, size float64, extent Extent) *Wall {
	return &Wall{
		Entity: Entity{
			Name:    name,
			Size:    size,
			Collide: true,
			Movable: false,
			Color:   WallColor,
		},
		Kind:   kind,
		Extent: extent,
	}
}

// Endpoints returns the wall segment in world coordinates
func (w *Wall) Endpoints() (r2.Vec, r2.Vec) {
	return r2.Add(w.State.Pos, w.Extent.A), r2.Add(w.State.Pos, w.Extent.B)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
