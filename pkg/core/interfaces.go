package core

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// Body is the view of an entity used by collision and proximity queries
type Body interface {
	// Position returns the current position
	Position() r2.Vec
	// Radius returns the physical radius
	Radius() float64
	// Collidable reports whether the body takes part in collision checks
	Collidable() bool
}

var (
	_ Body = (*Entity)(nil)
	_ Body = (*Landmark)(nil)
	_ Body = (*Wall)(nil)
)
