package environment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/boristopalov/mapd/pkg/core"
)

// BoundaryMode selects how agent-wall proximity is measured
type BoundaryMode string

const (
	// BoundaryReference compares a signed single-axis difference against
	// agent size plus Margin. Row walls are those whose extent starts above
	// the x axis. This is the default rule.
	BoundaryReference BoundaryMode = "reference"
	// BoundarySegment measures the gap between the agent and the placed wall
	// segment and fires when the bodies overlap.
	BoundarySegment BoundaryMode = "segment"
)

// DefaultReferenceMargin is the margin DefaultParams gives BoundaryReference
const DefaultReferenceMargin = 2.0

// BoundaryRule decides whether an agent is at a wall
type BoundaryRule struct {
	Mode   BoundaryMode
	Margin float64 // only used by BoundaryReference; zero means no margin
}

// Validate checks the mode is known
func (r BoundaryRule) Validate() error {
	switch r.Mode {
	case BoundarySegment, BoundaryReference:
		return nil
	default:
		return fmt.Errorf("unknown boundary mode %q", r.Mode)
	}
}

// Hit reports whether body is at wall under this rule
func (r BoundaryRule) Hit(body core.Body, wall *core.Wall) bool {
	if r.Mode == BoundaryReference {
		p, wp := body.Position(), wall.Position()
		dist := p.Y - wp.Y
		if wall.Extent.A.Y > 0 {
			dist = p.X - wp.X
		}
		return dist < body.Radius()+r.Margin
	}
	return wallGap(body.Position(), wall) < body.Radius()+wall.Radius()
}

// wallGap returns the distance from p to the wall segment. Extents are
// symmetric about the placement, so the segment spans HalfLength on each side
// of State.Pos along the wall's axis.
func wallGap(p r2.Vec, wall *core.Wall) float64 {
	d := r2.Sub(p, wall.State.Pos)
	along, across := d.X, d.Y
	if !wall.Extent.Horizontal() {
		along, across = d.Y, d.X
	}
	over := math.Max(math.Abs(along)-wall.Extent.HalfLength(), 0)
	return math.Hypot(over, across)
}

// IsCollision reports whether two bodies overlap. Touching bodies do not collide.
func IsCollision(a, b core.Body) bool {
	dist := r2.Norm(r2.Sub(a.Position(), b.Position()))
	return dist < a.Radius()+b.Radius()
}

// IsBoundary reports whether body is at any collidable wall of w
func (s *MapdScenario) IsBoundary(body core.Body, w *World) bool {
	for _, wall := range w.Walls {
		if !wall.Collidable() {
			continue
		}
		if s.params.Boundary.Hit(body, wall) {
			return true
		}
	}
	return false
}
