package environment

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/boristopalov/mapd/pkg/agent"
	"github.com/boristopalov/mapd/pkg/core"
)

// Reward penalizes a by 1 for every other collidable agent it overlaps.
// Landmark coverage is left to GlobalReward.
func (s *MapdScenario) Reward(a *agent.Agent, w *World) float64 {
	rew := 0.0
	if !a.Collide {
		return rew
	}
	for _, other := range w.Agents {
		if other == a || !other.Collide {
			continue
		}
		if IsCollision(other, a) {
			rew--
		}
	}
	return rew
}

// GlobalReward is the negated sum, over landmarks, of the distance to the
// nearest agent
func (s *MapdScenario) GlobalReward(w *World) float64 {
	rew := 0.0
	for _, l := range w.Landmarks {
		if d, ok := nearestAgentDist(l, w); ok {
			rew -= d
		}
	}
	return rew
}

// BenchmarkData mirrors the shaped reward: coverage distance per landmark,
// minus one per overlapping agent and minus one per teammate at a wall.
func (s *MapdScenario) BenchmarkData(a *agent.Agent, w *World) Benchmark {
	var b Benchmark
	for _, l := range w.Landmarks {
		d, ok := nearestAgentDist(l, w)
		if !ok {
			continue
		}
		b.MinDists += d
		b.Reward -= d
		if d < s.params.CaptureRadius {
			b.OccupiedLandmarks++
		}
	}
	if !a.Collide {
		return b
	}
	for _, other := range w.Agents {
		if other != a && other.Collide && IsCollision(other, a) {
			b.Reward--
			b.Collisions++
		}
		if other.Collide && s.IsBoundary(other, w) {
			b.Reward--
			b.Collisions++
		}
	}
	return b
}

// TeamCollisions counts every overlapping pair of collidable agents once and
// every collidable agent at a wall once. Summing BenchmarkData.Collisions over
// the team would count each wall event once per agent.
func (s *MapdScenario) TeamCollisions(w *World) int {
	n := 0
	for i, a := range w.Agents {
		if !a.Collide {
			continue
		}
		for _, other := range w.Agents[i+1:] {
			if other.Collide && IsCollision(a, other) {
				n++
			}
		}
		if s.IsBoundary(a, w) {
			n++
		}
	}
	return n
}

// nearestAgentDist returns the distance from l to the closest agent, or false
// when the world has no agents
func nearestAgentDist(l *core.Landmark, w *World) (float64, bool) {
	if len(w.Agents) == 0 {
		return 0, false
	}
	best := math.Inf(1)
	for _, a := range w.Agents {
		if d := r2.Norm(r2.Sub(a.State.Pos, l.State.Pos)); d < best {
			best = d
		}
	}
	return best, true
}
