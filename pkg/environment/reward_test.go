package environment

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/boristopalov/mapd/pkg/agent"
)

// coverageWorld places agents at (0,0), (5,5), (0,0.01) and a single
// landmark at the origin. Walls use the segment rule unless params say
// otherwise.
func coverageWorld(t *testing.T) (*MapdScenario, *World) {
	t.Helper()
	return coverageWorldWith(t, segmentParams())
}

func coverageWorldWith(t *testing.T, params Params) (*MapdScenario, *World) {
	t.Helper()
	s, w := newTestWorld(t, params, 3)
	w.Agents[0].State.Pos = r2.Vec{X: 0, Y: 0}
	w.Agents[1].State.Pos = r2.Vec{X: 5, Y: 5}
	w.Agents[2].State.Pos = r2.Vec{X: 0, Y: 0.01}
	w.Landmarks = w.Landmarks[:1]
	w.Landmarks[0].State.Pos = r2.Vec{}
	return s, w
}

func TestReward(t *testing.T) {
	s, w := coverageWorld(t)

	t.Run("mutual collision penalty", func(t *testing.T) {
		if got := s.Reward(w.Agents[0], w); got != -1 {
			t.Errorf("Reward(agent_0) = %v, want -1", got)
		}
		if got := s.Reward(w.Agents[2], w); got != -1 {
			t.Errorf("Reward(agent_2) = %v, want -1", got)
		}
		if got := s.Reward(w.Agents[1], w); got != 0 {
			t.Errorf("Reward(agent_1) = %v, want 0", got)
		}
	})

	t.Run("self excluded", func(t *testing.T) {
		w.Agents[2].State.Pos = r2.Vec{X: -5, Y: -5}
		t.Cleanup(func() { w.Agents[2].State.Pos = r2.Vec{X: 0, Y: 0.01} })
		if got := s.Reward(w.Agents[0], w); got != 0 {
			t.Errorf("isolated agent reward = %v, want 0", got)
		}
	})

	t.Run("non collidable agents", func(t *testing.T) {
		w.Agents[2].Collide = false
		t.Cleanup(func() { w.Agents[2].Collide = true })
		if got := s.Reward(w.Agents[0], w); got != 0 {
			t.Errorf("reward against non-collidable agent = %v, want 0", got)
		}
		if got := s.Reward(w.Agents[2], w); got != 0 {
			t.Errorf("reward of non-collidable agent = %v, want 0", got)
		}
	})
}

func TestGlobalReward(t *testing.T) {
	t.Run("covered landmark", func(t *testing.T) {
		s, w := coverageWorld(t)
		if got := s.GlobalReward(w); got != 0 {
			t.Errorf("GlobalReward = %v, want 0", got)
		}
	})

	t.Run("sum of nearest distances", func(t *testing.T) {
		s, w := coverageWorld(t)
		w.Landmarks[0].State.Pos = r2.Vec{X: 3, Y: 4}
		// nearest agent is (5,5): distance sqrt(5)
		if got, want := s.GlobalReward(w), -math.Sqrt(5); !scalar.EqualWithinAbs(got, want, 1e-12) {
			t.Errorf("GlobalReward = %v, want %v", got, want)
		}
	})

	t.Run("invariant to agent ordering", func(t *testing.T) {
		s, w := newTestWorld(t, DefaultParams(), 4)
		for seed := uint64(0); seed < 20; seed++ {
			if err := s.ResetWorld(w, rand.NewPCG(seed, 3)); err != nil {
				t.Fatalf("Failed to reset world: %v", err)
			}
			before := s.GlobalReward(w)
			if before > 0 {
				t.Errorf("GlobalReward = %v, want <= 0", before)
			}
			reversed := make([]*agent.Agent, len(w.Agents))
			for i, a := range w.Agents {
				reversed[len(w.Agents)-1-i] = a
			}
			w.Agents = reversed
			if after := s.GlobalReward(w); after != before {
				t.Errorf("GlobalReward changed with agent order: %v vs %v", before, after)
			}
		}
	})

	t.Run("no agents", func(t *testing.T) {
		s := NewMapdScenario(DefaultParams())
		w, _ := s.MakeWorld(2)
		w.Agents = nil
		if got := s.GlobalReward(w); got != 0 {
			t.Errorf("GlobalReward with no agents = %v, want 0", got)
		}
	})
}

func TestBenchmarkData(t *testing.T) {
	t.Run("coverage example", func(t *testing.T) {
		s, w := coverageWorld(t)
		b := s.BenchmarkData(w.Agents[0], w)
		if b.OccupiedLandmarks != 1 {
			t.Errorf("OccupiedLandmarks = %d, want 1", b.OccupiedLandmarks)
		}
		if b.MinDists != 0 {
			t.Errorf("MinDists = %v, want 0", b.MinDists)
		}
		if b.Collisions != 1 {
			t.Errorf("Collisions = %d, want 1", b.Collisions)
		}
		if b.Reward != -1 {
			t.Errorf("Reward = %v, want -1", b.Reward)
		}
	})

	t.Run("default rule", func(t *testing.T) {
		s, w := coverageWorldWith(t, DefaultParams())
		// agent_2 overlaps agent_0, and every agent is below the top row
		// wall by less than size + margin: 0 - 3, 5 - 3 and 0.01 - 3 are all < 2.02
		b := s.BenchmarkData(w.Agents[0], w)
		if b.Collisions != 4 {
			t.Errorf("Collisions = %d, want 4", b.Collisions)
		}
		if !scalar.EqualWithinAbs(b.Reward, -4, 1e-12) {
			t.Errorf("Reward = %v, want -4", b.Reward)
		}
		if b.OccupiedLandmarks != 1 || b.MinDists != 0 {
			t.Errorf("coverage = %d occupied, %v min dists; want 1, 0", b.OccupiedLandmarks, b.MinDists)
		}
	})

	t.Run("boundary events count for the team", func(t *testing.T) {
		s, w := coverageWorld(t)
		// agent_1 sits on the top row wall
		w.Agents[1].State.Pos = r2.Vec{X: 0, Y: 2.99}
		b := s.BenchmarkData(w.Agents[0], w)
		if b.Collisions != 2 {
			t.Errorf("Collisions = %d, want 2", b.Collisions)
		}
		if !scalar.EqualWithinAbs(b.Reward, -2, 1e-12) {
			t.Errorf("Reward = %v, want -2", b.Reward)
		}
	})

	t.Run("capture radius is strict", func(t *testing.T) {
		s, w := coverageWorld(t)
		w.Agents[0].State.Pos = r2.Vec{X: 0.1, Y: 0}
		w.Agents[2].State.Pos = r2.Vec{X: -0.1, Y: 0}
		if got := s.BenchmarkData(w.Agents[1], w).OccupiedLandmarks; got != 0 {
			t.Errorf("OccupiedLandmarks = %d, want 0 at exactly the capture radius", got)
		}
		w.Agents[0].State.Pos = r2.Vec{X: 0.0999, Y: 0}
		if got := s.BenchmarkData(w.Agents[1], w).OccupiedLandmarks; got != 1 {
			t.Errorf("OccupiedLandmarks = %d, want 1 inside the capture radius", got)
		}
	})

	t.Run("occupied never exceeds landmarks", func(t *testing.T) {
		s, w := newTestWorld(t, DefaultParams(), 3)
		for seed := uint64(0); seed < 20; seed++ {
			_ = s.ResetWorld(w, rand.NewPCG(seed, 11))
			// stack every agent on a landmark
			for i, a := range w.Agents {
				a.State.Pos = w.Landmarks[i%len(w.Landmarks)].State.Pos
			}
			b := s.BenchmarkData(w.Agents[0], w)
			if b.OccupiedLandmarks > len(w.Landmarks) {
				t.Fatalf("OccupiedLandmarks = %d > %d", b.OccupiedLandmarks, len(w.Landmarks))
			}
			if b.OccupiedLandmarks != countOccupied(w, 0.1) {
				t.Errorf("OccupiedLandmarks = %d, want %d", b.OccupiedLandmarks, countOccupied(w, 0.1))
			}
		}
	})

	t.Run("non collidable agent skips penalties", func(t *testing.T) {
		s, w := coverageWorld(t)
		w.Agents[0].Collide = false
		b := s.BenchmarkData(w.Agents[0], w)
		if b.Collisions != 0 || b.Reward != 0 {
			t.Errorf("got %+v, want no penalties", b)
		}
	})
}

func TestTeamCollisions(t *testing.T) {
	t.Run("pairs counted once", func(t *testing.T) {
		s, w := coverageWorld(t)
		if got := s.TeamCollisions(w); got != 1 {
			t.Errorf("TeamCollisions = %d, want 1", got)
		}
	})

	t.Run("wall events counted once", func(t *testing.T) {
		s, w := coverageWorld(t)
		w.Agents[1].State.Pos = r2.Vec{X: 0, Y: 2.99}
		if got := s.TeamCollisions(w); got != 2 {
			t.Errorf("TeamCollisions = %d, want 2", got)
		}
		sum := 0
		for _, a := range w.Agents {
			sum += s.BenchmarkData(a, w).Collisions
		}
		if sum == s.TeamCollisions(w) {
			t.Errorf("per-agent sum %d should overcount wall events", sum)
		}
	})

	t.Run("default rule", func(t *testing.T) {
		s, w := coverageWorldWith(t, DefaultParams())
		if got := s.TeamCollisions(w); got != 4 {
			t.Errorf("TeamCollisions = %d, want 4", got)
		}
	})

	t.Run("non collidable agents ignored", func(t *testing.T) {
		s, w := coverageWorld(t)
		w.Agents[2].Collide = false
		if got := s.TeamCollisions(w); got != 0 {
			t.Errorf("TeamCollisions = %d, want 0", got)
		}
	})
}

func countOccupied(w *World, radius float64) int {
	n := 0
	for _, l := range w.Landmarks {
		if d, ok := nearestAgentDist(l, w); ok && d < radius {
			n++
		}
	}
	return n
}
