package environment

import (
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
)

func TestObservation(t *testing.T) {
	t.Run("fixed length", func(t *testing.T) {
		s, w := newTestWorld(t, DefaultParams(), 3)
		if got := s.ObservationDim(w); got != 18 {
			t.Fatalf("ObservationDim = %d, want 18", got)
		}
		for _, a := range w.Agents {
			if got := len(s.Observation(a, w)); got != 18 {
				t.Errorf("len(Observation(%s)) = %d, want 18", a.Name, got)
			}
		}
	})

	t.Run("feature layout", func(t *testing.T) {
		s, w := newTestWorld(t, DefaultParams(), 3)
		a := w.Agents[1]
		a.State.Pos = r2.Vec{X: 0.5, Y: 0.5}
		a.State.Vel = r2.Vec{X: 0.1, Y: -0.2}
		w.Agents[0].State.Pos = r2.Vec{X: 1, Y: 1}
		w.Agents[2].State.Pos = r2.Vec{X: -1, Y: 0}
		w.Agents[0].C = []float64{0.3, 0.4}
		w.Agents[2].C = []float64{0.7, 0.8}
		w.Landmarks[0].State.Pos = r2.Vec{X: 0, Y: 0}
		w.Landmarks[1].State.Pos = r2.Vec{X: 1.5, Y: 0.5}
		w.Landmarks[2].State.Pos = r2.Vec{X: 0.5, Y: -1.5}

		want := []float64{
			0.1, -0.2, // velocity
			0.5, 0.5, // position
			-0.5, -0.5, 1, 0, 0, -2, // landmarks
			0.5, 0.5, -1.5, -0.5, // other agents
			0.3, 0.4, 0.7, 0.8, // communication
		}
		got := s.Observation(a, w)
		if !floats.EqualApprox(got, want, 1e-12) {
			t.Errorf("Observation = %v, want %v", got, want)
		}
	})

	t.Run("landmark colors", func(t *testing.T) {
		params := DefaultParams()
		params.ObserveLandmarkColors = true
		s, w := newTestWorld(t, params, 3)
		if got := s.ObservationDim(w); got != 27 {
			t.Fatalf("ObservationDim = %d, want 27", got)
		}
		obs := s.Observation(w.Agents[0], w)
		if len(obs) != 27 {
			t.Fatalf("len(Observation) = %d, want 27", len(obs))
		}
		// colors follow the 2+2+6 kinematic and landmark features
		if !floats.Equal(obs[10:13], []float64{0.15, 0.15, 0.45}) {
			t.Errorf("landmark color features = %v", obs[10:13])
		}
	})

	t.Run("short communication vectors are padded", func(t *testing.T) {
		s, w := newTestWorld(t, DefaultParams(), 2)
		w.Agents[1].C = []float64{0.9}
		obs := s.Observation(w.Agents[0], w)
		if len(obs) != s.ObservationDim(w) {
			t.Fatalf("len(Observation) = %d, want %d", len(obs), s.ObservationDim(w))
		}
		if tail := obs[len(obs)-2:]; tail[0] != 0.9 || tail[1] != 0 {
			t.Errorf("communication features = %v, want [0.9 0]", tail)
		}
	})

	t.Run("single agent", func(t *testing.T) {
		s, w := newTestWorld(t, DefaultParams(), 1)
		if got, want := len(s.Observation(w.Agents[0], w)), 6; got != want {
			t.Errorf("len(Observation) = %d, want %d", got, want)
		}
	})
}
