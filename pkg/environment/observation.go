package environment

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/boristopalov/mapd/pkg/agent"
)

// Observation builds a's egocentric observation. Features, in order:
//
//  1. own velocity (DimP)
//  2. own position (DimP)
//  3. position of every landmark relative to a (DimP each)
//  4. color of every landmark (3 each), only when ObserveLandmarkColors is set
//  5. position of every other agent relative to a (DimP each)
//  6. communication vector of every other agent (DimC each, zero padded)
//
// The length always equals ObservationDim(w).
func (s *MapdScenario) Observation(a *agent.Agent, w *World) []float64 {
	obs := make([]float64, 0, s.ObservationDim(w))
	obs = appendVec(obs, a.State.Vel)
	obs = appendVec(obs, a.State.Pos)

	for _, l := range w.Landmarks {
		obs = appendVec(obs, r2.Sub(l.State.Pos, a.State.Pos))
	}
	if s.params.ObserveLandmarkColors {
		for _, l := range w.Landmarks {
			obs = append(obs, l.Color[:]...)
		}
	}

	var comm []float64
	for _, other := range w.Agents {
		if other == a {
			continue
		}
		obs = appendVec(obs, r2.Sub(other.State.Pos, a.State.Pos))
		comm = appendComm(comm, other.C, w.DimC)
	}
	return append(obs, comm...)
}

// ObservationDim returns the length of every observation in w
func (s *MapdScenario) ObservationDim(w *World) int {
	n, l := len(w.Agents), len(w.Landmarks)
	dim := 2*w.DimP + l*w.DimP
	if s.params.ObserveLandmarkColors {
		dim += 3 * l
	}
	if n > 1 {
		dim += (n - 1) * (w.DimP + w.DimC)
	}
	return dim
}

func appendVec(dst []float64, v r2.Vec) []float64 {
	return append(dst, v.X, v.Y)
}

func appendComm(dst []float64, c []float64, dim int) []float64 {
	for i := 0; i < dim; i++ {
		if i < len(c) {
			dst = append(dst, c[i])
		} else {
			dst = append(dst, 0)
		}
	}
	return dst
}
