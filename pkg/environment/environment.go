package environment

import (
	"errors"
	"math/rand/v2"

	"github.com/boristopalov/mapd/pkg/agent"
	"github.com/boristopalov/mapd/pkg/core"
)

const (
	EnvName          = "mapd_3_agent_v1"
	DefaultAgents    = 3
	DefaultMaxCycles = 50
)

var (
	ErrInvalidAgentCount  = errors.New("agent count must be at least 1")
	ErrWallLayoutMismatch = errors.New("wall count does not match wall layout table")
	ErrNilRandomSource    = errors.New("reset requires a random source")
)

// World owns every entity of an episode
type World struct {
	Agents    []*agent.Agent
	Landmarks []*core.Landmark
	Walls     []*core.Wall

	DimP int // positional dimensions
	DimC int // communication channel dimensions

	// Collaborative tells the environment shell that every agent shares
	// GlobalReward
	Collaborative bool
}

// NewWorld returns an empty 2-D world
func NewWorld() *World {
	return &World{
		Agents:    make([]*agent.Agent, 0),
		Landmarks: make([]*core.Landmark, 0),
		Walls:     make([]*core.Wall, 0),
		DimP:      2,
		DimC:      2,
	}
}

// Entities returns every entity as a Body, agents first, then landmarks, then walls
func (w *World) Entities() []core.Body {
	bodies := make([]core.Body, 0, len(w.Agents)+len(w.Landmarks)+len(w.Walls))
	for _, a := range w.Agents {
		bodies = append(bodies, a)
	}
	for _, l := range w.Landmarks {
		bodies = append(bodies, l)
	}
	for _, wall := range w.Walls {
		bodies = append(bodies, wall)
	}
	return bodies
}

// Benchmark holds the auxiliary metrics of one agent's view of the world
type Benchmark struct {
	Reward            float64 `json:"reward"`
	Collisions        int     `json:"collisions"`
	MinDists          float64 `json:"min_dists"`
	OccupiedLandmarks int     `json:"occupied_landmarks"`
}

// Scenario defines the task an environment shell drives
type Scenario interface {
	// MakeWorld builds the entity population for n agents
	MakeWorld(n int) (*World, error)
	// ResetWorld re-samples the episode's initial state from src
	ResetWorld(w *World, src rand.Source) error
	// Reward returns the local reward of an agent
	Reward(a *agent.Agent, w *World) float64
	// GlobalReward returns the reward shared by a collaborative team
	GlobalReward(w *World) float64
	// BenchmarkData returns auxiliary metrics for an agent
	BenchmarkData(a *agent.Agent, w *World) Benchmark
	// Observation returns an agent's egocentric observation vector
	Observation(a *agent.Agent, w *World) []float64
}
