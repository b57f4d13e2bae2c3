package agent

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/boristopalov/mapd/pkg/core"
)

const (
	DefaultSize    = 0.02
	DefaultCommDim = 2
)

// Agent is a controllable entity in the arena
type Agent struct {
	core.Entity
	ID     string
	Silent bool      // emits no communication signal
	C      []float64 // communication vector
}

type AgentParams struct {
	ID      string
	Name    string
	Size    float64
	Collide bool
	Silent  bool
	CommDim int
}

type AgentOption func(*AgentParams)

func WithID(id string) AgentOption {
	return func(p *AgentParams) {
		p.ID = id
	}
}

func WithName(name string) AgentOption {
	return func(p *AgentParams) {
		p.Name = name
	}
}

func WithSize(size float64) AgentOption {
	return func(p *AgentParams) {
		p.Size = size
	}
}

func WithCollide(collide bool) AgentOption {
	return func(p *AgentParams) {
		p.Collide = collide
	}
}

func WithSilent(silent bool) AgentOption {
	return func(p *AgentParams) {
		p.Silent = silent
	}
}

func WithCommDim(dim int) AgentOption {
	return func(p *AgentParams) {
		p.CommDim = dim
	}
}

func defaultAgentParams() *AgentParams {
	id := uuid.New().String()
	return &AgentParams{
		ID:      "agent-" + id,
		Name:    "agent-" + id[:8],
		Size:    DefaultSize,
		Collide: true,
		Silent:  true,
		CommDim: DefaultCommDim,
	}
}

// New creates a new agent
func New(opts ...AgentOption) (*Agent, error) {
	params := defaultAgentParams()

	for _, opt := range opts {
		opt(params)
	}

	if params.Size <= 0 {
		return nil, fmt.Errorf("agent %s: size must be positive, got %v", params.Name, params.Size)
	}
	if params.CommDim < 0 {
		return nil, fmt.Errorf("agent %s: negative communication dim %d", params.Name, params.CommDim)
	}

	return &Agent{
		Entity: core.Entity{
			Name:    params.Name,
			Size:    params.Size,
			Collide: params.Collide,
			Movable: true,
			Color:   core.AgentColor,
		},
		ID:     params.ID,
		Silent: params.Silent,
		C:      make([]float64, params.CommDim),
	}, nil
}

// GetID returns the agent's ID
func (a *Agent) GetID() string {
	return a.ID
}

// ResetState zeroes velocity and resizes the communication vector to dimC,
// zeroing it as well. Position is left to the caller.
func (a *Agent) ResetState(dimC int) {
	a.State.Vel.X, a.State.Vel.Y = 0, 0
	if cap(a.C) >= dimC {
		a.C = a.C[:dimC]
	} else {
		a.C = make([]float64, dimC)
	}
	for i := range a.C {
		a.C[i] = 0
	}
}
