package experiment

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/boristopalov/mapd/pkg/config"
	"github.com/boristopalov/mapd/pkg/environment"
	"github.com/boristopalov/mapd/pkg/memory"
	"github.com/boristopalov/mapd/pkg/messaging"
)

// Experiment coordinates the running of experiments
type Experiment interface {
	// Run executes the experiment according to configuration
	Run(ctx context.Context) error
	// GetStatus returns current experiment status
	GetStatus() Status
}

type Status struct {
	Running   bool
	Completed int // finished episodes
	StartTime time.Time
	EndTime   time.Time
	Errors    []error
}

// BenchmarkExperiment resets the scenario once per episode and records
// rewards, benchmark metrics and observation sizes for every agent
type BenchmarkExperiment struct {
	name     string
	runID    string
	episodes int
	agents   int
	seed     int64
	scenario *environment.MapdScenario
	broker   messaging.Broker
	history  *memory.Memory[EpisodeResult]
	logger   *log.Logger

	mu      sync.RWMutex
	status  Status
	results []EpisodeResult
	summary Summary
}

type ExperimentOption func(*BenchmarkExperiment)

func WithRunID(id string) ExperimentOption {
	return func(e *BenchmarkExperiment) {
		e.runID = id
	}
}

func WithLogger(l *log.Logger) ExperimentOption {
	return func(e *BenchmarkExperiment) {
		e.logger = l
	}
}

func WithBroker(b messaging.Broker) ExperimentOption {
	return func(e *BenchmarkExperiment) {
		e.broker = b
	}
}

// NewBenchmarkExperiment creates a benchmark run from cfg
func NewBenchmarkExperiment(cfg *config.Config, opts ...ExperimentOption) (*BenchmarkExperiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &BenchmarkExperiment{
		name:     cfg.Experiment.Name,
		runID:    "run-" + uuid.New().String(),
		episodes: cfg.Experiment.Episodes,
		agents:   cfg.Scenario.Agents,
		seed:     cfg.Experiment.Seed,
		scenario: environment.NewMapdScenario(cfg.Params()),
		history:  memory.NewMemory[EpisodeResult](cfg.Experiment.History),
		logger:   log.New(os.Stdout, "[benchmark] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RunID returns the identifier attached to every published result
func (e *BenchmarkExperiment) RunID() string {
	return e.runID
}

// Run executes every episode, stopping early when ctx is cancelled
func (e *BenchmarkExperiment) Run(ctx context.Context) error {
	e.mu.Lock()
	e.status = Status{Running: true, StartTime: time.Now()}
	e.results = make([]EpisodeResult, 0, e.episodes)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.status.Running = false
		e.status.EndTime = time.Now()
		e.mu.Unlock()
	}()

	err := e.runLoop(ctx)
	if err != nil {
		e.recordError(err)
	}
	return err
}

func (e *BenchmarkExperiment) runLoop(ctx context.Context) error {
	world, err := e.scenario.MakeWorld(e.agents)
	if err != nil {
		return fmt.Errorf("failed to make world: %w", err)
	}
	e.logger.Printf("Starting %s (%s): %d episodes, %d agents, %d walls",
		e.name, e.runID, e.episodes, len(world.Agents), len(world.Walls))

	for i := 0; i < e.episodes; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := e.runEpisode(world, i)
		if err != nil {
			return fmt.Errorf("episode %d failed: %w", i, err)
		}

		e.mu.Lock()
		e.results = append(e.results, res)
		e.status.Completed++
		e.mu.Unlock()
		e.history.Store(res)
		e.publish(messaging.KindEpisode, res)
	}

	e.mu.Lock()
	e.summary = Summarize(e.runID, e.name, len(world.Agents), len(world.Landmarks), e.results)
	e.summary.Duration = time.Since(e.status.StartTime)
	summary := e.summary
	e.mu.Unlock()

	e.logSummary(summary)
	e.publish(messaging.KindSummary, summary)
	return nil
}

// EpisodeSeed returns the seed used for episode i of a run seeded with seed
func EpisodeSeed(seed int64, i int) uint64 {
	return uint64(seed) + uint64(i)
}

func (e *BenchmarkExperiment) runEpisode(world *environment.World, i int) (EpisodeResult, error) {
	seed := EpisodeSeed(e.seed, i)
	if err := e.scenario.ResetWorld(world, rand.NewPCG(seed, seed)); err != nil {
		return EpisodeResult{}, err
	}

	res := EpisodeResult{
		RunID:          e.runID,
		EpisodeID:      uuid.New().String(),
		Index:          i,
		Seed:           seed,
		GlobalReward:   e.scenario.GlobalReward(world),
		Rewards:        make([]float64, 0, len(world.Agents)),
		Benchmarks:     make([]environment.Benchmark, 0, len(world.Agents)),
		ObservationDim: e.scenario.ObservationDim(world),
		Timestamp:      time.Now(),
	}
	res.Collisions = e.scenario.TeamCollisions(world)
	for _, a := range world.Agents {
		if got := len(e.scenario.Observation(a, world)); got != res.ObservationDim {
			return EpisodeResult{}, fmt.Errorf("observation of %s has length %d, want %d", a.Name, got, res.ObservationDim)
		}
		b := e.scenario.BenchmarkData(a, world)
		res.Rewards = append(res.Rewards, e.scenario.Reward(a, world))
		res.Benchmarks = append(res.Benchmarks, b)
		res.Occupied = b.OccupiedLandmarks
		res.MinDists = b.MinDists
	}
	return res, nil
}

func (e *BenchmarkExperiment) publish(kind messaging.Kind, content any) {
	if e.broker == nil {
		return
	}
	err := e.broker.Publish(messaging.Message{
		Kind:      kind,
		From:      e.runID,
		Content:   content,
		Timestamp: time.Now(),
	})
	if err != nil {
		e.logger.Printf("Warning: %v", err)
	}
}

func (e *BenchmarkExperiment) recordError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Errors = append(e.status.Errors, err)
}

func (e *BenchmarkExperiment) logSummary(s Summary) {
	e.logger.Printf("=== %s summary (%d episodes, %s) ===", s.Name, s.Episodes, s.Duration.Round(time.Millisecond))
	e.logger.Printf("  Global Reward: %.3f +/- %.3f", s.MeanGlobalReward, s.StdGlobalReward)
	e.logger.Printf("  Collisions: %.2f per episode", s.MeanCollisions)
	e.logger.Printf("  Occupied Landmarks: %.2f (%.1f%%)", s.MeanOccupied, s.OccupancyRate*100)
	e.logger.Printf("  Summed Min Distance: %.3f", s.MeanMinDists)
	e.logger.Printf("  Rolling Global Reward (last %d): %.3f", e.history.Len(), e.RollingGlobalReward())
}

// GetStatus returns a copy of the run status
func (e *BenchmarkExperiment) GetStatus() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	s.Errors = append([]error(nil), e.status.Errors...)
	return s
}

// Results returns a copy of every finished episode
func (e *BenchmarkExperiment) Results() []EpisodeResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]EpisodeResult, len(e.results))
	copy(out, e.results)
	return out
}

// Summary returns the aggregate of the last completed run
func (e *BenchmarkExperiment) Summary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.summary
}

// RollingGlobalReward returns the mean global reward over the most recent
// episodes kept in history
func (e *BenchmarkExperiment) RollingGlobalReward() float64 {
	recent := e.history.All()
	if len(recent) == 0 {
		return 0
	}
	xs := make([]float64, len(recent))
	for i, r := range recent {
		xs[i] = r.GlobalReward
	}
	return stat.Mean(xs, nil)
}

var _ Experiment = (*BenchmarkExperiment)(nil)
