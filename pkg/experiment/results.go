package experiment

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/boristopalov/mapd/pkg/environment"
)

// EpisodeResult is the evaluation of one freshly reset episode
type EpisodeResult struct {
	RunID          string                  `json:"run_id"`
	EpisodeID      string                  `json:"episode_id"`
	Index          int                     `json:"index"`
	Seed           uint64                  `json:"seed"`
	GlobalReward   float64                 `json:"global_reward"`
	Rewards        []float64               `json:"rewards"`
	Benchmarks     []environment.Benchmark `json:"benchmarks"`
	Collisions     int                     `json:"collisions"` // agent pairs plus agents at a wall, each once
	Occupied       int                     `json:"occupied_landmarks"`
	MinDists       float64                 `json:"min_dists"`
	ObservationDim int                     `json:"observation_dim"`
	Timestamp      time.Time               `json:"timestamp"`
}

// Summary aggregates every episode of a run
type Summary struct {
	RunID            string        `json:"run_id"`
	Name             string        `json:"name"`
	Episodes         int           `json:"episodes"`
	Agents           int           `json:"agents"`
	MeanGlobalReward float64       `json:"mean_global_reward"`
	StdGlobalReward  float64       `json:"std_global_reward"`
	MeanCollisions   float64       `json:"mean_collisions"`
	MeanOccupied     float64       `json:"mean_occupied_landmarks"`
	MeanMinDists     float64       `json:"mean_min_dists"`
	OccupancyRate    float64       `json:"occupancy_rate"` // occupied / landmarks
	Duration         time.Duration `json:"duration"`
}

// Summarize computes mean and standard deviation over results
func Summarize(runID, name string, agents, landmarks int, results []EpisodeResult) Summary {
	s := Summary{
		RunID:    runID,
		Name:     name,
		Episodes: len(results),
		Agents:   agents,
	}
	if len(results) == 0 {
		return s
	}

	global := make([]float64, len(results))
	collisions := make([]float64, len(results))
	occupied := make([]float64, len(results))
	minDists := make([]float64, len(results))
	for i, r := range results {
		global[i] = r.GlobalReward
		collisions[i] = float64(r.Collisions)
		occupied[i] = float64(r.Occupied)
		minDists[i] = r.MinDists
	}

	if len(results) > 1 {
		s.MeanGlobalReward, s.StdGlobalReward = stat.MeanStdDev(global, nil)
	} else {
		s.MeanGlobalReward = global[0]
	}
	s.MeanCollisions = stat.Mean(collisions, nil)
	s.MeanOccupied = stat.Mean(occupied, nil)
	s.MeanMinDists = stat.Mean(minDists, nil)
	if landmarks > 0 {
		s.OccupancyRate = s.MeanOccupied / float64(landmarks)
	}
	return s
}
