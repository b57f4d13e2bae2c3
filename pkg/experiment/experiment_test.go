package experiment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"testing"

	"github.com/boristopalov/mapd/pkg/config"
	"github.com/boristopalov/mapd/pkg/environment"
	"github.com/boristopalov/mapd/pkg/messaging"
)

func testConfig(episodes int) *config.Config {
	cfg := config.Default()
	cfg.Experiment.Episodes = episodes
	cfg.Experiment.History = 3
	cfg.Experiment.Seed = 7
	return cfg
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestBenchmarkExperiment(t *testing.T) {
	t.Run("runs every episode", func(t *testing.T) {
		broker := messaging.NewBroker()
		t.Cleanup(broker.Reset)
		ch := make(chan messaging.Message, 16)
		if err := broker.Subscribe("test", ch); err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}

		exp, err := NewBenchmarkExperiment(testConfig(5), WithBroker(broker), WithLogger(quietLogger()), WithRunID("run-test"))
		if err != nil {
			t.Fatalf("Failed to create experiment: %v", err)
		}
		if err := exp.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		results := exp.Results()
		if len(results) != 5 {
			t.Fatalf("len(Results()) = %d, want 5", len(results))
		}
		for i, r := range results {
			if r.Index != i || r.RunID != "run-test" || r.EpisodeID == "" {
				t.Errorf("result %d has wrong identity: %+v", i, r)
			}
			if r.Seed != EpisodeSeed(7, i) {
				t.Errorf("result %d seed = %d, want %d", i, r.Seed, EpisodeSeed(7, i))
			}
			if len(r.Rewards) != 3 || len(r.Benchmarks) != 3 {
				t.Errorf("result %d has %d rewards and %d benchmarks", i, len(r.Rewards), len(r.Benchmarks))
			}
			if r.ObservationDim != 18 {
				t.Errorf("result %d observation dim = %d, want 18", i, r.ObservationDim)
			}
			if r.GlobalReward > 0 || r.Occupied > 3 {
				t.Errorf("result %d out of range: %+v", i, r)
			}
			// every agent is at a wall under the default rule; at most 3 pairs overlap
			if r.Collisions < 3 || r.Collisions > 6 {
				t.Errorf("result %d collisions = %d, want within [3, 6]", i, r.Collisions)
			}
		}

		status := exp.GetStatus()
		if status.Running || status.Completed != 5 || len(status.Errors) != 0 {
			t.Errorf("unexpected status: %+v", status)
		}

		summary := exp.Summary()
		if summary.Episodes != 5 || summary.Agents != 3 || summary.RunID != "run-test" {
			t.Errorf("unexpected summary: %+v", summary)
		}

		var episodes, summaries int
		for len(ch) > 0 {
			msg := <-ch
			switch msg.Kind {
			case messaging.KindEpisode:
				episodes++
				if _, ok := msg.Content.(EpisodeResult); !ok {
					t.Errorf("episode message carries %T", msg.Content)
				}
			case messaging.KindSummary:
				summaries++
			}
		}
		if episodes != 5 || summaries != 1 {
			t.Errorf("got %d episode and %d summary messages, want 5 and 1", episodes, summaries)
		}
	})

	t.Run("reproducible with the same seed", func(t *testing.T) {
		a, _ := NewBenchmarkExperiment(testConfig(4), WithLogger(quietLogger()))
		b, _ := NewBenchmarkExperiment(testConfig(4), WithLogger(quietLogger()))
		if err := a.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if err := b.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		ra, rb := a.Results(), b.Results()
		for i := range ra {
			if ra[i].GlobalReward != rb[i].GlobalReward || ra[i].Collisions != rb[i].Collisions {
				t.Errorf("episode %d differs: %+v vs %+v", i, ra[i], rb[i])
			}
		}
		if a.RunID() == b.RunID() {
			t.Error("runs should get distinct ids")
		}
	})

	t.Run("rolling history", func(t *testing.T) {
		var out bytes.Buffer
		exp, _ := NewBenchmarkExperiment(testConfig(6), WithLogger(log.New(&out, "", 0)))
		if got := exp.RollingGlobalReward(); got != 0 {
			t.Errorf("RollingGlobalReward before run = %v, want 0", got)
		}
		if err := exp.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		results := exp.Results()
		want := (results[3].GlobalReward + results[4].GlobalReward + results[5].GlobalReward) / 3
		if got := exp.RollingGlobalReward(); math.Abs(got-want) > 1e-9 {
			t.Errorf("RollingGlobalReward = %v, want %v", got, want)
		}
		if line := fmt.Sprintf("Rolling Global Reward (last 3): %.3f", exp.RollingGlobalReward()); !strings.Contains(out.String(), line) {
			t.Errorf("summary log missing %q:\n%s", line, out.String())
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		exp, _ := NewBenchmarkExperiment(testConfig(10), WithLogger(quietLogger()))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := exp.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v, want context.Canceled", err)
		}
		status := exp.GetStatus()
		if status.Completed != 0 || len(status.Errors) != 1 {
			t.Errorf("unexpected status after cancel: %+v", status)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(1)
		cfg.Scenario.Agents = 0
		if _, err := NewBenchmarkExperiment(cfg); !errors.Is(err, environment.ErrInvalidAgentCount) {
			t.Errorf("NewBenchmarkExperiment error = %v, want ErrInvalidAgentCount", err)
		}
	})
}

func TestSummarize(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := Summarize("r", "n", 3, 3, nil)
		if s.Episodes != 0 || s.MeanGlobalReward != 0 {
			t.Errorf("unexpected summary: %+v", s)
		}
	})

	t.Run("single episode has zero spread", func(t *testing.T) {
		s := Summarize("r", "n", 3, 3, []EpisodeResult{{GlobalReward: -2, Occupied: 3}})
		if s.MeanGlobalReward != -2 || s.StdGlobalReward != 0 || s.OccupancyRate != 1 {
			t.Errorf("unexpected summary: %+v", s)
		}
	})

	t.Run("mean and deviation", func(t *testing.T) {
		results := []EpisodeResult{
			{GlobalReward: -1, Collisions: 2, Occupied: 1, MinDists: 1},
			{GlobalReward: -3, Collisions: 0, Occupied: 0, MinDists: 3},
		}
		s := Summarize("r", "n", 2, 2, results)
		if s.MeanGlobalReward != -2 || s.MeanCollisions != 1 || s.MeanOccupied != 0.5 || s.MeanMinDists != 2 {
			t.Errorf("unexpected means: %+v", s)
		}
		if math.Abs(s.StdGlobalReward-math.Sqrt2) > 1e-12 {
			t.Errorf("StdGlobalReward = %v, want sqrt(2)", s.StdGlobalReward)
		}
		if s.OccupancyRate != 0.25 {
			t.Errorf("OccupancyRate = %v, want 0.25", s.OccupancyRate)
		}
	})
}
