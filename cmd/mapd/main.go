package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/boristopalov/mapd/internal/inspect"
	"github.com/boristopalov/mapd/internal/resultsdb"
	"github.com/boristopalov/mapd/internal/tracelog"
	"github.com/boristopalov/mapd/pkg/config"
	"github.com/boristopalov/mapd/pkg/environment"
	"github.com/boristopalov/mapd/pkg/experiment"
	"github.com/boristopalov/mapd/pkg/messaging"
)

var (
	configPath string
	seedFlag   int64
	episodes   int
	agents     int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mapd",
		Short: "mapd benchmarks a cooperative multi-agent navigation scenario with a fixed maze of walls.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().Int64Var(&seedFlag, "seed", 0, "override the base seed")
	rootCmd.PersistentFlags().IntVar(&agents, "agents", 0, "override the number of agents")

	benchmarkCmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Reset the scenario for a number of episodes and record rewards and benchmark data",
		RunE:  runBenchmark,
	}
	benchmarkCmd.Flags().IntVar(&episodes, "episodes", 0, "override the number of episodes")

	layoutCmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the world produced by one reset",
		RunE:  printLayout,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP inspector",
		RunE:  serve,
	}

	traceCmd := &cobra.Command{
		Use:   "trace <file>",
		Short: "Print the records of a compressed trace file",
		Args:  cobra.ExactArgs(1),
		RunE:  printTrace,
	}

	resultsCmd := &cobra.Command{
		Use:   "results <run-id>",
		Short: "Print the stored summary and best episodes of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  printResults,
	}

	if envFile := config.LoadDotEnv(".env", "../../.env", "../../../.env"); envFile != "" {
		log.Printf("Loaded environment from %s", envFile)
	}

	rootCmd.AddCommand(benchmarkCmd, layoutCmd, serveCmd, traceCmd, resultsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, MAPD_* variables and flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if cmd.Flags().Changed("seed") {
		cfg.Experiment.Seed = seedFlag
	}
	if cmd.Flags().Changed("agents") {
		cfg.Scenario.Agents = agents
	}
	if cmd.Flags().Changed("episodes") {
		cfg.Experiment.Episodes = episodes
	}
	return cfg, cfg.Validate()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	broker := messaging.NewBroker()
	defer broker.Reset()

	index, err := resultsdb.OpenSQLite(cfg.Experiment.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open results db: %w", err)
	}
	defer index.Close()

	trace := tracelog.NewJSONLZstdWriter(cfg.Experiment.LogDir, "mapd")
	defer trace.Close()

	exp, err := experiment.NewBenchmarkExperiment(cfg, experiment.WithBroker(broker))
	if err != nil {
		return err
	}
	err = index.RecordRun(ctx, resultsdb.Run{
		RunID:     exp.RunID(),
		Name:      cfg.Experiment.Name,
		Seed:      cfg.Experiment.Seed,
		Agents:    cfg.Scenario.Agents,
		Episodes:  cfg.Experiment.Episodes,
		StartedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	// Every episode plus the summary fits, so Publish never drops
	capacity := cfg.Experiment.Episodes + 1
	traceCh := make(chan messaging.Message, capacity)
	indexCh := make(chan messaging.Message, capacity)
	if err := broker.Subscribe("trace", traceCh); err != nil {
		return err
	}
	if err := broker.Subscribe("index", indexCh); err != nil {
		return err
	}

	var wg sync.WaitGroup
	var consumeErrs [2]error
	wg.Add(2)
	go func() {
		defer wg.Done()
		consumeErrs[0] = trace.Consume(ctx, traceCh)
	}()
	go func() {
		defer wg.Done()
		consumeErrs[1] = index.Consume(ctx, indexCh)
	}()

	runErr := exp.Run(ctx)

	_ = broker.Unsubscribe("trace")
	_ = broker.Unsubscribe("index")
	close(traceCh)
	close(indexCh)
	wg.Wait()

	if n := broker.Dropped(); n > 0 {
		log.Printf("Warning: %d result messages were dropped", n)
	}
	if err := errors.Join(runErr, consumeErrs[0], consumeErrs[1]); err != nil {
		return err
	}
	log.Printf("Run %s: trace %s, results %s", exp.RunID(), trace.Path(), cfg.Experiment.DBPath)
	return nil
}

func printLayout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	scenario := environment.NewMapdScenario(cfg.Params())
	world, err := scenario.MakeWorld(cfg.Scenario.Agents)
	if err != nil {
		return err
	}
	seed := uint64(cfg.Experiment.Seed)
	if err := scenario.ResetWorld(world, rand.NewPCG(seed, seed)); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "seed %d, global reward %.4f\n", seed, scenario.GlobalReward(world))
	for _, a := range world.Agents {
		fmt.Fprintf(out, "%-16s pos=(%+.3f, %+.3f) boundary=%t reward=%.4f\n",
			a.Name, a.State.Pos.X, a.State.Pos.Y, scenario.IsBoundary(a, world), scenario.Reward(a, world))
	}
	for _, l := range world.Landmarks {
		fmt.Fprintf(out, "%-16s pos=(%+.3f, %+.3f)\n", l.Name, l.State.Pos.X, l.State.Pos.Y)
	}
	for _, w := range world.Walls {
		a, b := w.Endpoints()
		fmt.Fprintf(out, "%-16s pos=(%+.3f, %+.3f) from (%+.3f, %+.3f) to (%+.3f, %+.3f)\n",
			w.Name, w.State.Pos.X, w.State.Pos.Y, a.X, a.Y, b.X, b.Y)
	}
	return nil
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	broker := messaging.NewBroker()
	defer broker.Reset()

	logger := log.New(os.Stdout, "[inspect] ", log.LstdFlags)
	srv, err := inspect.NewServer(cfg, broker, logger, uint64(cfg.Experiment.Seed))
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Experiment.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Printf("Listening on %s", cfg.Experiment.Listen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printTrace(cmd *cobra.Command, args []string) error {
	records, err := tracelog.ReadRecords(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range records {
		fmt.Fprintf(out, "%s %-8s %s %s\n", r.Timestamp.Format(time.RFC3339), r.Kind, r.From, r.Content)
	}
	return nil
}

func printResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	index, err := resultsdb.OpenSQLite(cfg.Experiment.DBPath)
	if err != nil {
		return err
	}
	defer index.Close()

	ctx := context.Background()
	runID := args[0]
	sum, err := index.Summary(ctx, runID)
	if err != nil {
		return fmt.Errorf("no summary for %s: %w", runID, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d episodes, global reward %.3f +/- %.3f, occupancy %.1f%%\n",
		runID, sum.Episodes, sum.MeanGlobalReward, sum.StdGlobalReward, sum.OccupancyRate*100)

	best, err := index.BestEpisodes(ctx, runID, 5)
	if err != nil {
		return err
	}
	for _, e := range best {
		fmt.Fprintf(out, "  episode %3d seed %d global reward %.4f collisions %d occupied %d\n",
			e.Index, e.Seed, e.GlobalReward, e.Collisions, e.Occupied)
	}
	return nil
}
