package inspect

import (
	"context"
	"encoding/json"
	"log"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/boristopalov/mapd/pkg/config"
	"github.com/boristopalov/mapd/pkg/environment"
	"github.com/boristopalov/mapd/pkg/experiment"
	"github.com/boristopalov/mapd/pkg/messaging"
)

// Server exposes a world for inspection over HTTP. Handlers run concurrently,
// so every access to the world goes through mu.
type Server struct {
	cfg      *config.Config
	scenario *environment.MapdScenario
	broker   messaging.Broker
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	world *environment.World
	seed  uint64

	runsMu sync.Mutex
	runs   map[string]*run
}

type run struct {
	exp  *experiment.BenchmarkExperiment
	done chan struct{}
}

// NewServer builds the world described by cfg and resets it with seed
func NewServer(cfg *config.Config, broker messaging.Broker, logger *log.Logger, seed uint64) (*Server, error) {
	if broker == nil {
		broker = messaging.NewBroker()
	}
	scenario := environment.NewMapdScenario(cfg.Params())
	world, err := scenario.MakeWorld(cfg.Scenario.Agents)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		scenario: scenario,
		broker:   broker,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		world: world,
		runs:  make(map[string]*run),
	}
	if err := s.Reset(seed); err != nil {
		return nil, err
	}
	return s, nil
}

// Reset starts a new episode from seed
func (s *Server) Reset(seed uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scenario.ResetWorld(s.world, rand.NewPCG(seed, seed)); err != nil {
		return err
	}
	s.seed = seed
	return nil
}

// Router builds the /v1 routes
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/v1", func(sub chi.Router) {
		sub.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		sub.Get("/world", s.handleWorld)
		sub.Post("/reset", s.handleReset)
		sub.Get("/global_reward", s.handleGlobalReward)
		sub.Route("/agents/{agent}", func(ag chi.Router) {
			ag.Get("/observation", s.handleObservation)
			ag.Get("/reward", s.handleReward)
			ag.Get("/benchmark", s.handleBenchmark)
		})
		sub.Post("/benchmark", s.handleStartBenchmark)
		sub.Get("/benchmark/{run}", s.handleBenchmarkStatus)
		sub.Get("/stream", s.handleStream)
	})
	return r
}

type entityView struct {
	Name       string        `json:"name"`
	ID         string        `json:"id,omitempty"`
	Kind       string        `json:"kind,omitempty"`
	Pos        [2]float64    `json:"pos"`
	Vel        [2]float64    `json:"vel"`
	Size       float64       `json:"size"`
	Collide    bool          `json:"collide"`
	Color      [3]float64    `json:"color"`
	Extent     [2][2]float64 `json:"extent"`
	AtBoundary bool          `json:"at_boundary"`
}

type worldView struct {
	Env            string       `json:"env"`
	Seed           uint64       `json:"seed"`
	Collaborative  bool         `json:"collaborative"`
	ObservationDim int          `json:"observation_dim"`
	GlobalReward   float64      `json:"global_reward"`
	Agents         []entityView `json:"agents"`
	Landmarks      []entityView `json:"landmarks"`
	Walls          []entityView `json:"walls"`
}

func vec(v r2.Vec) [2]float64 {
	return [2]float64{v.X, v.Y}
}

func (s *Server) snapshot() worldView {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.world
	view := worldView{
		Env:            environment.EnvName,
		Seed:           s.seed,
		Collaborative:  w.Collaborative,
		ObservationDim: s.scenario.ObservationDim(w),
		GlobalReward:   s.scenario.GlobalReward(w),
	}
	for _, a := range w.Agents {
		view.Agents = append(view.Agents, entityView{
			Name: a.Name, ID: a.ID, Pos: vec(a.State.Pos), Vel: vec(a.State.Vel),
			Size: a.Size, Collide: a.Collide, Color: a.Color,
			AtBoundary: s.scenario.IsBoundary(a, w),
		})
	}
	for _, l := range w.Landmarks {
		view.Landmarks = append(view.Landmarks, entityView{
			Name: l.Name, Pos: vec(l.State.Pos), Size: l.Size, Collide: l.Collide, Color: l.Color,
		})
	}
	for _, wall := range w.Walls {
		view.Walls = append(view.Walls, entityView{
			Name: wall.Name, Kind: wall.Kind.String(), Pos: vec(wall.State.Pos), Size: wall.Size,
			Collide: wall.Collide, Color: wall.Color,
			Extent: [2][2]float64{vec(wall.Extent.A), vec(wall.Extent.B)},
		})
	}
	return view
}

func (s *Server) handleWorld(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	seed := uint64(time.Now().UnixNano())
	if raw := r.URL.Query().Get("seed"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid seed")
			return
		}
		seed = v
	}
	if err := s.Reset(seed); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleGlobalReward(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rew := s.scenario.GlobalReward(s.world)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]float64{"global_reward": rew})
}

// withAgent resolves the {agent} URL parameter, by index or name, and calls fn
// with the world locked
func (s *Server) withAgent(w http.ResponseWriter, r *http.Request, fn func(i int) any) {
	key := chi.URLParam(r, "agent")

	s.mu.Lock()
	idx := -1
	if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(s.world.Agents) {
		idx = i
	} else {
		for i, a := range s.world.Agents {
			if a.Name == key || a.ID == key {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "unknown agent "+key)
		return
	}
	body := fn(idx)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	s.withAgent(w, r, func(i int) any {
		a := s.world.Agents[i]
		return map[string]any{"agent": a.Name, "observation": s.scenario.Observation(a, s.world)}
	})
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	s.withAgent(w, r, func(i int) any {
		a := s.world.Agents[i]
		return map[string]any{"agent": a.Name, "reward": s.scenario.Reward(a, s.world)}
	})
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	s.withAgent(w, r, func(i int) any {
		a := s.world.Agents[i]
		return map[string]any{"agent": a.Name, "benchmark": s.scenario.BenchmarkData(a, s.world)}
	})
}

func (s *Server) handleStartBenchmark(w http.ResponseWriter, r *http.Request) {
	cfg := *s.cfg
	if raw := r.URL.Query().Get("episodes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid episodes")
			return
		}
		cfg.Experiment.Episodes = n
	}
	if raw := r.URL.Query().Get("seed"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid seed")
			return
		}
		cfg.Experiment.Seed = seed
	}

	exp, err := experiment.NewBenchmarkExperiment(&cfg, experiment.WithBroker(s.broker), experiment.WithLogger(s.logger))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rn := &run{exp: exp, done: make(chan struct{})}
	s.runsMu.Lock()
	s.runs[exp.RunID()] = rn
	s.runsMu.Unlock()

	go func() {
		defer close(rn.done)
		if err := exp.Run(context.Background()); err != nil {
			s.logger.Printf("benchmark %s failed: %v", exp.RunID(), err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": exp.RunID()})
}

// handleBenchmarkStatus reports progress of a run. A finished run is
// forgotten once its final status has been served.
func (s *Server) handleBenchmarkStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run")
	s.runsMu.Lock()
	rn, ok := s.runs[id]
	s.runsMu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run "+id)
		return
	}

	done := false
	select {
	case <-rn.done:
		done = true
	default:
	}
	status := rn.exp.GetStatus()
	body := map[string]any{
		"run_id":                id,
		"done":                  done,
		"completed":             status.Completed,
		"errors":                len(status.Errors),
		"rolling_global_reward": rn.exp.RollingGlobalReward(),
	}
	if d, ok := s.broker.(interface{ Dropped() uint64 }); ok {
		body["dropped"] = d.Dropped()
	}
	if done {
		body["summary"] = rn.exp.Summary()
		s.runsMu.Lock()
		delete(s.runs, id)
		s.runsMu.Unlock()
	}
	writeJSON(w, http.StatusOK, body)
}

type streamMessage struct {
	Kind      messaging.Kind `json:"kind"`
	From      string         `json:"from"`
	Timestamp time.Time      `json:"ts"`
	Content   any            `json:"content"`
}

// handleStream forwards every broker message to a websocket client
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := "stream-" + uuid.New().String()
	ch := make(chan messaging.Message, 256)
	if err := s.broker.Subscribe(id, ch); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.broker.Unsubscribe(id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteJSON(streamMessage{Kind: msg.Kind, From: msg.From, Timestamp: msg.Timestamp, Content: msg.Content})
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
