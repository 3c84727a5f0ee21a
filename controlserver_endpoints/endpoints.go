package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"hopfield_recall/hopfield_controllers"
	"hopfield_recall/hopfield_core"
	"hopfield_recall/hopfield_datasets"
)

var sessionMap = hopfield_controllers.NewSessionMap()

// server owns the in-memory network. Training and import replace it under
// the write lock; recall and queries hold the read lock.
type server struct {
	mu       sync.RWMutex
	net      *hopfield_core.Network
	patterns []hopfield_core.Grid

	sessionMap       *hopfield_controllers.SessionMap
	dbController     *hopfield_controllers.DatabaseController
	recallController hopfield_controllers.RecallController
	modelController  hopfield_controllers.ModelController
	recallLogPath    string
	trackInterval    time.Duration
}

func main() {
	err := godotenv.Load(".env")
	if err != nil {
		log.Println("No .env file loaded, using process environment")
	}

	welcomeMessage := " -  -  Hopfield Control Server  -  - "
	fmt.Println(welcomeMessage)

	dbController, err := openDatabase()
	if err != nil {
		log.Printf("Database disabled: %v", err)
	}
	if dbController != nil {
		defer dbController.CloseDb()
	}

	srv := newServer(dbController, sessionMap)
	if modelPath := os.Getenv("MODEL_PATH"); modelPath != "" {
		data, net, err := srv.modelController.LoadModel(modelPath)
		if err != nil {
			log.Printf("Could not load model %s: %v", modelPath, err)
		} else {
			srv.net, srv.patterns = net, data.Patterns
			fmt.Println("Model loaded from", modelPath)
		}
	}

	if os.Getenv("SIMULATE_ON_START") == "true" {
		simController := hopfield_controllers.NewSimulationController(dbController)
		settingsPath := envOr("SIMULATION_SETTINGS", "simulation_settings.json")
		go func() {
			if _, err := simController.SimulateOnStart(settingsPath, sessionMap); err != nil {
				log.Printf("Simulation failed: %v", err)
			}
		}()
	}

	addr := envOr("LISTEN_ADDR", ":8080")
	log.Fatal(http.ListenAndServe(addr, srv.routes()))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openDatabase connects to DB_DRIVER ("mysql" by default, "sqlite" with
// DB_PATH, "none" to disable) and creates the tables.
func openDatabase() (*hopfield_controllers.DatabaseController, error) {
	driver := envOr("DB_DRIVER", "mysql")
	var dsn string
	switch driver {
	case "none":
		return nil, errors.New("DB_DRIVER is none")
	case "sqlite":
		dsn = envOr("DB_PATH", "hopfield.db")
	default:
		dsn = hopfield_controllers.MySQLDSNFromEnv()
	}
	dbController, err := hopfield_controllers.NewDatabaseController(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := dbController.EnsureSchema(); err != nil {
		dbController.CloseDb()
		return nil, err
	}
	return dbController, nil
}

func newServer(dbController *hopfield_controllers.DatabaseController, sessions *hopfield_controllers.SessionMap) *server {
	return &server{
		sessionMap:    sessions,
		dbController:  dbController,
		recallLogPath: envOr("RECALL_LOG_PATH", "recall_log.json"),
		trackInterval: 5 * time.Second,
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/train", s.trainHandler)
	mux.HandleFunc("/recall", s.recallHandler)
	mux.HandleFunc("/energy", s.energyHandler)
	mux.HandleFunc("/hamming", s.hammingHandler)
	mux.HandleFunc("/model/export", s.exportModelHandler)
	mux.HandleFunc("/model/import", s.importModelHandler)
	mux.HandleFunc("/pattern.png", s.patternPNGHandler)
	mux.HandleFunc("/pattern/import-png", s.importPNGHandler)
	mux.HandleFunc("/recall-log", s.recallLogHandler)
	mux.HandleFunc("/sessions", s.listSessionMapHandler)
	mux.HandleFunc("/track-sessions", s.trackAllSessionsHandler)
	mux.HandleFunc("/events", s.realTimeSessionHandler)
	mux.HandleFunc("/get-config", s.settingsByUidHandler)
	mux.HandleFunc("/queryStats", s.queryStatsHandler)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Println("Error while sending response:", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, hopfield_core.ErrInvalidInput) || errors.Is(err, hopfield_core.ErrDimensionMismatch) {
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// trained returns the current network or writes 409 when none is loaded.
func (s *server) trained(w http.ResponseWriter) (*hopfield_core.Network, bool) {
	if s.net == nil {
		http.Error(w, "no trained network", http.StatusConflict)
		return nil, false
	}
	return s.net, true
}

type TrainRequestBody struct {
	Patterns []hopfield_core.Grid `json:"patterns"`
}

func (s *server) trainHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var requestBody TrainRequestBody
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(requestBody.Patterns) == 0 {
		writeError(w, errors.Wrap(hopfield_core.ErrInvalidInput, "no patterns"))
		return
	}
	height, width := requestBody.Patterns[0].Shape()
	patterns := make([]hopfield_core.Pattern, len(requestBody.Patterns))
	for i, g := range requestBody.Patterns {
		if h, wd := g.Shape(); h != height || wd != width {
			writeError(w, errors.Wrapf(hopfield_core.ErrInvalidInput, "pattern %d is %dx%d, want %dx%d", i, h, wd, height, width))
			return
		}
		patterns[i] = g.Flatten()
	}

	net, err := hopfield_core.NewNetwork(height * width)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := net.Train(patterns, nil); err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	s.net, s.patterns = net, requestBody.Patterns
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]int{
		"size":     net.Size(),
		"patterns": len(patterns),
		"height":   height,
		"width":    width,
	})
}

// RecallInput is a recall state sent either as a (height, width) grid or as
// a flat pattern.
type RecallInput hopfield_core.Pattern

func (in *RecallInput) UnmarshalJSON(data []byte) error {
	var grid hopfield_core.Grid
	if err := json.Unmarshal(data, &grid); err == nil {
		*in = RecallInput(grid.Flatten())
		return nil
	}
	var flat hopfield_core.Pattern
	if err := json.Unmarshal(data, &flat); err != nil {
		return errors.Wrap(err, "input is neither a grid nor a pattern")
	}
	*in = RecallInput(flat)
	return nil
}

type RecallRequestBody struct {
	Input             RecallInput        `json:"input"`
	Mode              string             `json:"mode"`
	MaxIterations     int                `json:"max_iterations"`
	EnergyTol         float64            `json:"energy_tol"`
	MaxRetainedStates int                `json:"max_retained_states"`
	Seed              int64              `json:"seed"`
}

type RecallResponse struct {
	hopfield_controllers.RecallSessionData
	Similarities []float64 `json:"similarities"`
}

func (s *server) recallHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	requestBody := RecallRequestBody{Mode: hopfield_controllers.ModeSynchronous, MaxIterations: 100}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	settings, err := s.recallController.SettingsFactory(requestBody.Mode, requestBody.MaxIterations, requestBody.EnergyTol)
	if err != nil {
		writeError(w, err)
		return
	}
	settings.MaxRetainedStates = requestBody.MaxRetainedStates

	seed := requestBody.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	localRand := rand.New(rand.NewSource(seed))
	input := hopfield_core.Pattern(requestBody.Input)

	s.mu.RLock()
	net, ok := s.trained(w)
	if !ok {
		s.mu.RUnlock()
		return
	}
	stored := s.patterns
	startTime := time.Now()
	session, err := s.recallController.StartRecallSession(net, input, settings, nil, seed, localRand)
	s.mu.RUnlock()
	if err != nil {
		writeError(w, err)
		return
	}

	response := RecallResponse{RecallSessionData: session, Similarities: make([]float64, len(stored))}
	for i, g := range stored {
		sim, err := hopfield_core.Similarity(session.Final, g.Flatten())
		if err != nil {
			continue
		}
		response.Similarities[i] = sim
		if sim > response.Similarity {
			response.Similarity = sim
		}
		if sim == 1 {
			response.Recovered = true
		}
	}

	if err := s.modelController.AppendRecallLog(s.recallLogPath, input, session.Final); err != nil {
		fmt.Println("Error while appending recall log:", err)
	}
	if s.dbController != nil {
		if err := s.dbController.InsertRecallLog(input, session.Final); err != nil {
			fmt.Println(err)
		}
		if err := s.dbController.InsertRecallSession(settings, net.Size(), 0, response.RecallSessionData, startTime, time.Now()); err != nil {
			fmt.Println(err)
		}
	}
	writeJSON(w, http.StatusOK, response)
}

type EnergyRequestBody struct {
	State hopfield_core.Grid `json:"state"`
}

func (s *server) energyHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var requestBody EnergyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	net, ok := s.trained(w)
	if !ok {
		return
	}
	energy, err := net.Energy(requestBody.State.Flatten())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"energy": energy})
}

func (s *server) hammingHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	patterns := make([]hopfield_core.Pattern, len(s.patterns))
	for i, g := range s.patterns {
		patterns[i] = g.Flatten()
	}
	s.mu.RUnlock()

	distances, err := hopfield_core.HammingDistanceMatrix(patterns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, distances)
}

func (s *server) exportModelHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	net, ok := s.trained(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := s.modelController.WriteModel(w, s.modelController.NewModelData(s.patterns, net), false); err != nil {
		fmt.Println("Error while exporting model:", err)
	}
}

func (s *server) importModelHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	compressed := r.Header.Get("Content-Encoding") == "lzw"
	data, net, err := s.modelController.ReadModel(r.Body, compressed)
	if err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	s.net, s.patterns = net, data.Patterns
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"size": net.Size(), "patterns": len(data.Patterns)})
}

func (s *server) patternPNGHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		http.Error(w, "Invalid pattern index", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	if index < 0 || index >= len(s.patterns) {
		s.mu.RUnlock()
		http.NotFound(w, r)
		return
	}
	grid := s.patterns[index]
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "image/png")
	if err := hopfield_datasets.WritePatternPNG(w, grid); err != nil {
		fmt.Println("Error while encoding pattern:", err)
	}
}

func (s *server) importPNGHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	grid, err := hopfield_datasets.ReadPatternPNG(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (s *server) recallLogHandler(w http.ResponseWriter, r *http.Request) {
	var recallLog *hopfield_controllers.RecallLog
	var err error
	if s.dbController != nil {
		recallLog, err = s.dbController.FetchRecallLog()
	} else {
		recallLog, err = s.modelController.LoadRecallLog(s.recallLogPath)
		if errors.Is(err, os.ErrNotExist) {
			recallLog, err = &hopfield_controllers.RecallLog{}, nil
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recallLog)
}

func (s *server) listSessionMapHandler(w http.ResponseWriter, r *http.Request) {
	s.sessionMap.Mutex.RLock()
	jsonString, err := json.Marshal(s.sessionMap.Sessions)
	s.sessionMap.Mutex.RUnlock()
	if err != nil {
		fmt.Println(err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, string(jsonString))
}

func setEventStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func (s *server) trackAllSessionsHandler(w http.ResponseWriter, r *http.Request) {
	setEventStreamHeaders(w)
	clientGone := r.Context().Done()

	rc := http.NewResponseController(w)
	t := time.NewTicker(s.trackInterval)
	defer t.Stop()
	for {
		select {
		case <-clientGone:
			return
		case <-t.C:
			s.sessionMap.Mutex.RLock()
			jsonString, err := json.Marshal(s.sessionMap.Sessions)
			s.sessionMap.Mutex.RUnlock()
			if err != nil {
				fmt.Println(err)
				return
			}

			_, err = fmt.Fprintf(w, "data: %s\n\n", string(jsonString))
			if err != nil {
				return
			}
			err = rc.Flush()
			if err != nil {
				return
			}
		}
	}
}

func (s *server) realTimeSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("id")

	s.sessionMap.Mutex.Lock()
	sessionPointer, ok := s.sessionMap.Sessions[id]
	if !ok {
		s.sessionMap.Mutex.Unlock()
		fmt.Println("Session UID not found: ", id)
		http.NotFound(w, r)
		return
	}
	sessionPointer.Tracking = true
	stateChannel := sessionPointer.CurrentStateChannel
	s.sessionMap.Mutex.Unlock()

	defer func() {
		s.sessionMap.Mutex.Lock()
		if open, ok := s.sessionMap.Sessions[id]; ok {
			open.Tracking = false
		}
		s.sessionMap.Mutex.Unlock()
	}()

	setEventStreamHeaders(w)
	clientGone := r.Context().Done()
	rc := http.NewResponseController(w)

	for {
		select {
		case <-clientGone:
			return
		case currentState, ok := <-stateChannel:
			if !ok {
				// session finished
				return
			}
			parsedState, err := json.Marshal(currentState)
			if err != nil {
				return
			}
			_, err = fmt.Fprintf(w, "data: %s\n\n", parsedState)
			if err != nil {
				return
			}
			err = rc.Flush()
			if err != nil {
				return
			}
		}
	}
}

func (s *server) settingsByUidHandler(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("id")
	s.sessionMap.Mutex.RLock()
	sessionPointer, ok := s.sessionMap.Sessions[id]
	if !ok {
		s.sessionMap.Mutex.RUnlock()
		fmt.Println("Session UID not found: ", id)
		http.NotFound(w, r)
		return
	}
	config := sessionPointer.Config
	s.sessionMap.Mutex.RUnlock()

	writeJSON(w, http.StatusOK, config)
}

type StatsRequestBody struct {
	Mode string `json:"mode"`
}

func (s *server) queryStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.dbController == nil {
		http.Error(w, "database not configured", http.StatusServiceUnavailable)
		return
	}
	var requestBody StatsRequestBody
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	mode := strings.ToUpper(requestBody.Mode)
	fmt.Printf("Received mode: %s\n", mode)

	response, err := s.dbController.QueryConvergenceStats(mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}
