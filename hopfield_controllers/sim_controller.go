package hopfield_controllers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/beevik/ntp"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"hopfield_recall/hopfield_core"
	"hopfield_recall/hopfield_datasets"
)

const defaultNTPServer = "pool.ntp.org"

type SimulationController struct {
	RecallController   RecallController
	ModelController    ModelController
	DatabaseController *DatabaseController
	// TimeSource is read once per experiment; errors fall back to the local clock.
	TimeSource func() (time.Time, error)
}

// NewSimulationController uses NTP time and stores sessions in db when it is not nil.
func NewSimulationController(db *DatabaseController) *SimulationController {
	s := &SimulationController{DatabaseController: db}
	s.TimeSource = s.getCurrentTimeFromNTP
	return s
}

// Function to read and deserialize JSON file
func (s *SimulationController) LoadSimulationSettings(filename string) (*SimulationSettings, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}

	var settings SimulationSettings
	err = json.Unmarshal(data, &settings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal JSON")
	}

	return &settings, nil
}

// LoadPatterns returns the network and stored patterns for a simulation: the
// saved model when ModelPath exists, otherwise a network trained on the first
// PatternCount Fashion-MNIST test images, saved to ModelPath when set.
func (s *SimulationController) LoadPatterns(simSettings *SimulationSettings) (*hopfield_core.Network, []hopfield_core.Grid, error) {
	if simSettings.ModelPath != "" {
		if _, err := os.Stat(simSettings.ModelPath); err == nil {
			data, net, err := s.ModelController.LoadModel(simSettings.ModelPath)
			if err != nil {
				return nil, nil, err
			}
			fmt.Println("Model loaded from", simSettings.ModelPath)
			return net, data.Patterns, nil
		}
	}
	if simSettings.DatasetDir == "" {
		return nil, nil, errors.Wrap(hopfield_core.ErrInvalidInput, "neither model_path nor dataset_dir point to patterns")
	}

	grids, err := hopfield_datasets.LoadFashionMNIST(simSettings.DatasetDir, hopfield_datasets.SplitTest,
		simSettings.PatternCount, simSettings.Width, simSettings.Height)
	if err != nil {
		return nil, nil, err
	}
	net, err := hopfield_core.NewNetwork(simSettings.Width * simSettings.Height)
	if err != nil {
		return nil, nil, err
	}
	patterns := make([]hopfield_core.Pattern, len(grids))
	for i, g := range grids {
		patterns[i] = g.Flatten()
	}
	err = net.Train(patterns, func(done, total int) {
		fmt.Printf("Trained on pattern %d/%d\n", done, total)
	})
	if err != nil {
		return nil, nil, err
	}
	if simSettings.ModelPath != "" {
		if err := s.ModelController.SaveModel(simSettings.ModelPath, grids, net); err != nil {
			return nil, nil, err
		}
	}
	return net, grids, nil
}

func (s *SimulationController) SimulateOnStart(settingsPath string, sessionMap *SessionMap) ([]ExperimentResult, error) {

	simSettings, err := s.LoadSimulationSettings(settingsPath)
	if err != nil {
		return nil, errors.Wrap(err, "error loading settings")
	}

	fmt.Println("Settings loaded:")
	fmt.Printf("%+v\n", *simSettings)

	net, grids, err := s.LoadPatterns(simSettings)
	if err != nil {
		return nil, err
	}
	patterns := make([]hopfield_core.Pattern, len(grids))
	for i, g := range grids {
		patterns[i] = g.Flatten()
	}
	return s.Simulate(net, patterns, simSettings, sessionMap)
}

type experimentJob struct {
	index    int
	settings RecallSettings
	noise    float64
}

// Simulate runs every recall mode against every noise level. Each pair is one
// pool job that recalls noisy copies of every pattern MaxSessionCount times.
// Results keep the mode-major order of the settings.
func (s *SimulationController) Simulate(net *hopfield_core.Network, patterns []hopfield_core.Pattern, simSettings *SimulationSettings, sessionMap *SessionMap) ([]ExperimentResult, error) {
	if len(patterns) == 0 {
		return nil, errors.Wrap(hopfield_core.ErrInvalidInput, "no patterns to recall")
	}
	if simSettings.MaxSessionCount < 1 {
		return nil, errors.Wrapf(hopfield_core.ErrInvalidInput, "max session count %d", simSettings.MaxSessionCount)
	}
	for i, p := range patterns {
		if err := hopfield_core.ValidatePattern(p, net.Size()); err != nil {
			return nil, errors.Wrapf(err, "pattern %d", i)
		}
	}

	var jobs []experimentJob
	for _, mode := range simSettings.RecallModes {
		settings, err := s.RecallController.SettingsFactory(mode, simSettings.MaxIterations, simSettings.EnergyTol)
		if err != nil {
			log.Printf("Skipping recall mode %s: %v", mode, err)
			continue
		}
		for _, noise := range simSettings.NoiseLevels {
			if noise < 0 || noise > 1 {
				log.Printf("Skipping noise level %v", noise)
				continue
			}
			jobs = append(jobs, experimentJob{index: len(jobs), settings: settings, noise: noise})
		}
	}

	workerCount := simSettings.MaxWorkerCount
	if workerCount < 1 {
		workerCount = 1
	}
	results := make([]ExperimentResult, len(jobs))
	workerPool := pool.New().WithMaxGoroutines(workerCount)
	for i, job := range jobs {
		workerPool.Go(func() {
			results[i] = s.runExperiment(net, patterns, job, simSettings.MaxSessionCount, sessionMap)
		})
	}
	workerPool.Wait()
	fmt.Println("-- All automatic configs finished --")
	return results, nil
}

func (s *SimulationController) runExperiment(net *hopfield_core.Network, patterns []hopfield_core.Pattern, job experimentJob, maxSessionCount int, sessionMap *SessionMap) ExperimentResult {
	clock := s.clock()
	startTime := clock()
	token := s.generateToken(startTime, job)
	sessionBufferSize := 10
	sessionChannel := make(chan SessionStateMessage, sessionBufferSize)
	simulationData := OpenSession{
		Uid:                 token,
		Config:              job.settings,
		NoiseLevel:          job.noise,
		StartTime:           startTime,
		MaxSessionCount:     maxSessionCount,
		CurrentSessionCount: 0,
		CurrentStateChannel: sessionChannel,
	}
	sessionMap.Mutex.Lock()
	sessionMap.Sessions[token] = &simulationData
	sessionMap.Mutex.Unlock()

	result := ExperimentResult{Mode: job.settings.Mode, NoiseLevel: job.noise}
	var similaritySum float64
	var iterationSum int

	for i := 0; i < maxSessionCount; i++ {
		for _, clean := range patterns {
			sessionStart := clock()
			seed := time.Now().UnixNano()
			localRand := rand.New(rand.NewSource(seed))

			noisy, err := hopfield_core.AddNoise(clean, job.noise, localRand)
			if err != nil {
				log.Printf("Session %s: %v", token, err)
				continue
			}
			session, err := s.RecallController.StartRecallSession(net, noisy, job.settings, sessionMap.trackedChannel(token), seed, localRand)
			if err != nil {
				log.Printf("Session %s: %v", token, err)
				continue
			}
			session.Similarity, _ = hopfield_core.Similarity(session.Final, clean)
			session.Recovered = session.Final.Equal(clean)

			result.Runs++
			similaritySum += session.Similarity
			iterationSum += session.Iterations
			if session.Recovered {
				result.Recovered++
			}
			if session.Status == StatusConverged {
				result.Converged++
			}

			if s.DatabaseController != nil {
				endTime := clock()
				if err := s.DatabaseController.InsertRecallSession(job.settings, net.Size(), job.noise, session, sessionStart, endTime); err != nil {
					fmt.Println(err)
				}
			}
		}
		sessionMap.Mutex.Lock()
		simulationData.CurrentSessionCount += 1
		sessionMap.Mutex.Unlock()
	}

	sessionMap.Mutex.Lock()
	delete(sessionMap.Sessions, token)
	sessionMap.Mutex.Unlock()
	close(sessionChannel)

	if result.Runs > 0 {
		result.MeanSimilarity = similaritySum / float64(result.Runs)
		result.MeanIterations = float64(iterationSum) / float64(result.Runs)
	}
	return result
}

// clock reads TimeSource once and returns stamps that advance with the local
// monotonic clock from that reading.
func (s *SimulationController) clock() func() time.Time {
	base := time.Now()
	start := s.now()
	return func() time.Time {
		return start.Add(time.Since(base))
	}
}

func (s *SimulationController) now() time.Time {
	if s.TimeSource == nil {
		return time.Now()
	}
	t, err := s.TimeSource()
	if err != nil {
		return time.Now()
	}
	return t
}

func (s *SimulationController) getCurrentTimeFromNTP() (time.Time, error) {
	ntpServer := os.Getenv("NTP_SERVER")
	if ntpServer == "" {
		ntpServer = defaultNTPServer
	}
	response, err := ntp.Query(ntpServer)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to get time from NTP server")
	}
	if err := response.Validate(); err != nil {
		return time.Time{}, errors.Wrap(err, "invalid NTP response")
	}
	return time.Now().Add(response.ClockOffset), nil
}

func (s *SimulationController) generateToken(startTime time.Time, job experimentJob) string {
	config := job.settings
	idStamp := fmt.Sprintf("%d%s%d%v%v%s", job.index, config.Mode, config.MaxIterations, config.EnergyTol, job.noise, startTime)
	h := sha256.New()
	h.Write([]byte(idStamp))
	token := hex.EncodeToString(h.Sum(nil))
	return token
}

// trackedChannel returns the session's state channel while a client is
// tracking it, nil otherwise.
func (m *SessionMap) trackedChannel(uid string) chan<- SessionStateMessage {
	m.Mutex.RLock()
	defer m.Mutex.RUnlock()
	open, ok := m.Sessions[uid]
	if !ok || !open.Tracking {
		return nil
	}
	return open.CurrentStateChannel
}

func NewSessionMap() *SessionMap {
	return &SessionMap{
		Sessions: make(map[string]*OpenSession),
	}
}
