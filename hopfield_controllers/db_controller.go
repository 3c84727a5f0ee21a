package hopfield_controllers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"hopfield_recall/hopfield_core"
)

type DatabaseController struct {
	db      *sql.DB
	seqLock sync.Mutex
	lastSeq int64
}

// MySQLDSNFromEnv builds a DSN from DB_USER, DB_PASSWORD, DB_HOST, DB_PORT and DB_NAME.
func MySQLDSNFromEnv() string {
	cfg := mysql.NewConfig()
	cfg.User = os.Getenv("DB_USER")
	cfg.Passwd = os.Getenv("DB_PASSWORD")
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", os.Getenv("DB_HOST"), os.Getenv("DB_PORT"))
	cfg.DBName = os.Getenv("DB_NAME")
	return cfg.FormatDSN()
}

// NewDatabaseController opens a "mysql" or "sqlite" database.
func NewDatabaseController(driver, dsn string) (*DatabaseController, error) {
	if driver != "mysql" && driver != "sqlite" {
		return nil, errors.Wrapf(hopfield_core.ErrInvalidInput, "unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to the database")
	}
	if driver == "sqlite" {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}
	return &DatabaseController{db: db}, nil
}

func (dc *DatabaseController) CloseDb() error {
	return dc.db.Close()
}

func (dc *DatabaseController) EnsureSchema() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			host VARCHAR(255),
			seed BIGINT,
			program_version VARCHAR(64),
			network_size INT,
			data_size INT,
			recall_mode VARCHAR(32),
			noise_level DOUBLE,
			max_iterations INT,
			energy_tol DOUBLE,
			start_time VARCHAR(32),
			end_time VARCHAR(32),
			status VARCHAR(32),
			iterations INT,
			similarity DOUBLE,
			recovered INT,
			input_state TEXT,
			final_state TEXT
		)`, RecallSessionsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			seq BIGINT,
			input_image TEXT,
			output_image TEXT
		)`, RecallLogTable),
	}
	for _, stmt := range statements {
		if _, err := dc.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "failed to create schema")
		}
	}
	return nil
}

func (dc *DatabaseController) InsertRecallSession(settings RecallSettings, networkSize int, noiseLevel float64, session RecallSessionData, startTime time.Time, endTime time.Time) error {

	inputJSON, err := json.Marshal(session.Input)
	if err != nil {
		return errors.Wrap(err, "failed to marshal input state")
	}
	finalJSON, err := json.Marshal(session.Final)
	if err != nil {
		return errors.Wrap(err, "failed to marshal final state")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = os.Getenv("HOSTNAME")
	}
	recovered := 0
	if session.Recovered {
		recovered = 1
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, host, seed, program_version, network_size, data_size, recall_mode, noise_level,
		max_iterations, energy_tol, start_time, end_time, status, iterations, similarity, recovered, input_state, final_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, RecallSessionsTable)
	_, err = dc.db.Exec(query,
		uuid.NewString(),
		hostname,
		session.Seed,
		runtime.Version(),
		networkSize,
		hopfield_core.GetNetworkDataSize(networkSize),
		settings.Mode,
		noiseLevel,
		settings.MaxIterations,
		settings.EnergyTol,
		startTime.Format(dbTimeLayout),
		endTime.Format(dbTimeLayout),
		session.Status,
		session.Iterations,
		session.Similarity,
		recovered,
		string(inputJSON),
		string(finalJSON),
	)
	return errors.Wrap(err, "failed to insert recall session")
}

// nextSeq returns a strictly increasing sequence number for recall log rows.
func (dc *DatabaseController) nextSeq() int64 {
	dc.seqLock.Lock()
	defer dc.seqLock.Unlock()
	seq := time.Now().UnixNano()
	if seq <= dc.lastSeq {
		seq = dc.lastSeq + 1
	}
	dc.lastSeq = seq
	return seq
}

func (dc *DatabaseController) InsertRecallLog(input, output hopfield_core.Pattern) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return errors.Wrap(err, "failed to marshal input image")
	}
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return errors.Wrap(err, "failed to marshal output image")
	}
	query := fmt.Sprintf("INSERT INTO %s (id, seq, input_image, output_image) VALUES (?, ?, ?, ?)", RecallLogTable)
	_, err = dc.db.Exec(query, uuid.NewString(), dc.nextSeq(), string(inputJSON), string(outputJSON))
	return errors.Wrap(err, "failed to insert recall log row")
}

func (dc *DatabaseController) FetchRecallLog() (*RecallLog, error) {
	rows, err := dc.db.Query(fmt.Sprintf("SELECT input_image, output_image FROM %s ORDER BY seq", RecallLogTable))
	if err != nil {
		return nil, errors.Wrap(err, "error retrieving recall log")
	}
	defer rows.Close()

	recallLog := &RecallLog{}
	for rows.Next() {
		var inputJSON, outputJSON string
		if err := rows.Scan(&inputJSON, &outputJSON); err != nil {
			return nil, errors.Wrap(err, "error scanning recall log row")
		}
		var input, output hopfield_core.Pattern
		if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
			return nil, errors.Wrap(err, "error decoding input image")
		}
		if err := json.Unmarshal([]byte(outputJSON), &output); err != nil {
			return nil, errors.Wrap(err, "error decoding output image")
		}
		recallLog.InputImages = append(recallLog.InputImages, input)
		recallLog.OutputImages = append(recallLog.OutputImages, output)
	}
	return recallLog, errors.Wrap(rows.Err(), "error reading recall log")
}

// QueryConvergenceStats groups the stored sessions of one recall mode by noise level.
func (dc *DatabaseController) QueryConvergenceStats(mode string) ([]ConvergenceStats, error) {
	if !dc.ValidateRecallMode(mode) {
		return nil, errors.Wrapf(hopfield_core.ErrInvalidInput, "recall mode is invalid: %s", mode)
	}
	fmt.Println("Querying convergence stats to DB...")
	query := fmt.Sprintf(`
		SELECT
			noise_level,
			COUNT(*) AS total_count,
			SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END) AS converged_count,
			SUM(recovered) AS recovered_count,
			AVG(iterations) AS avg_iterations,
			AVG(similarity) AS avg_similarity
		FROM %s
		WHERE recall_mode = ?
		GROUP BY noise_level
		ORDER BY noise_level
	`, StatusConverged, RecallSessionsTable)

	rows, err := dc.db.Query(query, mode)
	if err != nil {
		return nil, errors.Wrap(err, "error querying convergence stats")
	}
	defer rows.Close()

	var results []ConvergenceStats
	for rows.Next() {
		var data ConvergenceStats
		err := rows.Scan(&data.NoiseLevel, &data.TotalCount, &data.ConvergedCount, &data.RecoveredCount, &data.AvgIterations, &data.AvgSimilarity)
		if err != nil {
			return nil, errors.Wrap(err, "error scanning convergence stats")
		}
		results = append(results, data)
	}
	return results, errors.Wrap(rows.Err(), "error reading convergence stats")
}

func (dc *DatabaseController) FetchFullTableAsJSON(tableName string) (string, error) {
	if tableName != RecallSessionsTable && tableName != RecallLogTable {
		return "", errors.Wrapf(hopfield_core.ErrInvalidInput, "unknown table %q", tableName)
	}
	rows, err := dc.db.Query(fmt.Sprintf("SELECT * FROM %s", tableName))
	if err != nil {
		return "", errors.Wrap(err, "error retrieving data")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", errors.Wrap(err, "error getting columns")
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePointers := make([]interface{}, len(columns))
		for i := range values {
			valuePointers[i] = &values[i]
		}
		if err := rows.Scan(valuePointers...); err != nil {
			return "", errors.Wrap(err, "error scanning row")
		}

		rowMap := make(map[string]interface{})
		for i, col := range columns {
			// []byte would be base64 encoded
			if b, ok := values[i].([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = values[i]
			}
		}
		results = append(results, rowMap)
	}
	if err := rows.Err(); err != nil {
		return "", errors.Wrap(err, "error reading rows")
	}

	jsonData, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "error marshaling results to JSON")
	}
	return string(jsonData), nil
}

func (dc *DatabaseController) ValidateRecallMode(mode string) bool {

	availableModes := []string{ModeSynchronous, ModeAsynchronous}
	for _, item := range availableModes {
		if item == mode {
			return true
		}
	}
	return false
}
