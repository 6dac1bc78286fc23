package tracking

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver for sqlx
)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	experiment_id     INTEGER PRIMARY KEY,
	name              TEXT NOT NULL UNIQUE,
	artifact_location TEXT NOT NULL,
	creation_time     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	run_uuid      TEXT PRIMARY KEY,
	experiment_id INTEGER NOT NULL REFERENCES experiments (experiment_id),
	name          TEXT NOT NULL,
	status        TEXT NOT NULL,
	start_time    INTEGER NOT NULL,
	end_time      INTEGER NOT NULL DEFAULT 0,
	artifact_uri  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS params (
	run_uuid TEXT NOT NULL REFERENCES runs (run_uuid),
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (run_uuid, key)
);
CREATE TABLE IF NOT EXISTS metrics (
	run_uuid  TEXT NOT NULL REFERENCES runs (run_uuid),
	key       TEXT NOT NULL,
	value     REAL NOT NULL,
	timestamp INTEGER NOT NULL,
	step      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tags (
	run_uuid TEXT NOT NULL REFERENCES runs (run_uuid),
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (run_uuid, key)
);
`

// experimentRow and runRow carry "db" tags for sqlx.
type experimentRow struct {
	ID               int64  `db:"experiment_id"`
	Name             string `db:"name"`
	ArtifactLocation string `db:"artifact_location"`
	CreationTime     int64  `db:"creation_time"`
}

func (r experimentRow) experiment() *Experiment {
	return &Experiment{
		ID:               strconv.FormatInt(r.ID, 10),
		Name:             r.Name,
		ArtifactLocation: r.ArtifactLocation,
		CreatedAt:        fromMillis(r.CreationTime),
	}
}

type runRow struct {
	ID           string `db:"run_uuid"`
	ExperimentID int64  `db:"experiment_id"`
	Name         string `db:"name"`
	Status       string `db:"status"`
	StartTime    int64  `db:"start_time"`
	EndTime      int64  `db:"end_time"`
	ArtifactURI  string `db:"artifact_uri"`
}

func (r runRow) run() *Run {
	return &Run{
		ID:           r.ID,
		ExperimentID: strconv.FormatInt(r.ExperimentID, 10),
		Name:         r.Name,
		Status:       RunStatus(r.Status),
		StartTime:    fromMillis(r.StartTime),
		EndTime:      fromMillis(r.EndTime),
		ArtifactURI:  r.ArtifactURI,
	}
}

// SQLStore keeps runs in SQLite. Artifacts are plain files under an
// artifact root next to the database, <dir>/mlartifacts/<experiment_id>/<run_id>/artifacts.
type SQLStore struct {
	db           *sqlx.DB
	path         string
	artifactRoot string
	now          func() time.Time
}

// NewSQLStore opens (or creates) the SQLite database at path.
func NewSQLStore(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create database directory %s", dir)
		}
	}
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "open tracking database %s", path)
	}
	// SQLite は単一ライタ
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create tracking schema")
	}
	return &SQLStore{
		db:           db,
		path:         path,
		artifactRoot: filepath.Join(filepath.Dir(path), "mlartifacts"),
		now:          time.Now,
	}, nil
}

// URI implements Store.
func (s *SQLStore) URI() string { return "sqlite:///" + s.path }

// Close implements Store.
func (s *SQLStore) Close() error { return s.db.Close() }

// GetExperimentByName implements Store.
func (s *SQLStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var row experimentRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM experiments WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "experiment %q", name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query experiment")
	}
	return row.experiment(), nil
}

// CreateExperiment implements Store.
func (s *SQLStore) CreateExperiment(ctx context.Context, name string) (*Experiment, error) {
	if name == "" {
		return nil, errors.NewValidationError("experiment", "name must not be empty", name)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	// FileStore と同じく 0 から連番
	var id int64
	if err := tx.GetContext(ctx, &id,
		"SELECT COALESCE(MAX(experiment_id) + 1, 0) FROM experiments"); err != nil {
		return nil, errors.Wrap(err, "next experiment id")
	}
	created := s.now()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO experiments (experiment_id, name, artifact_location, creation_time) VALUES (?, ?, '', ?)",
		id, name, millis(created)); err != nil {
		return nil, errors.Wrapf(err, "create experiment %q", name)
	}
	location := fileURI(filepath.Join(s.artifactRoot, strconv.FormatInt(id, 10)))
	if _, err := tx.ExecContext(ctx,
		"UPDATE experiments SET artifact_location = ? WHERE experiment_id = ?", location, id); err != nil {
		return nil, errors.Wrap(err, "set artifact location")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return experimentRow{ID: id, Name: name, ArtifactLocation: location, CreationTime: millis(created)}.experiment(), nil
}

// CreateRun implements Store.
func (s *SQLStore) CreateRun(ctx context.Context, experimentID, name string) (*Run, error) {
	expID, err := strconv.ParseInt(experimentID, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrNotFound, "experiment %s", experimentID)
	}
	var exists int
	if err := s.db.GetContext(ctx, &exists,
		"SELECT COUNT(*) FROM experiments WHERE experiment_id = ?", expID); err != nil {
		return nil, errors.Wrap(err, "query experiment")
	}
	if exists == 0 {
		return nil, errors.Wrapf(ErrNotFound, "experiment %s", experimentID)
	}

	id := newRunID()
	dir := filepath.Join(s.artifactRoot, experimentID, id, "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create artifact directory")
	}
	row := runRow{
		ID:           id,
		ExperimentID: expID,
		Name:         name,
		Status:       string(StatusRunning),
		StartTime:    millis(s.now()),
		ArtifactURI:  fileURI(dir),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO runs (run_uuid, experiment_id, name, status, start_time, end_time, artifact_uri)
		VALUES (:run_uuid, :experiment_id, :name, :status, :start_time, :end_time, :artifact_uri)`, row); err != nil {
		return nil, errors.Wrap(err, "insert run")
	}
	if name != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tags (run_uuid, key, value) VALUES (?, ?, ?)", id, RunNameTag, name); err != nil {
			return nil, errors.Wrap(err, "insert run name tag")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return row.run(), nil
}

func (s *SQLStore) getRun(ctx context.Context, runID string) (runRow, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM runs WHERE run_uuid = ?", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return row, errors.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return row, errors.Wrap(err, "query run")
	}
	return row, nil
}

// GetRun implements Store.
func (s *SQLStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row, err := s.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return row.run(), nil
}

// LogParams implements Store.
func (s *SQLStore) LogParams(ctx context.Context, runID string, params map[string]string) error {
	if _, err := s.getRun(ctx, runID); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()
	for k, v := range params {
		if err := checkKey("param", k); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO params (run_uuid, key, value) VALUES (?, ?, ?)", runID, k, v); err != nil {
			return errors.Wrapf(err, "insert param %s", k)
		}
	}
	return errors.Wrap(tx.Commit(), "commit params")
}

// LogMetrics implements Store.
func (s *SQLStore) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	if _, err := s.getRun(ctx, runID); err != nil {
		return err
	}
	ts := millis(s.now())
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()
	for k, v := range metrics {
		if err := checkKey("metric", k); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO metrics (run_uuid, key, value, timestamp, step) VALUES (?, ?, ?, ?, 0)",
			runID, k, v, ts); err != nil {
			return errors.Wrapf(err, "insert metric %s", k)
		}
	}
	return errors.Wrap(tx.Commit(), "commit metrics")
}

// SetTag implements Store.
func (s *SQLStore) SetTag(ctx context.Context, runID, key, value string) error {
	if err := checkKey("tag", key); err != nil {
		return err
	}
	if _, err := s.getRun(ctx, runID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO tags (run_uuid, key, value) VALUES (?, ?, ?)", runID, key, value)
	return errors.Wrapf(err, "set tag %s", key)
}

// LogArtifact implements Store.
func (s *SQLStore) LogArtifact(ctx context.Context, runID, path string, r io.Reader) (int64, error) {
	row, err := s.getRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	dir, err := dirFromURI(row.ArtifactURI)
	if err != nil {
		return 0, err
	}
	return writeArtifact(dir, path, r)
}

// EndRun implements Store.
func (s *SQLStore) EndRun(ctx context.Context, runID string, status RunStatus) error {
	if !status.Terminal() {
		return errors.NewValidationError("status", "run must end as FINISHED or FAILED", status)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, end_time = ? WHERE run_uuid = ?",
		string(status), millis(s.now()), runID)
	if err != nil {
		return errors.Wrap(err, "end run")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

// Params implements Store.
func (s *SQLStore) Params(ctx context.Context, runID string) (map[string]string, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT key, value FROM params WHERE run_uuid = ?", runID); err != nil {
		return nil, errors.Wrap(err, "query params")
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Tags implements Store.
func (s *SQLStore) Tags(ctx context.Context, runID string) (map[string]string, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT key, value FROM tags WHERE run_uuid = ?", runID); err != nil {
		return nil, errors.Wrap(err, "query tags")
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Metrics implements Store. The latest logged value of each key wins.
func (s *SQLStore) Metrics(ctx context.Context, runID string) (map[string]float64, error) {
	var rows []struct {
		Key   string  `db:"key"`
		Value float64 `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT key, value FROM metrics WHERE run_uuid = ? ORDER BY timestamp, rowid", runID); err != nil {
		return nil, errors.Wrap(err, "query metrics")
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}
