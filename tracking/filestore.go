package tracking

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gopkg.in/yaml.v3"
)

const metaFile = "meta.yaml"

// experimentMeta is <root>/<experiment_id>/meta.yaml.
type experimentMeta struct {
	ArtifactLocation string `yaml:"artifact_location"`
	CreationTime     int64  `yaml:"creation_time"`
	ExperimentID     string `yaml:"experiment_id"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
}

// runMeta is <root>/<experiment_id>/<run_id>/meta.yaml.
type runMeta struct {
	ArtifactURI    string    `yaml:"artifact_uri"`
	EndTime        int64     `yaml:"end_time"`
	ExperimentID   string    `yaml:"experiment_id"`
	LifecycleStage string    `yaml:"lifecycle_stage"`
	RunID          string    `yaml:"run_id"`
	RunName        string    `yaml:"run_name"`
	StartTime      int64     `yaml:"start_time"`
	Status         RunStatus `yaml:"status"`
}

func (m runMeta) run() *Run {
	return &Run{
		ID:           m.RunID,
		ExperimentID: m.ExperimentID,
		Name:         m.RunName,
		Status:       m.Status,
		StartTime:    fromMillis(m.StartTime),
		EndTime:      fromMillis(m.EndTime),
		ArtifactURI:  m.ArtifactURI,
	}
}

// FileStore keeps experiments and runs in an MLflow-style directory tree.
type FileStore struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileStore creates root if needed and returns a store over it.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create tracking root %s", root)
	}
	return &FileStore{root: root, now: time.Now}, nil
}

// URI implements Store.
func (s *FileStore) URI() string { return fileURI(s.root) }

// Root returns the directory holding the experiments.
func (s *FileStore) Root() string { return s.root }

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func readYAML(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func writeYAML(path string, v interface{}) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode yaml")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

func (s *FileStore) experiments() ([]experimentMeta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrap(err, "list experiments")
	}
	var out []experimentMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var m experimentMeta
		if err := readYAML(filepath.Join(s.root, e.Name(), metaFile), &m); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// GetExperimentByName implements Store.
func (s *FileStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exps, err := s.experiments()
	if err != nil {
		return nil, err
	}
	for _, m := range exps {
		if m.Name == name {
			return &Experiment{
				ID:               m.ExperimentID,
				Name:             m.Name,
				ArtifactLocation: m.ArtifactLocation,
				CreatedAt:        fromMillis(m.CreationTime),
			}, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "experiment %q", name)
}

// CreateExperiment implements Store. Experiment ids are consecutive integers
// starting at 0.
func (s *FileStore) CreateExperiment(ctx context.Context, name string) (*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.NewValidationError("experiment", "name must not be empty", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exps, err := s.experiments()
	if err != nil {
		return nil, err
	}
	next := 0
	for _, m := range exps {
		if m.Name == name {
			return nil, errors.Newf("experiment %q already exists", name)
		}
		if id, err := strconv.Atoi(m.ExperimentID); err == nil && id >= next {
			next = id + 1
		}
	}

	id := strconv.Itoa(next)
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create experiment directory")
	}
	created := s.now()
	meta := experimentMeta{
		ArtifactLocation: fileURI(dir),
		CreationTime:     millis(created),
		ExperimentID:     id,
		LifecycleStage:   "active",
		Name:             name,
	}
	if err := writeYAML(filepath.Join(dir, metaFile), meta); err != nil {
		return nil, err
	}
	return &Experiment{ID: id, Name: name, ArtifactLocation: meta.ArtifactLocation, CreatedAt: created}, nil
}

// CreateRun implements Store.
func (s *FileStore) CreateRun(ctx context.Context, experimentID, name string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expDir := filepath.Join(s.root, experimentID)
	if _, err := os.Stat(filepath.Join(expDir, metaFile)); err != nil {
		return nil, errors.Wrapf(ErrNotFound, "experiment %s", experimentID)
	}

	id := newRunID()
	dir := filepath.Join(expDir, id)
	for _, sub := range []string{"params", "metrics", "tags", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, errors.Wrap(err, "create run directory")
		}
	}
	meta := runMeta{
		ArtifactURI:    fileURI(filepath.Join(dir, "artifacts")),
		ExperimentID:   experimentID,
		LifecycleStage: "active",
		RunID:          id,
		RunName:        name,
		StartTime:      millis(s.now()),
		Status:         StatusRunning,
	}
	if err := writeYAML(filepath.Join(dir, metaFile), meta); err != nil {
		return nil, err
	}
	if name != "" {
		if err := os.WriteFile(filepath.Join(dir, "tags", RunNameTag), []byte(name), 0o644); err != nil {
			return nil, errors.Wrap(err, "write run name tag")
		}
	}
	return meta.run(), nil
}

// runDir finds the directory of runID. Caller holds s.mu.
func (s *FileStore) runDir(runID string) (string, error) {
	if err := checkKey("run_id", runID); err != nil {
		return "", err
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "*", runID, metaFile))
	if err != nil {
		return "", errors.Wrap(err, "find run")
	}
	if len(matches) == 0 {
		return "", errors.Wrapf(ErrNotFound, "run %s", runID)
	}
	return filepath.Dir(matches[0]), nil
}

func (s *FileStore) readRun(runID string) (string, runMeta, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return "", runMeta{}, err
	}
	var m runMeta
	if err := readYAML(filepath.Join(dir, metaFile), &m); err != nil {
		return "", runMeta{}, err
	}
	return dir, m, nil
}

// GetRun implements Store.
func (s *FileStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, m, err := s.readRun(runID)
	if err != nil {
		return nil, err
	}
	return m.run(), nil
}

// LogParams implements Store. Each param is a file named after its key
// holding the value.
func (s *FileStore) LogParams(ctx context.Context, runID string, params map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	for k, v := range params {
		if err := checkKey("param", k); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "params", k), []byte(v), 0o644); err != nil {
			return errors.Wrapf(err, "write param %s", k)
		}
	}
	return nil
}

// LogMetrics implements Store. Each metric file gets one
// "<timestamp> <value> <step>" line appended per logged value.
func (s *FileStore) LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	ts := millis(s.now())
	for k, v := range metrics {
		if err := checkKey("metric", k); err != nil {
			return err
		}
		f, err := os.OpenFile(filepath.Join(dir, "metrics", k), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrapf(err, "open metric %s", k)
		}
		_, err = fmt.Fprintf(f, "%d %s 0\n", ts, strconv.FormatFloat(v, 'g', -1, 64))
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrapf(err, "write metric %s", k)
		}
	}
	return nil
}

// SetTag implements Store.
func (s *FileStore) SetTag(ctx context.Context, runID, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey("tag", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "tags", key), []byte(value), 0o644); err != nil {
		return errors.Wrapf(err, "write tag %s", key)
	}
	return nil
}

// LogArtifact implements Store.
func (s *FileStore) LogArtifact(ctx context.Context, runID, path string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.runDir(runID)
	if err != nil {
		return 0, err
	}
	return writeArtifact(filepath.Join(dir, "artifacts"), path, r)
}

// EndRun implements Store.
func (s *FileStore) EndRun(ctx context.Context, runID string, status RunStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Terminal() {
		return errors.NewValidationError("status", "run must end as FINISHED or FAILED", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, m, err := s.readRun(runID)
	if err != nil {
		return err
	}
	m.Status = status
	m.EndTime = millis(s.now())
	return writeYAML(filepath.Join(dir, metaFile), m)
}

// Params implements Store.
func (s *FileStore) Params(ctx context.Context, runID string) (map[string]string, error) {
	return s.readEntries(ctx, runID, "params")
}

// Tags implements Store.
func (s *FileStore) Tags(ctx context.Context, runID string) (map[string]string, error) {
	return s.readEntries(ctx, runID, "tags")
}

// readEntries は run 配下の params/ または tags/ を key -> value で返す
func (s *FileStore) readEntries(ctx context.Context, runID, kind string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, kind))
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", kind)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, kind, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s %s", kind, e.Name())
		}
		out[e.Name()] = string(b)
	}
	return out, nil
}

// Metrics implements Store. The latest logged value of each key wins.
func (s *FileStore) Metrics(ctx context.Context, runID string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, "metrics"))
	if err != nil {
		return nil, errors.Wrap(err, "list metrics")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make(map[string]float64, len(names))
	for _, name := range names {
		v, err := lastMetric(filepath.Join(dir, "metrics", name))
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func lastMetric(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open metric")
	}
	defer f.Close()

	var last string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return 0, errors.Wrapf(err, "read %s", path)
	}
	fields := strings.Fields(last)
	if len(fields) < 2 {
		return 0, errors.Newf("malformed metric file %s", path)
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse metric %s", path)
	}
	return v, nil
}
