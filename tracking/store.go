// Package tracking records one run per trained model: its hyperparameters,
// its metrics, the serialized model and the final status.
//
// The on-disk layout of FileStore follows the MLflow file store
// (<root>/<experiment_id>/<run_id>/{meta.yaml,params,metrics,tags,artifacts}),
// so runs written here can be browsed with the usual MLflow tooling.
// SQLStore keeps the same records in a SQLite database.
package tracking

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
)

// Terminal reports whether s ends a run.
func (s RunStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// DefaultExperiment is used when no experiment name is configured.
const DefaultExperiment = "Default"

// RunNameTag is the tag holding the human readable run name.
const RunNameTag = "mlflow.runName"

var (
	// ErrNotFound is returned for unknown experiments and runs.
	ErrNotFound = errors.New("tracking: not found")
	// ErrRunClosed is returned when a session is used after End.
	ErrRunClosed = errors.New("tracking: run already ended")
)

// Experiment groups runs.
type Experiment struct {
	ID               string
	Name             string
	ArtifactLocation string
	CreatedAt        time.Time
}

// Run is one recorded training of one model configuration.
type Run struct {
	ID           string
	ExperimentID string
	Name         string
	Status       RunStatus
	StartTime    time.Time
	// EndTime is zero while the run is RUNNING.
	EndTime     time.Time
	ArtifactURI string
}

// Store is the persistence boundary of the tracking client. All methods are
// blocking I/O and honour ctx cancellation before they start.
type Store interface {
	// URI returns the tracking URI the store was opened with.
	URI() string

	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)
	CreateExperiment(ctx context.Context, name string) (*Experiment, error)

	CreateRun(ctx context.Context, experimentID, name string) (*Run, error)
	GetRun(ctx context.Context, runID string) (*Run, error)

	LogParams(ctx context.Context, runID string, params map[string]string) error
	LogMetrics(ctx context.Context, runID string, metrics map[string]float64) error
	SetTag(ctx context.Context, runID, key, value string) error
	// LogArtifact copies r to path, relative to the run's artifact directory,
	// and returns the number of bytes written.
	LogArtifact(ctx context.Context, runID, path string, r io.Reader) (int64, error)
	EndRun(ctx context.Context, runID string, status RunStatus) error

	Params(ctx context.Context, runID string) (map[string]string, error)
	Metrics(ctx context.Context, runID string) (map[string]float64, error)
	Tags(ctx context.Context, runID string) (map[string]string, error)

	Close() error
}

// DefaultURI is the tracking location used when none is configured.
const DefaultURI = "./mlruns"

// OpenStore opens the store named by uri:
//
//	""                     ./mlruns file store
//	/path or ./path        file store rooted at path
//	file:///path           file store rooted at /path
//	file:./path            file store rooted at ./path
//	sqlite:///run.db       SQLite store, relative path
//	sqlite:////abs/run.db  SQLite store, absolute path
func OpenStore(uri string) (Store, error) {
	switch {
	case uri == "":
		return NewFileStore(DefaultURI)
	case strings.HasPrefix(uri, "sqlite://"):
		path := strings.TrimPrefix(uri, "sqlite:///")
		if path == uri || path == "" {
			return nil, errors.NewValidationError("tracking_uri", "expected sqlite:///<path>", uri)
		}
		return NewSQLStore(path)
	case strings.HasPrefix(uri, "file:"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, errors.Wrapf(err, "parse tracking uri %q", uri)
		}
		// file:./mlruns は Opaque に入る
		root := u.Path
		if root == "" {
			root = u.Opaque
		}
		if root == "" {
			return nil, errors.NewValidationError("tracking_uri", "file uri without a path", uri)
		}
		return NewFileStore(root)
	case strings.Contains(uri, "://"):
		return nil, errors.NewValidationError("tracking_uri", "unsupported scheme", uri)
	default:
		return NewFileStore(uri)
	}
}

func newRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// checkKey rejects keys that cannot be stored as a single file name.
func checkKey(kind, key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return errors.NewValidationError(kind, "invalid key", key)
	}
	return nil
}

// artifactPath resolves rel inside dir and refuses paths escaping it.
func artifactPath(dir, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.NewValidationError("artifact_path", "must be relative to the run", rel)
	}
	return filepath.Join(dir, clean), nil
}

// writeArtifact copies r into dir/rel, creating parent directories.
func writeArtifact(dir, rel string, r io.Reader) (int64, error) {
	dst, err := artifactPath(dir, rel)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, errors.Wrap(err, "create artifact directory")
	}
	f, err := os.Create(dst)
	if err != nil {
		return 0, errors.Wrap(err, "create artifact")
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Wrapf(err, "write artifact %s", rel)
	}
	return n, nil
}

// fileURI returns the file:// URI of an absolute or relative directory.
func fileURI(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dir)}).String()
}

// dirFromURI is the inverse of fileURI.
func dirFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "parse artifact uri %q", uri)
	}
	if u.Scheme != "file" {
		return "", errors.Newf("artifact uri %q is not a file uri", uri)
	}
	return filepath.FromSlash(u.Path), nil
}
