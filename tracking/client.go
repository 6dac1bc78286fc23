package tracking

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Client starts runs inside one experiment.
type Client struct {
	store      Store
	experiment *Experiment
	logger     log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l log.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client logging into experimentName, creating the
// experiment on first use.
func NewClient(ctx context.Context, store Store, experimentName string, opts ...ClientOption) (*Client, error) {
	c := &Client{store: store}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.GetLoggerWithName("tracking")
	}
	if experimentName == "" {
		experimentName = DefaultExperiment
	}

	exp, err := store.GetExperimentByName(ctx, experimentName)
	if errors.Is(err, ErrNotFound) {
		exp, err = store.CreateExperiment(ctx, experimentName)
		if err == nil {
			c.logger.Info("experiment created",
				log.ExperimentNameKey, experimentName, "experiment_id", exp.ID)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "experiment %q", experimentName)
	}
	c.experiment = exp
	return c, nil
}

// Experiment returns the experiment runs are recorded in.
func (c *Client) Experiment() Experiment { return *c.experiment }

// TrackingURI returns the URI of the underlying store.
func (c *Client) TrackingURI() string { return c.store.URI() }

// StartRun creates a RUNNING run named name and returns its session.
func (c *Client) StartRun(ctx context.Context, name string) (*Session, error) {
	run, err := c.store.CreateRun(ctx, c.experiment.ID, name)
	if err != nil {
		return nil, errors.Wrapf(err, "start run %s", name)
	}
	logger := c.logger.With(log.RunIDKey, run.ID, log.ModelNameKey, name)
	logger.Debug("run started", log.ExperimentNameKey, c.experiment.Name)
	return &Session{store: c.store, run: *run, logger: logger}, nil
}

// Session is one open run. End must be called exactly once; every later
// call, and every logging call after End, returns ErrRunClosed.
type Session struct {
	store  Store
	run    Run
	logger log.Logger

	mu    sync.Mutex
	ended bool
}

// RunID returns the id of the run.
func (s *Session) RunID() string { return s.run.ID }

// ArtifactURI returns the file:// URI of the run's artifact directory.
func (s *Session) ArtifactURI() string { return s.run.ArtifactURI }

func (s *Session) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return errors.Wrapf(ErrRunClosed, "run %s", s.run.ID)
	}
	return nil
}

// LogParams records params, converting every value to its string form.
// nil becomes "None".
func (s *Session) LogParams(ctx context.Context, params map[string]interface{}) error {
	if err := s.open(); err != nil {
		return err
	}
	flat := make(map[string]string, len(params))
	for k, v := range params {
		flat[k] = stringify(v)
	}
	if err := s.store.LogParams(ctx, s.run.ID, flat); err != nil {
		return errors.Wrap(err, "log params")
	}
	return nil
}

func stringify(v interface{}) string {
	if v == nil {
		return "None"
	}
	return fmt.Sprint(v)
}

// LogMetrics records metric values.
func (s *Session) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	if err := s.open(); err != nil {
		return err
	}
	if err := s.store.LogMetrics(ctx, s.run.ID, metrics); err != nil {
		return errors.Wrap(err, "log metrics")
	}
	return nil
}

// SetTag sets a run tag. Setting the same key again overwrites the value.
func (s *Session) SetTag(ctx context.Context, key, value string) error {
	if err := s.open(); err != nil {
		return err
	}
	if err := s.store.SetTag(ctx, s.run.ID, key, value); err != nil {
		return errors.Wrapf(err, "set tag %s", key)
	}
	return nil
}

// modelFile is the gob payload written by LogModel.
const modelFile = "model.gob"

// MLModel is the descriptor written next to a logged model, in the shape of
// an MLflow MLmodel file.
type MLModel struct {
	ArtifactPath   string                       `yaml:"artifact_path"`
	Flavors        map[string]map[string]string `yaml:"flavors"`
	RunID          string                       `yaml:"run_id"`
	UTCTimeCreated string                       `yaml:"utc_time_created"`
	Params         map[string]string            `yaml:"params,omitempty"`
	ModelSizeBytes int64                        `yaml:"model_size_bytes"`
}

// LogModel serializes m with encoding/gob to <artifactPath>/model.gob and
// writes the <artifactPath>/MLmodel descriptor.
func (s *Session) LogModel(ctx context.Context, artifactPath string, m interface{}) error {
	if err := s.open(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := model.SaveModelToWriter(m, &buf); err != nil {
		return errors.Wrapf(err, "serialize %T", m)
	}
	size, err := s.store.LogArtifact(ctx, s.run.ID, path.Join(artifactPath, modelFile), &buf)
	if err != nil {
		return errors.Wrap(err, "log model")
	}

	desc := MLModel{
		ArtifactPath: artifactPath,
		Flavors: map[string]map[string]string{
			"go_gob": {
				"model_type": fmt.Sprintf("%T", m),
				"data":       modelFile,
			},
		},
		RunID:          s.run.ID,
		UTCTimeCreated: time.Now().UTC().Format("2006-01-02 15:04:05.000000"),
		ModelSizeBytes: size,
	}
	if pg, ok := m.(model.ParamGetter); ok {
		desc.Params = make(map[string]string)
		for k, v := range pg.GetParams() {
			desc.Params[k] = stringify(v)
		}
	}
	b, err := yaml.Marshal(desc)
	if err != nil {
		return errors.Wrap(err, "encode MLmodel")
	}
	if _, err := s.store.LogArtifact(ctx, s.run.ID, path.Join(artifactPath, "MLmodel"), bytes.NewReader(b)); err != nil {
		return errors.Wrap(err, "log MLmodel")
	}

	s.logger.Debug("model logged",
		"artifact_path", artifactPath,
		log.ArtifactSizeKey, humanize.Bytes(uint64(size)),
	)
	return nil
}

// End closes the run with status. Only the first call reaches the store.
func (s *Session) End(ctx context.Context, status RunStatus) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return errors.Wrapf(ErrRunClosed, "run %s", s.run.ID)
	}
	s.ended = true
	s.mu.Unlock()

	if err := s.store.EndRun(ctx, s.run.ID, status); err != nil {
		return errors.Wrapf(err, "end run %s", s.run.ID)
	}
	s.logger.Debug("run ended", log.RunStatusKey, string(status))
	return nil
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// LoadModel decodes the model logged under name in runID into dst.
func LoadModel(ctx context.Context, store Store, runID, name string, dst interface{}) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	dir, err := dirFromURI(run.ArtifactURI)
	if err != nil {
		return err
	}
	file, err := artifactPath(dir, path.Join(name, modelFile))
	if err != nil {
		return err
	}
	return model.LoadModel(dst, file)
}
