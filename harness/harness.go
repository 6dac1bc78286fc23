// Package harness trains each selected model configuration inside its own
// tracking session and collects the results for the comparison report.
package harness

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/dataset"
	"github.com/YuminosukeSato/mlproject/metrics"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"github.com/YuminosukeSato/mlproject/registry"
	"github.com/YuminosukeSato/mlproject/report"
	"github.com/YuminosukeSato/mlproject/tracking"
	"gonum.org/v1/gonum/mat"
)

// ModelArtifactPath is the artifact directory the fitted model is logged under.
const ModelArtifactPath = "model"

// Run tags set by the harness.
const (
	// TagEstimator は学習した Go の型名
	TagEstimator = "estimator"
	// TagDataset は読み込んだ CSV のパス
	TagDataset = "dataset"
	// TagModelSelector は --model_type に渡された値
	TagModelSelector = "model_selector"
)

// Evaluator scores a fitted model on held-out rows.
type Evaluator interface {
	Evaluate(m model.Predictor, X, y mat.Matrix) (metrics.Record, error)
}

// Harness runs configurations one after another. It is not safe for
// concurrent use.
type Harness struct {
	client    *tracking.Client
	evaluator Evaluator
	out       io.Writer
	logger    log.Logger
	tags      map[string]string
}

// Option configures a Harness.
type Option func(*Harness)

// WithOutput sets where per-model progress lines are printed. Defaults to
// io.Discard.
func WithOutput(w io.Writer) Option {
	return func(h *Harness) { h.out = w }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithTags sets tags recorded on every run, in addition to TagEstimator.
func WithTags(tags map[string]string) Option {
	return func(h *Harness) { h.tags = tags }
}

// New creates a Harness recording into client.
func New(client *tracking.Client, evaluator Evaluator, opts ...Option) *Harness {
	h := &Harness{client: client, evaluator: evaluator, out: io.Discard}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = log.GetLoggerWithName("harness")
	}
	return h
}

// TrainOne fits cfg.Model on the training partition, evaluates it on the test
// partition and records params, metrics and the fitted model in a new run.
//
// The run is always ended: FINISHED when TrainOne returns nil, FAILED
// otherwise, including when Fit or Predict panics. Whatever was recorded
// before a failure stays recorded.
func (h *Harness) TrainOne(ctx context.Context, split *dataset.Split, cfg registry.Config) (rec metrics.Record, err error) {
	logger := h.logger.With(log.ModelNameKey, cfg.Name)

	sess, err := h.client.StartRun(ctx, cfg.Name)
	if err != nil {
		return rec, err
	}
	defer func() {
		status := tracking.StatusFinished
		if err != nil {
			status = tracking.StatusFailed
		}
		if endErr := sess.End(ctx, status); endErr != nil && err == nil {
			err = endErr
		}
		logger.Debug("run closed", log.RunIDKey, sess.RunID(), log.RunStatusKey, string(status))
	}()
	defer errors.Recover(&err, "TrainOne "+cfg.Name)

	fmt.Fprintf(h.out, "\nTraining %s\n", cfg.Name)

	if err := h.setTags(ctx, sess, cfg); err != nil {
		return rec, err
	}
	if err := sess.LogParams(ctx, cfg.Params); err != nil {
		return rec, err
	}

	start := time.Now()
	logger.Info("fitting", log.OperationKey, log.OperationFit, log.PhaseKey, log.PhaseTraining)
	if err := cfg.Model.Fit(split.XTrain, split.YTrain); err != nil {
		return rec, errors.Wrap(err, "fit")
	}
	fitMs := time.Since(start).Milliseconds()

	rec, err = h.evaluator.Evaluate(cfg.Model, split.XTest, split.YTest)
	if err != nil {
		return metrics.Record{}, errors.Wrap(err, "evaluate")
	}
	if err := sess.LogMetrics(ctx, rec.Map()); err != nil {
		return metrics.Record{}, err
	}
	if err := sess.LogModel(ctx, ModelArtifactPath, cfg.Model); err != nil {
		return metrics.Record{}, err
	}

	logger.Info("trained",
		log.RunIDKey, sess.RunID(),
		log.ArtifactURIKey, sess.ArtifactURI(),
		log.AccuracyKey, rec.Accuracy,
		log.F1Key, rec.F1,
		log.DurationMsKey, fitMs,
	)
	fmt.Fprintf(h.out, "  accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f\n",
		rec.Accuracy, rec.Precision, rec.Recall, rec.F1)
	fmt.Fprintf(h.out, "  Run ID: %s\n  Artifact URI: %s\n", sess.RunID(), sess.ArtifactURI())
	return rec, nil
}

func (h *Harness) setTags(ctx context.Context, sess *tracking.Session, cfg registry.Config) error {
	keys := make([]string, 0, len(h.tags))
	for k := range h.tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := sess.SetTag(ctx, k, h.tags[k]); err != nil {
			return err
		}
	}
	return sess.SetTag(ctx, TagEstimator, fmt.Sprintf("%T", cfg.Model))
}

// Run trains every configuration in order. A configuration that fails is
// logged as a TrainingError and skipped; the others still run. The returned
// rows are in training order and contain only the successful configurations.
func (h *Harness) Run(ctx context.Context, split *dataset.Split, configs []registry.Config) []report.Row {
	rows := make([]report.Row, 0, len(configs))
	for _, cfg := range configs {
		rec, err := h.TrainOne(ctx, split, cfg)
		if err != nil {
			terr := errors.NewTrainingError(cfg.Name, err)
			h.logger.Error("training failed, skipping",
				log.ModelNameKey, cfg.Name,
				log.ErrorTypeKey, fmt.Sprintf("%T", errors.Cause(err)),
				"error", terr,
			)
			fmt.Fprintf(h.out, "Error training %s: %v\n", cfg.Name, err)
			continue
		}
		rows = append(rows, report.NewRow(cfg.Name, rec))
	}
	h.logger.Info("training finished",
		"succeeded", len(rows),
		"failed", len(configs)-len(rows),
	)
	return rows
}
