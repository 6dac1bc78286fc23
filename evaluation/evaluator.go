// Package evaluation computes the fixed metric set for a trained classifier
// on held-out data.
package evaluation

import (
	"fmt"
	"io"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/metrics"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// Evaluator predicts the test rows and scores the predictions.
//
// Precision, recall and F1 are averaged over classes weighted by support.
// A class without predicted members has precision 0, a class without true
// members has recall 0 and weight 0, and F1 is 0 when precision+recall is 0.
// These cases raise an UndefinedMetricWarning through errors.Warn, never an
// error.
type Evaluator struct {
	classNames  []string
	diagnostics io.Writer
	logger      log.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithDiagnostics sets where the confusion matrix and per-class report are
// written. The default discards them.
func WithDiagnostics(w io.Writer) Option {
	return func(e *Evaluator) { e.diagnostics = w }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// New creates an Evaluator. classNames[i] is the label of class index i and
// fixes the number of classes; nil infers it from the data.
func New(classNames []string, opts ...Option) *Evaluator {
	e := &Evaluator{
		classNames:  classNames,
		diagnostics: io.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.GetLoggerWithName("evaluation")
	}
	return e
}

// Evaluate predicts X with m and compares the predictions with y.
func (e *Evaluator) Evaluate(m model.Predictor, X, y mat.Matrix) (metrics.Record, error) {
	pred, err := m.Predict(X)
	if err != nil {
		return metrics.Record{}, errors.Wrap(err, "predict")
	}
	yTrue, err := metrics.ColumnVector("Evaluate", y)
	if err != nil {
		return metrics.Record{}, err
	}
	yPred, err := metrics.ColumnVector("Evaluate", pred)
	if err != nil {
		return metrics.Record{}, err
	}
	return e.Score(yTrue, yPred)
}

// Score computes the record for already predicted labels and writes the
// diagnostics. The record is the weighted-average row of the classification
// report, so both always agree.
func (e *Evaluator) Score(yTrue, yPred *mat.VecDense) (metrics.Record, error) {
	report, err := metrics.ClassificationReport(yTrue, yPred, e.classNames)
	if err != nil {
		return metrics.Record{}, err
	}
	rec := metrics.Record{
		Accuracy:  report.Accuracy,
		Precision: report.WeightedAvg.Precision,
		Recall:    report.WeightedAvg.Recall,
		F1:        report.WeightedAvg.F1,
	}
	if err := rec.Validate(); err != nil {
		return metrics.Record{}, err
	}

	cm, err := metrics.ConfusionMatrix(yTrue, yPred, len(e.classNames))
	if err != nil {
		return metrics.Record{}, err
	}
	fmt.Fprintln(e.diagnostics, "Confusion Matrix:")
	metrics.RenderConfusionMatrix(e.diagnostics, cm, e.classNames)
	fmt.Fprintln(e.diagnostics, "Classification Report:")
	report.Render(e.diagnostics)

	e.logger.Debug("evaluated",
		log.OperationKey, log.OperationEvaluate,
		log.SamplesKey, yTrue.Len(),
		log.AccuracyKey, rec.Accuracy,
		log.F1Key, rec.F1,
	)
	return rec, nil
}
