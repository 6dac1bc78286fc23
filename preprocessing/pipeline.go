package preprocessing

import (
	"encoding/gob"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func init() {
	gob.Register(&StandardScaler{})
	gob.Register(&MinMaxScaler{})
}

// Pipeline chains one Transformer in front of a Classifier. The transformer
// is fit on the training features only; Predict reuses the fitted transform.
type Pipeline struct {
	Scaler     model.Transformer
	Classifier model.Classifier
	ScalerName string
}

// NewPipeline creates a Pipeline. name is the value reported under the
// "scaler" parameter.
func NewPipeline(name string, scaler model.Transformer, clf model.Classifier) *Pipeline {
	return &Pipeline{Scaler: scaler, Classifier: clf, ScalerName: name}
}

// NewScaler returns the transformer for a configured scaler name.
func NewScaler(name string) (model.Transformer, error) {
	switch name {
	case "standard":
		return NewStandardScalerDefault(), nil
	case "minmax":
		return NewMinMaxScalerDefault(), nil
	}
	return nil, errors.NewValidationError("scaler", "must be one of standard, minmax", name)
}

// Fit fits the transformer on X and the classifier on the transformed X.
func (p *Pipeline) Fit(X, y mat.Matrix) error {
	// スケーリング後だと NaN が列全体に広がるので先に検査する
	if err := errors.CheckMatrix("Pipeline.Fit", X); err != nil {
		return err
	}
	Xt, err := p.Scaler.FitTransform(X)
	if err != nil {
		return errors.Wrap(err, "pipeline: scaler")
	}
	return p.Classifier.Fit(Xt, y)
}

// Predict transforms X and delegates to the classifier.
func (p *Pipeline) Predict(X mat.Matrix) (mat.Matrix, error) {
	Xt, err := p.Scaler.Transform(X)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: scaler")
	}
	return p.Classifier.Predict(Xt)
}

// PredictProba is available when the wrapped classifier provides it.
func (p *Pipeline) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	pc, ok := p.Classifier.(model.ProbabilisticClassifier)
	if !ok {
		return nil, errors.NewModelError("Pipeline.PredictProba", "classifier does not support probabilities", nil)
	}
	Xt, err := p.Scaler.Transform(X)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: scaler")
	}
	return pc.PredictProba(Xt)
}

// GetParams returns the classifier's parameters plus "scaler".
func (p *Pipeline) GetParams() map[string]interface{} {
	params := map[string]interface{}{}
	if pg, ok := p.Classifier.(model.ParamGetter); ok {
		for k, v := range pg.GetParams() {
			params[k] = v
		}
	}
	params["scaler"] = p.ScalerName
	return params
}

// SetParams forwards to the classifier.
func (p *Pipeline) SetParams(params map[string]interface{}) error {
	ps, ok := p.Classifier.(model.ParamSetter)
	if !ok {
		return errors.NewModelError("Pipeline.SetParams", "classifier has no settable parameters", nil)
	}
	return ps.SetParams(params)
}
