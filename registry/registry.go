// Package registry holds the fixed, ordered list of model configurations the
// harness compares.
package registry

import (
	"encoding/gob"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/preprocessing"
	"github.com/YuminosukeSato/mlproject/sklearn/ensemble"
	"github.com/YuminosukeSato/mlproject/sklearn/linear_model"
	"github.com/YuminosukeSato/mlproject/sklearn/neighbors"
	"github.com/YuminosukeSato/mlproject/sklearn/svm"
	"github.com/YuminosukeSato/mlproject/sklearn/tree"
)

func init() {
	// Pipeline.Classifier はインターフェース型なので具象型を登録する
	gob.Register(&linear_model.LogisticRegression{})
	gob.Register(&ensemble.RandomForestClassifier{})
	gob.Register(&ensemble.GradientBoostingClassifier{})
	gob.Register(&tree.DecisionTreeClassifier{})
	gob.Register(&neighbors.KNeighborsClassifier{})
	gob.Register(&svm.SVC{})
}

// SelectAll selects every configuration.
const SelectAll = "all"

// Configuration names, in training order.
const (
	LogisticRegression = "Logistic_Regression"
	RandomForest       = "Random_Forest"
	GradientBoosting   = "Gradient_Boosting"
	DecisionTree       = "Decision_Tree"
	KNearestNeighbors  = "K_Nearest_Neighbors"
	SupportVector      = "Support_Vector_Machine"
)

// Config is one named, untrained model with the hyperparameters recorded
// for it.
type Config struct {
	Name   string
	Model  model.Classifier
	Params map[string]interface{}
	// Scaler is "" or the name of the preprocessing step in front of Model.
	Scaler string
}

type entry struct {
	name   string
	params map[string]interface{}
	build  func() model.Classifier
}

var entries = []entry{
	{
		name:   LogisticRegression,
		params: map[string]interface{}{"random_state": 42, "max_iter": 1000},
		build:  func() model.Classifier { return linear_model.NewLogisticRegression() },
	},
	{
		name:   RandomForest,
		params: map[string]interface{}{"random_state": 42, "n_estimators": 100},
		build:  func() model.Classifier { return ensemble.NewRandomForestClassifier() },
	},
	{
		name:   GradientBoosting,
		params: map[string]interface{}{"random_state": 42, "n_estimators": 100},
		build:  func() model.Classifier { return ensemble.NewGradientBoostingClassifier() },
	},
	{
		name:   DecisionTree,
		params: map[string]interface{}{"random_state": 42},
		build:  func() model.Classifier { return tree.NewDecisionTreeClassifier() },
	},
	{
		name:   KNearestNeighbors,
		params: map[string]interface{}{"n_neighbors": 5},
		build:  func() model.Classifier { return neighbors.NewKNeighborsClassifier() },
	},
	{
		name:   SupportVector,
		params: map[string]interface{}{"random_state": 42, "kernel": "rbf"},
		build:  func() model.Classifier { return svm.NewSVC() },
	},
}

// Default returns fresh, untrained instances of the six configurations in
// training order. Each call builds new models, so every instance is fit at
// most once per run.
func Default() []Config {
	configs := make([]Config, 0, len(entries))
	for _, e := range entries {
		cfg, err := e.config()
		if err != nil {
			// パラメータは固定値なのでここには来ない
			panic(err)
		}
		configs = append(configs, cfg)
	}
	return configs
}

func (e entry) config() (Config, error) {
	m := e.build()
	params := copyParams(e.params)
	if err := setParams(m, params); err != nil {
		return Config{}, errors.Wrapf(err, "configure %s", e.name)
	}
	return Config{Name: e.name, Model: m, Params: params}, nil
}

// Names returns the values accepted by the model selector: "all" followed by
// every configuration name.
func Names() []string {
	names := []string{SelectAll}
	for _, e := range entries {
		names = append(names, e.name)
	}
	return names
}

// Select returns every configuration for "all", or the single configuration
// whose name equals selector.
func Select(configs []Config, selector string) ([]Config, error) {
	if selector == SelectAll {
		return configs, nil
	}
	for _, c := range configs {
		if c.Name == selector {
			return []Config{c}, nil
		}
	}
	known := make([]string, 0, len(configs)+1)
	known = append(known, SelectAll)
	for _, c := range configs {
		known = append(known, c.Name)
	}
	return nil, errors.NewUnknownModelError(selector, known)
}

// Override is the per-model section of the YAML config.
type Override struct {
	Params map[string]interface{}
	Scaler string
}

// ApplyOverrides sets hyperparameters and an optional scaler per
// configuration name. Overridden params replace the recorded values.
func ApplyOverrides(configs []Config, overrides map[string]Override) ([]Config, error) {
	index := make(map[string]int, len(configs))
	for i, c := range configs {
		index[c.Name] = i
	}
	known := Names()
	for name := range overrides {
		if _, ok := index[name]; !ok {
			return nil, errors.NewUnknownModelError(name, known)
		}
	}

	out := make([]Config, len(configs))
	copy(out, configs)
	for i := range out {
		ov, ok := overrides[out[i].Name]
		if !ok {
			continue
		}
		c := out[i]
		c.Params = copyParams(c.Params)
		if len(ov.Params) > 0 {
			if err := setParams(c.Model, ov.Params); err != nil {
				return nil, errors.Wrapf(err, "override %s", c.Name)
			}
			for k, v := range ov.Params {
				c.Params[k] = v
			}
		}
		if ov.Scaler != "" {
			scaler, err := preprocessing.NewScaler(ov.Scaler)
			if err != nil {
				return nil, errors.Wrapf(err, "override %s", c.Name)
			}
			c.Model = preprocessing.NewPipeline(ov.Scaler, scaler, c.Model)
			c.Scaler = ov.Scaler
			c.Params["scaler"] = ov.Scaler
		}
		out[i] = c
	}
	return out, nil
}

func setParams(m model.Classifier, params map[string]interface{}) error {
	ps, ok := m.(model.ParamSetter)
	if !ok {
		return errors.NewModelError("registry", "model has no settable parameters", nil)
	}
	return ps.SetParams(params)
}

func copyParams(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
