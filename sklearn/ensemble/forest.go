// Package ensemble provides tree ensembles: a bagged random forest and
// gradient boosted trees for classification.
package ensemble

import (
	"context"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/core/parallel"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/sklearn/tree"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RandomForestClassifier averages the class probabilities of decision trees
// fit on bootstrap samples with random feature subsets at every split.
type RandomForestClassifier struct {
	State *model.StateManager

	nEstimators     int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	bootstrap       bool
	randomState     int64

	Estimators_         []*tree.DecisionTreeClassifier
	Classes_            []int
	FeatureImportances_ []float64
}

// ForestOption is a functional option for RandomForestClassifier
type ForestOption func(*RandomForestClassifier)

// NewRandomForestClassifier creates a forest with scikit-learn's defaults:
// 100 trees, gini, sqrt features and bootstrap sampling.
func NewRandomForestClassifier(opts ...ForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		State:           model.NewStateManager(),
		nEstimators:     100,
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		bootstrap:       true,
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.nEstimators = n }
}

// WithForestMaxDepth limits the depth of every tree.
func WithForestMaxDepth(d int) ForestOption {
	return func(rf *RandomForestClassifier) { rf.maxDepth = d }
}

// WithForestMaxFeatures sets the per-split feature subset ("sqrt", "log2" or "" for all).
func WithForestMaxFeatures(m string) ForestOption {
	return func(rf *RandomForestClassifier) { rf.maxFeatures = m }
}

// WithBootstrap toggles bootstrap sampling.
func WithBootstrap(b bool) ForestOption {
	return func(rf *RandomForestClassifier) { rf.bootstrap = b }
}

// WithForestRandomState seeds bootstrap sampling and feature subsets.
func WithForestRandomState(seed int64) ForestOption {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// Fit trains nEstimators trees concurrently. Every tree gets its own seed
// drawn up front, so the result does not depend on scheduling.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows, _ := y.Dims(); yRows != nSamples {
		return errors.NewDimensionError("RandomForestClassifier.Fit", nSamples, yRows, 0)
	}
	if err := errors.CheckMatrix("RandomForestClassifier.Fit", X); err != nil {
		return err
	}
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", rf.nEstimators)
	}

	rf.Classes_ = sortedLabels(y)
	rng := newRand(rf.randomState)
	seeds := make([]int64, rf.nEstimators)
	samples := make([][]int, rf.nEstimators)
	for t := range seeds {
		seeds[t] = rng.Int63()
		samples[t] = rf.sampleIndices(rng, nSamples)
	}

	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	err := parallel.ForEach(context.Background(), rf.nEstimators, func(_ context.Context, t int) error {
		dt := tree.NewDecisionTreeClassifier(
			tree.WithCriterion(rf.criterion),
			tree.WithMaxDepth(rf.maxDepth),
			tree.WithMinSamplesSplit(rf.minSamplesSplit),
			tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
			tree.WithMaxFeatures(rf.maxFeatures),
			tree.WithRandomState(seeds[t]),
		)
		if err := dt.FitIndices(X, y, samples[t], rf.Classes_); err != nil {
			return errors.Wrapf(err, "tree %d", t)
		}
		trees[t] = dt
		return nil
	})
	if err != nil {
		return err
	}
	rf.Estimators_ = trees

	rf.FeatureImportances_ = make([]float64, nFeatures)
	for _, dt := range trees {
		floats.Add(rf.FeatureImportances_, dt.FeatureImportances_)
	}
	if total := floats.Sum(rf.FeatureImportances_); total > 0 {
		floats.Scale(1/total, rf.FeatureImportances_)
	}

	rf.State.SetDimensions(nFeatures, nSamples)
	rf.State.SetFitted()
	return nil
}

func (rf *RandomForestClassifier) sampleIndices(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		if rf.bootstrap {
			idx[i] = rng.Intn(n)
		} else {
			idx[i] = i
		}
	}
	return idx
}

// PredictProba averages the per-tree leaf distributions.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.State.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	nSamples, nFeatures := X.Dims()
	if err := rf.State.CheckFeatures("RandomForestClassifier.PredictProba", nFeatures); err != nil {
		return nil, err
	}

	sum := mat.NewDense(nSamples, len(rf.Classes_), nil)
	for _, dt := range rf.Estimators_ {
		p, err := dt.PredictProba(X)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, p)
	}
	sum.Scale(1/float64(len(rf.Estimators_)), sum)
	return sum, nil
}

// Predict returns the class with the highest averaged probability.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxClasses(probas.(*mat.Dense), rf.Classes_), nil
}

// GetParams returns the model hyperparameters
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"random_state":      rf.randomState,
	}
}

// SetParams sets the model hyperparameters
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			rf.nEstimators, err = model.IntParam(key, value)
		case "criterion":
			rf.criterion, err = model.StringParam(key, value)
		case "max_depth":
			rf.maxDepth, err = model.OptionalIntParam(key, value)
		case "min_samples_split":
			rf.minSamplesSplit, err = model.IntParam(key, value)
		case "min_samples_leaf":
			rf.minSamplesLeaf, err = model.IntParam(key, value)
		case "max_features":
			if value == nil {
				rf.maxFeatures = ""
			} else {
				rf.maxFeatures, err = model.StringParam(key, value)
			}
		case "bootstrap":
			rf.bootstrap, err = model.BoolParam(key, value)
		case "random_state":
			var seed int
			seed, err = model.IntParam(key, value)
			rf.randomState = int64(seed)
		default:
			err = errors.NewValidationError(key, "unknown parameter for RandomForestClassifier", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func sortedLabels(y mat.Matrix) []int {
	rows, _ := y.Dims()
	seen := make(map[int]struct{})
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = struct{}{}
	}
	labels := make([]int, 0, len(seen))
	for c := range seen {
		labels = append(labels, c)
	}
	sort.Ints(labels)
	return labels
}

func argmaxClasses(probas *mat.Dense, classes []int) *mat.Dense {
	nSamples, _ := probas.Dims()
	out := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		out.Set(i, 0, float64(classes[floats.MaxIdx(probas.RawRowView(i))]))
	}
	return out
}

func newRand(seed int64) *rand.Rand {
	if seed < 0 {
		seed = rand.Int63()
	}
	return rand.New(rand.NewSource(seed))
}

// forestState has the fields of RandomForestClassifier but not its gob methods.
type forestState RandomForestClassifier

// GobEncode saves the hyperparameters together with the learned state.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	return model.ExportWeights("RandomForestClassifier", rf.GetParams(), (*forestState)(rf))
}

// GobDecode restores a model written by GobEncode.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	params, err := model.ImportWeights(data, "RandomForestClassifier", (*forestState)(rf))
	if err != nil {
		return err
	}
	if rf.State == nil {
		rf.State = model.NewStateManager()
	}
	return rf.SetParams(params)
}
