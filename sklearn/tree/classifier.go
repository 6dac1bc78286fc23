// Package tree implements CART decision trees for classification and
// regression in the style of scikit-learn's sklearn.tree.
package tree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DecisionTreeClassifier は CART による決定木分類器
type DecisionTreeClassifier struct {
	State *model.StateManager

	// ハイパーパラメータ
	criterion       string // "gini" または "entropy"
	maxDepth        int    // -1 は無制限
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string // "", "sqrt", "log2"
	randomState     int64

	// 学習結果
	Nodes_              []Node
	Classes_            []int
	NClasses_           int
	FeatureImportances_ []float64
}

// Option is a functional option shared by the tree estimators.
type Option func(*treeParams)

type treeParams struct {
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	randomState     int64
}

func defaultParams(criterion string) treeParams {
	return treeParams{
		criterion:       criterion,
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		randomState:     -1,
	}
}

// WithCriterion sets the split quality measure.
func WithCriterion(c string) Option { return func(p *treeParams) { p.criterion = c } }

// WithMaxDepth limits the depth of the tree. -1 means unlimited.
func WithMaxDepth(d int) Option { return func(p *treeParams) { p.maxDepth = d } }

// WithMinSamplesSplit sets the minimum number of samples needed to split a node.
func WithMinSamplesSplit(n int) Option { return func(p *treeParams) { p.minSamplesSplit = n } }

// WithMinSamplesLeaf sets the minimum number of samples in each leaf.
func WithMinSamplesLeaf(n int) Option { return func(p *treeParams) { p.minSamplesLeaf = n } }

// WithMaxFeatures sets how many features each split considers: "" (all), "sqrt" or "log2".
func WithMaxFeatures(m string) Option { return func(p *treeParams) { p.maxFeatures = m } }

// WithRandomState seeds feature subsampling.
func WithRandomState(seed int64) Option { return func(p *treeParams) { p.randomState = seed } }

// NewDecisionTreeClassifier creates a new DecisionTreeClassifier.
//
//	dt := tree.NewDecisionTreeClassifier(tree.WithMaxDepth(5))
//	err := dt.Fit(X, y)
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	p := defaultParams("gini")
	for _, opt := range opts {
		opt(&p)
	}
	dt := &DecisionTreeClassifier{State: model.NewStateManager()}
	dt.setTreeParams(p)
	return dt
}

func (dt *DecisionTreeClassifier) setTreeParams(p treeParams) {
	dt.criterion = p.criterion
	dt.maxDepth = p.maxDepth
	dt.minSamplesSplit = p.minSamplesSplit
	dt.minSamplesLeaf = p.minSamplesLeaf
	dt.maxFeatures = p.maxFeatures
	dt.randomState = p.randomState
}

func (dt *DecisionTreeClassifier) treeParams() treeParams {
	return treeParams{
		criterion:       dt.criterion,
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		maxFeatures:     dt.maxFeatures,
		randomState:     dt.randomState,
	}
}

// Fit builds the tree from X and class labels y (n×1).
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	if err := errors.CheckMatrix("DecisionTreeClassifier.Fit", X); err != nil {
		return err
	}
	nSamples, _ := X.Dims()
	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}
	return dt.FitIndices(X, y, indices, nil)
}

// FitIndices fits on the rows listed in indices (repeats allowed).
// classes fixes the class set; nil derives it from y. Random forests use this
// so that every tree sees the full class list.
func (dt *DecisionTreeClassifier) FitIndices(X, y mat.Matrix, indices []int, classes []int) error {
	nSamples, nFeatures, err := checkXY("DecisionTreeClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	if dt.criterion != "gini" && dt.criterion != "entropy" {
		return errors.NewValidationError("criterion", "must be gini or entropy", dt.criterion)
	}
	p := dt.treeParams()
	grow, err := p.grow(nFeatures)
	if err != nil {
		return err
	}

	if classes == nil {
		classes = uniqueLabels(y)
	}
	classIndex := make(map[int]int, len(classes))
	for k, c := range classes {
		classIndex[c] = k
	}
	yIdx := make([]int, nSamples)
	for i := 0; i < nSamples; i++ {
		k, ok := classIndex[int(y.At(i, 0))]
		if !ok {
			return errors.NewValueError("DecisionTreeClassifier.Fit", fmt.Sprintf("label %v not in classes", y.At(i, 0)))
		}
		yIdx[i] = k
	}

	crit := &classCriterion{y: yIdx, nClasses: len(classes), entropy: dt.criterion == "entropy"}
	dt.Nodes_, dt.FeatureImportances_ = build(X, indices, crit, grow, newRand(p.randomState))
	dt.Classes_ = classes
	dt.NClasses_ = len(classes)

	dt.State.SetDimensions(nFeatures, len(indices))
	dt.State.SetFitted()
	return nil
}

// PredictProba returns the class distribution of the leaf reached by each row.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.State.RequireFitted("DecisionTreeClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	nSamples, nFeatures := X.Dims()
	if err := dt.State.CheckFeatures("DecisionTreeClassifier.PredictProba", nFeatures); err != nil {
		return nil, err
	}

	probas := mat.NewDense(nSamples, dt.NClasses_, nil)
	for i := 0; i < nSamples; i++ {
		leaf := leafFor(dt.Nodes_, func(j int) float64 { return X.At(i, j) })
		probas.SetRow(i, dt.Nodes_[leaf].Value)
	}
	return probas, nil
}

// Predict returns the most probable class of each row.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxClasses(probas.(*mat.Dense), dt.Classes_), nil
}

// Score returns the mean accuracy on the given test data and labels
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	return accuracyScore(dt, X, y)
}

// GetFeatureImportances returns the normalised impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return dt.FeatureImportances_
}

// GetDepth returns the depth of the fitted tree.
func (dt *DecisionTreeClassifier) GetDepth() int { return depthOf(dt.Nodes_) }

// GetNLeaves returns the number of leaves of the fitted tree.
func (dt *DecisionTreeClassifier) GetNLeaves() int { return leavesOf(dt.Nodes_) }

// GetParams returns the model hyperparameters
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return dt.treeParams().toMap()
}

// SetParams sets the model hyperparameters
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	p := dt.treeParams()
	if err := p.set(params); err != nil {
		return err
	}
	dt.setTreeParams(p)
	return nil
}

func (p treeParams) toMap() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         p.criterion,
		"max_depth":         p.maxDepth,
		"min_samples_split": p.minSamplesSplit,
		"min_samples_leaf":  p.minSamplesLeaf,
		"max_features":      p.maxFeatures,
		"random_state":      p.randomState,
	}
}

func (p *treeParams) set(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "criterion":
			p.criterion, err = model.StringParam(key, value)
		case "max_depth":
			p.maxDepth, err = model.OptionalIntParam(key, value)
		case "min_samples_split":
			p.minSamplesSplit, err = model.IntParam(key, value)
		case "min_samples_leaf":
			p.minSamplesLeaf, err = model.IntParam(key, value)
		case "max_features":
			if value == nil {
				p.maxFeatures = ""
			} else {
				p.maxFeatures, err = model.StringParam(key, value)
			}
		case "random_state":
			var seed int
			seed, err = model.IntParam(key, value)
			p.randomState = int64(seed)
		default:
			err = errors.NewValidationError(key, "unknown parameter for decision tree", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// grow validates the stopping rules and resolves max_features.
func (p treeParams) grow(nFeatures int) (growParams, error) {
	if p.minSamplesSplit < 2 {
		return growParams{}, errors.NewValidationError("min_samples_split", "must be at least 2", p.minSamplesSplit)
	}
	if p.minSamplesLeaf < 1 {
		return growParams{}, errors.NewValidationError("min_samples_leaf", "must be at least 1", p.minSamplesLeaf)
	}
	g := growParams{
		maxDepth:        p.maxDepth,
		minSamplesSplit: p.minSamplesSplit,
		minSamplesLeaf:  p.minSamplesLeaf,
	}
	switch p.maxFeatures {
	case "", "all", "auto":
	case "sqrt":
		g.maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	case "log2":
		g.maxFeatures = int(math.Max(1, math.Floor(math.Log2(float64(nFeatures)))))
	default:
		return growParams{}, errors.NewValidationError("max_features", "must be sqrt, log2 or empty", p.maxFeatures)
	}
	return g, nil
}

func checkXY(op string, X, y mat.Matrix) (int, int, error) {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return 0, 0, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if yRows != nSamples {
		return 0, 0, errors.NewDimensionError(op, nSamples, yRows, 0)
	}
	if yCols != 1 {
		return 0, 0, errors.NewValueError(op, "y must be a column vector")
	}
	return nSamples, nFeatures, nil
}

func argmaxClasses(probas *mat.Dense, classes []int) *mat.Dense {
	nSamples, _ := probas.Dims()
	out := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		out.Set(i, 0, float64(classes[floats.MaxIdx(probas.RawRowView(i))]))
	}
	return out
}

func accuracyScore(p model.Predictor, X, y mat.Matrix) float64 {
	predictions, err := p.Predict(X)
	if err != nil {
		return 0.0
	}
	nSamples, _ := X.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples)
}

// uniqueLabels returns the sorted distinct integer labels of a column vector.
func uniqueLabels(y mat.Matrix) []int {
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

func newRand(seed int64) *rand.Rand {
	if seed < 0 {
		seed = rand.Int63()
	}
	return rand.New(rand.NewSource(seed))
}

// treeState has the fields of DecisionTreeClassifier but not its gob methods.
type treeState DecisionTreeClassifier

// GobEncode saves the hyperparameters together with the learned state.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	return model.ExportWeights("DecisionTreeClassifier", dt.GetParams(), (*treeState)(dt))
}

// GobDecode restores a model written by GobEncode.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	params, err := model.ImportWeights(data, "DecisionTreeClassifier", (*treeState)(dt))
	if err != nil {
		return err
	}
	if dt.State == nil {
		dt.State = model.NewStateManager()
	}
	return dt.SetParams(params)
}
