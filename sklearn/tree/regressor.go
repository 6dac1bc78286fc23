package tree

import (
	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DecisionTreeRegressor fits a CART tree with the squared error criterion.
// Gradient boosting uses it as the base learner and rewrites leaf values
// after fitting via Apply and SetLeafValue.
type DecisionTreeRegressor struct {
	State *model.StateManager

	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	randomState     int64

	Nodes_              []Node
	FeatureImportances_ []float64
}

// NewDecisionTreeRegressor creates a new DecisionTreeRegressor. The criterion
// option is ignored; regression trees always use squared error.
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	p := defaultParams("squared_error")
	for _, opt := range opts {
		opt(&p)
	}
	return &DecisionTreeRegressor{
		State:           model.NewStateManager(),
		maxDepth:        p.maxDepth,
		minSamplesSplit: p.minSamplesSplit,
		minSamplesLeaf:  p.minSamplesLeaf,
		maxFeatures:     p.maxFeatures,
		randomState:     p.randomState,
	}
}

func (dt *DecisionTreeRegressor) treeParams() treeParams {
	return treeParams{
		criterion:       "squared_error",
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		maxFeatures:     dt.maxFeatures,
		randomState:     dt.randomState,
	}
}

// Fit builds the tree from X and continuous targets y (n×1).
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures, err := checkXY("DecisionTreeRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	p := dt.treeParams()
	grow, err := p.grow(nFeatures)
	if err != nil {
		return err
	}

	target := make([]float64, nSamples)
	indices := make([]int, nSamples)
	for i := range target {
		target[i] = y.At(i, 0)
		indices[i] = i
	}
	dt.Nodes_, dt.FeatureImportances_ = build(X, indices, &mseCriterion{y: target}, grow, newRand(p.randomState))

	dt.State.SetDimensions(nFeatures, nSamples)
	dt.State.SetFitted()
	return nil
}

// Predict returns the leaf value of each row as an n×1 matrix.
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	leaves, err := dt.Apply(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(leaves), 1, nil)
	for i, leaf := range leaves {
		out.Set(i, 0, dt.Nodes_[leaf].Value[0])
	}
	return out, nil
}

// Apply returns the index of the leaf reached by each row.
func (dt *DecisionTreeRegressor) Apply(X mat.Matrix) ([]int, error) {
	if err := dt.State.RequireFitted("DecisionTreeRegressor", "Apply"); err != nil {
		return nil, err
	}
	nSamples, nFeatures := X.Dims()
	if err := dt.State.CheckFeatures("DecisionTreeRegressor.Apply", nFeatures); err != nil {
		return nil, err
	}
	leaves := make([]int, nSamples)
	for i := range leaves {
		leaves[i] = leafFor(dt.Nodes_, func(j int) float64 { return X.At(i, j) })
	}
	return leaves, nil
}

// SetLeafValue overwrites the prediction stored in a leaf.
func (dt *DecisionTreeRegressor) SetLeafValue(node int, v float64) error {
	if node < 0 || node >= len(dt.Nodes_) || !dt.Nodes_[node].IsLeaf() {
		return errors.NewValueError("DecisionTreeRegressor.SetLeafValue", "node is not a leaf")
	}
	dt.Nodes_[node].Value = []float64{v}
	return nil
}

// GetDepth returns the depth of the fitted tree.
func (dt *DecisionTreeRegressor) GetDepth() int { return depthOf(dt.Nodes_) }

// GetNLeaves returns the number of leaves of the fitted tree.
func (dt *DecisionTreeRegressor) GetNLeaves() int { return leavesOf(dt.Nodes_) }
