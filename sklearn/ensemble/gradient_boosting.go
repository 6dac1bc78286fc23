package ensemble

import (
	"math"
	"math/rand"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/sklearn/tree"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GradientBoostingClassifier fits an additive model of regression trees on
// the log-loss gradient. Binary problems grow one tree per stage; K classes
// grow K trees per stage on the softmax residuals.
type GradientBoostingClassifier struct {
	State *model.StateManager

	nEstimators     int
	learningRate    float64
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	subsample       float64
	randomState     int64

	// Trees_[stage][k]
	Trees_     [][]*tree.DecisionTreeRegressor
	InitScore_ []float64
	Classes_   []int
	TrainLoss_ []float64
}

// BoostingOption is a functional option for GradientBoostingClassifier
type BoostingOption func(*GradientBoostingClassifier)

// NewGradientBoostingClassifier creates a classifier with scikit-learn's
// defaults: 100 stages, learning rate 0.1, depth 3.
func NewGradientBoostingClassifier(opts ...BoostingOption) *GradientBoostingClassifier {
	gb := &GradientBoostingClassifier{
		State:           model.NewStateManager(),
		nEstimators:     100,
		learningRate:    0.1,
		maxDepth:        3,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		subsample:       1.0,
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(gb)
	}
	return gb
}

// WithGBNEstimators sets the number of boosting stages.
func WithGBNEstimators(n int) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.nEstimators = n }
}

// WithLearningRate shrinks the contribution of every tree.
func WithLearningRate(lr float64) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.learningRate = lr }
}

// WithGBMaxDepth sets the depth of the regression trees.
func WithGBMaxDepth(d int) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.maxDepth = d }
}

// WithSubsample sets the fraction of rows drawn for each stage.
func WithSubsample(f float64) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.subsample = f }
}

// WithGBRandomState seeds row subsampling and the trees.
func WithGBRandomState(seed int64) BoostingOption {
	return func(gb *GradientBoostingClassifier) { gb.randomState = seed }
}

// nOutputs is 1 for binary problems and K otherwise.
func (gb *GradientBoostingClassifier) nOutputs() int {
	if len(gb.Classes_) == 2 {
		return 1
	}
	return len(gb.Classes_)
}

// Fit runs nEstimators boosting stages.
func (gb *GradientBoostingClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("GradientBoostingClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows, _ := y.Dims(); yRows != nSamples {
		return errors.NewDimensionError("GradientBoostingClassifier.Fit", nSamples, yRows, 0)
	}
	if err := errors.CheckMatrix("GradientBoostingClassifier.Fit", X); err != nil {
		return err
	}
	if gb.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", gb.nEstimators)
	}
	if gb.learningRate <= 0 {
		return errors.NewValidationError("learning_rate", "must be positive", gb.learningRate)
	}
	if gb.subsample <= 0 || gb.subsample > 1 {
		return errors.NewValidationError("subsample", "must be in (0, 1]", gb.subsample)
	}

	gb.Classes_ = sortedLabels(y)
	if len(gb.Classes_) < 2 {
		return errors.NewValueError("GradientBoostingClassifier.Fit", "needs samples of at least 2 classes")
	}
	classIndex := make(map[int]int, len(gb.Classes_))
	for k, c := range gb.Classes_ {
		classIndex[c] = k
	}
	nOut := gb.nOutputs()

	// onehot[i][k] は二値の場合 y==Classes_[1]
	onehot := make([][]float64, nSamples)
	for i := range onehot {
		onehot[i] = make([]float64, nOut)
		k := classIndex[int(y.At(i, 0))]
		if nOut == 1 {
			if k == 1 {
				onehot[i][0] = 1
			}
		} else {
			onehot[i][k] = 1
		}
	}

	gb.InitScore_ = initScores(onehot, nOut)
	raw := make([][]float64, nSamples)
	for i := range raw {
		raw[i] = append([]float64(nil), gb.InitScore_...)
	}

	rng := newRand(gb.randomState)
	gb.Trees_ = make([][]*tree.DecisionTreeRegressor, 0, gb.nEstimators)
	gb.TrainLoss_ = make([]float64, 0, gb.nEstimators)
	residual := mat.NewDense(nSamples, 1, nil)

	for stage := 0; stage < gb.nEstimators; stage++ {
		rows := gb.stageRows(rng, nSamples)
		Xs := subsetRows(X, rows)
		prob := probabilities(raw, nOut)

		stageTrees := make([]*tree.DecisionTreeRegressor, nOut)
		for k := 0; k < nOut; k++ {
			for i := 0; i < nSamples; i++ {
				residual.Set(i, 0, onehot[i][k]-prob[i][k])
			}
			reg := tree.NewDecisionTreeRegressor(
				tree.WithMaxDepth(gb.maxDepth),
				tree.WithMinSamplesSplit(gb.minSamplesSplit),
				tree.WithMinSamplesLeaf(gb.minSamplesLeaf),
				tree.WithRandomState(rng.Int63()),
			)
			if err := reg.Fit(Xs, subsetRows(residual, rows)); err != nil {
				return errors.Wrapf(err, "stage %d", stage)
			}
			if err := gb.updateLeaves(reg, Xs, rows, residual); err != nil {
				return err
			}

			leaves, err := reg.Apply(X)
			if err != nil {
				return err
			}
			for i, leaf := range leaves {
				raw[i][k] += gb.learningRate * reg.Nodes_[leaf].Value[0]
			}
			stageTrees[k] = reg
		}
		gb.Trees_ = append(gb.Trees_, stageTrees)
		gb.TrainLoss_ = append(gb.TrainLoss_, logLoss(onehot, probabilities(raw, nOut), nOut))
	}

	gb.State.SetDimensions(nFeatures, nSamples)
	gb.State.SetFitted()
	return nil
}

// updateLeaves replaces each leaf mean with one Newton step on the log-loss.
// Binary: Σr / Σp(1-p). Multiclass: (K-1)/K · Σr / Σ|r|(1-|r|).
func (gb *GradientBoostingClassifier) updateLeaves(reg *tree.DecisionTreeRegressor, Xs mat.Matrix, rows []int, residual *mat.Dense) error {
	leaves, err := reg.Apply(Xs)
	if err != nil {
		return err
	}
	num := make(map[int]float64)
	den := make(map[int]float64)
	for pos, leaf := range leaves {
		r := residual.At(rows[pos], 0)
		num[leaf] += r
		den[leaf] += math.Abs(r) * (1 - math.Abs(r))
	}

	scale := 1.0
	if K := float64(gb.nOutputs()); K > 1 {
		scale = (K - 1) / K
	}
	for leaf, n := range num {
		d := den[leaf]
		v := 0.0
		if math.Abs(d) >= 1e-150 {
			v = scale * n / d
		}
		if err := reg.SetLeafValue(leaf, v); err != nil {
			return err
		}
	}
	return nil
}

func (gb *GradientBoostingClassifier) stageRows(rng *rand.Rand, n int) []int {
	if gb.subsample >= 1 {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	m := int(math.Max(1, math.Floor(gb.subsample*float64(n))))
	return rng.Perm(n)[:m]
}

// DecisionFunction returns the raw additive scores (n×1 binary, n×K multiclass).
func (gb *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := gb.State.RequireFitted("GradientBoostingClassifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	nSamples, nFeatures := X.Dims()
	if err := gb.State.CheckFeatures("GradientBoostingClassifier.DecisionFunction", nFeatures); err != nil {
		return nil, err
	}
	nOut := gb.nOutputs()
	scores := mat.NewDense(nSamples, nOut, nil)
	for i := 0; i < nSamples; i++ {
		scores.SetRow(i, gb.InitScore_)
	}
	for _, stage := range gb.Trees_ {
		for k, reg := range stage {
			pred, err := reg.Predict(X)
			if err != nil {
				return nil, err
			}
			for i := 0; i < nSamples; i++ {
				scores.Set(i, k, scores.At(i, k)+gb.learningRate*pred.At(i, 0))
			}
		}
	}
	return scores, nil
}

// PredictProba returns class probabilities from the raw scores.
func (gb *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	scores, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	nSamples, nOut := scores.Dims()
	raw := make([][]float64, nSamples)
	for i := range raw {
		raw[i] = scores.RawRowView(i)
	}
	prob := probabilities(raw, nOut)

	out := mat.NewDense(nSamples, len(gb.Classes_), nil)
	for i, p := range prob {
		if nOut == 1 {
			out.Set(i, 0, 1-p[0])
			out.Set(i, 1, p[0])
			continue
		}
		out.SetRow(i, p)
	}
	return out, nil
}

// Predict returns the most probable class of each row.
func (gb *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := gb.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxClasses(probas.(*mat.Dense), gb.Classes_), nil
}

// GetParams returns the model hyperparameters
func (gb *GradientBoostingClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      gb.nEstimators,
		"learning_rate":     gb.learningRate,
		"max_depth":         gb.maxDepth,
		"min_samples_split": gb.minSamplesSplit,
		"min_samples_leaf":  gb.minSamplesLeaf,
		"subsample":         gb.subsample,
		"random_state":      gb.randomState,
	}
}

// SetParams sets the model hyperparameters
func (gb *GradientBoostingClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			gb.nEstimators, err = model.IntParam(key, value)
		case "learning_rate":
			gb.learningRate, err = model.FloatParam(key, value)
		case "max_depth":
			gb.maxDepth, err = model.OptionalIntParam(key, value)
		case "min_samples_split":
			gb.minSamplesSplit, err = model.IntParam(key, value)
		case "min_samples_leaf":
			gb.minSamplesLeaf, err = model.IntParam(key, value)
		case "subsample":
			gb.subsample, err = model.FloatParam(key, value)
		case "random_state":
			var seed int
			seed, err = model.IntParam(key, value)
			gb.randomState = int64(seed)
		default:
			err = errors.NewValidationError(key, "unknown parameter for GradientBoostingClassifier", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// initScores returns the log-odds (binary) or log prior (multiclass).
func initScores(onehot [][]float64, nOut int) []float64 {
	prior := make([]float64, nOut)
	for _, row := range onehot {
		floats.Add(prior, row)
	}
	floats.Scale(1/float64(len(onehot)), prior)

	init := make([]float64, nOut)
	for k, p := range prior {
		p = math.Min(math.Max(p, 1e-15), 1-1e-15)
		if nOut == 1 {
			init[k] = math.Log(p / (1 - p))
		} else {
			init[k] = math.Log(p)
		}
	}
	return init
}

func probabilities(raw [][]float64, nOut int) [][]float64 {
	out := make([][]float64, len(raw))
	for i, r := range raw {
		if nOut == 1 {
			out[i] = []float64{sigmoid(r[0])}
			continue
		}
		out[i] = softmax(r)
	}
	return out
}

func logLoss(onehot, prob [][]float64, nOut int) float64 {
	var loss float64
	for i, row := range onehot {
		for k, t := range row {
			p := math.Min(math.Max(prob[i][k], 1e-15), 1-1e-15)
			if nOut == 1 {
				loss -= t*math.Log(p) + (1-t)*math.Log(1-p)
			} else if t > 0 {
				loss -= math.Log(p)
			}
		}
	}
	return loss / float64(len(onehot))
}

func subsetRows(m mat.Matrix, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(r, j))
		}
	}
	return out
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1.0 + ez)
}

func softmax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	maxScore := floats.Max(scores)
	for k, s := range scores {
		out[k] = math.Exp(s - maxScore)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// boostingState has the fields of GradientBoostingClassifier but not its gob methods.
type boostingState GradientBoostingClassifier

// GobEncode saves the hyperparameters together with the learned state.
func (gb *GradientBoostingClassifier) GobEncode() ([]byte, error) {
	return model.ExportWeights("GradientBoostingClassifier", gb.GetParams(), (*boostingState)(gb))
}

// GobDecode restores a model written by GobEncode.
func (gb *GradientBoostingClassifier) GobDecode(data []byte) error {
	params, err := model.ImportWeights(data, "GradientBoostingClassifier", (*boostingState)(gb))
	if err != nil {
		return err
	}
	if gb.State == nil {
		gb.State = model.NewStateManager()
	}
	return gb.SetParams(params)
}
