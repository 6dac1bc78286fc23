package linear_model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// LogisticRegression implements logistic regression for classification
// Compatible with scikit-learn's LogisticRegression
type LogisticRegression struct {
	State *model.StateManager

	// Hyperparameters
	penalty      string  // Regularization: "l2", "none"
	C            float64 // Inverse regularization strength (1/alpha)
	fitIntercept bool    // Whether to fit intercept
	randomState  int64   // Random seed
	maxIter      int     // Maximum iterations
	tol          float64 // Tolerance for stopping

	// Learned attributes (exported for gob persistence)
	Coef_      [][]float64 // n_classes x n_features, or 1 x n_features for binary
	Intercept_ []float64
	Classes_   []int
	NIter_     []int
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		State:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		randomState:  -1,
		maxIter:      100,
		tol:          1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRRandomState sets the random seed
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.randomState = seed
	}
}

func (lr *LogisticRegression) nClasses() int { return len(lr.Classes_) }

// Fit trains the logistic regression model.
// Binary problems fit a single weight vector, multiclass problems one-vs-rest.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("LogisticRegression.Fit", fmt.Sprintf("y must be a column vector: got shape (%d, %d)", yRows, yCols))
	}
	if err := errors.CheckMatrix("LogisticRegression.Fit", X); err != nil {
		return err
	}
	if lr.penalty != "l2" && lr.penalty != "none" {
		return errors.NewValidationError("penalty", "must be l2 or none", lr.penalty)
	}
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}

	lr.Classes_ = uniqueClasses(y)
	if lr.nClasses() < 2 {
		return errors.NewValueError("LogisticRegression.Fit", "needs samples of at least 2 classes")
	}

	rng := newRand(lr.randomState)
	nModels := lr.nClasses()
	if nModels == 2 {
		nModels = 1
	}
	lr.Coef_ = make([][]float64, nModels)
	lr.Intercept_ = make([]float64, nModels)
	lr.NIter_ = make([]int, nModels)

	for k := 0; k < nModels; k++ {
		positive := lr.Classes_[k]
		if nModels == 1 {
			positive = lr.Classes_[1]
		}
		target := make([]float64, nSamples)
		for i := range target {
			if int(y.At(i, 0)) == positive {
				target[i] = 1
			}
		}

		x0 := make([]float64, nFeatures+1)
		for j := 0; j < nFeatures; j++ {
			x0[j] = rng.NormFloat64() * 0.01
		}
		w, b, iters, converged, err := lr.fitBinary(X, target, x0)
		if err != nil {
			return err
		}
		lr.Coef_[k], lr.Intercept_[k], lr.NIter_[k] = w, b, iters
		if !converged {
			errors.Warn(errors.NewConvergenceWarning("LogisticRegression", lr.maxIter,
				"increase max_iter or scale the data"))
		}
	}

	lr.State.SetDimensions(nFeatures, nSamples)
	lr.State.SetFitted()
	return nil
}

// fitBinary は1本の二値モデルを L-BFGS で解く。
// 目的関数は平均 log-loss + ||w||²/(2·C·n)。切片は正則化しない。
// x0 は [w..., b] で、fit_intercept=false のとき b は 0 のまま。
func (lr *LogisticRegression) fitBinary(X mat.Matrix, target, x0 []float64) ([]float64, float64, int, bool, error) {
	nSamples, nFeatures := X.Dims()
	n := float64(nSamples)
	alpha := 0.0
	if lr.penalty == "l2" {
		alpha = 1 / (lr.C * n)
	}
	z := mat.NewVecDense(nSamples, nil)
	residual := mat.NewVecDense(nSamples, nil)
	gw := mat.NewVecDense(nFeatures, nil)

	scores := func(x []float64) {
		z.MulVec(X, mat.NewVecDense(nFeatures, x[:nFeatures]))
		if lr.fitIntercept {
			for i := 0; i < nSamples; i++ {
				z.SetVec(i, z.AtVec(i)+x[nFeatures])
			}
		}
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			scores(x)
			loss := 0.0
			for i := 0; i < nSamples; i++ {
				zi := z.AtVec(i)
				loss += softplus(zi) - target[i]*zi
			}
			w := x[:nFeatures]
			return loss/n + 0.5*alpha*floats.Dot(w, w)
		},
		Grad: func(grad, x []float64) {
			scores(x)
			for i := 0; i < nSamples; i++ {
				residual.SetVec(i, sigmoid(z.AtVec(i))-target[i])
			}
			gw.MulVec(X.T(), residual)
			for j := 0; j < nFeatures; j++ {
				grad[j] = gw.AtVec(j)/n + alpha*x[j]
			}
			grad[nFeatures] = 0
			if lr.fitIntercept {
				grad[nFeatures] = mat.Sum(residual) / n
			}
		},
	}

	settings := &optimize.Settings{
		GradientThreshold: lr.tol,
		MajorIterations:   lr.maxIter,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-12, Iterations: 20},
	}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if res == nil {
		return nil, 0, 0, false, errors.Wrap(err, "LogisticRegression.Fit")
	}
	// 直線探索の失敗でも最良点は返るので、勾配で収束を判定する
	grad := make([]float64, len(res.X))
	problem.Grad(grad, res.X)
	converged := res.Status == optimize.GradientThreshold ||
		res.Status == optimize.FunctionConvergence ||
		floats.Norm(grad, math.Inf(1)) < lr.tol

	w := make([]float64, nFeatures)
	copy(w, res.X[:nFeatures])
	return w, res.X[nFeatures], res.MajorIterations, converged, nil
}

// softplus は log(1+exp(z)) をオーバーフローせずに計算する
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

// DecisionFunction returns the raw linear scores (n×1 for binary, n×k otherwise).
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := lr.State.RequireFitted("LogisticRegression", "DecisionFunction"); err != nil {
		return nil, err
	}
	nSamples, nFeatures := X.Dims()
	if err := lr.State.CheckFeatures("LogisticRegression.DecisionFunction", nFeatures); err != nil {
		return nil, err
	}

	nModels := len(lr.Coef_)
	coef := mat.NewDense(nModels, nFeatures, nil)
	for k, row := range lr.Coef_ {
		coef.SetRow(k, row)
	}
	scores := mat.NewDense(nSamples, nModels, nil)
	scores.Mul(X, coef.T())
	scores.Apply(func(_, k int, v float64) float64 { return v + lr.Intercept_[k] }, scores)
	return scores, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	scores, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	nSamples, nModels := scores.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		if nModels == 1 {
			cls := lr.Classes_[0]
			if sigmoid(scores.At(i, 0)) >= 0.5 {
				cls = lr.Classes_[1]
			}
			predictions.Set(i, 0, float64(cls))
			continue
		}
		predictions.Set(i, 0, float64(lr.Classes_[floats.MaxIdx(scores.RawRowView(i))]))
	}
	return predictions, nil
}

// PredictProba returns probability estimates for each class.
// Multiclass scores are normalised with softmax.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	scores, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	nSamples, nModels := scores.Dims()
	probas := mat.NewDense(nSamples, lr.nClasses(), nil)
	for i := 0; i < nSamples; i++ {
		if nModels == 1 {
			p1 := sigmoid(scores.At(i, 0))
			probas.Set(i, 0, 1-p1)
			probas.Set(i, 1, p1)
			continue
		}
		probas.SetRow(i, softmax(scores.RawRowView(i)))
	}
	return probas, nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	return accuracyScore(lr, X, y)
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"random_state":  lr.randomState,
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "penalty":
			lr.penalty, err = model.StringParam(key, value)
		case "C":
			lr.C, err = model.FloatParam(key, value)
		case "fit_intercept":
			lr.fitIntercept, err = model.BoolParam(key, value)
		case "random_state":
			var seed int
			seed, err = model.IntParam(key, value)
			lr.randomState = int64(seed)
		case "max_iter":
			lr.maxIter, err = model.IntParam(key, value)
		case "tol":
			lr.tol, err = model.FloatParam(key, value)
		default:
			err = errors.NewValidationError(key, "unknown parameter for LogisticRegression", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sigmoid computes the sigmoid function
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

// uniqueClasses returns the sorted distinct integer labels of a column vector.
func uniqueClasses(y mat.Matrix) []int {
	rows, _ := y.Dims()
	seen := make(map[int]struct{})
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	return classes
}

func newRand(seed int64) *rand.Rand {
	if seed < 0 {
		seed = rand.Int63()
	}
	return rand.New(rand.NewSource(seed))
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

// logisticState has the fields of LogisticRegression but not its gob methods.
type logisticState LogisticRegression

// GobEncode saves the hyperparameters together with the learned state.
func (lr *LogisticRegression) GobEncode() ([]byte, error) {
	return model.ExportWeights("LogisticRegression", lr.GetParams(), (*logisticState)(lr))
}

// GobDecode restores a model written by GobEncode.
func (lr *LogisticRegression) GobDecode(data []byte) error {
	params, err := model.ImportWeights(data, "LogisticRegression", (*logisticState)(lr))
	if err != nil {
		return err
	}
	if lr.State == nil {
		lr.State = model.NewStateManager()
	}
	return lr.SetParams(params)
}
