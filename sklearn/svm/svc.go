// Package svm implements a kernel support vector classifier trained with
// sequential minimal optimisation (SMO).
package svm

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// maxIter が -1 のときの掃引回数の上限
const defaultSweepLimit = 1000

// Machine is one fitted binary classifier: f(x) = Σ DualCoef_k K(SV_k, x) + Intercept.
type Machine struct {
	SupportVectors [][]float64
	DualCoef       []float64
	Intercept      float64
	NIter          int
}

// SVC は C-サポートベクター分類器。多クラスは one-vs-rest で扱う。
type SVC struct {
	State *model.StateManager

	C           float64
	kernel      string  // "rbf", "linear", "poly", "sigmoid"
	gamma       string  // "scale", "auto" または数値の文字列
	degree      int     // poly のみ
	coef0       float64 // poly, sigmoid
	tol         float64
	maxIter     int // 掃引回数の上限、-1 は既定値
	randomState int64

	Machines_ []Machine
	Classes_  []int
	Gamma_    float64
}

// Option is a functional option for SVC
type Option func(*SVC)

// WithC sets the regularisation parameter.
func WithC(c float64) Option { return func(s *SVC) { s.C = c } }

// WithKernel sets the kernel: rbf, linear, poly or sigmoid.
func WithKernel(k string) Option { return func(s *SVC) { s.kernel = k } }

// WithGamma sets the kernel coefficient: "scale", "auto" or a number.
func WithGamma(g string) Option { return func(s *SVC) { s.gamma = g } }

// WithDegree sets the polynomial degree.
func WithDegree(d int) Option { return func(s *SVC) { s.degree = d } }

// WithTol sets the KKT tolerance.
func WithTol(tol float64) Option { return func(s *SVC) { s.tol = tol } }

// WithMaxIter caps the number of SMO sweeps.
func WithMaxIter(n int) Option { return func(s *SVC) { s.maxIter = n } }

// WithRandomState seeds the choice of the second multiplier.
func WithRandomState(seed int64) Option { return func(s *SVC) { s.randomState = seed } }

// NewSVC creates an SVC with scikit-learn's defaults (C=1, rbf, gamma="scale").
func NewSVC(opts ...Option) *SVC {
	s := &SVC{
		State:       model.NewStateManager(),
		C:           1.0,
		kernel:      "rbf",
		gamma:       "scale",
		degree:      3,
		tol:         1e-3,
		maxIter:     -1,
		randomState: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fit trains one binary machine (two classes) or one per class.
func (s *SVC) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("SVC.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows, _ := y.Dims(); yRows != nSamples {
		return errors.NewDimensionError("SVC.Fit", nSamples, yRows, 0)
	}
	if err := errors.CheckMatrix("SVC.Fit", X); err != nil {
		return err
	}
	if s.C <= 0 {
		return errors.NewValidationError("C", "must be positive", s.C)
	}
	switch s.kernel {
	case "rbf", "linear", "poly", "sigmoid":
	default:
		return errors.NewValidationError("kernel", "must be one of rbf, linear, poly, sigmoid", s.kernel)
	}
	gamma, err := s.resolveGamma(X)
	if err != nil {
		return err
	}
	s.Gamma_ = gamma

	s.Classes_ = classesOf(y)
	if len(s.Classes_) < 2 {
		return errors.NewValueError("SVC.Fit", "needs samples of at least 2 classes")
	}

	rows := make([][]float64, nSamples)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}
	gram := mat.NewSymDense(nSamples, nil)
	for i := 0; i < nSamples; i++ {
		for j := i; j < nSamples; j++ {
			gram.SetSym(i, j, s.kernelFunc(rows[i], rows[j]))
		}
	}

	nMachines := len(s.Classes_)
	if nMachines == 2 {
		nMachines = 1
	}
	rng := newRand(s.randomState)
	s.Machines_ = make([]Machine, nMachines)
	for k := 0; k < nMachines; k++ {
		positive := s.Classes_[k]
		if nMachines == 1 {
			positive = s.Classes_[1]
		}
		target := make([]float64, nSamples)
		for i := range target {
			target[i] = -1
			if int(y.At(i, 0)) == positive {
				target[i] = 1
			}
		}
		s.Machines_[k] = s.smo(gram, rows, target, rng)
	}

	s.State.SetDimensions(nFeatures, nSamples)
	s.State.SetFitted()
	return nil
}

// smo is Platt's simplified SMO: sweep all multipliers that violate the KKT
// conditions, pair each with a random partner, and stop after a sweep with
// no change.
func (s *SVC) smo(gram *mat.SymDense, rows [][]float64, target []float64, rng *rand.Rand) Machine {
	n := len(target)
	alpha := make([]float64, n)
	var b float64

	decision := func(i int) float64 {
		f := b
		for k, a := range alpha {
			if a != 0 {
				f += a * target[k] * gram.At(k, i)
			}
		}
		return f
	}

	limit := s.maxIter
	if limit < 0 {
		limit = defaultSweepLimit
	}
	sweeps := 0
	converged := false
	for ; sweeps < limit; sweeps++ {
		changed := 0
		for i := 0; i < n; i++ {
			ei := decision(i) - target[i]
			if !((target[i]*ei < -s.tol && alpha[i] < s.C) || (target[i]*ei > s.tol && alpha[i] > 0)) {
				continue
			}
			j := rng.Intn(n - 1)
			if j >= i {
				j++
			}
			ej := decision(j) - target[j]

			ai, aj := alpha[i], alpha[j]
			var lo, hi float64
			if target[i] != target[j] {
				lo, hi = math.Max(0, aj-ai), math.Min(s.C, s.C+aj-ai)
			} else {
				lo, hi = math.Max(0, ai+aj-s.C), math.Min(s.C, ai+aj)
			}
			if lo == hi {
				continue
			}
			eta := 2*gram.At(i, j) - gram.At(i, i) - gram.At(j, j)
			if eta >= 0 {
				continue
			}

			alpha[j] = math.Min(hi, math.Max(lo, aj-target[j]*(ei-ej)/eta))
			if math.Abs(alpha[j]-aj) < 1e-5 {
				alpha[j] = aj
				continue
			}
			alpha[i] = ai + target[i]*target[j]*(aj-alpha[j])

			b1 := b - ei - target[i]*(alpha[i]-ai)*gram.At(i, i) - target[j]*(alpha[j]-aj)*gram.At(i, j)
			b2 := b - ej - target[i]*(alpha[i]-ai)*gram.At(i, j) - target[j]*(alpha[j]-aj)*gram.At(j, j)
			switch {
			case alpha[i] > 0 && alpha[i] < s.C:
				b = b1
			case alpha[j] > 0 && alpha[j] < s.C:
				b = b2
			default:
				b = (b1 + b2) / 2
			}
			changed++
		}
		if changed == 0 {
			converged = true
			sweeps++
			break
		}
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("SVC", sweeps,
			"the SMO solver did not reach the KKT tolerance; consider scaling the data or raising max_iter"))
	}

	m := Machine{Intercept: b, NIter: sweeps}
	for i, a := range alpha {
		if a > 1e-8 {
			m.SupportVectors = append(m.SupportVectors, rows[i])
			m.DualCoef = append(m.DualCoef, a*target[i])
		}
	}
	return m
}

func (s *SVC) resolveGamma(X mat.Matrix) (float64, error) {
	_, nFeatures := X.Dims()
	switch s.gamma {
	case "scale":
		v := stat.Variance(mat.DenseCopyOf(X).RawMatrix().Data, nil)
		// 母分散に揃える
		r, c := X.Dims()
		n := float64(r * c)
		if n > 1 {
			v *= (n - 1) / n
		}
		if v <= 0 {
			return 1.0, nil
		}
		return 1 / (float64(nFeatures) * v), nil
	case "auto":
		return 1 / float64(nFeatures), nil
	}
	g, err := model.FloatParam("gamma", s.gamma)
	if err != nil {
		return 0, err
	}
	if g <= 0 {
		return 0, errors.NewValidationError("gamma", "must be positive", s.gamma)
	}
	return g, nil
}

func (s *SVC) kernelFunc(a, b []float64) float64 {
	switch s.kernel {
	case "linear":
		return floats.Dot(a, b)
	case "poly":
		return math.Pow(s.Gamma_*floats.Dot(a, b)+s.coef0, float64(s.degree))
	case "sigmoid":
		return math.Tanh(s.Gamma_*floats.Dot(a, b) + s.coef0)
	}
	d := floats.Distance(a, b, 2)
	return math.Exp(-s.Gamma_ * d * d)
}

// DecisionFunction returns one column per machine.
func (s *SVC) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := s.State.RequireFitted("SVC", "DecisionFunction"); err != nil {
		return nil, err
	}
	nSamples, nFeatures := X.Dims()
	if err := s.State.CheckFeatures("SVC.DecisionFunction", nFeatures); err != nil {
		return nil, err
	}
	scores := mat.NewDense(nSamples, len(s.Machines_), nil)
	row := make([]float64, nFeatures)
	for i := 0; i < nSamples; i++ {
		mat.Row(row, i, X)
		for k, m := range s.Machines_ {
			f := m.Intercept
			for v, sv := range m.SupportVectors {
				f += m.DualCoef[v] * s.kernelFunc(sv, row)
			}
			scores.Set(i, k, f)
		}
	}
	return scores, nil
}

// Predict returns the sign of the binary decision, or the arg max over the
// one-vs-rest machines.
func (s *SVC) Predict(X mat.Matrix) (mat.Matrix, error) {
	scores, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	nSamples, nMachines := scores.Dims()
	out := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		if nMachines == 1 {
			cls := s.Classes_[0]
			if scores.At(i, 0) > 0 {
				cls = s.Classes_[1]
			}
			out.Set(i, 0, float64(cls))
			continue
		}
		out.Set(i, 0, float64(s.Classes_[floats.MaxIdx(scores.RawRowView(i))]))
	}
	return out, nil
}

// NSupport returns the number of support vectors per machine.
func (s *SVC) NSupport() []int {
	n := make([]int, len(s.Machines_))
	for k, m := range s.Machines_ {
		n[k] = len(m.SupportVectors)
	}
	return n
}

// GetParams returns the model hyperparameters
func (s *SVC) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"C":            s.C,
		"kernel":       s.kernel,
		"gamma":        s.gamma,
		"degree":       s.degree,
		"coef0":        s.coef0,
		"tol":          s.tol,
		"max_iter":     s.maxIter,
		"random_state": s.randomState,
	}
}

// SetParams sets the model hyperparameters
func (s *SVC) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "C":
			s.C, err = model.FloatParam(key, value)
		case "kernel":
			s.kernel, err = model.StringParam(key, value)
		case "gamma":
			switch g := value.(type) {
			case string:
				s.gamma = g
			default:
				var f float64
				f, err = model.FloatParam(key, value)
				s.gamma = fmt.Sprint(f)
			}
		case "degree":
			s.degree, err = model.IntParam(key, value)
		case "coef0":
			s.coef0, err = model.FloatParam(key, value)
		case "tol":
			s.tol, err = model.FloatParam(key, value)
		case "max_iter":
			s.maxIter, err = model.IntParam(key, value)
		case "random_state":
			var seed int
			seed, err = model.IntParam(key, value)
			s.randomState = int64(seed)
		case "probability":
			// 受け付けるが確率推定は行わない
			_, err = model.BoolParam(key, value)
		default:
			err = errors.NewValidationError(key, "unknown parameter for SVC", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func classesOf(y mat.Matrix) []int {
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

// svcState has the fields of SVC but not its gob methods.
type svcState SVC

// GobEncode saves the hyperparameters together with the learned state.
func (s *SVC) GobEncode() ([]byte, error) {
	return model.ExportWeights("SVC", s.GetParams(), (*svcState)(s))
}

// GobDecode restores a model written by GobEncode.
func (s *SVC) GobDecode(data []byte) error {
	params, err := model.ImportWeights(data, "SVC", (*svcState)(s))
	if err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	return s.SetParams(params)
}
