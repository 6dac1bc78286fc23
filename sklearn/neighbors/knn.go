// Package neighbors implements the k-nearest neighbours classifier.
package neighbors

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/core/parallel"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// 並列化する最小の予測行数
const parallelThreshold = 64

// KNeighborsClassifier は学習データを保持し、近傍の多数決で分類する
type KNeighborsClassifier struct {
	State *model.StateManager

	nNeighbors int
	weights    string // "uniform" または "distance"
	p          int    // Minkowski 距離の次数 (1: マンハッタン, 2: ユークリッド)

	XFit_    *mat.Dense
	YFit_    []int // index into Classes_
	Classes_ []int
}

// Option is a functional option for KNeighborsClassifier
type Option func(*KNeighborsClassifier)

// WithNNeighbors sets k.
func WithNNeighbors(k int) Option {
	return func(knn *KNeighborsClassifier) { knn.nNeighbors = k }
}

// WithWeights sets the vote weighting: "uniform" or "distance".
func WithWeights(w string) Option {
	return func(knn *KNeighborsClassifier) { knn.weights = w }
}

// WithP sets the Minkowski power.
func WithP(p int) Option {
	return func(knn *KNeighborsClassifier) { knn.p = p }
}

// NewKNeighborsClassifier creates a classifier with k=5, uniform weights and
// Euclidean distance.
func NewKNeighborsClassifier(opts ...Option) *KNeighborsClassifier {
	knn := &KNeighborsClassifier{
		State:      model.NewStateManager(),
		nNeighbors: 5,
		weights:    "uniform",
		p:          2,
	}
	for _, opt := range opts {
		opt(knn)
	}
	return knn
}

// Fit stores a copy of the training data.
func (knn *KNeighborsClassifier) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("KNeighborsClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows, _ := y.Dims(); yRows != nSamples {
		return errors.NewDimensionError("KNeighborsClassifier.Fit", nSamples, yRows, 0)
	}
	if err := errors.CheckMatrix("KNeighborsClassifier.Fit", X); err != nil {
		return err
	}
	if knn.nNeighbors < 1 {
		return errors.NewValidationError("n_neighbors", "must be at least 1", knn.nNeighbors)
	}
	if knn.nNeighbors > nSamples {
		return errors.NewValueError("KNeighborsClassifier.Fit", "n_neighbors must not exceed the number of samples")
	}
	if knn.weights != "uniform" && knn.weights != "distance" {
		return errors.NewValidationError("weights", "must be uniform or distance", knn.weights)
	}
	if knn.p < 1 {
		return errors.NewValidationError("p", "must be at least 1", knn.p)
	}

	knn.XFit_ = mat.DenseCopyOf(X)
	knn.Classes_ = nil
	seen := make(map[int]struct{})
	for i := 0; i < nSamples; i++ {
		c := int(y.At(i, 0))
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			knn.Classes_ = append(knn.Classes_, c)
		}
	}
	sort.Ints(knn.Classes_)
	index := make(map[int]int, len(knn.Classes_))
	for k, c := range knn.Classes_ {
		index[c] = k
	}
	knn.YFit_ = make([]int, nSamples)
	for i := range knn.YFit_ {
		knn.YFit_[i] = index[int(y.At(i, 0))]
	}

	knn.State.SetDimensions(nFeatures, nSamples)
	knn.State.SetFitted()
	return nil
}

// PredictProba returns the (weighted) share of each class among the k
// nearest training rows.
func (knn *KNeighborsClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := knn.State.RequireFitted("KNeighborsClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	nSamples, nFeatures := X.Dims()
	if err := knn.State.CheckFeatures("KNeighborsClassifier.PredictProba", nFeatures); err != nil {
		return nil, err
	}

	probas := mat.NewDense(nSamples, len(knn.Classes_), nil)
	err := parallel.ParallelizeWithThreshold(nSamples, parallelThreshold, func(start, end int) error {
		row := make([]float64, nFeatures)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			probas.SetRow(i, knn.vote(row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return probas, nil
}

// Predict returns the majority class; ties go to the smallest label.
func (knn *KNeighborsClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := knn.PredictProba(X)
	if err != nil {
		return nil, err
	}
	nSamples, _ := probas.Dims()
	out := mat.NewDense(nSamples, 1, nil)
	dense := probas.(*mat.Dense)
	for i := 0; i < nSamples; i++ {
		out.Set(i, 0, float64(knn.Classes_[floats.MaxIdx(dense.RawRowView(i))]))
	}
	return out, nil
}

// Kneighbors returns the indices of the k nearest training rows of x,
// nearest first, and their distances.
func (knn *KNeighborsClassifier) Kneighbors(x []float64) ([]int, []float64) {
	nTrain, _ := knn.XFit_.Dims()
	idx := make([]int, nTrain)
	dist := make([]float64, nTrain)
	for i := range idx {
		idx[i] = i
		dist[i] = floats.Distance(x, knn.XFit_.RawRowView(i), float64(knn.p))
	}
	// 同距離は学習データの順序を保つ
	sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })

	k := knn.nNeighbors
	nearest := idx[:k]
	d := make([]float64, k)
	for j, i := range nearest {
		d[j] = dist[i]
	}
	return nearest, d
}

func (knn *KNeighborsClassifier) vote(x []float64) []float64 {
	nearest, dist := knn.Kneighbors(x)
	votes := make([]float64, len(knn.Classes_))

	if knn.weights == "distance" {
		// 距離0の近傍があればそれらだけで決める
		exact := false
		for j, i := range nearest {
			if dist[j] == 0 {
				votes[knn.YFit_[i]]++
				exact = true
			}
		}
		if !exact {
			for j, i := range nearest {
				votes[knn.YFit_[i]] += 1 / dist[j]
			}
		}
	} else {
		for _, i := range nearest {
			votes[knn.YFit_[i]]++
		}
	}

	total := floats.Sum(votes)
	if total == 0 || math.IsInf(total, 0) {
		return votes
	}
	floats.Scale(1/total, votes)
	return votes
}

// GetParams returns the model hyperparameters
func (knn *KNeighborsClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_neighbors": knn.nNeighbors,
		"weights":     knn.weights,
		"p":           knn.p,
	}
}

// SetParams sets the model hyperparameters
func (knn *KNeighborsClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_neighbors":
			knn.nNeighbors, err = model.IntParam(key, value)
		case "weights":
			knn.weights, err = model.StringParam(key, value)
		case "p":
			knn.p, err = model.IntParam(key, value)
		default:
			err = errors.NewValidationError(key, "unknown parameter for KNeighborsClassifier", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// knnState has the fields of KNeighborsClassifier but not its gob methods.
type knnState KNeighborsClassifier

// GobEncode saves the hyperparameters together with the learned state.
func (knn *KNeighborsClassifier) GobEncode() ([]byte, error) {
	return model.ExportWeights("KNeighborsClassifier", knn.GetParams(), (*knnState)(knn))
}

// GobDecode restores a model written by GobEncode.
func (knn *KNeighborsClassifier) GobDecode(data []byte) error {
	params, err := model.ImportWeights(data, "KNeighborsClassifier", (*knnState)(knn))
	if err != nil {
		return err
	}
	if knn.State == nil {
		knn.State = model.NewStateManager()
	}
	return knn.SetParams(params)
}
