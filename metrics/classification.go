package metrics

import (
	"math"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Average selects how per-class scores are combined.
type Average int

const (
	// AverageWeighted はクラスごとのサポート数で重み付けした平均
	AverageWeighted Average = iota
	// AverageMacro は出現したクラスの単純平均
	AverageMacro
)

// String returns the sklearn name of the averaging mode.
func (a Average) String() string {
	switch a {
	case AverageWeighted:
		return "weighted"
	case AverageMacro:
		return "macro"
	}
	return "unknown"
}

func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// Accuracy は正解率（予測ラベルが正解と一致した割合）を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ColumnVector は n×1 行列を VecDense に変換する
func ColumnVector(op string, m mat.Matrix) (*mat.VecDense, error) {
	if m == nil {
		return nil, errors.NewValueError(op, "empty matrix")
	}
	if v, ok := m.(*mat.VecDense); ok {
		return v, nil
	}
	r, c := m.Dims()
	if c != 1 {
		return nil, errors.NewValueError(op, "must be a column vector (n×1 matrix)")
	}
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v, nil
}

// classIndex converts a label value to a class index in [0, nClasses).
func classIndex(op string, v float64, nClasses int) (int, error) {
	if v != math.Trunc(v) || v < 0 || int(v) >= nClasses {
		return 0, errors.NewValueError(op, "label is not a class index in range")
	}
	return int(v), nil
}

// inferClasses returns max(label)+1 over both vectors.
func inferClasses(yTrue, yPred *mat.VecDense) int {
	maxLabel := 0.0
	for i := 0; i < yTrue.Len(); i++ {
		maxLabel = math.Max(maxLabel, math.Max(yTrue.AtVec(i), yPred.AtVec(i)))
	}
	return int(maxLabel) + 1
}

// ConfusionMatrix は混同行列 C を返す。C[i][j] は真のクラス i を j と予測した件数。
// nClasses <= 0 の場合はラベルの最大値から推定する。
func ConfusionMatrix(yTrue, yPred *mat.VecDense, nClasses int) (*mat.Dense, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if nClasses <= 0 {
		nClasses = inferClasses(yTrue, yPred)
	}

	cm := mat.NewDense(nClasses, nClasses, nil)
	for i := 0; i < n; i++ {
		t, err := classIndex("ConfusionMatrix", yTrue.AtVec(i), nClasses)
		if err != nil {
			return nil, err
		}
		p, err := classIndex("ConfusionMatrix", yPred.AtVec(i), nClasses)
		if err != nil {
			return nil, err
		}
		cm.Set(t, p, cm.At(t, p)+1)
	}
	return cm, nil
}

// ClassScores holds per-class precision, recall, F1 and support.
type ClassScores struct {
	Precision []float64
	Recall    []float64
	F1        []float64
	Support   []int
	Predicted []int
}

// PrecisionRecallFScorePerClass はクラスごとの適合率・再現率・F1を計算する。
//
// ゼロ除算の扱い: 予測が一件もないクラスの適合率は 0、真のサンプルが
// 一件もないクラスの再現率は 0（サポート 0 なので重みも 0）、
// 適合率+再現率が 0 のときの F1 は 0。いずれも UndefinedMetricWarning を
// errors.Warn で通知し、エラーにはしない。
func PrecisionRecallFScorePerClass(yTrue, yPred *mat.VecDense, nClasses int) (*ClassScores, error) {
	cm, err := ConfusionMatrix(yTrue, yPred, nClasses)
	if err != nil {
		return nil, err
	}
	k, _ := cm.Dims()

	s := &ClassScores{
		Precision: make([]float64, k),
		Recall:    make([]float64, k),
		F1:        make([]float64, k),
		Support:   make([]int, k),
		Predicted: make([]int, k),
	}
	var noPredicted, noTrue bool
	for c := 0; c < k; c++ {
		tp := cm.At(c, c)
		support := mat.Sum(cm.RowView(c))
		predicted := mat.Sum(cm.ColView(c))
		s.Support[c] = int(support)
		s.Predicted[c] = int(predicted)

		if predicted == 0 {
			noPredicted = noPredicted || support > 0
		} else {
			s.Precision[c] = tp / predicted
		}
		if support == 0 {
			noTrue = noTrue || predicted > 0
		} else {
			s.Recall[c] = tp / support
		}
		if p, r := s.Precision[c], s.Recall[c]; p+r > 0 {
			s.F1[c] = 2 * p * r / (p + r)
		}
	}

	if noPredicted {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "labels with no predicted samples", 0))
	}
	if noTrue {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "labels with no true samples", 0))
	}
	return s, nil
}

// average combines per-class values. Classes that never occur in either
// vector take no part in the macro average.
func (s *ClassScores) average(values []float64, avg Average) float64 {
	var sum, weight float64
	for c, v := range values {
		var w float64
		switch avg {
		case AverageWeighted:
			w = float64(s.Support[c])
		case AverageMacro:
			if s.Support[c] > 0 || s.Predicted[c] > 0 {
				w = 1
			}
		}
		sum += w * v
		weight += w
	}
	return errors.SafeDivide(sum, weight)
}

// PrecisionRecallFScore は平均化した適合率・再現率・F1を返す
func PrecisionRecallFScore(yTrue, yPred *mat.VecDense, nClasses int, avg Average) (precision, recall, f1 float64, err error) {
	s, err := PrecisionRecallFScorePerClass(yTrue, yPred, nClasses)
	if err != nil {
		return 0, 0, 0, err
	}
	return s.average(s.Precision, avg), s.average(s.Recall, avg), s.average(s.F1, avg), nil
}
