package ensemble

import (
	"math"
	"math/rand"
	"testing"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// blobs returns nPerClass points around (3k, 3k) for each class k.
func blobs(nPerClass, nClasses int, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	n := nPerClass * nClasses
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for k := 0; k < nClasses; k++ {
		for i := 0; i < nPerClass; i++ {
			row := k*nPerClass + i
			X.Set(row, 0, 3*float64(k)+rng.NormFloat64()*0.3)
			X.Set(row, 1, 3*float64(k)+rng.NormFloat64()*0.3)
			y.Set(row, 0, float64(k))
		}
	}
	return X, y
}

func accuracy(t *testing.T, pred mat.Matrix, y mat.Matrix) float64 {
	t.Helper()
	n, _ := y.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

func TestRandomForestClassifier_Blobs(t *testing.T) {
	tests := []struct {
		name     string
		nClasses int
	}{
		{"binary", 2},
		{"multiclass", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			X, y := blobs(20, tt.nClasses, 1)
			rf := NewRandomForestClassifier(WithNEstimators(15), WithForestRandomState(42))
			if err := rf.Fit(X, y); err != nil {
				t.Fatalf("Fit failed: %v", err)
			}
			if len(rf.Estimators_) != 15 {
				t.Errorf("expected 15 trees, got %d", len(rf.Estimators_))
			}

			pred, err := rf.Predict(X)
			if err != nil {
				t.Fatal(err)
			}
			if acc := accuracy(t, pred, y); acc < 0.95 {
				t.Errorf("training accuracy %v < 0.95", acc)
			}

			probas, err := rf.PredictProba(X)
			if err != nil {
				t.Fatal(err)
			}
			rows, cols := probas.Dims()
			if cols != tt.nClasses {
				t.Fatalf("expected %d probability columns, got %d", tt.nClasses, cols)
			}
			for i := 0; i < rows; i++ {
				sum := mat.Sum(probas.(*mat.Dense).RowView(i))
				if math.Abs(sum-1) > 1e-9 {
					t.Errorf("row %d probabilities sum to %v", i, sum)
				}
			}
		})
	}
}

func TestRandomForestClassifier_Reproducible(t *testing.T) {
	X, y := blobs(15, 2, 7)
	fit := func() mat.Matrix {
		rf := NewRandomForestClassifier(WithNEstimators(10), WithForestRandomState(42))
		if err := rf.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		p, err := rf.PredictProba(X)
		if err != nil {
			t.Fatal(err)
		}
		return p
	}
	if !mat.Equal(fit(), fit()) {
		t.Error("same random_state should give identical probabilities")
	}
}

func TestRandomForestClassifier_FeatureImportances(t *testing.T) {
	X, y := blobs(20, 2, 3)
	rf := NewRandomForestClassifier(WithNEstimators(10), WithForestRandomState(1))
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, v := range rf.FeatureImportances_ {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("importances should sum to 1, got %v", sum)
	}
}

func TestRandomForestClassifier_Params(t *testing.T) {
	rf := NewRandomForestClassifier()
	err := rf.SetParams(map[string]interface{}{
		"n_estimators": 100,
		"random_state": 42,
		"max_features": "log2",
	})
	if err != nil {
		t.Fatal(err)
	}
	params := rf.GetParams()
	if params["n_estimators"] != 100 || params["random_state"] != int64(42) || params["max_features"] != "log2" {
		t.Errorf("unexpected params %v", params)
	}
	if err := rf.SetParams(map[string]interface{}{"oob_score": true}); err == nil {
		t.Error("expected error for unknown parameter")
	}
	if err := NewRandomForestClassifier(WithNEstimators(0)).Fit(blobs(2, 2, 1)); err == nil {
		t.Error("expected error for n_estimators=0")
	}
}

func TestGradientBoostingClassifier_Blobs(t *testing.T) {
	tests := []struct {
		name     string
		nClasses int
	}{
		{"binary", 2},
		{"multiclass", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			X, y := blobs(20, tt.nClasses, 2)
			gb := NewGradientBoostingClassifier(WithGBNEstimators(20), WithGBRandomState(42))
			if err := gb.Fit(X, y); err != nil {
				t.Fatalf("Fit failed: %v", err)
			}

			pred, err := gb.Predict(X)
			if err != nil {
				t.Fatal(err)
			}
			if acc := accuracy(t, pred, y); acc < 0.95 {
				t.Errorf("training accuracy %v < 0.95", acc)
			}

			if n := len(gb.TrainLoss_); n != 20 || gb.TrainLoss_[n-1] >= gb.TrainLoss_[0] {
				t.Errorf("train loss should shrink over the stages: %v", gb.TrainLoss_)
			}

			probas, err := gb.PredictProba(X)
			if err != nil {
				t.Fatal(err)
			}
			if _, cols := probas.Dims(); cols != tt.nClasses {
				t.Errorf("expected %d probability columns, got %d", tt.nClasses, cols)
			}
		})
	}
}

func TestGradientBoostingClassifier_InitScoreIsLogOdds(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 1, 1, 1})
	gb := NewGradientBoostingClassifier(WithGBNEstimators(1))
	if err := gb.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if want := math.Log(3); math.Abs(gb.InitScore_[0]-want) > 1e-12 {
		t.Errorf("InitScore_ = %v, want %v", gb.InitScore_[0], want)
	}
}

func TestGradientBoostingClassifier_Errors(t *testing.T) {
	gb := NewGradientBoostingClassifier()
	_, err := gb.Predict(mat.NewDense(1, 1, nil))
	var nf *errors.NotFittedError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFittedError, got %v", err)
	}

	X := mat.NewDense(2, 1, []float64{0, 1})
	if err := gb.Fit(X, mat.NewDense(2, 1, []float64{1, 1})); err == nil {
		t.Error("expected error for a single class")
	}
	if err := NewGradientBoostingClassifier(WithLearningRate(0)).Fit(X, mat.NewDense(2, 1, []float64{0, 1})); err == nil {
		t.Error("expected error for learning_rate=0")
	}
	if err := gb.SetParams(map[string]interface{}{"learning_rate": "fast"}); err == nil {
		t.Error("expected error for non-numeric learning_rate")
	}
}

func TestGradientBoostingClassifier_Subsample(t *testing.T) {
	X, y := blobs(20, 2, 5)
	gb := NewGradientBoostingClassifier(WithGBNEstimators(10), WithSubsample(0.5), WithGBRandomState(3))
	if err := gb.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	pred, err := gb.Predict(X)
	if err != nil {
		t.Fatal(err)
	}
	if acc := accuracy(t, pred, y); acc < 0.9 {
		t.Errorf("training accuracy %v < 0.9", acc)
	}
}
