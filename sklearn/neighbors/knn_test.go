package neighbors

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func TestKNeighborsClassifier_Predict(t *testing.T) {
	X := mat.NewDense(6, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		5, 5,
		5, 6,
		6, 5,
	})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	tests := []struct {
		name    string
		opts    []Option
		query   []float64
		want    float64
		wantP1  float64
		tolProb float64
	}{
		{"uniform k=3 near class 0", []Option{WithNNeighbors(3)}, []float64{0.2, 0.2}, 0, 0, 0},
		{"uniform k=3 near class 1", []Option{WithNNeighbors(3)}, []float64{5.5, 5.5}, 1, 1, 0},
		{"uniform k=5 mixed", []Option{WithNNeighbors(5)}, []float64{0, 0}, 0, 2.0 / 5.0, 1e-12},
		{"manhattan", []Option{WithNNeighbors(3), WithP(1)}, []float64{6, 6}, 1, 1, 0},
		{"distance exact hit", []Option{WithNNeighbors(5), WithWeights("distance")}, []float64{5, 5}, 1, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			knn := NewKNeighborsClassifier(tt.opts...)
			if err := knn.Fit(X, y); err != nil {
				t.Fatal(err)
			}
			q := mat.NewDense(1, 2, tt.query)
			pred, err := knn.Predict(q)
			if err != nil {
				t.Fatal(err)
			}
			if pred.At(0, 0) != tt.want {
				t.Errorf("Predict = %v, want %v", pred.At(0, 0), tt.want)
			}
			probas, err := knn.PredictProba(q)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(probas.At(0, 1)-tt.wantP1) > tt.tolProb {
				t.Errorf("P(class 1) = %v, want %v", probas.At(0, 1), tt.wantP1)
			}
		})
	}
}

func TestKNeighborsClassifier_ParallelMatchesSequential(t *testing.T) {
	Xtrain := mat.NewDense(10, 1, []float64{0, 1, 2, 3, 4, 10, 11, 12, 13, 14})
	ytrain := mat.NewDense(10, 1, []float64{0, 0, 0, 0, 0, 1, 1, 1, 1, 1})
	knn := NewKNeighborsClassifier(WithNNeighbors(3))
	if err := knn.Fit(Xtrain, ytrain); err != nil {
		t.Fatal(err)
	}

	n := parallelThreshold * 3
	Xq := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		Xq.Set(i, 0, float64(i%15))
	}
	pred, err := knn.Predict(Xq)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		want := 0.0
		if i%15 >= 8 {
			want = 1
		}
		if pred.At(i, 0) != want {
			t.Fatalf("row %d (x=%d): got %v, want %v", i, i%15, pred.At(i, 0), want)
		}
	}
}

func TestKNeighborsClassifier_Errors(t *testing.T) {
	knn := NewKNeighborsClassifier()
	_, err := knn.Predict(mat.NewDense(1, 1, nil))
	var nf *errors.NotFittedError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFittedError, got %v", err)
	}

	X := mat.NewDense(3, 1, []float64{0, 1, 2})
	y := mat.NewDense(3, 1, []float64{0, 1, 1})
	if err := knn.Fit(X, y); err == nil {
		t.Error("expected error when n_neighbors exceeds the sample count")
	}
	if err := NewKNeighborsClassifier(WithNNeighbors(1), WithWeights("gaussian")).Fit(X, y); err == nil {
		t.Error("expected error for unknown weights")
	}

	if err := knn.SetParams(map[string]interface{}{"n_neighbors": 1.0}); err != nil {
		t.Fatalf("n_neighbors from YAML float: %v", err)
	}
	if err := knn.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	_, err = knn.Predict(mat.NewDense(1, 2, nil))
	var de *errors.DimensionError
	if !errors.As(err, &de) {
		t.Errorf("expected DimensionError, got %v", err)
	}
}
