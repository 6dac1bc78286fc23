package svm

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func TestSVC_Separable(t *testing.T) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		4, 4,
		4, 5,
		5, 4,
		5, 5,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1})

	for _, kernel := range []string{"rbf", "linear"} {
		t.Run(kernel, func(t *testing.T) {
			svc := NewSVC(WithKernel(kernel), WithRandomState(42))
			if err := svc.Fit(X, y); err != nil {
				t.Fatal(err)
			}
			pred, err := svc.Predict(X)
			if err != nil {
				t.Fatal(err)
			}
			if !mat.Equal(pred, y) {
				t.Errorf("predictions = %v, want %v", mat.Formatted(pred.T()), mat.Formatted(y.T()))
			}
			if n := svc.NSupport(); len(n) != 1 || n[0] == 0 {
				t.Errorf("expected a single machine with support vectors, got %v", n)
			}
		})
	}
}

func TestSVC_Multiclass(t *testing.T) {
	X := mat.NewDense(9, 1, []float64{0, 0.5, 1, 5, 5.5, 6, 10, 10.5, 11})
	y := mat.NewDense(9, 1, []float64{0, 0, 0, 1, 1, 1, 2, 2, 2})

	svc := NewSVC(WithC(10), WithGamma("1"), WithRandomState(1))
	if err := svc.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if len(svc.Machines_) != 3 {
		t.Fatalf("expected 3 one-vs-rest machines, got %d", len(svc.Machines_))
	}
	pred, err := svc.Predict(mat.NewDense(3, 1, []float64{0.2, 5.2, 10.8}))
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 1, 2}
	for i, w := range want {
		if pred.At(i, 0) != w {
			t.Errorf("row %d: got %v, want %v", i, pred.At(i, 0), w)
		}
	}
}

func TestSVC_GammaScale(t *testing.T) {
	// 母分散 = 1.25, 特徴量 2 → gamma = 1 / 2.5
	X := mat.NewDense(2, 2, []float64{0, 1, 2, 3})
	y := mat.NewDense(2, 1, []float64{0, 1})
	svc := NewSVC()
	if err := svc.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if math.Abs(svc.Gamma_-0.4) > 1e-12 {
		t.Errorf("Gamma_ = %v, want 0.4", svc.Gamma_)
	}

	if err := svc.SetParams(map[string]interface{}{"gamma": 0.5}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if svc.Gamma_ != 0.5 {
		t.Errorf("Gamma_ = %v, want 0.5", svc.Gamma_)
	}
}

func TestSVC_ConvergenceWarning(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	// 最初の掃引では必ず乗数が動くので 1 回では収束しない
	X := mat.NewDense(2, 1, []float64{0, 1})
	y := mat.NewDense(2, 1, []float64{0, 1})
	svc := NewSVC(WithMaxIter(1), WithRandomState(3))
	if err := svc.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range warnings {
		var cw *errors.ConvergenceWarning
		if errors.As(w, &cw) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a ConvergenceWarning, got %v", warnings)
	}
}

func TestSVC_Errors(t *testing.T) {
	svc := NewSVC()
	_, err := svc.Predict(mat.NewDense(1, 1, nil))
	var nf *errors.NotFittedError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFittedError, got %v", err)
	}

	X := mat.NewDense(2, 1, []float64{0, 1})
	y := mat.NewDense(2, 1, []float64{0, 1})
	if err := NewSVC(WithKernel("laplacian")).Fit(X, y); err == nil {
		t.Error("expected error for unknown kernel")
	}
	if err := NewSVC(WithC(0)).Fit(X, y); err == nil {
		t.Error("expected error for C=0")
	}
	if err := NewSVC(WithGamma("wide")).Fit(X, y); err == nil {
		t.Error("expected error for non-numeric gamma")
	}
	if err := svc.SetParams(map[string]interface{}{"shrinking": true}); err == nil {
		t.Error("expected error for unknown parameter")
	}
}
