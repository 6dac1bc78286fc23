package preprocessing

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})

	scaler := NewStandardScalerDefault()
	Xs, err := scaler.FitTransform(X)
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(scaler.Mean[0]-2.5) > 1e-12 {
		t.Errorf("Mean[0] = %v, want 2.5", scaler.Mean[0])
	}
	// 定数列はスケール1のまま
	if scaler.Scale[1] != 1 {
		t.Errorf("Scale[1] = %v, want 1 for a constant column", scaler.Scale[1])
	}

	var colSum float64
	for i := 0; i < 4; i++ {
		colSum += Xs.At(i, 0)
	}
	if math.Abs(colSum) > 1e-12 {
		t.Errorf("standardized column should have zero mean, sum = %v", colSum)
	}

	back, err := scaler.InverseTransform(Xs)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(back, X, 1e-12) {
		t.Errorf("InverseTransform did not restore X: %v", mat.Formatted(back))
	}

	if _, err := scaler.Transform(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("expected DimensionError for wrong feature count")
	}
}

func TestScalerNotFitted(t *testing.T) {
	for _, tr := range []interface {
		Transform(mat.Matrix) (mat.Matrix, error)
	}{NewStandardScalerDefault(), NewMinMaxScalerDefault()} {
		_, err := tr.Transform(mat.NewDense(1, 1, nil))
		var nf *errors.NotFittedError
		if !errors.As(err, &nf) {
			t.Errorf("%T: expected NotFittedError, got %v", tr, err)
		}
	}
}

func TestMinMaxScaler(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{2, 4, 6})
	scaler := NewMinMaxScalerDefault()
	Xs, err := scaler.FitTransform(X)
	if err != nil {
		t.Fatal(err)
	}
	want := mat.NewDense(3, 1, []float64{0, 0.5, 1})
	if !mat.EqualApprox(Xs, want, 1e-12) {
		t.Errorf("got %v", mat.Formatted(Xs))
	}

	if err := NewMinMaxScaler([2]float64{1, 0}).Fit(X); err == nil {
		t.Error("expected error for inverted feature range")
	}
}

func TestLabelEncoder(t *testing.T) {
	tests := []struct {
		name    string
		labels  []string
		classes []string
		encoded []float64
	}{
		{
			name:    "numeric labels sort numerically",
			labels:  []string{"10", "2", "1", "2"},
			classes: []string{"1", "2", "10"},
			encoded: []float64{2, 1, 0, 1},
		},
		{
			name:    "text labels sort lexically",
			labels:  []string{"Presence", "Absence", "Presence"},
			classes: []string{"Absence", "Presence"},
			encoded: []float64{1, 0, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewLabelEncoder()
			got, err := enc.FitTransform(tt.labels)
			if err != nil {
				t.Fatal(err)
			}
			if len(enc.Classes_) != len(tt.classes) {
				t.Fatalf("Classes_ = %v, want %v", enc.Classes_, tt.classes)
			}
			for i := range tt.classes {
				if enc.Classes_[i] != tt.classes[i] {
					t.Errorf("Classes_ = %v, want %v", enc.Classes_, tt.classes)
				}
			}
			for i := range tt.encoded {
				if got[i] != tt.encoded[i] {
					t.Errorf("encoded = %v, want %v", got, tt.encoded)
					break
				}
			}

			back, err := enc.InverseTransform(got)
			if err != nil {
				t.Fatal(err)
			}
			for i := range back {
				if back[i] != tt.labels[i] {
					t.Errorf("InverseTransform = %v, want %v", back, tt.labels)
				}
			}
		})
	}

	enc := NewLabelEncoder()
	_ = enc.Fit([]string{"a"})
	if _, err := enc.Transform([]string{"b"}); err == nil {
		t.Error("expected error for unseen label")
	}
}

// meanThreshold predicts 1 when the first feature is above zero.
type meanThreshold struct {
	fitted bool
}

func (m *meanThreshold) Fit(X, y mat.Matrix) error { m.fitted = true; return nil }

func (m *meanThreshold) Predict(X mat.Matrix) (mat.Matrix, error) {
	r, _ := X.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		if X.At(i, 0) > 0 {
			out.Set(i, 0, 1)
		}
	}
	return out, nil
}

func TestPipelineScalesBeforeClassifier(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{10, 20, 30, 40})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})

	scaler, err := NewScaler("standard")
	if err != nil {
		t.Fatal(err)
	}
	clf := &meanThreshold{}
	p := NewPipeline("standard", scaler, clf)
	if err := p.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	pred, err := p.Predict(X)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(pred, y) {
		t.Errorf("pipeline predictions = %v, want %v", mat.Formatted(pred), mat.Formatted(y))
	}
	if p.GetParams()["scaler"] != "standard" {
		t.Errorf("scaler param not reported: %v", p.GetParams())
	}

	if _, err := NewScaler("robust"); err == nil {
		t.Error("expected error for unknown scaler")
	}
}
