package metrics

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{
			name:  "Perfect accuracy",
			yTrue: []float64{0, 1, 2, 1, 0},
			yPred: []float64{0, 1, 2, 1, 0},
			want:  1.0,
		},
		{
			name:  "80% accuracy",
			yTrue: []float64{0, 1, 2, 1, 0},
			yPred: []float64{0, 1, 1, 1, 0},
			want:  0.8,
		},
		{
			name:  "Zero accuracy",
			yTrue: []float64{0, 0, 0},
			yPred: []float64{1, 1, 1},
			want:  0.0,
		},
		{
			name:    "Empty vectors",
			yTrue:   []float64{},
			yPred:   []float64{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var yTrue, yPred *mat.VecDense
			if len(tt.yTrue) > 0 {
				yTrue = mat.NewVecDense(len(tt.yTrue), tt.yTrue)
			}
			if len(tt.yPred) > 0 {
				yPred = mat.NewVecDense(len(tt.yPred), tt.yPred)
			}

			got, err := Accuracy(yTrue, yPred)
			if (err != nil) != tt.wantErr {
				t.Errorf("Accuracy() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Accuracy() = %v, want %v", got, tt.want)
			}
		})
	}
}


func vec(v ...float64) *mat.VecDense { return mat.NewVecDense(len(v), v) }

func TestConfusionMatrix(t *testing.T) {
	cm, err := ConfusionMatrix(vec(0, 0, 1, 1, 2), vec(0, 1, 1, 1, 0), 3)
	if err != nil {
		t.Fatal(err)
	}
	want := mat.NewDense(3, 3, []float64{
		1, 1, 0,
		0, 2, 0,
		1, 0, 0,
	})
	if !mat.Equal(cm, want) {
		t.Errorf("ConfusionMatrix = %v, want %v", mat.Formatted(cm), mat.Formatted(want))
	}

	if _, err := ConfusionMatrix(vec(0, 3), vec(0, 1), 2); err == nil {
		t.Error("expected error for label outside the class range")
	}
}

func TestPrecisionRecallFScoreWeighted(t *testing.T) {
	// class 0: tp=1 fp=1 fn=1 -> p=0.5 r=0.5
	// class 1: tp=2 fp=1 fn=0 -> p=2/3 r=1
	// class 2: tp=0 fp=0 fn=1 -> p=0 (no predictions) r=0
	yTrue := vec(0, 0, 1, 1, 2)
	yPred := vec(0, 1, 1, 1, 0)

	p, r, f, err := PrecisionRecallFScore(yTrue, yPred, 3, AverageWeighted)
	if err != nil {
		t.Fatal(err)
	}

	f0 := 0.5
	f1 := 2 * (2.0 / 3) * 1 / (2.0/3 + 1)
	wantP := (2*0.5 + 2*(2.0/3) + 1*0) / 5
	wantR := (2*0.5 + 2*1.0 + 0) / 5
	wantF := (2*f0 + 2*f1) / 5

	for _, c := range []struct {
		name      string
		got, want float64
	}{{"precision", p, wantP}, {"recall", r, wantR}, {"f1", f, wantF}} {
		if math.Abs(c.got-c.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestZeroDivisionIsZeroNotNaN(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	tests := []struct {
		name  string
		yTrue *mat.VecDense
		yPred *mat.VecDense
	}{
		{"class never predicted", vec(0, 0, 1, 1), vec(0, 0, 0, 0)},
		{"class never true", vec(0, 0, 0, 0), vec(0, 1, 0, 1)},
		{"all wrong", vec(0, 0, 1, 1), vec(1, 1, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, r, f, err := PrecisionRecallFScore(tt.yTrue, tt.yPred, 2, AverageWeighted)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, v := range []float64{p, r, f} {
				if math.IsNaN(v) || v < 0 || v > 1 {
					t.Errorf("value %v outside [0,1]", v)
				}
			}
		})
	}
	if len(warnings) == 0 {
		t.Error("expected UndefinedMetricWarning to be raised")
	}
	var umw *errors.UndefinedMetricWarning
	if !errors.As(warnings[0], &umw) {
		t.Errorf("expected UndefinedMetricWarning, got %T", warnings[0])
	}
}

func TestWeightedF1ZeroOnlyWhenAllWeightedClassesFail(t *testing.T) {
	_, _, f, _ := PrecisionRecallFScore(vec(0, 0, 1, 1), vec(1, 1, 0, 0), 2, AverageWeighted)
	if f != 0 {
		t.Errorf("all wrong: F1 = %v, want 0", f)
	}
	_, _, f, _ = PrecisionRecallFScore(vec(0, 0, 1, 1), vec(0, 1, 0, 0), 2, AverageWeighted)
	if f <= 0 {
		t.Errorf("one class partially right: F1 = %v, want > 0", f)
	}
}

func TestMacroIgnoresAbsentClasses(t *testing.T) {
	// class 2 is declared but never seen
	p, _, _, err := PrecisionRecallFScore(vec(0, 1), vec(0, 1), 3, AverageMacro)
	if err != nil {
		t.Fatal(err)
	}
	if p != 1 {
		t.Errorf("macro precision = %v, want 1", p)
	}
}

func TestClassificationReport(t *testing.T) {
	rep, err := ClassificationReport(vec(0, 0, 1, 1), vec(0, 1, 1, 1), []string{"No", "Yes"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Classes) != 2 || rep.Classes[1].Label != "Yes" || rep.Classes[1].Support != 2 {
		t.Fatalf("unexpected class rows: %+v", rep.Classes)
	}
	if rep.Accuracy != 0.75 {
		t.Errorf("Accuracy = %v, want 0.75", rep.Accuracy)
	}

	var buf bytes.Buffer
	rep.Render(&buf)
	out := buf.String()
	for _, want := range []string{"PRECISION", "weighted avg", "macro avg", "Yes", "0.75"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered report missing %q:\n%s", want, out)
		}
	}
}

func TestRecord(t *testing.T) {
	r := Record{Accuracy: 0.9, Precision: 0.8, Recall: 0.7, F1: 0.75}
	m := r.Map()
	if len(m) != 4 || m[KeyAccuracy] != 0.9 || m[KeyF1] != 0.75 {
		t.Errorf("unexpected map: %v", m)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
	if err := (Record{Accuracy: math.NaN()}).Validate(); err == nil {
		t.Error("NaN accuracy accepted")
	}
}
