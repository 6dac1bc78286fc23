package metrics

import (
	"math"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
)

// Metric keys recorded in the tracking session and in the comparison files.
const (
	KeyAccuracy  = "test_accuracy"
	KeyPrecision = "test_precision"
	KeyRecall    = "test_recall"
	KeyF1        = "test_f1_score"
)

// Keys lists the metric keys in output column order.
var Keys = []string{KeyAccuracy, KeyPrecision, KeyRecall, KeyF1}

// Record is the fixed metric set computed for one trained model.
// Every value lies in [0, 1].
type Record struct {
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// Map returns the flat key/value form used by the tracking store.
func (r Record) Map() map[string]float64 {
	return map[string]float64{
		KeyAccuracy:  r.Accuracy,
		KeyPrecision: r.Precision,
		KeyRecall:    r.Recall,
		KeyF1:        r.F1,
	}
}

// Validate checks that every value is a finite number in [0, 1].
func (r Record) Validate() error {
	for k, v := range r.Map() {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return errors.NewValueError("Record", k+" is outside [0, 1]")
		}
	}
	return nil
}
