package errors

import (
	"math"
	"strconv"
)

// CheckMatrix checks all values in a matrix for NaN or Inf and returns a
// ValueError naming the first offending cell.
func CheckMatrix(operation string, matrix interface {
	At(int, int) float64
	Dims() (int, int)
}) error {
	rows, cols := matrix.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := matrix.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return NewValueError(operation, "input contains NaN or infinity at row "+strconv.Itoa(i)+", column "+strconv.Itoa(j))
			}
		}
	}
	return nil
}

// SafeDivide performs division with protection against division by zero.
// Returns 0 if denominator is zero.
func SafeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
