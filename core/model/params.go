package model

import (
	"math"
	"strconv"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
)

// Hyperparameter values arrive from Go code, YAML (int, float64, string, bool)
// or CLI strings. The helpers below coerce them for SetParams.

// IntParam coerces v to an int. Floats must be integral.
func IntParam(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.NewValidationError(name, "must be an integer", v)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, errors.NewValidationError(name, "must be an integer", v)
		}
		return n, nil
	}
	return 0, errors.NewValidationError(name, "must be an integer", v)
}

// FloatParam coerces v to a float64.
func FloatParam(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, errors.NewValidationError(name, "must be a number", v)
		}
		return f, nil
	}
	return 0, errors.NewValidationError(name, "must be a number", v)
}

// StringParam requires v to be a string.
func StringParam(name string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(name, "must be a string", v)
	}
	return s, nil
}

// BoolParam coerces v to a bool.
func BoolParam(name string, v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, errors.NewValidationError(name, "must be a boolean", v)
		}
		return b, nil
	}
	return false, errors.NewValidationError(name, "must be a boolean", v)
}

// OptionalIntParam is IntParam that maps nil to -1, the "unlimited" marker
// used by depth-like parameters.
func OptionalIntParam(name string, v interface{}) (int, error) {
	if v == nil {
		return -1, nil
	}
	return IntParam(name, v)
}
