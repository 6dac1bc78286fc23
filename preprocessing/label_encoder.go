package preprocessing

import (
	"sort"
	"strconv"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
)

// LabelEncoder はクラスラベル（文字列）を 0..k-1 のインデックスに変換する。
// 全ラベルが数値として解釈できる場合は数値順、そうでなければ辞書順に並べる。
type LabelEncoder struct {
	Classes_ []string
	index    map[string]int
}

// NewLabelEncoder creates an unfitted LabelEncoder.
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{}
}

// Fit learns the sorted set of distinct labels.
func (e *LabelEncoder) Fit(labels []string) error {
	if len(labels) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	seen := make(map[string]struct{})
	var classes []string
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			classes = append(classes, l)
		}
	}

	numeric := make([]float64, len(classes))
	allNumeric := true
	for i, c := range classes {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			allNumeric = false
			break
		}
		numeric[i] = v
	}
	if allNumeric {
		sort.Sort(byValue{classes, numeric})
	} else {
		sort.Strings(classes)
	}

	e.Classes_ = classes
	e.buildIndex()
	return nil
}

func (e *LabelEncoder) buildIndex() {
	e.index = make(map[string]int, len(e.Classes_))
	for i, c := range e.Classes_ {
		e.index[c] = i
	}
}

// Transform maps labels to class indices.
func (e *LabelEncoder) Transform(labels []string) ([]float64, error) {
	if e.Classes_ == nil {
		return nil, errors.NewNotFittedError("LabelEncoder", "Transform")
	}
	if e.index == nil {
		e.buildIndex()
	}
	out := make([]float64, len(labels))
	for i, l := range labels {
		idx, ok := e.index[l]
		if !ok {
			return nil, errors.NewValueError("LabelEncoder.Transform", "previously unseen label "+strconv.Quote(l))
		}
		out[i] = float64(idx)
	}
	return out, nil
}

// FitTransform is Fit followed by Transform on the same labels.
func (e *LabelEncoder) FitTransform(labels []string) ([]float64, error) {
	if err := e.Fit(labels); err != nil {
		return nil, err
	}
	return e.Transform(labels)
}

// InverseTransform maps class indices back to labels.
func (e *LabelEncoder) InverseTransform(indices []float64) ([]string, error) {
	if e.Classes_ == nil {
		return nil, errors.NewNotFittedError("LabelEncoder", "InverseTransform")
	}
	out := make([]string, len(indices))
	for i, v := range indices {
		idx := int(v)
		if float64(idx) != v || idx < 0 || idx >= len(e.Classes_) {
			return nil, errors.NewValueError("LabelEncoder.InverseTransform", "index out of range")
		}
		out[i] = e.Classes_[idx]
	}
	return out, nil
}

type byValue struct {
	labels []string
	values []float64
}

func (b byValue) Len() int           { return len(b.labels) }
func (b byValue) Less(i, j int) bool { return b.values[i] < b.values[j] }
func (b byValue) Swap(i, j int) {
	b.labels[i], b.labels[j] = b.labels[j], b.labels[i]
	b.values[i], b.values[j] = b.values[j], b.values[i]
}
