package preprocessing

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StandardScaler はscikit-learn互換の標準化スケーラー
// データを平均0、標準偏差1に変換する
type StandardScaler struct {
	State *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差
	Scale []float64

	// WithMean は平均を引くかどうか (デフォルト: true)
	WithMean bool

	// WithStd は標準偏差で割るかどうか (デフォルト: true)
	WithStd bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	XScaled, err := scaler.FitTransform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		State:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

func column(X mat.Matrix, j int) []float64 {
	r, _ := X.Dims()
	col := make([]float64, r)
	for i := range col {
		col[i] = X.At(i, j)
	}
	return col
}

// Fit は訓練データから統計情報（平均、母標準偏差）を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	for j := 0; j < c; j++ {
		mean, std := stat.PopMeanStdDev(column(X, j), nil)
		if s.WithMean {
			s.Mean[j] = mean
		}
		s.Scale[j] = 1
		// 分散がほぼ0の特徴量はスケーリングしない
		if s.WithStd && std >= 1e-8 {
			s.Scale[j] = std
		}
	}

	s.State.SetDimensions(c, r)
	s.State.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.State.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.State.CheckFeatures("StandardScaler.Transform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.State.RequireFitted("StandardScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.State.CheckFeatures("StandardScaler.InverseTransform", c); err != nil {
		return nil, err
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return v*s.Scale[j] + s.Mean[j]
	}, X)
	return result, nil
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
}

// MinMaxScaler はscikit-learn互換のMin-Maxスケーラー
// データを指定した範囲（デフォルト[0,1]）にスケーリングする
type MinMaxScaler struct {
	State *model.StateManager

	// DataMin, DataMax は各特徴量の訓練データ上の最小値・最大値
	DataMin []float64
	DataMax []float64

	// FeatureRange は変換後の範囲
	FeatureRange [2]float64
}

// NewMinMaxScaler は新しいMinMaxScalerを作成する
func NewMinMaxScaler(featureRange [2]float64) *MinMaxScaler {
	return &MinMaxScaler{
		State:        model.NewStateManager(),
		FeatureRange: featureRange,
	}
}

// NewMinMaxScalerDefault は[0,1]範囲のMinMaxScalerを作成する
func NewMinMaxScalerDefault() *MinMaxScaler {
	return NewMinMaxScaler([2]float64{0, 1})
}

// Fit は各特徴量の最小値・最大値を記録する
func (m *MinMaxScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("MinMaxScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	if m.FeatureRange[0] >= m.FeatureRange[1] {
		return errors.NewValidationError("feature_range", "minimum must be smaller than maximum", m.FeatureRange)
	}

	m.DataMin = make([]float64, c)
	m.DataMax = make([]float64, c)
	for j := 0; j < c; j++ {
		col := column(X, j)
		m.DataMin[j] = floats.Min(col)
		m.DataMax[j] = floats.Max(col)
	}

	m.State.SetDimensions(c, r)
	m.State.SetFitted()
	return nil
}

func (m *MinMaxScaler) span(j int) float64 {
	span := m.DataMax[j] - m.DataMin[j]
	if math.Abs(span) < 1e-12 {
		return 1
	}
	return span
}

// Transform はデータをFeatureRangeに線形変換する
func (m *MinMaxScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.State.RequireFitted("MinMaxScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := m.State.CheckFeatures("MinMaxScaler.Transform", c); err != nil {
		return nil, err
	}

	lo, hi := m.FeatureRange[0], m.FeatureRange[1]
	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return (v-m.DataMin[j])/m.span(j)*(hi-lo) + lo
	}, X)
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (m *MinMaxScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.Fit(X); err != nil {
		return nil, err
	}
	return m.Transform(X)
}

// InverseTransform は変換を元に戻す
func (m *MinMaxScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.State.RequireFitted("MinMaxScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := m.State.CheckFeatures("MinMaxScaler.InverseTransform", c); err != nil {
		return nil, err
	}

	lo, hi := m.FeatureRange[0], m.FeatureRange[1]
	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return (v-lo)/(hi-lo)*m.span(j) + m.DataMin[j]
	}, X)
	return result, nil
}

// GetParams はスケーラーのパラメータを取得する
func (m *MinMaxScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"feature_range": m.FeatureRange,
	}
}

// String はスケーラーの文字列表現を返す
func (m *MinMaxScaler) String() string {
	return fmt.Sprintf("MinMaxScaler(feature_range=(%g, %g))", m.FeatureRange[0], m.FeatureRange[1])
}
