// Package model defines the capabilities shared by the classifiers and
// transformers of this repository, together with fitted-state bookkeeping and
// gob persistence.
package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う (n×1, クラスインデックス)
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Classifier はハーネスが扱う分類器の最小インターフェース。
// Fit は y にクラスインデックス 0..k-1 を float64 で受け取る n×1 行列を想定する。
type Classifier interface {
	Fitter
	Predictor
}

// ProbabilisticClassifier はクラス確率を返せる分類器
type ProbabilisticClassifier interface {
	Classifier
	// PredictProba は n×k のクラス確率を返す
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// Transformer はデータ変換のインターフェース
type Transformer interface {
	// Fit は変換に必要なパラメータを学習する
	Fit(X mat.Matrix) error

	// Transform はデータを変換する
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// ParamGetter is implemented by models that expose their hyperparameters.
type ParamGetter interface {
	GetParams() map[string]interface{}
}

// ParamSetter is implemented by models whose hyperparameters can be
// overridden before Fit.
type ParamSetter interface {
	SetParams(params map[string]interface{}) error
}
