package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
)

// SaveModel はモデルをファイルに保存する
//
// 使用例:
//
//	clf := tree.NewDecisionTreeClassifier()
//	// ... モデルの学習 ...
//	err := model.SaveModel(clf, "model.gob")
func SaveModel(model interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()

	return SaveModelToWriter(model, file)
}

// LoadModel はファイルからモデルを読み込む
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return LoadModelFromReader(model, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
//
// インターフェース型のフィールド（Pipeline内の分類器など）を含む場合は、
// 具象型を事前に gob.Register しておく必要がある。
func SaveModelToWriter(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
