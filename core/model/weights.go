package model

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
)

// ModelWeights はハイパーパラメータと学習済み状態をまとめた保存形式。
//
// gob は非公開フィールドを保存しないため、分類器は GobEncode/GobDecode から
// ExportWeights/ImportWeights を呼び、GetParams の値も一緒に書き出す。
type ModelWeights struct {
	// ModelType はモデルの種類（KNeighborsClassifier 等）
	ModelType string `json:"model_type"`

	// Hyperparameters は GetParams の戻り値
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// State は公開フィールド（学習結果）の gob 表現
	State []byte `json:"state"`
}

// ExportWeights encodes params and the exported fields of state.
//
// state must be a pointer to a type without GobEncode, usually a local type
// defined over the model struct:
//
//	type knnState KNeighborsClassifier
//	return model.ExportWeights("KNeighborsClassifier", knn.GetParams(), (*knnState)(knn))
func ExportWeights(modelType string, params map[string]interface{}, state interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, errors.Wrapf(err, "encode %s state", modelType)
	}
	data, err := json.Marshal(&ModelWeights{
		ModelType:       modelType,
		Hyperparameters: params,
		State:           buf.Bytes(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s hyperparameters", modelType)
	}
	return data, nil
}

// ImportWeights decodes data written by ExportWeights into state and returns
// the hyperparameters for SetParams. JSON numbers come back as float64, which
// the Param helpers accept.
func ImportWeights(data []byte, modelType string, state interface{}) (map[string]interface{}, error) {
	var w ModelWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrapf(err, "decode %s weights", modelType)
	}
	if w.ModelType != modelType {
		return nil, errors.NewValidationError("model_type", "saved weights belong to another model", w.ModelType)
	}
	if err := gob.NewDecoder(bytes.NewReader(w.State)).Decode(state); err != nil {
		return nil, errors.Wrapf(err, "decode %s state", modelType)
	}
	return w.Hyperparameters, nil
}
