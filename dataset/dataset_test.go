package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const heartCSV = `Age,Sex,Heart Disease,split
70,1,Presence,train
67,0,Absence,train
57,1,Presence,train
64,1,Absence,test
74,0,Absence,test
`

func quietOptions() Options {
	opts := DefaultOptions()
	opts.Logger, _ = log.NewTestLogger(log.LevelDebug)
	return opts
}

func TestLoad_PartitionsAreDisjointAndExhaustive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heart.csv")
	require.NoError(t, os.WriteFile(path, []byte(heartCSV), 0o644))

	split, err := Load(path, quietOptions())
	require.NoError(t, err)

	trainRows, trainCols := split.XTrain.Dims()
	testRows, testCols := split.XTest.Dims()
	assert.Equal(t, 3, trainRows)
	assert.Equal(t, 2, testRows)
	assert.Equal(t, split.SourceRows, trainRows+testRows)
	assert.Equal(t, 2, trainCols)
	assert.Equal(t, 2, testCols)
	assert.Equal(t, []string{"Age", "Sex"}, split.FeatureNames)
	assert.Equal(t, []string{"Absence", "Presence"}, split.Classes)

	yRows, _ := split.YTrain.Dims()
	assert.Equal(t, trainRows, yRows)
	assert.Equal(t, 1.0, split.YTrain.At(0, 0)) // Presence
	assert.Equal(t, 0.0, split.YTrain.At(1, 0)) // Absence
	assert.Equal(t, 70.0, split.XTrain.At(0, 0))
	assert.Equal(t, 64.0, split.XTest.At(0, 0))

	assert.Equal(t, map[string]int{"Absence": 2}, split.ClassCounts(split.YTest))
}

func TestRead_NumericTargetsAndCustomColumns(t *testing.T) {
	csv := "f1,label,part\n1.5,1,fit\n2.5,0,fit\n3.5,1,holdout\n"
	opts := Options{TargetColumn: "label", SplitColumn: "part", TrainLabel: "fit", TestLabel: "holdout"}
	opts.Logger, _ = log.NewTestLogger(log.LevelInfo)

	split, err := Read(strings.NewReader(csv), "inline", opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, split.Classes)
	assert.Equal(t, 1.0, split.YTest.At(0, 0))
}

func TestRead_UnknownSplitValuesAreIgnored(t *testing.T) {
	csv := heartCSV + "50,1,Presence,validation\n"
	logger, _ := log.NewTestLogger(log.LevelDebug)
	opts := DefaultOptions()
	opts.Logger = logger

	split, err := Read(strings.NewReader(csv), "inline", opts)
	require.NoError(t, err)
	assert.Equal(t, 6, split.SourceRows)
	assert.Equal(t, 1, split.Ignored)
	assert.True(t, logger.ContainsMessage("rows with an unknown split value are ignored"))
	assert.True(t, logger.ContainsField("split_value", "validation"))
}

func TestRead_DataFormatErrors(t *testing.T) {
	tests := []struct {
		name   string
		csv    string
		reason string
	}{
		{"empty file", "", "file is empty"},
		{"missing split column", "Age,Heart Disease\n1,Presence\n", `discriminator column "split" not found`},
		{"missing target column", "Age,split\n1,train\n", `target column "Heart Disease" not found`},
		{"empty test partition", "Age,Heart Disease,split\n1,Presence,train\n", "test partition"},
		{"empty train partition", "Age,Heart Disease,split\n1,Presence,test\n", "train partition"},
		{"non-numeric feature", "Age,Heart Disease,split\nold,Presence,train\n1,Absence,test\n", "is not numeric"},
		{"non-finite feature", "Age,Heart Disease,split\nNaN,Presence,train\n1,Absence,test\n", "non-finite"},
		{"ragged row", "Age,Heart Disease,split\n1,Presence,train,extra\n", "fields"},
		{"no features", "Heart Disease,split\nPresence,train\n", "no feature columns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.csv), "heart.csv", quietOptions())
			require.Error(t, err)

			var dfe *errors.DataFormatError
			require.True(t, errors.As(err, &dfe), "expected DataFormatError, got %T: %v", err, err)
			assert.Equal(t, "heart.csv", dfe.Path)
			assert.Contains(t, dfe.Reason, tt.reason)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"), quietOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
