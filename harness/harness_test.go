package harness

import (
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/YuminosukeSato/mlproject/core/model"
	"github.com/YuminosukeSato/mlproject/dataset"
	"github.com/YuminosukeSato/mlproject/evaluation"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"github.com/YuminosukeSato/mlproject/registry"
	"github.com/YuminosukeSato/mlproject/report"
	"github.com/YuminosukeSato/mlproject/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// blobs returns two well separated classes in two dimensions.
func blobs(n int, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(2*n, 2, nil)
	y := mat.NewDense(2*n, 1, nil)
	for i := 0; i < 2*n; i++ {
		c := float64(i % 2)
		X.Set(i, 0, c*6+rng.NormFloat64()*0.5)
		X.Set(i, 1, c*6+rng.NormFloat64()*0.5)
		y.Set(i, 0, c)
	}
	return X, y
}

func testSplit() *dataset.Split {
	XTrain, YTrain := blobs(20, 1)
	XTest, YTest := blobs(8, 2)
	return &dataset.Split{
		XTrain: XTrain, XTest: XTest,
		YTrain: YTrain, YTest: YTest,
		FeatureNames: []string{"a", "b"},
		Classes:      []string{"Absence", "Presence"},
		SourceRows:   56,
	}
}

// threshold predicts class 1 when the first feature exceeds 3.
type threshold struct {
	Fitted bool
}

func (m *threshold) Fit(X, y mat.Matrix) error {
	m.Fitted = true
	return nil
}

func (m *threshold) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !m.Fitted {
		return nil, errors.NewNotFittedError("threshold", "Predict")
	}
	n, _ := X.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		if X.At(i, 0) > 3 {
			out.Set(i, 0, 1)
		}
	}
	return out, nil
}

// broken fails or panics in Fit.
type broken struct {
	Panic bool
}

func (m *broken) Fit(X, y mat.Matrix) error {
	if m.Panic {
		panic("singular matrix")
	}
	return errors.New("fit exploded")
}

func (m *broken) Predict(X mat.Matrix) (mat.Matrix, error) { return nil, nil }

type fixture struct {
	h      *Harness
	store  tracking.Store
	logger *log.TestLogger
	out    *bytes.Buffer
}

func newFixture(t *testing.T) fixture {
	store, err := tracking.NewFileStore(filepath.Join(t.TempDir(), "mlruns"))
	require.NoError(t, err)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	client, err := tracking.NewClient(context.Background(), store, "test", tracking.WithLogger(logger))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	split := testSplit()
	ev := evaluation.New(split.Classes, evaluation.WithDiagnostics(out), evaluation.WithLogger(logger))
	h := New(client, ev, WithOutput(out), WithLogger(logger),
		WithTags(map[string]string{TagDataset: "heart.csv", TagModelSelector: "all"}))
	return fixture{h: h, store: store, logger: logger, out: out}
}

func cfg(name string, m model.Classifier) registry.Config {
	return registry.Config{Name: name, Model: m, Params: map[string]interface{}{"name": name}}
}

func TestTrainOne_RecordsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.h.TrainOne(ctx, testSplit(), cfg("Threshold", &threshold{}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Accuracy)
	assert.Equal(t, 1.0, rec.F1)

	entries, err := f.logger.GetLogEntries()
	require.NoError(t, err)
	var runID string
	for _, e := range entries {
		if e["message"] == "trained" {
			runID, _ = e[log.RunIDKey].(string)
		}
	}
	require.NotEmpty(t, runID)

	run, err := f.store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, tracking.StatusFinished, run.Status)

	params, err := f.store.Params(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Threshold"}, params)

	got, err := f.store.Metrics(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, rec.Map(), got)

	tags, err := f.store.Tags(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "heart.csv", tags[TagDataset])
	assert.Equal(t, "all", tags[TagModelSelector])
	assert.Equal(t, "*harness.threshold", tags[TagEstimator])
	assert.Equal(t, "Threshold", tags[tracking.RunNameTag])

	var restored threshold
	require.NoError(t, tracking.LoadModel(ctx, f.store, runID, ModelArtifactPath, &restored))
	assert.True(t, restored.Fitted)

	assert.Contains(t, f.out.String(), "Run ID: "+runID)
	assert.Contains(t, f.out.String(), "Confusion Matrix:")
}

func TestTrainOne_FailureClosesRunAsFailed(t *testing.T) {
	tests := []struct {
		name      string
		model     *broken
		wantPanic bool
	}{
		{"error", &broken{}, false},
		{"panic", &broken{Panic: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.h.TrainOne(ctx, testSplit(), cfg("Broken", tt.model))
			require.Error(t, err)
			var pe *errors.PanicError
			assert.Equal(t, tt.wantPanic, errors.As(err, &pe))

			entries, err := f.logger.GetLogEntries()
			require.NoError(t, err)
			var runID string
			for _, e := range entries {
				if e["message"] == "run closed" {
					runID, _ = e[log.RunIDKey].(string)
					assert.Equal(t, string(tracking.StatusFailed), e[log.RunStatusKey])
				}
			}
			require.NotEmpty(t, runID)

			run, err := f.store.GetRun(ctx, runID)
			require.NoError(t, err)
			assert.Equal(t, tracking.StatusFailed, run.Status)
			assert.False(t, run.EndTime.IsZero())

			// recorded params are kept
			params, err := f.store.Params(ctx, runID)
			require.NoError(t, err)
			assert.Equal(t, "Broken", params["name"])
		})
	}
}

func TestRun_SkipsFailedConfigurations(t *testing.T) {
	f := newFixture(t)
	configs := []registry.Config{
		cfg("A", &threshold{}),
		cfg("B", &threshold{}),
		cfg("C", &broken{}),
		cfg("D", &threshold{}),
		cfg("E", &broken{Panic: true}),
		cfg("F", &threshold{}),
	}

	rows := f.h.Run(context.Background(), testSplit(), configs)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"A", "B", "D", "F"}, names(rows))
	for _, r := range rows {
		assert.Equal(t, 1.0, r.Accuracy)
	}
	assert.True(t, f.logger.ContainsMessage("training failed, skipping"))
	assert.True(t, f.logger.ContainsField(log.ModelNameKey, "C"))
	assert.Contains(t, f.out.String(), "Error training C")
	assert.Contains(t, f.out.String(), "Error training E")
}

func TestRun_SixConfigurationsOneFailing(t *testing.T) {
	f := newFixture(t)
	configs := registry.Default()
	require.Len(t, configs, 6)
	configs[2].Model = &broken{}

	rows := f.h.Run(context.Background(), testSplit(), configs)
	require.Len(t, rows, 5)
	for _, r := range rows {
		assert.NotEqual(t, registry.GradientBoosting, r.Model)
		rec := []float64{r.Accuracy, r.Precision, r.Recall, r.F1}
		for _, v := range rec {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
	assert.Equal(t, []string{
		registry.LogisticRegression,
		registry.RandomForest,
		registry.DecisionTree,
		registry.KNearestNeighbors,
		registry.SupportVector,
	}, names(rows))

	dir := t.TempDir()
	ok, err := report.New(dir, report.WithOutput(&bytes.Buffer{}), report.WithLogger(f.logger)).Write(rows)
	require.NoError(t, err)
	assert.True(t, ok)
	for _, name := range []string{report.CSVFile, report.JSONFile} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.NotContains(t, string(data), registry.GradientBoosting, name)
	}
}

func TestRun_SingleSelection(t *testing.T) {
	f := newFixture(t)
	configs, err := registry.Select(registry.Default(), registry.RandomForest)
	require.NoError(t, err)

	rows := f.h.Run(context.Background(), testSplit(), configs)
	require.Len(t, rows, 1)
	assert.Equal(t, registry.RandomForest, rows[0].Model)
	assert.Equal(t, 1.0, rows[0].Accuracy)
}

func names(rows []report.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Model
	}
	return out
}
