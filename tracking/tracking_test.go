package tracking

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func factories() []storeFactory {
	return []storeFactory{
		{"file", func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "mlruns"))
			require.NoError(t, err)
			return s
		}},
		{"sqlite", func(t *testing.T) Store {
			s, err := NewSQLStore(filepath.Join(t.TempDir(), "mlflow.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

// toy is a gob-encodable stand-in for a trained model.
type toy struct {
	Weights []float64
	Bias    float64
}

func (toy) GetParams() map[string]interface{} {
	return map[string]interface{}{"alpha": 0.5}
}

func newClient(t *testing.T, store Store) *Client {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	c, err := NewClient(context.Background(), store, "heart", WithLogger(logger))
	require.NoError(t, err)
	return c
}

func TestStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.open(t)
			client := newClient(t, store)

			sess, err := client.StartRun(ctx, "Random_Forest")
			require.NoError(t, err)
			assert.Len(t, sess.RunID(), 32)
			assert.True(t, strings.HasPrefix(sess.ArtifactURI(), "file://"))

			run, err := store.GetRun(ctx, sess.RunID())
			require.NoError(t, err)
			assert.Equal(t, StatusRunning, run.Status)
			assert.Equal(t, "Random_Forest", run.Name)
			assert.True(t, run.EndTime.IsZero())

			require.NoError(t, sess.LogParams(ctx, map[string]interface{}{
				"n_estimators": 100,
				"random_state": int64(42),
				"max_features": "sqrt",
				"max_depth":    nil,
			}))
			require.NoError(t, sess.LogMetrics(ctx, map[string]float64{
				"test_accuracy": 0.85,
				"test_f1_score": 0.8,
			}))
			require.NoError(t, sess.LogModel(ctx, "model", &toy{Weights: []float64{1, 2}, Bias: 3}))
			require.NoError(t, sess.End(ctx, StatusFinished))

			params, err := store.Params(ctx, sess.RunID())
			require.NoError(t, err)
			assert.Equal(t, map[string]string{
				"n_estimators": "100",
				"random_state": "42",
				"max_features": "sqrt",
				"max_depth":    "None",
			}, params)

			metrics, err := store.Metrics(ctx, sess.RunID())
			require.NoError(t, err)
			assert.Equal(t, map[string]float64{"test_accuracy": 0.85, "test_f1_score": 0.8}, metrics)

			run, err = store.GetRun(ctx, sess.RunID())
			require.NoError(t, err)
			assert.Equal(t, StatusFinished, run.Status)
			assert.False(t, run.EndTime.IsZero())

			var got toy
			require.NoError(t, LoadModel(ctx, store, sess.RunID(), "model", &got))
			assert.Equal(t, toy{Weights: []float64{1, 2}, Bias: 3}, got)

			dir, err := dirFromURI(sess.ArtifactURI())
			require.NoError(t, err)
			b, err := os.ReadFile(filepath.Join(dir, "model", "MLmodel"))
			require.NoError(t, err)
			var desc MLModel
			require.NoError(t, yaml.Unmarshal(b, &desc))
			assert.Equal(t, sess.RunID(), desc.RunID)
			assert.Equal(t, "*tracking.toy", desc.Flavors["go_gob"]["model_type"])
			assert.Equal(t, "0.5", desc.Params["alpha"])
			assert.Positive(t, desc.ModelSizeBytes)
		})
	}
}

func TestStore_LatestMetricWins(t *testing.T) {
	ctx := context.Background()
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.open(t)
			sess, err := newClient(t, store).StartRun(ctx, "Decision_Tree")
			require.NoError(t, err)

			require.NoError(t, sess.LogMetrics(ctx, map[string]float64{"loss": 1.0}))
			require.NoError(t, sess.LogMetrics(ctx, map[string]float64{"loss": 0.25}))

			metrics, err := store.Metrics(ctx, sess.RunID())
			require.NoError(t, err)
			assert.Equal(t, 0.25, metrics["loss"])
		})
	}
}

func TestSession_EndExactlyOnce(t *testing.T) {
	ctx := context.Background()
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.open(t)
			sess, err := newClient(t, store).StartRun(ctx, "Support_Vector_Machine")
			require.NoError(t, err)

			require.NoError(t, sess.End(ctx, StatusFailed))
			assert.True(t, sess.Ended())

			err = sess.End(ctx, StatusFinished)
			assert.True(t, errors.Is(err, ErrRunClosed))
			assert.True(t, errors.Is(sess.LogMetrics(ctx, map[string]float64{"x": 1}), ErrRunClosed))
			assert.True(t, errors.Is(sess.LogParams(ctx, map[string]interface{}{"x": 1}), ErrRunClosed))

			run, err := store.GetRun(ctx, sess.RunID())
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, run.Status, "second End must not overwrite the status")
		})
	}
}

func TestClient_ReusesExperiment(t *testing.T) {
	ctx := context.Background()
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.open(t)
			a := newClient(t, store)
			b := newClient(t, store)
			assert.Equal(t, a.Experiment().ID, b.Experiment().ID)

			other, err := NewClient(ctx, store, "")
			require.NoError(t, err)
			assert.Equal(t, DefaultExperiment, other.Experiment().Name)
			assert.NotEqual(t, a.Experiment().ID, other.Experiment().ID)
		})
	}
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.open(t)

			_, err := store.GetRun(ctx, "0123456789abcdef0123456789abcdef")
			assert.True(t, errors.Is(err, ErrNotFound))

			_, err = store.CreateRun(ctx, "99", "x")
			assert.True(t, errors.Is(err, ErrNotFound))

			sess, err := newClient(t, store).StartRun(ctx, "Logistic_Regression")
			require.NoError(t, err)

			_, err = store.LogArtifact(ctx, sess.RunID(), "../escape.txt", strings.NewReader("x"))
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve))

			err = store.LogParams(ctx, sess.RunID(), map[string]string{"a/b": "1"})
			assert.True(t, errors.As(err, &ve))

			err = store.EndRun(ctx, sess.RunID(), StatusRunning)
			assert.True(t, errors.As(err, &ve))

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			assert.Error(t, store.LogMetrics(cancelled, sess.RunID(), map[string]float64{"x": 1}))
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "mlruns")
	store, err := NewFileStore(root)
	require.NoError(t, err)

	sess, err := newClient(t, store).StartRun(ctx, "K_Nearest_Neighbors")
	require.NoError(t, err)
	require.NoError(t, sess.LogParams(ctx, map[string]interface{}{"n_neighbors": 5}))
	require.NoError(t, sess.LogMetrics(ctx, map[string]float64{"test_accuracy": 0.5}))
	require.NoError(t, sess.End(ctx, StatusFinished))

	runDir := filepath.Join(root, "0", sess.RunID())
	for _, p := range []string{
		filepath.Join(root, "0", "meta.yaml"),
		filepath.Join(runDir, "meta.yaml"),
		filepath.Join(runDir, "params", "n_neighbors"),
		filepath.Join(runDir, "metrics", "test_accuracy"),
		filepath.Join(runDir, "tags", RunNameTag),
		filepath.Join(runDir, "artifacts"),
	} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	b, err := os.ReadFile(filepath.Join(runDir, "metrics", "test_accuracy"))
	require.NoError(t, err)
	fields := strings.Fields(string(b))
	require.Len(t, fields, 3)
	assert.Equal(t, "0.5", fields[1])
	assert.Equal(t, "0", fields[2])

	var meta runMeta
	require.NoError(t, readYAML(filepath.Join(runDir, "meta.yaml"), &meta))
	assert.Equal(t, StatusFinished, meta.Status)
	assert.Equal(t, "K_Nearest_Neighbors", meta.RunName)
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		uri     string
		want    string // concrete type
		wantErr bool
	}{
		{"plain path", filepath.Join(dir, "runs"), "*tracking.FileStore", false},
		{"file uri", "file://" + filepath.ToSlash(filepath.Join(dir, "runs2")), "*tracking.FileStore", false},
		{"sqlite uri", "sqlite:///" + filepath.Join(dir, "t.db"), "*tracking.SQLStore", false},
		{"relative file uri", "file:" + filepath.ToSlash(filepath.Join(dir, "runs3")), "*tracking.FileStore", false},
		{"file uri without path", "file:", "", true},
		{"sqlite without path", "sqlite://", "", true},
		{"unsupported", "http://localhost:5000", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := OpenStore(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			assert.Equal(t, tt.want, typeName(s))
		})
	}
}

func TestOpenStore_RelativeFileURI(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	s, err := OpenStore("file:./mlruns")
	require.NoError(t, err)
	defer s.Close()
	_, err = NewClient(context.Background(), s, "heart")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "mlruns", "0", "meta.yaml"))
	assert.NoError(t, err)
}

func TestStore_ExperimentIDsStartAtZero(t *testing.T) {
	ctx := context.Background()
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.open(t)
			first, err := store.CreateExperiment(ctx, "heart")
			require.NoError(t, err)
			second, err := store.CreateExperiment(ctx, "heart_v2")
			require.NoError(t, err)
			assert.Equal(t, "0", first.ID)
			assert.Equal(t, "1", second.ID)

			got, err := store.GetExperimentByName(ctx, "heart_v2")
			require.NoError(t, err)
			assert.Equal(t, "1", got.ID)
			assert.True(t, strings.HasSuffix(got.ArtifactLocation, "1"), got.ArtifactLocation)
		})
	}
}

func TestSession_SetTag(t *testing.T) {
	ctx := context.Background()
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.open(t)
			sess, err := newClient(t, store).StartRun(ctx, "Decision_Tree")
			require.NoError(t, err)

			require.NoError(t, sess.SetTag(ctx, "dataset", "old.csv"))
			require.NoError(t, sess.SetTag(ctx, "dataset", "heart.csv"))
			var ve *errors.ValidationError
			assert.True(t, errors.As(sess.SetTag(ctx, "a/b", "x"), &ve))

			tags, err := store.Tags(ctx, sess.RunID())
			require.NoError(t, err)
			assert.Equal(t, map[string]string{
				RunNameTag: "Decision_Tree",
				"dataset":  "heart.csv",
			}, tags)

			require.NoError(t, sess.End(ctx, StatusFinished))
			assert.True(t, errors.Is(sess.SetTag(ctx, "late", "x"), ErrRunClosed))
		})
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case *FileStore:
		return "*tracking.FileStore"
	case *SQLStore:
		return "*tracking.SQLStore"
	}
	return ""
}
