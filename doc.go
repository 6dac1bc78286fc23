// Package mlproject trains and compares classifiers for the heart disease
// dataset and records every training run in an MLflow compatible tracking
// store.
//
// The modelling command loads a pre-processed CSV whose "split" column
// assigns each row to the train or test partition, fits one or all of six
// classifiers, evaluates them on the test partition and writes a ranked
// comparison table.
//
// # Quick Start
//
//	go install github.com/YuminosukeSato/mlproject/cmd/modelling@latest
//	modelling --model_type all --data Heart_Disease_preprocessing.csv
//	modelling --model_type Random_Forest --tracking-uri sqlite:///mlflow.db --chart
//
// Runs recorded in the default ./mlruns directory can be browsed with
//
//	mlflow ui --backend-store-uri ./mlruns
//
// # Packages
//
//   - cmd/modelling: command line entry point
//   - config: YAML run configuration
//   - dataset: CSV loading and train/test partitioning
//   - registry: the six model configurations and their hyperparameters
//   - sklearn/...: LogisticRegression, RandomForest, GradientBoosting,
//     DecisionTree, KNeighbors and SVC classifiers
//   - preprocessing: scalers, label encoding and pipelines
//   - metrics: accuracy, precision, recall, F1 and classification reports
//   - evaluation: test partition scoring with diagnostics
//   - tracking: experiment/run store (file and SQLite backends) and client
//   - harness: per-model training loop with failure isolation
//   - report: ranked comparison table, CSV/JSON files and bar chart
//   - core/model, core/parallel: shared estimator interfaces and workers
//   - pkg/errors, pkg/log: error types and structured logging
//
// # Errors
//
// Every error carries a stack trace from github.com/cockroachdb/errors. A
// failure while training one model is logged and skipped; the remaining
// models still run.
package mlproject
