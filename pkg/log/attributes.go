// Standard attribute keys. Using these keys keeps the JSON log lines of the
// harness, the tracking client and the classifiers filterable by the same
// names ("model.name", "run.id", ...).

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the model configuration, e.g. "Random_Forest".
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed: "fit", "predict", "evaluate".
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of a run.
	PhaseKey = "ml.phase"
)

// Data
const (
	// DataPathKey is the input CSV path.
	DataPathKey = "data.path"

	// PartitionKey is the split label being processed ("train" or "test").
	PartitionKey = "data.partition"

	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ClassesKey  = "data.classes"
)

// Tracking
const (
	ExperimentNameKey = "experiment.name"
	RunIDKey          = "run.id"
	ArtifactURIKey    = "run.artifact_uri"
	RunStatusKey      = "run.status"
	ArtifactSizeKey   = "artifact.size"
)

// Performance Metrics
const (
	DurationMsKey = "perf.duration_ms"
	AccuracyKey   = "metrics.accuracy"
	F1Key         = "metrics.f1_score"
	LossKey       = "metrics.loss"
	IterationKey  = "training.iteration"
)

// Error and Warning Context
const (
	ErrorTypeKey = "error.type"
	WarningKey   = "warning"
)

// Standard attribute values.
const (
	OperationFit      = "fit"
	OperationPredict  = "predict"
	OperationEvaluate = "evaluate"

	PhaseLoading   = "loading"
	PhaseTraining  = "training"
	PhaseReporting = "reporting"
)
