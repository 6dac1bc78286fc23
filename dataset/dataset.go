// Package dataset loads the pre-processed heart disease CSV and splits it into
// train and test partitions using a discriminator column.
package dataset

import (
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"github.com/YuminosukeSato/mlproject/preprocessing"
	"github.com/dustin/go-humanize"
	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/mat"
)

// Options names the columns and partition labels of the input file.
type Options struct {
	TargetColumn string
	SplitColumn  string
	TrainLabel   string
	TestLabel    string
	// Logger receives shape and class distribution diagnostics.
	// nil uses the "dataset" component logger.
	Logger log.Logger
}

// DefaultOptions returns the column layout of the pre-processed heart disease file.
func DefaultOptions() Options {
	return Options{
		TargetColumn: "Heart Disease",
		SplitColumn:  "split",
		TrainLabel:   "train",
		TestLabel:    "test",
	}
}

// Split is the loaded dataset. YTrain and YTest hold class indices into
// Classes as n×1 column vectors. A Split is not modified after Load.
type Split struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest *mat.Dense

	FeatureNames []string
	// Classes はクラスインデックスに対応する元のラベル
	Classes []string
	// SourceRows はヘッダを除いたファイルの行数
	SourceRows int
	// Ignored は判別列がどちらのラベルでもなかった行数
	Ignored int
}

// NClasses returns the number of distinct target labels.
func (s *Split) NClasses() int { return len(s.Classes) }

// ClassCounts returns the number of rows per class label in y.
func (s *Split) ClassCounts(y *mat.Dense) map[string]int {
	counts := make(map[string]int, len(s.Classes))
	rows, _ := y.Dims()
	for i := 0; i < rows; i++ {
		counts[s.Classes[int(y.At(i, 0))]]++
	}
	return counts
}

// Load reads the CSV at path.
func Load(path string, opts Options) (*Split, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset %s", path)
	}
	defer f.Close()
	return Read(f, path, opts)
}

type partition struct {
	rows   [][]float64
	labels []string
}

// Read parses CSV from r. source is only used in errors and logs.
func Read(r io.Reader, source string, opts Options) (*Split, error) {
	opts = withDefaults(opts)
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("dataset")
	}
	logger = logger.With(log.DataPathKey, source)

	records, err := gocsv.LazyCSVReader(r).ReadAll()
	if err != nil {
		return nil, errors.NewDataFormatErrorf(source, "read csv: %v", err)
	}
	if len(records) == 0 {
		return nil, errors.NewDataFormatError(source, "file is empty")
	}
	header := records[0]
	body := records[1:]

	targetIdx, splitIdx := -1, -1
	var featureIdx []int
	var featureNames []string
	for j, name := range header {
		switch name {
		case opts.TargetColumn:
			targetIdx = j
		case opts.SplitColumn:
			splitIdx = j
		default:
			featureIdx = append(featureIdx, j)
			featureNames = append(featureNames, name)
		}
	}
	if splitIdx < 0 {
		return nil, errors.NewDataFormatErrorf(source, "discriminator column %q not found", opts.SplitColumn)
	}
	if targetIdx < 0 {
		return nil, errors.NewDataFormatErrorf(source, "target column %q not found", opts.TargetColumn)
	}
	if len(featureIdx) == 0 {
		return nil, errors.NewDataFormatError(source, "no feature columns")
	}

	logger.Info("dataset loaded",
		log.SamplesKey, len(body),
		"columns", len(header),
		"rows", humanize.Comma(int64(len(body))),
	)

	parts := map[string]*partition{opts.TrainLabel: {}, opts.TestLabel: {}}
	ignored := make(map[string]int)
	for i, rec := range body {
		line := i + 2
		if len(rec) != len(header) {
			return nil, errors.NewDataFormatErrorf(source, "line %d: expected %d fields, got %d", line, len(header), len(rec))
		}
		p, ok := parts[rec[splitIdx]]
		if !ok {
			ignored[rec[splitIdx]]++
			continue
		}
		row := make([]float64, len(featureIdx))
		for k, j := range featureIdx {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return nil, errors.NewDataFormatErrorf(source, "line %d: column %q: %q is not numeric", line, header[j], rec[j])
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.NewDataFormatErrorf(source, "line %d: column %q: non-finite value %q", line, header[j], rec[j])
			}
			row[k] = v
		}
		p.rows = append(p.rows, row)
		p.labels = append(p.labels, rec[targetIdx])
	}

	nIgnored := 0
	for value, n := range ignored {
		nIgnored += n
		logger.Warn("rows with an unknown split value are ignored",
			"split_value", value, "rows", n)
	}

	train, test := parts[opts.TrainLabel], parts[opts.TestLabel]
	if len(train.rows) == 0 {
		return nil, errors.NewDataFormatErrorf(source, "train partition (%s=%q) is empty", opts.SplitColumn, opts.TrainLabel)
	}
	if len(test.rows) == 0 {
		return nil, errors.NewDataFormatErrorf(source, "test partition (%s=%q) is empty", opts.SplitColumn, opts.TestLabel)
	}

	enc := preprocessing.NewLabelEncoder()
	if err := enc.Fit(append(append([]string(nil), train.labels...), test.labels...)); err != nil {
		return nil, errors.Wrap(err, "encode target")
	}
	yTrain, err := enc.Transform(train.labels)
	if err != nil {
		return nil, err
	}
	yTest, err := enc.Transform(test.labels)
	if err != nil {
		return nil, err
	}

	s := &Split{
		XTrain:       toDense(train.rows, len(featureIdx)),
		XTest:        toDense(test.rows, len(featureIdx)),
		YTrain:       mat.NewDense(len(yTrain), 1, yTrain),
		YTest:        mat.NewDense(len(yTest), 1, yTest),
		FeatureNames: featureNames,
		Classes:      enc.Classes_,
		SourceRows:   len(body),
		Ignored:      nIgnored,
	}

	for _, p := range []struct {
		label string
		X, y  *mat.Dense
	}{{opts.TrainLabel, s.XTrain, s.YTrain}, {opts.TestLabel, s.XTest, s.YTest}} {
		rows, cols := p.X.Dims()
		logger.Info("partition",
			log.PartitionKey, p.label,
			log.SamplesKey, rows,
			log.FeaturesKey, cols,
			"class_distribution", formatCounts(s.ClassCounts(p.y)),
		)
	}
	logger.Debug("feature columns", "names", featureNames, log.ClassesKey, s.Classes)
	return s, nil
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.TargetColumn == "" {
		opts.TargetColumn = def.TargetColumn
	}
	if opts.SplitColumn == "" {
		opts.SplitColumn = def.SplitColumn
	}
	if opts.TrainLabel == "" {
		opts.TrainLabel = def.TrainLabel
	}
	if opts.TestLabel == "" {
		opts.TestLabel = def.TestLabel
	}
	return opts
}

func toDense(rows [][]float64, nFeatures int) *mat.Dense {
	data := make([]float64, 0, len(rows)*nFeatures)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), nFeatures, data)
}

// formatCounts renders {"Absence": 80, "Presence": 70} as "Absence=80 Presence=70".
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += k + "=" + strconv.Itoa(counts[k])
	}
	return out
}
