// Package report ranks the per-model results and writes the comparison
// summary: a console table, a CSV file, a JSON record list and optionally a
// bar chart.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/mlproject/metrics"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"github.com/YuminosukeSato/mlproject/pkg/log"
	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"
)

// Output file names, written into the reporter's directory.
const (
	CSVFile   = "model_comparison_results.csv"
	JSONFile  = "model_comparison_results.json"
	ChartFile = "model_comparison_results.png"
)

// Row is one successfully trained configuration and its metrics.
type Row struct {
	Model     string  `csv:"model" json:"model"`
	Accuracy  float64 `csv:"test_accuracy" json:"test_accuracy"`
	Precision float64 `csv:"test_precision" json:"test_precision"`
	Recall    float64 `csv:"test_recall" json:"test_recall"`
	F1        float64 `csv:"test_f1_score" json:"test_f1_score"`
}

// NewRow joins a configuration name with its metric record.
func NewRow(model string, rec metrics.Record) Row {
	return Row{
		Model:     model,
		Accuracy:  rec.Accuracy,
		Precision: rec.Precision,
		Recall:    rec.Recall,
		F1:        rec.F1,
	}
}

// Rank returns a copy of rows sorted by descending accuracy. Rows with equal
// accuracy keep their training order.
func Rank(rows []Row) []Row {
	ranked := append([]Row(nil), rows...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Accuracy > ranked[j].Accuracy
	})
	return ranked
}

// Reporter writes the comparison summary.
type Reporter struct {
	dir    string
	out    io.Writer
	chart  bool
	logger log.Logger
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithOutput sets where the summary table is printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Reporter) { r.out = w }
}

// WithChart enables the PNG bar chart.
func WithChart(enabled bool) Option {
	return func(r *Reporter) { r.chart = enabled }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// New creates a Reporter writing its files into dir.
func New(dir string, opts ...Option) *Reporter {
	r := &Reporter{dir: dir, out: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.GetLoggerWithName("report")
	}
	return r
}

// Path returns the location of one of the output files.
func (r *Reporter) Path(name string) string { return filepath.Join(r.dir, name) }

// Write ranks rows, prints them and persists them. With no rows it logs a
// warning, writes nothing and returns false.
func (r *Reporter) Write(rows []Row) (bool, error) {
	if len(rows) == 0 {
		r.logger.Warn("no models were trained successfully, skipping the comparison files",
			log.PhaseKey, log.PhaseReporting)
		return false, nil
	}
	ranked := Rank(rows)

	fmt.Fprintln(r.out, "SUMMARY OF ALL MODELS")
	r.renderTable(ranked)

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return false, errors.Wrapf(err, "create output directory %s", r.dir)
	}
	files := []string{CSVFile, JSONFile}
	if err := r.writeCSV(ranked); err != nil {
		return false, err
	}
	if err := r.writeJSON(ranked); err != nil {
		return false, err
	}
	if r.chart {
		if err := renderChart(ranked, r.Path(ChartFile)); err != nil {
			return false, err
		}
		files = append(files, ChartFile)
	}

	for _, name := range files {
		p := r.Path(name)
		_, err := os.Stat(p)
		r.logger.Info("results saved",
			"path", p,
			"exists", err == nil,
			log.PhaseKey, log.PhaseReporting,
		)
		fmt.Fprintf(r.out, "Results saved to: %s\n", p)
	}
	return true, nil
}

func f4(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

func (r *Reporter) renderTable(rows []Row) {
	table := tablewriter.NewWriter(r.out)
	table.SetHeader([]string{"model", metrics.KeyAccuracy, metrics.KeyPrecision, metrics.KeyRecall, metrics.KeyF1})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, row := range rows {
		table.Append([]string{row.Model, f4(row.Accuracy), f4(row.Precision), f4(row.Recall), f4(row.F1)})
	}
	table.Render()
}

func (r *Reporter) writeCSV(rows []Row) error {
	var buf bytes.Buffer
	if err := gocsv.Marshal(&rows, &buf); err != nil {
		return errors.Wrap(err, "encode csv")
	}
	if err := os.WriteFile(r.Path(CSVFile), buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "write csv")
	}
	return nil
}

func (r *Reporter) writeJSON(rows []Row) error {
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode json")
	}
	if err := os.WriteFile(r.Path(JSONFile), append(b, '\n'), 0o644); err != nil {
		return errors.Wrap(err, "write json")
	}
	return nil
}
