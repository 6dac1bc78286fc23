package metrics

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/mat"
)

// ReportRow is one line of a classification report.
type ReportRow struct {
	Label     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is the sklearn-style classification report: one row per class,
// followed by accuracy, macro avg and weighted avg.
type Report struct {
	Classes     []ReportRow
	Accuracy    float64
	MacroAvg    ReportRow
	WeightedAvg ReportRow
}

// ClassificationReport builds a Report. classNames[i] labels class index i;
// missing names fall back to the index.
func ClassificationReport(yTrue, yPred *mat.VecDense, classNames []string) (*Report, error) {
	s, err := PrecisionRecallFScorePerClass(yTrue, yPred, len(classNames))
	if err != nil {
		return nil, err
	}
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return nil, err
	}

	rep := &Report{Accuracy: acc}
	total := 0
	for c := range s.Support {
		label := strconv.Itoa(c)
		if c < len(classNames) {
			label = classNames[c]
		}
		rep.Classes = append(rep.Classes, ReportRow{
			Label:     label,
			Precision: s.Precision[c],
			Recall:    s.Recall[c],
			F1:        s.F1[c],
			Support:   s.Support[c],
		})
		total += s.Support[c]
	}
	rep.MacroAvg = ReportRow{
		Label:     "macro avg",
		Precision: s.average(s.Precision, AverageMacro),
		Recall:    s.average(s.Recall, AverageMacro),
		F1:        s.average(s.F1, AverageMacro),
		Support:   total,
	}
	rep.WeightedAvg = ReportRow{
		Label:     "weighted avg",
		Precision: s.average(s.Precision, AverageWeighted),
		Recall:    s.average(s.Recall, AverageWeighted),
		F1:        s.average(s.F1, AverageWeighted),
		Support:   total,
	}
	return rep, nil
}

func f2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// Render writes the report as a text table.
func (r *Report) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"", "precision", "recall", "f1-score", "support"})
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	row := func(rr ReportRow) []string {
		return []string{rr.Label, f2(rr.Precision), f2(rr.Recall), f2(rr.F1), strconv.Itoa(rr.Support)}
	}
	for _, rr := range r.Classes {
		table.Append(row(rr))
	}
	table.Append([]string{"accuracy", "", "", f2(r.Accuracy), strconv.Itoa(r.WeightedAvg.Support)})
	table.Append(row(r.MacroAvg))
	table.Append(row(r.WeightedAvg))
	table.Render()
}

// RenderConfusionMatrix writes cm with class names on both axes.
func RenderConfusionMatrix(w io.Writer, cm mat.Matrix, classNames []string) {
	rows, cols := cm.Dims()
	name := func(i int) string {
		if i < len(classNames) {
			return classNames[i]
		}
		return strconv.Itoa(i)
	}

	header := []string{"true \\ pred"}
	for j := 0; j < cols; j++ {
		header = append(header, name(j))
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for i := 0; i < rows; i++ {
		line := []string{name(i)}
		for j := 0; j < cols; j++ {
			line = append(line, strconv.Itoa(int(cm.At(i, j))))
		}
		table.Append(line)
	}
	table.Render()
}
