package report

import (
	"github.com/YuminosukeSato/mlproject/metrics"
	"github.com/YuminosukeSato/mlproject/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// renderChart draws one group of four bars per model.
func renderChart(rows []Row, path string) error {
	p := plot.New()
	p.Title.Text = "Model comparison"
	p.Y.Label.Text = "score"
	p.Y.Min, p.Y.Max = 0, 1

	series := []struct {
		name  string
		value func(Row) float64
	}{
		{metrics.KeyAccuracy, func(r Row) float64 { return r.Accuracy }},
		{metrics.KeyPrecision, func(r Row) float64 { return r.Precision }},
		{metrics.KeyRecall, func(r Row) float64 { return r.Recall }},
		{metrics.KeyF1, func(r Row) float64 { return r.F1 }},
	}

	width := vg.Points(12)
	for i, s := range series {
		values := make(plotter.Values, len(rows))
		for j, r := range rows {
			values[j] = s.value(r)
		}
		bars, err := plotter.NewBarChart(values, width)
		if err != nil {
			return errors.Wrapf(err, "bar chart %s", s.name)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(i)
		bars.Offset = width * vg.Length(2*i-len(series)+1) / 2
		p.Add(bars)
		p.Legend.Add(s.name, bars)
	}
	p.Legend.Top = true

	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Model
	}
	p.NominalX(names...)

	w := vg.Length(len(rows)) * 5 * width
	if w < 6*vg.Inch {
		w = 6 * vg.Inch
	}
	if err := p.Save(w, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save chart %s", path)
	}
	return nil
}
