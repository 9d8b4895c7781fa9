// Package render builds chart options for stimuli drawn from chart data.
package render

import (
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kiliankoe/chartrecall/internal/stimulus"
)

const (
	seriesA = "A"
	seriesB = "B"
)

// BarChart draws one bar per point for ValueA and, when any point has one,
// a second series for ValueB. Unparsable values are left as gaps.
func BarChart(title string, points []stimulus.ChartPoint) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(false)}),
	)

	labels := make([]string, 0, len(points))
	a := make([]opts.BarData, 0, len(points))
	var b []opts.BarData
	hasB := false
	for _, p := range points {
		if p.ValueB != nil {
			hasB = true
		}
	}
	for _, p := range points {
		labels = append(labels, p.Label)
		a = append(a, barData(p.Label, p.ValueA, p.ColorA))
		if hasB {
			b = append(b, barData(p.Label, p.ValueB, p.ColorB))
		}
	}

	bar.SetXAxis(labels).AddSeries(seriesA, a)
	if hasB {
		bar.AddSeries(seriesB, b)
		bar.SetGlobalOptions(charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}))
	}
	return bar
}

func barData(name string, v *float64, color string) opts.BarData {
	d := opts.BarData{Name: name}
	if v != nil {
		d.Value = *v
	} else {
		d.Value = "-"
	}
	if color != "" {
		d.ItemStyle = &opts.ItemStyle{Color: color}
	}
	return d
}

// BarOptions returns the echarts option object for the points.
func BarOptions(title string, points []stimulus.ChartPoint) map[string]interface{} {
	return BarChart(title, points).JSON()
}
