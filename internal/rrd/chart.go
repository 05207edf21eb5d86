// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package rrd

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"math"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/tomtom215/letterbox/internal/timeseries"
)

var (
	colorSensor    = drawing.ColorFromHex("1f77b4")
	colorThreshold = drawing.ColorFromHex("d62728")
	colorState     = drawing.ColorFromHex("2ca02c")
	colorTemp      = drawing.ColorFromHex("ff7f0e")
)

// series is one named line of a chart.
type series struct {
	name  string
	color drawing.Color
	xs    []time.Time
	ys    []float64
}

func collect(name string, color drawing.Color, buckets []timeseries.Bucket, value func(timeseries.Bucket) *float64) series {
	s := series{name: name, color: color}
	for _, b := range buckets {
		if v := value(b); v != nil && !math.IsNaN(*v) {
			s.xs = append(s.xs, b.Start)
			s.ys = append(s.ys, *v)
		}
	}
	return s
}

// yRange returns an axis range covering all series with some headroom.
// A flat series still gets a non-empty range.
func yRange(series []series, floor, ceil *float64) *chart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, y := range s.ys {
			lo, hi = math.Min(lo, y), math.Max(hi, y)
		}
	}
	if floor != nil {
		lo = math.Min(lo, *floor)
	}
	if ceil != nil {
		hi = math.Max(hi, *ceil)
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = 1
	}
	if floor == nil || lo < *floor {
		lo -= pad
	}
	if ceil == nil || hi > *ceil {
		hi += pad
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}

type renderer struct {
	width, height int
}

// render draws the series that have at least two points. ok is false when
// none has.
func (r renderer) render(title, layout string, yr func([]series) *chart.ContinuousRange, all ...series) (uri string, ok bool, err error) {
	var drawable []series
	for _, s := range all {
		if len(s.xs) >= 2 {
			drawable = append(drawable, s)
		}
	}
	if len(drawable) == 0 {
		return "", false, nil
	}

	graph := chart.Chart{
		Title:  title,
		Width:  r.width,
		Height: r.height,
		Background: chart.Style{
			Padding: chart.Box{Top: 30, Left: 10, Right: 10, Bottom: 10},
		},
		XAxis: chart.XAxis{ValueFormatter: chart.TimeValueFormatterWithFormat(layout)},
		YAxis: chart.YAxis{Range: yr(drawable)},
	}
	for _, s := range drawable {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    s.name,
			XValues: s.xs,
			YValues: s.ys,
			Style:   chart.Style{StrokeColor: s.color, StrokeWidth: 2},
		})
	}
	if len(drawable) > 1 {
		graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return "", false, fmt.Errorf("render %s chart: %w", title, err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), true, nil
}

func (r renderer) img(uri, alt string) string {
	return fmt.Sprintf(`<img src="%s" width="%d" height="%d" alt="%s">`, uri, r.width, r.height, html.EscapeString(alt))
}
