package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/linecount/internal/httputil"
	"github.com/banshee-data/linecount/internal/pipeline"
	"github.com/banshee-data/linecount/internal/report"
)

// countsBar builds a grouped bar chart of per-class tallies.
func countsBar(view pipeline.View) *charts.Bar {
	labels := view.Counts.Labels()
	fwd := make([]opts.BarData, 0, len(labels))
	bwd := make([]opts.BarData, 0, len(labels))
	for _, label := range labels {
		fwd = append(fwd, opts.BarData{Value: view.Counts.Forward[label]})
		bwd = append(bwd, opts.BarData{Value: view.Counts.Backward[label]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Line crossings", Width: "100%", Height: "560px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Crossings: %s", view.StreamID),
			Subtitle: summary(view),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
	)
	bar.SetXAxis(labels).
		AddSeries("forward", fwd, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("backward", bwd, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

func summary(view pipeline.View) string {
	return fmt.Sprintf("forward=%d backward=%d frames=%d active tracks=%d",
		view.Counts.TotalForward, view.Counts.TotalBackward, view.Frames, view.ActiveTracks)
}

func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}

	page := components.NewPage()
	page.AddCharts(countsBar(p.Snapshot()))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) showChartPNG(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}
	view := p.Snapshot()

	var buf bytes.Buffer
	if err := report.WritePNG(&buf, view.StreamID, view.Counts); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
