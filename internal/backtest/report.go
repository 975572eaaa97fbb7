package backtest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	reportWidth  = "1400px"
	reportHeight = "520px"

	colorEquity = "#3b82f6"
	colorWin    = "#34d399"
	colorLoss   = "#f87171"
)

// RenderReport writes a self-contained HTML report for one run: the equity
// curve plus the realized P&L of each closed position.
func RenderReport(w io.Writer, res *Result) error {
	if res == nil {
		return fmt.Errorf("nil result")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart(res), pnlChart(res))
	return page.Render(w)
}

// WriteReportFile renders the report into dir and returns the file path.
func WriteReportFile(dir string, res *Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.html", res.ID))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := RenderReport(f, res); err != nil {
		return "", err
	}
	return path, nil
}

func equityChart(res *Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  reportWidth,
			Height: reportHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s %s equity", strings.ToUpper(res.Symbol), res.Timeframe),
			Subtitle: fmt.Sprintf("return %s%% | max drawdown %s%% | sharpe %s | trades %d",
				res.Metrics.TotalReturnPct.StringFixed(2),
				res.Metrics.MaxDrawdownPct.StringFixed(2),
				res.Metrics.SharpeRatio.StringFixed(2),
				res.Metrics.TotalTrades),
			Left: "left",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)

	x := make([]string, len(res.Equity))
	data := make([]opts.LineData, len(res.Equity))
	for i, pt := range res.Equity {
		x[i] = pt.Time.UTC().Format("01-02 15:04")
		data[i] = opts.LineData{Value: pt.Equity.InexactFloat64()}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func pnlChart(res *Result) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  reportWidth,
			Height: reportHeight,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Realized P&L per position", Left: "left"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)

	x := make([]string, len(res.Positions))
	data := make([]opts.BarData, len(res.Positions))
	for i, pos := range res.Positions {
		x[i] = pos.ExitTime.UTC().Format("01-02 15:04")
		color := colorLoss
		if pos.PnL.IsPositive() {
			color = colorWin
		}
		data[i] = opts.BarData{
			Value:     pos.PnL.InexactFloat64(),
			ItemStyle: &opts.ItemStyle{Color: color},
		}
	}
	bar.SetXAxis(x)
	bar.AddSeries("PnL", data)
	return bar
}
