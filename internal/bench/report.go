package bench

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
)

// Result summarizes one benchmark run. It is assembled by the aggregator
// and never mutated after Run returns. Percentiles are computed from
// successful requests' latencies only.
type Result struct {
	RunID       string
	Concurrency int

	Issued    int
	Succeeded int
	Failed    int

	Elapsed time.Duration
	// Throughput is successful requests per second of wall time.
	Throughput float64

	AvgMS float64
	P50MS float64
	P90MS float64
	P99MS float64
	MaxMS float64

	// ErrorSample holds the first failure's message, if any.
	ErrorSample string

	latencies []time.Duration
	sortedMS  []float64
}

// finalize derives the summary statistics once all workers have stopped.
func (r *Result) finalize() {
	if r.Elapsed > 0 {
		r.Throughput = float64(r.Succeeded) / r.Elapsed.Seconds()
	}
	if len(r.latencies) == 0 {
		return
	}
	ms := make([]float64, len(r.latencies))
	var sum float64
	var max float64
	for i, d := range r.latencies {
		v := float64(d) / float64(time.Millisecond)
		ms[i] = v
		sum += v
		if v > max {
			max = v
		}
	}
	sort.Float64s(ms)
	r.sortedMS = ms
	r.AvgMS = sum / float64(len(ms))
	r.MaxMS = max
	r.P50MS = stat.Quantile(0.50, stat.Empirical, ms, nil)
	r.P90MS = stat.Quantile(0.90, stat.Empirical, ms, nil)
	r.P99MS = stat.Quantile(0.99, stat.Empirical, ms, nil)
}

// SuccessRate is in [0, 1].
func (r Result) SuccessRate() float64 {
	if r.Issued == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Issued)
}

// Summary renders the one-line human report.
func (r Result) Summary(tag string) string {
	s := fmt.Sprintf("[%s] ok=%d/%d succ=%.1f%% rps=%.2f avg=%.1fms p50=%.1fms p90=%.1fms p99=%.1fms max=%.1fms",
		tag, r.Succeeded, r.Issued, r.SuccessRate()*100, r.Throughput,
		r.AvgMS, r.P50MS, r.P90MS, r.P99MS, r.MaxMS)
	if r.ErrorSample != "" {
		sample := r.ErrorSample
		if len(sample) > 200 {
			sample = sample[:200]
		}
		s += "\n  err_sample: " + sample
	}
	return s
}

// WriteChart renders the sorted latency distribution of successful
// requests as a standalone HTML chart.
func (r Result) WriteChart(path, tag string) error {
	if len(r.sortedMS) == 0 {
		return fmt.Errorf("bench: no successful requests to chart")
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s latency distribution", tag),
			Subtitle: fmt.Sprintf("run %s, concurrency %d, %d ok / %d issued", r.RunID, r.Concurrency, r.Succeeded, r.Issued),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "percentile"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "latency (ms)", Type: "value"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
	)

	n := len(r.sortedMS)
	xLabels := make([]string, n)
	data := make([]opts.LineData, n)
	for i, v := range r.sortedMS {
		xLabels[i] = fmt.Sprintf("%.1f", float64(i+1)/float64(n)*100)
		data[i] = opts.LineData{Value: v}
	}
	line.SetXAxis(xLabels).AddSeries("latency", data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
	)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}
