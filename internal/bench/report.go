package bench

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

// Report 汇总整个基准测试的样本。
type Report struct {
	Samples []Sample
}

// Summary 是同一后端、同一测量方式下所有成功样本的统计。
type Summary struct {
	Backend    string
	Mode       Mode
	Tasks      int
	Runs       int
	Failed     int
	Min        time.Duration
	Mean       time.Duration
	Max        time.Duration
	Throughput float64
	LastError  error
}

// Add 追加一个样本。
func (r *Report) Add(sample Sample) {
	r.Samples = append(r.Samples, sample)
}

// Failed 返回失败样本的数量。
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Samples {
		if !s.OK() {
			n++
		}
	}
	return n
}

// Summaries 按样本首次出现的顺序返回每个后端与测量方式的统计。
func (r *Report) Summaries() []Summary {
	type key struct {
		backend string
		mode    Mode
	}
	var (
		order  []key
		groups = make(map[key]*Summary)
		totals = make(map[key]time.Duration)
	)
	for _, s := range r.Samples {
		k := key{s.Backend, s.Mode}
		sum, ok := groups[k]
		if !ok {
			sum = &Summary{Backend: s.Backend, Mode: s.Mode, Tasks: s.Tasks}
			groups[k] = sum
			order = append(order, k)
		}
		if !s.OK() {
			sum.Failed++
			sum.LastError = s.Err
			continue
		}
		if sum.Runs == 0 || s.Elapsed < sum.Min {
			sum.Min = s.Elapsed
		}
		if s.Elapsed > sum.Max {
			sum.Max = s.Elapsed
		}
		sum.Runs++
		totals[k] += s.Elapsed
	}

	out := make([]Summary, 0, len(order))
	for _, k := range order {
		sum := groups[k]
		if sum.Runs > 0 {
			sum.Mean = totals[k] / time.Duration(sum.Runs)
			if sum.Mean > 0 {
				sum.Throughput = float64(sum.Tasks) / sum.Mean.Seconds()
			}
		}
		out = append(out, *sum)
	}
	return out
}

// Render 以表格形式输出统计结果。
func (r *Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"backend", "mode", "tasks", "runs", "failed", "min", "mean", "max", "tasks/s"})
	for _, s := range r.Summaries() {
		t.AppendRow(table.Row{
			s.Backend,
			string(s.Mode),
			s.Tasks,
			s.Runs,
			s.Failed,
			formatDuration(s.Min),
			formatDuration(s.Mean),
			formatDuration(s.Max),
			fmt.Sprintf("%.0f", s.Throughput),
		})
	}
	t.Render()
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Microsecond).String()
}
