package loadtest

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/analogview/internal/output"
)

// ErrThresholdsFailed は閾値を満たさなかったことを表す。
var ErrThresholdsFailed = errors.New("load test thresholds failed")

type recorder struct {
	mu        sync.Mutex
	durations []time.Duration
	failures  int
}

func (rec *recorder) add(d time.Duration, ok bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.durations = append(rec.durations, d)
	if !ok {
		rec.failures++
	}
}

func (rec *recorder) snapshot() ([]time.Duration, int) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return slices.Clone(rec.durations), rec.failures
}

// Stats はリクエストの集計値。
type Stats struct {
	Name     string
	Requests int
	Failures int
	Avg      time.Duration
	P50      time.Duration
	P95      time.Duration
	Max      time.Duration
}

// FailureRate は失敗率を返す。リクエストがなければ0。
func (s Stats) FailureRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Requests)
}

func newStats(name string, durations []time.Duration, failures int) Stats {
	st := Stats{Name: name, Requests: len(durations), Failures: failures}
	if len(durations) == 0 {
		return st
	}
	slices.Sort(durations)
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	st.Avg = sum / time.Duration(len(durations))
	st.P50 = percentile(durations, 0.50)
	st.P95 = percentile(durations, 0.95)
	st.Max = durations[len(durations)-1]
	return st
}

// percentile はソート済みのsortedから最近傍順位法でp分位を返す。
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// ThresholdResult は1つの閾値の判定結果。
type ThresholdResult struct {
	Name   string
	Limit  string
	Actual string
	Passed bool
}

// Report は負荷試験の結果。
type Report struct {
	Scenarios  []Stats
	Total      Stats
	Thresholds []ThresholdResult
	Elapsed    time.Duration
}

// Passed はすべての閾値を満たしたかを返す。
func (r *Report) Passed() bool {
	for _, t := range r.Thresholds {
		if !t.Passed {
			return false
		}
	}
	return true
}

func (r *Runner) buildReport(elapsed time.Duration) *Report {
	report := &Report{Elapsed: elapsed}
	var all []time.Duration
	failures := 0
	for _, s := range r.config.Scenarios {
		durations, failed := r.recorders[s].snapshot()
		all = append(all, durations...)
		failures += failed
		report.Scenarios = append(report.Scenarios, newStats(string(s), durations, failed))
	}
	report.Total = newStats("total", all, failures)
	report.Thresholds = evaluate(report.Total, r.config.Thresholds)
	return report
}

// evaluate は集計値を閾値と比較する。1件も計測できなかった場合は不合格とする。
func evaluate(total Stats, th Thresholds) []ThresholdResult {
	measured := total.Requests > 0
	return []ThresholdResult{
		{
			Name:   "http_req_failed",
			Limit:  "rate<" + strconv.FormatFloat(th.MaxFailureRate, 'f', -1, 64),
			Actual: fmt.Sprintf("%.4f", total.FailureRate()),
			Passed: measured && total.FailureRate() < th.MaxFailureRate,
		},
		{
			Name:   "http_req_duration",
			Limit:  "p(95)<" + formatMillis(th.P95),
			Actual: formatMillis(total.P95),
			Passed: measured && total.P95 < th.P95,
		},
	}
}

// Render は結果を表で出力する。
func (r *Report) Render(p *output.Printer) error {
	p.Header("Scenarios")
	table := p.Table("scenario", "requests", "failed", "avg", "p50", "p95", "max")
	for _, st := range append(slices.Clone(r.Scenarios), r.Total) {
		name := st.Name
		if name == "total" {
			name = p.Bold(name)
		}
		table.AddRow(
			name,
			strconv.Itoa(st.Requests),
			fmt.Sprintf("%d (%.2f%%)", st.Failures, st.FailureRate()*100),
			formatMillis(st.Avg),
			formatMillis(st.P50),
			formatMillis(st.P95),
			formatMillis(st.Max),
		)
	}
	if err := table.Render(); err != nil {
		return err
	}

	p.Header("Thresholds")
	table = p.Table("metric", "limit", "actual", "result")
	for _, t := range r.Thresholds {
		table.AddRow(t.Name, t.Limit, t.Actual, p.Badge(t.Passed))
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintln(p.Writer())
	if r.Passed() {
		p.Success("all thresholds passed in %s", r.Elapsed.Round(time.Millisecond))
	} else {
		p.Failure("thresholds failed after %s", r.Elapsed.Round(time.Millisecond))
	}
	return nil
}

func formatMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Microseconds())/1000, 'f', 1, 64) + "ms"
}
