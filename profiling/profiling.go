// Package profiling accumulates per-operator-kind execution statistics for
// the edgeinfer engine.
//
// Counters exist only in binaries built with the "profile" tag. Without it
// Enabled is false, Counters is an empty struct and every method is a no-op,
// so the instrumentation in the engine compiles away:
//
//	go build -tags profile ./cmd/edgerun
//
// Each report covers the invocations since the previous ReportAndReset.
// Throughput is operations per second of measured time; intensity is bytes of
// memory traffic per operation. Operation and byte counts are the static
// estimates kernels compute while preparing.
package profiling

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/sbl8/edgeinfer/model"
)

// KindReport summarizes one operator kind.
type KindReport struct {
	Kind       model.OpKind
	Calls      int64
	Elapsed    time.Duration
	Ops        int64
	Bytes      int64
	Throughput float64 // ops per second
	Intensity  float64 // bytes per op
}

// Report is the result of one ReportAndReset.
type Report struct {
	Invocations int64
	Total       time.Duration
	Kinds       []KindReport
}

func newKindReport(kind model.OpKind, calls int64, elapsed time.Duration, ops, bytes int64) KindReport {
	r := KindReport{Kind: kind, Calls: calls, Elapsed: elapsed, Ops: ops, Bytes: bytes}
	if s := elapsed.Seconds(); s > 0 {
		r.Throughput = float64(ops) / s
	}
	if ops > 0 {
		r.Intensity = float64(bytes) / float64(ops)
	}
	return r
}

// Empty reports whether nothing was recorded.
func (r Report) Empty() bool {
	return r.Invocations == 0 && len(r.Kinds) == 0
}

// Log writes one record per kind plus a total.
func (r Report) Log(logger *slog.Logger) {
	for _, k := range r.Kinds {
		logger.Info("operator profile",
			"kind", k.Kind.String(),
			"calls", k.Calls,
			"elapsed", k.Elapsed,
			"ops", k.Ops,
			"bytes", k.Bytes,
			"ops_per_sec", fmt.Sprintf("%.0f", k.Throughput),
			"bytes_per_op", fmt.Sprintf("%.4f", k.Intensity))
	}
	logger.Info("invoke profile", "invocations", r.Invocations, "total", r.Total)
}

// WriteTable renders the report in the tab-aligned layout used by the CLIs.
func (r Report) WriteTable(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"KIND", "CALLS", "ELAPSED", "OPS", "BYTES", "OPS/S", "BYTES/OP"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	var data [][]string
	for _, k := range r.Kinds {
		data = append(data, []string{
			k.Kind.String(),
			fmt.Sprint(k.Calls),
			k.Elapsed.String(),
			fmt.Sprint(k.Ops),
			fmt.Sprint(k.Bytes),
			fmt.Sprintf("%.3g", k.Throughput),
			fmt.Sprintf("%.4f", k.Intensity),
		})
	}
	data = append(data, []string{"TOTAL", fmt.Sprint(r.Invocations), r.Total.String(), "", "", "", ""})
	table.AppendBulk(data)
	table.Render()
}
